// Package state persists cell outputs and execution history in SQLite so a
// notebook reopened later starts from its previous results instead of from
// scratch. Value blobs are zstd-compressed. The store is versioned: rows
// written by an incompatible schema are treated as absent, never as errors.
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is stamped on every output row. Bump it when the encoded
// value format changes; old rows then silently read as "no stored output".
const SchemaVersion = 1

// Output is one persisted cell result.
type Output struct {
	CellName   string
	SourceHash string
	ReturnType string
	Value      []byte
	Display    string
	Hash       string
	Duration   time.Duration
	When       time.Time
}

// HistoryEntry is one execution record, successful or not.
type HistoryEntry struct {
	CellName   string
	Source     string
	SourceHash string
	Value      []byte
	Display    string
	Hash       string
	Duration   time.Duration
	Err        string
	When       time.Time
}

// Store is the SQLite persistence layer for one notebook.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	// historyLimit and historyBytes bound retained entries per cell, by
	// count and by stored blob size.
	historyLimit int
	historyBytes int64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHistoryLimit overrides the per-cell history cap (default 10).
func WithHistoryLimit(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithHistoryByteLimit overrides the per-cell cap on stored history
// value bytes (default 64MB). The newest entry is always kept.
func WithHistoryByteLimit(n int64) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.historyBytes = n
		}
	}
}

// Open opens (or creates) the notebook database at dbPath with WAL mode
// enabled and runs migrations.
func Open(dbPath string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}

	s := &Store{db: db, enc: enc, dec: dec, historyLimit: 10, historyBytes: 64 << 20}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS outputs (
  cell_name       TEXT PRIMARY KEY,
  source_hash     TEXT NOT NULL,
  return_type     TEXT,
  value           BLOB,
  display         TEXT,
  output_hash     TEXT NOT NULL,
  duration_ns     INTEGER,
  schema_version  INTEGER NOT NULL,
  created_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS history (
  id              INTEGER PRIMARY KEY,
  cell_name       TEXT NOT NULL,
  source          TEXT NOT NULL,
  source_hash     TEXT NOT NULL,
  value           BLOB,
  display         TEXT,
  output_hash     TEXT,
  duration_ns     INTEGER,
  error           TEXT,
  schema_version  INTEGER NOT NULL,
  created_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT
);

CREATE INDEX IF NOT EXISTS idx_history_cell ON history(cell_name, id);
`

// SaveOutput upserts the current output for a cell.
func (s *Store) SaveOutput(o *Output) error {
	_, err := s.db.Exec(`
		INSERT INTO outputs (cell_name, source_hash, return_type, value, display, output_hash, duration_ns, schema_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cell_name) DO UPDATE SET
		  source_hash = excluded.source_hash,
		  return_type = excluded.return_type,
		  value = excluded.value,
		  display = excluded.display,
		  output_hash = excluded.output_hash,
		  duration_ns = excluded.duration_ns,
		  schema_version = excluded.schema_version,
		  created_at = excluded.created_at`,
		o.CellName, o.SourceHash, o.ReturnType,
		s.enc.EncodeAll(o.Value, nil), o.Display, o.Hash,
		o.Duration.Nanoseconds(), SchemaVersion, o.When)
	if err != nil {
		return fmt.Errorf("save output for %s: %w", o.CellName, err)
	}
	return nil
}

// LoadOutput returns the stored output for a cell, or (nil, nil) when no
// usable output exists. An undecodable or wrong-version row is not an
// error, just an absent output.
func (s *Store) LoadOutput(cellName string) (*Output, error) {
	row := s.db.QueryRow(`
		SELECT source_hash, return_type, value, display, output_hash, duration_ns, schema_version, created_at
		FROM outputs WHERE cell_name = ?`, cellName)
	o, err := s.scanOutput(cellName, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load output for %s: %w", cellName, err)
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOutput(cellName string, row rowScanner) (*Output, error) {
	var (
		o       = Output{CellName: cellName}
		blob    []byte
		durNs   int64
		version int
	)
	err := row.Scan(&o.SourceHash, &o.ReturnType, &blob, &o.Display, &o.Hash, &durNs, &version, &o.When)
	if err != nil {
		return nil, err
	}
	if version != SchemaVersion {
		return nil, nil
	}
	value, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, nil
	}
	o.Value = value
	o.Duration = time.Duration(durNs)
	return &o, nil
}

// LoadAll returns every usable stored output keyed by cell name.
func (s *Store) LoadAll() (map[string]*Output, error) {
	rows, err := s.db.Query(`
		SELECT cell_name, source_hash, return_type, value, display, output_hash, duration_ns, schema_version, created_at
		FROM outputs`)
	if err != nil {
		return nil, fmt.Errorf("load outputs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Output)
	for rows.Next() {
		var (
			name    string
			o       Output
			blob    []byte
			durNs   int64
			version int
		)
		if err := rows.Scan(&name, &o.SourceHash, &o.ReturnType, &blob, &o.Display, &o.Hash, &durNs, &version, &o.When); err != nil {
			return nil, fmt.Errorf("scan output row: %w", err)
		}
		if version != SchemaVersion {
			continue
		}
		value, err := s.dec.DecodeAll(blob, nil)
		if err != nil {
			continue
		}
		o.CellName = name
		o.Value = value
		o.Duration = time.Duration(durNs)
		out[name] = &o
	}
	return out, rows.Err()
}

// DeleteOutput removes the stored output for one cell.
func (s *Store) DeleteOutput(cellName string) error {
	if _, err := s.db.Exec(`DELETE FROM outputs WHERE cell_name = ?`, cellName); err != nil {
		return fmt.Errorf("delete output for %s: %w", cellName, err)
	}
	return nil
}

// ClearOutputs removes every stored output while leaving history intact.
func (s *Store) ClearOutputs() error {
	if _, err := s.db.Exec(`DELETE FROM outputs`); err != nil {
		return fmt.Errorf("clear outputs: %w", err)
	}
	return nil
}

// AppendHistory records one execution and trims the cell's ring to the
// configured limit, oldest entries first.
func (s *Store) AppendHistory(e *HistoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO history (cell_name, source, source_hash, value, display, output_hash, duration_ns, error, schema_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CellName, e.Source, e.SourceHash,
		s.enc.EncodeAll(e.Value, nil), e.Display, e.Hash,
		e.Duration.Nanoseconds(), e.Err, SchemaVersion, e.When)
	if err != nil {
		return fmt.Errorf("append history for %s: %w", e.CellName, err)
	}

	_, err = tx.Exec(`
		DELETE FROM history WHERE cell_name = ? AND id NOT IN (
		  SELECT id FROM history WHERE cell_name = ? ORDER BY id DESC LIMIT ?
		)`, e.CellName, e.CellName, s.historyLimit)
	if err != nil {
		return fmt.Errorf("trim history for %s: %w", e.CellName, err)
	}

	// Byte trim, oldest first, keeping the newest entry unconditionally.
	_, err = tx.Exec(`
		DELETE FROM history WHERE cell_name = ? AND id NOT IN (
		  SELECT id FROM (
		    SELECT id, SUM(COALESCE(LENGTH(value), 0)) OVER (ORDER BY id DESC) AS total
		    FROM history WHERE cell_name = ?
		  ) WHERE total <= ? OR id = (SELECT MAX(id) FROM history WHERE cell_name = ?)
		)`, e.CellName, e.CellName, s.historyBytes, e.CellName)
	if err != nil {
		return fmt.Errorf("trim history bytes for %s: %w", e.CellName, err)
	}
	return tx.Commit()
}

// History returns a cell's retained execution records, newest first.
// Entries written by an incompatible schema are skipped.
func (s *Store) History(cellName string) ([]*HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT source, source_hash, value, display, output_hash, duration_ns, error, schema_version, created_at
		FROM history WHERE cell_name = ? ORDER BY id DESC`, cellName)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", cellName, err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var (
			e       = HistoryEntry{CellName: cellName}
			blob    []byte
			durNs   int64
			version int
		)
		if err := rows.Scan(&e.Source, &e.SourceHash, &blob, &e.Display, &e.Hash, &durNs, &e.Err, &version, &e.When); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if version != SchemaVersion {
			continue
		}
		value, err := s.dec.DecodeAll(blob, nil)
		if err != nil {
			continue
		}
		e.Value = value
		e.Duration = time.Duration(durNs)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// SetMeta stores one metadata key.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// GetMeta returns one metadata key, or "" when unset.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}
