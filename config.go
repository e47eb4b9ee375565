package venus

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds engine settings. Zero values fall back to defaults, so a
// partial YAML file is enough.
type Config struct {
	// DataDir holds the notebook database, build workspace, and artifact
	// cache. Defaults to .venus next to the notebook.
	DataDir string `yaml:"data_dir"`

	// Backend selects the compilation backend: "fast" or "full".
	Backend string `yaml:"backend"`

	// Parallelism bounds concurrent worker processes.
	Parallelism int `yaml:"parallelism"`

	// ExecTimeout bounds one cell execution. Zero means no timeout.
	ExecTimeout time.Duration `yaml:"exec_timeout"`

	// HistoryLimit bounds retained execution records per cell.
	HistoryLimit int `yaml:"history_limit"`

	// UndoLimit bounds the undo stack depth.
	UndoLimit int `yaml:"undo_limit"`

	// WorkerBin is the venus-worker binary. Defaults to venus-worker
	// next to the running executable, falling back to PATH lookup.
	WorkerBin string `yaml:"worker_bin"`

	// Listen is the WebSocket server address.
	Listen string `yaml:"listen"`

	// GoBin overrides the go tool used for cell builds.
	GoBin string `yaml:"go_bin"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Backend:      string(BackendFast),
		Parallelism:  runtime.NumCPU(),
		ExecTimeout:  5 * time.Minute,
		HistoryLimit: 10,
		UndoLimit:    50,
		Listen:       "127.0.0.1:8797",
		LogLevel:     "info",
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file
// is not an error; it just yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch Backend(c.Backend) {
	case BackendFast, BackendFull, "":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	return nil
}

// dataDirFor resolves the data directory for a notebook path.
func (c *Config) dataDirFor(notebookPath string) string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Join(filepath.Dir(notebookPath), ".venus")
}
