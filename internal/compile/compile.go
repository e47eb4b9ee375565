// Package compile turns cells into loadable artifacts. Artifacts are Go
// plugins named by content hash, built by one of two backends and kept in a
// cache directory with insert-then-evict-superseded semantics.
package compile

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
	"lukechampine.com/blake3"

	"github.com/ml-rust/venus/internal/cell"
)

// Backend selects the code generator for one compilation.
type Backend string

const (
	// BackendFast disables optimization and inlining for sub-second
	// iterative builds.
	BackendFast Backend = "fast"
	// BackendFull builds with full optimization for final runs. Both
	// backends emit plugins from the same toolchain, so modules from
	// either are loadable by the same worker.
	BackendFull Backend = "full"
)

// backendFlags returns extra go build arguments per backend.
func backendFlags(b Backend) []string {
	switch b {
	case BackendFull:
		return []string{"-trimpath"}
	default:
		return []string{"-gcflags=all=-N -l"}
	}
}

// Artifact is one successfully compiled version of one cell. For a given
// (cell, source hash, defs hash, backend) key the artifact file is
// immutable and reusable indefinitely.
type Artifact struct {
	CellName    string
	SourceHash  string
	DefsHash    string
	Backend     Backend
	Path        string
	EntrySymbol string
	CompileTime time.Duration
	Cached      bool
}

// Verifier confirms a freshly built artifact is loadable before the
// pipeline evicts its predecessors. Typically backed by a throwaway
// worker that loads the plugin and exits.
type Verifier func(ctx context.Context, a *Artifact) error

// Pipeline compiles cells and manages the artifact cache. Concurrent
// compilations of different cells proceed independently; requests for the
// same key collapse to a single build.
type Pipeline struct {
	buildDir string
	cacheDir string
	goBin    string
	verify   Verifier
	group    singleflight.Group
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGoBinary overrides the go tool used for builds.
func WithGoBinary(path string) Option {
	return func(p *Pipeline) { p.goBin = path }
}

// WithVerifier installs the loadability check run before eviction.
func WithVerifier(v Verifier) Option {
	return func(p *Pipeline) { p.verify = v }
}

// NewPipeline creates a pipeline writing generated sources under buildDir
// and finished artifacts under cacheDir. Both directories are created.
func NewPipeline(buildDir, cacheDir string, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{buildDir: buildDir, cacheDir: cacheDir, goBin: "go"}
	for _, opt := range opts {
		opt(p)
	}
	for _, dir := range []string{buildDir, cacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	modFile := filepath.Join(buildDir, "go.mod")
	if _, err := os.Stat(modFile); os.IsNotExist(err) {
		mod := "module venusbuild\n\ngo 1.25\n"
		if err := os.WriteFile(modFile, []byte(mod), 0o644); err != nil {
			return nil, fmt.Errorf("write build module file: %w", err)
		}
	}
	return p, nil
}

// DefsHash hashes the definition cells that every compiled cell links
// against. Editing a definition changes the hash, and with it every
// artifact key, without touching any cell's own source hash.
func DefsHash(defs []*cell.Cell) string {
	h := blake3.New(32, nil)
	for _, d := range defs {
		h.Write([]byte(d.Name))
		h.Write([]byte{0})
		h.Write([]byte(d.Source))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// artifactName builds the deterministic on-disk name for a key. Reverting
// a cell to any previously seen source text reproduces the same name, so
// a revert is always a cache hit while the old artifact survives.
func artifactName(name, sourceHash, defsHash string, backend Backend) string {
	return fmt.Sprintf("%s-%s-%s-%s.so", name, sourceHash[:16], defsHash[:8], backend)
}

// Compile produces an artifact for c, compiled against the given
// definition cells. A cached artifact is returned without invoking the
// backend or touching the filesystem.
func (p *Pipeline) Compile(ctx context.Context, c *cell.Cell, defs []*cell.Cell, backend Backend) (*Artifact, error) {
	if c.Kind != cell.KindRunnable {
		return nil, fmt.Errorf("cell %q is not runnable", c.Name)
	}
	sourceHash := c.SourceHash
	if sourceHash == "" {
		sourceHash = cell.HashSource(c.Source)
	}
	defsHash := DefsHash(defs)
	name := artifactName(c.Name, sourceHash, defsHash, backend)
	path := filepath.Join(p.cacheDir, name)

	art := &Artifact{
		CellName:    c.Name,
		SourceHash:  sourceHash,
		DefsHash:    defsHash,
		Backend:     backend,
		Path:        path,
		EntrySymbol: EntrySymbol(c.Name),
	}

	if _, err := os.Stat(path); err == nil {
		art.Cached = true
		return art, nil
	}

	// At most one concurrent build per key; losers of the race reuse the
	// winner's artifact.
	_, err, _ := p.group.Do(name, func() (any, error) {
		if _, err := os.Stat(path); err == nil {
			return nil, nil
		}
		return nil, p.build(ctx, c, defs, backend, art)
	})
	if err != nil {
		return nil, err
	}
	return art, nil
}

// build generates wrapper source, invokes the backend, verifies the new
// artifact, and only then evicts superseded artifacts for the same
// (cell, backend) pair. Never delete-before-insert: there is no window
// with no valid artifact.
func (p *Pipeline) build(ctx context.Context, c *cell.Cell, defs []*cell.Cell, backend Backend, art *Artifact) error {
	start := time.Now()

	gen := Generate(c, defs)
	pkgDir := filepath.Join(p.buildDir, c.Name)
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		return fmt.Errorf("create build dir: %w", err)
	}
	srcFile := filepath.Join(pkgDir, "main.go")
	if err := os.WriteFile(srcFile, []byte(gen.Code), 0o644); err != nil {
		return fmt.Errorf("write wrapper source: %w", err)
	}

	tmp := art.Path + ".tmp"
	args := []string{"build", "-buildmode=plugin"}
	args = append(args, backendFlags(backend)...)
	args = append(args, "-o", tmp, "./"+c.Name)

	cmd := exec.CommandContext(ctx, p.goBin, args...)
	cmd.Dir = p.buildDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmp)
		return parseBuildOutput(c, gen, string(out), err)
	}
	if err := os.Rename(tmp, art.Path); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	art.CompileTime = time.Since(start)

	if p.verify != nil {
		if err := p.verify(ctx, art); err != nil {
			os.Remove(art.Path)
			return fmt.Errorf("verify artifact %s: %w", filepath.Base(art.Path), err)
		}
	}
	p.evictSuperseded(art)
	return nil
}

// evictSuperseded removes all other artifacts for the same cell and
// backend. Eviction keys on "superseded", not "different": the fresh
// artifact stays, everything older for this pair goes.
func (p *Pipeline) evictSuperseded(art *Artifact) {
	pattern := filepath.Join(p.cacheDir, fmt.Sprintf("%s-*-%s.so", art.CellName, art.Backend))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, m := range matches {
		if m != art.Path {
			os.Remove(m)
		}
	}
}

// CachedArtifacts lists the artifact files currently retained for a cell.
func (p *Pipeline) CachedArtifacts(cellName string) []string {
	matches, _ := filepath.Glob(filepath.Join(p.cacheDir, cellName+"-*.so"))
	return matches
}
