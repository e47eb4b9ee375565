package main

import (
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/ml-rust/venus"
)

var (
	flagConfig  string
	flagBackend string
	flagDataDir string
	flagVerbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "venus",
	Short:         "Reactive notebook engine for Go",
	Long:          "Venus turns a marked-up Go source file into a reactive notebook: cells are compiled in isolation, executed in worker processes, and re-run only when their inputs actually change.",
	SilenceErrors: true,
	SilenceUsage:  true,
	// No Run func, so the bare command prints help.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: venus.yaml next to the notebook)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "compilation backend: fast|full")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: .venus next to the notebook)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(listCmd)
}

// loadConfig resolves the config for a notebook path, applying flag
// overrides on top of the file.
func loadConfig(notebookPath string) (venus.Config, error) {
	path := flagConfig
	if path == "" {
		path = "venus.yaml"
	}
	cfg, err := venus.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// setupLogger builds the process logger: human-readable text on stderr,
// plus JSON to the configured log file when one is set.
func setupLogger(cfg venus.Config) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if cfg.LogFile == "" {
		return slog.New(stderrHandler), nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler)), nil
}

// openSession is the common preamble of every subcommand.
func openSession(notebookPath string) (*venus.Session, venus.Config, *slog.Logger, error) {
	cfg, err := loadConfig(notebookPath)
	if err != nil {
		return nil, cfg, nil, err
	}
	log, err := setupLogger(cfg)
	if err != nil {
		return nil, cfg, nil, err
	}
	session, err := venus.Open(notebookPath, cfg, venus.WithLogger(log))
	if err != nil {
		return nil, cfg, nil, err
	}
	return session, cfg, log, nil
}
