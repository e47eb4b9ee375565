package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ml-rust/venus/internal/server"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve <notebook.go>",
	Short: "Serve a notebook over WebSocket",
	Long:  "Opens the notebook and exposes it on a WebSocket endpoint (/ws) for interactive clients. Runs until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	session, cfg, log, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer session.Close()

	addr := cfg.Listen
	if flagListen != "" {
		addr = flagListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("serving notebook",
		slog.String("notebook", args[0]),
		slog.String("addr", addr))
	return server.New(session, log).ListenAndServe(ctx, addr)
}
