package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build <notebook.go>",
	Short: "Compile all cells without running them",
	Long:  "Compiles every runnable cell for the selected backend, warming the artifact cache. Unchanged cells are cache hits and cost nothing.",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	session, _, _, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer session.Close()

	start := time.Now()
	if err := session.CompileAll(context.Background()); err != nil {
		return err
	}
	fmt.Printf("built %s in %s\n", args[0], time.Since(start).Round(time.Millisecond))
	return nil
}
