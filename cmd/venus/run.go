package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ml-rust/venus"
)

var runCmd = &cobra.Command{
	Use:   "run <notebook.go> [cell...]",
	Short: "Execute notebook cells",
	Long:  "Executes the named cells, or every runnable cell in dependency order when none are given, and prints their outputs.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	session, _, _, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		session.Interrupt()
	}()

	if len(args) > 1 {
		for _, name := range args[1:] {
			id, err := findCell(session, name)
			if err != nil {
				return err
			}
			out, err := session.ExecuteCell(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", name, out.Display)
		}
		return nil
	}

	if err := session.ExecuteAll(ctx); err != nil {
		return err
	}
	for _, c := range session.Cells() {
		if c.Kind != venus.KindRunnable {
			continue
		}
		if o := session.OutputOf(c.Name); o != nil {
			fmt.Printf("%s = %s\n", c.Name, o.Display)
		} else {
			fmt.Fprintf(os.Stderr, "%s: no output\n", c.Name)
		}
	}
	return nil
}

func findCell(session *venus.Session, name string) (venus.CellID, error) {
	for _, c := range session.Cells() {
		if c.Name == name {
			return c.ID, nil
		}
	}
	return 0, fmt.Errorf("no cell named %q", name)
}
