package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ml-rust/venus"
)

var listCmd = &cobra.Command{
	Use:   "list <notebook.go>",
	Short: "List cells and their dependencies",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	session, _, _, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer session.Close()

	for _, c := range session.Cells() {
		switch c.Kind {
		case venus.KindRunnable:
			deps := "-"
			if len(c.Dependencies) > 0 {
				names := make([]string, len(c.Dependencies))
				for i, d := range c.Dependencies {
					names[i] = d.Name
				}
				deps = strings.Join(names, ", ")
			}
			fmt.Printf("%-20s %-10s %-10s deps: %s\n", c.Name, c.Kind, session.StatusOf(c.ID), deps)
		default:
			fmt.Printf("%-20s %-10s\n", c.Name, c.Kind)
		}
	}
	return nil
}
