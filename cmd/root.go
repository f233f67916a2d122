// Package cmd is the CLI entry point for the proxy, built on cobra.
package cmd

import (
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

// NewRootCommand builds the top-level "meshproxy" command with its
// serve, version, and drain subcommands.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "meshproxy",
		Short: "L4 TCP/UDP reverse proxy data plane",
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())
	root.AddCommand(newDrainCommand())
	return root
}
