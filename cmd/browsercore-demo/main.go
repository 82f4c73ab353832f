// Package main provides the entry point for the browsercore demo CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferedge/browsercore/cmd/browsercore-demo/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "browsercore-demo",
		Short: "browsercore demo host",
		Long: `browsercore-demo drives an on-device inference Engine from the
command line for local testing and scripted benchmarks.

Commands:
  serve      Load a model and serve Prometheus /metrics until interrupted
  generate   Run one blocking text generation call and print the result`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to a browsercore config file")

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewGenerateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
