// Package main provides the probflow command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	probflow "probflow/src"
)

var (
	dbPath string
	debug  bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "probflow",
	Short: "Variational Bayesian regression with training callbacks",
	Long: `probflow fits Bayesian linear regression models by stochastic
variational inference and records their training history.

It provides:
  - Learning rate and KL weight schedules
  - Metric and parameter monitoring with early stopping
  - A SQLite run store with JSON and protobuf export`,
	Version:       probflow.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		probflow.SetDebug(debug)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "probflow.db", "SQLite run store")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log training internals to stderr")

	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(distsCmd)
}
