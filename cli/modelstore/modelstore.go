package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/glorpus-work/modelstore/internal/cli"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modelstore",
		Short: "Resumable model downloads with content-addressed storage",
		Long: `modelstore downloads large model artifacts with:
- Chunked, resumable transfers that survive restarts
- Integrity verification (sha256 and format header checks)
- A content-addressed blob store with deduplication
- Storage accounting and cleanup suggestions`,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: auto-detect)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Set up CLI pkg variables
	cli.ConfigPath = &configPath
	cli.Verbose = &verbose

	// Add subcommands
	cmd.AddCommand(
		cli.NewPullCmd(),
		cli.NewSessionsCmd(),
		cli.NewPauseCmd(),
		cli.NewResumeCmd(),
		cli.NewCancelCmd(),
		cli.NewRetryCmd(),
		cli.NewModelsCmd(),
		cli.NewRemoveCmd(),
		cli.NewCleanupCmd(),
		cli.NewDuCmd(),
		cli.NewConfigCmd(),
		cli.NewVersionCmd(),
	)

	return cmd
}
