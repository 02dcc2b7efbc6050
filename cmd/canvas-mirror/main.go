package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

func main() {
	// Local .env files feed the CANVAS_MIRROR_* environment overrides.
	_ = godotenv.Load()

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
		Use:   "canvas-mirror",
		Short: "Mirror Canvas LMS course files to a local directory tree",
		Long: `canvas-mirror walks the Canvas courses a token can see and mirrors
their files and submission attachments into a local directory tree.
Files already present locally are skipped, so repeated runs only
fetch what is new.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "config file path")

	cmd.AddCommand(
		newServeCmd(),
		newFetchCmd(),
	)

	return cmd
}
