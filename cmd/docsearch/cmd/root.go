// Package cmd provides the CLI commands for docsearch.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andrlange/docsearch/internal/logging"
	"github.com/andrlange/docsearch/pkg/version"
)

var (
	dataDir        string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the docsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docsearch",
		Short: "Hybrid keyword and semantic search over stored documents",
		Long: `docsearch embeds stored documents with a local or hosted model and
serves hybrid search: full-text keyword matching fused with vector
similarity via reciprocal rank fusion.

Run 'docsearch serve' to start the background embedding pipeline, or
'docsearch search <query>' for one-shot queries.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("docsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.docsearch)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRun = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		// Logging must never block the actual command.
		return nil
	}
	loggingCleanup = cleanup
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
