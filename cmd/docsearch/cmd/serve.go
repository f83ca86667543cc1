package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/andrlange/docsearch/internal/embed"
	"github.com/andrlange/docsearch/internal/jobs"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background embedding pipeline",
		Long: `Run the job processor and provider health monitor until
interrupted. Queued documents are embedded and persisted; the provider
is probed periodically so outages degrade search instead of failing it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// One processor per data directory across processes.
	lock := jobs.NewDirLock(a.cfg.Storage.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("another docsearch instance is already serving %s", a.cfg.Storage.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	monitor := embed.NewMonitor(a.provider,
		a.cfg.Embeddings.Health.Interval, a.cfg.Embeddings.Health.Timeout)
	monitor.Start(ctx)
	defer monitor.Stop()

	processor := jobs.NewProcessor(a.store, a.generator, a.vectors, jobs.Config{
		PollInterval: a.cfg.Embeddings.Jobs.PollInterval,
		FetchLimit:   a.cfg.Embeddings.Jobs.FetchLimit,
		MaxRetries:   a.cfg.Embeddings.Retry.MaxRetries,
		InitialDelay: a.cfg.Embeddings.Retry.InitialDelay,
	})
	if err := processor.Start(ctx); err != nil {
		return err
	}
	defer processor.Stop()

	slog.Info("docsearch serving",
		"data_dir", a.cfg.Storage.DataDir,
		"provider", a.provider.Name(),
		"model", a.provider.ModelName())
	fmt.Fprintf(cmd.OutOrStdout(), "serving %s (provider: %s), press Ctrl+C to stop\n",
		a.cfg.Storage.DataDir, a.provider.Name())

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
	return nil
}
