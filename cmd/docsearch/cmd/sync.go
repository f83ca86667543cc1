package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrlange/docsearch/internal/store"
)

func newSyncCmd() *cobra.Command {
	var missingOnly bool
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bulk-embed stored documents",
		Long: `Embed stored documents outside the background queue.

By default every document of every kind is re-embedded. With --missing
only documents lacking a vector are embedded, and any queued jobs for
them are completed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, missingOnly, kindFlag)
		},
	}

	cmd.Flags().BoolVar(&missingOnly, "missing", false, "Only embed documents without a vector")
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "",
		"Entity kind for --missing: guide, code_example, migration_note")

	return cmd
}

func runSync(cmd *cobra.Command, missingOnly bool, kindFlag string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// One-shot runs probe availability synchronously; there is no
	// monitor loop to have done it already.
	a.provider.CheckAvailability(ctx)

	out := cmd.OutOrStdout()

	if missingOnly {
		kinds := store.Kinds()
		if kindFlag != "" {
			kind := store.EntityKind(strings.TrimSpace(kindFlag))
			if !store.ValidKind(kind) {
				return fmt.Errorf("unknown entity kind %q", kindFlag)
			}
			kinds = []store.EntityKind{kind}
		}
		for _, kind := range kinds {
			res, err := a.syncer.SyncMissing(ctx, kind)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d processed, %d embedded, %d skipped, %d failed\n",
				kind, res.Processed, res.Succeeded, res.Skipped, res.Failed)
		}
		return nil
	}

	results, err := a.syncer.SyncAll(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		fmt.Fprintf(out, "%s: %d processed, %d embedded, %d skipped, %d failed\n",
			res.Kind, res.Processed, res.Succeeded, res.Skipped, res.Failed)
	}
	return nil
}
