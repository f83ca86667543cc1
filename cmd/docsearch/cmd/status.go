package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrlange/docsearch/internal/store"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show embedding coverage and queue state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

// statusJSON is the stable JSON shape of the status report.
type statusJSON struct {
	Provider  string           `json:"provider"`
	Model     string           `json:"model"`
	Available bool             `json:"available"`
	Kinds     []statusKindJSON `json:"kinds"`
	Jobs      map[string]int   `json:"jobs"`
}

type statusKindJSON struct {
	Kind         string `json:"kind"`
	Total        int    `json:"total"`
	WithVector   int    `json:"with_vector"`
	ChunkVectors int    `json:"chunk_vectors"`
	PendingJobs  int    `json:"pending_jobs"`
	FailedJobs   int    `json:"failed_jobs"`
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.provider.CheckAvailability(ctx)

	report, err := a.syncer.Stats(ctx)
	if err != nil {
		return err
	}
	jobCounts, err := a.store.CountJobsByStatus(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if jsonOutput {
		payload := statusJSON{
			Provider:  report.Provider,
			Model:     report.Model,
			Available: report.Available,
			Jobs:      make(map[string]int, len(jobCounts)),
		}
		for status, n := range jobCounts {
			payload.Jobs[string(status)] = n
		}
		for _, ks := range report.Kinds {
			payload.Kinds = append(payload.Kinds, statusKindJSON{
				Kind:         string(ks.Kind),
				Total:        ks.Total,
				WithVector:   ks.WithVector,
				ChunkVectors: ks.ChunkVectors,
				PendingJobs:  ks.PendingJobs,
				FailedJobs:   ks.FailedJobs,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	availability := "unavailable"
	if report.Available {
		availability = "available"
	}
	fmt.Fprintf(out, "provider: %s (%s), %s\n", report.Provider, report.Model, availability)
	fmt.Fprintf(out, "data dir: %s\n\n", a.cfg.Storage.DataDir)

	for _, ks := range report.Kinds {
		fmt.Fprintf(out, "%-15s %4d documents, %4d embedded, %4d chunk vectors\n",
			ks.Kind, ks.Total, ks.WithVector, ks.ChunkVectors)
	}

	fmt.Fprintf(out, "\njobs: %d pending, %d in progress, %d retry pending, %d completed, %d failed\n",
		jobCounts[store.StatusPending],
		jobCounts[store.StatusInProgress],
		jobCounts[store.StatusRetryPending],
		jobCounts[store.StatusCompleted],
		jobCounts[store.StatusFailed])
	return nil
}
