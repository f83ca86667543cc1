package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrlange/docsearch/internal/search"
	"github.com/andrlange/docsearch/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit  int
	kinds  []string
	alpha  float64
	format string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored documents",
		Long: `Search stored documents with hybrid retrieval: keyword matching and
vector similarity fused via reciprocal rank fusion.

Examples:
  docsearch search "database migration"
  docsearch search "retry backoff" --kind guide --limit 5
  docsearch search "connection pool" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringSliceVarP(&opts.kinds, "kind", "k", nil,
		"Restrict to entity kinds: guide, code_example, migration_note (repeatable)")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", -1,
		"Keyword weight in [0,1]; vector weight is 1-alpha (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

// searchResultJSON is the stable JSON shape for one result.
type searchResultJSON struct {
	Kind         string  `json:"kind"`
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Score        float64 `json:"score"`
	KeywordRank  int     `json:"keyword_rank,omitempty"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
	VectorRank   int     `json:"vector_rank,omitempty"`
	VectorScore  float64 `json:"vector_score,omitempty"`
	InBothLists  bool    `json:"in_both_lists"`
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// The provider reports unavailable until a probe succeeds; without
	// this one-shot probe the vector leg would never run.
	a.provider.CheckAvailability(ctx)

	searchOpts := search.SearchOptions{Limit: opts.limit}
	for _, k := range opts.kinds {
		kind := store.EntityKind(strings.TrimSpace(k))
		if !store.ValidKind(kind) {
			return fmt.Errorf("unknown entity kind %q (want guide, code_example, or migration_note)", k)
		}
		searchOpts.Kinds = append(searchOpts.Kinds, kind)
	}
	if opts.alpha >= 0 {
		if opts.alpha > 1 {
			return fmt.Errorf("alpha must be in [0,1], got %g", opts.alpha)
		}
		searchOpts.Alpha = &opts.alpha
	}

	results, err := a.engine.Search(ctx, query, searchOpts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		payload := make([]searchResultJSON, 0, len(results))
		for _, r := range results {
			payload = append(payload, searchResultJSON{
				Kind:         string(r.Document.Kind),
				ID:           r.Document.ID,
				Title:        r.Document.Title,
				Score:        r.Score,
				KeywordRank:  r.KeywordRank,
				KeywordScore: r.KeywordScore,
				VectorRank:   r.VectorRank,
				VectorScore:  r.VectorScore,
				InBothLists:  r.InBothLists,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%2d. [%s:%d] %s (score %.4f)\n",
			i+1, r.Document.Kind, r.Document.ID, r.Document.Title, r.Score)
		if snippet := firstLine(r.Document.Content); snippet != "" {
			fmt.Fprintf(out, "    %s\n", snippet)
		}
	}
	return nil
}

// firstLine returns the first non-blank line of text, truncated to 120
// characters.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 120 {
			return line[:117] + "..."
		}
		return line
	}
	return ""
}
