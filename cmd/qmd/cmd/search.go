package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qmd-dev/qmd/internal/output"
	"github.com/qmd-dev/qmd/internal/retrieval"
	"github.com/qmd-dev/qmd/pkg/qmd"
)

type searchOptions struct {
	mode        string
	limit       int
	collections []string
	intent      string
	minScore    float64
	format      string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed collections",
		Long: `search runs keyword (BM25), semantic (vector), or hybrid "deep"
retrieval over every indexed document.

Deep search expands the query, runs each expansion concurrently, fuses
the per-channel rankings with reciprocal rank fusion, and reranks the
top candidates when no single result dominates.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "deep", "Search mode: keyword, semantic, deep")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringSliceVarP(&opts.collections, "collection", "c", nil, "Restrict results to one or more collections (repeatable)")
	cmd.Flags().StringVar(&opts.intent, "intent", "", "Intent text biasing chunk/snippet selection")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Drop results scoring below this threshold")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	e, err := qmd.Open(qmd.Options{Dir: indexDir})
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer e.Close()

	var mode qmd.Mode
	switch strings.ToLower(opts.mode) {
	case "keyword", "bm25":
		mode = qmd.ModeKeyword
	case "semantic", "vector":
		mode = qmd.ModeSemantic
	case "deep", "hybrid", "":
		mode = qmd.ModeDeep
	default:
		return fmt.Errorf("unknown mode %q (want keyword, semantic, or deep)", opts.mode)
	}

	results, err := e.Search(ctx, qmd.SearchRequest{
		Mode:        mode,
		Query:       query,
		Intent:      opts.intent,
		Collections: opts.collections,
		Limit:       opts.limit,
		MinScore:    opts.minScore,
	})
	if err != nil {
		return err
	}

	if strings.ToLower(opts.format) == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return formatResultsText(out, results)
}

func formatResultsText(out *output.Writer, results []retrieval.SearchResult) error {
	if len(results) == 0 {
		out.Status("", "No results.")
		return nil
	}
	for i, r := range results {
		out.Statusf("", "%d. %s  (%s, score %.3f, %s)", i+1, r.Title, r.Collection, r.Score, r.Source)
		out.Statusf("", "   %s", r.DisplayPath)
		if r.Snippet != "" {
			out.Statusf("", "   %s", r.Snippet)
		}
		out.Newline()
	}
	return nil
}
