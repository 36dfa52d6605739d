package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/lore/internal/retrieval"
	"github.com/lazypower/lore/internal/store"
)

var (
	searchKind         string
	searchLimit        int
	searchIncludeDraft bool
	searchTags         []string
	searchDomains      []string
	searchNames        []string
	searchJSON         bool
	searchDiagnostics  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Retrieve ranked knowledge for a task",
	Long: "Retrieve candidates of one kind by full-text relevance with a recency backfill, " +
		"reordered by recorded quality. Use --kind all for a bundle of every kind.",
	RunE: runSearch,
}

var edgesCmd = &cobra.Command{
	Use:   "edges <node-id>...",
	Short: "List graph edges among the given nodes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEdges,
}

func init() {
	searchCmd.Flags().StringVarP(&searchKind, "kind", "k", "skill", "skill, tool, memory, graph_node or all")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results (0 uses the configured default)")
	searchCmd.Flags().BoolVar(&searchIncludeDraft, "include-draft", false, "Include drafts")
	searchCmd.Flags().StringSliceVar(&searchTags, "tag", nil, "Filter by kind tag (skill type or node type)")
	searchCmd.Flags().StringSliceVar(&searchDomains, "domain", nil, "Filter by domain, including subdomains")
	searchCmd.Flags().StringSliceVar(&searchNames, "name", nil, "Look up by exact name, in order")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print results as JSON")
	searchCmd.Flags().BoolVar(&searchDiagnostics, "diagnostics", false, "Print retrieval diagnostics to stderr")
}

func runSearch(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	opts := retrieval.Options{
		Limit: searchLimit,
		Filter: store.Filter{
			IncludeDraft: searchIncludeDraft,
			KindTags:     searchTags,
			Domains:      searchDomains,
			Names:        searchNames,
		},
	}

	if searchKind == "all" {
		b := a.eng.Retriever.Bundle(ctx, text, retrieval.BundleOptions{
			Skills: opts, Tools: opts, Memories: opts, GraphNodes: opts,
		})
		if searchJSON {
			return printJSON(cmd.OutOrStdout(), b)
		}
		out := cmd.OutOrStdout()
		for _, sec := range []struct {
			title string
			cands []retrieval.Candidate
		}{
			{"Skills", b.Skills}, {"Tools", b.Tools}, {"Memories", b.Memories}, {"Graph nodes", b.GraphNodes},
		} {
			fmt.Fprintf(out, "## %s\n", sec.title)
			printCandidates(cmd, sec.cands)
		}
		if len(b.Edges) > 0 {
			fmt.Fprintln(out, "## Edges")
			for _, e := range b.Edges {
				fmt.Fprintf(out, "  %d -[%s]-> %d\n", e.SrcID, e.Relation, e.DstID)
			}
		}
		return nil
	}

	kind, err := store.ParseKind(searchKind)
	if err != nil {
		return err
	}
	var diag retrieval.Diagnostics
	if searchDiagnostics {
		opts.Diagnostics = &diag
	}
	results := a.eng.Retriever.Retrieve(ctx, kind, text, opts)
	if searchDiagnostics {
		fmt.Fprintf(cmd.ErrOrStderr(), "query=%q index=%t fts=%d recent=%d named=%d skipped=%d elapsed=%s\n",
			diag.Query, diag.IndexAvailable, diag.FTSHits, diag.RecentHits, diag.NamedHits, diag.SkippedRows, diag.Elapsed)
		for _, e := range diag.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  error: %s\n", e)
		}
	}
	if searchJSON {
		return printJSON(cmd.OutOrStdout(), results)
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
		return nil
	}
	printCandidates(cmd, results)
	return nil
}

func printCandidates(cmd *cobra.Command, cands []retrieval.Candidate) {
	out := cmd.OutOrStdout()
	for i, c := range cands {
		fmt.Fprintf(out, "%d. [%.3f] #%d %s (%s, %s)\n", i+1, c.Score, c.Entity.ID, c.Entity.Name,
			c.Entity.EffectiveStatus(), c.Source)
		if d := c.Entity.Description; d != "" {
			if len(d) > 200 {
				d = d[:200] + "..."
			}
			fmt.Fprintf(out, "   %s\n", d)
		}
	}
}

func runEdges(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	edges := a.eng.Retriever.Edges(cmd.Context(), ids)
	if edges == nil {
		edges = []store.Edge{}
	}
	return printJSON(cmd.OutOrStdout(), edges)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, s := range args {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
