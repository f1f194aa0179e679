package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag-mcp/internal/tools"
)

var (
	flagSearchK    int
	flagSearchMode string
)

var searchCmd = &cobra.Command{
	Use:   "search <project> <query...>",
	Short: "Search a project with hybrid retrieval",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.svc.SearchCode(ctx, tools.SearchParams{
				Project: args[0],
				Query:   strings.Join(args[1:], " "),
				K:       flagSearchK,
				Mode:    flagSearchMode,
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(res)
			}
			printSearch(res)
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagSearchK, "k", 0, "number of results (default from config)")
	searchCmd.Flags().StringVar(&flagSearchMode, "mode", "", "hybrid, vector or keyword")
	rootCmd.AddCommand(searchCmd)
}

func printSearch(res *tools.SearchResult) {
	if res.Degraded {
		fmt.Println(warnStyle.Render("degraded: " + res.DegradedReason))
	}
	if res.RerankSkipped {
		fmt.Println(warnStyle.Render("reranking skipped; fused order kept"))
	}
	for _, w := range res.QueryWarnings {
		fmt.Println(warnStyle.Render("query warning: " + w))
	}
	if len(res.Results) == 0 {
		fmt.Println(dimStyle.Render("no results"))
		return
	}
	for _, r := range res.Results {
		header := fmt.Sprintf("%d. %s:%d-%d", r.Rank, r.FilePath, r.Span.StartLine, r.Span.EndLine)
		if r.Symbol != "" {
			header += " " + r.Symbol
		}
		fmt.Println(titleStyle.Render(header) + " " + dimStyle.Render(fmt.Sprintf("%.4f", r.Score)))
		if r.Suspicious {
			fmt.Println(warnStyle.Render("  " + r.Warning))
		}
		fmt.Println(codeStyle.Render(preview(r.Content, 8)))
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d results in %dms (%s)", len(res.Results), res.DurationMS, res.Mode)))
}

// preview returns the first n lines of text
func preview(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + "\n" + dimStyle.Render(fmt.Sprintf("… %d more lines", len(lines)-n))
}
