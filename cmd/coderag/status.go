package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag-mcp/internal/tools"
)

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show one project in detail, or list every project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if len(args) == 0 {
				return listProjects(ctx, a)
			}
			st, err := a.svc.ProjectStatus(ctx, tools.ProjectParams{Project: args[0]})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(st)
			}
			fmt.Println(titleStyle.Render(st.Name) + " " + dimStyle.Render(st.Path))
			fmt.Println(field("state", stateStyle(string(st.State)).Render(string(st.State))))
			fmt.Println(field("last sync", formatTime(st.LastSync)))
			fmt.Println(field("model", st.Model))
			fmt.Println(field("files", st.Files))
			fmt.Println(field("chunks", st.Chunks))
			fmt.Println(field("embeddings", fmt.Sprintf("%d (%d stale)", st.Embeddings, st.StaleEmbeddings)))
			fmt.Println(field("symbols", st.Symbols))
			fmt.Println(field("call edges", st.CallEdges))
			fmt.Println(field("vectors", fmt.Sprintf("%d (%d tombstones)", st.Vectors, st.Tombstones)))
			fmt.Println(field("redactions", st.Redactions))
			fmt.Println(field("suspicious chunks", st.Suspicious))
			fmt.Println(field("index size", fmt.Sprintf("%.2f MB", st.IndexSizeMB)))
			if st.Busy {
				fmt.Println(warnStyle.Render("a sync is running"))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func listProjects(ctx context.Context, a *app) error {
	projects, err := a.svc.ListProjects(ctx)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(projects)
	}
	if len(projects) == 0 {
		fmt.Println(dimStyle.Render("no projects; run 'coderag index <path>'"))
		return nil
	}
	for _, p := range projects {
		fmt.Printf("%s %s\n", titleStyle.Render(p.Name), dimStyle.Render(p.Path))
		fmt.Printf("  %s  %d files  %d chunks  last sync %s\n",
			stateStyle(string(p.State)).Render(string(p.State)), p.FileCount, p.ChunkCount, formatTime(p.LastSync))
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
