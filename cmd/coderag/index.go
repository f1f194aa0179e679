package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag-mcp/internal/indexer"
	"github.com/dshills/coderag-mcp/internal/tools"
)

var (
	flagIndexName  string
	flagIndexForce bool
	flagSyncAll    bool
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a repository, creating the project on first use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			sum, err := a.svc.IndexProject(ctx, tools.IndexParams{Path: root, Name: flagIndexName, Force: flagIndexForce})
			if err != nil {
				return err
			}
			return printSummary(sum)
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [project]",
	Short: "Bring an indexed project up to date",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !flagSyncAll {
			return fmt.Errorf("name a project or pass --all")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if flagSyncAll {
				sums, err := a.coord.SyncAll(ctx)
				for _, sum := range sums {
					if perr := printSummary(sum); perr != nil {
						return perr
					}
				}
				return err
			}
			sum, err := a.svc.SyncProject(ctx, tools.ProjectParams{Project: args[0]})
			if err != nil {
				return err
			}
			return printSummary(sum)
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <project>",
	Short: "Remove a project and its index; source files are not touched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.svc.RemoveProject(ctx, tools.ProjectParams{Project: args[0]})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(res)
			}
			fmt.Println(successStyle.Render("removed ") + res.Project)
			return nil
		})
	},
}

func init() {
	indexCmd.Flags().StringVar(&flagIndexName, "name", "", "project name (default: directory name)")
	indexCmd.Flags().BoolVar(&flagIndexForce, "force", false, "re-chunk every file even when unchanged")
	syncCmd.Flags().BoolVar(&flagSyncAll, "all", false, "sync every ready project")
	rootCmd.AddCommand(indexCmd, syncCmd, removeCmd)
}

func printSummary(sum *indexer.Summary) error {
	if flagJSON {
		return printJSON(sum)
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("%s %s", sum.Kind, sum.Project)) + " " + dimStyle.Render(sum.RunID))
	fmt.Println(field("state", stateStyle(string(sum.State)).Render(string(sum.State))))
	fmt.Println(field("files", fmt.Sprintf("%d indexed, %d unchanged, %d deleted, %d skipped, %d failed",
		sum.FilesIndexed, sum.FilesUnchanged, sum.FilesDeleted, sum.FilesSkipped, sum.FilesFailed)))
	fmt.Println(field("chunks", fmt.Sprintf("%d added, %d removed, %d kept", sum.ChunksAdded, sum.ChunksRemoved, sum.ChunksKept)))
	fmt.Println(field("embeddings", fmt.Sprintf("%d created, %d failed", sum.EmbeddingsCreated, sum.EmbeddingsFailed)))
	if sum.Redactions > 0 || sum.SuspiciousChunks > 0 {
		fmt.Println(field("security", fmt.Sprintf("%d redactions, %d suspicious chunks", sum.Redactions, sum.SuspiciousChunks)))
	}
	fmt.Println(field("duration", sum.Duration.Round(time.Millisecond)))
	if sum.Cancelled {
		fmt.Println(warnStyle.Render("cancelled: files not yet committed are picked up by the next sync"))
	}
	for _, e := range sum.Errors {
		fmt.Println(errorStyle.Render("  "+e.Kind) + " " + e.Path + ": " + e.Message)
	}
	for _, w := range sum.Warnings {
		fmt.Println(warnStyle.Render("  warning ") + w)
	}
	return nil
}
