package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/coderag-mcp/internal/httpapi"
	"github.com/dshills/coderag-mcp/internal/mcp"
	"github.com/dshills/coderag-mcp/internal/tools"
)

var (
	flagServeAddr  string
	flagServeWatch bool
	flagMCPWatch   bool
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Long: "Serve the MCP tools over stdio. Stdout carries protocol frames only;\n" +
		"logs are written to stderr.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stop, err := startScheduler(ctx, a)
			if err != nil {
				return err
			}
			defer stop()

			limiter := tools.NewLimiter(a.cfg.MCP.RateLimitPerMinute, a.cfg.MCP.Burst)
			server := mcp.NewServer(a.svc, limiter, a.logger.Named("mcp"))

			// the client closing stdin ends the session and the watcher with it
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)
			if flagMCPWatch {
				g.Go(func() error { return runWatcher(ctx, a, nil) })
			}
			g.Go(func() error {
				defer cancel()
				return server.Serve(ctx, os.Stdin, os.Stdout)
			})
			return g.Wait()
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool calls as a local HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stop, err := startScheduler(ctx, a)
			if err != nil {
				return err
			}
			defer stop()

			addr := a.cfg.HTTP.Addr
			if flagServeAddr != "" {
				addr = flagServeAddr
			}
			srv := &http.Server{
				Addr: addr,
				Handler: httpapi.NewRouter(&httpapi.Deps{
					Service: a.svc,
					Limiter: tools.NewLimiter(a.cfg.MCP.RateLimitPerMinute, a.cfg.MCP.Burst),
					Logger:  a.logger.Named("http"),
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(ctx)
			if flagServeWatch {
				g.Go(func() error { return runWatcher(ctx, a, nil) })
			}
			g.Go(func() error {
				a.logger.Info("http api listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [project...]",
	Short: "Sync projects as their files change",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stop, err := startScheduler(ctx, a)
			if err != nil {
				return err
			}
			defer stop()

			fmt.Fprintln(os.Stderr, dimStyle.Render("watching for changes; press Ctrl+C to stop"))
			return runWatcher(ctx, a, args)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (default from config, 127.0.0.1:7878)")
	serveCmd.Flags().BoolVar(&flagServeWatch, "watch", false, "also watch every project and sync on change")
	mcpCmd.Flags().BoolVar(&flagMCPWatch, "watch", false, "also watch every project and sync on change")
	rootCmd.AddCommand(mcpCmd, serveCmd, watchCmd)
}
