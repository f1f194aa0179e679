package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/config"
	"github.com/dshills/coderag-mcp/internal/embedder"
	"github.com/dshills/coderag-mcp/internal/indexer"
	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/internal/searcher"
	"github.com/dshills/coderag-mcp/internal/security"
	"github.com/dshills/coderag-mcp/internal/storage"
	"github.com/dshills/coderag-mcp/internal/tools"
)

var (
	flagConfig   string
	flagLogLevel string
	flagJSON     bool
)

var rootCmd = &cobra.Command{
	Use:           "coderag",
	Short:         "Local code indexing and hybrid retrieval for coding agents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $CODERAG_CONFIG or ~/.coderag/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print results as JSON")
}

// app is the wired application shared by every command
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    storage.Storage
	embedder embedder.Embedder
	reranker embedder.Reranker
	filter   *security.Filter
	coord    *indexer.Coordinator
	search   *searcher.Searcher
	svc      *tools.Service
}

func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	return cfg, nil
}

// newApp loads configuration and wires storage, backends, the coordinator
// and the searcher
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	emb, err := embedder.New(ctx, embedder.ConfigFrom(cfg.Embed), logger.Named("embedder"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	reranker, err := embedder.NewReranker(cfg.Rerank, logger.Named("reranker"))
	if err != nil {
		_ = emb.Close()
		_ = store.Close()
		return nil, fmt.Errorf("create reranker: %w", err)
	}

	filter := security.NewFilter(logger.Named("security"))
	coord := indexer.New(store, emb, filter, indexer.OptionsFrom(cfg), logger.Named("indexer"))
	search := searcher.NewSearcher(store, emb, reranker, filter, searchOptions(cfg), logger.Named("searcher"))
	coord.OnCommit(search.InvalidateProject)
	search.OnOrphan(coord.DropOrphans)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		embedder: emb,
		reranker: reranker,
		filter:   filter,
		coord:    coord,
		search:   search,
	}
	a.svc = tools.NewService(coord, search, filter, cfg.Indexing.MaxFileSize, logger.Named("tools"))

	logger.Debug("application ready",
		zap.String("db", cfg.DBPath()),
		zap.String("driver", storage.DriverName),
		zap.String("model", coord.Model()),
		zap.Bool("rerank", reranker != nil))
	return a, nil
}

func searchOptions(cfg *config.Config) searcher.Options {
	mode := searcher.SearchModeHybrid
	if !cfg.Search.Hybrid {
		mode = searcher.SearchModeVector
	}
	return searcher.Options{
		TopK:             cfg.Search.TopK,
		BroadK:           cfg.Search.BroadK,
		RRFConstant:      cfg.Search.RRFConstant,
		RerankCandidates: cfg.Rerank.Candidates,
		DefaultMode:      mode,
		CacheSize:        cfg.Search.CacheSize,
		CacheTTL:         cfg.Search.CacheTTL,
	}
}

// Close releases every resource of the app
func (a *app) Close() error {
	var errs []error
	errs = append(errs, a.coord.Close())
	if a.reranker != nil {
		errs = append(errs, a.reranker.Close())
	}
	errs = append(errs, a.embedder.Close())
	errs = append(errs, a.store.Close())
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// withApp runs fn with a wired app and closes it afterwards
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}
