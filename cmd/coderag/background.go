package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/coderag-mcp/internal/indexer"
	"github.com/dshills/coderag-mcp/internal/schedule"
)

// startScheduler runs the cron jobs until ctx is done; stop waits for a
// running job
func startScheduler(ctx context.Context, a *app) (stop func(), err error) {
	s := schedule.NewCronScheduler(a.logger.Named("schedule"))
	if err := schedule.Setup(s, a.coord, a.cfg.Schedule, a.logger); err != nil {
		return nil, err
	}
	s.Start(ctx)
	return s.Stop, nil
}

// runWatcher watches the named projects, or every project when names is
// empty, and syncs them on change until ctx is done
func runWatcher(ctx context.Context, a *app, names []string) error {
	queue := indexer.NewEventQueue(a.cfg.Watcher.Debounce, func(ctx context.Context, project string) error {
		sum, err := a.coord.Sync(ctx, project)
		if err == nil {
			a.logger.Info("synced",
				zap.String("project", project),
				zap.Int("indexed", sum.FilesIndexed),
				zap.Int("deleted", sum.FilesDeleted),
				zap.String("state", string(sum.State)))
		}
		return err
	}, a.logger.Named("queue"))

	w, err := indexer.NewWatcher(queue, indexer.OptionsFrom(a.cfg), a.logger.Named("watcher"))
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	projects, err := a.coord.ListProjects(ctx)
	if err != nil {
		return err
	}
	missing := make(map[string]bool, len(names))
	for _, n := range names {
		missing[n] = true
	}
	var watched []string
	for _, p := range projects {
		if len(names) > 0 && !slices.Contains(names, p.Name) {
			continue
		}
		if err := w.Add(p.Name, p.Path); err != nil {
			return fmt.Errorf("watch %s: %w", p.Name, err)
		}
		delete(missing, p.Name)
		watched = append(watched, p.Name)
	}
	if len(missing) > 0 {
		return fmt.Errorf("unknown project: %s", strings.Join(slices.Sorted(maps.Keys(missing)), ", "))
	}
	if len(watched) == 0 {
		return fmt.Errorf("no projects to watch; run 'coderag index <path>' first")
	}

	// catch up on changes made while nothing was watching
	for _, name := range watched {
		queue.Push(name)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(ctx) })
	g.Go(func() error { return w.Run(ctx) })
	return g.Wait()
}
