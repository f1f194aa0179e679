package indexer

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
)

// Watcher pushes file-system changes under project roots to an EventQueue
type Watcher struct {
	fs     *fsnotify.Watcher
	queue  *EventQueue
	opts   Options
	logger *zap.Logger

	mu    sync.RWMutex
	roots map[string]*watchedRoot
}

type watchedRoot struct {
	project string
	rules   *ignoreRules
}

// NewWatcher creates a watcher. Ignore settings are taken from opts.
func NewWatcher(queue *EventQueue, opts Options, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fs:     fw,
		queue:  queue,
		opts:   opts,
		logger: logging.OrNop(logger),
		roots:  make(map[string]*watchedRoot),
	}, nil
}

// Add watches every directory below root that is not ignored
func (w *Watcher) Add(project, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	// nested .gitignore files are not loaded here; a change they exclude
	// costs one sync that finds nothing to do
	rules, err := loadIgnoreRules(abs, w.opts.walkOptions())
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.roots[abs] = &watchedRoot{project: project, rules: rules}
	w.mu.Unlock()

	n, err := w.addTree(abs, abs, rules)
	if err != nil {
		return err
	}
	w.logger.Info("watching project",
		zap.String("project", project), zap.String("root", abs), zap.Int("dirs", n))
	return nil
}

func (w *Watcher) addTree(root, dir string, rules *ignoreRules) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != root {
			rel, _ := filepath.Rel(root, p)
			rel = filepath.ToSlash(rel)
			if rules.Hidden(rel, true) || rules.Match(rel, true) {
				return filepath.SkipDir
			}
		}
		if err := w.fs.Add(p); err != nil {
			w.logger.Debug("watch failed", zap.String("dir", p), zap.Error(err))
			return nil
		}
		count++
		return nil
	})
	return count, err
}

// route finds the project owning path and whether the path is ignored
func (w *Watcher) route(path string) (project, root string, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	// longest root wins for nested projects
	roots := make([]string, 0, len(w.roots))
	for r := range w.roots {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return len(roots[i]) > len(roots[j]) })

	for _, r := range roots {
		if path != r && !strings.HasPrefix(path, r+string(filepath.Separator)) {
			continue
		}
		rel, err := filepath.Rel(r, path)
		if err != nil || rel == "." {
			return "", "", false
		}
		wr := w.roots[r]
		rel = filepath.ToSlash(rel)
		isDir := false
		if info, err := os.Stat(path); err == nil {
			isDir = info.IsDir()
		}
		if wr.rules.Match(rel, isDir) || ignoredHidden(wr.rules, rel, isDir) {
			return "", "", false
		}
		return wr.project, r, true
	}
	return "", "", false
}

// ignoredHidden is Hidden, except that edits to ignore files still trigger
// a sync because they change what discovery finds
func ignoredHidden(rules *ignoreRules, rel string, isDir bool) bool {
	if !isDir {
		switch path.Base(rel) {
		case GitIgnoreFile, IgnoreFile:
			return false
		}
	}
	return rules.Hidden(rel, isDir)
}

// Run forwards events until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			project, root, ok := w.route(ev.Name)
			if !ok {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.mu.RLock()
					rules := w.roots[root].rules
					w.mu.RUnlock()
					_, _ = w.addTree(root, ev.Name, rules)
				}
			}
			w.queue.Push(project)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.fs.Close()
}
