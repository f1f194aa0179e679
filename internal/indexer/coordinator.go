package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/callgraph"
	"github.com/dshills/coderag-mcp/internal/chunker"
	"github.com/dshills/coderag-mcp/internal/config"
	"github.com/dshills/coderag-mcp/internal/embedder"
	"github.com/dshills/coderag-mcp/internal/lexical"
	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/internal/searcher"
	"github.com/dshills/coderag-mcp/internal/security"
	"github.com/dshills/coderag-mcp/internal/storage"
	"github.com/dshills/coderag-mcp/internal/vectorindex"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// DefaultBackfillBatch is the number of chunks embedded per backfill round
const DefaultBackfillBatch = 64

// loadBatch is the number of stored vectors inserted per call on load
const loadBatch = 256

// ErrNotDirectory is returned by Index for a root that is not a directory
var ErrNotDirectory = errors.New("project root is not a directory")

// Options configures the coordinator
type Options struct {
	Workers             int
	MaxFileSize         int64
	IgnorePatterns      []string
	IncludeDependencies bool
	IncludeHidden       bool
	BackfillBatch       int

	// Vector is the backend template. Dimension, Store, ProjectID and
	// Model are filled in per project.
	Vector vectorindex.Options
}

func (o Options) walkOptions() walkOptions {
	return walkOptions{
		MaxFileSize:         o.MaxFileSize,
		IgnorePatterns:      o.IgnorePatterns,
		IncludeDependencies: o.IncludeDependencies,
		IncludeHidden:       o.IncludeHidden,
	}
}

// OptionsFrom maps the configuration file onto coordinator options
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Workers:             cfg.Indexing.Workers,
		MaxFileSize:         cfg.Indexing.MaxFileSize,
		IgnorePatterns:      cfg.Indexing.IgnorePatterns,
		IncludeDependencies: cfg.Indexing.IncludeDependencies,
		IncludeHidden:       cfg.Indexing.IncludeHidden,
		BackfillBatch:       cfg.Embed.BatchSize,
		Vector: vectorindex.Options{
			Backend:        cfg.Vector.Backend,
			M:              cfg.Vector.M,
			EfConstruction: cfg.Vector.EfConstruction,
			EfSearch:       cfg.Vector.EfSearch,
			Qdrant: vectorindex.QdrantOptions{
				Host:   cfg.Qdrant.Host,
				Port:   cfg.Qdrant.Port,
				APIKey: cfg.Qdrant.APIKey,
				UseTLS: cfg.Qdrant.UseTLS,
			},
		},
	}
}

// IndexOptions tune a single Index call
type IndexOptions struct {
	// Name of a new project; defaults to the base name of the root
	Name string
	// Force re-chunks every file. Stored embeddings are still reused for
	// chunks whose content did not change.
	Force bool
}

// Coordinator owns every project's in-memory indexes and serialises the
// writers of each project
type Coordinator struct {
	store    storage.Storage
	chunker  *chunker.Chunker
	filter   *security.Filter
	embedder embedder.Embedder
	model    string
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	projects map[int64]*projectContext

	hookMu   sync.RWMutex
	onCommit []func(projectID int64)
}

// projectContext is the in-memory side of one project
type projectContext struct {
	lock IndexLock

	loaded  chan struct{}
	loadErr error

	mu      sync.RWMutex
	project storage.Project
	lastRun *Summary

	vectors vectorindex.Index
	lexical *lexical.Index
	graph   *callgraph.Graph
}

// New creates a coordinator. emb is normally an *embedder.Guarded.
func New(store storage.Storage, emb embedder.Embedder, filter *security.Filter, opts Options, logger *zap.Logger) *Coordinator {
	logger = logging.OrNop(logger)
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BackfillBatch <= 0 {
		opts.BackfillBatch = DefaultBackfillBatch
	}
	if filter == nil {
		filter = security.NewFilter(logger)
	}
	return &Coordinator{
		store:    store,
		chunker:  chunker.New(logger),
		filter:   filter,
		embedder: emb,
		model:    embedder.ModelTag(emb),
		opts:     opts,
		logger:   logger,
		projects: make(map[int64]*projectContext),
	}
}

// OnCommit registers a hook called after every committed change to a
// project, such as a query cache invalidation
func (c *Coordinator) OnCommit(fn func(projectID int64)) {
	c.hookMu.Lock()
	c.onCommit = append(c.onCommit, fn)
	c.hookMu.Unlock()
}

func (c *Coordinator) notifyCommit(projectID int64) {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	for _, fn := range c.onCommit {
		fn(projectID)
	}
}

// Model returns the tag of the vector space this coordinator writes
func (c *Coordinator) Model() string { return c.model }

// Store returns the persistent store behind the coordinator
func (c *Coordinator) Store() storage.Storage { return c.store }

// Index indexes root, creating the project on first use
func (c *Coordinator) Index(ctx context.Context, root string, opts IndexOptions) (*Summary, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotDirectory, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	project, err := c.store.GetProjectByPath(ctx, abs)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		name := opts.Name
		if name == "" {
			name = filepath.Base(abs)
		}
		project = &storage.Project{Name: name, RootPath: abs}
		if err := c.store.CreateProject(ctx, project); err != nil {
			return nil, fmt.Errorf("create project %s: %w", name, err)
		}
		c.logger.Info("project created", zap.String("project", name), zap.String("root", abs))
	case err != nil:
		return nil, fmt.Errorf("look up project: %w", err)
	case opts.Name != "" && opts.Name != project.Name:
		c.logger.Debug("root already indexed under another name",
			zap.String("project", project.Name), zap.String("requested", opts.Name))
	}

	pc, err := c.context(ctx, project)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, pc, RunIndex, opts.Force)
}

// Sync brings an indexed project up to date with its files
func (c *Coordinator) Sync(ctx context.Context, name string) (*Summary, error) {
	pc, err := c.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, pc, RunSync, false)
}

// SyncAll syncs every ready project. Projects with a writer already running
// are skipped.
func (c *Coordinator) SyncAll(ctx context.Context) ([]*Summary, error) {
	projects, err := c.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	var (
		out  []*Summary
		errs []error
	)
	for _, p := range projects {
		if !p.State.IsReady() {
			continue
		}
		sum, err := c.Sync(ctx, p.Name)
		if errors.Is(err, types.ErrConcurrentSync) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", p.Name, err))
		}
		if sum != nil {
			out = append(out, sum)
		}
	}
	return out, errors.Join(errs...)
}

// run executes one index or sync run while holding the project's lock
func (c *Coordinator) run(ctx context.Context, pc *projectContext, kind string, force bool) (*Summary, error) {
	name := pc.snapshot().Name
	if !pc.lock.TryAcquire() {
		return nil, fmt.Errorf("%w: %s", types.ErrConcurrentSync, name)
	}
	defer pc.lock.Release()

	next := types.StateIndexing
	if kind == RunSync {
		next = types.StateSyncing
		if state := pc.snapshot().State; !state.IsReady() {
			return nil, fmt.Errorf("%w: project %s is %s", types.ErrInvalidProjectState, name, state)
		}
	}
	if err := c.transition(ctx, pc, next, false); err != nil {
		return nil, err
	}

	sum, runErr := c.pipeline(ctx, pc, kind, force)

	final := types.StateReady
	synced := runErr == nil && !sum.Cancelled
	switch {
	case !synced && pc.snapshot().LastSyncAt.IsZero():
		final = types.StateUninitialized
	case !synced || sum.HasWarnings():
		final = types.StateReadyWithWarnings
	}
	if err := c.transition(context.WithoutCancel(ctx), pc, final, synced); err != nil {
		runErr = errors.Join(runErr, err)
	}
	sum.State = final

	pc.mu.Lock()
	pc.lastRun = sum
	pc.mu.Unlock()
	c.notifyCommit(pc.snapshot().ID)

	c.logger.Info("run finished",
		zap.String("project", name),
		zap.String("run_id", sum.RunID),
		zap.String("kind", kind),
		zap.String("state", string(final)),
		zap.Int("indexed", sum.FilesIndexed),
		zap.Int("unchanged", sum.FilesUnchanged),
		zap.Int("deleted", sum.FilesDeleted),
		zap.Int("failed", sum.FilesFailed),
		zap.Int("embeddings", sum.EmbeddingsCreated),
		zap.Duration("duration", sum.Duration))

	if runErr == nil && sum.Cancelled {
		runErr = ctx.Err()
	}
	return sum, runErr
}

// transition moves the project to next in memory and in storage
func (c *Coordinator) transition(ctx context.Context, pc *projectContext, next types.ProjectState, synced bool) error {
	pc.mu.Lock()
	from := pc.project.State
	state, err := from.Transition(next)
	if err != nil {
		pc.mu.Unlock()
		return err
	}
	pc.project.State = state
	if synced {
		pc.project.LastSyncAt = time.Now()
	}
	id, name := pc.project.ID, pc.project.Name
	pc.mu.Unlock()

	c.logger.Debug("project state",
		zap.String("project", name),
		zap.String("from", string(from)),
		zap.String("to", string(state)))

	if err := c.store.UpdateProjectState(ctx, id, state, synced); err != nil {
		return fmt.Errorf("persist state %s: %w", state, err)
	}
	return nil
}

// Remove deletes a project, its rows and its in-memory indexes
func (c *Coordinator) Remove(ctx context.Context, name string) error {
	project, err := c.getProject(ctx, name)
	if err != nil {
		return err
	}

	pc, err := c.context(ctx, project)
	if err != nil {
		// indexes could not be rebuilt; the rows still go
		c.logger.Warn("removing project without loaded indexes",
			zap.String("project", name), zap.Error(err))
		if err := c.store.DeleteProject(ctx, project.ID); err != nil {
			return fmt.Errorf("delete project %s: %w", name, err)
		}
		c.notifyCommit(project.ID)
		return nil
	}

	if !pc.lock.TryAcquire() {
		return fmt.Errorf("%w: %s", types.ErrConcurrentSync, name)
	}
	defer pc.lock.Release()

	if err := c.transition(ctx, pc, types.StateRemoving, false); err != nil {
		return err
	}
	if err := c.store.DeleteProject(ctx, project.ID); err != nil {
		return fmt.Errorf("delete project %s: %w", name, err)
	}

	c.mu.Lock()
	delete(c.projects, project.ID)
	c.mu.Unlock()

	if err := pc.vectors.Drop(ctx); err != nil {
		c.logger.Warn("dropping vector index", zap.String("project", name), zap.Error(err))
	}
	_ = pc.vectors.Close()
	c.notifyCommit(project.ID)

	c.logger.Info("project removed", zap.String("project", name))
	return nil
}

// Compact rebuilds the vector index of a project without its tombstones
func (c *Coordinator) Compact(ctx context.Context, name string) error {
	pc, err := c.lookup(ctx, name)
	if err != nil {
		return err
	}
	if !pc.lock.TryAcquire() {
		return fmt.Errorf("%w: %s", types.ErrConcurrentSync, name)
	}
	defer pc.lock.Release()

	before := pc.vectors.Tombstones()
	if err := pc.vectors.Compact(ctx); err != nil {
		return fmt.Errorf("compact %s: %w", name, err)
	}
	c.logger.Info("vector index compacted",
		zap.String("project", name), zap.Int("tombstones", before))
	return nil
}

// CompactAll compacts every loaded project that has tombstones
func (c *Coordinator) CompactAll(ctx context.Context) error {
	var errs []error
	for _, pc := range c.loadedContexts() {
		if pc.vectors == nil || pc.vectors.Tombstones() == 0 {
			continue
		}
		err := c.Compact(ctx, pc.snapshot().Name)
		if err != nil && !errors.Is(err, types.ErrConcurrentSync) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DropOrphans removes index entries whose chunk row no longer exists. It
// does nothing while a writer owns the project; that writer's own removals
// resolve the inconsistency.
func (c *Coordinator) DropOrphans(projectID int64, ids []string) {
	c.mu.Lock()
	pc, ok := c.projects[projectID]
	c.mu.Unlock()
	if !ok || len(ids) == 0 {
		return
	}
	select {
	case <-pc.loaded:
	default:
		return
	}
	if pc.loadErr != nil || !pc.lock.TryAcquire() {
		return
	}
	defer pc.lock.Release()

	ctx := context.Background()
	for _, id := range ids {
		if _, err := pc.vectors.Remove(ctx, id); err != nil {
			c.logger.Warn("dropping orphaned vector", zap.String("chunk_id", id), zap.Error(err))
		}
		pc.lexical.Remove(id)
		pc.graph.RemoveChunk(id)
	}
	c.notifyCommit(projectID)
	c.logger.Info("orphaned index entries dropped",
		zap.String("project", pc.snapshot().Name), zap.Int("count", len(ids)))
}

// Handle is the read side of one project
type Handle struct {
	Project storage.Project
	Vectors vectorindex.Index
	Lexical *lexical.Index
	Graph   *callgraph.Graph
}

// Target returns the handle in the shape the searcher expects
func (h *Handle) Target() *searcher.Target {
	return &searcher.Target{
		ProjectID: h.Project.ID,
		Project:   h.Project.Name,
		Vectors:   h.Vectors,
		Lexical:   h.Lexical,
	}
}

// Open returns the read side of a project. Queries are served while a sync
// runs; a project that never finished indexing is rejected.
func (c *Coordinator) Open(ctx context.Context, name string) (*Handle, error) {
	pc, err := c.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	p := pc.snapshot()
	indexed := !p.LastSyncAt.IsZero()
	switch {
	case p.State == types.StateRemoving,
		p.State == types.StateUninitialized,
		p.State == types.StateIndexing && !indexed:
		return nil, fmt.Errorf("%w: project %s has not been indexed", types.ErrInvalidProjectState, name)
	}
	return &Handle{Project: p, Vectors: pc.vectors, Lexical: pc.lexical, Graph: pc.graph}, nil
}

// ProjectInfo is one entry of ListProjects
type ProjectInfo struct {
	Name       string             `json:"name"`
	Path       string             `json:"path"`
	State      types.ProjectState `json:"state"`
	LastSync   *time.Time         `json:"last_sync,omitempty"`
	FileCount  int                `json:"file_count"`
	ChunkCount int                `json:"chunk_count"`
}

// ListProjects lists every known project with its current state
func (c *Coordinator) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	projects, err := c.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ProjectInfo, 0, len(projects))
	for _, p := range projects {
		info := ProjectInfo{Name: p.Name, Path: p.RootPath, State: c.liveState(p)}
		if !p.LastSyncAt.IsZero() {
			t := p.LastSyncAt
			info.LastSync = &t
		}
		stats, err := c.store.GetStats(ctx, p.ID, c.model)
		if err != nil {
			return nil, fmt.Errorf("stats for %s: %w", p.Name, err)
		}
		info.FileCount = stats.Files
		info.ChunkCount = stats.Chunks
		out = append(out, info)
	}
	return out, nil
}

// Status describes one project in detail
type Status struct {
	Project     storage.Project       `json:"project"`
	Model       string                `json:"model"`
	Busy        bool                  `json:"busy"`
	Stats       *storage.ProjectStats `json:"stats"`
	Vectors     int                   `json:"vectors"`
	Tombstones  int                   `json:"tombstones"`
	LexicalDocs int                   `json:"lexical_docs"`
	GraphChunks int                   `json:"graph_chunks"`
	LastRun     *Summary              `json:"last_run,omitempty"`
}

// Status reports counts and state of a project
func (c *Coordinator) Status(ctx context.Context, name string) (*Status, error) {
	pc, err := c.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	p := pc.snapshot()
	stats, err := c.store.GetStats(ctx, p.ID, c.model)
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", name, err)
	}

	pc.mu.RLock()
	last := pc.lastRun
	pc.mu.RUnlock()

	return &Status{
		Project:     p,
		Model:       c.model,
		Busy:        pc.lock.Held(),
		Stats:       stats,
		Vectors:     pc.vectors.Len(),
		Tombstones:  pc.vectors.Tombstones(),
		LexicalDocs: pc.lexical.Len(),
		GraphChunks: pc.graph.Len(),
		LastRun:     last,
	}, nil
}

// Close releases every loaded vector index
func (c *Coordinator) Close() error {
	var errs []error
	for _, pc := range c.loadedContexts() {
		if pc.vectors != nil {
			errs = append(errs, pc.vectors.Close())
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) liveState(p *storage.Project) types.ProjectState {
	c.mu.Lock()
	pc, ok := c.projects[p.ID]
	c.mu.Unlock()
	if !ok {
		return p.State
	}
	return pc.snapshot().State
}

func (c *Coordinator) loadedContexts() []*projectContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*projectContext, 0, len(c.projects))
	for _, pc := range c.projects {
		select {
		case <-pc.loaded:
			if pc.loadErr == nil {
				out = append(out, pc)
			}
		default:
		}
	}
	return out
}

func (c *Coordinator) getProject(ctx context.Context, name string) (*storage.Project, error) {
	project, err := c.store.GetProject(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrProjectNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("look up project %s: %w", name, err)
	}
	return project, nil
}

func (c *Coordinator) lookup(ctx context.Context, name string) (*projectContext, error) {
	project, err := c.getProject(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.context(ctx, project)
}

// context returns the loaded context of a project, rebuilding its indexes
// from storage on first use. Concurrent callers wait for one load.
func (c *Coordinator) context(ctx context.Context, project *storage.Project) (*projectContext, error) {
	c.mu.Lock()
	pc, ok := c.projects[project.ID]
	if !ok {
		pc = &projectContext{loaded: make(chan struct{}), project: *project}
		c.projects[project.ID] = pc
	}
	c.mu.Unlock()

	if ok {
		select {
		case <-pc.loaded:
			return pc, pc.loadErr
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	pc.loadErr = c.load(ctx, pc)
	close(pc.loaded)
	if pc.loadErr != nil {
		c.mu.Lock()
		delete(c.projects, project.ID)
		c.mu.Unlock()
		return nil, pc.loadErr
	}
	return pc, nil
}

// load rebuilds the in-memory indexes of a project from storage. A state
// left busy by a crashed process is recovered first.
func (c *Coordinator) load(ctx context.Context, pc *projectContext) error {
	start := time.Now()
	p := pc.project

	if p.State.IsBusy() {
		recovered := types.StateReadyWithWarnings
		if p.LastSyncAt.IsZero() {
			recovered = types.StateUninitialized
		}
		c.logger.Warn("recovering interrupted run",
			zap.String("project", p.Name),
			zap.String("state", string(p.State)),
			zap.String("recovered", string(recovered)))
		if err := c.store.UpdateProjectState(ctx, p.ID, recovered, false); err != nil {
			return fmt.Errorf("recover state of %s: %w", p.Name, err)
		}
		pc.project.State = recovered
	}

	vopts := c.opts.Vector
	vopts.Dimension = c.embedder.Dimension()
	vopts.Store = c.store
	vopts.ProjectID = p.ID
	vopts.Model = c.model
	vectors, err := vectorindex.New(ctx, p.Name, vopts, c.logger)
	if err != nil {
		return fmt.Errorf("open vector index of %s: %w", p.Name, err)
	}
	pc.vectors = vectors
	pc.lexical = lexical.New()
	pc.graph = callgraph.New()

	defs := make(map[string][]types.Definition)
	symbols, err := c.store.ListSymbols(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}
	for _, s := range symbols {
		defs[s.ChunkID] = append(defs[s.ChunkID], s.ToDefinition())
	}
	calls := make(map[string][]types.CallSite)
	edges, err := c.store.ListCallEdges(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load call edges: %w", err)
	}
	for _, e := range edges {
		calls[e.CallerChunk] = append(calls[e.CallerChunk], types.CallSite{Callee: e.Callee, Line: e.Line})
	}

	err = c.store.EachChunk(ctx, p.ID, func(ch *storage.Chunk) error {
		if tc := ch.ToTypesChunk(); !tc.IsEmpty() {
			pc.lexical.Index(ch.ID, lexicalText(tc))
		}
		pc.graph.Add(ch.Ref(), defs[ch.ID], calls[ch.ID])
		return nil
	})
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}

	ids := make([]string, 0, loadBatch)
	vecs := make([][]float32, 0, loadBatch)
	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		err := vectors.InsertBatch(ctx, ids, vecs)
		ids, vecs = ids[:0], vecs[:0]
		return err
	}
	err = c.store.EachEmbedding(ctx, p.ID, c.model, func(id string, vec []float32) error {
		ids = append(ids, id)
		vecs = append(vecs, vec)
		if len(ids) == loadBatch {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}

	c.logger.Info("project loaded",
		zap.String("project", p.Name),
		zap.String("state", string(pc.project.State)),
		zap.Int("chunks", pc.lexical.Len()),
		zap.Int("vectors", vectors.Len()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (pc *projectContext) snapshot() storage.Project {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.project
}

// lexicalText is what the BM25 index sees of a chunk: path and symbol make
// file and function names searchable. Empty chunks are never indexed.
func lexicalText(c types.Chunk) string {
	return c.FilePath + "\n" + c.Symbol + "\n" + c.Content
}

func chunkRef(c types.Chunk) types.ChunkRef {
	return types.ChunkRef{
		ChunkID:  c.ID,
		FilePath: c.FilePath,
		Span:     types.Span{StartLine: c.StartLine, EndLine: c.EndLine},
		Symbol:   c.Symbol,
	}
}
