package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/coderag-mcp/internal/changes"
	"github.com/dshills/coderag-mcp/internal/embedder"
	"github.com/dshills/coderag-mcp/internal/security"
	"github.com/dshills/coderag-mcp/internal/storage"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// runState is the mutable state of one index or sync run. Only the writer
// goroutine touches sum.
type runState struct {
	pc      *projectContext
	project storage.Project
	sum     *Summary
	log     *zap.Logger

	// embedDown is set once the backend gave up, so the remaining files
	// are committed without vectors and left to the backfill
	embedDown atomic.Bool
}

// prepared is a file read, chunked, redacted and embedded by a worker
type prepared struct {
	entry       fileEntry
	fingerprint [32]byte
	fileID      int64
	diff        changes.ChunkDiff
	vectors     map[string][]float32
	stats       security.Stats
	binary      bool

	err  error
	kind string
}

// scanned is the fingerprint of one walked file
type scanned struct {
	fingerprint [32]byte
	binary      bool
	err         error
}

func (c *Coordinator) pipeline(ctx context.Context, pc *projectContext, kind string, force bool) (*Summary, error) {
	start := time.Now()
	project := pc.snapshot()
	r := &runState{
		pc:      pc,
		project: project,
		sum:     &Summary{RunID: uuid.NewString(), Project: project.Name, Kind: kind},
	}
	r.log = c.logger.With(zap.String("project", project.Name), zap.String("run_id", r.sum.RunID))
	defer func() { r.sum.Duration = time.Since(start) }()

	entries, skipped, err := walk(project.RootPath, c.opts.walkOptions())
	if err != nil {
		return r.sum, fmt.Errorf("walk %s: %w", project.RootPath, errors.Join(types.ErrRecoverableIO, err))
	}
	r.sum.FilesSkipped = len(skipped)
	for _, s := range skipped {
		r.log.Debug("file skipped", zap.String("file", s.RelPath), zap.String("reason", s.Reason))
	}

	stored, err := c.store.ListFiles(ctx, project.ID)
	if err != nil {
		return r.sum, fmt.Errorf("list files: %w", err)
	}
	storedByPath := make(map[string]*storage.File, len(stored))
	previous := make(map[string][32]byte, len(stored))
	for _, f := range stored {
		storedByPath[f.RelPath] = f
		previous[f.RelPath] = f.Fingerprint
	}

	current := c.fingerprint(ctx, r, entries, previous)
	if ctx.Err() != nil {
		r.sum.Cancelled = true
		return r.sum, nil
	}

	plan := changes.Classify(previous, current)
	if force {
		plan.Modified = append(plan.Modified, plan.Unchanged...)
		sort.Strings(plan.Modified)
		plan.Unchanged = nil
	}
	r.sum.FilesUnchanged = len(plan.Unchanged)
	r.log.Info("change plan",
		zap.String("kind", kind),
		zap.Int("new", len(plan.New)),
		zap.Int("modified", len(plan.Modified)),
		zap.Int("unchanged", len(plan.Unchanged)),
		zap.Int("deleted", len(plan.Deleted)))

	byPath := make(map[string]fileEntry, len(entries))
	for _, e := range entries {
		byPath[e.RelPath] = e
	}
	pending := make([]fileEntry, 0, len(plan.New)+len(plan.Modified))
	for _, rel := range plan.Pending() {
		pending = append(pending, byPath[rel])
	}

	if err := c.processFiles(ctx, r, pending, storedByPath); err != nil {
		return r.sum, err
	}
	if err := c.deleteFiles(ctx, r, plan.Deleted, storedByPath); err != nil {
		return r.sum, err
	}
	if r.sum.Cancelled {
		return r.sum, nil
	}
	if err := c.backfill(ctx, r); err != nil {
		return r.sum, err
	}
	return r.sum, nil
}

// fingerprint hashes every walked file concurrently. A file that cannot be
// read keeps its stored fingerprint so it is neither re-indexed nor deleted.
func (c *Coordinator) fingerprint(ctx context.Context, r *runState, entries []fileEntry, previous map[string][32]byte) map[string][32]byte {
	results := make([]scanned, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].err = err
				return nil
			}
			content, err := os.ReadFile(entries[i].AbsPath)
			if err != nil {
				results[i].err = errors.Join(types.ErrRecoverableIO, err)
				return nil
			}
			results[i].binary = isBinary(content)
			results[i].fingerprint = changes.Fingerprint(content)
			return nil
		})
	}
	_ = g.Wait()

	current := make(map[string][32]byte, len(entries))
	for i, res := range results {
		rel := entries[i].RelPath
		switch {
		case res.err != nil:
			if ctx.Err() != nil {
				continue
			}
			r.sum.addError(rel, KindIO, res.err)
			if fp, ok := previous[rel]; ok {
				current[rel] = fp
			}
		case res.binary:
			r.sum.FilesSkipped++
			r.log.Debug("file skipped", zap.String("file", rel), zap.String("reason", SkipBinary))
		default:
			current[rel] = res.fingerprint
		}
	}
	return current
}

// processFiles prepares pending files on a worker pool and commits them
// from the calling goroutine, which is the only writer of the project
func (c *Coordinator) processFiles(ctx context.Context, r *runState, pending []fileEntry, stored map[string]*storage.File) error {
	if len(pending) == 0 {
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan fileEntry)
	out := make(chan *prepared, c.opts.Workers)

	g, gctx := errgroup.WithContext(wctx)
	g.Go(func() error {
		defer close(work)
		for _, e := range pending {
			select {
			case work <- e:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for e := range work {
				p := c.prepare(gctx, r, e, stored[e.RelPath])
				select {
				case out <- p:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	var fatal error
	for p := range out {
		if fatal != nil {
			continue
		}
		if ctx.Err() != nil {
			r.sum.Cancelled = true
			continue
		}
		if err := c.commit(ctx, r, p); err != nil {
			fatal = err
			cancel()
		}
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		r.sum.Cancelled = true
	}
	return fatal
}

// prepare does everything for one file that does not write
func (c *Coordinator) prepare(ctx context.Context, r *runState, e fileEntry, stored *storage.File) *prepared {
	p := &prepared{entry: e}

	content, err := os.ReadFile(e.AbsPath)
	if err != nil {
		p.err, p.kind = errors.Join(types.ErrRecoverableIO, err), KindIO
		return p
	}
	if isBinary(content) {
		p.binary = true
		return p
	}
	p.fingerprint = changes.Fingerprint(content)

	chunks, err := c.chunker.Chunk(ctx, e.RelPath, content, e.Language)
	if err != nil {
		p.err, p.kind = err, KindIO
		return p
	}
	p.stats = c.filter.Apply(e.RelPath, e.Action, chunks)

	var old []changes.StoredChunk
	if stored != nil {
		p.fileID = stored.ID
		rows, err := c.store.ListChunksByFile(ctx, r.project.ID, stored.ID)
		if err != nil {
			p.err, p.kind = fmt.Errorf("load stored chunks: %w", err), KindStorage
			return p
		}
		old = make([]changes.StoredChunk, len(rows))
		for i, row := range rows {
			old[i] = changes.StoredChunk{
				ID:          row.ID,
				Fingerprint: row.Fingerprint,
				StartLine:   row.StartLine,
				EndLine:     row.EndLine,
			}
		}
	}
	p.diff = changes.DiffChunks(old, chunks)
	if p.diff.BoundaryShift {
		r.log.Debug("chunk boundaries shifted",
			zap.String("file", e.RelPath),
			zap.Int("added", len(p.diff.Added)),
			zap.Int("removed", len(p.diff.Removed)))
	}

	p.vectors = c.embedChunks(ctx, r, e.RelPath, p.diff.Added)
	return p
}

// embedChunks embeds the non-empty chunks of a file. On failure the file
// is still committed; its chunks are picked up by the backfill.
func (c *Coordinator) embedChunks(ctx context.Context, r *runState, path string, chunks []types.Chunk) map[string][]float32 {
	ids := make([]string, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for i := range chunks {
		if chunks[i].IsEmpty() {
			continue
		}
		ids = append(ids, chunks[i].ID)
		texts = append(texts, chunks[i].EmbedText())
	}
	if len(texts) == 0 || r.embedDown.Load() {
		return nil
	}

	resp, err := c.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("embedding failed, deferring to backfill", zap.String("file", path), zap.Error(err))
			if errors.Is(err, types.ErrBackendUnavailable) {
				r.embedDown.Store(true)
			}
		}
		return nil
	}

	out := make(map[string][]float32, len(ids))
	for i, emb := range resp.Embeddings {
		if i < len(ids) && emb != nil {
			out[ids[i]] = emb.Vector
		}
	}
	return out
}

// commit writes one prepared file and then mirrors it in memory. Only
// resource exhaustion is returned; other failures are recorded per file.
func (c *Coordinator) commit(ctx context.Context, r *runState, p *prepared) error {
	rel := p.entry.RelPath
	if p.err != nil {
		if ctx.Err() == nil {
			r.sum.addError(rel, p.kind, p.err)
		}
		return nil
	}
	if p.binary {
		r.sum.FilesSkipped++
		return nil
	}

	pid := r.project.ID
	file := &storage.File{
		ID:          p.fileID,
		ProjectID:   pid,
		RelPath:     rel,
		Fingerprint: p.fingerprint,
		ModTime:     p.entry.ModTime,
		SizeBytes:   p.entry.Size,
		Language:    p.entry.Language,
	}
	fc := &storage.FileCommit{File: file}

	all := make([]types.Chunk, 0, len(p.diff.Unchanged)+len(p.diff.Added))
	all = append(all, p.diff.Unchanged...)
	all = append(all, p.diff.Added...)
	for _, ch := range p.diff.Added {
		fc.Added = append(fc.Added, storage.FromTypesChunk(ch, pid, p.fileID))
		if vec, ok := p.vectors[ch.ID]; ok {
			fc.Vectors = append(fc.Vectors, storage.Embedding{ChunkID: ch.ID, Vector: vec, Model: c.model})
		}
	}
	for _, ch := range p.diff.Unchanged {
		fc.Unchanged = append(fc.Unchanged, storage.FromTypesChunk(ch, pid, p.fileID))
	}
	for _, ch := range all {
		fc.Symbols = append(fc.Symbols, storage.SymbolsFromChunk(ch, pid, p.fileID)...)
		fc.Edges = append(fc.Edges, storage.EdgesFromChunk(ch, pid, p.fileID)...)
	}
	for _, old := range p.diff.Removed {
		fc.Removed = append(fc.Removed, old.ID)
	}

	if err := c.store.CommitFile(ctx, fc); err != nil {
		if errors.Is(err, types.ErrResourceExhausted) {
			return fmt.Errorf("commit %s: %w", rel, err)
		}
		if ctx.Err() != nil {
			r.sum.Cancelled = true
			return nil
		}
		r.sum.addError(rel, KindStorage, err)
		return nil
	}

	// storage is committed; memory must follow even if the run is cancelled
	mctx := context.WithoutCancel(ctx)
	pc := r.pc
	for _, ch := range p.diff.Added {
		if !ch.IsEmpty() {
			pc.lexical.Index(ch.ID, lexicalText(ch))
		}
	}
	for _, ch := range all {
		pc.graph.Add(chunkRef(ch), ch.Definitions, ch.Calls)
	}
	if len(fc.Vectors) > 0 {
		ids := make([]string, len(fc.Vectors))
		vecs := make([][]float32, len(fc.Vectors))
		for i, v := range fc.Vectors {
			ids[i], vecs[i] = v.ChunkID, v.Vector
		}
		if err := pc.vectors.InsertBatch(mctx, ids, vecs); err != nil {
			err = errors.Join(types.ErrIndexInconsistency, err)
			r.log.Error("vector insert failed after commit", zap.String("file", rel), zap.Error(err))
			r.sum.warn("%s: %v", rel, err)
		}
	}
	c.forget(mctx, r, fc.Removed)
	c.notifyCommit(pid)

	r.sum.FilesIndexed++
	r.sum.ChunksAdded += len(p.diff.Added)
	r.sum.ChunksKept += len(p.diff.Unchanged)
	r.sum.ChunksRemoved += len(p.diff.Removed)
	r.sum.EmbeddingsCreated += len(fc.Vectors)
	r.sum.Redactions += p.stats.Redactions
	r.sum.SuspiciousChunks += p.stats.Suspicious
	if p.stats.Unscanned > 0 {
		r.sum.warn("%s: secret scan timed out in %d chunk(s), unscanned text was redacted", p.entry.RelPath, p.stats.Unscanned)
	}
	return nil
}

// deleteFiles removes files that disappeared from disk
func (c *Coordinator) deleteFiles(ctx context.Context, r *runState, deleted []string, stored map[string]*storage.File) error {
	pid := r.project.ID
	for _, rel := range deleted {
		if ctx.Err() != nil {
			r.sum.Cancelled = true
			return nil
		}
		f, ok := stored[rel]
		if !ok {
			continue
		}
		rows, err := c.store.ListChunksByFile(ctx, pid, f.ID)
		if err != nil {
			r.sum.addError(rel, KindStorage, err)
			continue
		}
		if err := c.store.DeleteFile(ctx, pid, rel); err != nil {
			if errors.Is(err, types.ErrResourceExhausted) {
				return fmt.Errorf("delete %s: %w", rel, err)
			}
			r.sum.addError(rel, KindStorage, err)
			continue
		}

		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
		c.forget(context.WithoutCancel(ctx), r, ids)
		c.notifyCommit(pid)

		r.sum.FilesDeleted++
		r.sum.ChunksRemoved += len(ids)
	}
	return nil
}

// forget removes chunk ids from every in-memory index
func (c *Coordinator) forget(ctx context.Context, r *runState, ids []string) {
	for _, id := range ids {
		if _, err := r.pc.vectors.Remove(ctx, id); err != nil {
			r.log.Warn("vector remove failed", zap.String("chunk_id", id), zap.Error(err))
		}
		r.pc.lexical.Remove(id)
		r.pc.graph.RemoveChunk(id)
	}
}

// backfill embeds chunks whose vector is missing or was produced by another
// model. A backend failure ends the backfill and leaves a warning. A chunk the
// backend returns no vector for is tried once per run; the listing window
// grows by the number of such chunks so they never hide the rest.
func (c *Coordinator) backfill(ctx context.Context, r *runState) error {
	pid := r.project.ID
	attempted := make(map[string]bool)
	for {
		if ctx.Err() != nil {
			r.sum.Cancelled = true
			return nil
		}
		rows, err := c.store.ListMissingEmbeddings(ctx, pid, c.model, c.opts.BackfillBatch+len(attempted))
		if err != nil {
			r.sum.warn("embedding backfill: %v", err)
			return nil
		}

		var (
			ids   []string
			texts []string
		)
		for _, row := range rows {
			if attempted[row.ID] || len(ids) == c.opts.BackfillBatch {
				continue
			}
			attempted[row.ID] = true
			ch := row.ToTypesChunk()
			ids = append(ids, row.ID)
			texts = append(texts, ch.EmbedText())
		}
		if len(ids) == 0 {
			return nil
		}

		resp, err := c.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			if ctx.Err() != nil {
				r.sum.Cancelled = true
				return nil
			}
			r.sum.EmbeddingsFailed += len(ids)
			r.sum.warn("embedding backfill incomplete: %v", err)
			r.log.Warn("embedding backfill failed", zap.Int("chunks", len(ids)), zap.Error(err))
			return nil
		}

		embs := make([]storage.Embedding, 0, len(ids))
		vecs := make([][]float32, 0, len(ids))
		for i, e := range resp.Embeddings {
			if i >= len(ids) || e == nil {
				continue
			}
			embs = append(embs, storage.Embedding{ChunkID: ids[i], Vector: e.Vector, Model: c.model})
			vecs = append(vecs, e.Vector)
		}
		if missed := len(ids) - len(embs); missed > 0 {
			r.sum.EmbeddingsFailed += missed
			r.sum.warn("embedding backfill: backend returned no vector for %d chunk(s)", missed)
		}
		if err := c.store.UpsertEmbeddings(ctx, pid, embs); err != nil {
			if errors.Is(err, types.ErrResourceExhausted) {
				return fmt.Errorf("store embeddings: %w", err)
			}
			r.sum.EmbeddingsFailed += len(embs)
			r.sum.warn("embedding backfill: %v", err)
			return nil
		}

		vids := make([]string, len(embs))
		for i, e := range embs {
			vids[i] = e.ChunkID
		}
		if err := r.pc.vectors.InsertBatch(context.WithoutCancel(ctx), vids, vecs); err != nil {
			r.sum.warn("backfill vector insert: %v", errors.Join(types.ErrIndexInconsistency, err))
		}
		r.sum.EmbeddingsCreated += len(embs)
		c.notifyCommit(pid)
		r.log.Debug("embeddings backfilled", zap.Int("chunks", len(embs)))
	}
}
