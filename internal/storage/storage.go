package storage

import (
	"context"
	"time"

	"github.com/dshills/coderag-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying indexed code data
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, name string) (*Project, error)
	GetProjectByPath(ctx context.Context, rootPath string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	UpdateProjectState(ctx context.Context, projectID int64, state types.ProjectState, synced bool) error
	DeleteProject(ctx context.Context, projectID int64) error

	// File operations. A file row exists only once its chunks are committed.
	GetFile(ctx context.Context, projectID int64, relPath string) (*File, error)
	ListFiles(ctx context.Context, projectID int64) ([]*File, error)
	CommitFile(ctx context.Context, commit *FileCommit) error
	DeleteFile(ctx context.Context, projectID int64, relPath string) error

	// Chunk operations
	ListChunksByFile(ctx context.Context, projectID, fileID int64) ([]*Chunk, error)
	GetChunks(ctx context.Context, projectID int64, ids []string) (map[string]*Chunk, error)
	EachChunk(ctx context.Context, projectID int64, fn func(*Chunk) error) error

	// Embedding operations
	UpsertEmbeddings(ctx context.Context, projectID int64, embeddings []Embedding) error
	EachEmbedding(ctx context.Context, projectID int64, model string, fn func(chunkID string, vector []float32) error) error
	ListMissingEmbeddings(ctx context.Context, projectID int64, model string, limit int) ([]*Chunk, error)
	SearchVector(ctx context.Context, projectID int64, model string, query []float32, limit int) ([]VectorResult, error)

	// Symbol and call graph operations
	SearchSymbols(ctx context.Context, projectID int64, pattern string, limit int) ([]*Symbol, error)
	ListSymbols(ctx context.Context, projectID int64) ([]*Symbol, error)
	ListCallEdges(ctx context.Context, projectID int64) ([]*CallEdge, error)

	// Status operations
	GetStats(ctx context.Context, projectID int64, model string) (*ProjectStats, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transaction over the write path of a single file
type Tx interface {
	Commit() error
	Rollback() error

	UpsertFile(ctx context.Context, file *File) error
	InsertChunks(ctx context.Context, projectID, fileID int64, chunks []*Chunk) error
	UpdateChunkSpans(ctx context.Context, projectID int64, chunks []*Chunk) error
	DeleteChunks(ctx context.Context, projectID int64, ids []string) (int, error)
	UpsertEmbeddings(ctx context.Context, projectID int64, embeddings []Embedding) error
	ReplaceSymbols(ctx context.Context, projectID, fileID int64, symbols []*Symbol) error
	ReplaceCallEdges(ctx context.Context, projectID, fileID int64, edges []*CallEdge) error
}

// Project is an indexed repository
type Project struct {
	ID         int64
	Name       string
	RootPath   string
	State      types.ProjectState
	LastSyncAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// File is the persisted sync state of one source file
type File struct {
	ID          int64
	ProjectID   int64
	RelPath     string
	Fingerprint [32]byte
	ModTime     time.Time
	SizeBytes   int64
	Language    types.Language
	IndexedAt   time.Time
}

// Chunk is a stored chunk row. Content is already redacted.
type Chunk struct {
	ID          string
	ProjectID   int64
	FileID      int64
	FilePath    string
	Language    types.Language
	Kind        types.ChunkKind
	Symbol      string
	Content     string
	Fingerprint [32]byte
	StartLine   int
	EndLine     int
	StartByte   int
	EndByte     int
	Suspicious  bool
	Redactions  int
}

// Embedding is the vector of one chunk, tagged with the model that produced it
type Embedding struct {
	ChunkID string
	Vector  []float32
	Model   string
}

// Symbol is a definition owned by a chunk
type Symbol struct {
	ID        int64
	ProjectID int64
	FileID    int64
	ChunkID   string
	FilePath  string
	Name      string
	Kind      types.SymbolKind
	Signature string
	StartLine int
	EndLine   int
}

// CallEdge is a call site inside a chunk body
type CallEdge struct {
	ProjectID    int64
	FileID       int64
	CallerChunk  string
	CallerSymbol string
	Callee       string
	Line         int
}

// FileCommit is everything a sync writes for one file, applied in one
// transaction. Symbols and Edges cover every chunk of the file, since lines
// inside unchanged chunks may have moved.
type FileCommit struct {
	File      *File
	Added     []*Chunk
	Unchanged []*Chunk // span updates only
	Removed   []string
	Vectors   []Embedding
	Symbols   []*Symbol
	Edges     []*CallEdge
}

// VectorResult represents a result from exact vector similarity search
type VectorResult struct {
	ChunkID         string
	SimilarityScore float64
}

// ProjectStats contains counts about an indexed project
type ProjectStats struct {
	Files            int
	Chunks           int
	Embeddings       int
	StaleEmbeddings  int
	Symbols          int
	CallEdges        int
	SuspiciousChunks int
	Redactions       int
	Languages        map[types.Language]int
	SymbolKinds      map[types.SymbolKind]int
	IndexSizeMB      float64
}

// ToTypesChunk converts a stored chunk to types.Chunk
func (c *Chunk) ToTypesChunk() types.Chunk {
	return types.Chunk{
		ID:          c.ID,
		FilePath:    c.FilePath,
		Language:    c.Language,
		Content:     c.Content,
		Fingerprint: c.Fingerprint,
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
		StartByte:   c.StartByte,
		EndByte:     c.EndByte,
		Kind:        c.Kind,
		Symbol:      c.Symbol,
		Suspicious:  c.Suspicious,
		Redactions:  c.Redactions,
	}
}

// Ref returns a pointer to the chunk for call graph answers
func (c *Chunk) Ref() types.ChunkRef {
	return types.ChunkRef{
		ChunkID:  c.ID,
		FilePath: c.FilePath,
		Span:     types.Span{StartLine: c.StartLine, EndLine: c.EndLine},
		Symbol:   c.Symbol,
	}
}

// FromTypesChunk converts types.Chunk to a storage Chunk
func FromTypesChunk(c types.Chunk, projectID, fileID int64) *Chunk {
	return &Chunk{
		ID:          c.ID,
		ProjectID:   projectID,
		FileID:      fileID,
		FilePath:    c.FilePath,
		Language:    c.Language,
		Kind:        c.Kind,
		Symbol:      c.Symbol,
		Content:     c.Content,
		Fingerprint: c.Fingerprint,
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
		StartByte:   c.StartByte,
		EndByte:     c.EndByte,
		Suspicious:  c.Suspicious,
		Redactions:  c.Redactions,
	}
}

// SymbolsFromChunk converts the definitions of a chunk to symbol rows
func SymbolsFromChunk(c types.Chunk, projectID, fileID int64) []*Symbol {
	out := make([]*Symbol, 0, len(c.Definitions))
	for _, d := range c.Definitions {
		out = append(out, &Symbol{
			ProjectID: projectID,
			FileID:    fileID,
			ChunkID:   c.ID,
			FilePath:  c.FilePath,
			Name:      d.Name,
			Kind:      d.Kind,
			Signature: d.Signature,
			StartLine: d.StartLine,
			EndLine:   d.EndLine,
		})
	}
	return out
}

// EdgesFromChunk converts the call sites of a chunk to call edge rows
func EdgesFromChunk(c types.Chunk, projectID, fileID int64) []*CallEdge {
	out := make([]*CallEdge, 0, len(c.Calls))
	for _, call := range c.Calls {
		out = append(out, &CallEdge{
			ProjectID:    projectID,
			FileID:       fileID,
			CallerChunk:  c.ID,
			CallerSymbol: c.Symbol,
			Callee:       call.Callee,
			Line:         call.Line,
		})
	}
	return out
}

// ToDefinition converts a symbol row back to a chunk definition
func (s *Symbol) ToDefinition() types.Definition {
	return types.Definition{
		Name:      s.Name,
		Kind:      s.Kind,
		Signature: s.Signature,
		StartLine: s.StartLine,
		EndLine:   s.EndLine,
	}
}

// ToSymbolRef converts a symbol row to a search_symbols answer
func (s *Symbol) ToSymbolRef() types.SymbolRef {
	return types.SymbolRef{
		Name:     s.Name,
		Kind:     s.Kind,
		FilePath: s.FilePath,
		Span:     types.Span{StartLine: s.StartLine, EndLine: s.EndLine},
		ChunkID:  s.ChunkID,
	}
}
