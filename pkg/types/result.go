package types

// Span is a 1-based inclusive line range
type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	ChunkID string  `json:"chunk_id"`
	Rank    int     `json:"rank"` // 1-based position in the result set
	Score   float64 `json:"score"`

	FilePath string    `json:"file"`
	Span     Span      `json:"span"`
	Symbol   string    `json:"symbol,omitempty"`
	Kind     ChunkKind `json:"kind"`
	Language Language  `json:"language"`
	Content  string    `json:"text"`

	// Set when the chunk text matched the injection scanner at ingestion
	Suspicious bool   `json:"suspicious,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == "" {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.FilePath == "" {
		return ErrMissingFile
	}

	if sr.Span.StartLine <= 0 || sr.Span.StartLine > sr.Span.EndLine {
		return ErrInvalidSpan
	}

	return nil
}

// ChunkRef points at a chunk in a project
type ChunkRef struct {
	ChunkID  string `json:"chunk_id"`
	FilePath string `json:"file"`
	Span     Span   `json:"span"`
	Symbol   string `json:"symbol,omitempty"`
}

// SymbolRef points at a symbol definition
type SymbolRef struct {
	Name     string     `json:"symbol"`
	Kind     SymbolKind `json:"kind"`
	FilePath string     `json:"file"`
	Span     Span       `json:"span"`
	ChunkID  string     `json:"chunk_id,omitempty"`
}
