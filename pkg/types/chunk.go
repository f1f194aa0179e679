package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ChunkKind represents the type of code chunk
type ChunkKind string

const (
	ChunkFunction  ChunkKind = "function"
	ChunkMethod    ChunkKind = "method"
	ChunkClass     ChunkKind = "class"
	ChunkType      ChunkKind = "type"
	ChunkImpl      ChunkKind = "impl"
	ChunkModule    ChunkKind = "module"
	ChunkConst     ChunkKind = "const"
	ChunkVar       ChunkKind = "var"
	ChunkSymbol    ChunkKind = "symbol"
	ChunkSection   ChunkKind = "section"
	ChunkEnvVar    ChunkKind = "env_var"
	ChunkLineBlock ChunkKind = "line_block"
	ChunkFile      ChunkKind = "file"
)

// IsFunctionLike reports whether call sites are collected for the kind
func (k ChunkKind) IsFunctionLike() bool {
	switch k {
	case ChunkFunction, ChunkMethod:
		return true
	}
	return false
}

// CallSite is a reference to a callee found inside a chunk body
type CallSite struct {
	Callee string // last identifier segment, e.g. "Foo" for pkg.Foo()
	Line   int
}

// Definition is a symbol defined by a chunk
type Definition struct {
	Name      string
	Kind      SymbolKind
	Signature string
	StartLine int
	EndLine   int
}

// Chunk represents a semantically meaningful code section for embedding and search
type Chunk struct {
	// Identification
	ID       string
	FilePath string // Relative to project root
	Language Language

	// Content. Fingerprint is computed over the raw text, Content may be redacted.
	Content     string
	Fingerprint [32]byte

	// Location (1-based, inclusive lines; byte offsets into the file)
	StartLine int
	EndLine   int
	StartByte int
	EndByte   int

	// Metadata
	Kind        ChunkKind
	Symbol      string
	Definitions []Definition
	Calls       []CallSite

	// Security annotations
	Suspicious bool
	Redactions int
}

// ComputeFingerprint computes the SHA-256 hash of the raw chunk content
func (c *Chunk) ComputeFingerprint() {
	c.Fingerprint = sha256.Sum256([]byte(c.Content))
}

// IsEmpty reports whether the chunk carries no indexable text
func (c *Chunk) IsEmpty() bool {
	return strings.TrimSpace(c.Content) == ""
}

// Validate checks line span and kind
func (c *Chunk) Validate() error {
	if c.FilePath == "" {
		return ErrMissingFile
	}

	if c.StartLine <= 0 || c.EndLine <= 0 || c.StartLine > c.EndLine {
		return fmt.Errorf("%w: %d-%d", ErrInvalidSpan, c.StartLine, c.EndLine)
	}

	if c.Kind == "" {
		return errors.New("chunk kind is required")
	}

	return nil
}

// EmbedText returns the content prefixed with a file, language and symbol header
func (c *Chunk) EmbedText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "// File: %s\n", c.FilePath)
	fmt.Fprintf(&b, "// Language: %s\n", c.Language)
	if c.Symbol != "" {
		fmt.Fprintf(&b, "// %s: %s\n", c.Kind, c.Symbol)
	}
	b.WriteString("\n")
	b.WriteString(c.Content)
	return b.String()
}

// ChunkID derives the stable identifier of a chunk. Identical content at a
// different position keeps its id; occurrence disambiguates duplicates
// within one file.
func ChunkID(relPath string, kind ChunkKind, symbol string, fingerprint [32]byte, occurrence int) string {
	h := sha256.New()
	h.Write([]byte(relPath))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	h.Write(fingerprint[:])

	var occ [8]byte
	binary.LittleEndian.PutUint64(occ[:], uint64(occurrence))
	h.Write(occ[:])

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// AssignIDs fills in fingerprints and ids for chunks of a single file in order
func AssignIDs(chunks []Chunk) {
	type key struct {
		kind   ChunkKind
		symbol string
		fp     [32]byte
	}
	seen := make(map[key]int, len(chunks))

	for i := range chunks {
		c := &chunks[i]
		c.ComputeFingerprint()
		k := key{kind: c.Kind, symbol: c.Symbol, fp: c.Fingerprint}
		c.ID = ChunkID(c.FilePath, c.Kind, c.Symbol, c.Fingerprint, seen[k])
		seen[k]++
	}
}
