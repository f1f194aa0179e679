// Package changes decides what an indexing run has to redo. Files are
// compared by content fingerprint and chunks by fingerprint multiset, so
// touching a file or moving code around never forces re-embedding.
package changes

import (
	"crypto/sha256"
	"sort"

	"github.com/dshills/coderag-mcp/pkg/types"
)

// Fingerprint returns the sha256 of a file's content
func Fingerprint(content []byte) [32]byte {
	return sha256.Sum256(content)
}

// Plan sorts the files of a project by what changed since the last run.
// Every slice is sorted.
type Plan struct {
	New       []string
	Unchanged []string
	Modified  []string
	Deleted   []string
}

// Classify compares the fingerprints recorded for committed files with the
// fingerprints found on disk.
func Classify(previous, current map[string][32]byte) Plan {
	var p Plan
	for path, fp := range current {
		old, ok := previous[path]
		switch {
		case !ok:
			p.New = append(p.New, path)
		case old == fp:
			p.Unchanged = append(p.Unchanged, path)
		default:
			p.Modified = append(p.Modified, path)
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			p.Deleted = append(p.Deleted, path)
		}
	}

	sort.Strings(p.New)
	sort.Strings(p.Unchanged)
	sort.Strings(p.Modified)
	sort.Strings(p.Deleted)
	return p
}

// Pending returns the files whose chunks must be rebuilt, new ones first
func (p Plan) Pending() []string {
	out := make([]string, 0, len(p.New)+len(p.Modified))
	out = append(out, p.New...)
	return append(out, p.Modified...)
}

// IsNoop reports whether nothing needs to be written
func (p Plan) IsNoop() bool {
	return len(p.New) == 0 && len(p.Modified) == 0 && len(p.Deleted) == 0
}

// StoredChunk is the persisted identity of a chunk
type StoredChunk struct {
	ID          string
	Fingerprint [32]byte
	StartLine   int
	EndLine     int
}

// ChunkDiff is the outcome of re-chunking one file
type ChunkDiff struct {
	// Added chunks need an embedding
	Added []types.Chunk
	// Removed chunks lose their rows, vectors and postings
	Removed []StoredChunk
	// Unchanged chunks carry the id of the stored chunk they match, so the
	// stored embedding is reused; only their span is refreshed.
	Unchanged []types.Chunk
	// BoundaryShift is set when the file both gained and lost chunks
	BoundaryShift bool
}

// DiffChunks matches freshly produced chunks against the stored ones by
// fingerprint. Identical ids pair first, then remaining chunks pair by
// content, so two copies of the same body count twice.
func DiffChunks(old []StoredChunk, fresh []types.Chunk) ChunkDiff {
	byID := make(map[string]int, len(old))
	byFP := make(map[[32]byte][]int, len(old))
	for i, o := range old {
		byID[o.ID] = i
		byFP[o.Fingerprint] = append(byFP[o.Fingerprint], i)
	}

	used := make([]bool, len(old))
	matched := make([]int, len(fresh))
	for i := range matched {
		matched[i] = -1
	}

	for i, c := range fresh {
		if j, ok := byID[c.ID]; ok && !used[j] && old[j].Fingerprint == c.Fingerprint {
			used[j] = true
			matched[i] = j
		}
	}
	for i, c := range fresh {
		if matched[i] >= 0 {
			continue
		}
		for _, j := range byFP[c.Fingerprint] {
			if !used[j] {
				used[j] = true
				matched[i] = j
				break
			}
		}
	}

	var d ChunkDiff
	for i, c := range fresh {
		if j := matched[i]; j >= 0 {
			c.ID = old[j].ID
			d.Unchanged = append(d.Unchanged, c)
			continue
		}
		d.Added = append(d.Added, c)
	}
	for j, o := range old {
		if !used[j] {
			d.Removed = append(d.Removed, o)
		}
	}

	d.BoundaryShift = len(d.Added) > 0 && len(d.Removed) > 0
	return d
}

// IsNoop reports whether the file's chunk set is unchanged
func (d ChunkDiff) IsNoop() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}
