package searcher

import "sort"

// DefaultRRFConstant dampens the weight of top ranks in Fuse
const DefaultRRFConstant = 60

// Ranked is one entry of a single retriever's list, best first
type Ranked struct {
	ID    string
	Score float64
}

// Fused is a chunk scored by reciprocal rank fusion. A rank of 0 means the
// chunk was absent from that list.
type Fused struct {
	ID          string
	Score       float64
	VectorRank  int
	LexicalRank int
}

// Fuse combines two ranked lists with reciprocal rank fusion:
// score(d) = sum over lists of 1/(c + rank(d)), ranks starting at 1.
// Ties are broken by id ascending. k <= 0 keeps every fused entry; c <= 0
// uses DefaultRRFConstant.
func Fuse(vector, lexical []Ranked, k int, c float64) []Fused {
	if c <= 0 {
		c = DefaultRRFConstant
	}

	byID := make(map[string]*Fused, len(vector)+len(lexical))
	order := make([]*Fused, 0, len(vector)+len(lexical))
	get := func(id string) *Fused {
		f, ok := byID[id]
		if !ok {
			f = &Fused{ID: id}
			byID[id] = f
			order = append(order, f)
		}
		return f
	}

	for i, r := range vector {
		f := get(r.ID)
		if f.VectorRank != 0 {
			continue // duplicate within one list counts once, at its best rank
		}
		f.VectorRank = i + 1
		f.Score += 1 / (c + float64(i+1))
	}
	for i, r := range lexical {
		f := get(r.ID)
		if f.LexicalRank != 0 {
			continue
		}
		f.LexicalRank = i + 1
		f.Score += 1 / (c + float64(i+1))
	}

	out := make([]Fused, len(order))
	for i, f := range order {
		out[i] = *f
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// single turns one retriever's list into fused form without re-scoring
func single(list []Ranked, vector bool, k int) []Fused {
	out := make([]Fused, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for i, r := range list {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		f := Fused{ID: r.ID, Score: r.Score}
		if vector {
			f.VectorRank = i + 1
		} else {
			f.LexicalRank = i + 1
		}
		out = append(out, f)
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
