package tools

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

const (
	topPrefixes    = 10
	minPrefixCount = 2
)

// Count is a named tally
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// NamingConventions summarizes how symbols are named
type NamingConventions struct {
	Styles         []Count `json:"styles"`
	CommonPrefixes []Count `json:"common_prefixes"`
}

// Structure summarizes the layout of a project
type Structure struct {
	Files       int     `json:"files"`
	Chunks      int     `json:"chunks"`
	Symbols     int     `json:"symbols"`
	TopLevel    []Count `json:"top_level"`
	SymbolKinds []Count `json:"symbol_kinds"`
}

// Patterns is the answer of get_project_patterns
type Patterns struct {
	Project           string            `json:"project"`
	Languages         []Count           `json:"languages"`
	NamingConventions NamingConventions `json:"naming_conventions"`
	StructureSummary  Structure         `json:"structure_summary"`
}

// ProjectPatterns reports languages, naming conventions and the directory
// layout of a project
func (s *Service) ProjectPatterns(ctx context.Context, p ProjectParams) (*Patterns, error) {
	if err := requireProject(p.Project); err != nil {
		return nil, err
	}
	h, err := s.coord.Open(ctx, p.Project)
	if err != nil {
		return nil, err
	}
	store := s.coord.Store()
	id := h.Project.ID

	files, err := store.ListFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	symbols, err := store.ListSymbols(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := store.GetStats(ctx, id, s.coord.Model())
	if err != nil {
		return nil, err
	}

	languages := make(map[string]int)
	dirs := make(map[string]int)
	for _, f := range files {
		languages[string(f.Language)]++
		dirs[topLevel(f.RelPath)]++
	}

	styles := make(map[string]int)
	prefixes := make(map[string]int)
	kinds := make(map[string]int)
	for _, sym := range symbols {
		kinds[string(sym.Kind)]++
		styles[namingStyle(sym.Name)]++
		if prefix := namePrefix(sym.Name); prefix != "" && prefix != sym.Name {
			prefixes[prefix]++
		}
	}

	common := sortedCounts(prefixes)
	kept := common[:0]
	for _, c := range common {
		if c.Count >= minPrefixCount {
			kept = append(kept, c)
		}
	}
	if len(kept) > topPrefixes {
		kept = kept[:topPrefixes]
	}

	return &Patterns{
		Project:   h.Project.Name,
		Languages: sortedCounts(languages),
		NamingConventions: NamingConventions{
			Styles:         sortedCounts(styles),
			CommonPrefixes: kept,
		},
		StructureSummary: Structure{
			Files:       len(files),
			Chunks:      stats.Chunks,
			Symbols:     len(symbols),
			TopLevel:    sortedCounts(dirs),
			SymbolKinds: sortedCounts(kinds),
		},
	}, nil
}

// topLevel returns the first path segment, or "." for files at the root
func topLevel(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i] + "/"
	}
	return "."
}

// Naming styles
const (
	StylePascal    = "PascalCase"
	StyleCamel     = "camelCase"
	StyleSnake     = "snake_case"
	StyleScreaming = "SCREAMING_SNAKE_CASE"
	StyleKebab     = "kebab-case"
	StyleLower     = "lowercase"
	StyleOther     = "other"
)

func namingStyle(name string) string {
	if name == "" {
		return StyleOther
	}
	// qualified names such as Type.Method are judged by the last segment
	if i := strings.LastIndexAny(name, ".:"); i >= 0 && i < len(name)-1 {
		name = name[i+1:]
	}
	var upper, lower, underscore, dash bool
	for _, r := range name {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case r == '_':
			underscore = true
		case r == '-':
			dash = true
		}
	}
	first := []rune(name)[0]
	switch {
	case dash && !upper:
		return StyleKebab
	case underscore && upper && !lower:
		return StyleScreaming
	case underscore && !upper:
		return StyleSnake
	case underscore:
		return StyleOther
	case unicode.IsUpper(first) && lower:
		return StylePascal
	case unicode.IsLower(first) && upper:
		return StyleCamel
	case lower && !upper:
		return StyleLower
	default:
		return StyleOther
	}
}

// namePrefix returns the first word of an identifier: "NewServer" -> "New",
// "get_user" -> "get", "handleRequest" -> "handle"
func namePrefix(name string) string {
	if i := strings.LastIndexAny(name, ".:"); i >= 0 && i < len(name)-1 {
		name = name[i+1:]
	}
	name = strings.TrimLeft(name, "_")
	if i := strings.IndexAny(name, "_-"); i > 0 {
		return name[:i]
	}
	runes := []rune(name)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && unicode.IsLower(runes[i-1]) {
			return string(runes[:i])
		}
	}
	return name
}

func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
