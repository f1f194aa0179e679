package lexical

import (
	"strings"
	"unicode"
)

// minTokenLen drops single characters, which match nearly every chunk
const minTokenLen = 2

// Tokenize splits text into lower-case search terms. Each identifier is kept
// whole and also broken at underscores, camelCase humps and letter/digit
// boundaries, so "parseHTTPRequest" yields parsehttprequest, parse, http
// and request.
func Tokenize(text string) []string {
	var tokens []string
	add := func(tok string) {
		if len(tok) >= minTokenLen {
			tokens = append(tokens, strings.ToLower(tok))
		}
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	for _, w := range words {
		w = strings.Trim(w, "_")
		if w == "" {
			continue
		}
		parts := splitIdentifier(w)
		add(strings.ReplaceAll(w, "_", ""))
		if len(parts) > 1 {
			for _, p := range parts {
				add(p)
			}
		}
	}
	return tokens
}

func splitIdentifier(w string) []string {
	var parts []string
	for _, seg := range strings.Split(w, "_") {
		if seg == "" {
			continue
		}
		parts = append(parts, splitCamel(seg)...)
	}
	return parts
}

func splitCamel(s string) []string {
	runes := []rune(s)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			boundary = true
		case unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			boundary = true
		case unicode.IsDigit(prev) != unicode.IsDigit(cur):
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}
