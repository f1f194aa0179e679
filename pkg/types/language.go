package types

import (
	"path/filepath"
	"strings"
)

// Language tags the chunking variant applied to a file
type Language string

const (
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangC          Language = "c"
	LangCpp        Language = "cpp"
	LangJava       Language = "java"
	LangRuby       Language = "ruby"
	LangShell      Language = "shell"
	LangMarkdown   Language = "markdown"
	LangTOML       Language = "toml"
	LangYAML       Language = "yaml"
	LangJSON       Language = "json"
	LangHTML       Language = "html"
	LangCSS        Language = "css"
	LangSQL        Language = "sql"
	LangEnv        Language = "env"
	LangUnknown    Language = "unknown"
)

var extensionLanguages = map[string]Language{
	"go":   LangGo,
	"rs":   LangRust,
	"py":   LangPython,
	"pyi":  LangPython,
	"js":   LangJavaScript,
	"mjs":  LangJavaScript,
	"cjs":  LangJavaScript,
	"jsx":  LangTypeScript,
	"ts":   LangTypeScript,
	"mts":  LangTypeScript,
	"cts":  LangTypeScript,
	"tsx":  LangTypeScript,
	"c":    LangC,
	"h":    LangC,
	"cpp":  LangCpp,
	"cc":   LangCpp,
	"cxx":  LangCpp,
	"hpp":  LangCpp,
	"hxx":  LangCpp,
	"hh":   LangCpp,
	"java": LangJava,
	"rb":   LangRuby,
	"sh":   LangShell,
	"bash": LangShell,
	"zsh":  LangShell,
	"fish": LangShell,
	"md":   LangMarkdown,
	"mdx":  LangMarkdown,
	"toml": LangTOML,
	"yml":  LangYAML,
	"yaml": LangYAML,
	"json": LangJSON,
	"html": LangHTML,
	"htm":  LangHTML,
	"css":  LangCSS,
	"scss": LangCSS,
	"less": LangCSS,
	"sql":  LangSQL,
}

// LanguageFromPath detects the language of a file from its name.
// Env files (.env, .env.local, prod.env) are matched before extensions.
func LanguageFromPath(path string) Language {
	base := strings.ToLower(filepath.Base(path))
	if base == ".env" || strings.HasPrefix(base, ".env.") || strings.HasSuffix(base, ".env") {
		return LangEnv
	}

	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if lang, ok := extensionLanguages[ext]; ok {
		return lang
	}
	return LangUnknown
}

// IsConfig reports whether the language is handled by the config chunker
func (l Language) IsConfig() bool {
	switch l {
	case LangEnv, LangJSON, LangYAML, LangTOML:
		return true
	}
	return false
}

// HasGrammar reports whether syntax-aware chunking exists for the language
func (l Language) HasGrammar() bool {
	switch l {
	case LangGo, LangRust, LangPython, LangJavaScript, LangTypeScript,
		LangC, LangCpp, LangJava, LangRuby, LangShell:
		return true
	}
	return false
}

func (l Language) String() string {
	if l == "" {
		return string(LangUnknown)
	}
	return string(l)
}
