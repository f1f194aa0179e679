package types

import (
	"errors"
	"strings"
	"unicode"
)

// SymbolKind represents the type of language symbol
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindClass     SymbolKind = "class"
	KindStruct    SymbolKind = "struct"
	KindInterface SymbolKind = "interface"
	KindEnum      SymbolKind = "enum"
	KindTrait     SymbolKind = "trait"
	KindImpl      SymbolKind = "impl"
	KindModule    SymbolKind = "module"
	KindType      SymbolKind = "type"
	KindConst     SymbolKind = "const"
	KindVar       SymbolKind = "var"
	KindField     SymbolKind = "field"
	KindMacro     SymbolKind = "macro"
	KindKey       SymbolKind = "key"
)

// SymbolScope represents the visibility scope of a symbol
type SymbolScope string

const (
	ScopeExported   SymbolScope = "exported"
	ScopeUnexported SymbolScope = "unexported"
)

// ScopeOf applies the Go convention of an upper-case first letter
func ScopeOf(name string) SymbolScope {
	for _, r := range name {
		if unicode.IsUpper(r) {
			return ScopeExported
		}
		break
	}
	return ScopeUnexported
}

// Position represents a location in source code
type Position struct {
	Line   int
	Column int
}

// Symbol represents a code symbol extracted from source
type Symbol struct {
	Name       string
	Kind       SymbolKind
	Signature  string
	DocComment string
	Scope      SymbolScope
	Receiver   string // For methods: receiver type name

	Start Position
	End   Position
}

func (s *Symbol) ValidateKind() error {
	switch s.Kind {
	case KindFunction, KindMethod, KindClass, KindStruct, KindInterface, KindEnum,
		KindTrait, KindImpl, KindModule, KindType, KindConst, KindVar, KindField,
		KindMacro, KindKey:
		return nil
	default:
		return errors.New("invalid symbol kind")
	}
}

// Validate performs validation of the symbol
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	if err := s.ValidateKind(); err != nil {
		return err
	}

	if s.Kind == KindMethod && s.Receiver == "" && s.Scope == "" {
		return errors.New("methods must have a receiver type or scope")
	}

	if s.Start.Line <= 0 || s.End.Line <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}

	if s.Start.Line > s.End.Line {
		return errors.New("invalid position: start line must be before or equal to end line")
	}

	return nil
}

// LastSegment returns the final identifier of a qualified name:
// "pkg.Foo" -> "Foo", "obj.method" -> "method", "a::b" -> "b".
func LastSegment(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, ".:>"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
