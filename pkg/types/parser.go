package types

// ParseResult represents the output of parsing a single source file
type ParseResult struct {
	Symbols     []Symbol
	Decls       []Declaration
	Imports     []Import
	Calls       []CallSite
	PackageName string

	// Errors encountered during parsing
	Errors []ParseError
}

// Import represents an import statement
type Import struct {
	Path  string
	Alias string
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Column:  col,
		Message: msg,
	})
}

// CallsBetween returns the call sites whose line falls inside [start, end]
func (pr *ParseResult) CallsBetween(start, end int) []CallSite {
	var out []CallSite
	for _, c := range pr.Calls {
		if c.Line >= start && c.Line <= end {
			out = append(out, c)
		}
	}
	return out
}

// Declaration is a top-level declaration span, doc comment included
type Declaration struct {
	Kind      SymbolKind
	Name      string
	Receiver  string
	Signature string
	StartLine int
	EndLine   int
	StartByte int
	EndByte   int
}
