// Package parser extracts symbols, declarations and call sites from Go source
// using go/parser and go/ast.
//
//	p := parser.New()
//	result, err := p.ParseSource("svc/handler.go", src)
//	if err != nil {
//	    return err
//	}
//	for _, d := range result.Decls {
//	    fmt.Printf("%s %s lines %d-%d\n", d.Kind, d.Name, d.StartLine, d.EndLine)
//	}
//
// Syntax errors do not fail the parse. They are recorded on the result and
// whatever the parser recovered is still walked, so a file that is mid-edit
// keeps most of its chunks.
//
// Decls lists top-level declarations with their doc comments attached and
// byte offsets into the source; the chunker cuts Go files along them. Calls
// holds every call expression with the callee reduced to its last identifier
// (pkg.Foo becomes Foo), which is what the call graph resolves against.
package parser
