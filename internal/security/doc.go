// Package security implements the two filters on the ingestion and query
// boundary: pattern-based secret redaction and prompt-injection detection.
//
// Redaction replaces known credential shapes (cloud and SaaS API keys,
// tokens, private key blocks, URLs with embedded passwords, env-style
// assignments and long high-entropy strings) with "[REDACTED]" before a chunk
// is embedded, stored or returned:
//
//	clean, findings := security.Redact(text)
//
// The injection scanner flags role impersonation at line start and
// instruction-override phrases. Flagged chunks and queries are annotated,
// never dropped:
//
//	v := security.NewInjectionScanner().Scan(query)
//	if v.Suspicious { ... }
package security
