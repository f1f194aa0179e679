package security

import (
	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// Filter applies redaction and injection scanning on the ingestion and
// query boundary. Both passes annotate content and never fail.
type Filter struct {
	scanner *InjectionScanner
	logger  *zap.Logger
}

// NewFilter creates a filter that logs findings (never the secret itself)
func NewFilter(logger *zap.Logger) *Filter {
	return &Filter{
		scanner: NewInjectionScanner(),
		logger:  logging.OrNop(logger),
	}
}

// Stats counts what Apply changed
type Stats struct {
	Redactions int
	Suspicious int
	// Unscanned counts chunks whose secret scan timed out
	Unscanned int
}

// Apply redacts and scans chunks of one file in place
func (f *Filter) Apply(path string, action FileAction, chunks []types.Chunk) Stats {
	var stats Stats
	for i := range chunks {
		c := &chunks[i]
		if c.Content == "" {
			continue
		}

		if action == ActionRedactValues {
			var n int
			c.Content, n = RedactEnvValues(c.Content)
			c.Redactions += n
			if n > 0 {
				f.logger.Info("redacted env values",
					zap.String("file", path),
					zap.Int("line", c.StartLine),
					zap.Int("count", n))
			}
		}

		redacted, findings := Redact(c.Content)
		for _, finding := range findings {
			if finding.Pattern == PatternScanTimeout {
				stats.Unscanned++
			}
			f.logger.Warn("secret redacted",
				zap.String("file", path),
				zap.Int("line", c.StartLine+finding.Line-1),
				zap.String("pattern", finding.Pattern))
		}
		c.Content = redacted
		c.Redactions += len(findings)
		stats.Redactions += c.Redactions

		if v := f.scanner.Scan(c.Content); v.Suspicious {
			c.Suspicious = true
			stats.Suspicious++
			f.logger.Warn("suspicious chunk content",
				zap.String("file", path),
				zap.Int("line", c.StartLine),
				zap.Strings("reasons", v.Reasons))
		}
	}
	return stats
}

// RedactOutput redacts text relayed to a caller, such as get_file output
func (f *Filter) RedactOutput(path, text string) string {
	if ClassifyFile(path) == ActionRedactValues {
		text, _ = RedactEnvValues(text)
	}
	redacted, findings := Redact(text)
	if len(findings) > 0 {
		f.logger.Debug("redacted output", zap.String("file", path), zap.Int("count", len(findings)))
	}
	return redacted
}

// ScanQuery flags a query; the search itself is unchanged
func (f *Filter) ScanQuery(query string) Verdict {
	v := f.scanner.Scan(query)
	if v.Suspicious {
		f.logger.Warn("suspicious query", zap.Strings("reasons", v.Reasons))
	}
	return v
}

// Scan exposes the injection scanner for arbitrary text
func (f *Filter) Scan(text string) Verdict {
	return f.scanner.Scan(text)
}
