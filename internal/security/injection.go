package security

import (
	"fmt"
	"strings"
)

// Verdict is the result of an injection scan
type Verdict struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons,omitempty"`
}

var rolePrefixes = []string{
	"system:",
	"assistant:",
	"<|system|>",
	"<|assistant|>",
	"[system]",
	"[inst]",
	"<<sys>>",
}

var overridePhrases = []string{
	"ignore previous instructions",
	"ignore all instructions",
	"ignore all previous",
	"ignore the above",
	"ignore everything above",
	"disregard previous instructions",
	"disregard all instructions",
	"disregard the above",
	"forget your instructions",
	"forget everything above",
	"forget all previous",
	"override your instructions",
	"new instructions:",
	"updated instructions:",
	"revised instructions:",
	"you are now",
	"you must now",
	"act as if",
	"pretend you are",
	"from now on you",
	"do not follow your",
	"do not follow the",
	"instead of answering",
	"instead of following",
	"your new role is",
	"your new task is",
}

// InjectionScanner flags instruction-like text aimed at a downstream model.
// Matching is case-insensitive; it never alters the scanned text.
type InjectionScanner struct{}

// NewInjectionScanner creates a scanner
func NewInjectionScanner() *InjectionScanner {
	return &InjectionScanner{}
}

// Scan checks role prefixes at line start and override phrases anywhere
func (s *InjectionScanner) Scan(text string) Verdict {
	lower := strings.ToLower(text)
	var reasons []string

	for _, line := range strings.Split(lower, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, prefix := range rolePrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				reasons = appendUnique(reasons, fmt.Sprintf("role prefix %q", prefix))
			}
		}
	}

	for _, phrase := range overridePhrases {
		if strings.Contains(lower, phrase) {
			reasons = append(reasons, fmt.Sprintf("override phrase %q", phrase))
		}
	}

	return Verdict{Suspicious: len(reasons) > 0, Reasons: reasons}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
