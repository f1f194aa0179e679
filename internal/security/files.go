package security

import (
	"path/filepath"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/dshills/coderag-mcp/pkg/types"
)

var sensitiveFilePatterns = []string{
	`\.env$`,
	`\.env\.[a-z]+$`,
	`credentials\.json$`,
	`secrets\.json$`,
	`secrets\.ya?ml$`,
	`\.pem$`,
	`\.key$`,
	`\.p12$`,
	`\.pfx$`,
	`id_rsa$`,
	`id_ed25519$`,
	`id_ecdsa$`,
	`\.htpasswd$`,
	`\.netrc$`,
	`\.npmrc$`,
	`\.pypirc$`,
	`\.docker/config\.json$`,
	`kubeconfig$`,
	`\.kube/config$`,
}

var sensitiveFileRegex = func() *regexp2.Regexp {
	re := regexp2.MustCompile(strings.Join(sensitiveFilePatterns, "|"), regexp2.IgnoreCase)
	re.MatchTimeout = matchTimeout
	return re
}()

// IsSensitiveFile reports whether a path names a credential-bearing file
func IsSensitiveFile(path string) bool {
	ok, err := sensitiveFileRegex.MatchString(filepath.ToSlash(path))
	return err == nil && ok
}

// FileAction is the ingestion decision for a file
type FileAction int

const (
	// ActionIndex indexes the file with pattern-based redaction
	ActionIndex FileAction = iota
	// ActionRedactValues indexes an env-style file with every value redacted
	ActionRedactValues
	// ActionSkip excludes the file and counts it as skipped
	ActionSkip
)

// ClassifyFile decides how a file enters the index
func ClassifyFile(path string) FileAction {
	if !IsSensitiveFile(path) {
		return ActionIndex
	}
	if types.LanguageFromPath(path) == types.LangEnv {
		return ActionRedactValues
	}
	return ActionSkip
}
