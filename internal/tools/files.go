package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/coderag-mcp/internal/security"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// LineRange selects lines of a file, 1-based and inclusive. Zero values
// mean the start or end of the file.
type LineRange struct {
	Start int `json:"start_line,omitempty"`
	End   int `json:"end_line,omitempty"`
}

// FileParams are the arguments of get_file
type FileParams struct {
	Project   string     `json:"project"`
	Path      string     `json:"path"`
	LineRange *LineRange `json:"line_range,omitempty"`
}

// FileContent is the answer of get_file. Text is redacted.
type FileContent struct {
	Project    string         `json:"project"`
	Path       string         `json:"path"`
	Language   types.Language `json:"language"`
	StartLine  int            `json:"start_line"`
	EndLine    int            `json:"end_line"`
	TotalLines int            `json:"total_lines"`
	Text       string         `json:"text"`
}

// GetFile reads a file of a project. The path is relative to the project
// root and may not leave it, including through symlinks.
func (s *Service) GetFile(ctx context.Context, p FileParams) (*FileContent, error) {
	if err := requireProject(p.Project); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Path) == "" {
		return nil, ErrPathRequired
	}
	h, err := s.coord.Open(ctx, p.Project)
	if err != nil {
		return nil, err
	}

	rel, abs, target, err := confine(h.Project.RootPath, p.Path)
	if err != nil {
		return nil, err
	}
	// a symlink is judged by its own name and by the file it points at
	redactAs := rel
	for _, name := range []string{rel, target} {
		switch security.ClassifyFile(name) {
		case security.ActionSkip:
			return nil, fmt.Errorf("%w: %s", ErrSensitiveFile, rel)
		case security.ActionRedactValues:
			redactAs = name
		}
	}

	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, rel)
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, invalidParam("path", "is a directory")
	}
	if info.Size() > s.maxFileSize {
		return nil, invalidParam("path", fmt.Sprintf("file exceeds %d bytes", s.maxFileSize))
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRecoverableIO, err)
	}

	lines := splitLines(string(data))
	start, end := 1, len(lines)
	if r := p.LineRange; r != nil {
		if r.Start < 0 || r.End < 0 || (r.End > 0 && r.Start > r.End) {
			return nil, invalidParam("line_range", "start must be <= end and both positive")
		}
		if r.Start > 0 {
			start = r.Start
		}
		if r.End > 0 && r.End < end {
			end = r.End
		}
	}
	text := ""
	if start <= end && start <= len(lines) {
		text = strings.Join(lines[start-1:end], "")
	} else {
		start, end = 0, 0
	}

	return &FileContent{
		Project:    h.Project.Name,
		Path:       rel,
		Language:   types.LanguageFromPath(rel),
		StartLine:  start,
		EndLine:    end,
		TotalLines: len(lines),
		Text:       s.filter.RedactOutput(redactAs, text),
	}, nil
}

// confine resolves path below root. It returns the path relative to root
// (slash separated), the absolute path, and the root-relative path of the
// file it resolves to after symlinks.
func confine(root, path string) (rel, abs, target string, err error) {
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(root, path)
		if err != nil {
			return "", "", "", ErrOutsideRoot
		}
		path = r
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	abs = filepath.Join(root, clean)

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", "", "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", "", "", fmt.Errorf("%w: %s", ErrPathNotFound, filepath.ToSlash(clean))
	case err != nil:
		return "", "", "", err
	}
	if real != realRoot && !strings.HasPrefix(real, realRoot+string(filepath.Separator)) {
		return "", "", "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	target, err = filepath.Rel(realRoot, real)
	if err != nil {
		return "", "", "", err
	}
	return filepath.ToSlash(clean), abs, filepath.ToSlash(target), nil
}

// splitLines splits text keeping line terminators
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
