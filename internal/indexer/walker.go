package indexer

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/dshills/coderag-mcp/internal/config"
	"github.com/dshills/coderag-mcp/internal/security"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// IgnoreFile is read from a project root; gitignore syntax
const IgnoreFile = ".coderagignore"

// GitIgnoreFile is honoured in the root and every directory below it
const GitIgnoreFile = ".gitignore"

// sniffLen is how much of a file is checked for NUL bytes
const sniffLen = 8000

// dependencyDirs are dropped from the ignore list when dependencies are included
var dependencyDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
}

// Skip reasons reported in the run summary
const (
	SkipIgnored   = "ignored"
	SkipTooLarge  = "too_large"
	SkipBinary    = "binary"
	SkipSensitive = "sensitive"
)

// fileEntry is a candidate file found by the walker
type fileEntry struct {
	RelPath  string // slash separated
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language types.Language
	Action   security.FileAction
}

// skippedFile is a file the walker left out
type skippedFile struct {
	RelPath string
	Reason  string
}

// ignoreRules decides which paths discovery leaves out. Patterns use
// gitignore syntax, and within a layer a later pattern overrides an earlier
// one, so "!keep.log" re-includes a file. The local layer holds the
// configured patterns followed by .coderagignore; the git layer holds the
// global and system excludes, .git/info/exclude and every .gitignore, each
// scoped to its directory. A path ignored by either layer is left out.
type ignoreRules struct {
	local  gitignore.Matcher
	git    []gitignore.Pattern
	gitM   gitignore.Matcher
	hidden bool
}

// gitExcludes loads the user's core.excludesfile and the system one
var gitExcludes = func() []gitignore.Pattern {
	root := osfs.New("/")
	ps, _ := gitignore.LoadSystemPatterns(root)
	global, _ := gitignore.LoadGlobalPatterns(root)
	return append(ps, global...)
}

// loadIgnoreRules reads the ignore files at root. Nested .gitignore files
// are added by enterDir as the walk reaches them.
func loadIgnoreRules(root string, opts walkOptions) (*ignoreRules, error) {
	patterns := opts.IgnorePatterns
	if patterns == nil {
		patterns = defaultPatterns()
	}
	var local []gitignore.Pattern
	for _, p := range patterns {
		if opts.IncludeDependencies && dependencyDirs[strings.Trim(strings.TrimSpace(p), "/")] {
			continue
		}
		local = append(local, parsePatterns([]string{p}, nil)...)
	}
	extra, err := readIgnoreFile(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil, err
	}
	local = append(local, parsePatterns(extra, nil)...)

	r := &ignoreRules{local: gitignore.NewMatcher(local), hidden: opts.IncludeHidden}
	r.git = gitExcludes()
	for _, name := range []string{filepath.Join(".git", "info", "exclude"), GitIgnoreFile} {
		lines, err := readIgnoreFile(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		r.git = append(r.git, parsePatterns(lines, nil)...)
	}
	r.gitM = gitignore.NewMatcher(r.git)
	return r, nil
}

// enterDir adds the .gitignore of dir (rel is slash separated) to the rules
func (r *ignoreRules) enterDir(dir, rel string) error {
	lines, err := readIgnoreFile(filepath.Join(dir, GitIgnoreFile))
	if err != nil || len(lines) == 0 {
		return err
	}
	r.git = append(r.git, parsePatterns(lines, strings.Split(rel, "/"))...)
	r.gitM = gitignore.NewMatcher(r.git)
	return nil
}

// Match reports whether rel (slash separated) is ignored
func (r *ignoreRules) Match(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")
	return r.local.Match(parts, isDir) || r.gitM.Match(parts, isDir)
}

// Hidden reports whether rel is a dot-named entry discovery skips. Env
// files stay in because they are indexed with their values redacted.
func (r *ignoreRules) Hidden(rel string, isDir bool) bool {
	if r.hidden {
		return false
	}
	dir, name := path.Split(rel)
	for _, seg := range strings.Split(strings.TrimSuffix(dir, "/"), "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	if !strings.HasPrefix(name, ".") {
		return false
	}
	return isDir || security.ClassifyFile(rel) != security.ActionRedactValues
}

func parsePatterns(lines []string, domain []string) []gitignore.Pattern {
	var out []gitignore.Pattern
	for _, line := range lines {
		line = strings.TrimLeft(line, " \t")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, gitignore.ParsePattern(line, domain))
	}
	return out
}

// readIgnoreFile returns the lines of an ignore file; a missing file has none
func readIgnoreFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out, sc.Err()
}

// walkOptions configures file discovery
type walkOptions struct {
	MaxFileSize         int64
	IgnorePatterns      []string
	IncludeDependencies bool
	IncludeHidden       bool
}

// walk lists the indexable files below root in path order. Hidden entries
// are left out silently. Sensitive files that cannot be redacted, oversize
// files and ignored paths are reported as skipped. Binary content is
// detected later, when the file is read.
func walk(root string, opts walkOptions) ([]fileEntry, []skippedFile, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 1 << 20
	}
	rules, err := loadIgnoreRules(root, opts)
	if err != nil {
		return nil, nil, err
	}

	var (
		files   []fileEntry
		skipped []skippedFile
	)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// unreadable subtrees are left out, not fatal
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rules.Hidden(rel, true) || rules.Match(rel, true) {
				return filepath.SkipDir
			}
			return rules.enterDir(p, rel)
		}
		if !d.Type().IsRegular() || rules.Hidden(rel, false) {
			return nil
		}
		if rel == IgnoreFile || rel == GitIgnoreFile {
			return nil
		}
		if rules.Match(rel, false) {
			skipped = append(skipped, skippedFile{RelPath: rel, Reason: SkipIgnored})
			return nil
		}

		action := security.ClassifyFile(rel)
		if action == security.ActionSkip {
			skipped = append(skipped, skippedFile{RelPath: rel, Reason: SkipSensitive})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > opts.MaxFileSize {
			skipped = append(skipped, skippedFile{RelPath: rel, Reason: SkipTooLarge})
			return nil
		}

		files = append(files, fileEntry{
			RelPath:  rel,
			AbsPath:  p,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: types.LanguageFromPath(rel),
			Action:   action,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, skipped, nil
}

func defaultPatterns() []string {
	return config.DefaultIgnorePatterns
}

// isBinary reports whether content looks like a binary file
func isBinary(content []byte) bool {
	if len(content) > sniffLen {
		content = content[:sniffLen]
	}
	return bytes.IndexByte(content, 0) >= 0
}
