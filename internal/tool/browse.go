package tool

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const grepResultLimit = 100

type lsTool struct{}

func (lsTool) Validate(p Params) error {
	return requireStrings(p, "path")
}

// Execute lists a directory, directories suffixed with a slash. Hidden
// entries and __pycache__ are skipped.
func (lsTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	path, _ := p.String("path")

	abs, rel, err := env.Engine.Resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", rel, err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || name == "__pycache__" {
			continue
		}
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

type globTool struct{}

func (globTool) Validate(p Params) error {
	pattern, err := p.String("pattern")
	if err != nil {
		return err
	}
	if !doublestar.ValidatePattern(pattern) {
		return &ParamError{Name: "pattern", Reason: "malformed glob pattern"}
	}
	return nil
}

// Execute matches files under the base path, newest first.
func (globTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	pattern, _ := p.String("pattern")
	base, err := p.StringOr("path", ".")
	if err != nil {
		return nil, err
	}
	limit, err := p.IntOr("limit", 100)
	if err != nil {
		return nil, err
	}
	offset, err := p.IntOr("offset", 0)
	if err != nil {
		return nil, err
	}

	abs, _, err := env.Engine.Resolve(base)
	if err != nil {
		return nil, err
	}

	matches, err := doublestar.Glob(os.DirFS(abs), pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing %q: %w", pattern, err)
	}

	sortByMtime(abs, matches)

	total := len(matches)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return map[string]any{
		"files":     matches[offset:end],
		"total":     total,
		"truncated": end < total,
	}, nil
}

type grepTool struct{}

func (grepTool) Validate(p Params) error {
	pattern, err := p.String("pattern")
	if err != nil {
		return err
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return &ParamError{Name: "pattern", Reason: err.Error()}
	}
	return nil
}

// Execute returns the files whose content matches the pattern, newest
// first. Binary files and .git are skipped.
func (grepTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	pattern, _ := p.String("pattern")
	base, err := p.StringOr("path", ".")
	if err != nil {
		return nil, err
	}
	include, err := p.StringOr("include", "")
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &ParamError{Name: "pattern", Reason: err.Error()}
	}

	abs, _, err := env.Engine.Resolve(base)
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if include != "" {
			ok, err := doublestar.Match(include, filepath.Base(rel))
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		if re.Match(data) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", pattern, err)
	}

	sortByMtime(abs, matches)

	truncated := false
	if len(matches) > grepResultLimit {
		matches = matches[:grepResultLimit]
		truncated = true
	}
	return map[string]any{
		"files":     matches,
		"total":     len(matches),
		"truncated": truncated,
	}, nil
}

// sortByMtime orders paths newest first, name as tiebreak.
func sortByMtime(base string, paths []string) {
	mtimes := make(map[string]int64, len(paths))
	for _, p := range paths {
		if info, err := os.Stat(filepath.Join(base, p)); err == nil {
			mtimes[p] = info.ModTime().UnixNano()
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		if mtimes[paths[i]] != mtimes[paths[j]] {
			return mtimes[paths[i]] > mtimes[paths[j]]
		}
		return paths[i] < paths[j]
	})
}
