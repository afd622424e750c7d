// Package rules guards paths the edit engine must never touch, via glob
// rules loaded from the repository.
package rules

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// RulesFile is the repo-relative location of the guard rules.
const RulesFile = ".gitscribe/rules.yaml"

// defaultProtected is always enforced: the project configuration and the
// rules themselves cannot be edited through the engine.
var defaultProtected = []string{
	"gitscribe.toml",
	".gitscribe/**",
}

// ProtectedError reports an attempt to edit a guarded path.
type ProtectedError struct {
	Path    string
	Pattern string
}

func (e *ProtectedError) Error() string {
	return fmt.Sprintf("path %s is protected (matches %s) and cannot be edited", e.Path, e.Pattern)
}

// rulesConfig is the on-disk shape of the rules file.
type rulesConfig struct {
	Protected []string `yaml:"protected"`
}

// Guard matches repo-relative paths against protected glob patterns.
type Guard struct {
	patterns []string
}

// Load builds a guard from the repository's rules file, if present, merged
// with the built-in protected patterns.
func Load(root string) (*Guard, error) {
	patterns := append([]string(nil), defaultProtected...)

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(RulesFile)))
	if os.IsNotExist(err) {
		return &Guard{patterns: patterns}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var cfg rulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	return &Guard{patterns: append(patterns, cfg.Protected...)}, nil
}

// Check returns a ProtectedError when the repo-relative path matches any
// protected pattern.
func (g *Guard) Check(rel string) error {
	rel = filepath.ToSlash(rel)
	for _, pattern := range g.patterns {
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			continue
		}
		if ok {
			return &ProtectedError{Path: rel, Pattern: pattern}
		}
	}
	return nil
}
