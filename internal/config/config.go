// Package config loads the gitscribe.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the project configuration file at the repository root.
const FileName = "gitscribe.toml"

// Command is a named runnable command with optional documentation.
type Command struct {
	Args []string
	Doc  string
}

// Config is the resolved project configuration.
type Config struct {
	// ProjectPrompt is prepended to the instruction payload returned at
	// session start.
	ProjectPrompt string
	// Commands maps a command name to its argument list and doc string.
	Commands map[string]Command
	// LogLevel is slog's textual level; overridable via GITSCRIBE_LOG.
	LogLevel string
}

// rawConfig is the on-disk TOML shape. A command may be a bare argument
// array or a table with command and doc keys.
type rawConfig struct {
	ProjectPrompt string         `toml:"project_prompt"`
	Commands      map[string]any `toml:"commands"`
	Logger        struct {
		Level string `toml:"level"`
	} `toml:"logger"`
}

// Load reads the configuration from the repository root. A missing file
// yields an empty configuration, not an error.
func Load(root string) (*Config, error) {
	cfg := &Config{Commands: map[string]Command{}, LogLevel: "info"}

	data, err := os.ReadFile(filepath.Join(root, FileName))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}

	cfg.ProjectPrompt = raw.ProjectPrompt
	if raw.Logger.Level != "" {
		cfg.LogLevel = raw.Logger.Level
	}

	for name, value := range raw.Commands {
		cmd, err := parseCommand(value)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", name, err)
		}
		cfg.Commands[name] = cmd
	}

	return cfg, nil
}

// parseCommand accepts either `name = ["cmd", "arg"]` or
// `[commands.name]` with command and doc keys.
func parseCommand(value any) (Command, error) {
	switch v := value.(type) {
	case []any:
		args, err := stringSlice(v)
		if err != nil {
			return Command{}, err
		}
		return Command{Args: args}, nil
	case map[string]any:
		var cmd Command
		if argsVal, ok := v["command"]; ok {
			argsAny, ok := argsVal.([]any)
			if !ok {
				return Command{}, fmt.Errorf("command must be an array of strings")
			}
			args, err := stringSlice(argsAny)
			if err != nil {
				return Command{}, err
			}
			cmd.Args = args
		}
		if doc, ok := v["doc"].(string); ok {
			cmd.Doc = doc
		}
		if len(cmd.Args) == 0 {
			return Command{}, fmt.Errorf("command table has no command array")
		}
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("unsupported command value %T", value)
	}
}

func stringSlice(values []any) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("argument %d is %T, want string", i, v)
		}
		out[i] = s
	}
	return out, nil
}

// CommandDocs renders the configured commands as instruction text, sorted
// by name for stable output.
func (c *Config) CommandDocs() string {
	if len(c.Commands) == 0 {
		return ""
	}

	names := make([]string, 0, len(c.Commands))
	for name := range c.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		cmd := c.Commands[name]
		fmt.Fprintf(&b, "- %s", name)
		if cmd.Doc != "" {
			fmt.Fprintf(&b, ": %s", cmd.Doc)
		}
		b.WriteString("\n")
	}
	return b.String()
}
