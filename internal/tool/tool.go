// Package tool exposes the fixed set of operations a client may invoke.
// The registry is static: every operation is declared here at compile
// time, there is no runtime registration.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gitscribe/internal/config"
	"gitscribe/internal/engine"
	"gitscribe/internal/entity"
)

// Params is the decoded parameter object of one request.
type Params map[string]any

// ParamError reports a missing or ill-typed parameter.
type ParamError struct {
	Name   string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Name, e.Reason)
}

// String returns a required string parameter.
func (p Params) String(name string) (string, error) {
	v, ok := p[name]
	if !ok {
		return "", &ParamError{Name: name, Reason: "required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ParamError{Name: name, Reason: "must be a string"}
	}
	return s, nil
}

// StringOr returns an optional string parameter with a default.
func (p Params) StringOr(name, def string) (string, error) {
	if _, ok := p[name]; !ok {
		return def, nil
	}
	return p.String(name)
}

// IntOr returns an optional integer parameter with a default. JSON
// numbers decode as float64.
func (p Params) IntOr(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, &ParamError{Name: name, Reason: "must be a number"}
	}
}

// BoolOr returns an optional boolean parameter with a default.
func (p Params) BoolOr(name string, def bool) (bool, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &ParamError{Name: name, Reason: "must be a boolean"}
	}
	return b, nil
}

// StringsOr returns an optional string-array parameter.
func (p Params) StringsOr(name string) ([]string, error) {
	v, ok := p[name]
	if !ok {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, &ParamError{Name: name, Reason: "must be an array of strings"}
	}
	out := make([]string, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, &ParamError{Name: name, Reason: "must be an array of strings"}
		}
		out[i] = s
	}
	return out, nil
}

// Env carries the shared services tools run against.
type Env struct {
	Engine   *engine.Engine
	Entities *entity.Service
	Config   *config.Config
	Log      *slog.Logger
}

// Tool is one operation. Validate rejects malformed parameters before
// Execute touches the repository.
type Tool interface {
	Validate(p Params) error
	Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error)
}

// UnknownToolError reports a request for an operation that does not
// exist.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Name)
}

// registry is the full, fixed operation set.
var registry = map[string]Tool{
	"ReadFile":      readFileTool{},
	"WriteFile":     writeFileTool{},
	"EditFile":      editFileTool{},
	"LS":            lsTool{},
	"Glob":          globTool{},
	"Grep":          grepTool{},
	"RM":            rmTool{},
	"RunCommand":    runCommandTool{},
	"Think":         thinkTool{},
	"UserPrompt":    userPromptTool{},
	"Chmod":         chmodTool{},
	"InitProject":   initProjectTool{},
	"ListEntities":  listEntitiesTool{},
	"ReadFunction":  entityTool{kind: entity.KindFunction, write: false},
	"WriteFunction": entityTool{kind: entity.KindFunction, write: true},
	"ReadClass":     entityTool{kind: entity.KindClass, write: false},
	"WriteClass":    entityTool{kind: entity.KindClass, write: true},
}

// Lookup returns the named operation.
func Lookup(name string) (Tool, error) {
	t, ok := registry[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return t, nil
}

// Names lists every operation, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch validates and executes one operation.
func Dispatch(ctx context.Context, env *Env, name, sessionID string, p Params) (any, error) {
	t, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(p); err != nil {
		return nil, err
	}
	env.Log.Debug("executing operation", "operation", name, "session", sessionID)
	return t.Execute(ctx, env, sessionID, p)
}

// requireStrings validates that each named parameter is a present string.
func requireStrings(p Params, names ...string) error {
	for _, name := range names {
		if _, err := p.String(name); err != nil {
			return err
		}
	}
	return nil
}
