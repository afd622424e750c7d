package tool

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gitscribe/internal/engine"
)

const (
	readLineLimit = 1000
	readCharLimit = 1000
)

type readFileTool struct{}

func (readFileTool) Validate(p Params) error {
	return requireStrings(p, "path")
}

// Execute returns numbered file content, one line per row, honoring the
// optional offset (1-based) and limit parameters.
func (readFileTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	path, _ := p.String("path")
	offset, err := p.IntOr("offset", 1)
	if err != nil {
		return nil, err
	}
	limit, err := p.IntOr("limit", readLineLimit)
	if err != nil {
		return nil, err
	}
	if offset < 1 {
		offset = 1
	}

	content, err := env.Engine.Read(ctx, sessionID, path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(content, "\n")
	if offset > len(lines) {
		return "", nil
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		line := lines[i]
		if len(line) > readCharLimit {
			line = line[:readCharLimit] + "... (line truncated)"
		}
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type writeFileTool struct{}

func (writeFileTool) Validate(p Params) error {
	return requireStrings(p, "path", "content", "description")
}

func (writeFileTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	path, _ := p.String("path")
	content, _ := p.String("content")
	description, _ := p.String("description")

	res, err := env.Engine.Create(ctx, sessionID, path, content, description)
	if err != nil {
		return nil, err
	}
	return editPayload(res), nil
}

type editFileTool struct{}

func (editFileTool) Validate(p Params) error {
	if err := requireStrings(p, "path", "description"); err != nil {
		return err
	}
	// old_string may be empty: that creates the file.
	if _, err := p.StringOr("old_string", ""); err != nil {
		return err
	}
	return requireStrings(p, "new_string")
}

func (editFileTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	path, _ := p.String("path")
	oldString, _ := p.StringOr("old_string", "")
	newString, _ := p.String("new_string")
	description, _ := p.String("description")

	res, err := env.Engine.Apply(ctx, engine.EditRequest{
		SessionID:   sessionID,
		Path:        path,
		OldText:     oldString,
		NewText:     newString,
		Description: description,
	})
	if err != nil {
		return nil, err
	}
	return editPayload(res), nil
}

// editPayload flattens an edit result into the response object.
func editPayload(res *engine.EditResult) map[string]any {
	out := map[string]any{"path": res.Path}
	if res.Commit != nil {
		out["commit"] = res.Commit.Hash
		out["amended"] = res.Commit.Amended
	}
	if res.Snippet != "" {
		out["snippet"] = res.Snippet
	}
	if res.Fuzzy {
		out["fuzzy"] = true
		out["confidence"] = res.Confidence
	}
	return out
}

type rmTool struct{}

func (rmTool) Validate(p Params) error {
	return requireStrings(p, "path", "description")
}

func (rmTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	path, _ := p.String("path")
	description, _ := p.String("description")

	res, err := env.Engine.Remove(ctx, sessionID, path, description)
	if err != nil {
		return nil, err
	}
	return editPayload(res), nil
}

type chmodTool struct{}

func (chmodTool) Validate(p Params) error {
	if err := requireStrings(p, "path", "mode"); err != nil {
		return err
	}
	mode, _ := p.String("mode")
	if mode != "a+x" && mode != "a-x" {
		return &ParamError{Name: "mode", Reason: `must be "a+x" or "a-x"`}
	}
	return nil
}

// Execute toggles the executable bits on a file and records the change.
func (chmodTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	path, _ := p.String("path")
	mode, _ := p.String("mode")

	abs, rel, err := env.Engine.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stating %s: %w", rel, err)
	}

	perm := info.Mode().Perm()
	if mode == "a+x" {
		perm |= 0o111
	} else {
		perm &^= 0o111
	}
	if err := os.Chmod(abs, perm); err != nil {
		return nil, fmt.Errorf("changing mode of %s: %w", rel, err)
	}

	commit, err := env.Engine.RecordExternal(sessionID, rel, fmt.Sprintf("chmod %s %s", mode, rel))
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": rel, "mode": perm.String(), "commit": commit.Hash}, nil
}
