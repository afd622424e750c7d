package tool

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"gitscribe/internal/session"
)

const commandOutputLimit = 64 * 1024

// CommandNotAllowedError reports a command name absent from the
// configuration's commands table.
type CommandNotAllowedError struct {
	Name string
}

func (e *CommandNotAllowedError) Error() string {
	return fmt.Sprintf("command %q is not configured in gitscribe.toml", e.Name)
}

type runCommandTool struct{}

func (runCommandTool) Validate(p Params) error {
	if err := requireStrings(p, "command"); err != nil {
		return err
	}
	_, err := p.StringsOr("arguments")
	return err
}

// Execute runs a configured command in the repository root, then folds
// any files it changed into the session commit.
func (runCommandTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	name, _ := p.String("command")
	extra, _ := p.StringsOr("arguments")

	cfg, ok := env.Config.Commands[name]
	if !ok || len(cfg.Args) == 0 {
		return nil, &CommandNotAllowedError{Name: name}
	}

	before, err := env.Engine.Repo().ChangedPaths()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(before))
	for _, path := range before {
		seen[path] = true
	}

	args := append(append([]string{}, cfg.Args[1:]...), extra...)
	cmd := exec.CommandContext(ctx, cfg.Args[0], args...)
	cmd.Dir = env.Engine.Repo().Root()
	output, runErr := cmd.CombinedOutput()

	exitCode := 0
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("running %s: %w", name, runErr)
		}
		exitCode = exitErr.ExitCode()
	}
	if len(output) > commandOutputLimit {
		output = output[:commandOutputLimit]
	}

	after, err := env.Engine.Repo().ChangedPaths()
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, path := range after {
		if !seen[path] {
			changed = append(changed, path)
		}
	}

	result := map[string]any{
		"output":    string(output),
		"exit_code": exitCode,
	}
	if len(changed) > 0 {
		commit, err := env.Engine.Sessions().RecordPaths(
			sessionID, changed, fmt.Sprintf("run %s", name))
		if err != nil {
			return nil, err
		}
		result["commit"] = commit.Hash
		result["changed"] = changed
	}
	return result, nil
}

type thinkTool struct{}

func (thinkTool) Validate(p Params) error {
	return requireStrings(p, "thought")
}

// Execute records the thought in the log; it changes nothing.
func (thinkTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	thought, _ := p.String("thought")
	env.Log.Info("thought", "session", sessionID, "thought", thought)
	return "Thought recorded.", nil
}

type userPromptTool struct{}

func (userPromptTool) Validate(p Params) error {
	return requireStrings(p, "user_prompt")
}

// Execute records a follow-up user prompt within the session.
func (userPromptTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	prompt, _ := p.String("user_prompt")
	env.Log.Info("user prompt", "session", sessionID, "prompt", prompt)
	return "User prompt received.", nil
}

type initProjectTool struct{}

func (initProjectTool) Validate(p Params) error {
	if err := requireStrings(p, "user_prompt"); err != nil {
		return err
	}
	if _, err := p.StringOr("subject", ""); err != nil {
		return err
	}
	_, err := p.BoolOr("reuse_head_session", false)
	return err
}

// Execute starts (or resumes) a session and returns the instruction
// payload assembled from the project configuration.
func (initProjectTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	prompt, _ := p.String("user_prompt")
	subject, _ := p.StringOr("subject", "")
	reuse, _ := p.BoolOr("reuse_head_session", false)

	if subject == "" {
		subject = firstLine(prompt)
	}

	mgr := env.Engine.Sessions()
	id := ""
	if reuse {
		headID, err := mgr.HeadSessionID()
		if err != nil {
			return nil, err
		}
		id = headID
	}
	if id == "" {
		id = session.NewID(subject)
	}

	s, err := mgr.Start(id, subject, prompt, session.ReturnExisting)
	if err != nil {
		return nil, err
	}

	var parts []string
	if env.Config.ProjectPrompt != "" {
		parts = append(parts, env.Config.ProjectPrompt)
	}
	if docs := env.Config.CommandDocs(); docs != "" {
		parts = append(parts, "Available commands:\n"+docs)
	}

	return map[string]any{
		"session_id":   s.ID,
		"instructions": strings.Join(parts, "\n\n"),
	}, nil
}

// firstLine truncates a prompt to a usable subject line.
func firstLine(s string) string {
	line := s
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 72 {
		line = line[:72]
	}
	if line == "" {
		line = "gitscribe session"
	}
	return line
}
