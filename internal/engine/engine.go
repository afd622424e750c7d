// Package engine orchestrates one edit request end to end: freshness
// check, span location, rewrite, line-ending preservation, and binding the
// change into the session's single commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gitscribe/internal/gitio"
	"gitscribe/internal/lineending"
	"gitscribe/internal/match"
	"gitscribe/internal/rules"
	"gitscribe/internal/session"
	"gitscribe/internal/snapshot"
	"gitscribe/internal/util"
)

// EditRequest asks for oldText to be replaced by newText in one file.
// OldText must be a contiguous substring of the file as last read.
type EditRequest struct {
	SessionID   string
	Path        string // absolute, or relative to the repository root
	OldText     string
	NewText     string
	Description string
}

// EditResult reports an applied edit.
type EditResult struct {
	Path       string
	Commit     *session.CommitResult
	Snippet    string
	Fuzzy      bool
	Confidence float64
}

// Engine composes the snapshot tracker, matcher, line-ending codec, and
// session manager. One Engine serves one repository.
type Engine struct {
	repo     *gitio.Repository
	tracker  *snapshot.Tracker
	sessions *session.Manager
	guard    *rules.Guard
}

// New creates an engine for an opened repository.
func New(repo *gitio.Repository, tracker *snapshot.Tracker, sessions *session.Manager, guard *rules.Guard) *Engine {
	return &Engine{repo: repo, tracker: tracker, sessions: sessions, guard: guard}
}

// Sessions exposes the session manager for session-level operations.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Repo exposes the repository wrapper.
func (e *Engine) Repo() *gitio.Repository {
	return e.repo
}

// Resolve turns a caller path into (absolute, repo-relative) and applies
// the guard rules.
func (e *Engine) Resolve(path string) (abs, rel string, err error) {
	abs = path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(e.repo.Root(), path)
	}
	rel, err = e.repo.Rel(abs)
	if err != nil {
		return "", "", err
	}
	if err := e.guard.Check(rel); err != nil {
		return "", "", err
	}
	return abs, rel, nil
}

// Read returns a file's content and records the session's snapshot
// baseline for it.
func (e *Engine) Read(ctx context.Context, sessionID, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	abs, rel, err := e.Resolve(path)
	if err != nil {
		return "", err
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rel, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stating %s: %w", rel, err)
	}

	if err := e.tracker.Record(sessionID, rel, raw, info); err != nil {
		return "", err
	}
	return lineending.Normalize(raw), nil
}

// Apply performs one edit request. The file must be tracked and fresh; the
// old text must locate uniquely. On success the change is part of the
// session's single commit.
func (e *Engine) Apply(ctx context.Context, req EditRequest) (*EditResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.OldText == "" {
		return e.Create(ctx, req.SessionID, req.Path, req.NewText, req.Description)
	}

	abs, rel, err := e.Resolve(req.Path)
	if err != nil {
		return nil, err
	}

	tracked, err := e.repo.IsTracked(rel)
	if err != nil {
		return nil, err
	}
	if !tracked {
		return nil, &UntrackedFileError{Path: rel}
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}

	// Staleness gate: refuse before any write when the on-disk content
	// no longer matches what this session last read. An unchanged stat
	// skips the rehash.
	if info, statErr := os.Stat(abs); statErr == nil {
		fresh, err := e.tracker.Fresh(req.SessionID, rel, info)
		if err != nil {
			return nil, err
		}
		if !fresh {
			if err := e.tracker.Verify(req.SessionID, rel, raw); err != nil {
				return nil, err
			}
		}
	} else if err := e.tracker.Verify(req.SessionID, rel, raw); err != nil {
		return nil, err
	}

	style := lineending.Detect(raw)
	content := lineending.Normalize(raw)
	oldText := strings.ReplaceAll(req.OldText, "\r\n", "\n")
	newText := strings.ReplaceAll(req.NewText, "\r\n", "\n")

	result := match.Locate(content, oldText)
	switch result.Kind {
	case match.NotFound:
		return nil, &NotFoundError{Path: rel}
	case match.Ambiguous:
		contexts := make([]string, len(result.Occurrences))
		for i, occ := range result.Occurrences {
			contexts[i] = occ.Context
		}
		return nil, &AmbiguousError{Path: rel, Count: result.Count, Contexts: contexts}
	}

	edited := content[:result.Span.Start] + newText + content[result.Span.End:]
	out := lineending.Splice(raw, result.Span.Start, result.Span.End, newText, style)

	if err := writeAtomic(abs, out); err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stating %s: %w", rel, err)
	}
	if err := e.tracker.Record(req.SessionID, rel, out, info); err != nil {
		return nil, err
	}

	commit, err := e.record(req.SessionID, rel, req.Description, out)
	if err != nil {
		return nil, err
	}

	return &EditResult{
		Path:       rel,
		Commit:     commit,
		Snippet:    Snippet(edited, result.Span.Start, len(newText)),
		Fuzzy:      result.Kind == match.FuzzyAccepted,
		Confidence: result.Confidence,
	}, nil
}

// Create writes a file whole, creating it if needed. This is the only
// path on which an untracked target is accepted; the commit makes it
// tracked.
func (e *Engine) Create(ctx context.Context, sessionID, path, content, description string) (*EditResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, rel, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}

	// Overwriting an existing tracked file still requires freshness.
	if raw, err := os.ReadFile(abs); err == nil {
		if err := e.tracker.Verify(sessionID, rel, raw); err != nil {
			var notRead *snapshot.NotReadError
			if !errors.As(err, &notRead) {
				return nil, err
			}
			// Never read in this session: allowed only for files
			// git does not know about yet.
			tracked, terr := e.repo.IsTracked(rel)
			if terr != nil {
				return nil, terr
			}
			if tracked {
				return nil, err
			}
		}
	} else if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", rel, err)
	}

	// Keep the style recorded at read time; a never-read file falls
	// back to what is on disk, then LF.
	style, recorded, err := e.tracker.Style(sessionID, rel)
	if err != nil {
		return nil, err
	}
	if !recorded {
		if existing, rerr := os.ReadFile(abs); rerr == nil {
			style = lineending.Detect(existing)
		}
	}
	out := lineending.Reapply(strings.ReplaceAll(content, "\r\n", "\n"), style)

	if err := writeAtomic(abs, out); err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stating %s: %w", rel, err)
	}
	if err := e.tracker.Record(sessionID, rel, out, info); err != nil {
		return nil, err
	}

	commit, err := e.record(sessionID, rel, description, out)
	if err != nil {
		return nil, err
	}

	return &EditResult{Path: rel, Commit: commit}, nil
}

// Remove deletes a tracked file and records the deletion in the session
// commit.
func (e *Engine) Remove(ctx context.Context, sessionID, path, description string) (*EditResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, rel, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}

	tracked, err := e.repo.IsTracked(rel)
	if err != nil {
		return nil, err
	}
	if !tracked {
		return nil, &UntrackedFileError{Path: rel}
	}

	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("removing %s: %w", rel, err)
	}

	commit, err := e.record(sessionID, rel, description, nil)
	if err != nil {
		return nil, err
	}
	return &EditResult{Path: rel, Commit: commit}, nil
}

// RecordExternal folds changes produced outside the engine (for example
// by a configured command) into the session commit.
func (e *Engine) RecordExternal(sessionID, rel, description string) (*session.CommitResult, error) {
	return e.record(sessionID, rel, description, nil)
}

// record binds an edit into the session commit, wrapping plumbing
// failures so callers can distinguish retryable git errors.
func (e *Engine) record(sessionID, rel, description string, content []byte) (*session.CommitResult, error) {
	digest := ""
	if content != nil {
		digest = util.Blake3HashHex(content)
	}
	commit, err := e.sessions.Record(sessionID, rel, description, digest)
	if err != nil {
		var integrity *session.IntegrityError
		if errors.As(err, &integrity) {
			return nil, err
		}
		return nil, &GitError{Op: "record", Err: err}
	}
	return commit, nil
}

// writeAtomic writes data via a temp file and rename so a crash never
// leaves a half-written file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gitscribe-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// Snippet renders a few numbered lines around an edit so the caller can
// confirm the result without re-reading the file.
func Snippet(content string, offset, editLen int) string {
	const contextLines = 4

	lineStart := strings.Count(content[:offset], "\n")
	end := offset + editLen
	if end > len(content) {
		end = len(content)
	}
	lineEnd := strings.Count(content[:end], "\n")

	lines := strings.Split(content, "\n")
	from := lineStart - contextLines
	if from < 0 {
		from = 0
	}
	to := lineEnd + contextLines
	if to > len(lines)-1 {
		to = len(lines) - 1
	}

	var b strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, "%4d\t%s\n", i+1, lines[i])
	}
	return strings.TrimRight(b.String(), "\n")
}
