package engine

import (
	"fmt"
	"strings"
)

// NotFoundError reports that the old text was absent after all matching
// tiers.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("old text not found in %s; read the file again and retry with its current content", e.Path)
}

// AmbiguousError reports that the old text matched more than one location.
// The contexts let the caller widen its old text until it is unique.
type AmbiguousError struct {
	Path     string
	Count    int
	Contexts []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("old text matches %d locations in %s; add surrounding context to make it unique:\n  %s",
		e.Count, e.Path, strings.Join(e.Contexts, "\n  "))
}

// UntrackedFileError reports an edit target that is not under version
// control. Untracked files must go through the create path.
type UntrackedFileError struct {
	Path string
}

func (e *UntrackedFileError) Error() string {
	return fmt.Sprintf("file %s is not tracked by git; only tracked files can be edited in place", e.Path)
}

// GitError wraps a failed Git plumbing operation. It is caller-retryable;
// the engine never retries internally.
type GitError struct {
	Op  string
	Err error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git operation %s failed: %v", e.Op, e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}
