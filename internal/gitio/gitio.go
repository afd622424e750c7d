// Package gitio provides Git repository I/O operations using go-git.
package gitio

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// RefNamespace is the prefix for session references.
const RefNamespace = "refs/gitscribe/"

// Repository wraps a go-git repository. Worktree, index, and ref mutations
// are shared mutable state, so they are serialized behind mu.
type Repository struct {
	repo *git.Repository
	root string

	mu sync.Mutex
}

// Open opens the Git repository containing path, searching parent
// directories for the .git directory.
func Open(path string) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", abs, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}

	return &Repository{repo: repo, root: wt.Filesystem.Root()}, nil
}

// Root returns the absolute path of the repository's working tree root.
func (r *Repository) Root() string {
	return r.root
}

// Rel converts an absolute path to a slash-separated path relative to the
// repository root.
func (r *Repository) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is outside the repository", abs)
	}
	return filepath.ToSlash(rel), nil
}

// IsTracked reports whether the given repo-relative path is in the index.
func (r *Repository) IsTracked(rel string) (bool, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return false, fmt.Errorf("reading index: %w", err)
	}
	if _, err := idx.Entry(filepath.ToSlash(rel)); err != nil {
		return false, nil
	}
	return true, nil
}

// Head returns the commit HEAD points at.
func (r *Repository) Head() (*object.Commit, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("getting HEAD commit: %w", err)
	}
	return commit, nil
}

// SessionRefName returns the full reference name for a session ID.
func SessionRefName(sessionID string) plumbing.ReferenceName {
	return plumbing.ReferenceName(RefNamespace + sessionID)
}

// SessionRefCommit returns the commit a session reference points at, or
// nil if the reference does not exist.
func (r *Repository) SessionRefCommit(sessionID string) (*object.Commit, error) {
	ref, err := r.repo.Reference(SessionRefName(sessionID), true)
	if err == plumbing.ErrReferenceNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session ref: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("getting session commit: %w", err)
	}
	return commit, nil
}

// SetSessionRef points the session reference at the given commit.
func (r *Repository) SetSessionRef(sessionID string, hash plumbing.Hash) error {
	ref := plumbing.NewHashReference(SessionRefName(sessionID), hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("updating session ref: %w", err)
	}
	return nil
}

// CreateAnchorCommit creates a commit object with HEAD's tree and HEAD as
// parent, carrying the given message, and points the session reference at
// it. The working tree, index, and HEAD are untouched.
func (r *Repository) CreateAnchorCommit(sessionID, message string) (*object.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.Head()
	if err != nil {
		return nil, err
	}

	sig := r.signature()
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     head.TreeHash,
		ParentHashes: []plumbing.Hash{head.Hash},
	}

	obj := r.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return nil, fmt.Errorf("encoding commit: %w", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return nil, fmt.Errorf("writing commit object: %w", err)
	}

	if err := r.SetSessionRef(sessionID, hash); err != nil {
		return nil, err
	}
	return r.repo.CommitObject(hash)
}

// Status returns the worktree status.
func (r *Repository) Status() (git.Status, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("computing status: %w", err)
	}
	return status, nil
}

// ChangedPaths returns every path with a staged or worktree change,
// sorted. Used to capture what a command run touched.
func (r *Repository) ChangedPaths() ([]string, error) {
	status, err := r.Status()
	if err != nil {
		return nil, err
	}
	var paths []string
	for path, st := range status {
		if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// ForeignStagedPaths returns the paths with staging-area changes that are
// not in the allowed set. These would be silently swept into a commit, so
// the caller must refuse to record while any exist.
func (r *Repository) ForeignStagedPaths(allowed map[string]bool) ([]string, error) {
	status, err := r.Status()
	if err != nil {
		return nil, err
	}
	var foreign []string
	for path, st := range status {
		if st.Staging == git.Unmodified || st.Staging == git.Untracked {
			continue
		}
		if !allowed[path] {
			foreign = append(foreign, path)
		}
	}
	return foreign, nil
}

// CommitPaths stages the given repo-relative paths and commits them with
// message. When amend is true the commit replaces the current HEAD commit:
// same parents, new tree, new message. Returns the new commit.
func (r *Repository) CommitPaths(paths []string, message string, amend bool) (*object.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}

	for _, p := range paths {
		if _, err := wt.Add(filepath.ToSlash(p)); err != nil {
			return nil, fmt.Errorf("staging %s: %w", p, err)
		}
	}

	sig := r.signature()
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author:    &sig,
		Committer: &sig,
		Amend:     amend,
	})
	if err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}

	commit, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("getting new commit: %w", err)
	}
	return commit, nil
}

// signature builds a commit signature from the repository configuration,
// falling back to a fixed identity when none is configured.
func (r *Repository) signature() object.Signature {
	name, email := "gitscribe", "gitscribe@localhost"
	if cfg, err := r.repo.ConfigScoped(config.GlobalScope); err == nil {
		if cfg.User.Name != "" {
			name = cfg.User.Name
		}
		if cfg.User.Email != "" {
			email = cfg.User.Email
		}
	}
	return object.Signature{Name: name, Email: email, When: time.Now()}
}
