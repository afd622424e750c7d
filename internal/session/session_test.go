package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"gitscribe/internal/gitio"
	"gitscribe/internal/store"
)

// setupRepo creates a temp Git repository with one committed file and
// returns the opened wrapper, the state store, and the repo root.
func setupRepo(t *testing.T) (*gitio.Repository, *store.DB, string) {
	t.Helper()

	dir := t.TempDir()
	raw, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("initializing repository: %v", err)
	}

	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	wt, err := raw.Worktree()
	if err != nil {
		t.Fatalf("getting worktree: %v", err)
	}
	if _, err := wt.Add("main.go"); err != nil {
		t.Fatalf("staging file: %v", err)
	}
	sig := &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}
	if _, err := wt.Commit("initial", &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		t.Fatalf("committing: %v", err)
	}

	repo, err := gitio.Open(dir)
	if err != nil {
		t.Fatalf("opening repository: %v", err)
	}

	db, err := store.Open(filepath.Join(dir, ".git", "gitscribe"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return repo, db, dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
}

func TestStartAnchorsSession(t *testing.T) {
	repo, db, _ := setupRepo(t)
	mgr := NewManager(repo, db)

	s, err := mgr.Start("sess-1", "feat: test", "do the thing", ReturnExisting)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Working != "" {
		t.Errorf("Working = %q, want empty before first edit", s.Working)
	}

	anchor, err := repo.SessionRefCommit("sess-1")
	if err != nil {
		t.Fatalf("SessionRefCommit: %v", err)
	}
	if anchor == nil {
		t.Fatal("session ref not created")
	}
	if got := Trailer(anchor.Message, TrailerKey); got != "sess-1" {
		t.Errorf("anchor trailer = %q, want sess-1", got)
	}

	// The anchor shares HEAD's tree and stacks on HEAD.
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if anchor.TreeHash != head.TreeHash {
		t.Errorf("anchor tree differs from HEAD tree")
	}
	if len(anchor.ParentHashes) != 1 || anchor.ParentHashes[0] != head.Hash {
		t.Errorf("anchor parent = %v, want HEAD %v", anchor.ParentHashes, head.Hash)
	}
}

func TestStartDuplicatePolicy(t *testing.T) {
	repo, db, _ := setupRepo(t)
	mgr := NewManager(repo, db)

	if _, err := mgr.Start("dup", "subject", "prompt", ReturnExisting); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Idempotent retry returns the existing session.
	s, err := mgr.Start("dup", "subject", "prompt", ReturnExisting)
	if err != nil {
		t.Fatalf("retried Start: %v", err)
	}
	if s.ID != "dup" {
		t.Errorf("ID = %q", s.ID)
	}

	// Strict policy fails instead.
	_, err = mgr.Start("dup", "subject", "prompt", FailOnDuplicate)
	var dupErr *DuplicateError
	if !errors.As(err, &dupErr) {
		t.Fatalf("err = %v, want DuplicateError", err)
	}
}

func TestRecordSequenceSingleCommit(t *testing.T) {
	repo, db, dir := setupRepo(t)
	mgr := NewManager(repo, db)

	if _, err := mgr.Start("seq", "feat: change main", "prompt", ReturnExisting); err != nil {
		t.Fatalf("Start: %v", err)
	}

	baseHead, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	// Edit A.
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	resA, err := mgr.Record("seq", "main.go", "add main func", "digest-a")
	if err != nil {
		t.Fatalf("Record A: %v", err)
	}
	if resA.Amended {
		t.Errorf("first edit reported as amend")
	}

	// Edit B.
	writeFile(t, dir, "main.go", "package main\n\nfunc main() { println(1) }\n")
	resB, err := mgr.Record("seq", "main.go", "print a number", "digest-b")
	if err != nil {
		t.Fatalf("Record B: %v", err)
	}
	if !resB.Amended {
		t.Errorf("second edit did not amend")
	}

	// Exactly one commit separates HEAD from the pre-session head.
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if len(head.ParentHashes) != 1 || head.ParentHashes[0] != baseHead.Hash {
		t.Fatalf("working commit parent = %v, want %v", head.ParentHashes, baseHead.Hash)
	}

	// The single commit carries both descriptions and the session ID.
	for _, want := range []string{"- add main func", "- print a number", "gitscribe-id: seq"} {
		if !strings.Contains(head.Message, want) {
			t.Errorf("message missing %q:\n%s", want, head.Message)
		}
	}

	// The session ref tracks the working commit.
	refCommit, err := repo.SessionRefCommit("seq")
	if err != nil {
		t.Fatalf("SessionRefCommit: %v", err)
	}
	if refCommit.Hash != head.Hash {
		t.Errorf("session ref = %v, HEAD = %v", refCommit.Hash, head.Hash)
	}
}

func TestRecordIdenticalRequestDeduplicated(t *testing.T) {
	repo, db, dir := setupRepo(t)
	mgr := NewManager(repo, db)

	if _, err := mgr.Start("retry", "feat: x", "prompt", ReturnExisting); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeFile(t, dir, "main.go", "package main // v2\n")
	res1, err := mgr.Record("retry", "main.go", "tweak header", "digest-1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	// The identical request again: no new description, same commit.
	res2, err := mgr.Record("retry", "main.go", "tweak header", "digest-1")
	if err != nil {
		t.Fatalf("retried Record: %v", err)
	}
	if res2.Hash != res1.Hash {
		t.Errorf("retry produced a different commit")
	}
	if strings.Count(res2.Message, "- tweak header") != 1 {
		t.Errorf("description duplicated:\n%s", res2.Message)
	}
}

func TestRecordLeavesForeignWorktreeChangesUncommitted(t *testing.T) {
	repo, db, dir := setupRepo(t)
	mgr := NewManager(repo, db)

	if _, err := mgr.Start("narrow", "feat: x", "prompt", ReturnExisting); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The session edits main.go.
	writeFile(t, dir, "main.go", "package main // session\n")
	if _, err := mgr.Record("narrow", "main.go", "edit main", "digest-1"); err != nil {
		t.Fatalf("Record main.go: %v", err)
	}

	// main.go is then modified externally, unstaged, before the session
	// touches a different file.
	writeFile(t, dir, "main.go", "FOREIGN CHANGE\n")
	writeFile(t, dir, "notes.txt", "session notes\n")
	if _, err := mgr.Record("narrow", "notes.txt", "add notes", "digest-2"); err != nil {
		t.Fatalf("Record notes.txt: %v", err)
	}

	// The amended commit keeps the session's main.go, not the external
	// overwrite.
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	tree, err := head.Tree()
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	f, err := tree.File("main.go")
	if err != nil {
		t.Fatalf("File main.go: %v", err)
	}
	got, err := f.Contents()
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if got != "package main // session\n" {
		t.Errorf("committed main.go = %q, want the session's edit", got)
	}
}

func TestRecordForeignStagedChanges(t *testing.T) {
	repo, db, dir := setupRepo(t)
	mgr := NewManager(repo, db)

	if _, err := mgr.Start("dirty", "feat: x", "prompt", ReturnExisting); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Stage a foreign file behind the session's back.
	writeFile(t, dir, "foreign.txt", "not ours\n")
	raw, err := gogit.PlainOpen(dir)
	if err != nil {
		t.Fatalf("opening raw repo: %v", err)
	}
	wt, err := raw.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Add("foreign.txt"); err != nil {
		t.Fatalf("staging foreign file: %v", err)
	}

	writeFile(t, dir, "main.go", "package main // edited\n")
	_, err = mgr.Record("dirty", "main.go", "edit main", "digest")
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}
	if len(integrity.Paths) != 1 || integrity.Paths[0] != "foreign.txt" {
		t.Errorf("Paths = %v", integrity.Paths)
	}
}

func TestNewID(t *testing.T) {
	id := NewID("feat: add parser")
	if !strings.HasPrefix(id, "feat-add-parser-") {
		t.Errorf("id = %q", id)
	}
	if id == NewID("feat: add parser") {
		t.Errorf("ids not unique")
	}
}
