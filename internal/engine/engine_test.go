package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"gitscribe/internal/gitio"
	"gitscribe/internal/rules"
	"gitscribe/internal/session"
	"gitscribe/internal/snapshot"
	"gitscribe/internal/store"
)

// setupEngine creates a temp repository with the given files committed,
// starts a session, and returns a ready engine.
func setupEngine(t *testing.T, files map[string]string) (*Engine, string) {
	t.Helper()

	dir := t.TempDir()
	raw, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("initializing repository: %v", err)
	}
	wt, err := raw.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", rel, err)
		}
		if _, err := wt.Add(rel); err != nil {
			t.Fatalf("staging %s: %v", rel, err)
		}
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

	guard, err := rules.Load(dir)
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}

	mgr := session.NewManager(repo, db)
	if _, err := mgr.Start("sess", "feat: test", "prompt", session.ReturnExisting); err != nil {
		t.Fatalf("starting session: %v", err)
	}

	return New(repo, snapshot.NewTracker(db), mgr, guard), dir
}

func TestApplyEdit(t *testing.T) {
	eng, dir := setupEngine(t, map[string]string{
		"main.go": "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
	})

	if _, err := eng.Read(context.Background(), "sess", "main.go"); err != nil {
		t.Fatalf("Read: %v", err)
	}

	res, err := eng.Apply(context.Background(), EditRequest{
		SessionID:   "sess",
		Path:        "main.go",
		OldText:     "println(\"hi\")",
		NewText:     "println(\"bye\")",
		Description: "change greeting",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Commit == nil {
		t.Fatal("no commit recorded")
	}
	if !strings.Contains(res.Snippet, "println(\"bye\")") {
		t.Errorf("snippet missing edit:\n%s", res.Snippet)
	}

	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if !strings.Contains(string(got), "println(\"bye\")") {
		t.Errorf("file not rewritten:\n%s", got)
	}
	if !strings.Contains(res.Commit.Message, "- change greeting") {
		t.Errorf("message missing description:\n%s", res.Commit.Message)
	}
}

func TestApplyRequiresRead(t *testing.T) {
	eng, _ := setupEngine(t, map[string]string{"main.go": "package main\n"})

	_, err := eng.Apply(context.Background(), EditRequest{
		SessionID: "sess",
		Path:      "main.go",
		OldText:   "package main",
		NewText:   "package app",
	})
	var notRead *snapshot.NotReadError
	if !errors.As(err, &notRead) {
		t.Fatalf("err = %v, want NotReadError", err)
	}
}

func TestApplyStaleFile(t *testing.T) {
	eng, dir := setupEngine(t, map[string]string{"main.go": "package main\n"})

	if _, err := eng.Read(context.Background(), "sess", "main.go"); err != nil {
		t.Fatalf("Read: %v", err)
	}

	// Someone else rewrites the file after our read.
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package other\n"), 0o644); err != nil {
		t.Fatalf("rewriting: %v", err)
	}

	_, err := eng.Apply(context.Background(), EditRequest{
		SessionID: "sess",
		Path:      "main.go",
		OldText:   "package main",
		NewText:   "package app",
	})
	var stale *snapshot.StaleError
	if !errors.As(err, &stale) {
		t.Fatalf("err = %v, want StaleError", err)
	}

	// Disk content is untouched by the rejected edit.
	got, _ := os.ReadFile(filepath.Join(dir, "main.go"))
	if string(got) != "package other\n" {
		t.Errorf("file modified despite stale rejection: %q", got)
	}
}

func TestApplyAmbiguous(t *testing.T) {
	eng, _ := setupEngine(t, map[string]string{
		"list.go": "item\nitem\nitem\n",
	})

	if _, err := eng.Read(context.Background(), "sess", "list.go"); err != nil {
		t.Fatalf("Read: %v", err)
	}

	_, err := eng.Apply(context.Background(), EditRequest{
		SessionID: "sess",
		Path:      "list.go",
		OldText:   "item\n",
		NewText:   "thing\n",
	})
	var ambiguous *AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("err = %v, want AmbiguousError", err)
	}
	if ambiguous.Count != 3 {
		t.Errorf("Count = %d, want 3", ambiguous.Count)
	}
	if len(ambiguous.Contexts) != 3 {
		t.Errorf("Contexts = %v", ambiguous.Contexts)
	}
}

func TestApplyNotFound(t *testing.T) {
	eng, _ := setupEngine(t, map[string]string{"main.go": "package main\n"})

	if _, err := eng.Read(context.Background(), "sess", "main.go"); err != nil {
		t.Fatalf("Read: %v", err)
	}

	_, err := eng.Apply(context.Background(), EditRequest{
		SessionID: "sess",
		Path:      "main.go",
		OldText:   "does not exist",
		NewText:   "x",
	})
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestApplyUntrackedFile(t *testing.T) {
	eng, dir := setupEngine(t, map[string]string{"main.go": "package main\n"})

	if err := os.WriteFile(filepath.Join(dir, "loose.txt"), []byte("loose\n"), 0o644); err != nil {
		t.Fatalf("writing: %v", err)
	}
	if _, err := eng.Read(context.Background(), "sess", "loose.txt"); err != nil {
		t.Fatalf("Read: %v", err)
	}

	_, err := eng.Apply(context.Background(), EditRequest{
		SessionID: "sess",
		Path:      "loose.txt",
		OldText:   "loose",
		NewText:   "tight",
	})
	var untracked *UntrackedFileError
	if !errors.As(err, &untracked) {
		t.Fatalf("err = %v, want UntrackedFileError", err)
	}
}

func TestApplyPreservesCRLF(t *testing.T) {
	eng, dir := setupEngine(t, map[string]string{
		"notes.txt": "alpha\r\nbeta\r\ngamma\r\n",
	})

	content, err := eng.Read(context.Background(), "sess", "notes.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if strings.Contains(content, "\r") {
		t.Fatalf("Read did not normalize: %q", content)
	}

	if _, err := eng.Apply(context.Background(), EditRequest{
		SessionID: "sess",
		Path:      "notes.txt",
		OldText:   "beta\n",
		NewText:   "delta\n",
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, _ := os.ReadFile(filepath.Join(dir, "notes.txt"))
	if string(got) != "alpha\r\ndelta\r\ngamma\r\n" {
		t.Errorf("line endings not preserved: %q", got)
	}
}

func TestApplyKeepsMixedEndingsOutsideEdit(t *testing.T) {
	eng, dir := setupEngine(t, map[string]string{
		"notes.txt": "alpha\r\nbeta\ngamma\r\ndelta\r\n",
	})

	if _, err := eng.Read(context.Background(), "sess", "notes.txt"); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if _, err := eng.Apply(context.Background(), EditRequest{
		SessionID: "sess",
		Path:      "notes.txt",
		OldText:   "gamma",
		NewText:   "GAMMA",
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// The LF ending of the untouched beta line survives the edit.
	got, _ := os.ReadFile(filepath.Join(dir, "notes.txt"))
	if string(got) != "alpha\r\nbeta\nGAMMA\r\ndelta\r\n" {
		t.Errorf("untouched endings rewritten: %q", got)
	}
}

func TestCreateNewFile(t *testing.T) {
	eng, dir := setupEngine(t, map[string]string{"main.go": "package main\n"})

	res, err := eng.Create(context.Background(), "sess", "docs/readme.md", "# Title\n", "add readme")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Path != "docs/readme.md" {
		t.Errorf("Path = %q", res.Path)
	}

	got, err := os.ReadFile(filepath.Join(dir, "docs", "readme.md"))
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(got) != "# Title\n" {
		t.Errorf("content = %q", got)
	}

	tracked, err := eng.Repo().IsTracked("docs/readme.md")
	if err != nil {
		t.Fatalf("IsTracked: %v", err)
	}
	if !tracked {
		t.Errorf("created file not tracked after commit")
	}
}

func TestCreateProtectedPath(t *testing.T) {
	eng, _ := setupEngine(t, map[string]string{"main.go": "package main\n"})

	_, err := eng.Create(context.Background(), "sess", "gitscribe.toml", "project_prompt = \"x\"\n", "clobber config")
	var protected *rules.ProtectedError
	if !errors.As(err, &protected) {
		t.Fatalf("err = %v, want ProtectedError", err)
	}
}

func TestCreateOverwriteTrackedRequiresRead(t *testing.T) {
	eng, _ := setupEngine(t, map[string]string{"main.go": "package main\n"})

	_, err := eng.Create(context.Background(), "sess", "main.go", "package app\n", "rewrite")
	var notRead *snapshot.NotReadError
	if !errors.As(err, &notRead) {
		t.Fatalf("err = %v, want NotReadError", err)
	}

	if _, err := eng.Read(context.Background(), "sess", "main.go"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := eng.Create(context.Background(), "sess", "main.go", "package app\n", "rewrite"); err != nil {
		t.Fatalf("Create after read: %v", err)
	}
}

func TestCreateOverwriteKeepsRecordedStyle(t *testing.T) {
	eng, dir := setupEngine(t, map[string]string{
		"win.txt": "alpha\r\nbeta\r\n",
	})

	if _, err := eng.Read(context.Background(), "sess", "win.txt"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := eng.Create(context.Background(), "sess", "win.txt", "alpha\nbeta\ngamma\n", "extend"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _ := os.ReadFile(filepath.Join(dir, "win.txt"))
	if string(got) != "alpha\r\nbeta\r\ngamma\r\n" {
		t.Errorf("style not preserved: %q", got)
	}
}

func TestRemoveFile(t *testing.T) {
	eng, dir := setupEngine(t, map[string]string{
		"main.go": "package main\n",
		"old.txt": "obsolete\n",
	})

	if _, err := eng.Remove(context.Background(), "sess", "old.txt", "drop obsolete notes"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "old.txt")); !os.IsNotExist(err) {
		t.Errorf("file still exists")
	}

	head, err := eng.Repo().Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if !strings.Contains(head.Message, "- drop obsolete notes") {
		t.Errorf("message missing description:\n%s", head.Message)
	}
}

func TestSnippet(t *testing.T) {
	content := "a\nb\nc\nd\ne\nf\ng\nh\ni\nj\nk\nl\n"
	snip := Snippet(content, strings.Index(content, "f"), 1)
	if !strings.Contains(snip, "6\tf") {
		t.Errorf("snippet missing edited line:\n%s", snip)
	}
	if strings.Contains(snip, "12\tl") {
		t.Errorf("snippet includes distant line:\n%s", snip)
	}
}
