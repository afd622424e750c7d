package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGuardDefaults(t *testing.T) {
	g, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var protected *ProtectedError
	if err := g.Check("gitscribe.toml"); !errors.As(err, &protected) {
		t.Errorf("gitscribe.toml not protected: %v", err)
	}
	if err := g.Check(".gitscribe/rules.yaml"); err == nil {
		t.Errorf("rules file not protected")
	}
	if err := g.Check("src/main.go"); err != nil {
		t.Errorf("ordinary path rejected: %v", err)
	}
}

func TestGuardCustomRules(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".gitscribe"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	rules := "protected:\n  - \"secrets/**\"\n  - \"*.pem\"\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitscribe", "rules.yaml"), []byte(rules), 0o644); err != nil {
		t.Fatalf("writing rules: %v", err)
	}

	g, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := g.Check("secrets/api.key"); err == nil {
		t.Errorf("secrets path not protected")
	}
	if err := g.Check("server.pem"); err == nil {
		t.Errorf("pem file not protected")
	}
	if err := g.Check("cmd/server.go"); err != nil {
		t.Errorf("ordinary path rejected: %v", err)
	}
}
