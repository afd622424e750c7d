// Package main provides the gitscribe CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gitscribe/internal/config"
	"gitscribe/internal/engine"
	"gitscribe/internal/entity"
	"gitscribe/internal/gitio"
	"gitscribe/internal/rules"
	"gitscribe/internal/server"
	"gitscribe/internal/session"
	"gitscribe/internal/snapshot"
	"gitscribe/internal/store"
	"gitscribe/internal/tool"
)

const stateDir = "gitscribe"

var rootCmd = &cobra.Command{
	Use:   "gitscribe",
	Short: "Session-scoped file editing recorded as one evolving Git commit",
	Long:  `gitscribe serves file read/edit operations over stdio and binds every accepted change of a session into a single amended Git commit, so one conversation always maps to one commit.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve operations over stdio (newline-delimited JSON)",
	RunE:  runServe,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter gitscribe.toml and guard rules",
	RunE:  runInit,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	RunE:  runSessions,
}

var repoPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "Path to the Git repository")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	repo, err := gitio.Open(repoPath)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	cfg, err := config.Load(repo.Root())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	guard, err := rules.Load(repo.Root())
	if err != nil {
		return fmt.Errorf("loading guard rules: %w", err)
	}

	db, err := store.Open(filepath.Join(repo.Root(), ".git", stateDir))
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()

	log := newLogger(cfg)

	mgr := session.NewManager(repo, db)
	eng := engine.New(repo, snapshot.NewTracker(db), mgr, guard)
	env := &tool.Env{
		Engine:   eng,
		Entities: entity.NewService(eng),
		Config:   cfg,
		Log:      log,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("serving", "repo", repo.Root(), "operations", len(tool.Names()))
	return server.New(env).Serve(ctx, os.Stdin, os.Stdout)
}

func runInit(cmd *cobra.Command, args []string) error {
	repo, err := gitio.Open(repoPath)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	root := repo.Root()

	cfgPath := filepath.Join(root, config.FileName)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		starter := `project_prompt = """
Before making changes, read the files you intend to edit.
"""

# [commands]
# format = ["gofmt", "-w", "."]
# test = { command = ["go", "test", "./..."], doc = "run the test suite" }
`
		if err := os.WriteFile(cfgPath, []byte(starter), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", config.FileName, err)
		}
		fmt.Printf("Wrote %s\n", config.FileName)
	} else {
		fmt.Printf("%s already exists, leaving it alone\n", config.FileName)
	}

	rulesPath := filepath.Join(root, rules.RulesFile)
	if _, err := os.Stat(rulesPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(rulesPath), 0o755); err != nil {
			return fmt.Errorf("creating rules directory: %w", err)
		}
		starter := `# Globs the edit engine refuses to touch, in addition to the built-in
# protection of gitscribe.toml and .gitscribe/.
protected: []
`
		if err := os.WriteFile(rulesPath, []byte(starter), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", rules.RulesFile, err)
		}
		fmt.Printf("Wrote %s\n", rules.RulesFile)
	}

	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	repo, err := gitio.Open(repoPath)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	db, err := store.Open(filepath.Join(repo.Root(), ".git", stateDir))
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()

	rows, err := db.Conn().Query(
		`SELECT id, subject, working, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	count := 0
	fmt.Printf("%-34s  %-40s  %-10s  %s\n", "ID", "SUBJECT", "COMMIT", "UPDATED")
	for rows.Next() {
		var id, subject, working string
		var updatedAt int64
		if err := rows.Scan(&id, &subject, &working, &updatedAt); err != nil {
			return fmt.Errorf("scanning session: %w", err)
		}
		if len(subject) > 40 {
			subject = subject[:40]
		}
		short := working
		if len(short) > 10 {
			short = short[:10]
		}
		if short == "" {
			short = "(none)"
		}
		updated := time.UnixMilli(updatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%-34s  %-40s  %-10s  %s\n", id, subject, short, updated)
		count++
	}
	if count == 0 {
		fmt.Println("No sessions recorded.")
	}
	return rows.Err()
}

// newLogger builds the process logger: a file under the state directory
// when possible, stderr otherwise.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	name := cfg.LogLevel
	if env := os.Getenv("GITSCRIBE_LOG"); env != "" {
		name = env
	}
	switch name {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if dir := logDir(); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			f, err := os.OpenFile(filepath.Join(dir, "gitscribe.log"),
				os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err == nil {
				out = f
			}
		}
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func logDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, stateDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", stateDir)
}
