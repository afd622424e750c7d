// Package session binds one interactive session to a single evolving Git
// commit: an anchor reference at session start, then a working commit that
// is amended in place for every accepted edit.
package session

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"gitscribe/internal/gitio"
	"gitscribe/internal/store"
	"gitscribe/internal/util"
)

// DuplicatePolicy controls what Start does when the session ID already
// exists.
type DuplicatePolicy int

const (
	// ReturnExisting makes Start idempotent: a retried start call gets
	// the session that is already anchored. This is the default.
	ReturnExisting DuplicatePolicy = iota
	// FailOnDuplicate makes Start return a DuplicateError instead.
	FailOnDuplicate
)

// DuplicateError reports that a session ID is already initialized.
type DuplicateError struct {
	ID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("session %s is already initialized", e.ID)
}

// IntegrityError reports foreign staged changes that recording would have
// silently swept into the session commit.
type IntegrityError struct {
	Paths []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("repository has staged changes outside this session (%s); commit or unstage them first",
		strings.Join(e.Paths, ", "))
}

// Session is one logical conversation accumulating edits into a single
// commit.
type Session struct {
	ID        string
	Subject   string
	Prompt    string
	Working   string // working commit hash, "" until the first edit
	CreatedAt int64
	UpdatedAt int64
}

// CommitResult describes the commit that now represents the session.
type CommitResult struct {
	Hash    string
	Amended bool
	Message string
}

// edit is one recorded edit description.
type edit struct {
	Path        string
	Description string
	Digest      string
}

// Manager owns session state: the Git anchor/working commits and the
// SQLite registry. Edits within one session are strictly serialized.
type Manager struct {
	repo *gitio.Repository
	db   *store.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a session manager.
func NewManager(repo *gitio.Repository, db *store.DB) *Manager {
	return &Manager{repo: repo, db: db, locks: make(map[string]*sync.Mutex)}
}

// sessionLock returns the mutex serializing one session's edits.
func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// NewID derives a fresh session ID from the subject line: a short slug
// plus a random suffix.
func NewID(subject string) string {
	return fmt.Sprintf("%s-%s", slugify(subject), uuid.NewString()[:8])
}

// slugify reduces a subject line to a short lowercase hyphenated slug.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
		if b.Len() >= 24 {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "session"
	}
	return slug
}

// Start initializes a session: it creates the anchor commit (HEAD's tree,
// session trailer in the message) behind refs/gitscribe/<id> and registers
// the session. The working tree is untouched. Restarting an existing ID
// follows the duplicate policy.
func (m *Manager) Start(id, subject, prompt string, policy DuplicatePolicy) (*Session, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if policy == FailOnDuplicate {
			return nil, &DuplicateError{ID: id}
		}
		return existing, nil
	}

	message := BuildMessage(subject, prompt, id, nil)
	if _, err := m.repo.CreateAnchorCommit(id, message); err != nil {
		return nil, fmt.Errorf("anchoring session: %w", err)
	}

	now := util.NowMs()
	_, err = m.db.Conn().Exec(
		`INSERT INTO sessions (id, subject, prompt, working, created_at, updated_at)
		 VALUES (?, ?, ?, '', ?, ?)`,
		id, subject, prompt, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("registering session: %w", err)
	}

	return &Session{ID: id, Subject: subject, Prompt: prompt, CreatedAt: now, UpdatedAt: now}, nil
}

// Get returns a session by ID, or nil when unknown.
func (m *Manager) Get(id string) (*Session, error) {
	var s Session
	err := m.db.Conn().QueryRow(
		`SELECT id, subject, prompt, working, created_at, updated_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.Subject, &s.Prompt, &s.Working, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &s, nil
}

// HeadSessionID returns the session ID recorded in HEAD's commit message
// trailer, or "" when HEAD does not belong to a session.
func (m *Manager) HeadSessionID() (string, error) {
	head, err := m.repo.Head()
	if err != nil {
		return "", err
	}
	return Trailer(head.Message, TrailerKey), nil
}

// Record folds one accepted edit into the session's single commit. The
// first edit creates the working commit on top of the anchor's parent;
// every later edit amends it in place: same parent, new tree, message
// rebuilt with all edit descriptions and the session trailer preserved.
// Recording the identical edit twice is detected and skipped.
func (m *Manager) Record(sessionID, relPath, description, digest string) (*CommitResult, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("unknown session %s; initialize it first", sessionID)
	}

	edits, err := m.edits(sessionID)
	if err != nil {
		return nil, err
	}

	// Retried-request idempotence: the identical edit is already bound.
	if n := len(edits); n > 0 {
		last := edits[n-1]
		if last.Path == relPath && last.Description == description && last.Digest == digest && s.Working != "" {
			head, err := m.repo.Head()
			if err != nil {
				return nil, err
			}
			return &CommitResult{Hash: s.Working, Amended: true, Message: head.Message}, nil
		}
	}

	return m.bind(s, edits, []edit{{Path: relPath, Description: description, Digest: digest}})
}

// RecordPaths folds several paths changed by one action (a configured
// command run) into the session commit under a single description.
func (m *Manager) RecordPaths(sessionID string, relPaths []string, description string) (*CommitResult, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("unknown session %s; initialize it first", sessionID)
	}

	edits, err := m.edits(sessionID)
	if err != nil {
		return nil, err
	}

	// One description bullet for the whole batch.
	rows := make([]edit, len(relPaths))
	for i, p := range relPaths {
		rows[i] = edit{Path: p}
	}
	if len(rows) > 0 {
		rows[0].Description = description
	}

	return m.bind(s, edits, rows)
}

// bind commits the accumulated edits plus the new rows as the session's
// single commit and persists the new rows.
func (m *Manager) bind(s *Session, edits, rows []edit) (*CommitResult, error) {
	all := append(append([]edit{}, edits...), rows...)

	touched := make(map[string]bool, len(all))
	for _, e := range all {
		touched[e.Path] = true
	}

	// Stage only the paths changed by this request. The amend already
	// carries the earlier session edits in its tree; re-staging them
	// would sweep in any later external modification of those files.
	seen := make(map[string]bool, len(rows))
	var paths []string
	for _, e := range rows {
		if !seen[e.Path] {
			seen[e.Path] = true
			paths = append(paths, e.Path)
		}
	}

	foreign, err := m.repo.ForeignStagedPaths(touched)
	if err != nil {
		return nil, err
	}
	if len(foreign) > 0 {
		return nil, &IntegrityError{Paths: foreign}
	}

	// Amend only while HEAD still is this session's working commit; a
	// foreign commit on top ends the amend chain and the session stacks
	// a fresh commit instead of rewriting someone else's.
	amend := false
	if s.Working != "" {
		head, err := m.repo.Head()
		if err != nil {
			return nil, err
		}
		amend = head.Hash.String() == s.Working
	}

	var descriptions []string
	for _, e := range all {
		if e.Description != "" {
			descriptions = append(descriptions, e.Description)
		}
	}
	message := BuildMessage(s.Subject, s.Prompt, s.ID, descriptions)

	commit, err := m.repo.CommitPaths(paths, message, amend)
	if err != nil {
		return nil, err
	}
	if err := m.repo.SetSessionRef(s.ID, commit.Hash); err != nil {
		return nil, err
	}

	tx, err := m.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for i, row := range rows {
		_, err = tx.Exec(
			`INSERT INTO edits (session, seq, path, description, digest, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, len(edits)+i+1, row.Path, row.Description, row.Digest, util.NowMs(),
		)
		if err != nil {
			return nil, fmt.Errorf("recording edit: %w", err)
		}
	}
	_, err = tx.Exec(
		`UPDATE sessions SET working = ?, updated_at = ? WHERE id = ?`,
		commit.Hash.String(), util.NowMs(), s.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return &CommitResult{Hash: commit.Hash.String(), Amended: amend, Message: message}, nil
}

// edits returns the session's recorded edits in order.
func (m *Manager) edits(sessionID string) ([]edit, error) {
	rows, err := m.db.Conn().Query(
		`SELECT path, description, digest FROM edits WHERE session = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying edits: %w", err)
	}
	defer rows.Close()

	var edits []edit
	for rows.Next() {
		var e edit
		if err := rows.Scan(&e.Path, &e.Description, &e.Digest); err != nil {
			return nil, fmt.Errorf("scanning edit: %w", err)
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}
