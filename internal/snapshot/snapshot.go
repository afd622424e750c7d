// Package snapshot records, per session and file, the content last read so
// external modifications are detected before an edit is applied.
package snapshot

import (
	"database/sql"
	"fmt"
	"os"

	"gitscribe/internal/lineending"
	"gitscribe/internal/store"
	"gitscribe/internal/util"
)

// Snapshot is the recorded state of a file as last read by a session.
type Snapshot struct {
	Session string
	Path    string
	Digest  string
	Style   lineending.Style
	ReadAt  int64
}

// StaleError reports that a file changed on disk since the session last
// read it. The caller must re-read before editing.
type StaleError struct {
	Path       string
	ReadDigest string
	DiskDigest string
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("file %s changed since it was last read in this session; read it again before editing", e.Path)
}

// NotReadError reports that a session attempted to edit a file it never
// read.
type NotReadError struct {
	Path string
}

func (e *NotReadError) Error() string {
	return fmt.Sprintf("file %s has not been read in this session; read it before editing", e.Path)
}

// Tracker persists snapshots in the state database. A (size, mtime) fast
// path is recorded alongside the digest so an unchanged file can be
// verified without rehashing.
type Tracker struct {
	db *store.DB
}

// NewTracker creates a tracker backed by the given state database.
func NewTracker(db *store.DB) *Tracker {
	return &Tracker{db: db}
}

// Record stores the snapshot baseline for a file after a successful read
// or write. The post-write digest becomes the new baseline.
func (t *Tracker) Record(sessionID, relPath string, data []byte, info os.FileInfo) error {
	digest := util.Blake3HashHex(data)
	style := lineending.Detect(data)

	var size, mtime int64
	if info != nil {
		size = info.Size()
		mtime = info.ModTime().UnixNano()
	}

	_, err := t.db.Conn().Exec(
		`INSERT OR REPLACE INTO snapshots (session, path, digest, style, size, mtime, read_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, relPath, digest, int(style), size, mtime, util.NowMs(),
	)
	if err != nil {
		return fmt.Errorf("recording snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot for a file, or nil if the session has not read
// it.
func (t *Tracker) Get(sessionID, relPath string) (*Snapshot, error) {
	var snap Snapshot
	var style int
	err := t.db.Conn().QueryRow(
		`SELECT session, path, digest, style, read_at FROM snapshots WHERE session = ? AND path = ?`,
		sessionID, relPath,
	).Scan(&snap.Session, &snap.Path, &snap.Digest, &style, &snap.ReadAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	snap.Style = lineending.Style(style)
	return &snap, nil
}

// Fresh reports whether a file's size and mtime still match the recorded
// baseline, so an unchanged file can be accepted without rehashing. A
// missing baseline or changed stat returns false; Verify decides then.
func (t *Tracker) Fresh(sessionID, relPath string, info os.FileInfo) (bool, error) {
	var size, mtime int64
	err := t.db.Conn().QueryRow(
		`SELECT size, mtime FROM snapshots WHERE session = ? AND path = ?`,
		sessionID, relPath,
	).Scan(&size, &mtime)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying snapshot: %w", err)
	}
	return info.Size() == size && info.ModTime().UnixNano() == mtime, nil
}

// Verify checks the current on-disk content against the session's recorded
// baseline. It returns a NotReadError when no baseline exists and a
// StaleError when the digests differ.
func (t *Tracker) Verify(sessionID, relPath string, data []byte) error {
	snap, err := t.Get(sessionID, relPath)
	if err != nil {
		return err
	}
	if snap == nil {
		return &NotReadError{Path: relPath}
	}

	digest := util.Blake3HashHex(data)
	if digest != snap.Digest {
		return &StaleError{Path: relPath, ReadDigest: snap.Digest, DiskDigest: digest}
	}
	return nil
}

// Style returns the line-ending style recorded for a file and whether a
// baseline exists for it in this session.
func (t *Tracker) Style(sessionID, relPath string) (lineending.Style, bool, error) {
	snap, err := t.Get(sessionID, relPath)
	if err != nil {
		return lineending.LF, false, err
	}
	if snap == nil {
		return lineending.LF, false, nil
	}
	return snap.Style, true, nil
}
