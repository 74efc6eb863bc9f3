package session

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id          TEXT PRIMARY KEY,
	started_at          INTEGER NOT NULL,
	last_activity_at    INTEGER NOT NULL,
	learned_skill_count INTEGER NOT NULL DEFAULT 0,
	tool_call_count     INTEGER NOT NULL DEFAULT 0,
	ended               INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists snapshots so session state survives restarts.
// Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	cfg Config
	db  *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, cfg Config) (*SQLiteStore, error) {
	cfg.applyDefaults()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db %s: %w", path, err)
	}
	// The engine dispatches serially but async command completions can
	// touch the store concurrently; a single connection sidesteps
	// sqlite's writer contention.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session db: %w", err)
	}
	return &SQLiteStore{cfg: cfg, db: db}, nil
}

func (s *SQLiteStore) Start(id string) error {
	if id == "" {
		return nil
	}
	now := time.Now().UTC().UnixNano()
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, started_at, last_activity_at, learned_skill_count, tool_call_count, ended)
		VALUES (?, ?, ?, 0, 0, 0)
		ON CONFLICT(session_id) DO UPDATE SET
			started_at = excluded.started_at,
			last_activity_at = excluded.last_activity_at,
			learned_skill_count = 0,
			tool_call_count = 0,
			ended = 0`,
		id, now, now)
	if err != nil {
		return err
	}
	// Most-recent-N retention.
	_, err = s.db.Exec(`
		DELETE FROM sessions WHERE session_id NOT IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT ?
		)`, s.cfg.Retention)
	return err
}

func (s *SQLiteStore) End(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET ended = 1, last_activity_at = ? WHERE session_id = ?`,
		time.Now().UTC().UnixNano(), id)
	return err
}

func (s *SQLiteStore) Touch(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET last_activity_at = ? WHERE session_id = ?`,
		time.Now().UTC().UnixNano(), id)
	return err
}

func (s *SQLiteStore) IncrementToolCalls(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET tool_call_count = tool_call_count + 1, last_activity_at = ? WHERE session_id = ?`,
		time.Now().UTC().UnixNano(), id)
	return err
}

func (s *SQLiteStore) IncrementLearnedSkills(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET learned_skill_count = learned_skill_count + 1 WHERE session_id = ?`, id)
	return err
}

func (s *SQLiteStore) Get(id string) (Snapshot, bool) {
	var snap Snapshot
	var started, activity int64
	var ended int
	err := s.db.QueryRow(`
		SELECT session_id, started_at, last_activity_at, learned_skill_count, tool_call_count, ended
		FROM sessions WHERE session_id = ?`, id).
		Scan(&snap.SessionID, &started, &activity, &snap.LearnedSkillCount, &snap.ToolCallCount, &ended)
	if err != nil {
		return Snapshot{}, false
	}
	snap.StartedAt = time.Unix(0, started).UTC()
	snap.LastActivityAt = time.Unix(0, activity).UTC()
	snap.Ended = ended != 0
	return snap, true
}

func (s *SQLiteStore) ShouldSuggestCompact(id string) bool {
	snap, ok := s.Get(id)
	return ok && snap.ToolCallCount >= s.cfg.CompactThreshold
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
