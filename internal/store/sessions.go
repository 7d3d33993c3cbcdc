package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// TouchSession creates the session row if missing and refreshes updated_at.
func (s *Store) TouchSession(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, started_at, updated_at)
		 VALUES (?,?,?,?)
		 ON CONFLICT (id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, s.ProjectID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return ccerr.Database("touch session", err)
	}
	return nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
		now.UnixMilli(), now.UnixMilli(), sessionID, s.ProjectID)
	if err != nil {
		return ccerr.Database("end session", err)
	}
	return nil
}

// RecordSessionMemory writes the session↔memory junction row.
func (s *Store) RecordSessionMemory(ctx context.Context, sessionID, memoryID string, usage core.UsageKind, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_memories (id, project_id, session_id, memory_id, usage, created_at)
		 VALUES (?,?,?,?,?,?)`,
		core.NewID(), s.ProjectID, sessionID, memoryID, string(usage), now.UnixMilli())
	if err != nil {
		return ccerr.Database("record session memory", err)
	}
	return nil
}

// RecordEvent appends a hook event audit row.
func (s *Store) RecordEvent(ctx context.Context, sessionID, name, payload string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, project_id, session_id, name, payload, created_at)
		 VALUES (?,?,?,?,?,?)`,
		core.NewID(), s.ProjectID, sessionID, name, payload, now.UnixMilli())
	if err != nil {
		return ccerr.Database("record event", err)
	}
	return nil
}

// CleanupSessions drops sessions (and their junction/event rows) not
// touched since the cutoff. Returns the number of sessions removed.
func (s *Store) CleanupSessions(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ccerr.Database("begin session cleanup", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE project_id = ? AND updated_at < ?`,
		s.ProjectID, cutoff.UnixMilli())
	if err != nil {
		_ = tx.Rollback()
		return 0, ccerr.Database("delete sessions", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_memories WHERE project_id = ? AND session_id NOT IN (SELECT id FROM sessions)`,
		s.ProjectID); err != nil {
		_ = tx.Rollback()
		return 0, ccerr.Database("delete session memories", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE project_id = ? AND session_id != '' AND session_id NOT IN (SELECT id FROM sessions)`,
		s.ProjectID); err != nil {
		_ = tx.Rollback()
		return 0, ccerr.Database("delete session events", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, ccerr.Database("commit session cleanup", err)
	}
	return int(removed), nil
}

// GetSession fetches one session row.
func (s *Store) GetSession(ctx context.Context, id string) (*core.Session, error) {
	var sess core.Session
	var startedAt, updatedAt int64
	var endedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, started_at, updated_at, ended_at FROM sessions WHERE id = ? AND project_id = ?`,
		id, s.ProjectID).Scan(&sess.ID, &sess.ProjectID, &startedAt, &updatedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ccerr.NotFound("session", id)
	}
	if err != nil {
		return nil, ccerr.Database("get session", err)
	}
	sess.StartedAt = fromMillis(startedAt)
	sess.UpdatedAt = fromMillis(updatedAt)
	sess.EndedAt = fromMillisPtr(endedAt)
	return &sess, nil
}

// CountSessions counts session rows.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE project_id = ?`, s.ProjectID).Scan(&n)
	if err != nil {
		return 0, ccerr.Database("count sessions", err)
	}
	return n, nil
}
