package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// SaveSegmentState persists the accumulator scratch for crash recovery.
// One row per (project, session); every mutation overwrites it.
func (s *Store) SaveSegmentState(ctx context.Context, st *core.SegmentState) error {
	state, err := json.Marshal(st)
	if err != nil {
		return ccerr.Internal("encode segment state", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO segment_accumulators (id, project_id, session_id, state, started_at, updated_at)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT (project_id, session_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		st.ID, s.ProjectID, st.SessionID, string(state), millis(st.StartedAt), millis(st.UpdatedAt))
	if err != nil {
		return ccerr.Database("save segment state", err)
	}
	return nil
}

// LoadSegmentState restores the accumulator scratch for a session, or nil.
func (s *Store) LoadSegmentState(ctx context.Context, sessionID string) (*core.SegmentState, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM segment_accumulators WHERE project_id = ? AND session_id = ?`,
		s.ProjectID, sessionID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ccerr.Database("load segment state", err)
	}

	var st core.SegmentState
	if err := json.Unmarshal([]byte(state), &st); err != nil {
		return nil, ccerr.Internal("decode segment state", err)
	}
	return &st, nil
}

// DeleteSegmentState removes the persisted scratch after a flush.
func (s *Store) DeleteSegmentState(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM segment_accumulators WHERE project_id = ? AND session_id = ?`,
		s.ProjectID, sessionID)
	if err != nil {
		return ccerr.Database("delete segment state", err)
	}
	return nil
}

// AppendExtractionSegment writes the immutable audit row for one
// extraction run.
func (s *Store) AppendExtractionSegment(ctx context.Context, seg *core.ExtractionSegment) error {
	if seg.ID == "" {
		seg.ID = core.NewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_segments
			(id, project_id, session_id, trigger_kind, input_tokens, output_tokens, memories_extracted, duration_ms, error, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		seg.ID, s.ProjectID, seg.SessionID, string(seg.Trigger), seg.InputTokens, seg.OutputTokens,
		seg.MemoriesExtracted, seg.DurationMs, seg.Error, millis(seg.CreatedAt))
	if err != nil {
		return ccerr.Database("append extraction segment", err)
	}
	return nil
}

// ListExtractionSegments lists audit rows newest-first.
func (s *Store) ListExtractionSegments(ctx context.Context, limit int) ([]*core.ExtractionSegment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, session_id, trigger_kind, input_tokens, output_tokens, memories_extracted, duration_ms, error, created_at
		 FROM extraction_segments WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`,
		s.ProjectID, limit)
	if err != nil {
		return nil, ccerr.Database("list extraction segments", err)
	}
	defer rows.Close()

	var out []*core.ExtractionSegment
	for rows.Next() {
		var seg core.ExtractionSegment
		var trigger string
		var createdAt int64
		if err := rows.Scan(&seg.ID, &seg.ProjectID, &seg.SessionID, &trigger, &seg.InputTokens,
			&seg.OutputTokens, &seg.MemoriesExtracted, &seg.DurationMs, &seg.Error, &createdAt); err != nil {
			return nil, ccerr.Database("scan extraction segment", err)
		}
		seg.Trigger = core.ExtractionTrigger(trigger)
		seg.CreatedAt = fromMillis(createdAt)
		out = append(out, &seg)
	}
	return out, rows.Err()
}
