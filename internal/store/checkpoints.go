package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// SaveCheckpoint upserts the single active checkpoint for (project, kind).
func (s *Store) SaveCheckpoint(ctx context.Context, cp *core.IndexCheckpoint) error {
	if cp.ID == "" {
		cp.ID = core.NewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_checkpoints
			(id, project_id, kind, processed, pending, total_files, total_chunks, error_count, gitignore_hash, started_at, updated_at, is_complete)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT (project_id, kind) DO UPDATE SET
			processed = excluded.processed,
			pending = excluded.pending,
			total_files = excluded.total_files,
			total_chunks = excluded.total_chunks,
			error_count = excluded.error_count,
			gitignore_hash = excluded.gitignore_hash,
			updated_at = excluded.updated_at,
			is_complete = excluded.is_complete`,
		cp.ID, s.ProjectID, string(cp.Kind), encodeList(cp.Processed), encodeList(cp.Pending),
		cp.TotalFiles, cp.TotalChunks, cp.ErrorCount, cp.GitignoreHash,
		millis(cp.StartedAt), millis(cp.UpdatedAt), boolInt(cp.IsComplete))
	if err != nil {
		return ccerr.Database("save checkpoint", err)
	}
	return nil
}

// LoadCheckpoint fetches the checkpoint for a kind, or nil when none exists.
func (s *Store) LoadCheckpoint(ctx context.Context, kind core.CheckpointType) (*core.IndexCheckpoint, error) {
	var cp core.IndexCheckpoint
	var kindStr, processed, pending string
	var startedAt, updatedAt int64
	var isComplete int

	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, kind, processed, pending, total_files, total_chunks, error_count, gitignore_hash, started_at, updated_at, is_complete
		 FROM index_checkpoints WHERE project_id = ? AND kind = ?`, s.ProjectID, string(kind)).
		Scan(&cp.ID, &cp.ProjectID, &kindStr, &processed, &pending, &cp.TotalFiles, &cp.TotalChunks,
			&cp.ErrorCount, &cp.GitignoreHash, &startedAt, &updatedAt, &isComplete)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ccerr.Database("load checkpoint", err)
	}

	cp.Kind = core.CheckpointType(kindStr)
	cp.Processed = decodeList(processed)
	cp.Pending = decodeList(pending)
	cp.StartedAt = fromMillis(startedAt)
	cp.UpdatedAt = fromMillis(updatedAt)
	cp.IsComplete = isComplete != 0
	return &cp, nil
}

// ClearCheckpoint removes the checkpoint for a kind.
func (s *Store) ClearCheckpoint(ctx context.Context, kind core.CheckpointType) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM index_checkpoints WHERE project_id = ? AND kind = ?`, s.ProjectID, string(kind))
	if err != nil {
		return ccerr.Database("clear checkpoint", err)
	}
	return nil
}
