package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

const entityColumns = `id, project_id, name, kind, summary, aliases, first_seen, last_seen, mention_count`

// UpsertEntity records a mention of a named entity, creating it on first
// sight and bumping last_seen/mention_count afterwards.
func (s *Store) UpsertEntity(ctx context.Context, name, kind, summary string, now time.Time) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE project_id = ? AND name = ?`, s.ProjectID, name).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = core.NewID()
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO entities (`+entityColumns+`) VALUES (?,?,?,?,?,?,?,?,1)`,
			id, s.ProjectID, name, kind, summary, "", now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return "", ccerr.Database("insert entity", err)
		}
		return id, nil
	case err != nil:
		return "", ccerr.Database("probe entity", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE entities SET last_seen = ?, mention_count = mention_count + 1 WHERE id = ?`,
		now.UnixMilli(), id)
	if err != nil {
		return "", ccerr.Database("update entity", err)
	}
	return id, nil
}

// LinkMemoryEntity writes the memory↔entity junction.
func (s *Store) LinkMemoryEntity(ctx context.Context, memoryID, entityID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_entities (id, project_id, memory_id, entity_id, created_at) VALUES (?,?,?,?,?)`,
		core.NewID(), s.ProjectID, memoryID, entityID, now.UnixMilli())
	if err != nil {
		return ccerr.Database("link memory entity", err)
	}
	return nil
}

// GetEntity fetches an entity by id or name.
func (s *Store) GetEntity(ctx context.Context, idOrName string) (*core.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE project_id = ? AND (id = ? OR name = ?)`,
		s.ProjectID, idOrName, idOrName)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ccerr.NotFound("entity", idOrName)
	}
	return e, err
}

// ListEntities lists entities alphabetically.
func (s *Store) ListEntities(ctx context.Context, limit int) ([]*core.Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE project_id = ? ORDER BY name ASC LIMIT ?`,
		s.ProjectID, limit)
	if err != nil {
		return nil, ccerr.Database("list entities", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// TopEntities lists entities by mention count.
func (s *Store) TopEntities(ctx context.Context, limit int) ([]*core.Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE project_id = ? ORDER BY mention_count DESC, name ASC LIMIT ?`,
		s.ProjectID, limit)
	if err != nil {
		return nil, ccerr.Database("top entities", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func scanEntity(row rowScanner) (*core.Entity, error) {
	var e core.Entity
	var aliases string
	var firstSeen, lastSeen int64
	err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Kind, &e.Summary, &aliases, &firstSeen, &lastSeen, &e.MentionCount)
	if err != nil {
		return nil, err
	}
	e.Aliases = decodeList(aliases)
	e.FirstSeen = fromMillis(firstSeen)
	e.LastSeen = fromMillis(lastSeen)
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]*core.Entity, error) {
	var out []*core.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, ccerr.Database("scan entity", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ccerr.Database("iterate entities", err)
	}
	return out, nil
}
