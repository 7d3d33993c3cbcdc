package store

import (
	"context"
	"database/sql"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

const relationshipColumns = `id, project_id, from_memory_id, to_memory_id, rel_type, confidence,
	valid_from, valid_until, extractor, created_at`

// AddRelationship inserts a directed edge between two memories. Supersedes
// edges are checked for cycles through the memories' supersession chain.
func (s *Store) AddRelationship(ctx context.Context, r *core.MemoryRelationship) error {
	if r.FromMemoryID == r.ToMemoryID {
		return ccerr.Validation("to_memory_id", "relationship endpoints must differ")
	}
	if r.Type == core.RelSupersedes {
		cyclic, err := s.supersessionReaches(ctx, r.FromMemoryID, r.ToMemoryID)
		if err != nil {
			return err
		}
		if cyclic {
			return ccerr.Validation("rel_type", "supersedes relationship would create a cycle")
		}
	}
	return s.insertRelationship(ctx, r)
}

func (s *Store) insertRelationship(ctx context.Context, r *core.MemoryRelationship) error {
	if r.ID == "" {
		r.ID = core.NewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_relationships (`+relationshipColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		r.ID, s.ProjectID, r.FromMemoryID, r.ToMemoryID, string(r.Type), r.Confidence,
		millis(r.ValidFrom), millisPtr(r.ValidUntil), r.Extractor, millis(r.CreatedAt))
	if err != nil {
		return ccerr.Database("insert relationship", err)
	}
	return nil
}

// ListRelationships lists edges touching a memory, in either direction.
func (s *Store) ListRelationships(ctx context.Context, memoryID string) ([]*core.MemoryRelationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM memory_relationships
		 WHERE project_id = ? AND (from_memory_id = ? OR to_memory_id = ?)
		 ORDER BY created_at DESC`, s.ProjectID, memoryID, memoryID)
	if err != nil {
		return nil, ccerr.Database("list relationships", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// CountRelationships returns incoming and outgoing edge counts for a memory.
func (s *Store) CountRelationships(ctx context.Context, memoryID string) (in, out int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM memory_relationships WHERE project_id = ? AND to_memory_id = ?),
			(SELECT COUNT(*) FROM memory_relationships WHERE project_id = ? AND from_memory_id = ?)`,
		s.ProjectID, memoryID, s.ProjectID, memoryID).Scan(&in, &out)
	if err != nil {
		return 0, 0, ccerr.Database("count relationships", err)
	}
	return in, out, nil
}

// DeleteRelationship removes an edge by id.
func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_relationships WHERE id = ? AND project_id = ?`, id, s.ProjectID)
	if err != nil {
		return ccerr.Database("delete relationship", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ccerr.NotFound("relationship", id)
	}
	return nil
}

// RelatedMemories walks the relationship graph breadth-first for up to
// depth hops, with cycle detection, returning reached memories.
func (s *Store) RelatedMemories(ctx context.Context, memoryID string, depth int) ([]*core.Memory, error) {
	if depth <= 0 {
		depth = 2
	}

	visited := map[string]struct{}{memoryID: {}}
	frontier := []string{memoryID}
	var reached []string

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			rels, err := s.ListRelationships(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				for _, neighbour := range []string{r.FromMemoryID, r.ToMemoryID} {
					if _, seen := visited[neighbour]; seen {
						continue
					}
					visited[neighbour] = struct{}{}
					next = append(next, neighbour)
					reached = append(reached, neighbour)
				}
			}
		}
		frontier = next
	}

	var memories []*core.Memory
	for _, id := range reached {
		m, err := s.GetMemory(ctx, id)
		if err != nil {
			continue // dangling edge
		}
		memories = append(memories, m)
	}
	return memories, nil
}

func scanRelationships(rows *sql.Rows) ([]*core.MemoryRelationship, error) {
	var out []*core.MemoryRelationship
	for rows.Next() {
		var r core.MemoryRelationship
		var relType string
		var validFrom, createdAt int64
		var validUntil sql.NullInt64
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.FromMemoryID, &r.ToMemoryID, &relType, &r.Confidence,
			&validFrom, &validUntil, &r.Extractor, &createdAt); err != nil {
			return nil, ccerr.Database("scan relationship", err)
		}
		r.Type = core.RelationshipType(relType)
		r.ValidFrom = fromMillis(validFrom)
		r.ValidUntil = fromMillisPtr(validUntil)
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, ccerr.Database("iterate relationships", err)
	}
	return out, nil
}
