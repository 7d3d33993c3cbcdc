package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

const referenceColumns = `id, project_id, source_chunk_id, target_symbol, target_chunk_id, ref_type, created_at`

// InsertReferences appends reference rows in one transaction.
func (s *Store) InsertReferences(ctx context.Context, refs []*core.CodeReference) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ccerr.Database("begin insert references", err)
	}
	for _, r := range refs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO code_references (`+referenceColumns+`) VALUES (?,?,?,?,?,?,?)`,
			r.ID, s.ProjectID, r.SourceChunkID, r.TargetSymbol, r.TargetChunkID, string(r.Type), millis(r.CreatedAt)); err != nil {
			_ = tx.Rollback()
			return ccerr.Database("insert reference", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ccerr.Database("commit references", err)
	}
	return nil
}

// DeleteReferencesForFile removes every reference whose source chunk
// belongs to the file. Must run before the file's chunks are deleted so the
// source set is still known.
func (s *Store) DeleteReferencesForFile(ctx context.Context, relPath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM code_references WHERE project_id = ? AND source_chunk_id IN (
			SELECT id FROM code_chunks WHERE project_id = ? AND file_path = ?)`,
		s.ProjectID, s.ProjectID, relPath)
	if err != nil {
		return ccerr.Database("delete references", err)
	}
	return nil
}

// CountCallersForSymbols counts references targeting any of the symbols.
// An empty symbol list short-circuits to zero without touching the
// database.
func (s *Store) CountCallersForSymbols(ctx context.Context, symbols []string) (int, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]any, 0, len(symbols)+1)
	args = append(args, s.ProjectID)
	for _, sym := range symbols {
		args = append(args, sym)
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM code_references WHERE project_id = ? AND target_symbol IN (`+placeholders+`)`,
		args...).Scan(&n)
	if err != nil {
		return 0, ccerr.Database("count callers", err)
	}
	return n, nil
}

// CountCallees counts references whose source is the given chunk.
func (s *Store) CountCallees(ctx context.Context, chunkID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM code_references WHERE project_id = ? AND source_chunk_id = ?`,
		s.ProjectID, chunkID).Scan(&n)
	if err != nil {
		return 0, ccerr.Database("count callees", err)
	}
	return n, nil
}

// CallerChunks lists chunks containing references to any of the symbols.
func (s *Store) CallerChunks(ctx context.Context, symbols []string, limit int) ([]*core.CodeChunk, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]any, 0, len(symbols)+2)
	args = append(args, s.ProjectID)
	for _, sym := range symbols {
		args = append(args, sym)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT c.id, c.project_id, c.file_path, c.content, c.language, c.chunk_type, c.symbols,
			c.start_line, c.end_line, c.file_hash, c.indexed_at, c.tokens_estimate
		 FROM code_chunks c
		 JOIN code_references r ON r.source_chunk_id = c.id
		 WHERE r.project_id = ? AND r.target_symbol IN (`+placeholders+`)
		 LIMIT ?`, args...)
	if err != nil {
		return nil, ccerr.Database("caller chunks", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// CalleeChunks lists resolved target chunks of references leaving chunkID.
// Unresolved references are resolved on the fly through the symbol scan.
func (s *Store) CalleeChunks(ctx context.Context, chunkID string, limit int) ([]*core.CodeChunk, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+referenceColumns+` FROM code_references
		 WHERE project_id = ? AND source_chunk_id = ? LIMIT ?`,
		s.ProjectID, chunkID, limit*4)
	if err != nil {
		return nil, ccerr.Database("list callees", err)
	}
	refs, err := scanReferences(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var out []*core.CodeChunk
	seen := make(map[string]struct{})
	for _, r := range refs {
		targetID := r.TargetChunkID
		if targetID == "" {
			if id, err := s.lookupChunkBySymbol(ctx, r.TargetSymbol); err == nil {
				targetID = id
			}
		}
		if targetID == "" || targetID == chunkID {
			continue
		}
		if _, dup := seen[targetID]; dup {
			continue
		}
		seen[targetID] = struct{}{}
		c, err := s.GetChunk(ctx, targetID)
		if err != nil {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ResolveReferenceTargets back-fills target_chunk_id for unresolved
// references by scanning chunks whose symbol list contains the target name.
// The symbol column is a JSON array, so the probe is a LIKE scan; a
// dedicated symbol index would trade write amplification on every re-index
// for a faster probe, which per-project data sizes do not justify.
func (s *Store) ResolveReferenceTargets(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+referenceColumns+` FROM code_references
		 WHERE project_id = ? AND target_chunk_id = ''`, s.ProjectID)
	if err != nil {
		return 0, ccerr.Database("list unresolved references", err)
	}
	refs, err := scanReferences(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, r := range refs {
		targetID, err := s.lookupChunkBySymbol(ctx, r.TargetSymbol)
		if err != nil || targetID == "" || targetID == r.SourceChunkID {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE code_references SET target_chunk_id = ? WHERE id = ?`, targetID, r.ID); err != nil {
			return resolved, ccerr.Database("resolve reference", err)
		}
		resolved++
	}
	return resolved, nil
}

func (s *Store) lookupChunkBySymbol(ctx context.Context, symbol string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM code_chunks WHERE project_id = ? AND symbols LIKE ? LIMIT 1`,
		s.ProjectID, `%"`+symbol+`"%`).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ReferencesFromChunk lists raw reference rows leaving a chunk.
func (s *Store) ReferencesFromChunk(ctx context.Context, chunkID string) ([]*core.CodeReference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+referenceColumns+` FROM code_references WHERE project_id = ? AND source_chunk_id = ?`,
		s.ProjectID, chunkID)
	if err != nil {
		return nil, ccerr.Database("references from chunk", err)
	}
	defer rows.Close()
	return scanReferences(rows)
}

func scanReferences(rows *sql.Rows) ([]*core.CodeReference, error) {
	var out []*core.CodeReference
	for rows.Next() {
		var r core.CodeReference
		var refType string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.SourceChunkID, &r.TargetSymbol, &r.TargetChunkID, &refType, &createdAt); err != nil {
			return nil, ccerr.Database("scan reference", err)
		}
		r.Type = core.ReferenceType(refType)
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, ccerr.Database("iterate references", err)
	}
	return out, nil
}
