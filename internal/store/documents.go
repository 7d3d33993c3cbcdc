package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

const docChunkColumns = `id, project_id, document_id, content, title, source, source_kind,
	chunk_index, total_chunks, char_offset, created_at`

// UpsertDocumentMetadata deletes any existing metadata for the document id
// and re-inserts the row.
func (s *Store) UpsertDocumentMetadata(ctx context.Context, d *core.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ccerr.Database("begin upsert document", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_metadata WHERE id = ? AND project_id = ?`, d.ID, s.ProjectID); err != nil {
		_ = tx.Rollback()
		return ccerr.Database("clear document metadata", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_metadata (id, project_id, title, source, source_kind, content_hash, char_count, chunk_count, content, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, s.ProjectID, d.Title, d.Source, string(d.SourceKind), d.ContentHash,
		d.CharCount, d.ChunkCount, d.Content, millis(d.CreatedAt), millis(d.UpdatedAt)); err != nil {
		_ = tx.Rollback()
		return ccerr.Database("insert document metadata", err)
	}
	return tx.Commit()
}

// GetDocument fetches document metadata by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var d core.Document
	var sourceKind string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, source, source_kind, content_hash, char_count, chunk_count, content, created_at, updated_at
		 FROM document_metadata WHERE id = ? AND project_id = ?`, id, s.ProjectID).
		Scan(&d.ID, &d.ProjectID, &d.Title, &d.Source, &sourceKind, &d.ContentHash,
			&d.CharCount, &d.ChunkCount, &d.Content, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ccerr.NotFound("document", id)
	}
	if err != nil {
		return nil, ccerr.Database("get document", err)
	}
	d.SourceKind = core.DocumentSource(sourceKind)
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return &d, nil
}

// FindDocumentBySource returns the document id previously ingested from a
// source, or empty when none exists.
func (s *Store) FindDocumentBySource(ctx context.Context, source string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM document_metadata WHERE project_id = ? AND source = ? LIMIT 1`,
		s.ProjectID, source).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", ccerr.Database("find document", err)
	}
	return id, nil
}

// ReplaceDocumentChunks deletes all chunks of the document and inserts the
// new set, registering vectors.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []*core.DocumentChunk) error {
	old, err := s.docChunkIDs(ctx, documentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ccerr.Database("begin replace doc chunks", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE project_id = ? AND document_id = ?`, s.ProjectID, documentID); err != nil {
		_ = tx.Rollback()
		return ccerr.Database("delete doc chunks", err)
	}
	for _, c := range chunks {
		var blob []byte
		if c.Embedding != nil {
			blob = encodeVector(c.Embedding, s.dims)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (`+docChunkColumns+`, embedding) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			c.ID, s.ProjectID, c.DocumentID, c.Content, c.Title, c.Source, string(c.SourceKind),
			c.ChunkIndex, c.TotalChunks, c.CharOffset, millis(c.CreatedAt), blob); err != nil {
			_ = tx.Rollback()
			return ccerr.Database("insert doc chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ccerr.Database("commit doc chunks", err)
	}

	s.index(TableDocumentChunks).Delete(old)
	for _, c := range chunks {
		if c.Embedding != nil {
			s.index(TableDocumentChunks).Add(c.ID, fitDimension(c.Embedding, s.dims))
		}
	}
	return nil
}

func (s *Store) docChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE project_id = ? AND document_id = ?`, s.ProjectID, documentID)
	if err != nil {
		return nil, ccerr.Database("list doc chunk ids", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ccerr.Database("scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetDocumentChunk fetches a document chunk by id.
func (s *Store) GetDocumentChunk(ctx context.Context, id string) (*core.DocumentChunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+docChunkColumns+` FROM documents WHERE id = ? AND project_id = ?`, id, s.ProjectID)
	c, err := scanDocChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ccerr.NotFound("document chunk", id)
	}
	return c, err
}

// AdjacentDocumentChunks returns up to depth chunks before and after the
// given chunk within its document, by chunk index.
func (s *Store) AdjacentDocumentChunks(ctx context.Context, c *core.DocumentChunk, depth int) (before, after []*core.DocumentChunk, err error) {
	if depth <= 0 {
		depth = 2
	}
	before, err = s.docChunkRange(ctx, c.DocumentID, c.ChunkIndex-depth, c.ChunkIndex-1)
	if err != nil {
		return nil, nil, err
	}
	after, err = s.docChunkRange(ctx, c.DocumentID, c.ChunkIndex+1, c.ChunkIndex+depth)
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func (s *Store) docChunkRange(ctx context.Context, documentID string, lo, hi int) ([]*core.DocumentChunk, error) {
	if hi < lo {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+docChunkColumns+` FROM documents
		 WHERE project_id = ? AND document_id = ? AND chunk_index BETWEEN ? AND ?
		 ORDER BY chunk_index ASC`, s.ProjectID, documentID, lo, hi)
	if err != nil {
		return nil, ccerr.Database("doc chunk range", err)
	}
	defer rows.Close()

	var out []*core.DocumentChunk
	for rows.Next() {
		c, err := scanDocChunk(rows)
		if err != nil {
			return nil, ccerr.Database("scan doc chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DocHit is a document vector search result.
type DocHit struct {
	Chunk    *core.DocumentChunk
	Distance float32
}

// SearchDocumentChunks runs a KNN over document chunk embeddings.
func (s *Store) SearchDocumentChunks(ctx context.Context, query []float32, limit int) ([]DocHit, error) {
	if limit <= 0 {
		limit = 10
	}
	hits := s.index(TableDocumentChunks).Search(fitDimension(query, s.dims), limit*4)

	results := make([]DocHit, 0, limit)
	for _, hit := range hits {
		c, err := s.GetDocumentChunk(ctx, hit.ID)
		if err != nil {
			continue
		}
		results = append(results, DocHit{Chunk: c, Distance: hit.Distance})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// CountDocuments counts ingested documents.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_metadata WHERE project_id = ?`, s.ProjectID).Scan(&n)
	if err != nil {
		return 0, ccerr.Database("count documents", err)
	}
	return n, nil
}

func scanDocChunk(row rowScanner) (*core.DocumentChunk, error) {
	var c core.DocumentChunk
	var sourceKind string
	var createdAt int64
	err := row.Scan(&c.ID, &c.ProjectID, &c.DocumentID, &c.Content, &c.Title, &c.Source, &sourceKind,
		&c.ChunkIndex, &c.TotalChunks, &c.CharOffset, &createdAt)
	if err != nil {
		return nil, err
	}
	c.SourceKind = core.DocumentSource(sourceKind)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}
