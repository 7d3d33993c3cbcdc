package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

const chunkColumns = `id, project_id, file_path, content, language, chunk_type, symbols,
	start_line, end_line, file_hash, indexed_at, tokens_estimate`

// InsertChunks appends code chunks in one transaction and registers their
// vectors. Re-indexing a file is always delete-then-insert; callers must
// delete the old chunks (and their references) first.
func (s *Store) InsertChunks(ctx context.Context, chunks []*core.CodeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ccerr.Database("begin insert chunks", err)
	}
	for _, c := range chunks {
		var blob []byte
		if c.Embedding != nil {
			blob = encodeVector(c.Embedding, s.dims)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO code_chunks (`+chunkColumns+`, embedding) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			c.ID, s.ProjectID, c.FilePath, c.Content, string(c.Language), string(c.Type), encodeList(c.Symbols),
			c.StartLine, c.EndLine, c.FileHash, millis(c.IndexedAt), c.TokensEstimate, blob); err != nil {
			_ = tx.Rollback()
			return ccerr.Database("insert chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ccerr.Database("commit chunks", err)
	}

	for _, c := range chunks {
		if c.Embedding != nil {
			s.index(TableCodeChunks).Add(c.ID, fitDimension(c.Embedding, s.dims))
		}
	}
	return nil
}

// ChunkIDsForFile lists the chunk ids currently stored for a file.
func (s *Store) ChunkIDsForFile(ctx context.Context, relPath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM code_chunks WHERE project_id = ? AND file_path = ?`, s.ProjectID, relPath)
	if err != nil {
		return nil, ccerr.Database("list chunk ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ccerr.Database("scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChunksForFile removes every chunk of a file and its vectors.
func (s *Store) DeleteChunksForFile(ctx context.Context, relPath string) error {
	ids, err := s.ChunkIDsForFile(ctx, relPath)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM code_chunks WHERE project_id = ? AND file_path = ?`, s.ProjectID, relPath); err != nil {
		return ccerr.Database("delete chunks", err)
	}
	s.index(TableCodeChunks).Delete(ids)
	return nil
}

// GetChunk fetches a chunk by exact id.
func (s *Store) GetChunk(ctx context.Context, id string) (*core.CodeChunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM code_chunks WHERE id = ? AND project_id = ?`, id, s.ProjectID)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ccerr.NotFound("chunk", id)
	}
	return c, err
}

// ResolveChunkID resolves an id or id prefix to a full chunk id.
func (s *Store) ResolveChunkID(ctx context.Context, idOrPrefix string) (string, error) {
	if core.ValidID(idOrPrefix) {
		return idOrPrefix, nil
	}
	if len(idOrPrefix) < core.MinPrefixLen {
		return "", ccerr.Validation("id", "id prefix must be at least 6 characters")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM code_chunks WHERE project_id = ? AND id LIKE ? LIMIT 3`, s.ProjectID, idOrPrefix+"%")
	if err != nil {
		return "", ccerr.Database("resolve chunk prefix", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", ccerr.Database("scan id", err)
		}
		ids = append(ids, id)
	}
	switch len(ids) {
	case 0:
		return "", ccerr.NotFound("chunk", idOrPrefix)
	case 1:
		return ids[0], nil
	default:
		return "", ccerr.AmbiguousPrefix(idOrPrefix, len(ids))
	}
}

// ChunksForFile lists a file's chunks ordered by start line.
func (s *Store) ChunksForFile(ctx context.Context, relPath string) ([]*core.CodeChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM code_chunks WHERE project_id = ? AND file_path = ? ORDER BY start_line ASC`,
		s.ProjectID, relPath)
	if err != nil {
		return nil, ccerr.Database("chunks for file", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunkHit is a code vector search result.
type ChunkHit struct {
	Chunk    *core.CodeChunk
	Distance float32
}

// SearchChunks runs a KNN over chunk embeddings with an optional language
// filter.
func (s *Store) SearchChunks(ctx context.Context, query []float32, limit int, language core.Language) ([]ChunkHit, error) {
	if limit <= 0 {
		limit = 10
	}
	hits := s.index(TableCodeChunks).Search(fitDimension(query, s.dims), limit*4)

	results := make([]ChunkHit, 0, limit)
	for _, hit := range hits {
		c, err := s.GetChunk(ctx, hit.ID)
		if err != nil {
			continue
		}
		if language != "" && c.Language != language {
			continue
		}
		results = append(results, ChunkHit{Chunk: c, Distance: hit.Distance})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// ListChunkFiles lists distinct indexed file paths with chunk counts.
func (s *Store) ListChunkFiles(ctx context.Context, limit int) (map[string]int, error) {
	query := `SELECT file_path, COUNT(*) FROM code_chunks WHERE project_id = ? GROUP BY file_path ORDER BY file_path`
	args := []any{s.ProjectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ccerr.Database("list chunk files", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var path string
		var n int
		if err := rows.Scan(&path, &n); err != nil {
			return nil, ccerr.Database("scan file count", err)
		}
		out[path] = n
	}
	return out, rows.Err()
}

// CodeStats summarizes the code index.
type CodeStats struct {
	Files      int
	Chunks     int
	References int
	Languages  map[string]int
}

// Stats computes code index statistics.
func (s *Store) Stats(ctx context.Context) (*CodeStats, error) {
	stats := &CodeStats{Languages: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT file_path), COUNT(*) FROM code_chunks WHERE project_id = ?`,
		s.ProjectID).Scan(&stats.Files, &stats.Chunks); err != nil {
		return nil, ccerr.Database("chunk stats", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM code_references WHERE project_id = ?`, s.ProjectID).Scan(&stats.References); err != nil {
		return nil, ccerr.Database("reference stats", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT language, COUNT(*) FROM code_chunks WHERE project_id = ? GROUP BY language`, s.ProjectID)
	if err != nil {
		return nil, ccerr.Database("language stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, ccerr.Database("scan language", err)
		}
		stats.Languages[lang] = n
	}
	return stats, rows.Err()
}

func scanChunk(row rowScanner) (*core.CodeChunk, error) {
	var c core.CodeChunk
	var language, chunkType, symbols string
	var indexedAt int64

	err := row.Scan(&c.ID, &c.ProjectID, &c.FilePath, &c.Content, &language, &chunkType, &symbols,
		&c.StartLine, &c.EndLine, &c.FileHash, &indexedAt, &c.TokensEstimate)
	if err != nil {
		return nil, err
	}
	c.Language = core.Language(language)
	c.Type = core.ChunkType(chunkType)
	c.Symbols = decodeList(symbols)
	c.IndexedAt = fromMillis(indexedAt)
	return &c, nil
}

func scanChunks(rows *sql.Rows) ([]*core.CodeChunk, error) {
	var out []*core.CodeChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, ccerr.Database("scan chunk", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ccerr.Database("iterate chunks", err)
	}
	return out, nil
}

// SaveIndexedFile upserts the indexed-file row for a path.
func (s *Store) SaveIndexedFile(ctx context.Context, f *core.IndexedFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO indexed_files (project_id, path, content_hash, size, mtime, last_indexed_at, chunk_count)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT (project_id, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size = excluded.size,
			mtime = excluded.mtime,
			last_indexed_at = excluded.last_indexed_at,
			chunk_count = excluded.chunk_count`,
		s.ProjectID, f.Path, f.ContentHash, f.Size, millis(f.ModTime), millis(f.LastIndexedAt), f.ChunkCount)
	if err != nil {
		return ccerr.Database("save indexed file", err)
	}
	return nil
}

// GetIndexedFile fetches the indexed-file row for a path, or NotFound.
func (s *Store) GetIndexedFile(ctx context.Context, relPath string) (*core.IndexedFile, error) {
	var f core.IndexedFile
	var mtime, indexedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, path, content_hash, size, mtime, last_indexed_at, chunk_count
		 FROM indexed_files WHERE project_id = ? AND path = ?`, s.ProjectID, relPath).
		Scan(&f.ProjectID, &f.Path, &f.ContentHash, &f.Size, &mtime, &indexedAt, &f.ChunkCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ccerr.NotFound("indexed file", relPath)
	}
	if err != nil {
		return nil, ccerr.Database("get indexed file", err)
	}
	f.ModTime = fromMillis(mtime)
	f.LastIndexedAt = fromMillis(indexedAt)
	return &f, nil
}

// DeleteIndexedFile removes the row for a path.
func (s *Store) DeleteIndexedFile(ctx context.Context, relPath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM indexed_files WHERE project_id = ? AND path = ?`, s.ProjectID, relPath)
	if err != nil {
		return ccerr.Database("delete indexed file", err)
	}
	return nil
}

// CountIndexedFiles counts tracked files.
func (s *Store) CountIndexedFiles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM indexed_files WHERE project_id = ?`, s.ProjectID).Scan(&n)
	if err != nil {
		return 0, ccerr.Database("count indexed files", err)
	}
	return n, nil
}

// TouchIndexedFile is a convenience for building the indexed-file row after
// a successful re-index.
func TouchIndexedFile(projectID, relPath, hash string, size int64, modTime time.Time, chunkCount int) *core.IndexedFile {
	return &core.IndexedFile{
		ProjectID:     projectID,
		Path:          relPath,
		ContentHash:   hash,
		Size:          size,
		ModTime:       modTime,
		LastIndexedAt: time.Now().UTC(),
		ChunkCount:    chunkCount,
	}
}
