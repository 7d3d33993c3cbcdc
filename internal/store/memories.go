package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

const memoryColumns = `id, project_id, content, summary, sector, tier, memory_type,
	importance, salience, confidence, access_count,
	tags, concepts, files, categories,
	scope_path, scope_module, context, session_id, segment_id,
	created_at, updated_at, last_accessed, valid_from, valid_until,
	is_deleted, deleted_at, content_hash, simhash, superseded_by,
	embedding_model, decay_rate, next_decay_at`

// AddResult reports the outcome of a memory insertion.
type AddResult struct {
	ID          string
	IsDuplicate bool
}

// AddMemory inserts a memory, deduplicating by content hash: when a
// non-deleted memory with the same hash exists in the project, its id is
// returned with IsDuplicate set and nothing is written.
func (s *Store) AddMemory(ctx context.Context, m *core.Memory) (AddResult, error) {
	if m.ContentHash == "" {
		m.ContentHash = core.ContentHash(m.Content)
	}
	if m.SimHash == 0 {
		m.SimHash = core.SimHash64(m.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM memories WHERE project_id = ? AND content_hash = ? AND is_deleted = 0 LIMIT 1`,
		s.ProjectID, m.ContentHash).Scan(&existing)
	switch {
	case err == nil:
		return AddResult{ID: existing, IsDuplicate: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return AddResult{}, ccerr.Database("probe memory hash", err)
	}

	var blob []byte
	if m.Embedding != nil {
		blob = encodeVector(m.Embedding, s.dims)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO memories (`+memoryColumns+`, embedding)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, s.ProjectID, m.Content, m.Summary, string(m.Sector), string(m.Tier), string(m.Type),
		m.Importance, m.Salience, m.Confidence, m.AccessCount,
		encodeList(m.Tags), encodeList(m.Concepts), encodeList(m.Files), encodeList(m.Categories),
		m.ScopePath, m.ScopeModule, m.Context, m.SessionID, m.SegmentID,
		millis(m.CreatedAt), millis(m.UpdatedAt), millis(m.LastAccessed), millis(m.ValidFrom), millisPtr(m.ValidUntil),
		boolInt(m.IsDeleted), millisPtr(m.DeletedAt), m.ContentHash, core.SimHashBytes(m.SimHash), m.SupersededBy,
		m.EmbeddingModel, m.DecayRate, millisPtr(m.NextDecayAt), blob)
	if err != nil {
		return AddResult{}, ccerr.Database("insert memory", err)
	}

	if m.Embedding != nil {
		s.index(TableMemories).Add(m.ID, fitDimension(m.Embedding, s.dims))
	}
	return AddResult{ID: m.ID}, nil
}

// GetMemory fetches a memory by exact id.
func (s *Store) GetMemory(ctx context.Context, id string) (*core.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND project_id = ?`, id, s.ProjectID)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ccerr.NotFound("memory", id)
	}
	return m, err
}

// ResolveMemoryID resolves an id or id prefix to a full id. Prefixes
// shorter than core.MinPrefixLen are rejected; a prefix matching several
// memories fails with the ambiguous count.
func (s *Store) ResolveMemoryID(ctx context.Context, idOrPrefix string) (string, error) {
	if core.ValidID(idOrPrefix) {
		return idOrPrefix, nil
	}
	if len(idOrPrefix) < core.MinPrefixLen {
		return "", ccerr.Validation("id", "id prefix must be at least 6 characters")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE project_id = ? AND id LIKE ? LIMIT 3`,
		s.ProjectID, idOrPrefix+"%")
	if err != nil {
		return "", ccerr.Database("resolve memory prefix", err)
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
		return "", ccerr.NotFound("memory", idOrPrefix)
	case 1:
		return ids[0], nil
	default:
		return "", ccerr.AmbiguousPrefix(idOrPrefix, len(ids))
	}
}

// ListOptions filter memory listings.
type ListOptions struct {
	Sector            core.Sector
	Tier              core.Tier
	SessionID         string
	IncludeDeleted    bool
	OnlyDeleted       bool
	IncludeSuperseded bool
	Limit             int
	Offset            int
}

// ListMemories lists memories newest-first under the given filters.
func (s *Store) ListMemories(ctx context.Context, opts ListOptions) ([]*core.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE project_id = ?`
	args := []any{s.ProjectID}

	if opts.OnlyDeleted {
		query += ` AND is_deleted = 1`
	} else if !opts.IncludeDeleted {
		query += ` AND is_deleted = 0`
	}
	if !opts.IncludeSuperseded {
		query += ` AND superseded_by = ''`
	}
	if opts.Sector != "" {
		query += ` AND sector = ?`
		args = append(args, string(opts.Sector))
	}
	if opts.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(opts.Tier))
	}
	if opts.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, opts.SessionID)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ccerr.Database("list memories", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// CountMemories counts non-deleted memories.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE project_id = ? AND is_deleted = 0`, s.ProjectID).Scan(&n)
	if err != nil {
		return 0, ccerr.Database("count memories", err)
	}
	return n, nil
}

// SoftDeleteMemory marks a memory deleted. The row and its vector survive
// for memory_restore.
func (s *Store) SoftDeleteMemory(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET is_deleted = 1, deleted_at = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
		now.UnixMilli(), now.UnixMilli(), id, s.ProjectID)
	if err != nil {
		return ccerr.Database("soft delete memory", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ccerr.NotFound("memory", id)
	}
	s.index(TableMemories).Delete([]string{id})
	return nil
}

// HardDeleteMemory removes the row entirely.
func (s *Store) HardDeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE id = ? AND project_id = ?`, id, s.ProjectID)
	if err != nil {
		return ccerr.Database("hard delete memory", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ccerr.NotFound("memory", id)
	}
	s.index(TableMemories).Delete([]string{id})
	return nil
}

// RestoreMemory undoes a soft delete and puts the vector back in the index.
func (s *Store) RestoreMemory(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET is_deleted = 0, deleted_at = NULL, updated_at = ? WHERE id = ? AND project_id = ? AND is_deleted = 1`,
		now.UnixMilli(), id, s.ProjectID)
	if err != nil {
		return ccerr.Database("restore memory", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ccerr.NotFound("memory", id)
	}

	var blob []byte
	if err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM memories WHERE id = ?`, id).Scan(&blob); err == nil {
		if vec := decodeVector(blob, s.dims); vec != nil {
			s.index(TableMemories).Add(id, vec)
		}
	}
	return nil
}

// SaveSalience writes back the mutable salience fields after reinforce,
// deemphasize, or decay.
func (s *Store) SaveSalience(ctx context.Context, m *core.Memory) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET salience = ?, access_count = ?, last_accessed = ?, updated_at = ?, decay_rate = ?, next_decay_at = ?
		 WHERE id = ? AND project_id = ?`,
		m.Salience, m.AccessCount, millis(m.LastAccessed), millis(m.UpdatedAt),
		m.DecayRate, millisPtr(m.NextDecayAt), m.ID, s.ProjectID)
	if err != nil {
		return ccerr.Database("save salience", err)
	}
	return nil
}

// SupersedeMemory marks old as superseded by new: valid_until closes, the
// pointer is set, and a supersedes relationship row is written. Creating a
// cycle back to the new memory is refused.
func (s *Store) SupersedeMemory(ctx context.Context, oldID, newID string, now time.Time) error {
	if oldID == newID {
		return ccerr.Validation("id", "a memory cannot supersede itself")
	}
	cyclic, err := s.supersessionReaches(ctx, newID, oldID)
	if err != nil {
		return err
	}
	if cyclic {
		return ccerr.Validation("superseded_by", "supersession would create a cycle")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET valid_until = ?, superseded_by = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
		now.UnixMilli(), newID, now.UnixMilli(), oldID, s.ProjectID)
	if err != nil {
		return ccerr.Database("supersede memory", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ccerr.NotFound("memory", oldID)
	}

	rel := &core.MemoryRelationship{
		ID:           core.NewID(),
		ProjectID:    s.ProjectID,
		FromMemoryID: oldID,
		ToMemoryID:   newID,
		Type:         core.RelSupersedes,
		Confidence:   1.0,
		ValidFrom:    now,
		CreatedAt:    now,
	}
	return s.insertRelationship(ctx, rel)
}

// supersessionReaches walks superseded_by pointers from startID looking for
// targetID.
func (s *Store) supersessionReaches(ctx context.Context, startID, targetID string) (bool, error) {
	current := startID
	for depth := 0; depth < 64 && current != ""; depth++ {
		if current == targetID {
			return true, nil
		}
		var next string
		err := s.db.QueryRowContext(ctx,
			`SELECT superseded_by FROM memories WHERE id = ? AND project_id = ?`,
			current, s.ProjectID).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, ccerr.Database("walk supersession", err)
		}
		current = next
	}
	return false, nil
}

// MemoryHit is a vector search result with its cosine distance.
type MemoryHit struct {
	Memory   *core.Memory
	Distance float32
}

// SearchOptions filter memory vector search.
type SearchOptions struct {
	Limit             int
	Sector            core.Sector
	IncludeSuperseded bool
}

// SearchMemories runs a KNN over memory embeddings, filtered to active rows
// unless superseded rows are requested.
func (s *Store) SearchMemories(ctx context.Context, query []float32, opts SearchOptions) ([]MemoryHit, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	// Over-fetch so predicate filtering still fills the page.
	hits := s.index(TableMemories).Search(fitDimension(query, s.dims), opts.Limit*4)

	now := time.Now().UTC()
	results := make([]MemoryHit, 0, opts.Limit)
	for _, hit := range hits {
		m, err := s.GetMemory(ctx, hit.ID)
		if err != nil {
			continue // vector for a row deleted mid-search
		}
		if opts.Sector != "" && m.Sector != opts.Sector {
			continue
		}
		if !opts.IncludeSuperseded && !m.IsActive(now) {
			continue
		}
		if opts.IncludeSuperseded && m.IsDeleted {
			continue
		}
		results = append(results, MemoryHit{Memory: m, Distance: hit.Distance})
		if len(results) == opts.Limit {
			break
		}
	}
	return results, nil
}

// Timeline holds memories adjacent to one memory in time.
type Timeline struct {
	Before []*core.Memory
	After  []*core.Memory
}

// MemoryTimeline returns up to depth memories on each side of the given
// memory, ordered by created_at. Adjacency is defined by session_id; a
// memory without a session falls back to same-sector adjacency.
func (s *Store) MemoryTimeline(ctx context.Context, id string, depth int) (*Timeline, error) {
	m, err := s.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 3
	}

	scopeCol, scopeVal := "session_id", m.SessionID
	if m.SessionID == "" {
		scopeCol, scopeVal = "sector", string(m.Sector)
	}

	before, err := s.timelineSide(ctx, scopeCol, scopeVal, m.CreatedAt, "<", "DESC", depth)
	if err != nil {
		return nil, err
	}
	after, err := s.timelineSide(ctx, scopeCol, scopeVal, m.CreatedAt, ">", "ASC", depth)
	if err != nil {
		return nil, err
	}

	// Before is returned oldest-first.
	for i, j := 0, len(before)-1; i < j; i, j = i+1, j-1 {
		before[i], before[j] = before[j], before[i]
	}
	return &Timeline{Before: before, After: after}, nil
}

func (s *Store) timelineSide(ctx context.Context, scopeCol, scopeVal string, pivot time.Time, cmp, order string, depth int) ([]*core.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE project_id = ? AND `+scopeCol+` = ? AND is_deleted = 0 AND created_at `+cmp+` ?
		 ORDER BY created_at `+order+` LIMIT ?`,
		s.ProjectID, scopeVal, pivot.UnixMilli(), depth)
	if err != nil {
		return nil, ccerr.Database("memory timeline", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// PageMemoriesForDecay pages non-deleted memories for the decay sweep.
// Pagination keys on id so concurrent writes cannot skip rows.
func (s *Store) PageMemoriesForDecay(ctx context.Context, afterID string, limit int) ([]*core.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE project_id = ? AND is_deleted = 0 AND id > ?
		 ORDER BY id ASC LIMIT ?`,
		s.ProjectID, afterID, limit)
	if err != nil {
		return nil, ccerr.Database("page memories", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// MemoriesForFile lists active memories whose files list mentions relPath.
func (s *Store) MemoriesForFile(ctx context.Context, relPath string, limit int) ([]*core.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE project_id = ? AND is_deleted = 0 AND superseded_by = '' AND files LIKE ?
		 ORDER BY salience DESC LIMIT ?`,
		s.ProjectID, `%"`+relPath+`"%`, limit)
	if err != nil {
		return nil, ccerr.Database("memories for file", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// UpdateMemoryEmbedding rewrites a memory's vector and producing model,
// leaving the text untouched. Used by migrate_embedding.
func (s *Store) UpdateMemoryEmbedding(ctx context.Context, id string, vec []float32, model string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding = ?, embedding_model = ? WHERE id = ? AND project_id = ?`,
		encodeVector(vec, s.dims), model, id, s.ProjectID)
	if err != nil {
		return ccerr.Database("update embedding", err)
	}
	s.index(TableMemories).Add(id, fitDimension(vec, s.dims))
	return nil
}

// MemoriesNotEmbeddedBy lists non-deleted memories whose embedding model
// differs from model, so re-embedding can skip current rows.
func (s *Store) MemoriesNotEmbeddedBy(ctx context.Context, model string, limit int) ([]*core.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE project_id = ? AND is_deleted = 0 AND embedding_model != ?
		 ORDER BY id ASC LIMIT ?`,
		s.ProjectID, model, limit)
	if err != nil {
		return nil, ccerr.Database("list stale embeddings", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*core.Memory, error) {
	var m core.Memory
	var sector, tier, memType string
	var tags, concepts, files, categories string
	var createdAt, updatedAt, lastAccessed, validFrom int64
	var validUntil, deletedAt, nextDecayAt sql.NullInt64
	var isDeleted int
	var simhash []byte

	err := row.Scan(&m.ID, &m.ProjectID, &m.Content, &m.Summary, &sector, &tier, &memType,
		&m.Importance, &m.Salience, &m.Confidence, &m.AccessCount,
		&tags, &concepts, &files, &categories,
		&m.ScopePath, &m.ScopeModule, &m.Context, &m.SessionID, &m.SegmentID,
		&createdAt, &updatedAt, &lastAccessed, &validFrom, &validUntil,
		&isDeleted, &deletedAt, &m.ContentHash, &simhash, &m.SupersededBy,
		&m.EmbeddingModel, &m.DecayRate, &nextDecayAt)
	if err != nil {
		return nil, err
	}

	m.Sector = core.Sector(sector)
	m.Tier = core.Tier(tier)
	m.Type = core.MemoryType(memType)
	m.Tags = decodeList(tags)
	m.Concepts = decodeList(concepts)
	m.Files = decodeList(files)
	m.Categories = decodeList(categories)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	m.LastAccessed = fromMillis(lastAccessed)
	m.ValidFrom = fromMillis(validFrom)
	m.ValidUntil = fromMillisPtr(validUntil)
	m.IsDeleted = isDeleted != 0
	m.DeletedAt = fromMillisPtr(deletedAt)
	m.SimHash = core.SimHashFromBytes(simhash)
	m.NextDecayAt = fromMillisPtr(nextDecayAt)
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]*core.Memory, error) {
	var out []*core.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, ccerr.Database("scan memory", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, ccerr.Database("iterate memories", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
