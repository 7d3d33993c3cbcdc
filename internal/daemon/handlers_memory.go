package daemon

import (
	"context"
	"time"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/store"
)

const maxContentLen = 64 * 1024

// memoryView is the wire shape of a memory.
type memoryView struct {
	ID           string   `json:"id"`
	Content      string   `json:"content"`
	Summary      string   `json:"summary,omitempty"`
	Sector       string   `json:"sector"`
	Tier         string   `json:"tier"`
	Type         string   `json:"type,omitempty"`
	Importance   float64  `json:"importance"`
	Salience     float64  `json:"salience"`
	Confidence   float64  `json:"confidence"`
	AccessCount  int64    `json:"access_count"`
	Tags         []string `json:"tags,omitempty"`
	Files        []string `json:"files,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	CreatedAt    int64    `json:"created_at"`
	LastAccessed int64    `json:"last_accessed"`
	SupersededBy string   `json:"superseded_by,omitempty"`
	IsDeleted    bool     `json:"is_deleted,omitempty"`
	Score        float64  `json:"score,omitempty"`
	Distance     float32  `json:"distance,omitempty"`
}

func viewOf(m *core.Memory) memoryView {
	return memoryView{
		ID:           m.ID,
		Content:      m.Content,
		Summary:      m.Summary,
		Sector:       string(m.Sector),
		Tier:         string(m.Tier),
		Type:         string(m.Type),
		Importance:   m.Importance,
		Salience:     m.Salience,
		Confidence:   m.Confidence,
		AccessCount:  m.AccessCount,
		Tags:         m.Tags,
		Files:        m.Files,
		SessionID:    m.SessionID,
		CreatedAt:    m.CreatedAt.UnixMilli(),
		LastAccessed: m.LastAccessed.UnixMilli(),
		SupersededBy: m.SupersededBy,
		IsDeleted:    m.IsDeleted,
	}
}

func (r *Router) handleMemoryAdd(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}

	content, err := p.requiredString("content")
	if err != nil {
		return nil, err
	}
	if err := maxLen("content", content, maxContentLen); err != nil {
		return nil, err
	}
	sectorStr, err := p.enumString("sector", "semantic",
		"episodic", "semantic", "procedural", "emotional", "reflective")
	if err != nil {
		return nil, err
	}
	tierStr, err := p.enumString("tier", "project", "session", "project")
	if err != nil {
		return nil, err
	}
	importance, err := p.optionalFloat("importance", 0.5, 0, 1)
	if err != nil {
		return nil, err
	}
	tags, err := p.optionalStringList("tags")
	if err != nil {
		return nil, err
	}
	files, err := p.optionalStringList("files")
	if err != nil {
		return nil, err
	}
	sessionID, err := p.optionalString("session_id", "")
	if err != nil {
		return nil, err
	}

	sector, _ := core.ParseSector(sectorStr)
	tier, _ := core.ParseTier(tierStr)

	m := core.NewMemory(st.ProjectID, content, sector, tier)
	m.Importance = importance
	m.Tags = tags
	m.Files = files
	m.SessionID = sessionID
	m.EmbeddingModel = r.registry.Embedder().ModelID()

	if vec, err := r.registry.Embedder().Embed(ctx, content); err == nil {
		m.Embedding = vec
	}

	res, err := st.AddMemory(ctx, m)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": res.ID, "is_duplicate": res.IsDuplicate}, nil
}

func (r *Router) handleMemorySearch(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}

	query, err := p.requiredString("query")
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 10, 1, 100)
	if err != nil {
		return nil, err
	}
	includeSuperseded, err := p.optionalBool("include_superseded", false)
	if err != nil {
		return nil, err
	}
	sectorStr, err := p.enumString("sector", "",
		"episodic", "semantic", "procedural", "emotional", "reflective")
	if err != nil {
		return nil, err
	}

	if !r.registry.Embedder().IsAvailable(ctx) {
		return nil, ccerr.Provider("embedding provider unavailable", nil)
	}
	vec, err := r.registry.Embedder().Embed(ctx, query)
	if err != nil {
		return nil, ccerr.Provider("embed query", err)
	}

	hits, err := st.SearchMemories(ctx, vec, store.SearchOptions{
		Limit:             limit,
		Sector:            core.Sector(sectorStr),
		IncludeSuperseded: includeSuperseded,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	views := make([]memoryView, 0, len(hits))
	for _, hit := range hits {
		v := viewOf(hit.Memory)
		v.Distance = hit.Distance
		v.Score = (1 - float64(hit.Distance)) * hit.Memory.RankScore()
		views = append(views, v)

		// Recall counts as an access.
		core.Reinforce(hit.Memory, 0.05, now)
		if err := st.SaveSalience(ctx, hit.Memory); err == nil {
			if hit.Memory.SessionID != "" {
				_ = st.RecordSessionMemory(ctx, hit.Memory.SessionID, hit.Memory.ID, core.UsageRecalled, now)
			}
		}
	}
	return map[string]any{"memories": views, "count": len(views)}, nil
}

func (r *Router) handleMemoryGet(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := r.resolveMemoryParam(ctx, st, p)
	if err != nil {
		return nil, err
	}
	m, err := st.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	return viewOf(m), nil
}

func (r *Router) handleMemoryList(ctx context.Context, p params) (any, error) {
	return r.listMemories(ctx, p, false)
}

func (r *Router) handleMemoryListDeleted(ctx context.Context, p params) (any, error) {
	return r.listMemories(ctx, p, true)
}

func (r *Router) listMemories(ctx context.Context, p params, deleted bool) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 50, 1, 500)
	if err != nil {
		return nil, err
	}
	offset, err := p.optionalInt("offset", 0, 0, 1<<30)
	if err != nil {
		return nil, err
	}
	sectorStr, err := p.enumString("sector", "",
		"episodic", "semantic", "procedural", "emotional", "reflective")
	if err != nil {
		return nil, err
	}

	memories, err := st.ListMemories(ctx, store.ListOptions{
		Sector:            core.Sector(sectorStr),
		OnlyDeleted:       deleted,
		IncludeSuperseded: deleted,
		Limit:             limit,
		Offset:            offset,
	})
	if err != nil {
		return nil, err
	}

	views := make([]memoryView, 0, len(memories))
	for _, m := range memories {
		views = append(views, viewOf(m))
	}
	return map[string]any{"memories": views, "count": len(views)}, nil
}

func (r *Router) handleMemoryReinforce(ctx context.Context, p params) (any, error) {
	return r.adjustSalience(ctx, p, true)
}

func (r *Router) handleMemoryDeemphasize(ctx context.Context, p params) (any, error) {
	return r.adjustSalience(ctx, p, false)
}

func (r *Router) adjustSalience(ctx context.Context, p params, up bool) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := r.resolveMemoryParam(ctx, st, p)
	if err != nil {
		return nil, err
	}
	amount, err := p.optionalFloat("amount", 0.2, 0, 1)
	if err != nil {
		return nil, err
	}

	m, err := st.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if up {
		core.Reinforce(m, amount, now)
	} else {
		core.Deemphasize(m, amount, now)
	}
	if err := st.SaveSalience(ctx, m); err != nil {
		return nil, err
	}
	if up && m.SessionID != "" {
		_ = st.RecordSessionMemory(ctx, m.SessionID, m.ID, core.UsageReinforced, now)
	}
	return map[string]any{"id": m.ID, "salience": m.Salience}, nil
}

func (r *Router) handleMemoryDelete(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := r.resolveMemoryParam(ctx, st, p)
	if err != nil {
		return nil, err
	}
	hard, err := p.optionalBool("hard", false)
	if err != nil {
		return nil, err
	}

	if hard {
		err = st.HardDeleteMemory(ctx, id)
	} else {
		err = st.SoftDeleteMemory(ctx, id, time.Now().UTC())
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "deleted": true, "hard": hard}, nil
}

func (r *Router) handleMemoryRestore(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := p.requiredString("id")
	if err != nil {
		return nil, err
	}
	if err := st.RestoreMemory(ctx, id, time.Now().UTC()); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "restored": true}, nil
}

func (r *Router) handleMemorySupersede(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	oldID, err := p.requiredString("old_id")
	if err != nil {
		return nil, err
	}
	newID, err := p.requiredString("new_id")
	if err != nil {
		return nil, err
	}
	resolvedOld, err := st.ResolveMemoryID(ctx, oldID)
	if err != nil {
		return nil, err
	}
	resolvedNew, err := st.ResolveMemoryID(ctx, newID)
	if err != nil {
		return nil, err
	}
	if err := st.SupersedeMemory(ctx, resolvedOld, resolvedNew, time.Now().UTC()); err != nil {
		return nil, err
	}
	return map[string]any{"old_id": resolvedOld, "new_id": resolvedNew, "superseded": true}, nil
}

func (r *Router) handleMemoryTimeline(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := r.resolveMemoryParam(ctx, st, p)
	if err != nil {
		return nil, err
	}
	depth, err := p.optionalInt("depth", 3, 1, 50)
	if err != nil {
		return nil, err
	}

	tl, err := st.MemoryTimeline(ctx, id, depth)
	if err != nil {
		return nil, err
	}
	before := make([]memoryView, 0, len(tl.Before))
	for _, m := range tl.Before {
		before = append(before, viewOf(m))
	}
	after := make([]memoryView, 0, len(tl.After))
	for _, m := range tl.After {
		after = append(after, viewOf(m))
	}
	return map[string]any{"before": before, "after": after}, nil
}

func (r *Router) handleMemoryRelated(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := r.resolveMemoryParam(ctx, st, p)
	if err != nil {
		return nil, err
	}
	depth, err := p.optionalInt("depth", 2, 1, 5)
	if err != nil {
		return nil, err
	}

	related, err := st.RelatedMemories(ctx, id, depth)
	if err != nil {
		return nil, err
	}
	views := make([]memoryView, 0, len(related))
	for _, m := range related {
		views = append(views, viewOf(m))
	}
	return map[string]any{"memories": views, "count": len(views)}, nil
}

func (r *Router) resolveMemoryParam(ctx context.Context, st *store.Store, p params) (string, error) {
	id, err := p.requiredString("id")
	if err != nil {
		return "", err
	}
	return st.ResolveMemoryID(ctx, id)
}
