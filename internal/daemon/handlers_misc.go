package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/docs"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/retrieval"
)

// --- docs ---

func (r *Router) handleDocsSearch(ctx context.Context, p params) (any, error) {
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

	if !r.registry.Embedder().IsAvailable(ctx) {
		return nil, ccerr.Provider("embedding provider unavailable", nil)
	}
	vec, err := r.registry.Embedder().Embed(ctx, query)
	if err != nil {
		return nil, ccerr.Provider("embed query", err)
	}
	hits, err := st.SearchDocumentChunks(ctx, vec, limit)
	if err != nil {
		return nil, err
	}

	type docView struct {
		ID         string  `json:"id"`
		DocumentID string  `json:"document_id"`
		Title      string  `json:"title"`
		Source     string  `json:"source"`
		ChunkIndex int     `json:"chunk_index"`
		Preview    string  `json:"preview"`
		Score      float64 `json:"score"`
	}
	views := make([]docView, 0, len(hits))
	for _, hit := range hits {
		c := hit.Chunk
		previewText := c.Content
		if len(previewText) > 200 {
			previewText = previewText[:200] + "…"
		}
		views = append(views, docView{
			ID: c.ID, DocumentID: c.DocumentID, Title: c.Title, Source: c.Source,
			ChunkIndex: c.ChunkIndex, Preview: previewText, Score: 1 - float64(hit.Distance),
		})
	}
	return map[string]any{"chunks": views, "count": len(views)}, nil
}

func (r *Router) handleDocContext(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := p.requiredString("id")
	if err != nil {
		return nil, err
	}
	depth, err := p.optionalInt("depth", 2, 1, 20)
	if err != nil {
		return nil, err
	}
	format, err := p.enumString("format", "json", "json", "text")
	if err != nil {
		return nil, err
	}

	resp, err := r.engineFor(st).Context(ctx, []string{id}, retrieval.ContextOptions{Depth: depth, Format: format})
	if err != nil {
		return nil, err
	}
	if format == "text" {
		return map[string]any{"text": resp.Text}, nil
	}
	return resp.Contexts[0], nil
}

func (r *Router) handleDocsIngest(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}

	ing := docs.NewIngestor(st, r.registry.Embedder())

	if path, err := p.optionalString("path", ""); err != nil {
		return nil, err
	} else if path != "" {
		return ing.IngestFile(ctx, path)
	}
	if url, err := p.optionalString("url", ""); err != nil {
		return nil, err
	} else if url != "" {
		content, err := p.requiredString("content")
		if err != nil {
			return nil, err
		}
		return ing.IngestURL(ctx, url, content)
	}

	title, err := p.requiredString("title")
	if err != nil {
		return nil, err
	}
	content, err := p.requiredString("content")
	if err != nil {
		return nil, err
	}
	return ing.IngestContent(ctx, title, content)
}

// --- entities ---

func (r *Router) handleEntityList(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 50, 1, 500)
	if err != nil {
		return nil, err
	}
	entities, err := st.ListEntities(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entities": entities, "count": len(entities)}, nil
}

func (r *Router) handleEntityGet(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	idOrName, err := p.requiredString("id")
	if err != nil {
		return nil, err
	}
	return st.GetEntity(ctx, idOrName)
}

func (r *Router) handleEntityTop(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 10, 1, 100)
	if err != nil {
		return nil, err
	}
	entities, err := st.TopEntities(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entities": entities, "count": len(entities)}, nil
}

// --- relationships ---

func (r *Router) handleRelationshipAdd(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	fromID, err := p.requiredString("from_id")
	if err != nil {
		return nil, err
	}
	toID, err := p.requiredString("to_id")
	if err != nil {
		return nil, err
	}
	relType, err := p.enumString("type", "related_to",
		"supersedes", "contradicts", "related_to", "builds_on",
		"confirms", "applies_to", "depends_on", "alternative_to")
	if err != nil {
		return nil, err
	}
	confidence, err := p.optionalFloat("confidence", 1.0, 0, 1)
	if err != nil {
		return nil, err
	}

	resolvedFrom, err := st.ResolveMemoryID(ctx, fromID)
	if err != nil {
		return nil, err
	}
	resolvedTo, err := st.ResolveMemoryID(ctx, toID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rel := &core.MemoryRelationship{
		ID:           core.NewID(),
		ProjectID:    st.ProjectID,
		FromMemoryID: resolvedFrom,
		ToMemoryID:   resolvedTo,
		Type:         core.RelationshipType(relType),
		Confidence:   confidence,
		ValidFrom:    now,
		Extractor:    "manual",
		CreatedAt:    now,
	}
	if err := st.AddRelationship(ctx, rel); err != nil {
		return nil, err
	}
	return map[string]any{"id": rel.ID}, nil
}

func (r *Router) handleRelationshipList(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	memoryID, err := p.requiredString("id")
	if err != nil {
		return nil, err
	}
	resolved, err := st.ResolveMemoryID(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	rels, err := st.ListRelationships(ctx, resolved)
	if err != nil {
		return nil, err
	}
	return map[string]any{"relationships": rels, "count": len(rels)}, nil
}

func (r *Router) handleRelationshipDelete(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := p.requiredString("id")
	if err != nil {
		return nil, err
	}
	if err := st.DeleteRelationship(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "deleted": true}, nil
}

func (r *Router) handleRelationshipRelated(ctx context.Context, p params) (any, error) {
	return r.handleMemoryRelated(ctx, p)
}

// --- watch ---

func (r *Router) handleWatchStart(ctx context.Context, p params) (any, error) {
	info, _, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	status, err := r.registry.StartWatcher(ctx, info.ID)
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (r *Router) handleWatchStop(ctx context.Context, p params) (any, error) {
	info, _, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	if err := r.registry.StopWatcher(info.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"stopped": true}, nil
}

func (r *Router) handleWatchStatus(ctx context.Context, p params) (any, error) {
	info, _, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	return r.registry.Status(info.ID)
}

// --- admin ---

func (r *Router) handleProjectStats(ctx context.Context, p params) (any, error) {
	info, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}

	codeStats, err := st.Stats(ctx)
	if err != nil {
		return nil, err
	}
	memories, _ := st.CountMemories(ctx)
	documents, _ := st.CountDocuments(ctx)
	sessions, _ := st.CountSessions(ctx)
	indexedFiles, _ := st.CountIndexedFiles(ctx)

	return map[string]any{
		"project":       info,
		"code":          codeStats,
		"memories":      memories,
		"documents":     documents,
		"sessions":      sessions,
		"indexed_files": indexedFiles,
	}, nil
}

func (r *Router) handleProjectsList(ctx context.Context, p params) (any, error) {
	projects := r.registry.List()
	return map[string]any{"projects": projects, "count": len(projects)}, nil
}

func (r *Router) handleProjectInfo(ctx context.Context, p params) (any, error) {
	info, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project":        info,
		"schema_version": version,
		"dimensions":     st.Dimensions(),
	}, nil
}

// handleProjectClean removes a project's data directory after closing it.
func (r *Router) handleProjectClean(ctx context.Context, p params) (any, error) {
	id, err := p.requiredString("id")
	if err != nil {
		return nil, err
	}
	if _, _, err := r.registry.Get(id); err == nil {
		if err := r.registry.Close(id); err != nil {
			return nil, err
		}
	}
	dir := config.ProjectDataDir(r.registry.DataRoot(), id)
	if err := os.RemoveAll(dir); err != nil {
		return nil, ccerr.Database("remove project data", err)
	}
	return map[string]any{"id": id, "cleaned": true}, nil
}

// handleProjectsCleanAll removes data directories whose project path no
// longer exists on disk.
func (r *Router) handleProjectsCleanAll(ctx context.Context, p params) (any, error) {
	entries, err := os.ReadDir(r.registry.DataRoot())
	if err != nil {
		return nil, ccerr.Database("list data root", err)
	}

	cleaned := []string{}
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) != core.ProjectIDLen {
			continue
		}
		dir := filepath.Join(r.registry.DataRoot(), entry.Name())
		info, err := readProjectJSON(dir)
		if err != nil {
			continue
		}
		if _, err := os.Stat(info.Path); os.IsNotExist(err) {
			if _, _, err := r.registry.Get(entry.Name()); err == nil {
				_ = r.registry.Close(entry.Name())
			}
			if err := os.RemoveAll(dir); err == nil {
				cleaned = append(cleaned, entry.Name())
			}
		}
	}
	return map[string]any{"cleaned": cleaned, "count": len(cleaned)}, nil
}

// handleMigrateEmbedding re-embeds memories whose stored embedding model
// differs from the current provider. Text content is never touched.
func (r *Router) handleMigrateEmbedding(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	batch, err := p.optionalInt("batch_size", 100, 1, 1000)
	if err != nil {
		return nil, err
	}

	provider := r.registry.Embedder()
	if !provider.IsAvailable(ctx) {
		return nil, ccerr.Provider("embedding provider unavailable", nil)
	}
	model := provider.ModelID()

	migrated := 0
	for {
		stale, err := st.MemoriesNotEmbeddedBy(ctx, model, batch)
		if err != nil {
			return nil, err
		}
		if len(stale) == 0 {
			break
		}
		texts := make([]string, len(stale))
		for i, m := range stale {
			texts[i] = m.Content
		}
		vectors, err := provider.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, ccerr.Provider("re-embed memories", err)
		}
		for i, m := range stale {
			if err := st.UpdateMemoryEmbedding(ctx, m.ID, vectors[i], model); err != nil {
				return nil, err
			}
			migrated++
		}
	}
	return map[string]any{"migrated": migrated, "model": model}, nil
}

// --- agent ---

func (r *Router) handleExplore(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	query, err := p.requiredString("query")
	if err != nil {
		return nil, err
	}
	scope, err := p.enumString("scope", "all", "code", "memory", "docs", "all")
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 10, 1, 50)
	if err != nil {
		return nil, err
	}
	expandTop, err := p.optionalInt("expand_top", 0, 0, 10)
	if err != nil {
		return nil, err
	}
	format, err := p.enumString("format", "json", "json", "text")
	if err != nil {
		return nil, err
	}

	return r.engineFor(st).Explore(ctx, query, retrieval.ExploreOptions{
		Scope:     retrieval.Scope(scope),
		Limit:     limit,
		ExpandTop: expandTop,
		Format:    format,
	})
}

func (r *Router) handleContext(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}

	var ids []string
	if id, err := p.optionalString("id", ""); err != nil {
		return nil, err
	} else if id != "" {
		ids = []string{id}
	} else {
		ids, err = p.optionalStringList("ids")
		if err != nil {
			return nil, err
		}
	}
	depth, err := p.optionalInt("depth", 5, 1, 50)
	if err != nil {
		return nil, err
	}
	format, err := p.enumString("format", "json", "json", "text")
	if err != nil {
		return nil, err
	}

	return r.engineFor(st).Context(ctx, ids, retrieval.ContextOptions{Depth: depth, Format: format})
}

type projectJSON struct {
	Path string `json:"path"`
}

func readProjectJSON(dir string) (*projectJSON, error) {
	data, err := os.ReadFile(filepath.Join(dir, "project.json"))
	if err != nil {
		return nil, err
	}
	var info projectJSON
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
