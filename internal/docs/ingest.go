// Package docs ingests documents (files, URLs, pasted content) into the
// per-project store as overlapping character chunks.
package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/embed"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/store"
)

// Chunk sizing in characters. Overlap keeps sentences that straddle a
// boundary retrievable from both sides.
const (
	DefaultChunkSize = 1200
	DefaultOverlap   = 200
)

// Ingestor chunks and embeds documents.
type Ingestor struct {
	store     *store.Store
	embedder  embed.Provider
	chunkSize int
	overlap   int
}

// NewIngestor creates an ingestor with default chunk sizing.
func NewIngestor(st *store.Store, embedder embed.Provider) *Ingestor {
	return &Ingestor{store: st, embedder: embedder, chunkSize: DefaultChunkSize, overlap: DefaultOverlap}
}

// Result reports one ingestion.
type Result struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Chunks     int    `json:"chunks"`
	Chars      int    `json:"chars"`
	Replaced   bool   `json:"replaced"`
}

// IngestFile reads and ingests a file from disk.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ccerr.Wrap(ccerr.KindValidation, "read document", err)
	}
	title := filepath.Base(path)
	return ing.ingest(ctx, title, path, core.DocSourceFile, string(data))
}

// IngestContent ingests pasted content under a title.
func (ing *Ingestor) IngestContent(ctx context.Context, title, content string) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ccerr.Validation("content", "document content is empty")
	}
	return ing.ingest(ctx, title, title, core.DocSourceContent, content)
}

// IngestURL ingests already-fetched content under its source URL. Fetching
// is the caller's concern; the daemon does not reach the network here.
func (ing *Ingestor) IngestURL(ctx context.Context, url, content string) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ccerr.Validation("content", "document content is empty")
	}
	return ing.ingest(ctx, url, url, core.DocSourceURL, content)
}

func (ing *Ingestor) ingest(ctx context.Context, title, source string, kind core.DocumentSource, content string) (*Result, error) {
	now := time.Now().UTC()

	// Re-ingestion of a known source replaces its chunks under the same id.
	docID, err := ing.store.FindDocumentBySource(ctx, source)
	if err != nil {
		return nil, err
	}
	replaced := docID != ""
	if docID == "" {
		docID = core.NewID()
	}

	pieces := splitChunks(content, ing.chunkSize, ing.overlap)
	chunks := make([]*core.DocumentChunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &core.DocumentChunk{
			ID:          core.NewID(),
			ProjectID:   ing.store.ProjectID,
			DocumentID:  docID,
			Content:     piece.text,
			Title:       title,
			Source:      source,
			SourceKind:  kind,
			ChunkIndex:  i,
			TotalChunks: len(pieces),
			CharOffset:  piece.offset,
			CreatedAt:   now,
		}
		texts[i] = piece.text
	}

	if len(texts) > 0 {
		vectors, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, ccerr.Provider("embed document", err)
		}
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
	}

	doc := &core.Document{
		ID:          docID,
		ProjectID:   ing.store.ProjectID,
		Title:       title,
		Source:      source,
		SourceKind:  kind,
		ContentHash: core.ContentHash(content),
		CharCount:   len(content),
		ChunkCount:  len(chunks),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := ing.store.UpsertDocumentMetadata(ctx, doc); err != nil {
		return nil, err
	}
	if err := ing.store.ReplaceDocumentChunks(ctx, docID, chunks); err != nil {
		return nil, err
	}

	return &Result{
		DocumentID: docID,
		Title:      title,
		Chunks:     len(chunks),
		Chars:      len(content),
		Replaced:   replaced,
	}, nil
}

type piece struct {
	text   string
	offset int
}

// splitChunks cuts content into overlapping windows, preferring paragraph
// breaks near the window end. Chunk indexes are contiguous from zero and
// the union of chunks covers the whole input.
func splitChunks(content string, size, overlap int) []piece {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap >= size {
		overlap = size / 4
	}
	if len(content) <= size {
		return []piece{{text: content, offset: 0}}
	}

	var pieces []piece
	offset := 0
	for offset < len(content) {
		end := offset + size
		if end >= len(content) {
			pieces = append(pieces, piece{text: content[offset:], offset: offset})
			break
		}
		// Prefer a paragraph break in the last quarter of the window.
		cut := end
		if idx := strings.LastIndex(content[offset:end], "\n\n"); idx > size*3/4 {
			cut = offset + idx + 2
		}
		pieces = append(pieces, piece{text: content[offset:cut], offset: offset})
		offset = cut - overlap
		if offset < 0 {
			offset = 0
		}
	}
	return pieces
}
