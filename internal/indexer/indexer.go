// Package indexer implements the code indexing pipeline: the per-file
// update protocol used by the watcher and the resumable, checkpointed
// full-project run.
package indexer

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/ccengram/ccengram/internal/chunk"
	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/embed"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/gitignore"
	"github.com/ccengram/ccengram/internal/scanner"
	"github.com/ccengram/ccengram/internal/store"
)

// checkpointEvery bounds how much work a crash can lose during a full run.
const checkpointEvery = 25

// Indexer drives chunking and embedding for one project.
type Indexer struct {
	store    *store.Store
	scanner  *scanner.Scanner
	chunker  *chunk.Chunker
	embedder embed.Provider
	root     string
	logger   *slog.Logger
}

// New creates an indexer for the project rooted at root.
func New(st *store.Store, sc *scanner.Scanner, ch *chunk.Chunker, emb embed.Provider, root string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: st, scanner: sc, chunker: ch, embedder: emb, root: root, logger: logger}
}

// IndexFile runs the file update protocol for one path:
// scan → skip if checksum unchanged → delete references → delete chunks →
// chunk, embed, insert → upsert the indexed_files row.
// Returns true when the file was (re-)indexed, false when skipped.
func (ix *Indexer) IndexFile(ctx context.Context, relPath string) (bool, error) {
	info, ok := ix.scanner.ScanFile(ix.root, relPath)
	if !ok {
		// Vanished or no longer indexable; treat as a delete.
		return false, ix.RemoveFile(ctx, relPath)
	}

	if existing, err := ix.store.GetIndexedFile(ctx, relPath); err == nil && existing.ContentHash == info.Checksum {
		return false, nil
	}

	data, err := os.ReadFile(info.AbsPath)
	if err != nil {
		return false, ccerr.Wrap(ccerr.KindDatabase, "read source file", err)
	}

	// Deletes happen before inserts, references first so the chunk set is
	// still known.
	if err := ix.store.DeleteReferencesForFile(ctx, relPath); err != nil {
		return false, err
	}
	if err := ix.store.DeleteChunksForFile(ctx, relPath); err != nil {
		return false, err
	}

	chunks := ix.chunker.Chunk(ix.store.ProjectID, relPath, string(data), info.Language, info.Checksum)
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return false, ccerr.Provider("embed chunks", err)
		}
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
		if err := ix.store.InsertChunks(ctx, chunks); err != nil {
			return false, err
		}

		var refs []*core.CodeReference
		for _, c := range chunks {
			refs = append(refs, chunk.ExtractReferences(c)...)
		}
		if err := ix.store.InsertReferences(ctx, refs); err != nil {
			return false, err
		}
	}

	mtime := time.Now().UTC()
	if fi, err := os.Stat(info.AbsPath); err == nil {
		mtime = fi.ModTime().UTC()
	}
	row := store.TouchIndexedFile(ix.store.ProjectID, relPath, info.Checksum, info.Size, mtime, len(chunks))
	return true, ix.store.SaveIndexedFile(ctx, row)
}

// RemoveFile drops a deleted file's chunks, references, and tracking row.
func (ix *Indexer) RemoveFile(ctx context.Context, relPath string) error {
	if err := ix.store.DeleteReferencesForFile(ctx, relPath); err != nil {
		return err
	}
	if err := ix.store.DeleteChunksForFile(ctx, relPath); err != nil {
		return err
	}
	return ix.store.DeleteIndexedFile(ctx, relPath)
}

// Summary reports a full indexing run.
type Summary struct {
	FilesIndexed int
	FilesSkipped int
	Errors       int
	Resumed      bool
}

// IndexProject walks the whole tree. An incomplete checkpoint from an
// earlier run resumes where it left off; completion clears the checkpoint.
func (ix *Indexer) IndexProject(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	now := time.Now().UTC()

	rulesHash, err := gitignore.RulesHash(ix.root)
	if err != nil {
		rulesHash = ""
	}

	cp, err := ix.store.LoadCheckpoint(ctx, core.CheckpointCode)
	if err != nil {
		return nil, err
	}

	var pending []string
	processed := map[string]struct{}{}

	if cp != nil && !cp.IsComplete && cp.GitignoreHash == rulesHash && len(cp.Pending) > 0 {
		summary.Resumed = true
		pending = cp.Pending
		for _, p := range cp.Processed {
			processed[p] = struct{}{}
		}
	} else {
		files, err := ix.scanner.Scan(ctx, ix.root)
		if err != nil {
			return nil, ccerr.Wrap(ccerr.KindDatabase, "scan project", err)
		}
		for _, f := range files {
			pending = append(pending, f.RelPath)
		}
		cp = &core.IndexCheckpoint{
			ProjectID:     ix.store.ProjectID,
			Kind:          core.CheckpointCode,
			Pending:       pending,
			TotalFiles:    len(pending),
			GitignoreHash: rulesHash,
			StartedAt:     now,
			UpdatedAt:     now,
		}
		if err := ix.store.SaveCheckpoint(ctx, cp); err != nil {
			return nil, err
		}
	}

	for i := 0; i < len(pending); i++ {
		if ctx.Err() != nil {
			return summary, ccerr.Wrap(ccerr.KindCancelled, "indexing cancelled", ctx.Err())
		}
		relPath := pending[i]

		indexed, err := ix.IndexFile(ctx, relPath)
		switch {
		case err != nil:
			summary.Errors++
			cp.ErrorCount++
			ix.logger.Warn("index file failed",
				slog.String("path", relPath), slog.String("error", err.Error()))
		case indexed:
			summary.FilesIndexed++
		default:
			summary.FilesSkipped++
		}

		processed[relPath] = struct{}{}
		if (i+1)%checkpointEvery == 0 || i == len(pending)-1 {
			cp.Processed = keys(processed)
			cp.Pending = pending[i+1:]
			cp.UpdatedAt = time.Now().UTC()
			if err := ix.store.SaveCheckpoint(ctx, cp); err != nil {
				return summary, err
			}
		}
	}

	if resolved, err := ix.store.ResolveReferenceTargets(ctx); err == nil && resolved > 0 {
		ix.logger.Debug("resolved reference targets", slog.Int("count", resolved))
	}

	cp.IsComplete = true
	cp.Pending = nil
	cp.UpdatedAt = time.Now().UTC()
	if err := ix.store.SaveCheckpoint(ctx, cp); err != nil {
		return summary, err
	}
	return summary, nil
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
