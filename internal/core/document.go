package core

import "time"

// Document is the metadata row for an ingested text.
type Document struct {
	ID        string
	ProjectID string

	Title       string
	Source      string // path, url, or synthetic name for pasted content
	SourceKind  DocumentSource
	ContentHash string

	CharCount  int
	ChunkCount int
	Content    string // optional full text

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentChunk is one retrieval unit of a document.
type DocumentChunk struct {
	ID         string
	ProjectID  string
	DocumentID string

	Content    string
	Title      string
	Source     string
	SourceKind DocumentSource

	ChunkIndex  int
	TotalChunks int
	CharOffset  int

	CreatedAt time.Time

	Embedding []float32 // nil when not loaded
}
