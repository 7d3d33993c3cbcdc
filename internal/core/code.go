package core

import "time"

// CharsPerToken is the crude token estimate divisor used for chunk budgets.
const CharsPerToken = 4

// CodeChunk is a contiguous line range of a single source file.
type CodeChunk struct {
	ID        string
	ProjectID string

	FilePath string // relative to project root
	Content  string
	Language Language
	Type     ChunkType
	Symbols  []string

	StartLine int // 1-indexed
	EndLine   int // inclusive

	FileHash       string // content hash of the whole file at indexing time
	IndexedAt      time.Time
	TokensEstimate int

	Embedding []float32 // nil when not loaded
}

// CodeReference is a directed edge from a source chunk to a used symbol.
// TargetChunkID stays empty until reference resolution back-fills it.
type CodeReference struct {
	ID            string
	ProjectID     string
	SourceChunkID string
	TargetSymbol  string
	TargetChunkID string
	Type          ReferenceType
	CreatedAt     time.Time
}

// IndexedFile tracks the last indexed state of one source file, so the
// watcher can skip files whose content has not changed.
type IndexedFile struct {
	ProjectID     string
	Path          string // relative
	ContentHash   string
	Size          int64
	ModTime       time.Time
	LastIndexedAt time.Time
	ChunkCount    int
}
