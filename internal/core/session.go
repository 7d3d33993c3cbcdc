package core

import "time"

// Session groups hook events for one assistant session.
type Session struct {
	ID        string
	ProjectID string
	StartedAt time.Time
	UpdatedAt time.Time
	EndedAt   *time.Time
}

// SessionMemory is the session↔memory junction with a usage kind.
type SessionMemory struct {
	ID        string
	ProjectID string
	SessionID string
	MemoryID  string
	Usage     UsageKind
	CreatedAt time.Time
}

// Event is an audit row for a hook event the daemon received.
type Event struct {
	ID        string
	ProjectID string
	SessionID string
	Name      string
	Payload   string // raw JSON
	CreatedAt time.Time
}

// SegmentState is the persisted form of a segment accumulator, written on
// every mutation so a crashed daemon can resume mid-segment.
type SegmentState struct {
	ID        string
	ProjectID string
	SessionID string

	UserPrompts          []string
	FilesRead            []string
	FilesModified        []string
	CommandsRun          []string
	Errors               []string
	Searches             []string
	CompletedTasks       []string
	LastAssistantMessage string
	ToolCallCount        int

	StartedAt time.Time
	UpdatedAt time.Time
}

// ExtractionSegment is the immutable audit record of one extraction run.
type ExtractionSegment struct {
	ID        string
	ProjectID string
	SessionID string

	Trigger          ExtractionTrigger
	InputTokens      int64
	OutputTokens     int64
	MemoriesExtracted int
	DurationMs       int64
	Error            string

	CreatedAt time.Time
}

// Entity is a named thing (person, tool, concept) mentioned by memories.
type Entity struct {
	ID        string
	ProjectID string

	Name    string
	Kind    string
	Summary string
	Aliases []string

	FirstSeen    time.Time
	LastSeen     time.Time
	MentionCount int64
}

// MemoryEntity links a memory to an entity it mentions.
type MemoryEntity struct {
	ID        string
	ProjectID string
	MemoryID  string
	EntityID  string
	CreatedAt time.Time
}

// MemoryRelationship is a directed, typed edge between two memories.
type MemoryRelationship struct {
	ID        string
	ProjectID string

	FromMemoryID string
	ToMemoryID   string
	Type         RelationshipType
	Confidence   float64

	ValidFrom  time.Time
	ValidUntil *time.Time
	Extractor  string

	CreatedAt time.Time
}

// IndexCheckpoint is resumable state for a long-running indexing run.
// Exactly one active checkpoint exists per (project, kind).
type IndexCheckpoint struct {
	ID        string
	ProjectID string
	Kind      CheckpointType

	Processed     []string // relative paths already done
	Pending       []string // relative paths remaining
	TotalFiles    int
	TotalChunks   int
	ErrorCount    int
	GitignoreHash string

	StartedAt  time.Time
	UpdatedAt  time.Time
	IsComplete bool
}
