package core

import "time"

// Salience bounds. Decay never pushes a memory below the floor; reinforce
// never pushes it above the ceiling.
const (
	SalienceFloor   = 0.05
	SalienceCeiling = 1.0
)

// Memory is one unit of LLM-extracted knowledge.
type Memory struct {
	ID        string
	ProjectID string

	Content string
	Summary string

	Sector Sector
	Tier   Tier
	Type   MemoryType // empty when untyped

	Importance  float64 // user-assigned [0,1]
	Salience    float64 // decaying [SalienceFloor,1]
	Confidence  float64 // extraction quality [0,1]
	AccessCount int64

	Tags       []string
	Concepts   []string
	Files      []string
	Categories []string

	ScopePath   string
	ScopeModule string
	Context     string

	SessionID string
	SegmentID string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccessed time.Time

	ValidFrom  time.Time
	ValidUntil *time.Time

	IsDeleted bool
	DeletedAt *time.Time

	ContentHash  string
	SimHash      uint64
	SupersededBy string

	EmbeddingModel string
	DecayRate      float64 // cached effective rate, 0 when unset
	NextDecayAt    *time.Time

	Embedding []float32 // nil when not loaded
}

// NewMemory builds a memory with the field defaults every insertion path
// shares. Content hash and simhash are computed here so callers cannot
// forget them.
func NewMemory(projectID, content string, sector Sector, tier Tier) *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:           NewID(),
		ProjectID:    projectID,
		Content:      content,
		Sector:       sector,
		Tier:         tier,
		Importance:   0.5,
		Salience:     SalienceCeiling,
		Confidence:   1.0,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastAccessed: now,
		ValidFrom:    now,
		ContentHash:  ContentHash(content),
		SimHash:      SimHash64(content),
	}
}

// IsActive reports whether the memory participates in retrieval: not
// deleted, not expired, not superseded.
func (m *Memory) IsActive(now time.Time) bool {
	if m.IsDeleted {
		return false
	}
	if m.ValidUntil != nil && !m.ValidUntil.After(now) {
		return false
	}
	return m.SupersededBy == ""
}

// RankScore is the retrieval ordering score before distance weighting.
func (m *Memory) RankScore() float64 {
	return m.Salience * m.Importance * m.Sector.SearchBoost()
}
