// Package core defines the domain model shared by every other package:
// records (memories, code chunks, documents, sessions), the closed enums
// serialized at the storage boundary, identifier derivation, and the
// salience model.
package core

import "fmt"

// Sector classifies a memory by how it decays and how search boosts it.
type Sector string

const (
	SectorEpisodic   Sector = "episodic"
	SectorSemantic   Sector = "semantic"
	SectorProcedural Sector = "procedural"
	SectorEmotional  Sector = "emotional"
	SectorReflective Sector = "reflective"
)

// ParseSector converts a stored string into a Sector.
func ParseSector(s string) (Sector, error) {
	switch Sector(s) {
	case SectorEpisodic, SectorSemantic, SectorProcedural, SectorEmotional, SectorReflective:
		return Sector(s), nil
	}
	return "", fmt.Errorf("unknown sector: %q", s)
}

// DecayRate returns the base decay rate per day for the sector.
func (s Sector) DecayRate() float64 {
	switch s {
	case SectorEpisodic:
		return 0.02
	case SectorProcedural:
		return 0.01
	case SectorReflective:
		return 0.008
	case SectorSemantic:
		return 0.005
	case SectorEmotional:
		return 0.003
	default:
		return 0.01
	}
}

// SearchBoost returns the ranking boost multiplier for the sector.
func (s Sector) SearchBoost() float64 {
	switch s {
	case SectorReflective:
		return 1.2
	case SectorSemantic:
		return 1.1
	case SectorProcedural:
		return 1.0
	case SectorEmotional:
		return 0.9
	case SectorEpisodic:
		return 0.8
	default:
		return 1.0
	}
}

// AllSectors lists every sector, in boost order.
func AllSectors() []Sector {
	return []Sector{SectorReflective, SectorSemantic, SectorProcedural, SectorEmotional, SectorEpisodic}
}

// Tier is the persistence scope of a memory.
type Tier string

const (
	TierSession Tier = "session"
	TierProject Tier = "project"
)

// ParseTier converts a stored string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierSession, TierProject:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown tier: %q", s)
}

// MemoryType is the semantic kind of an extracted memory.
type MemoryType string

const (
	MemoryTypePreference     MemoryType = "preference"
	MemoryTypeCodebase       MemoryType = "codebase"
	MemoryTypeDecision       MemoryType = "decision"
	MemoryTypeGotcha         MemoryType = "gotcha"
	MemoryTypePattern        MemoryType = "pattern"
	MemoryTypeTurnSummary    MemoryType = "turn_summary"
	MemoryTypeTaskCompletion MemoryType = "task_completion"
)

// ParseMemoryType converts a stored string into a MemoryType.
func ParseMemoryType(s string) (MemoryType, error) {
	switch MemoryType(s) {
	case MemoryTypePreference, MemoryTypeCodebase, MemoryTypeDecision,
		MemoryTypeGotcha, MemoryTypePattern, MemoryTypeTurnSummary, MemoryTypeTaskCompletion:
		return MemoryType(s), nil
	}
	return "", fmt.Errorf("unknown memory type: %q", s)
}

// DefaultSector maps a memory type to the sector it lands in when the
// extractor does not assign one explicitly.
func (t MemoryType) DefaultSector() Sector {
	switch t {
	case MemoryTypePreference:
		return SectorEmotional
	case MemoryTypeCodebase, MemoryTypeDecision:
		return SectorSemantic
	case MemoryTypeGotcha, MemoryTypePattern:
		return SectorProcedural
	case MemoryTypeTurnSummary:
		return SectorReflective
	case MemoryTypeTaskCompletion:
		return SectorEpisodic
	default:
		return SectorSemantic
	}
}

// ChunkType classifies the dominant content of a code chunk.
type ChunkType string

const (
	ChunkTypeFunction ChunkType = "function"
	ChunkTypeClass    ChunkType = "class"
	ChunkTypeModule   ChunkType = "module"
	ChunkTypeBlock    ChunkType = "block"
	ChunkTypeImport   ChunkType = "import"
)

// ReferenceType classifies a symbol-use edge between chunks.
type ReferenceType string

const (
	ReferenceTypeCall    ReferenceType = "call"
	ReferenceTypeImport  ReferenceType = "import"
	ReferenceTypeTypeRef ReferenceType = "type_ref"
)

// RelationshipType classifies a directed edge between two memories.
type RelationshipType string

const (
	RelSupersedes    RelationshipType = "supersedes"
	RelContradicts   RelationshipType = "contradicts"
	RelRelatedTo     RelationshipType = "related_to"
	RelBuildsOn      RelationshipType = "builds_on"
	RelConfirms      RelationshipType = "confirms"
	RelAppliesTo     RelationshipType = "applies_to"
	RelDependsOn     RelationshipType = "depends_on"
	RelAlternativeTo RelationshipType = "alternative_to"
)

// ParseRelationshipType converts a stored string into a RelationshipType.
func ParseRelationshipType(s string) (RelationshipType, error) {
	switch RelationshipType(s) {
	case RelSupersedes, RelContradicts, RelRelatedTo, RelBuildsOn,
		RelConfirms, RelAppliesTo, RelDependsOn, RelAlternativeTo:
		return RelationshipType(s), nil
	}
	return "", fmt.Errorf("unknown relationship type: %q", s)
}

// CheckpointType distinguishes resumable indexing runs.
type CheckpointType string

const (
	CheckpointCode     CheckpointType = "code"
	CheckpointDocument CheckpointType = "document"
)

// ExtractionTrigger names the condition that invoked extraction.
type ExtractionTrigger string

const (
	TriggerUserPrompt     ExtractionTrigger = "user_prompt"
	TriggerPreCompact     ExtractionTrigger = "pre_compact"
	TriggerStop           ExtractionTrigger = "stop"
	TriggerTodoCompletion ExtractionTrigger = "todo_completion"
	TriggerHighPriority   ExtractionTrigger = "high_priority"
)

// DocumentSource is where an ingested document came from.
type DocumentSource string

const (
	DocSourceFile    DocumentSource = "file"
	DocSourceURL     DocumentSource = "url"
	DocSourceContent DocumentSource = "content"
)

// SignalCategory is the lightweight classification of a user message used
// by the high-priority extraction path.
type SignalCategory string

const (
	SignalCorrection SignalCategory = "correction"
	SignalPreference SignalCategory = "preference"
	SignalTask       SignalCategory = "task"
	SignalQuestion   SignalCategory = "question"
	SignalStatement  SignalCategory = "statement"
	SignalOther      SignalCategory = "other"
)

// Extractable reports whether a signal category should bypass the normal
// trigger gate and extract immediately.
func (c SignalCategory) Extractable() bool {
	return c == SignalCorrection || c == SignalPreference
}

// UsageKind records how a session touched a memory.
type UsageKind string

const (
	UsageCreated    UsageKind = "created"
	UsageRecalled   UsageKind = "recalled"
	UsageUpdated    UsageKind = "updated"
	UsageReinforced UsageKind = "reinforced"
)

// Language is the closed set of languages the chunker understands.
type Language string

const (
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangMarkdown   Language = "markdown"
	LangJSON       Language = "json"
	LangYAML       Language = "yaml"
	LangTOML       Language = "toml"
	LangShell      Language = "shell"
	LangC          Language = "c"
	LangCpp        Language = "cpp"
	LangJava       Language = "java"
	LangRuby       Language = "ruby"
	LangText       Language = "text"
)
