package chunk

import (
	"strings"
	"time"

	"github.com/ccengram/ccengram/internal/core"
)

// Config bounds chunk sizes in lines.
type Config struct {
	TargetLines int
	MinLines    int
	MaxLines    int
}

// DefaultConfig matches the indexing defaults.
func DefaultConfig() Config {
	return Config{TargetLines: 50, MinLines: 10, MaxLines: 100}
}

// Chunker splits source files at declaration boundaries.
type Chunker struct {
	cfg Config
}

// New creates a chunker with the given config, applying defaults for zero
// values.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.TargetLines <= 0 {
		cfg.TargetLines = def.TargetLines
	}
	if cfg.MinLines <= 0 {
		cfg.MinLines = def.MinLines
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = def.MaxLines
	}
	return &Chunker{cfg: cfg}
}

// Chunk splits source into chunks for filePath. Small files become a single
// chunk; larger files are split at declaration boundaries accumulated toward
// the target size, falling back to even splits when the language has no
// recognizers or no declarations were found.
func (c *Chunker) Chunk(projectID, filePath, source string, lang core.Language, fileHash string) []*core.CodeChunk {
	if source == "" {
		return nil
	}

	lines := strings.Split(source, "\n")
	// A trailing newline produces a phantom empty last element.
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)
	now := time.Now().UTC()

	if total <= c.cfg.MaxLines {
		return []*core.CodeChunk{c.build(projectID, filePath, lines, 0, total, lang, fileHash, now)}
	}

	boundaries := findBoundaries(lines, lang)

	var chunks []*core.CodeChunk
	start := 0
	for _, boundary := range boundaries {
		if boundary-start >= c.cfg.TargetLines {
			chunks = append(chunks, c.build(projectID, filePath, lines, start, boundary, lang, fileHash, now))
			start = boundary
		}
	}
	if start < total {
		chunks = append(chunks, c.build(projectID, filePath, lines, start, total, lang, fileHash, now))
	}

	// No declarations recognized: split evenly so non-empty input never
	// yields zero chunks.
	if len(boundaries) == 0 {
		return c.splitEvenly(projectID, filePath, lines, lang, fileHash, now)
	}
	return chunks
}

// findBoundaries returns the 0-based indexes of lines that begin a top-level
// declaration. Index 0 is never a boundary (a chunk always starts there).
func findBoundaries(lines []string, lang core.Language) []int {
	var boundaries []int
	for i, line := range lines {
		if i == 0 {
			continue
		}
		if _, ok := isBoundary(line, lang); ok {
			boundaries = append(boundaries, i)
		}
	}
	return boundaries
}

func (c *Chunker) splitEvenly(projectID, filePath string, lines []string, lang core.Language, fileHash string, now time.Time) []*core.CodeChunk {
	var chunks []*core.CodeChunk
	start := 0
	for start < len(lines) {
		end := bestBreak(lines, start, start+c.cfg.TargetLines)
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, c.build(projectID, filePath, lines, start, end, lang, fileHash, now))
		start = end
	}
	return chunks
}

// bestBreak nudges an even split end toward a nearby blank line so windowed
// chunks do not cut statements mid-block. Only used for boundary-free files;
// declaration-aligned chunks never move.
func bestBreak(lines []string, start, end int) int {
	if end >= len(lines) {
		return len(lines)
	}
	const window = 5
	for off := 0; off < window && end-off > start+1; off++ {
		if strings.TrimSpace(lines[end-off-1]) == "" {
			return end - off
		}
	}
	return end
}

// build materializes a chunk over lines[start:end) with 1-indexed line
// numbers.
func (c *Chunker) build(projectID, filePath string, lines []string, start, end int, lang core.Language, fileHash string, now time.Time) *core.CodeChunk {
	content := strings.Join(lines[start:end], "\n")
	return &core.CodeChunk{
		ID:             core.NewID(),
		ProjectID:      projectID,
		FilePath:       filePath,
		Content:        content,
		Language:       lang,
		Type:           determineChunkType(content, lang),
		Symbols:        extractSymbols(lines[start:end], lang),
		StartLine:      start + 1,
		EndLine:        end,
		FileHash:       fileHash,
		IndexedAt:      now,
		TokensEstimate: len(content) / core.CharsPerToken,
	}
}
