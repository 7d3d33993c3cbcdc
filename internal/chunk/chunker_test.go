package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccengram/ccengram/internal/core"
)

const projectID = "abcd1234abcd1234"

func TestSmallFileSingleChunk(t *testing.T) {
	src := "package main\n\nfunc main() {\n\tprintln(1)\n}\n"
	chunks := New(DefaultConfig()).Chunk(projectID, "main.go", src, core.LangGo, "hash")

	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 5, chunks[0].EndLine)
	assert.Contains(t, chunks[0].Symbols, "main")
	assert.Equal(t, "hash", chunks[0].FileHash)
}

func TestEmptyFileNoChunks(t *testing.T) {
	chunks := New(DefaultConfig()).Chunk(projectID, "empty.go", "", core.LangGo, "h")
	assert.Empty(t, chunks)
}

// Rust file with fn a at line 5, fn b at line 60, fn c at line 115, 150
// lines total: boundaries align to function starts and symbols distribute
// accordingly.
func TestRustBoundaryAlignment(t *testing.T) {
	lines := make([]string, 150)
	for i := range lines {
		lines[i] = fmt.Sprintf("  // line %d", i+1)
	}
	lines[4] = "fn a() {}"
	lines[59] = "fn b() {}"
	lines[114] = "fn c() {}"
	src := strings.Join(lines, "\n")

	chunks := New(DefaultConfig()).Chunk(projectID, "lib.rs", src, core.LangRust, "h")

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		linesInChunk := c.EndLine - c.StartLine + 1
		assert.GreaterOrEqual(t, linesInChunk, 10)
		assert.LessOrEqual(t, linesInChunk, 100)
		if c.StartLine > 1 {
			// Every non-initial chunk begins at a declaration.
			first := lines[c.StartLine-1]
			assert.True(t, strings.HasPrefix(first, "fn "), "chunk at %d starts with %q", c.StartLine, first)
		}
	}

	all := map[string]bool{}
	for _, c := range chunks {
		for _, s := range c.Symbols {
			all[s] = true
		}
	}
	assert.True(t, all["a"] && all["b"] && all["c"])

	// Symbols a and b land in earlier chunks than c.
	var cChunk *core.CodeChunk
	for _, ch := range chunks {
		for _, s := range ch.Symbols {
			if s == "c" {
				cChunk = ch
			}
		}
	}
	require.NotNil(t, cChunk)
	assert.GreaterOrEqual(t, cChunk.StartLine, 115-50)
}

func TestNoBoundariesEvenSplit(t *testing.T) {
	lines := make([]string, 175)
	for i := range lines {
		lines[i] = fmt.Sprintf("data line %d", i+1)
	}
	src := strings.Join(lines, "\n")

	chunks := New(DefaultConfig()).Chunk(projectID, "notes.txt", src, core.LangText, "h")

	require.NotEmpty(t, chunks, "non-empty input never yields zero chunks")
	covered := 0
	for _, c := range chunks {
		covered += c.EndLine - c.StartLine + 1
	}
	assert.GreaterOrEqual(t, covered, 175, "chunks must cover the file")
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 175, chunks[len(chunks)-1].EndLine)
}

func TestCoverageInvariant(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 260; i++ {
		if i%40 == 0 {
			fmt.Fprintf(&sb, "func f%d() {\n", i)
		} else {
			fmt.Fprintf(&sb, "\tx := %d\n", i)
		}
	}
	src := sb.String()
	total := len(strings.Split(strings.TrimSuffix(src, "\n"), "\n"))

	chunks := New(DefaultConfig()).Chunk(projectID, "gen.go", src, core.LangGo, "h")
	covered := 0
	for _, c := range chunks {
		covered += c.EndLine - c.StartLine + 1
	}
	assert.GreaterOrEqual(t, covered, total)
}

func TestChunkTypeInference(t *testing.T) {
	src := "func a() {}\nfunc b() {}\ntype T struct{}\n"
	chunks := New(DefaultConfig()).Chunk(projectID, "x.go", src, core.LangGo, "h")
	require.Len(t, chunks, 1)
	assert.Equal(t, core.ChunkTypeFunction, chunks[0].Type)
}

func TestTokensEstimate(t *testing.T) {
	src := strings.Repeat("abcd", 25) // 100 chars
	chunks := New(DefaultConfig()).Chunk(projectID, "x.txt", src, core.LangText, "h")
	require.Len(t, chunks, 1)
	assert.Equal(t, 25, chunks[0].TokensEstimate)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, core.LangGo, DetectLanguage("a/b/c.go"))
	assert.Equal(t, core.LangRust, DetectLanguage("src/lib.rs"))
	assert.Equal(t, core.LangTypeScript, DetectLanguage("app.tsx"))
	assert.Equal(t, core.LangText, DetectLanguage("README"))
}

func TestTypeScriptConstArrowBoundary(t *testing.T) {
	name, ok := isBoundary("export const handler = async (req) => {", core.LangTypeScript)
	assert.True(t, ok)
	assert.Equal(t, "handler", name)
}

func TestExtractReferences(t *testing.T) {
	c := &core.CodeChunk{
		ID:        core.NewID(),
		ProjectID: projectID,
		FilePath:  "svc.go",
		Language:  core.LangGo,
		Symbols:   []string{"Serve"},
		Content: strings.Join([]string{
			`import "github.com/example/pkg/store"`,
			"func Serve() {",
			"\tresult := Lookup(key)",
			"\tcfg := Config{Port: 1}",
			"\tServe()", // self call, skipped
			"}",
		}, "\n"),
	}

	refs := ExtractReferences(c)

	byKind := map[core.ReferenceType][]string{}
	for _, r := range refs {
		byKind[r.Type] = append(byKind[r.Type], r.TargetSymbol)
		assert.Equal(t, c.ID, r.SourceChunkID)
		assert.Empty(t, r.TargetChunkID, "targets start unresolved")
	}

	assert.Contains(t, byKind[core.ReferenceTypeImport], "store")
	assert.Contains(t, byKind[core.ReferenceTypeCall], "Lookup")
	assert.Contains(t, byKind[core.ReferenceTypeTypeRef], "Config")
	assert.NotContains(t, byKind[core.ReferenceTypeCall], "Serve")
}

func TestExtractReferencesDedupes(t *testing.T) {
	c := &core.CodeChunk{
		ID: core.NewID(), ProjectID: projectID, Language: core.LangGo,
		Content: "Lookup(1)\nLookup(2)\nLookup(3)",
	}
	refs := ExtractReferences(c)
	require.Len(t, refs, 1)
	assert.Equal(t, "Lookup", refs[0].TargetSymbol)
}
