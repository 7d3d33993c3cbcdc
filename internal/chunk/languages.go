// Package chunk turns source files into line-aligned retrieval units. The
// chunker walks language-specific declaration boundaries and accumulates
// lines toward a target size; symbols and symbol-use references are
// extracted over the same line ranges.
package chunk

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ccengram/ccengram/internal/core"
)

var extToLanguage = map[string]core.Language{
	".go":    core.LangGo,
	".rs":    core.LangRust,
	".py":    core.LangPython,
	".ts":    core.LangTypeScript,
	".tsx":   core.LangTypeScript,
	".js":    core.LangJavaScript,
	".jsx":   core.LangJavaScript,
	".mjs":   core.LangJavaScript,
	".md":    core.LangMarkdown,
	".json":  core.LangJSON,
	".yaml":  core.LangYAML,
	".yml":   core.LangYAML,
	".toml":  core.LangTOML,
	".sh":    core.LangShell,
	".bash":  core.LangShell,
	".c":     core.LangC,
	".h":     core.LangC,
	".cc":    core.LangCpp,
	".cpp":   core.LangCpp,
	".hpp":   core.LangCpp,
	".java":  core.LangJava,
	".rb":    core.LangRuby,
}

// DetectLanguage maps a file path to its language, defaulting to text.
func DetectLanguage(path string) core.Language {
	if lang, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return core.LangText
}

// IsSource reports whether the language participates in code indexing.
func IsSource(lang core.Language) bool {
	switch lang {
	case core.LangText, core.LangJSON, core.LangYAML, core.LangTOML:
		return false
	}
	return true
}

// Declaration recognizers. Each matches the first line of a top-level
// declaration and captures the declared name.
var (
	goBoundary = []*regexp.Regexp{
		regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)`),
	}
	rustBoundary = []*regexp.Regexp{
		regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?struct\s+([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?enum\s+([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^impl(?:<[^>]*>)?\s+(?:[A-Za-z_][A-Za-z0-9_:]*\s+for\s+)?([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?trait\s+([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?mod\s+([A-Za-z_][A-Za-z0-9_]*)`),
	}
	pythonBoundary = []*regexp.Regexp{
		regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`),
	}
	tsBoundary = []*regexp.Regexp{
		regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
		regexp.MustCompile(`^(?:export\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
		regexp.MustCompile(`^(?:export\s+)?interface\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
		regexp.MustCompile(`^(?:export\s+)?type\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
		regexp.MustCompile(`^(?:export\s+)?const\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s*)?\(`),
	}
)

func boundaryPatterns(lang core.Language) []*regexp.Regexp {
	switch lang {
	case core.LangGo:
		return goBoundary
	case core.LangRust:
		return rustBoundary
	case core.LangPython:
		return pythonBoundary
	case core.LangTypeScript, core.LangJavaScript:
		return tsBoundary
	default:
		// Languages without handlers yield no boundaries; files fall back
		// to even splits.
		return nil
	}
}

// isBoundary reports whether line starts a top-level declaration and
// returns the declared symbol.
func isBoundary(line string, lang core.Language) (string, bool) {
	for _, re := range boundaryPatterns(lang) {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// extractSymbols collects declared names over a slice of lines.
func extractSymbols(lines []string, lang core.Language) []string {
	var symbols []string
	seen := make(map[string]struct{})
	for _, line := range lines {
		if name, ok := isBoundary(line, lang); ok {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				symbols = append(symbols, name)
			}
		}
	}
	return symbols
}

// determineChunkType infers a chunk's kind from its dominant content.
func determineChunkType(content string, lang core.Language) core.ChunkType {
	counts := map[core.ChunkType]int{}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch lang {
		case core.LangGo:
			switch {
			case strings.HasPrefix(trimmed, "func "):
				counts[core.ChunkTypeFunction]++
			case strings.HasPrefix(trimmed, "type "):
				counts[core.ChunkTypeClass]++
			case strings.HasPrefix(trimmed, "import"):
				counts[core.ChunkTypeImport]++
			case strings.HasPrefix(trimmed, "package "):
				counts[core.ChunkTypeModule]++
			}
		case core.LangRust:
			switch {
			case strings.Contains(trimmed, "fn "):
				counts[core.ChunkTypeFunction]++
			case strings.HasPrefix(trimmed, "struct ") || strings.HasPrefix(trimmed, "enum ") ||
				strings.HasPrefix(trimmed, "trait ") || strings.HasPrefix(trimmed, "impl"):
				counts[core.ChunkTypeClass]++
			case strings.HasPrefix(trimmed, "use "):
				counts[core.ChunkTypeImport]++
			case strings.HasPrefix(trimmed, "mod "):
				counts[core.ChunkTypeModule]++
			}
		case core.LangPython:
			switch {
			case strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "async def "):
				counts[core.ChunkTypeFunction]++
			case strings.HasPrefix(trimmed, "class "):
				counts[core.ChunkTypeClass]++
			case strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from "):
				counts[core.ChunkTypeImport]++
			}
		case core.LangTypeScript, core.LangJavaScript:
			switch {
			case strings.Contains(trimmed, "function ") || strings.Contains(trimmed, "=> {"):
				counts[core.ChunkTypeFunction]++
			case strings.HasPrefix(trimmed, "class ") || strings.HasPrefix(trimmed, "interface "):
				counts[core.ChunkTypeClass]++
			case strings.HasPrefix(trimmed, "import "):
				counts[core.ChunkTypeImport]++
			}
		}
	}

	best := core.ChunkTypeBlock
	bestCount := 0
	// Deterministic tie-break: function > class > import > module.
	for _, kind := range []core.ChunkType{core.ChunkTypeFunction, core.ChunkTypeClass, core.ChunkTypeImport, core.ChunkTypeModule} {
		if counts[kind] > bestCount {
			best = kind
			bestCount = counts[kind]
		}
	}
	return best
}
