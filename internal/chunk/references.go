package chunk

import (
	"regexp"
	"strings"
	"time"

	"github.com/ccengram/ccengram/internal/core"
)

// Reference extraction is a lightweight lexical pass: it finds call sites,
// imports, and type references inside a chunk and emits unresolved edges.
// Target chunk ids are back-filled later by the store's resolver.

var (
	callSite = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

	goImport     = regexp.MustCompile(`^\s*(?:import\s+)?_?\s*"([^"]+)"`)
	rustUse      = regexp.MustCompile(`^\s*use\s+([A-Za-z_][A-Za-z0-9_:]*)`)
	pyImport     = regexp.MustCompile(`^\s*(?:import|from)\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	jsImport     = regexp.MustCompile(`^\s*import\s+.*?from\s+['"]([^'"]+)['"]`)
	jsImportBare = regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"]`)

	goTypeRef   = regexp.MustCompile(`\*?([A-Z][A-Za-z0-9_]*)\{`)
	rustTypeRef = regexp.MustCompile(`([A-Z][A-Za-z0-9_]*)::`)
)

// Language keywords that look like call sites but are not.
var callKeywords = map[string]struct{}{
	"if": {}, "for": {}, "while": {}, "switch": {}, "return": {},
	"func": {}, "fn": {}, "def": {}, "match": {}, "catch": {},
	"make": {}, "new": {}, "len": {}, "cap": {}, "append": {}, "copy": {},
	"print": {}, "println": {}, "panic": {}, "defer": {}, "go": {},
	"range": {}, "select": {}, "delete": {},
}

// ExtractReferences finds symbol-use edges inside a chunk. Self-references
// (calls to symbols declared in the same chunk) are skipped.
func ExtractReferences(c *core.CodeChunk) []*core.CodeReference {
	own := make(map[string]struct{}, len(c.Symbols))
	for _, s := range c.Symbols {
		own[s] = struct{}{}
	}

	now := time.Now().UTC()
	var refs []*core.CodeReference
	seen := make(map[string]struct{})

	add := func(symbol string, kind core.ReferenceType) {
		if symbol == "" {
			return
		}
		if _, self := own[symbol]; self {
			return
		}
		key := symbol + "\x00" + string(kind)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		refs = append(refs, &core.CodeReference{
			ID:            core.NewID(),
			ProjectID:     c.ProjectID,
			SourceChunkID: c.ID,
			TargetSymbol:  symbol,
			Type:          kind,
			CreatedAt:     now,
		})
	}

	for _, line := range strings.Split(c.Content, "\n") {
		if imp := extractImport(line, c.Language); imp != "" {
			add(imp, core.ReferenceTypeImport)
			continue
		}

		for _, m := range callSite.FindAllStringSubmatch(line, -1) {
			name := m[1]
			if _, kw := callKeywords[name]; kw {
				continue
			}
			add(name, core.ReferenceTypeCall)
		}

		for _, re := range typeRefPatterns(c.Language) {
			for _, m := range re.FindAllStringSubmatch(line, -1) {
				add(m[1], core.ReferenceTypeTypeRef)
			}
		}
	}
	return refs
}

func extractImport(line string, lang core.Language) string {
	switch lang {
	case core.LangGo:
		if m := goImport.FindStringSubmatch(line); m != nil {
			// Reference the package by its final path element.
			parts := strings.Split(m[1], "/")
			return parts[len(parts)-1]
		}
	case core.LangRust:
		if m := rustUse.FindStringSubmatch(line); m != nil {
			parts := strings.Split(m[1], "::")
			return parts[0]
		}
	case core.LangPython:
		if m := pyImport.FindStringSubmatch(line); m != nil {
			parts := strings.Split(m[1], ".")
			return parts[0]
		}
	case core.LangTypeScript, core.LangJavaScript:
		if m := jsImport.FindStringSubmatch(line); m != nil {
			return moduleBase(m[1])
		}
		if m := jsImportBare.FindStringSubmatch(line); m != nil {
			return moduleBase(m[1])
		}
	}
	return ""
}

func moduleBase(spec string) string {
	spec = strings.TrimPrefix(spec, "./")
	parts := strings.Split(spec, "/")
	return parts[len(parts)-1]
}

func typeRefPatterns(lang core.Language) []*regexp.Regexp {
	switch lang {
	case core.LangGo:
		return []*regexp.Regexp{goTypeRef}
	case core.LangRust:
		return []*regexp.Regexp{rustTypeRef}
	default:
		return nil
	}
}
