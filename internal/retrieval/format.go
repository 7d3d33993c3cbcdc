package retrieval

import (
	"fmt"
	"strings"
)

// Text rendering for agent consumption: XML-like tags, stable attribute
// order, language-tagged code fences. The layout is deterministic so
// downstream prompts can rely on it.

func renderExploreText(resp *ExploreResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<explore code=%q memory=%q docs=%q>\n",
		itoa(resp.Counts.Code), itoa(resp.Counts.Memory), itoa(resp.Counts.Doc))

	for _, r := range resp.Results {
		renderResult(&sb, r)
	}

	if len(resp.Suggestions) > 0 {
		fmt.Fprintf(&sb, "  <suggestions>%s</suggestions>\n", strings.Join(resp.Suggestions, ", "))
	}
	sb.WriteString("</explore>")
	return sb.String()
}

func renderResult(sb *strings.Builder, r *Result) {
	switch r.ResultType {
	case ResultCode:
		fmt.Fprintf(sb, "  <code id=%q file=%q lines=\"%d-%d\" score=%q>\n",
			r.ID, r.File, lineAt(r.Lines, 0), lineAt(r.Lines, 1), score(r.Score))
		if len(r.Symbols) > 0 {
			fmt.Fprintf(sb, "    <symbols>%s</symbols>\n", strings.Join(r.Symbols, ", "))
		}
		renderHints(sb, r.Hints)
		fmt.Fprintf(sb, "    <preview>%s</preview>\n", r.Preview)
	case ResultMemory:
		fmt.Fprintf(sb, "  <memory id=%q sector=%q score=%q>\n", r.ID, r.Sector, score(r.Score))
		renderHints(sb, r.Hints)
		fmt.Fprintf(sb, "    <preview>%s</preview>\n", r.Preview)
	case ResultDoc:
		fmt.Fprintf(sb, "  <doc id=%q source=%q score=%q>\n", r.ID, r.File, score(r.Score))
		renderHints(sb, r.Hints)
		fmt.Fprintf(sb, "    <preview>%s</preview>\n", r.Preview)
	}
	if r.Context != nil {
		renderContextBlock(sb, r.Context, "    ")
	}
	fmt.Fprintf(sb, "  </%s>\n", r.ResultType)
}

func renderHints(sb *strings.Builder, h Hints) {
	var parts []string
	add := func(name string, v *int) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%d", name, *v))
		}
	}
	// Stable order.
	add("callers", h.Callers)
	add("callees", h.Callees)
	add("siblings", h.Siblings)
	add("related_memories", h.RelatedMemories)
	add("relationships_in", h.RelationshipsIn)
	add("relationships_out", h.RelationshipsOut)
	add("timeline_depth", h.TimelineDepth)
	add("total_chunks", h.TotalChunks)
	if len(parts) > 0 {
		fmt.Fprintf(sb, "    <hints %s/>\n", strings.Join(parts, " "))
	}
}

func renderContextText(resp *ContextResponse) string {
	var sb strings.Builder
	sb.WriteString("<context>\n")
	for _, block := range resp.Contexts {
		renderContextBlock(&sb, block, "  ")
	}
	sb.WriteString("</context>")
	return sb.String()
}

func renderContextBlock(sb *strings.Builder, c *Context, indent string) {
	switch c.ResultType {
	case ResultCode:
		fmt.Fprintf(sb, "%s<code id=%q file=%q lines=\"%d-%d\">\n",
			indent, c.ID, c.File, lineAt(c.Lines, 0), lineAt(c.Lines, 1))
		if c.Signature != "" {
			fmt.Fprintf(sb, "%s  <signature>%s</signature>\n", indent, c.Signature)
		}
		fmt.Fprintf(sb, "%s```%s\n%s\n%s```\n", indent, c.Language, c.Content, indent)
		renderNeighbors(sb, "callers", c.Callers, indent+"  ")
		renderNeighbors(sb, "callees", c.Callees, indent+"  ")
		renderNeighbors(sb, "siblings", c.Siblings, indent+"  ")
		renderNeighbors(sb, "memories", c.Memories, indent+"  ")
		fmt.Fprintf(sb, "%s</code>\n", indent)
	case ResultMemory:
		fmt.Fprintf(sb, "%s<memory id=%q sector=%q>\n", indent, c.ID, c.Sector)
		fmt.Fprintf(sb, "%s  %s\n", indent, c.Content)
		if c.Timeline != nil {
			renderNeighbors(sb, "before", c.Timeline.Before, indent+"  ")
			renderNeighbors(sb, "after", c.Timeline.After, indent+"  ")
		}
		renderNeighbors(sb, "related", c.Related, indent+"  ")
		fmt.Fprintf(sb, "%s</memory>\n", indent)
	case ResultDoc:
		fmt.Fprintf(sb, "%s<doc id=%q source=%q chunk=%q>\n", indent, c.ID, c.File, itoa(deref(c.ChunkIndex)))
		fmt.Fprintf(sb, "%s  %s\n", indent, c.Content)
		renderNeighbors(sb, "before", c.Before, indent+"  ")
		renderNeighbors(sb, "after", c.After, indent+"  ")
		fmt.Fprintf(sb, "%s</doc>\n", indent)
	}
}

func renderNeighbors(sb *strings.Builder, tag string, neighbors []Neighbor, indent string) {
	if len(neighbors) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s<%s>\n", indent, tag)
	for _, n := range neighbors {
		if n.File != "" && len(n.Lines) == 2 {
			fmt.Fprintf(sb, "%s  <ref id=%q file=%q lines=\"%d-%d\">%s</ref>\n",
				indent, n.ID, n.File, n.Lines[0], n.Lines[1], n.Preview)
		} else {
			fmt.Fprintf(sb, "%s  <ref id=%q>%s</ref>\n", indent, n.ID, n.Preview)
		}
	}
	fmt.Fprintf(sb, "%s</%s>\n", indent, tag)
}

func lineAt(lines []int, i int) int {
	if i < len(lines) {
		return lines[i]
	}
	return 0
}

func score(v float64) string { return fmt.Sprintf("%.3f", v) }

func itoa(v int) string { return fmt.Sprintf("%d", v) }

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
