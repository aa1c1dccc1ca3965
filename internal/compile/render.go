package compile

import (
	"fmt"
	"strings"

	"github.com/ppiankov/verbatim/internal/model"
)

// Render produces the markdown for one bundle: every quote verbatim as a
// blockquote followed by its citation
func Render(b *Bundle) string {
	var sb strings.Builder

	if b.Heading != "" {
		fmt.Fprintf(&sb, "# %s\n\n", b.Heading)
		fmt.Fprintf(&sb, "_%s · %d quotes_\n\n", b.Key, len(b.Quotes))
	} else {
		fmt.Fprintf(&sb, "# %s\n\n", b.Key)
	}

	for i, q := range b.Quotes {
		if i > 0 {
			sb.WriteString("\n")
		}
		for _, line := range strings.Split(q.Quote, "\n") {
			if line == "" {
				sb.WriteString(">\n")
				continue
			}
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		sb.WriteString(Citation(q))
		sb.WriteString("\n")

		if seen := alsoSeen(q); seen != "" {
			sb.WriteString("Also seen: ")
			sb.WriteString(seen)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Citation formats where a quote was first seen, e.g. "[p.3-4] notes.pdf"
func Citation(q model.QuoteRecord) string {
	start, end := q.PageStart, q.PageEnd
	if start == 0 && end == 0 {
		start, end = q.Locator.PageStart, q.Locator.PageEnd
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[p.%d-%d]", start, end)
	if q.Locator.File != "" {
		sb.WriteString(" ")
		sb.WriteString(q.Locator.File)
	}
	if q.Locator.Conversation != "" {
		fmt.Fprintf(&sb, " (%s)", q.Locator.Conversation)
	}
	return sb.String()
}

func alsoSeen(q model.QuoteRecord) string {
	if len(q.Provenance) < 2 {
		return ""
	}
	parts := make([]string, 0, len(q.Provenance)-1)
	for _, loc := range q.Provenance[1:] {
		parts = append(parts, loc.String())
	}
	return strings.Join(parts, "; ")
}

// RenderIndex lists every bundle with a link relative to the bundle directory
func RenderIndex(c *Compilation) string {
	var sb strings.Builder
	sb.WriteString("# Quote Bundles\n\n")
	for _, b := range c.Bundles {
		fmt.Fprintf(&sb, "- **%s** → [%s.md](%s.md) (%d)", b.Key, b.Slug, b.Slug, len(b.Quotes))
		if b.Heading != "" {
			fmt.Fprintf(&sb, " · %s", b.Heading)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
