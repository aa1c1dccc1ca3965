package reconstruct

import (
	"fmt"
	"strings"

	"github.com/ppiankov/verbatim/internal/model"
)

// Render produces the markdown inventory of entities
func Render(entities []model.Entity) string {
	var sb strings.Builder
	sb.WriteString("# Apps & Tools Reconstruction\n")

	for _, e := range entities {
		fmt.Fprintf(&sb, "\n## %s\n", e.Title)
		fmt.Fprintf(&sb, "**Status:** %s\n", e.Status)
		fmt.Fprintf(&sb, "**Locators:** %s\n", locators(e.Evidence))
		if e.Summary != "" {
			fmt.Fprintf(&sb, "**Summary:** %s\n", e.Summary)
		}
		if len(e.NamesDetected) > 0 {
			fmt.Fprintf(&sb, "**Names detected:** %s\n", strings.Join(e.NamesDetected, ", "))
		}
		if len(e.Evidence) > 0 {
			sb.WriteString("**Evidence quotes:**\n")
			for _, ev := range e.Evidence {
				fmt.Fprintf(&sb, "- %s [%s]\n", oneLine(ev.Quote), ev.Locator)
			}
		}
	}
	return sb.String()
}

func locators(evidence []model.EntityEvidence) string {
	seen := make(map[string]bool)
	var out []string
	for _, ev := range evidence {
		s := ev.Locator.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return strings.Join(out, ", ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
