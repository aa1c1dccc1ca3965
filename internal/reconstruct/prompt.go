package reconstruct

import (
	"fmt"
	"strings"

	"github.com/ppiankov/verbatim/internal/llm"
)

const systemPrompt = `You reconstruct products from quoted evidence.

From the numbered quotes below, infer the distinct apps and tools the author conceived, started or built. Do not invent capabilities the quotes do not suggest.

Return exactly one JSON object with key "apps" -> array of objects with:
- title: short generated name, at most 6 words
- summary: 1-2 sentences grounded in the quotes
- status: one of idea, prototype, partial, built, unknown
- evidence_ids: ids of the supporting quotes, e.g. ["E1", "E4"]
- names_detected: proper names or brands mentioned in the evidence
- evidence_quotes: 1-3 representative quotes copied verbatim

Rules:
- You may rephrase in title and summary but stay faithful to the evidence.
- Merge near-duplicates into one item.
- If evidence is thin, use status "unknown".
- If no app or tool is mentioned return {"apps": []}.`

// evidenceID names the i-th quote of a batch in prompts
func evidenceID(i int) string {
	return fmt.Sprintf("E%d", i+1)
}

// Request builds the inference request for one batch
func Request(b Batch, maxTokens int) llm.Request {
	var sb strings.Builder
	sb.WriteString("EVIDENCE:\n")
	for i, q := range b.Quotes {
		fmt.Fprintf(&sb, "\n[%s] [p.%d-%d]", evidenceID(i), q.PageStart, q.PageEnd)
		if q.Locator.File != "" {
			sb.WriteString(" ")
			sb.WriteString(q.Locator.File)
		}
		sb.WriteString("\n")
		sb.WriteString(q.Quote)
		sb.WriteString("\n")
	}
	return llm.Request{
		System:    systemPrompt,
		Prompt:    sb.String(),
		MaxTokens: maxTokens,
		JSON:      true,
	}
}
