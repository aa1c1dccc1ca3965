package extract

import "fmt"

const systemPrompt = `You extract verbatim quotes from the source text you are given.

Rules:
- Copy every quote character for character from the text. Do not fix typos, paraphrase, merge sentences or add words.
- Never include the page markers such as [p.3] inside a quote.
- Prefer complete sentences or short passages that stand on their own: ideas, decisions, plans, opinions, memorable lines.
- For each quote give a short lowercase category and an ordered list of tags, most important tag first.
- page_start and page_end are the [p.N] markers the quote appears under.

Return a JSON object with key "quotes" -> array of {"page_start", "page_end", "category", "tags", "quote"}.
If nothing is worth quoting return {"quotes": []}.`

// instructions adds the chunk's page range to the system prompt
func instructions(pageStart, pageEnd int) string {
	return systemPrompt + fmt.Sprintf("\nChunk pages: %d-%d. Output ONLY the JSON object.", pageStart, pageEnd)
}
