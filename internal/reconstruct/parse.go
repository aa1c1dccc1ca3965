package reconstruct

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ppiankov/verbatim/internal/llm"
	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/verify"
)

var responseSchema = mustSchema(`{
  "type": "object",
  "required": ["apps"],
  "properties": {"apps": {"type": "array"}}
}`)

var appSchema = mustSchema(`{
  "type": "object",
  "required": ["title"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "summary": {"type": "string"},
    "status": {"type": "string"},
    "evidence_ids": {"type": "array", "items": {"type": ["string", "integer"]}},
    "evidence_pages": {"type": "array"},
    "names_detected": {"type": "array", "items": {"type": "string"}},
    "evidence_quotes": {"type": "array", "items": {"type": "string"}}
  }
}`)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

func valid(schema *gojsonschema.Schema, raw []byte) (bool, string) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return false, err.Error()
	}
	if result.Valid() {
		return true, ""
	}
	if errs := result.Errors(); len(errs) > 0 {
		return false, errs[0].String()
	}
	return false, "invalid"
}

type rawApp struct {
	Title          string            `json:"title"`
	Summary        string            `json:"summary"`
	Status         string            `json:"status"`
	EvidenceIDs    []json.RawMessage `json:"evidence_ids"`
	NamesDetected  []string          `json:"names_detected"`
	EvidenceQuotes []string          `json:"evidence_quotes"`
}

// parsedBatch is what one response yielded
type parsedBatch struct {
	drafts    []model.Entity
	dropped   int    // apps that failed the schema or had no resolvable evidence
	malformed string // why the whole response was unusable
}

// parseResponse turns a response into draft entities whose evidence is
// resolved against the batch. Drafts citing nothing in the batch are dropped:
// every entity must be backed by at least one stored quote.
func parseResponse(text string, b Batch, caseSensitive bool) parsedBatch {
	body := []byte(llm.StripFences(text))
	if !json.Valid(body) {
		return parsedBatch{malformed: "response is not JSON"}
	}
	if ok, why := valid(responseSchema, body); !ok {
		return parsedBatch{malformed: "schema: " + why}
	}

	var doc struct {
		Apps []json.RawMessage `json:"apps"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return parsedBatch{malformed: err.Error()}
	}

	r := newResolver(b, caseSensitive)
	var out parsedBatch
	for _, item := range doc.Apps {
		if ok, _ := valid(appSchema, item); !ok {
			out.dropped++
			continue
		}
		var app rawApp
		if err := json.Unmarshal(item, &app); err != nil {
			out.dropped++
			continue
		}

		evidence := r.resolve(app)
		if len(evidence) == 0 {
			out.dropped++
			continue
		}
		out.drafts = append(out.drafts, model.Entity{
			Title:         strings.TrimSpace(app.Title),
			Summary:       strings.TrimSpace(app.Summary),
			Status:        model.ParseStatus(app.Status),
			Evidence:      evidence,
			NamesDetected: cleanNames(app.NamesDetected),
		})
	}
	return out
}

// resolver maps evidence references in a response back to batch quotes
type resolver struct {
	batch         Batch
	caseSensitive bool
	canonical     []string
}

func newResolver(b Batch, caseSensitive bool) *resolver {
	r := &resolver{batch: b, caseSensitive: caseSensitive, canonical: make([]string, len(b.Quotes))}
	for i, q := range b.Quotes {
		r.canonical[i] = verify.Canonical(q.Quote, caseSensitive)
	}
	return r
}

// Evidence quotes shorter than this are too vague to match inside a longer quote
const minEvidenceRunes = 12

func (r *resolver) resolve(app rawApp) []model.EntityEvidence {
	picked := make(map[int]bool)

	for _, raw := range app.EvidenceIDs {
		if i, ok := r.index(raw); ok {
			picked[i] = true
		}
	}

	for _, eq := range app.EvidenceQuotes {
		c := verify.Canonical(eq, r.caseSensitive)
		if c == "" {
			continue
		}
		for i, qc := range r.canonical {
			if qc == c || (utf8.RuneCountInString(c) >= minEvidenceRunes && strings.Contains(qc, c)) {
				picked[i] = true
			}
		}
	}

	var out []model.EntityEvidence
	for i, q := range r.batch.Quotes {
		if picked[i] {
			out = append(out, evidenceOf(q))
		}
	}
	return out
}

// index reads an evidence id given as "E3", "3" or 3
func (r *resolver) index(raw json.RawMessage) (int, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, false
		}
		s = strconv.Itoa(n)
	}
	s = strings.TrimPrefix(strings.ToUpper(strings.Trim(strings.TrimSpace(s), "[]")), "E")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > len(r.batch.Quotes) {
		return 0, false
	}
	return n - 1, true
}

// evidenceOf cites a quote at its own pages inside the chunk it came from
func evidenceOf(q model.QuoteRecord) model.EntityEvidence {
	loc := q.Locator
	if q.PageStart > 0 && q.PageEnd >= q.PageStart {
		loc.PageStart, loc.PageEnd = q.PageStart, q.PageEnd
	}
	return model.EntityEvidence{Locator: loc, Quote: q.Quote}
}

func cleanNames(names []string) []string {
	var out []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
