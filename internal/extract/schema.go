package extract

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ppiankov/verbatim/internal/llm"
)

// Response shape: {page_start?, page_end?, quotes: [...]}. Optional fields
// may be null.
var responseSchema = mustSchema(`{
  "type": "object",
  "required": ["quotes"],
  "properties": {
    "page_start": {"type": ["integer", "null"]},
    "page_end": {"type": ["integer", "null"]},
    "quotes": {"type": "array"}
  }
}`)

// One quote. Only the quote text is mandatory; the rest has usable defaults.
var quoteSchema = mustSchema(`{
  "type": "object",
  "required": ["quote"],
  "properties": {
    "quote": {"type": "string"},
    "category": {"type": ["string", "null"]},
    "tags": {"type": ["array", "null"], "items": {"type": "string"}},
    "page_start": {"type": ["integer", "null"]},
    "page_end": {"type": ["integer", "null"]}
  }
}`)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// valid reports whether raw conforms to schema, with the first violation
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

type rawQuote struct {
	Quote     string   `json:"quote"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	PageStart *int     `json:"page_start"`
	PageEnd   *int     `json:"page_end"`
}

// parsed is the outcome of reading one service response
type parsed struct {
	quotes    []rawQuote
	dropped   int    // items that failed the quote schema
	malformed string // why the response as a whole was unusable
}

// parseResponse reads a response as one JSON object; failing that, each line
// that looks like a JSON object is tried as a single quote
func parseResponse(text string) parsed {
	body := []byte(llm.StripFences(text))

	if json.Valid(body) {
		if ok, why := valid(responseSchema, body); !ok {
			return parsed{malformed: "schema: " + why}
		}
		var doc struct {
			Quotes []json.RawMessage `json:"quotes"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return parsed{malformed: err.Error()}
		}
		return decodeQuotes(doc.Quotes)
	}

	var items []json.RawMessage
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") && json.Valid([]byte(line)) {
			items = append(items, json.RawMessage(line))
		}
	}
	if len(items) == 0 {
		return parsed{malformed: "response is not JSON"}
	}
	return decodeQuotes(items)
}

func decodeQuotes(items []json.RawMessage) parsed {
	var out parsed
	for _, item := range items {
		if ok, _ := valid(quoteSchema, item); !ok {
			out.dropped++
			continue
		}
		var q rawQuote
		if err := json.Unmarshal(item, &q); err != nil {
			out.dropped++
			continue
		}
		out.quotes = append(out.quotes, q)
	}
	return out
}
