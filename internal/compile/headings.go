package compile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/llm"
	"github.com/ppiankov/verbatim/internal/verify"
)

const headingPrompt = `You title a group of verbatim quotes that share a theme.

Rules:
- Write one short descriptive heading of at most 8 words.
- Describe the theme in your own words. Never copy wording from the quotes and never use quotation marks.
- Do not add any other text.

Return a JSON object {"heading": "..."}.`

// Headings longer than this are rejected outright
const maxHeadingRunes = 120

// A heading sharing this many consecutive words with a quote reproduces it
const sharedWordRun = 6

var headingSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["heading"],
  "properties": {"heading": {"type": "string"}}
}`))
	if err != nil {
		panic(err)
	}
	return s
}()

// Completer is the part of a provider the heading writer needs
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// HeadingResult reports one heading call
type HeadingResult struct {
	Heading      string
	Rejected     string // why a proposed heading was discarded
	InputTokens  int
	OutputTokens int
}

// HeadingWriter asks the inference service for bundle headings and keeps
// only headings that carry no quote text
type HeadingWriter struct {
	llm       Completer
	maxTokens int
	logger    *zap.Logger
}

// NewHeadingWriter creates a heading writer
func NewHeadingWriter(c Completer, maxTokens int, logger *zap.Logger) *HeadingWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeadingWriter{llm: c, maxTokens: maxTokens, logger: logger}
}

// HeadingRequest builds the service request for one bundle
func HeadingRequest(b *Bundle, maxTokens int) llm.Request {
	var sb strings.Builder
	fmt.Fprintf(&sb, "GROUP: %s\n\nQUOTES:\n\n", b.Key)
	for i, q := range b.Quotes {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s\n%s", Citation(q), q.Quote)
	}
	return llm.Request{
		System:    headingPrompt,
		Prompt:    sb.String(),
		MaxTokens: maxTokens,
		JSON:      true,
	}
}

// Write proposes a heading for b and sets b.Heading when it is safe. A
// rejected or unparseable heading is not an error; the bundle simply keeps
// its key as title.
func (h *HeadingWriter) Write(ctx context.Context, b *Bundle) (HeadingResult, error) {
	resp, err := h.llm.Complete(ctx, HeadingRequest(b, h.maxTokens))
	if err != nil {
		return HeadingResult{}, fmt.Errorf("heading for %s: %w", b.Key, err)
	}

	res := HeadingResult{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}

	heading, why := parseHeading(resp.Text)
	if why == "" {
		why = unsafeHeading(heading, b)
	}
	if why != "" {
		res.Rejected = why
		h.logger.Warn("heading discarded",
			zap.String("group", b.Key.String()),
			zap.String("heading", heading),
			zap.String("reason", why))
		return res, nil
	}

	b.Heading = heading
	res.Heading = heading
	return res, nil
}

func parseHeading(text string) (string, string) {
	body := []byte(llm.StripFences(text))
	result, err := headingSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return "", "response is not JSON"
	}
	if !result.Valid() {
		return "", "schema: " + result.Errors()[0].String()
	}

	var doc struct {
		Heading string `json:"heading"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", err.Error()
	}
	heading := strings.Join(strings.Fields(doc.Heading), " ")
	heading = strings.TrimSpace(strings.TrimLeft(heading, "# "))
	return heading, ""
}

// unsafeHeading returns why a heading may not be used for b, or ""
func unsafeHeading(heading string, b *Bundle) string {
	if heading == "" {
		return "empty"
	}
	if utf8.RuneCountInString(heading) > maxHeadingRunes {
		return "too long"
	}
	if strings.ContainsAny(heading, "\"“”„«»") {
		return "contains quotation marks"
	}

	h := verify.Canonical(heading, false)
	hw := words(h)
	for _, q := range b.Quotes {
		qc := verify.Canonical(q.Quote, false)
		if qc != "" && strings.Contains(h, qc) {
			return "contains quote text"
		}
		if sharesRun(hw, words(qc), sharedWordRun) {
			return "reuses quote wording"
		}
	}
	return ""
}

// words splits text into lowercase words with surrounding punctuation removed
func words(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// sharesRun reports whether a and b have n consecutive words in common
func sharesRun(a, b []string, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	grams := make(map[string]struct{}, len(b)-n+1)
	for i := 0; i+n <= len(b); i++ {
		grams[strings.Join(b[i:i+n], " ")] = struct{}{}
	}
	for i := 0; i+n <= len(a); i++ {
		if _, ok := grams[strings.Join(a[i:i+n], " ")]; ok {
			return true
		}
	}
	return false
}
