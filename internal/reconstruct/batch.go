package reconstruct

import (
	"unicode/utf8"

	"github.com/ppiankov/verbatim/internal/model"
)

// Batch is one bounded group of quotes sent in a single inference call
type Batch struct {
	Index  int
	Quotes []model.QuoteRecord
}

// Batches splits quotes into consecutive batches of at most size quotes and
// roughly maxChars characters of quote text. A single quote longer than
// maxChars still gets a batch of its own.
func Batches(quotes []model.QuoteRecord, size, maxChars int) []Batch {
	if size <= 0 {
		size = 150
	}

	var (
		out   []Batch
		cur   []model.QuoteRecord
		chars int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, Batch{Index: len(out), Quotes: cur})
		cur, chars = nil, 0
	}

	for _, q := range quotes {
		n := utf8.RuneCountInString(q.Quote)
		if len(cur) >= size || (maxChars > 0 && len(cur) > 0 && chars+n > maxChars) {
			flush()
		}
		cur = append(cur, q)
		chars += n
	}
	flush()
	return out
}
