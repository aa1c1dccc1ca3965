package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/verbatim/internal/model"
)

const previewRunes = 80

var indexHeader = []string{"quote", "category", "tags", "locator", "page_start", "page_end", "top_tag", "preview"}

// WriteIndex regenerates the tabular quote index from the full record set
func WriteIndex(path string, records []model.QuoteRecord) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(indexHeader); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.Quote,
			r.CategoryOrUntagged(),
			strings.Join(r.Tags, "; "),
			r.Locator.String(),
			strconv.Itoa(r.PageStart),
			strconv.Itoa(r.PageEnd),
			r.LeadTag(),
			preview(r.Quote),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write index row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return WriteFile(path, buf.Bytes())
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes]) + "..."
}
