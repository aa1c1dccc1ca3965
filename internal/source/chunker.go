package source

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/verbatim/internal/model"
)

// Chunker packs consecutive pages into chunks of bounded size. Every page is
// prefixed with a "[p.N]" marker so the service can cite pages. A single page
// larger than the bound becomes its own chunk.
type Chunker struct {
	pages    PageReader
	maxChars int
	seq      int

	pending *model.Page // lookahead page that did not fit the previous chunk
	done    bool
}

// NewChunker wraps a page reader; chunk sequence numbers start at seq
func NewChunker(pages PageReader, maxChars, seq int) *Chunker {
	return &Chunker{pages: pages, maxChars: maxChars, seq: seq}
}

// Next returns the next chunk, or io.EOF
func (c *Chunker) Next() (model.Chunk, error) {
	var (
		buf        strings.Builder
		size       int
		first      model.Page
		last       model.Page
		count      int
		sameThread = true
	)

	for {
		page, err := c.nextPage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.Chunk{}, err
		}

		n := utf8.RuneCountInString(page.Text)
		if count > 0 && size+n > c.maxChars {
			c.pending = &page
			break
		}

		marker := fmt.Sprintf("\n\n[p.%d]\n", page.Number)
		buf.WriteString(marker)
		buf.WriteString(page.Text)
		size += utf8.RuneCountInString(marker) + n

		if count == 0 {
			first = page
		} else if page.Conversation != first.Conversation {
			sameThread = false
		}
		last = page
		count++
	}

	if count == 0 {
		return model.Chunk{}, io.EOF
	}

	loc := model.Locator{
		File:      first.File,
		PageStart: first.Number,
		PageEnd:   last.Number,
	}
	if sameThread {
		loc.Conversation = first.Conversation
	}

	chunk := model.Chunk{Seq: c.seq, Locator: loc, Text: buf.String()}
	c.seq++
	return chunk, nil
}

func (c *Chunker) nextPage() (model.Page, error) {
	if c.pending != nil {
		p := *c.pending
		c.pending = nil
		return p, nil
	}
	if c.done {
		return model.Page{}, io.EOF
	}
	p, err := c.pages.Next()
	if err == io.EOF {
		c.done = true
	}
	return p, err
}

// Close closes the underlying page reader
func (c *Chunker) Close() error {
	return c.pages.Close()
}
