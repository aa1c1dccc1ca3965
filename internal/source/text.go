package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/verbatim/internal/model"
)

// sliceReader serves pre-sliced pseudo-pages of a small document
type sliceReader struct {
	name   string
	pages  []string
	number int
}

func (r *sliceReader) Next() (model.Page, error) {
	if r.number >= len(r.pages) {
		return model.Page{}, io.EOF
	}
	r.number++
	return model.Page{File: r.name, Number: r.number, Text: r.pages[r.number-1]}, nil
}

func (r *sliceReader) Close() error { return nil }

func newHTMLReader(f File, opts Options) (*sliceReader, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	doc, err := html.Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	text := strings.TrimSpace(visibleText(doc))
	return &sliceReader{name: f.Name, pages: slicePages(text, opts.PseudoPageSize)}, nil
}

// visibleText collects text nodes, skipping non-rendered elements. Block
// elements end a line so paragraphs stay apart.
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "template", "head":
				return
			}
		}

		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") {
					buf.WriteString(" ")
				}
				buf.WriteString(text)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && isBlock(n.Data) && buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") {
			buf.WriteString("\n")
		}
	}

	walk(n)
	return buf.String()
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "ul", "ol", "tr", "table", "section", "article",
		"blockquote", "pre", "h1", "h2", "h3", "h4", "h5", "h6", "header", "footer":
		return true
	}
	return false
}

// textReader streams a plain text file into pseudo-pages of fixed rune size
type textReader struct {
	file   *os.File
	in     *bufio.Reader
	name   string
	size   int
	number int
}

func newTextReader(f File, opts Options) (*textReader, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	return &textReader{file: fh, in: bufio.NewReader(fh), name: f.Name, size: opts.PseudoPageSize}, nil
}

func (r *textReader) Next() (model.Page, error) {
	var buf strings.Builder
	for n := 0; n < r.size; n++ {
		ch, _, err := r.in.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.Page{}, err
		}
		buf.WriteRune(ch)
	}
	if buf.Len() == 0 {
		return model.Page{}, io.EOF
	}
	r.number++
	return model.Page{File: r.name, Number: r.number, Text: buf.String()}, nil
}

func (r *textReader) Close() error {
	return r.file.Close()
}
