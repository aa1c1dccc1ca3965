package source

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/ppiankov/verbatim/internal/model"
)

// pdfReader yields one page per PDF page, extracting text lazily
type pdfReader struct {
	file   *os.File
	doc    *pdf.Reader
	name   string
	total  int
	number int
}

func newPDFReader(f File) (*pdfReader, error) {
	fh, doc, err := pdf.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &pdfReader{file: fh, doc: doc, name: f.Name, total: doc.NumPage()}, nil
}

func (r *pdfReader) Next() (model.Page, error) {
	for r.number < r.total {
		r.number++
		text, err := r.pageText(r.number)
		if err != nil {
			return model.Page{}, &model.InputError{Source: fmt.Sprintf("%s p.%d", r.name, r.number), Err: err}
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		return model.Page{File: r.name, Number: r.number, Text: text}, nil
	}
	return model.Page{}, io.EOF
}

func (r *pdfReader) pageText(n int) (text string, err error) {
	// the pdf package panics on some malformed content streams
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extract page text: %v", rec)
		}
	}()

	page := r.doc.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (r *pdfReader) Close() error {
	return r.file.Close()
}
