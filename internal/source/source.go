// Package source turns input files into a lazy, ordered sequence of chunks.
// Nothing here materializes a whole large input: readers are pull-based and
// hold at most one conversation or page at a time.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/verbatim/internal/model"
)

// Kind is the input format of a file
type Kind string

const (
	KindConversations Kind = "conversations" // chat export JSON
	KindPDF           Kind = "pdf"
	KindHTML          Kind = "html"
	KindText          Kind = "text"
)

// Options configures reading and chunking
type Options struct {
	Role            model.Role
	PseudoPageSize  int   // characters per conversation/text pseudo-page
	ChunkChars      int   // characters per chunk
	StreamThreshold int64 // conversation files above this size are parsed incrementally
}

// OptionsFromConfig builds reader options from scan config
func OptionsFromConfig(cfg model.ScanConfig) (Options, error) {
	role, err := model.ParseRole(cfg.Role)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Role:            role,
		PseudoPageSize:  cfg.PseudoPageSize,
		ChunkChars:      cfg.ChunkChars,
		StreamThreshold: cfg.StreamThresholdBytes,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.PseudoPageSize <= 0 {
		o.PseudoPageSize = 2500
	}
	if o.ChunkChars <= 0 {
		o.ChunkChars = 9000
	}
	if o.StreamThreshold <= 0 {
		o.StreamThreshold = 100 << 20
	}
	if o.Role == "" {
		o.Role = model.RoleBoth
	}
	return o
}

// File is one input file of a source
type File struct {
	Path string
	Name string // base name, used to tag locators in directory mode
	Kind Kind
	Size int64
}

// PageReader yields pages in order. Next returns io.EOF after the last page.
type PageReader interface {
	Next() (model.Page, error)
	Close() error
}

// List resolves a source path to its input files. A directory yields every
// supported file in name order.
func List(path string) ([]File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &model.InputError{Source: path, Err: err}
	}

	if !info.IsDir() {
		kind, ok := kindOf(path)
		if !ok {
			return nil, &model.InputError{Source: path, Err: fmt.Errorf("unsupported file type %q", filepath.Ext(path))}
		}
		return []File{{Path: path, Name: filepath.Base(path), Kind: kind, Size: info.Size()}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &model.InputError{Source: path, Err: err}
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind, ok := kindOf(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, &model.InputError{Source: filepath.Join(path, e.Name()), Err: err}
		}
		files = append(files, File{
			Path: filepath.Join(path, e.Name()),
			Name: e.Name(),
			Kind: kind,
			Size: fi.Size(),
		})
	}
	if len(files) == 0 {
		return nil, &model.InputError{Source: path, Err: errors.New("no supported files in directory")}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func kindOf(path string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return KindConversations, true
	case ".pdf":
		return KindPDF, true
	case ".html", ".htm":
		return KindHTML, true
	case ".txt", ".md":
		return KindText, true
	default:
		return "", false
	}
}

// OpenPages opens a page reader for one file
func OpenPages(f File, opts Options) (PageReader, error) {
	opts = opts.withDefaults()

	var (
		r   PageReader
		err error
	)
	switch f.Kind {
	case KindConversations:
		if f.Size > opts.StreamThreshold {
			r, err = newStreamingConversationReader(f, opts)
		} else {
			r, err = newConversationReader(f, opts)
		}
	case KindPDF:
		r, err = newPDFReader(f)
	case KindHTML:
		r, err = newHTMLReader(f, opts)
	case KindText:
		r, err = newTextReader(f, opts)
	default:
		err = fmt.Errorf("unsupported kind %q", f.Kind)
	}
	if err != nil {
		var ie *model.InputError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, &model.InputError{Source: f.Path, Err: err}
	}
	return r, nil
}

// ChunkReader yields chunks in order. Next returns io.EOF after the last chunk.
type ChunkReader interface {
	Next() (model.Chunk, error)
	Close() error
}

// OpenFile opens a chunk sequence for one file. Sequence numbers start at seq.
func OpenFile(f File, opts Options, seq int) (ChunkReader, error) {
	opts = opts.withDefaults()
	pages, err := OpenPages(f, opts)
	if err != nil {
		return nil, err
	}
	return NewChunker(pages, opts.ChunkChars, seq), nil
}

// Open opens the whole source (file or directory) as one ordered chunk
// sequence. Files are opened lazily, one at a time. Each call starts over.
func Open(path string, opts Options) (ChunkReader, error) {
	files, err := List(path)
	if err != nil {
		return nil, err
	}
	return &multiReader{files: files, opts: opts.withDefaults()}, nil
}

// multiReader concatenates per-file chunk sequences
type multiReader struct {
	files   []File
	opts    Options
	idx     int
	current ChunkReader
	seq     int
}

func (m *multiReader) Next() (model.Chunk, error) {
	for {
		if m.current == nil {
			if m.idx >= len(m.files) {
				return model.Chunk{}, io.EOF
			}
			r, err := OpenFile(m.files[m.idx], m.opts, m.seq)
			if err != nil {
				return model.Chunk{}, err
			}
			m.current = r
			m.idx++
		}

		c, err := m.current.Next()
		if err == io.EOF {
			_ = m.current.Close()
			m.current = nil
			continue
		}
		if err != nil {
			var ie *model.InputError
			if !errors.As(err, &ie) {
				err = &model.InputError{Source: m.files[m.idx-1].Path, Err: err}
			}
			return model.Chunk{}, err
		}
		m.seq = c.Seq + 1
		return c, nil
	}
}

func (m *multiReader) Close() error {
	if m.current != nil {
		err := m.current.Close()
		m.current = nil
		return err
	}
	return nil
}

// slicePages cuts text into pseudo-pages of at most size runes
func slicePages(text string, size int) []string {
	runes := []rune(text)
	var pages []string
	for off := 0; off < len(runes); off += size {
		end := min(off+size, len(runes))
		pages = append(pages, string(runes[off:end]))
	}
	return pages
}
