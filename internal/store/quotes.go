package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ppiankov/verbatim/internal/model"
)

// QuoteLog is the append-only quote store. Each line is a full snapshot of
// one canonical record; a record whose provenance grew is appended again and
// the later line wins on load. Compact rewrites the log with one line per
// record.
type QuoteLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// OpenQuoteLog opens path for appending, creating it if needed
func OpenQuoteLog(path string) (*QuoteLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open quote log: %w", err)
	}
	return &QuoteLog{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

// Append writes records and syncs them to disk. A returned nil means the
// records survive a crash.
func (l *QuoteLog) Append(records ...model.QuoteRecord) error {
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range records {
		line, err := marshalLine(r)
		if err != nil {
			return err
		}
		if _, err := l.w.Write(line); err != nil {
			return fmt.Errorf("append quote: %w", err)
		}
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush quote log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync quote log: %w", err)
	}
	return nil
}

// Path returns the log file path
func (l *QuoteLog) Path() string {
	return l.path
}

// Close flushes and closes the log
func (l *QuoteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Flush(); err != nil {
		l.file.Close()
		return fmt.Errorf("flush quote log: %w", err)
	}
	return l.file.Close()
}

func marshalLine(r model.QuoteRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("marshal quote: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadQuotes reads a quote log, keeping the last snapshot of every record in
// first-appearance order. A truncated final line, left by an interrupted
// write, is ignored. Lines without a run id come from older logs; each is
// its own record under the run id "legacy".
func LoadQuotes(path string) ([]model.QuoteRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		records []model.QuoteRecord
		index   = make(map[string]int)
		r       = bufio.NewReader(f)
		lineNo  int
	)

	for {
		line, readErr := r.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, fmt.Errorf("read quote log: %w", readErr)
		}
		lineNo++

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var rec model.QuoteRecord
			if err := json.Unmarshal(trimmed, &rec); err != nil {
				if readErr == io.EOF {
					break
				}
				return nil, fmt.Errorf("parse quote log line %d: %w", lineNo, err)
			}
			normalizeLegacy(&rec, lineNo)

			key := RecordKey(rec)
			if i, ok := index[key]; ok {
				records[i] = rec
			} else {
				index[key] = len(records)
				records = append(records, rec)
			}
		}

		if readErr == io.EOF {
			break
		}
	}
	return records, nil
}

// RecordKey identifies a record across snapshots: the run that first saw it
// and its position in that run
func RecordKey(r model.QuoteRecord) string {
	return r.FirstSeenRunID + "#" + strconv.Itoa(r.Seq)
}

// LegacyRunID marks records loaded from logs written without run ids
const LegacyRunID = "legacy"

// normalizeLegacy fills fields missing from logs that only carried pages
func normalizeLegacy(r *model.QuoteRecord, lineNo int) {
	if r.FirstSeenRunID == "" {
		r.FirstSeenRunID = LegacyRunID
		r.Seq = lineNo
		r.Verified = true
	}
	if r.Locator == (model.Locator{}) {
		r.Locator = model.Locator{PageStart: r.PageStart, PageEnd: r.PageEnd}
	}
	if len(r.Provenance) == 0 {
		r.Provenance = []model.Locator{r.Locator}
	}
}

// Compact atomically rewrites path with exactly one line per record
func Compact(path string, records []model.QuoteRecord) error {
	var buf bytes.Buffer
	for _, r := range records {
		line, err := marshalLine(r)
		if err != nil {
			return err
		}
		buf.Write(line)
	}
	return WriteFile(path, buf.Bytes())
}

// IsNotExist reports whether err means a store file is missing
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
