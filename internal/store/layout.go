// Package store reads and writes a run's output directory. A run directory
// has exactly one writer: the run that owns it.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// File names inside a run directory
const (
	QuotesFile       = "scan_quotes.jsonl"
	IndexFile        = "quotes_index.csv"
	RunReportFile    = "run_report.json"
	CompilationsDir  = "compilations"
	BundleIndexFile  = "INDEX.md"
	EntitiesDir      = "apps_tools"
	EntitiesJSONFile = "apps_and_tools.json"
	EntitiesMDFile   = "apps_and_tools.md"
	ReconstructFile  = "reconstruct_report.json"
	SourcesDir       = "sources"
)

// Layout resolves paths inside one run directory
type Layout struct {
	Dir string
}

func (l Layout) Quotes() string { return filepath.Join(l.Dir, QuotesFile) }
func (l Layout) Index() string { return filepath.Join(l.Dir, IndexFile) }
func (l Layout) RunReport() string { return filepath.Join(l.Dir, RunReportFile) }

// CostReport is per command: cost_report.json for scan,
// cost_report_<command>.json otherwise
func (l Layout) CostReport(command string) string {
	if command == "" || command == "scan" {
		return filepath.Join(l.Dir, "cost_report.json")
	}
	return filepath.Join(l.Dir, fmt.Sprintf("cost_report_%s.json", command))
}

func (l Layout) Compilations() string { return filepath.Join(l.Dir, CompilationsDir) }

func (l Layout) Bundle(slug string) string {
	return filepath.Join(l.Dir, CompilationsDir, slug+".md")
}

func (l Layout) BundleIndex() string {
	return filepath.Join(l.Dir, CompilationsDir, BundleIndexFile)
}

func (l Layout) EntitiesJSON() string { return filepath.Join(l.Dir, EntitiesDir, EntitiesJSONFile) }
func (l Layout) EntitiesMD() string { return filepath.Join(l.Dir, EntitiesDir, EntitiesMDFile) }
func (l Layout) ReconstructReport() string {
	return filepath.Join(l.Dir, EntitiesDir, ReconstructFile)
}

// Sources is where downloaded remote sources are kept
func (l Layout) Sources() string { return filepath.Join(l.Dir, SourcesDir) }

// WriteFile replaces path atomically: readers see the old file or the new
// one, never a partial write
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON, leaving quote text unescaped
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, buf.Bytes())
}

// ReadJSON loads a JSON file into v
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
