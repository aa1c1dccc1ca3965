package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verbatim/internal/llm"
	"github.com/ppiankov/verbatim/internal/llm/llmtest"
	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/store"
)

var sentences = []string{
	"I want to build a tiny tool that syncs my notes between devices.",
	"Yesterday the prototype finally rendered its first working page.",
	"Pricing should stay flat with no tiers and no upsells at all.",
	"The crash recorder keeps the last sixty seconds of input around.",
}

const invented = "This sentence was never written by anyone."

// page pads s to exactly one pseudo-page
func page(s string) string {
	return s + strings.Repeat(" ", 100-len(s))
}

// writeSource lays out two text files of one chunk per page: a.txt holds
// sentences 0-2, b.txt repeats sentence 0 and adds sentence 3
func writeSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	a := page(sentences[0]) + page(sentences[1]) + page(sentences[2])
	b := page(sentences[0]) + page(sentences[3])
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(a), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte(b), 0644))
	return dir
}

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Scan.PseudoPageSize = 100
	cfg.Scan.ChunkChars = 100
	cfg.Concurrency.Workers = 3
	cfg.Cache.Enabled = false
	return cfg
}

// extractor answers extraction requests with every known sentence found in
// the chunk plus one invented quote
func extractor(fail string) *llmtest.Fake {
	return &llmtest.Fake{Respond: func(req llm.Request) (*llm.Response, error) {
		if fail != "" && strings.Contains(req.Prompt, fail) {
			return nil, &model.ServiceError{Provider: "fake", Err: errors.New("upstream unavailable")}
		}
		type item struct {
			Quote    string   `json:"quote"`
			Category string   `json:"category"`
			Tags     []string `json:"tags"`
		}
		items := []item{{Quote: invented, Category: "idea", Tags: []string{"apps"}}}
		for _, s := range sentences {
			if strings.Contains(req.Prompt, s) {
				items = append(items, item{Quote: s, Category: "idea", Tags: []string{"apps"}})
			}
		}
		body, _ := json.Marshal(map[string]any{"quotes": items})
		return &llm.Response{Text: string(body), InputTokens: 50, OutputTokens: 10}, nil
	}}
}

func TestScan(t *testing.T) {
	src := writeSource(t)
	out := t.TempDir()
	fake := extractor("")

	var events []Progress
	p := New(testConfig(), fake, nil)
	res, err := p.Scan(context.Background(), ScanOptions{
		Source:   src,
		OutDir:   out,
		Progress: func(e Progress) { events = append(events, e) },
	})
	require.NoError(t, err)
	assert.Len(t, fake.Calls(), 5)

	r := res.Report
	assert.False(t, r.Cancelled)
	assert.Equal(t, 5, r.Counts.ChunksProcessed)
	assert.Equal(t, 10, r.Counts.Candidates)
	assert.Equal(t, 5, r.Counts.Verified)
	assert.Equal(t, 5, r.Counts.Rejected)
	assert.Equal(t, 5, r.Rejected["no_match"])
	assert.Equal(t, 4, r.Counts.Stored)
	assert.Equal(t, 1, r.Counts.Deduplicated)
	require.Len(t, r.Files, 2)
	assert.Equal(t, 3, r.Files[0].Counts.Stored)
	assert.Equal(t, 1, r.Files[1].Counts.Deduplicated)

	require.Len(t, events, 5)
	last := events[len(events)-1]
	assert.Equal(t, "b.txt", last.File)
	assert.Equal(t, 2, last.Chunks)
	assert.Equal(t, 2, last.Done)

	quotes, err := store.LoadQuotes(store.Layout{Dir: out}.Quotes())
	require.NoError(t, err)
	require.Len(t, quotes, 4)
	for i, want := range []string{sentences[0], sentences[1], sentences[2], sentences[3]} {
		assert.Equal(t, want, quotes[i].Quote)
		assert.Equal(t, i, quotes[i].Seq)
		assert.Equal(t, r.RunID, quotes[i].FirstSeenRunID)
	}
	require.Len(t, quotes[0].Provenance, 2)
	assert.Equal(t, "a.txt", quotes[0].Provenance[0].File)
	assert.Equal(t, "b.txt", quotes[0].Provenance[1].File)

	for _, name := range []string{store.IndexFile, store.RunReportFile, "cost_report.json"} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	var cost model.CostReport
	require.NoError(t, store.ReadJSON(filepath.Join(out, "cost_report.json"), &cost))
	assert.False(t, cost.EstimateOnly)
	assert.Len(t, cost.Calls, 5)
	assert.Equal(t, 250, cost.ActualInputTokens)
	assert.Equal(t, 50, cost.ActualOutputTokens)
	assert.Greater(t, cost.ActualUSD, 0.0)
}

func TestScan_RerunKeepsRecords(t *testing.T) {
	src := writeSource(t)
	out := t.TempDir()

	first, err := New(testConfig(), extractor(""), nil).Scan(context.Background(), ScanOptions{Source: src, OutDir: out})
	require.NoError(t, err)
	second, err := New(testConfig(), extractor(""), nil).Scan(context.Background(), ScanOptions{Source: src, OutDir: out})
	require.NoError(t, err)

	assert.NotEqual(t, first.Report.RunID, second.Report.RunID)
	assert.Zero(t, second.Report.Counts.Stored)
	assert.Equal(t, 5, second.Report.Counts.Deduplicated)

	quotes, err := store.LoadQuotes(store.Layout{Dir: out}.Quotes())
	require.NoError(t, err)
	require.Len(t, quotes, 4)
	for i, q := range quotes {
		assert.Equal(t, first.Report.RunID, q.FirstSeenRunID)
		assert.Equal(t, i, q.Seq)
	}
	assert.Len(t, quotes[0].Provenance, 4)
}

func TestScan_ChunkFailureIsSkipped(t *testing.T) {
	src := writeSource(t)
	out := t.TempDir()

	res, err := New(testConfig(), extractor(sentences[1]), nil).Scan(context.Background(), ScanOptions{Source: src, OutDir: out})
	require.NoError(t, err)

	r := res.Report
	assert.Equal(t, 4, r.Counts.ChunksProcessed)
	assert.Equal(t, 1, r.Counts.Failures)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, model.Locator{File: "a.txt", PageStart: 2, PageEnd: 2}, r.Failures[0].Locator)
	assert.Contains(t, r.Failures[0].Error, "upstream unavailable")
	assert.Equal(t, 3, r.Counts.Stored)
}

func TestScan_PerFileScope(t *testing.T) {
	src := writeSource(t)
	out := t.TempDir()
	cfg := testConfig()
	cfg.Dedupe.Scope = model.DedupeScopePerFile

	res, err := New(cfg, extractor(""), nil).Scan(context.Background(), ScanOptions{Source: src, OutDir: out})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Report.Counts.Stored)
	assert.Zero(t, res.Report.Counts.Deduplicated)

	quotes, err := store.LoadQuotes(store.Layout{Dir: out}.Quotes())
	require.NoError(t, err)
	require.Len(t, quotes, 5)
	for i, q := range quotes {
		assert.Equal(t, i, q.Seq, "sequence is shared across files")
	}
}

func TestScan_EstimateOnly(t *testing.T) {
	src := writeSource(t)
	out := t.TempDir()
	fake := extractor("")

	res, err := New(testConfig(), fake, nil).Scan(context.Background(), ScanOptions{Source: src, OutDir: out, EstimateOnly: true})
	require.NoError(t, err)
	assert.Empty(t, fake.Calls())
	assert.Nil(t, res.Report)
	assert.True(t, res.Cost.EstimateOnly)
	require.Len(t, res.Cost.Calls, 5)
	assert.Equal(t, "a.txt p.1", res.Cost.Calls[0].Key)
	assert.Greater(t, res.Cost.Estimate.InputTokens, 0)

	assert.FileExists(t, filepath.Join(out, "cost_report.json"))
	assert.NoFileExists(t, filepath.Join(out, store.QuotesFile))
}

func TestScan_UnknownModel(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Model = "no-such-model"
	fake := extractor("")

	_, err := New(cfg, fake, nil).Scan(context.Background(), ScanOptions{Source: writeSource(t), OutDir: t.TempDir()})
	assert.ErrorIs(t, err, model.ErrUnknownModel)
	assert.Empty(t, fake.Calls())
}

func TestScan_MissingSource(t *testing.T) {
	fake := extractor("")
	_, err := New(testConfig(), fake, nil).Scan(context.Background(), ScanOptions{Source: filepath.Join(t.TempDir(), "nope.pdf"), OutDir: t.TempDir()})
	assert.ErrorIs(t, err, model.ErrInput)
	assert.Empty(t, fake.Calls())
}

func TestScan_UnreachableService(t *testing.T) {
	fake := extractor("")
	fake.Unreachable = true
	out := t.TempDir()

	_, err := New(testConfig(), fake, nil).Scan(context.Background(), ScanOptions{Source: writeSource(t), OutDir: out})
	assert.ErrorIs(t, err, model.ErrService)
	assert.Empty(t, fake.Calls())
	assert.NoFileExists(t, store.Layout{Dir: out}.Quotes())

	// estimates never touch the service
	_, err = New(testConfig(), fake, nil).Scan(context.Background(), ScanOptions{Source: writeSource(t), OutDir: out, EstimateOnly: true})
	assert.NoError(t, err)
}

func TestScan_Cancelled(t *testing.T) {
	out := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(testConfig(), extractor(""), nil).Scan(ctx, ScanOptions{Source: writeSource(t), OutDir: out})
	require.NoError(t, err)
	assert.True(t, res.Report.Cancelled)
	assert.Zero(t, res.Report.Counts.Stored)

	var report model.RunReport
	require.NoError(t, store.ReadJSON(filepath.Join(out, store.RunReportFile), &report))
	assert.True(t, report.Cancelled)
}

// scanned runs a scan into a fresh directory and returns it
func scanned(t *testing.T) string {
	t.Helper()
	out := t.TempDir()
	_, err := New(testConfig(), extractor(""), nil).Scan(context.Background(), ScanOptions{Source: writeSource(t), OutDir: out})
	require.NoError(t, err)
	return out
}

func TestCompile(t *testing.T) {
	out := scanned(t)

	res, err := New(testConfig(), nil, nil).Compile(context.Background(), CompileOptions{RunDir: out})
	require.NoError(t, err)
	assert.Nil(t, res.Cost)
	require.Equal(t, 1, res.Compilation.Len())

	b := res.Compilation.Bundles[0]
	body, err := os.ReadFile(store.Layout{Dir: out}.Bundle(b.Slug))
	require.NoError(t, err)
	for _, s := range sentences {
		assert.Contains(t, string(body), s)
	}
	assert.FileExists(t, store.Layout{Dir: out}.BundleIndex())
}

func TestCompile_Headings(t *testing.T) {
	out := scanned(t)
	fake := llmtest.Static(`{"heading": "Side projects and product plans"}`)

	res, err := New(testConfig(), fake, nil).Compile(context.Background(), CompileOptions{RunDir: out, Headings: true})
	require.NoError(t, err)
	assert.Len(t, fake.Calls(), 1)
	assert.Equal(t, "Side projects and product plans", res.Compilation.Bundles[0].Heading)
	require.NotNil(t, res.Cost)
	assert.FileExists(t, filepath.Join(out, "cost_report_compile.json"))
}

func TestCompile_HeadingFailureIsNotFatal(t *testing.T) {
	out := scanned(t)
	fake := &llmtest.Fake{Respond: func(llm.Request) (*llm.Response, error) {
		return nil, &model.ServiceError{Provider: "fake", Err: errors.New("overloaded")}
	}}

	res, err := New(testConfig(), fake, nil).Compile(context.Background(), CompileOptions{RunDir: out, Headings: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.HeadingFailures)
	assert.Empty(t, res.Compilation.Bundles[0].Heading)
	assert.FileExists(t, store.Layout{Dir: out}.BundleIndex())
}

func TestCompile_EstimateOnly(t *testing.T) {
	out := scanned(t)
	fake := llmtest.Static(`{"heading": "unused"}`)

	res, err := New(testConfig(), fake, nil).Compile(context.Background(), CompileOptions{RunDir: out, EstimateOnly: true})
	require.NoError(t, err)
	assert.Empty(t, fake.Calls())
	require.NotNil(t, res.Cost)
	require.Len(t, res.Cost.Calls, 1)
	assert.Equal(t, 4, res.Cost.Calls[0].Items)
	assert.NoDirExists(t, store.Layout{Dir: out}.Compilations())
}

func TestCompile_MissingStore(t *testing.T) {
	_, err := New(testConfig(), nil, nil).Compile(context.Background(), CompileOptions{RunDir: t.TempDir()})
	assert.ErrorIs(t, err, model.ErrInput)
}

func TestReconstruct(t *testing.T) {
	out := scanned(t)
	fake := &llmtest.Fake{Respond: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: fmt.Sprintf(`{"apps":[
		  {"title":"Note Sync","summary":"Syncs notes between devices.","status":"prototype","evidence_ids":["E1","E2"]},
		  {"title":"Ghost","summary":"Unsupported.","status":"idea","evidence_quotes":[%q]}]}`, invented), InputTokens: 300, OutputTokens: 60}, nil
	}}

	res, err := New(testConfig(), fake, nil).Reconstruct(context.Background(), ReconstructOptions{RunDir: out})
	require.NoError(t, err)
	assert.Len(t, fake.Calls(), res.Batches)
	require.Len(t, res.Result.Entities, 1)

	layout := store.Layout{Dir: out}
	var entities []model.Entity
	require.NoError(t, store.ReadJSON(layout.EntitiesJSON(), &entities))
	require.Len(t, entities, 1)
	assert.Equal(t, "Note Sync", entities[0].Title)
	assert.Equal(t, model.StatusInProgress, entities[0].Status)
	require.Len(t, entities[0].Evidence, 2)
	assert.Equal(t, sentences[0], entities[0].Evidence[0].Quote)

	md, err := os.ReadFile(layout.EntitiesMD())
	require.NoError(t, err)
	assert.Contains(t, string(md), "## Note Sync")

	var report ReconstructReport
	require.NoError(t, store.ReadJSON(layout.ReconstructReport(), &report))
	assert.Equal(t, 4, report.Quotes)
	assert.Equal(t, 1, report.Entities)

	var cost model.CostReport
	require.NoError(t, store.ReadJSON(layout.CostReport("reconstruct"), &cost))
	assert.Equal(t, 300, cost.ActualInputTokens)
}

func TestReconstruct_EstimateOnly(t *testing.T) {
	out := scanned(t)
	fake := llmtest.Static(`{"apps":[]}`)

	res, err := New(testConfig(), fake, nil).Reconstruct(context.Background(), ReconstructOptions{RunDir: out, EstimateOnly: true})
	require.NoError(t, err)
	assert.Empty(t, fake.Calls())
	assert.Nil(t, res.Result)
	require.Len(t, res.Cost.Calls, 1)
	assert.Equal(t, "batch 1", res.Cost.Calls[0].Key)
	assert.NoFileExists(t, store.Layout{Dir: out}.EntitiesJSON())
}

func TestReconstruct_NoService(t *testing.T) {
	out := scanned(t)
	_, err := New(testConfig(), nil, nil).Reconstruct(context.Background(), ReconstructOptions{RunDir: out})
	assert.ErrorIs(t, err, errNoService)

	fake := extractor("")
	fake.Unreachable = true
	_, err = New(testConfig(), fake, nil).Reconstruct(context.Background(), ReconstructOptions{RunDir: out})
	assert.ErrorIs(t, err, model.ErrService)
	assert.Empty(t, fake.Calls())
}
