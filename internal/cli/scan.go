package cli

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/pipeline"
)

var (
	scanFlags   serviceFlags
	scanOut     string
	scanRole    string
	dedupeScope string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <source>",
	Short: "Extract and verify quotes from a file, directory or URL",
	Long: `Scan reads a source and stores every quote it can prove:
- Read chat exports (JSON), PDFs, HTML and text, a file or a whole directory
- Ask the extraction service for candidate quotes chunk by chunk
- Keep only candidates that appear verbatim in the chunk
- Merge exact and near duplicates, keeping every place a quote was seen
- Write scan_quotes.jsonl, quotes_index.csv, run_report.json, cost_report.json

Re-running into the same output directory adds to the existing store.

Example:
  verbatim scan conversations.json --role user
  verbatim scan ./exports --out ./runs/exports --model gpt-4.1
  verbatim scan https://example.com/essay.html
  verbatim scan ./exports --estimate-only`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanFlags.register(scanCmd)
	scanCmd.Flags().StringVarP(&scanOut, "out", "o", "", "run output directory (default from output.dir)")
	scanCmd.Flags().StringVar(&scanRole, "role", "", "conversation messages to read: user, assistant, both")
	scanCmd.Flags().StringVar(&dedupeScope, "dedupe-scope", "", "duplicate detection across files: merged, per-file")
}

func runScan(cmd *cobra.Command, args []string) error {
	source := args[0]

	s, err := newSession(cmd, &scanFlags, func(cfg *model.Config) {
		if cmd.Flags().Changed("role") {
			cfg.Scan.Role = scanRole
		}
		if cmd.Flags().Changed("dedupe-scope") {
			cfg.Dedupe.Scope = dedupeScope
		}
		if cmd.Flags().Changed("out") {
			cfg.Output.Dir = scanOut
		}
	})
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signalContext()
	defer stop()

	printBanner("Verbatim Scan")
	fmt.Fprintf(os.Stderr, "  Source:       %s\n", source)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", s.cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "  Role:         %s\n", s.cfg.Scan.Role)
	fmt.Fprintf(os.Stderr, "  Model:        %s/%s\n", s.cfg.LLM.Provider, s.cfg.LLM.Model)
	fmt.Fprintf(os.Stderr, "\n")

	bars := &fileBars{}
	opts := pipeline.ScanOptions{
		Source:       source,
		OutDir:       s.cfg.Output.Dir,
		EstimateOnly: scanFlags.estimateOnly,
	}
	if !s.cfg.Output.Verbose {
		opts.Progress = bars.update
	}

	res, err := s.pipeline.Scan(ctx, opts)
	bars.finish()
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if res.Report == nil {
		printCost(res.Cost)
		fmt.Fprintf(os.Stderr, "  Estimate written to %s\n\n", res.Layout.CostReport("scan"))
		return nil
	}

	printScanSummary(res)
	return nil
}

// fileBars shows one progress bar per input file
type fileBars struct {
	bar  *progressbar.ProgressBar
	file int
}

func (b *fileBars) update(e pipeline.Progress) {
	if b.bar == nil || e.FileIndex != b.file {
		b.finish()
		b.file = e.FileIndex
		b.bar = progressbar.NewOptions(e.Chunks,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(fmt.Sprintf("[%d/%d] %s", e.FileIndex+1, e.FileCount, e.File)),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
	}
	_ = b.bar.Set(e.Done)
}

func (b *fileBars) finish() {
	if b.bar != nil && !b.bar.IsFinished() {
		_ = b.bar.Finish()
	}
}

func printScanSummary(res *pipeline.ScanResult) {
	r := res.Report
	c := r.Counts

	title := "Scan Complete"
	if r.Cancelled {
		title = "Scan Cancelled (partial results kept)"
	}
	printBanner(title)
	fmt.Fprintf(os.Stderr, "  Run ID:         %s\n", r.RunID)
	fmt.Fprintf(os.Stderr, "  Chunks:         %d\n", c.ChunksProcessed)
	fmt.Fprintf(os.Stderr, "  Candidates:     %d\n", c.Candidates)
	fmt.Fprintf(os.Stderr, "  Verified:       %d\n", c.Verified)
	fmt.Fprintf(os.Stderr, "  Rejected:       %d\n", c.Rejected)
	for reason, n := range r.Rejected {
		fmt.Fprintf(os.Stderr, "    %-12s  %d\n", reason, n)
	}
	fmt.Fprintf(os.Stderr, "  Deduplicated:   %d\n", c.Deduplicated)
	fmt.Fprintf(os.Stderr, "  Stored:         %d\n", c.Stored)
	fmt.Fprintf(os.Stderr, "  Failures:       %d\n", c.Failures)
	if c.Malformed > 0 {
		fmt.Fprintf(os.Stderr, "  Malformed:      %d\n", c.Malformed)
	}
	if c.MergeAmbiguities > 0 {
		fmt.Fprintf(os.Stderr, "  Ambiguities:    %d (kept apart, see log)\n", c.MergeAmbiguities)
	}
	fmt.Fprintf(os.Stderr, "\n")

	printCost(res.Cost)

	fmt.Fprintf(os.Stderr, "  Quotes:   %s\n", res.Layout.Quotes())
	fmt.Fprintf(os.Stderr, "  Index:    %s\n", res.Layout.Index())
	fmt.Fprintf(os.Stderr, "  Report:   %s\n", res.Layout.RunReport())
	fmt.Fprintf(os.Stderr, "\n")
}
