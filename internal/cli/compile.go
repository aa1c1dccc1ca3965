package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/verbatim/internal/pipeline"
)

var (
	compileFlags    serviceFlags
	compileHeadings bool
)

// compileCmd represents the compile command
var compileCmd = &cobra.Command{
	Use:   "compile <run-dir>",
	Short: "Group stored quotes into themed markdown bundles",
	Long: `Compile groups a run's quotes by category and lead tag:
- One markdown bundle per group under compilations/, quotes in first-seen order
- Every quote reproduced exactly as stored, with its citation
- INDEX.md linking every bundle

With --headings the service proposes a heading per bundle. Headings that
reuse quote wording are discarded. Without --headings no service call is made.

Example:
  verbatim compile ./out
  verbatim compile ./out --headings --model gpt-5-mini
  verbatim compile ./out --headings --estimate-only`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)

	compileFlags.register(compileCmd)
	compileCmd.Flags().BoolVar(&compileHeadings, "headings", false, "ask the service for a heading per bundle")
}

func runCompile(cmd *cobra.Command, args []string) error {
	runDir := args[0]

	// without headings compile is local
	flags := compileFlags
	if !compileHeadings {
		flags.estimateOnly = true
	}
	s, err := newSession(cmd, &flags, nil)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signalContext()
	defer stop()

	res, err := s.pipeline.Compile(ctx, pipeline.CompileOptions{
		RunDir:       runDir,
		EstimateOnly: compileFlags.estimateOnly,
		Headings:     compileHeadings,
	})
	if err != nil {
		return fmt.Errorf("compile failed: %w", err)
	}

	if compileFlags.estimateOnly {
		printCost(res.Cost)
		fmt.Fprintf(os.Stderr, "  Estimate written to %s\n\n", res.Layout.CostReport("compile"))
		return nil
	}

	printBanner("Compile Complete")
	quotes := 0
	for _, b := range res.Compilation.Bundles {
		quotes += len(b.Quotes)
	}
	fmt.Fprintf(os.Stderr, "  Quotes:         %d\n", quotes)
	fmt.Fprintf(os.Stderr, "  Bundles:        %d\n", res.Compilation.Len())
	if compileHeadings {
		fmt.Fprintf(os.Stderr, "  Headings kept:  %d\n", res.Compilation.Len()-res.HeadingsRejected-res.HeadingFailures)
		fmt.Fprintf(os.Stderr, "  Rejected:       %d\n", res.HeadingsRejected)
		fmt.Fprintf(os.Stderr, "  Failed:         %d\n", res.HeadingFailures)
	}
	fmt.Fprintf(os.Stderr, "\n")
	printCost(res.Cost)
	fmt.Fprintf(os.Stderr, "  Index:    %s\n\n", res.Layout.BundleIndex())
	return nil
}
