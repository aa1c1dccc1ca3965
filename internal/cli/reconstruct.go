package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/pipeline"
)

var (
	reconstructFlags serviceFlags
	batchSize        int
)

// reconstructCmd represents the reconstruct command
var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <run-dir>",
	Short: "Reconstruct the apps and tools the quotes talk about",
	Long: `Reconstruct sends a run's quotes to the inference service in batches and
asks which apps and tools the author conceived, started or built:
- Every entity must cite stored quotes; entities without evidence are dropped
- Near-duplicate entities from different batches are merged
- Writes apps_tools/apps_and_tools.json and apps_tools/apps_and_tools.md

Example:
  verbatim reconstruct ./out
  verbatim reconstruct ./out --batch-size 100 --model gpt-5
  verbatim reconstruct ./out --estimate-only`,
	Args: cobra.ExactArgs(1),
	RunE: runReconstruct,
}

func init() {
	rootCmd.AddCommand(reconstructCmd)

	reconstructFlags.register(reconstructCmd)
	reconstructCmd.Flags().IntVar(&batchSize, "batch-size", 0, "quotes per inference call")
}

func runReconstruct(cmd *cobra.Command, args []string) error {
	runDir := args[0]

	s, err := newSession(cmd, &reconstructFlags, func(cfg *model.Config) {
		if cmd.Flags().Changed("batch-size") {
			cfg.Reconstruct.BatchSize = batchSize
		}
	})
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signalContext()
	defer stop()

	res, err := s.pipeline.Reconstruct(ctx, pipeline.ReconstructOptions{
		RunDir:       runDir,
		EstimateOnly: reconstructFlags.estimateOnly,
	})
	if err != nil {
		return fmt.Errorf("reconstruct failed: %w", err)
	}

	if res.Result == nil {
		printCost(res.Cost)
		fmt.Fprintf(os.Stderr, "  Estimate written to %s\n\n", res.Layout.CostReport("reconstruct"))
		return nil
	}

	out := res.Result
	printBanner("Reconstruct Complete")
	fmt.Fprintf(os.Stderr, "  Batches:        %d\n", res.Batches)
	fmt.Fprintf(os.Stderr, "  Proposed:       %d\n", out.Drafts)
	fmt.Fprintf(os.Stderr, "  Dropped:        %d\n", out.Dropped)
	fmt.Fprintf(os.Stderr, "  Merged:         %d\n", out.Merged)
	fmt.Fprintf(os.Stderr, "  Entities:       %d\n", len(out.Entities))
	if len(out.Failures) > 0 {
		fmt.Fprintf(os.Stderr, "  Failed batches: %d\n", len(out.Failures))
		for _, f := range out.Failures {
			fmt.Fprintf(os.Stderr, "    ✗ batch %d (%d quotes): %s\n", f.Batch+1, f.Quotes, f.Error)
		}
	}
	fmt.Fprintf(os.Stderr, "\n")
	printCost(res.Cost)
	fmt.Fprintf(os.Stderr, "  Entities: %s\n", res.Layout.EntitiesJSON())
	fmt.Fprintf(os.Stderr, "  Markdown: %s\n\n", res.Layout.EntitiesMD())
	return nil
}
