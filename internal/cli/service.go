package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/pipeline"
)

// serviceFlags are the flags every service-calling command shares
type serviceFlags struct {
	estimateOnly bool
	provider     string
	model        string
	workers      int
	noCache      bool
}

func (f *serviceFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.estimateOnly, "estimate-only", false, "print the cost estimate and exit without calling the service")
	cmd.Flags().StringVar(&f.provider, "provider", "", "service provider (openai, anthropic, ollama)")
	cmd.Flags().StringVar(&f.model, "model", "", "model name, must be in the rate table")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent service calls")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable the response cache")
}

// apply overrides config values with flags the user set
func (f *serviceFlags) apply(cmd *cobra.Command, cfg *model.Config) {
	if cmd.Flags().Changed("provider") {
		cfg.LLM.Provider = f.provider
	}
	if cmd.Flags().Changed("model") {
		cfg.LLM.Model = f.model
	}
	if cmd.Flags().Changed("workers") {
		cfg.Concurrency.Workers = f.workers
	}
	if f.noCache {
		cfg.Cache.Enabled = false
	}
}

// session is what a command needs to run: effective config, logger and a
// pipeline connected to the service unless only an estimate is wanted
type session struct {
	cfg      *model.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
}

// newSession loads config, applies flags and connects the service.
// configure runs after the shared flags so commands can add their own.
func newSession(cmd *cobra.Command, flags *serviceFlags, configure func(*model.Config)) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	flags.apply(cmd, cfg)
	if configure != nil {
		configure(cfg)
	}
	applyProviderEnv(cfg)

	logger, err := newLogger(cfg.Output.Verbose)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	var svc pipeline.Completer
	if !flags.estimateOnly {
		if err := requireCredentials(cfg); err != nil {
			return nil, err
		}
		caller, err := pipeline.Connect(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.LLM.Provider, err)
		}
		svc = caller
	}

	return &session{cfg: cfg, logger: logger, pipeline: pipeline.New(cfg, svc, logger)}, nil
}

func (s *session) close() {
	_ = s.logger.Sync()
}

// signalContext is cancelled on Ctrl-C or SIGTERM so runs stop cleanly and
// keep what they already stored
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printBanner(title string) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  %s\n", title)
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
}

// printCost summarizes a cost report
func printCost(r *model.CostReport) {
	if r == nil {
		return
	}
	est := r.Estimate
	tokenizer := est.Tokenizer
	if est.Approximate {
		tokenizer += " (approximate)"
	}

	if r.EstimateOnly {
		printBanner("Cost Estimate: " + r.Command)
	}
	fmt.Fprintf(os.Stderr, "  Model:          %s\n", est.Model)
	fmt.Fprintf(os.Stderr, "  Tokenizer:      %s\n", tokenizer)
	fmt.Fprintf(os.Stderr, "  Calls:          %d\n", len(r.Calls))
	fmt.Fprintf(os.Stderr, "  Input tokens:   %d\n", est.InputTokens)
	fmt.Fprintf(os.Stderr, "  Output tokens:  ~%d\n", est.OutputTokens)
	fmt.Fprintf(os.Stderr, "  Estimated cost: $%.4f\n", est.USDTotal)
	if !r.EstimateOnly && (r.ActualInputTokens > 0 || r.ActualOutputTokens > 0) {
		fmt.Fprintf(os.Stderr, "  Actual tokens:  %d in / %d out\n", r.ActualInputTokens, r.ActualOutputTokens)
		fmt.Fprintf(os.Stderr, "  Actual cost:    $%.4f\n", r.ActualUSD)
		if r.CachedCalls > 0 {
			fmt.Fprintf(os.Stderr, "  Cached calls:   %d\n", r.CachedCalls)
		}
	}
	fmt.Fprintf(os.Stderr, "\n")
}
