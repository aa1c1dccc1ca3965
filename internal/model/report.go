package model

import "time"

// RunReport summarizes one scan run. It is written even when the run ends
// early so partial progress is always accounted for.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Role       Role      `json:"role"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Cancelled  bool      `json:"cancelled"`

	Counts   Counts          `json:"counts"`
	Files    []FileReport    `json:"files,omitempty"`
	Failures []ChunkFailure  `json:"failures,omitempty"`
	Rejected RejectionCounts `json:"rejected_by_reason"`
}

// Counts are the per-run tallies every report carries
type Counts struct {
	ChunksProcessed  int `json:"chunks_processed"`
	Candidates       int `json:"candidates_extracted"`
	Verified         int `json:"verified"`
	Rejected         int `json:"rejected"`
	Deduplicated     int `json:"deduplicated"`
	Stored           int `json:"stored"`
	Failures         int `json:"failures"`
	Malformed        int `json:"malformed_responses"`
	MergeAmbiguities int `json:"merge_ambiguities"`
}

// Add accumulates other into c
func (c *Counts) Add(other Counts) {
	c.ChunksProcessed += other.ChunksProcessed
	c.Candidates += other.Candidates
	c.Verified += other.Verified
	c.Rejected += other.Rejected
	c.Deduplicated += other.Deduplicated
	c.Stored += other.Stored
	c.Failures += other.Failures
	c.Malformed += other.Malformed
	c.MergeAmbiguities += other.MergeAmbiguities
}

// RejectionCounts tallies verification rejections by reason
type RejectionCounts map[string]int

// FileReport is the per-file slice of a directory run
type FileReport struct {
	File   string `json:"file"`
	Counts Counts `json:"counts"`
}

// ChunkFailure records a chunk that was skipped after the retry budget ran out
type ChunkFailure struct {
	Locator Locator `json:"locator"`
	Error   string  `json:"error"`
}

// CostEstimate is a priced token estimate. It is derived data: recomputed on
// every invocation, never updated in place.
type CostEstimate struct {
	Model               string  `json:"model"`
	Tokenizer           string  `json:"tokenizer"`
	Approximate         bool    `json:"approximate"` // true when the chars/4 fallback was used
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	USDPerMillionInput  float64 `json:"usd_per_million_input"`
	USDPerMillionOutput float64 `json:"usd_per_million_output"`
	USDInput            float64 `json:"usd_input"`
	USDOutput           float64 `json:"usd_output"`
	USDTotal            float64 `json:"usd_total"`
}

// CostLine is one per-call entry of a cost report
type CostLine struct {
	Kind         string  `json:"kind"` // scan, compile, reconstruct
	Key          string  `json:"key"`  // chunk locator, group name, batch number
	Items        int     `json:"items,omitempty"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	USD          float64 `json:"usd"`
}

// CostReport is the per-run cost file
type CostReport struct {
	Command      string       `json:"command"`
	EstimateOnly bool         `json:"estimate_only"`
	GeneratedAt  time.Time    `json:"generated_at"`
	Estimate     CostEstimate `json:"estimate"`
	Calls        []CostLine   `json:"calls"`
	// Actual usage as reported by the service, when calls were made
	ActualInputTokens  int     `json:"actual_input_tokens,omitempty"`
	ActualOutputTokens int     `json:"actual_output_tokens,omitempty"`
	ActualUSD          float64 `json:"actual_usd,omitempty"`
	CachedCalls        int     `json:"cached_calls,omitempty"`
}
