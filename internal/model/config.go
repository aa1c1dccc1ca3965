package model

import "time"

// Config is the complete runtime configuration. It is built once by the CLI
// (defaults, config file, env, flags) and handed to every component.
type Config struct {
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Scan         ScanConfig         `yaml:"scan" mapstructure:"scan"`
	Fetch        FetchConfig        `yaml:"fetch" mapstructure:"fetch"`
	Verify       VerifyConfig       `yaml:"verify" mapstructure:"verify"`
	Dedupe       DedupeConfig       `yaml:"dedupe" mapstructure:"dedupe"`
	Reconstruct  ReconstructConfig  `yaml:"reconstruct" mapstructure:"reconstruct"`
	Cost         CostConfig         `yaml:"cost" mapstructure:"cost"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// LLMConfig selects and tunes the external extraction/inference service
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"-" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     int     `yaml:"timeout" mapstructure:"timeout"` // seconds per call
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	Seed        int     `yaml:"seed" mapstructure:"seed"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	HTTPProxy   string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy  string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// ScanConfig controls source reading and chunking
type ScanConfig struct {
	Role                 string `yaml:"role" mapstructure:"role"`                                     // user, assistant, both
	ChunkChars           int    `yaml:"chunk_chars" mapstructure:"chunk_chars"`                       // max characters per extraction call
	PseudoPageSize       int    `yaml:"pseudo_page_size" mapstructure:"pseudo_page_size"`             // conversation slice size
	StreamThresholdBytes int64  `yaml:"stream_threshold_bytes" mapstructure:"stream_threshold_bytes"` // above this, parse incrementally
}

// FetchConfig controls downloading of remote (http/https) sources
type FetchConfig struct {
	Timeout       int    `yaml:"timeout" mapstructure:"timeout"` // seconds per request
	UserAgent     string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBytes      int64  `yaml:"max_bytes" mapstructure:"max_bytes"`
	RespectRobots bool   `yaml:"respect_robots" mapstructure:"respect_robots"`
	MaxRetries    int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// VerifyConfig holds the verification policy
type VerifyConfig struct {
	MinLength     int  `yaml:"min_length" mapstructure:"min_length"`
	CaseSensitive bool `yaml:"case_sensitive" mapstructure:"case_sensitive"`
}

// DedupeConfig holds the deduplication policy
type DedupeConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	Fuzzy     bool    `yaml:"fuzzy" mapstructure:"fuzzy"`
	Scope     string  `yaml:"scope" mapstructure:"scope"` // merged, per-file
}

// Dedupe scopes
const (
	DedupeScopeMerged  = "merged"
	DedupeScopePerFile = "per-file"
)

// ReconstructConfig controls entity reconstruction
type ReconstructConfig struct {
	BatchSize   int     `yaml:"batch_size" mapstructure:"batch_size"`     // quotes per inference call
	BatchChars  int     `yaml:"batch_chars" mapstructure:"batch_chars"`   // upper bound on evidence characters per call
	Threshold   float64 `yaml:"threshold" mapstructure:"threshold"`       // entity merge similarity
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`   // parallel batches
}

// CostConfig tunes the pre-call estimate
type CostConfig struct {
	OutputRatio float64               `yaml:"output_ratio" mapstructure:"output_ratio"` // estimated output tokens per input token
	Rates       map[string]RateConfig `yaml:"rates,omitempty" mapstructure:"rates"`     // additions/overrides to the built-in table
}

// RateConfig prices one model in USD per million tokens. Encoding names a
// tiktoken encoding; empty means token counts are approximated.
type RateConfig struct {
	InputPerMillion  float64 `yaml:"input_per_million" mapstructure:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" mapstructure:"output_per_million"`
	Encoding         string  `yaml:"encoding,omitempty" mapstructure:"encoding"`
}

// ConcurrencyConfig bounds parallel service calls
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// RateLimitingConfig paces calls per provider
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// CacheConfig controls memoization of service responses
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// OutputConfig controls run output
type OutputConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-5-mini",
			Timeout:     120,
			MaxTokens:   4000,
			Temperature: 0.1,
			Seed:        7,
			MaxRetries:  3,
		},
		Scan: ScanConfig{
			Role:                 string(RoleBoth),
			ChunkChars:           9000,
			PseudoPageSize:       2500,
			StreamThresholdBytes: 100 << 20,
		},
		Fetch: FetchConfig{
			Timeout:       30,
			UserAgent:     "verbatim/0.1 (+https://github.com/ppiankov/verbatim)",
			MaxBytes:      50 << 20,
			RespectRobots: true,
			MaxRetries:    3,
		},
		Verify: VerifyConfig{
			MinLength:     8,
			CaseSensitive: true,
		},
		Dedupe: DedupeConfig{
			Threshold: 0.85,
			Fuzzy:     true,
			Scope:     DedupeScopeMerged,
		},
		Reconstruct: ReconstructConfig{
			BatchSize:   150,
			BatchChars:  60000,
			Threshold:   0.85,
			Concurrency: 2,
		},
		Cost: CostConfig{
			OutputRatio: 0.3,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			BurstSize:         2,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".verbatim-cache",
			MemoryTTL: time.Hour,
			DiskTTL:   30 * 24 * time.Hour,
		},
		Output: OutputConfig{
			Dir: "out",
		},
	}
}
