package model

// CandidateQuote is what the extraction service claims to have found in a
// chunk. Nothing about it is trusted until verified.
type CandidateQuote struct {
	Quote     string   `json:"quote"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	PageStart int      `json:"page_start,omitempty"`
	PageEnd   int      `json:"page_end,omitempty"`
}

// QuoteRecord is a verified, canonical quote. Quote text never changes once
// stored; duplicates only extend Provenance.
type QuoteRecord struct {
	Quote          string    `json:"quote"`
	Category       string    `json:"category"`
	Tags           []string  `json:"tags"`
	PageStart      int       `json:"page_start"` // citation pages reported for the first observation,
	PageEnd        int       `json:"page_end"`   // clamped into Locator's range
	Locator        Locator   `json:"locator"`    // first-seen source
	Provenance     []Locator `json:"provenance"` // every observation, first-seen first
	Verified       bool      `json:"verified"`
	FirstSeenRunID string    `json:"first_seen_run_id"`
	Seq            int       `json:"seq"` // first-seen order within the run
}

// LeadTag returns the first tag, or "untagged"
func (q QuoteRecord) LeadTag() string {
	if len(q.Tags) == 0 || q.Tags[0] == "" {
		return Untagged
	}
	return q.Tags[0]
}

// CategoryOrUntagged returns the category, or "untagged"
func (q QuoteRecord) CategoryOrUntagged() string {
	if q.Category == "" {
		return Untagged
	}
	return q.Category
}

// Untagged is used wherever a grouping key is missing
const Untagged = "untagged"
