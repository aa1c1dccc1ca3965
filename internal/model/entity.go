package model

import "strings"

// EntityStatus is how far along a reconstructed app/tool got
type EntityStatus string

const (
	StatusIdea       EntityStatus = "idea"
	StatusInProgress EntityStatus = "in_progress"
	StatusShipped    EntityStatus = "shipped"
	StatusUnknown    EntityStatus = "unknown"
)

// ParseStatus maps service vocabulary onto the four statuses
func ParseStatus(s string) EntityStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idea", "concept":
		return StatusIdea
	case "in_progress", "in progress", "prototype", "partial", "wip":
		return StatusInProgress
	case "shipped", "built", "released", "done":
		return StatusShipped
	default:
		return StatusUnknown
	}
}

// Rank orders statuses by how much progress they represent
func (s EntityStatus) Rank() int {
	switch s {
	case StatusIdea:
		return 1
	case StatusInProgress:
		return 2
	case StatusShipped:
		return 3
	default:
		return 0
	}
}

// EntityEvidence is one quote backing an entity
type EntityEvidence struct {
	Locator Locator `json:"locator"`
	Quote   string  `json:"quote"`
}

// Entity is a reconstructed app or tool. Merges are additive: evidence and
// names are unioned, never dropped.
type Entity struct {
	Title         string           `json:"title"`
	Summary       string           `json:"summary"`
	Status        EntityStatus     `json:"status"`
	Evidence      []EntityEvidence `json:"evidence"`
	NamesDetected []string         `json:"names_detected,omitempty"`
}
