package model

import (
	"fmt"
	"strings"
)

// Role identifies who authored a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleBoth      Role = "both" // no filtering
)

// ParseRole validates a role filter value. Empty means both.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	case RoleBoth, "":
		return RoleBoth, nil
	default:
		return "", fmt.Errorf("invalid role filter %q (supported: user, assistant, both)", s)
	}
}

// Accepts reports whether a message authored by role passes the filter
func (r Role) Accepts(role string) bool {
	if r == RoleBoth || r == "" {
		return true
	}
	return strings.EqualFold(string(r), role)
}

// Locator points at the place in a source a chunk (and every quote taken
// from it) came from. Pages are 1-based and inclusive; conversation exports
// are numbered in pseudo-pages.
type Locator struct {
	File         string `json:"file,omitempty"`
	PageStart    int    `json:"page_start"`
	PageEnd      int    `json:"page_end"`
	Conversation string `json:"conversation,omitempty"`
}

// String renders the locator as a compact citation, e.g. "notes.pdf p.3-5"
func (l Locator) String() string {
	var b strings.Builder
	if l.File != "" {
		b.WriteString(l.File)
		b.WriteString(" ")
	}
	if l.PageStart == l.PageEnd {
		fmt.Fprintf(&b, "p.%d", l.PageStart)
	} else {
		fmt.Fprintf(&b, "p.%d-%d", l.PageStart, l.PageEnd)
	}
	if l.Conversation != "" {
		fmt.Fprintf(&b, " [%s]", l.Conversation)
	}
	return b.String()
}

// Contains reports whether page lies inside the locator's page range
func (l Locator) Contains(page int) bool {
	return page >= l.PageStart && page <= l.PageEnd
}

// Chunk is one bounded unit of source text submitted to the extraction
// service. Seq is the chunk's position in the run, starting at 0.
type Chunk struct {
	Seq     int
	Locator Locator
	Text    string
}

// Page is one page (or conversation pseudo-page) of source text
type Page struct {
	File         string
	Number       int
	Conversation string
	Text         string
}
