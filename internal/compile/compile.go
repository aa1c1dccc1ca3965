// Package compile groups verified quotes into themed bundles. Bundles carry
// quote text exactly as stored; the only generated text is an optional
// heading.
package compile

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/verbatim/internal/model"
)

// Key groups quotes by category and lead tag. Tag order matters: the lead
// tag is the first one the extraction service gave.
type Key struct {
	Category string
	LeadTag  string
}

// KeyOf returns the grouping key of a quote, "untagged" standing in for a
// missing category or tag
func KeyOf(q model.QuoteRecord) Key {
	return Key{
		Category: strings.TrimSpace(q.CategoryOrUntagged()),
		LeadTag:  strings.TrimSpace(q.LeadTag()),
	}
}

// String renders the key as "category × tag"
func (k Key) String() string {
	return k.Category + " × " + k.LeadTag
}

// Bundle is one group of quotes in first-seen order
type Bundle struct {
	Key     Key
	Slug    string // file name stem, unique within a compilation
	Heading string // optional generated heading, empty when not requested or rejected
	Quotes  []model.QuoteRecord
}

// Compilation is the full set of bundles, ordered by the first appearance of
// each key in the input
type Compilation struct {
	Bundles []*Bundle
	byKey   map[Key]*Bundle
}

// Get returns the bundle for a key
func (c *Compilation) Get(k Key) (*Bundle, bool) {
	b, ok := c.byKey[k]
	return b, ok
}

// Len returns the number of bundles
func (c *Compilation) Len() int {
	return len(c.Bundles)
}

// Compile groups quotes. The input must already be in first-seen order, as
// the quote store returns it; that order is kept inside every bundle.
func Compile(quotes []model.QuoteRecord) *Compilation {
	c := &Compilation{byKey: make(map[Key]*Bundle)}
	slugs := make(map[string]int)

	for _, q := range quotes {
		k := KeyOf(q)
		b, ok := c.byKey[k]
		if !ok {
			b = &Bundle{Key: k, Slug: uniqueSlug(Slugify(k.String()), slugs)}
			c.byKey[k] = b
			c.Bundles = append(c.Bundles, b)
		}
		b.Quotes = append(b.Quotes, q)
	}
	return c
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses everything but ASCII letters and digits
// into single dashes
func Slugify(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return model.Untagged
	}
	return slug
}

// uniqueSlug suffixes -2, -3, ... when distinct keys collapse to one slug
func uniqueSlug(slug string, seen map[string]int) string {
	seen[slug]++
	n := seen[slug]
	if n == 1 {
		return slug
	}
	candidate := slug + "-" + strconv.Itoa(n)
	for seen[candidate] > 0 {
		n++
		candidate = slug + "-" + strconv.Itoa(n)
	}
	seen[candidate]++
	return candidate
}
