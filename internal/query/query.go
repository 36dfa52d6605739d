// Package query turns free text into safe FTS5 match expressions.
//
// BuildSafeQuery is the only place a MATCH predicate is assembled; callers
// must pass its output through unchanged and skip full-text search when it
// is empty.
package query

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	latinRun = regexp.MustCompile(`[A-Za-z0-9_./:\-]{3,}`)
	hanRun   = regexp.MustCompile(`\p{Han}{2,6}`)
)

// ExtractTerms returns up to limit candidate search terms from text, in
// discovery order. Latin and path-like runs come first; CJK runs are only
// considered when the Latin pass leaves room.
func ExtractTerms(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}

	c := collector{limit: limit, seen: make(map[string]bool)}
	for _, m := range latinRun.FindAllString(text, -1) {
		if c.add(m) {
			return c.terms
		}
	}

	for _, m := range hanRun.FindAllString(text, -1) {
		if c.add(m) {
			return c.terms
		}
		r := []rune(m)
		if len(r) < 4 {
			continue
		}
		mid := (len(r) - 2) / 2
		for _, sub := range []string{string(r[:2]), string(r[len(r)-2:]), string(r[mid : mid+2])} {
			if c.add(sub) {
				return c.terms
			}
		}
	}
	return c.terms
}

// BuildSafeQuery returns an FTS5 expression of the form `a* OR b*`, or ""
// when text yields no usable terms. Terms are lowercased: FTS5 operators
// (AND, OR, NOT, NEAR) are only recognised in upper case, and the unicode61
// tokenizer folds case anyway.
func BuildSafeQuery(text string, limit int) string {
	terms := ExtractTerms(text, limit)
	if len(terms) == 0 {
		return ""
	}

	parts := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		clean := strings.ToLower(Sanitize(t))
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		parts = append(parts, clean+"*")
	}
	return strings.Join(parts, " OR ")
}

// Sanitize strips every rune that is not an ASCII letter, digit, underscore
// or Han ideograph.
func Sanitize(term string) string {
	var b strings.Builder
	b.Grow(len(term))
	for _, r := range term {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case unicode.Is(unicode.Han, r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

type collector struct {
	limit int
	seen  map[string]bool
	terms []string
}

// add records term if new and reports whether the limit has been reached.
func (c *collector) add(term string) bool {
	if !c.seen[term] {
		c.seen[term] = true
		c.terms = append(c.terms, term)
	}
	return len(c.terms) >= c.limit
}
