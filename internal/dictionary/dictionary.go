// Package dictionary loads perspective term lists and answers exact-match
// membership queries bucketed by n-gram length.
//
// Terms are stored in canonical form: tokens joined by a single separator
// (default "_"). Dictionary files may separate the tokens of a multi-word term
// with commas, spaces or underscores; all are folded onto the separator when
// the file is loaded. Corpus terms use a space between tokens, and
// Store.Canonical maps that onto the same separator. That mapping is the only
// normalization shared between the corpus and the dictionaries.
package dictionary

import (
	"fmt"
	"strings"
)

// MaxTermLength is the longest n-gram a term may span.
const MaxTermLength = 3

// Set is a membership set of canonical terms.
type Set map[string]struct{}

// Has reports whether term is in the set.
func (s Set) Has(term string) bool {
	_, ok := s[term]
	return ok
}

// Dictionary is an immutable, de-duplicated term list for one perspective.
// It is safe for concurrent reads.
type Dictionary struct {
	Name    string
	sep     string
	terms   []string
	buckets [MaxTermLength + 1]Set
}

// New builds a Dictionary from raw term strings. Blank entries are ignored,
// duplicates (after normalization) are dropped keeping the first occurrence,
// and a term of more than MaxTermLength tokens is an error.
func New(name, sep string, raw []string) (*Dictionary, error) {
	d := &Dictionary{Name: name, sep: sep}
	for n := 1; n <= MaxTermLength; n++ {
		d.buckets[n] = make(Set)
	}
	for i, r := range raw {
		term, n := Normalize(r, sep)
		if n == 0 {
			continue
		}
		if n > MaxTermLength {
			return nil, fmt.Errorf("entry %d %q has %d tokens (max %d)", i+1, r, n, MaxTermLength)
		}
		if d.buckets[n].Has(term) {
			continue
		}
		d.buckets[n][term] = struct{}{}
		d.terms = append(d.terms, term)
	}
	return d, nil
}

// Normalize splits raw on commas, whitespace and underscores and joins the
// tokens with sep. It returns the canonical term and its token count.
func Normalize(raw, sep string) (string, int) {
	tokens := strings.FieldsFunc(raw, isTokenSeparator)
	return strings.Join(tokens, sep), len(tokens)
}

func isTokenSeparator(r rune) bool {
	switch r {
	case ',', '_', ' ', '\t', '\r', '\n':
		return true
	}
	return false
}

// Len returns the number of distinct terms.
func (d *Dictionary) Len() int {
	return len(d.terms)
}

// Terms returns the canonical terms in load order.
func (d *Dictionary) Terms() []string {
	out := make([]string, len(d.terms))
	copy(out, d.terms)
	return out
}

// Bucket returns the terms of exactly n tokens. The returned set must not be
// modified. Lengths outside 1..MaxTermLength yield an empty set.
func (d *Dictionary) Bucket(n int) Set {
	if n < 1 || n > MaxTermLength {
		return Set{}
	}
	return d.buckets[n]
}

// Contains reports whether the canonical term is in the dictionary.
func (d *Dictionary) Contains(term string) bool {
	for n := 1; n <= MaxTermLength; n++ {
		if d.buckets[n].Has(term) {
			return true
		}
	}
	return false
}
