package dictionary

import (
	"fmt"
	"strings"
)

// Store holds the dictionaries of one run in perspective order, with the
// per-length buckets laid out for the counting hot loop.
type Store struct {
	sep          string
	dictionaries []*Dictionary
	index        map[string]int
	byLength     [MaxTermLength + 1][]Set
}

// NewStore orders the dictionaries as given. Perspective names must be
// unique.
func NewStore(sep string, dicts ...*Dictionary) (*Store, error) {
	s := &Store{
		sep:          sep,
		dictionaries: dicts,
		index:        make(map[string]int, len(dicts)),
	}
	for i, d := range dicts {
		if _, dup := s.index[d.Name]; dup {
			return nil, fmt.Errorf("perspective %q loaded twice", d.Name)
		}
		s.index[d.Name] = i
	}
	for n := 1; n <= MaxTermLength; n++ {
		sets := make([]Set, len(dicts))
		for i, d := range dicts {
			sets[i] = d.Bucket(n)
		}
		s.byLength[n] = sets
	}
	return s, nil
}

// Separator returns the canonical token separator.
func (s *Store) Separator() string {
	return s.sep
}

// Perspectives returns perspective names in store order.
func (s *Store) Perspectives() []string {
	names := make([]string, len(s.dictionaries))
	for i, d := range s.dictionaries {
		names[i] = d.Name
	}
	return names
}

// Dictionary returns the dictionary for a perspective.
func (s *Store) Dictionary(perspective string) (*Dictionary, bool) {
	i, ok := s.index[perspective]
	if !ok {
		return nil, false
	}
	return s.dictionaries[i], true
}

// BucketsByLength returns one set per perspective (in store order) holding
// the terms of exactly n tokens.
func (s *Store) BucketsByLength(n int) []Set {
	if n < 1 || n > MaxTermLength {
		return nil
	}
	return s.byLength[n]
}

// Contains reports whether term, already canonical, is in the length-n
// bucket of perspective. No normalization is applied.
func (s *Store) Contains(term, perspective string, length int) bool {
	i, ok := s.index[perspective]
	if !ok || length < 1 || length > MaxTermLength {
		return false
	}
	return s.byLength[length][i].Has(term)
}

// Canonical maps a corpus term (tokens separated by single spaces) onto the
// dictionary separator.
func (s *Store) Canonical(term string) string {
	if s.sep == " " || strings.IndexByte(term, ' ') < 0 {
		return term
	}
	return strings.ReplaceAll(term, " ", s.sep)
}
