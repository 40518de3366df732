package metadata

import (
	"slices"

	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
)

// OtherSubject replaces subjects outside the kept set.
const OtherSubject = "Other"

// Normalizer rewrites journal titles to their canonical form, fills subjects
// from a journal table, and buckets subjects into a small kept set.
type Normalizer struct {
	JournalColumn string
	Aliases       map[string]string
	SubjectColumn string
	Keep          map[string]struct{}
	// Subjects, when set, is keyed by canonical journal title; its
	// SubjectColumn replaces the record's subject.
	Subjects *Table
	// DropEmpty removes records left without a subject.
	DropEmpty bool
}

func NewNormalizer(cfg config.MetadataConfig) *Normalizer {
	n := &Normalizer{
		JournalColumn: cfg.JournalColumn,
		Aliases:       cfg.JournalAliases,
		SubjectColumn: cfg.SubjectColumn,
		DropEmpty:     cfg.DropEmptySubject,
	}
	if len(cfg.KeepSubjects) > 0 {
		n.Keep = make(map[string]struct{}, len(cfg.KeepSubjects))
		for _, s := range cfg.KeepSubjects {
			n.Keep[s] = struct{}{}
		}
	}
	return n
}

// Normalize applies the aliases, the journal subject lookup and the subject
// buckets to r in place. Empty subjects stay empty. Columns that are not
// configured are left alone.
func (n *Normalizer) Normalize(r Record) {
	if n.JournalColumn != "" {
		if alias, ok := n.Aliases[r[n.JournalColumn]]; ok {
			r[n.JournalColumn] = alias
		}
	}
	if n.SubjectColumn == "" {
		return
	}
	if n.Subjects != nil && n.JournalColumn != "" {
		r[n.SubjectColumn] = ""
		if j, ok := n.Subjects.Lookup(r[n.JournalColumn]); ok {
			r[n.SubjectColumn] = j[n.SubjectColumn]
		}
	}
	if n.Keep != nil {
		if s := r[n.SubjectColumn]; s != "" {
			if _, keep := n.Keep[s]; !keep {
				r[n.SubjectColumn] = OtherSubject
			}
		}
	}
}

// Apply normalizes every record of t. It returns how many records were
// changed and how many were dropped for having no subject.
func (n *Normalizer) Apply(t *Table) (changed, dropped int) {
	if n.Subjects != nil && n.SubjectColumn != "" && !slices.Contains(t.Columns, n.SubjectColumn) {
		t.Columns = append(t.Columns, n.SubjectColumn)
	}
	kept := t.order[:0]
	for _, key := range t.order {
		r := t.rows[key]
		journal, subject := r[n.JournalColumn], r[n.SubjectColumn]
		n.Normalize(r)
		if n.DropEmpty && n.SubjectColumn != "" && r[n.SubjectColumn] == "" {
			delete(t.rows, key)
			dropped++
			continue
		}
		if r[n.JournalColumn] != journal || r[n.SubjectColumn] != subject {
			changed++
		}
		kept = append(kept, key)
	}
	t.order = kept
	return changed, dropped
}
