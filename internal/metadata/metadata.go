// Package metadata loads the flat per-document metadata table, normalizes
// journal and subject fields, and left-joins it onto the merged counts.
//
// Counts are keyed by document id and metadata by a key derived from it: the
// part of the id after its last hyphen, so journal-article-10.2307_2065002
// joins to 10.2307_2065002. The convention is assumed, not guaranteed; ids
// that do not follow it and keys with no metadata are reported, never fatal.
package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Record is one metadata row keyed by column name.
type Record map[string]string

// Table is a metadata table indexed by its key column.
type Table struct {
	KeyColumn string
	Columns   []string
	rows      map[string]Record
	order     []string
}

// NewTable creates an empty table with the given columns. The key column is
// added first if missing.
func NewTable(keyColumn string, columns ...string) *Table {
	t := &Table{KeyColumn: keyColumn, rows: make(map[string]Record)}
	t.Columns = append(t.Columns, keyColumn)
	for _, c := range columns {
		if c != keyColumn {
			t.Columns = append(t.Columns, c)
		}
	}
	return t
}

// Add inserts a record. A record whose key is already present is ignored and
// Add returns false.
func (t *Table) Add(r Record) bool {
	key := r[t.KeyColumn]
	if _, dup := t.rows[key]; dup {
		return false
	}
	t.rows[key] = r
	t.order = append(t.order, key)
	return true
}

// Lookup returns the record for key.
func (t *Table) Lookup(key string) (Record, bool) {
	r, ok := t.rows[key]
	return r, ok
}

func (t *Table) Len() int {
	return len(t.order)
}

// Keys returns the keys in load order.
func (t *Table) Keys() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// LoadCSV reads a metadata CSV with a header row. keyColumn must be one of
// the header names. Rows with an empty key are skipped; for a repeated key
// the first row wins.
func LoadCSV(path, keyColumn string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata %s: %w", path, err)
	}
	defer f.Close()
	t, err := Decode(f, keyColumn)
	if err != nil {
		return nil, fmt.Errorf("reading metadata %s: %w", path, err)
	}
	return t, nil
}

// Decode parses metadata CSV from r.
func Decode(r io.Reader, keyColumn string) (*Table, error) {
	log := slog.Default().With("component", "metadata")
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header")
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	keyIdx := -1
	for i, h := range header {
		if h == keyColumn {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, fmt.Errorf("key column %q not in header %v", keyColumn, header)
	}

	t := NewTable(keyColumn, header...)
	dups, blanks := 0, 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if keyIdx >= len(rec) || strings.TrimSpace(rec[keyIdx]) == "" {
			blanks++
			continue
		}
		row := make(Record, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		if !t.Add(row) {
			dups++
		}
	}
	if dups > 0 || blanks > 0 {
		log.Warn("metadata rows ignored", "duplicate_keys", dups, "blank_keys", blanks)
	}
	return t, nil
}

// DeriveKey returns the part of documentID after its last hyphen. ok is false
// when the id has no hyphen (or ends in one); the id is then returned
// unchanged.
func DeriveKey(documentID string) (key string, ok bool) {
	i := strings.LastIndexByte(documentID, '-')
	if i < 0 || i == len(documentID)-1 {
		return documentID, false
	}
	return documentID[i+1:], true
}
