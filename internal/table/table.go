// Package table holds per-document count tables and the operations that
// combine them: concatenating shard tables, summing tables of different
// n-gram lengths, and collapsing repeated document rows.
//
// A Table has an ordered column list and ordered rows, each row a document id
// plus one int64 per column. Column names are unique; when inputs disagree on
// columns, the union is taken in first-occurrence order and missing values
// are zero.
package table

import (
	"fmt"
)

// IDColumn is the header of the document id column in serialized tables.
const IDColumn = "doc_id"

// Row is one document's counts, aligned to the owning table's columns.
type Row struct {
	DocumentID string
	Values     []int64
}

// Table is an in-memory result table. It is not safe for concurrent writes.
type Table struct {
	Name     string
	columns  []string
	colIndex map[string]int
	rows     []Row
}

// New creates an empty table. Repeated column names collapse to their first
// occurrence.
func New(name string, columns ...string) *Table {
	t := &Table{Name: name, colIndex: make(map[string]int, len(columns))}
	for _, c := range columns {
		t.addColumn(c)
	}
	return t
}

func (t *Table) addColumn(name string) int {
	if i, ok := t.colIndex[name]; ok {
		return i
	}
	i := len(t.columns)
	t.columns = append(t.columns, name)
	t.colIndex[name] = i
	for r := range t.rows {
		t.rows[r].Values = append(t.rows[r].Values, 0)
	}
	return i
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Column returns the position of a column.
func (t *Table) Column(name string) (int, bool) {
	i, ok := t.colIndex[name]
	return i, ok
}

// Rows returns the rows in order. Callers must not modify them.
func (t *Table) Rows() []Row {
	return t.rows
}

func (t *Table) Len() int {
	return len(t.rows)
}

// Append adds a row. values must have one entry per column.
func (t *Table) Append(documentID string, values []int64) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("table %s: row %s has %d values, table has %d columns", t.Name, documentID, len(values), len(t.columns))
	}
	v := make([]int64, len(values))
	copy(v, values)
	t.rows = append(t.rows, Row{DocumentID: documentID, Values: v})
	return nil
}

// Value returns the value of column for the first row of documentID.
func (t *Table) Value(documentID, column string) (int64, bool) {
	c, ok := t.colIndex[column]
	if !ok {
		return 0, false
	}
	for _, r := range t.rows {
		if r.DocumentID == documentID {
			return r.Values[c], true
		}
	}
	return 0, false
}

// unionColumns returns the union of the inputs' columns in first-occurrence
// order.
func unionColumns(tables []*Table) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, t := range tables {
		for _, c := range t.columns {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
	}
	return cols
}

// project maps row r of src onto the dst column layout.
func project(dst *Table, src *Table, r Row) []int64 {
	out := make([]int64, len(dst.columns))
	for i, c := range src.columns {
		out[dst.colIndex[c]] = r.Values[i]
	}
	return out
}

// Concat stacks shard tables that share a length set. Rows keep input order;
// a document appearing in more than one input keeps every row until
// Finalize.
func Concat(name string, tables ...*Table) *Table {
	out := New(name, unionColumns(tables)...)
	for _, t := range tables {
		for _, r := range t.rows {
			out.rows = append(out.rows, Row{DocumentID: r.DocumentID, Values: project(out, t, r)})
		}
	}
	return out
}

// SumAcross combines tables of different n-gram lengths: columns are unioned
// and rows for the same document are summed column-wise. A document missing
// from one input contributes zero there. Row order is first appearance
// across the inputs.
func SumAcross(name string, tables ...*Table) *Table {
	return Finalize(Concat(name, tables...))
}

// Finalize collapses rows with the same document id by summing them, keeping
// first-appearance order. Applying it twice yields the same table.
func Finalize(t *Table) *Table {
	out := New(t.Name, t.columns...)
	pos := make(map[string]int, len(t.rows))
	for _, r := range t.rows {
		if i, ok := pos[r.DocumentID]; ok {
			acc := out.rows[i].Values
			for c, v := range r.Values {
				acc[c] += v
			}
			continue
		}
		pos[r.DocumentID] = len(out.rows)
		v := make([]int64, len(r.Values))
		copy(v, r.Values)
		out.rows = append(out.rows, Row{DocumentID: r.DocumentID, Values: v})
	}
	return out
}

// Equal reports whether two tables have the same columns and rows in the
// same order.
func Equal(a, b *Table) bool {
	if len(a.columns) != len(b.columns) || len(a.rows) != len(b.rows) {
		return false
	}
	for i := range a.columns {
		if a.columns[i] != b.columns[i] {
			return false
		}
	}
	for i := range a.rows {
		if a.rows[i].DocumentID != b.rows[i].DocumentID {
			return false
		}
		for c := range a.rows[i].Values {
			if a.rows[i].Values[c] != b.rows[i].Values[c] {
				return false
			}
		}
	}
	return true
}
