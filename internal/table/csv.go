package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/fsutil"
)

// WriteCSV writes t to path atomically with a doc_id header followed by the
// table columns.
func WriteCSV(path string, t *Table) error {
	return fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		return Encode(w, t)
	})
}

// Encode writes t as CSV to w.
func Encode(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	header := append([]string{IDColumn}, t.columns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for _, r := range t.rows {
		rec[0] = r.DocumentID
		for i, v := range r.Values {
			rec[i+1] = strconv.FormatInt(v, 10)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV loads a table written by WriteCSV. The table is named name.
func ReadCSV(path, name string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening table %s: %w", path, err)
	}
	defer f.Close()
	t, err := Decode(f, name)
	if err != nil {
		return nil, fmt.Errorf("reading table %s: %w", path, err)
	}
	return t, nil
}

// Decode parses a CSV table. The first column must be the document id.
func Decode(r io.Reader, name string) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty table file: missing header")
	}
	if err != nil {
		return nil, err
	}
	if len(header) == 0 || header[0] != IDColumn {
		return nil, fmt.Errorf("first column is %q, want %q", first(header), IDColumn)
	}
	t := New(name, header[1:]...)
	if len(t.columns) != len(header)-1 {
		return nil, errors.New("duplicate column in header")
	}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		values := make([]int64, len(rec)-1)
		for i, s := range rec[1:] {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[i+1], err)
			}
			values[i] = v
		}
		t.rows = append(t.rows, Row{DocumentID: rec[0], Values: values})
	}
	return t, nil
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
