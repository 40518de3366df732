package metadata

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/fsutil"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/table"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

// Mismatch is a count row with no metadata.
type Mismatch struct {
	DocumentID string
	Key        string
	Err        error
}

// Report summarizes a join.
type Report struct {
	Matched    int
	Mismatches []Mismatch
	// Unconventional lists ids that do not contain a hyphen, whose key is
	// the id itself.
	Unconventional []string
	Dropped        int
}

// Joined is the merged count table with one metadata record per kept row.
type Joined struct {
	Counts      *table.Table
	MetaColumns []string
	Metadata    map[string]Record
}

// Join left-joins meta onto counts by derived key. With the drop policy rows
// without metadata are removed; with keep they stay with empty metadata.
func Join(counts *table.Table, meta *Table, policy string) (*Joined, *Report, error) {
	if policy != config.MismatchKeep && policy != config.MismatchDrop {
		return nil, nil, apperrors.Invalidf("unknown mismatch policy %q", policy)
	}
	log := slog.Default().With("component", "metadata-join")

	var metaCols []string
	for _, c := range meta.Columns {
		if c != meta.KeyColumn {
			metaCols = append(metaCols, c)
		}
	}
	out := &Joined{
		Counts:      table.New(counts.Name, counts.Columns()...),
		MetaColumns: metaCols,
		Metadata:    make(map[string]Record, counts.Len()),
	}
	report := &Report{}

	for _, row := range counts.Rows() {
		key, ok := DeriveKey(row.DocumentID)
		if !ok {
			report.Unconventional = append(report.Unconventional, row.DocumentID)
		}
		rec, found := meta.Lookup(key)
		if !found {
			report.Mismatches = append(report.Mismatches, Mismatch{
				DocumentID: row.DocumentID,
				Key:        key,
				Err:        fmt.Errorf("%w: no metadata for key %q (document %s)", apperrors.ErrJoinKeyMismatch, key, row.DocumentID),
			})
			if policy == config.MismatchDrop {
				report.Dropped++
				continue
			}
		} else {
			report.Matched++
			out.Metadata[row.DocumentID] = rec
		}
		if err := out.Counts.Append(row.DocumentID, row.Values); err != nil {
			return nil, nil, err
		}
	}

	if len(report.Mismatches) > 0 || len(report.Unconventional) > 0 {
		log.Warn("join key mismatches",
			"mismatches", len(report.Mismatches),
			"unconventional_ids", len(report.Unconventional),
			"dropped", report.Dropped,
			"policy", policy,
		)
	}
	log.Info("metadata joined", "rows", out.Counts.Len(), "matched", report.Matched)
	return out, report, nil
}

// Encode writes the joined table as CSV: doc_id, count columns, then the
// metadata columns.
func (j *Joined) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	cols := j.Counts.Columns()
	header := make([]string, 0, 1+len(cols)+len(j.MetaColumns))
	header = append(header, table.IDColumn)
	header = append(header, cols...)
	header = append(header, j.MetaColumns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for _, row := range j.Counts.Rows() {
		rec[0] = row.DocumentID
		for i, v := range row.Values {
			rec[1+i] = strconv.FormatInt(v, 10)
		}
		m := j.Metadata[row.DocumentID]
		for i, c := range j.MetaColumns {
			rec[1+len(cols)+i] = m[c]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV writes the joined table to path atomically.
func (j *Joined) WriteCSV(path string) error {
	return fsutil.WriteFileAtomic(path, j.Encode)
}

// MetadataByDocument returns the metadata records keyed by document id, for
// sinks that store them alongside the counts.
func (j *Joined) MetadataByDocument() map[string]map[string]string {
	out := make(map[string]map[string]string, len(j.Metadata))
	for id, r := range j.Metadata {
		out[id] = r
	}
	return out
}
