package table

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/postgres"
)

// PostgresSink upserts final tables into PostgreSQL, one row per run and
// document, so merging the same shard set again overwrites rather than
// appends.
//
// It requires a `perspective_counts` table:
//
//	CREATE TABLE perspective_counts (
//	    run        TEXT NOT NULL,
//	    doc_id     TEXT NOT NULL,
//	    counts     JSONB NOT NULL,
//	    metadata   JSONB,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (run, doc_id)
//	);
type PostgresSink struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresSink(db *postgres.Client) *PostgresSink {
	return &PostgresSink{
		db:     db,
		logger: slog.Default().With("component", "postgres-sink"),
	}
}

const upsertCounts = `
INSERT INTO perspective_counts (run, doc_id, counts, metadata, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (run, doc_id)
DO UPDATE SET counts = EXCLUDED.counts, metadata = EXCLUDED.metadata, updated_at = NOW()`

// countRow is one upsert: JSON counts and optional JSON metadata.
type countRow struct {
	DocumentID string
	Counts     string
	Metadata   any
}

// encodeRows renders the rows of t for the upsert. Documents without a
// metadata entry get a nil Metadata, stored as NULL.
func encodeRows(t *Table, metadata map[string]map[string]string) ([]countRow, error) {
	rows := make([]countRow, 0, len(t.rows))
	for _, r := range t.rows {
		counts := make(map[string]int64, len(t.columns))
		for i, c := range t.columns {
			counts[c] = r.Values[i]
		}
		data, err := json.Marshal(counts)
		if err != nil {
			return nil, fmt.Errorf("encoding counts for %s: %w", r.DocumentID, err)
		}
		row := countRow{DocumentID: r.DocumentID, Counts: string(data)}
		if m, ok := metadata[r.DocumentID]; ok {
			meta, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("encoding metadata for %s: %w", r.DocumentID, err)
			}
			row.Metadata = string(meta)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Save writes every row of t under run. metadata, keyed by document id, may
// be nil.
func (s *PostgresSink) Save(ctx context.Context, run string, t *Table, metadata map[string]map[string]string) error {
	rows, err := encodeRows(t, metadata)
	if err != nil {
		return err
	}
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertCounts)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, run, r.DocumentID, r.Counts, r.Metadata); err != nil {
				return fmt.Errorf("upserting %s: %w", r.DocumentID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving table %s to postgres: %w", t.Name, err)
	}
	s.logger.Info("table saved to postgres", "run", run, "table", t.Name, "rows", len(rows))
	return nil
}
