package table

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps any number of named tables in one SQLite file. Columns
// vary per table, so rows are stored as JSON arrays aligned to the column
// list recorded for the table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS result_tables (
	name    TEXT PRIMARY KEY,
	columns TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS result_rows (
	table_name TEXT NOT NULL,
	position   INTEGER NOT NULL,
	doc_id     TEXT NOT NULL,
	counts     TEXT NOT NULL,
	PRIMARY KEY(table_name, position),
	FOREIGN KEY(table_name) REFERENCES result_tables(name) ON DELETE CASCADE
);
`

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite schema: %w", err)
	}
	return &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "sqlite-store"),
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces the table stored under t.Name.
func (s *SQLiteStore) Save(ctx context.Context, t *Table) error {
	cols, err := json.Marshal(t.columns)
	if err != nil {
		return fmt.Errorf("encoding columns: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM result_tables WHERE name = ?`, t.Name); err != nil {
		return fmt.Errorf("clearing table %s: %w", t.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO result_tables (name, columns) VALUES (?, ?)`, t.Name, string(cols)); err != nil {
		return fmt.Errorf("registering table %s: %w", t.Name, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO result_rows (table_name, position, doc_id, counts) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing row insert: %w", err)
	}
	defer stmt.Close()
	for i, r := range t.rows {
		counts, err := json.Marshal(r.Values)
		if err != nil {
			return fmt.Errorf("encoding row %s: %w", r.DocumentID, err)
		}
		if _, err := stmt.ExecContext(ctx, t.Name, i, r.DocumentID, string(counts)); err != nil {
			return fmt.Errorf("inserting row %s: %w", r.DocumentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing table %s: %w", t.Name, err)
	}
	s.logger.Debug("table saved", "table", t.Name, "rows", len(t.rows))
	return nil
}

// Load reads the table stored under name. A missing table returns
// sql.ErrNoRows.
func (s *SQLiteStore) Load(ctx context.Context, name string) (*Table, error) {
	var cols string
	err := s.db.QueryRowContext(ctx, `SELECT columns FROM result_tables WHERE name = ?`, name).Scan(&cols)
	if err != nil {
		return nil, fmt.Errorf("loading table %s: %w", name, err)
	}
	var columns []string
	if err := json.Unmarshal([]byte(cols), &columns); err != nil {
		return nil, fmt.Errorf("decoding columns of %s: %w", name, err)
	}
	t := New(name, columns...)

	rows, err := s.db.QueryContext(ctx, `SELECT doc_id, counts FROM result_rows WHERE table_name = ? ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("querying rows of %s: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, counts string
		if err := rows.Scan(&id, &counts); err != nil {
			return nil, fmt.Errorf("scanning row of %s: %w", name, err)
		}
		var values []int64
		if err := json.Unmarshal([]byte(counts), &values); err != nil {
			return nil, fmt.Errorf("decoding row %s of %s: %w", id, name, err)
		}
		if err := t.Append(id, values); err != nil {
			return nil, err
		}
	}
	return t, rows.Err()
}

// Names lists stored tables in name order.
func (s *SQLiteStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM result_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
