//go:build integration

// Package integration runs the sinks against real backing services. Tests
// skip when the service is unreachable.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/table"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/postgres"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "lexcount_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "lexcount"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// skipIfNoPostgres connects and creates the counts table, or skips.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	ctx := context.Background()
	db, err := postgres.New(ctx, testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS perspective_counts (
    run        TEXT NOT NULL,
    doc_id     TEXT NOT NULL,
    counts     JSONB NOT NULL,
    metadata   JSONB,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (run, doc_id)
)`)
	if err != nil {
		t.Fatalf("creating perspective_counts: %v", err)
	}
	return db
}

func TestPostgresSinkUpsertsByRunAndDocument(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	run := "it-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	t.Cleanup(func() {
		db.DB.ExecContext(context.Background(), `DELETE FROM perspective_counts WHERE run = $1`, run)
	})

	sink := table.NewPostgresSink(db)
	first := table.New("counts_merged", "demographic_count")
	first.Append("journal-article-10.2307_1", []int64{4})
	first.Append("journal-article-10.2307_2", []int64{1})
	meta := map[string]map[string]string{"journal-article-10.2307_1": {"journal_title": "ILR Review"}}
	if err := sink.Save(ctx, run, first, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Saving the same run again overwrites instead of appending.
	second := table.New("counts_merged", "demographic_count")
	second.Append("journal-article-10.2307_1", []int64{6})
	if err := sink.Save(ctx, run, second, nil); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	var n int
	if err := db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM perspective_counts WHERE run = $1`, run).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	var data []byte
	var metaRaw *string
	err := db.DB.QueryRowContext(ctx,
		`SELECT counts, metadata FROM perspective_counts WHERE run = $1 AND doc_id = $2`,
		run, "journal-article-10.2307_1").Scan(&data, &metaRaw)
	if err != nil {
		t.Fatal(err)
	}
	var counts map[string]int64
	if err := json.Unmarshal(data, &counts); err != nil {
		t.Fatal(err)
	}
	if counts["demographic_count"] != 6 {
		t.Errorf("demographic_count = %d, want 6 after upsert", counts["demographic_count"])
	}
	if metaRaw != nil {
		t.Errorf("metadata = %s, want NULL after saving without metadata", *metaRaw)
	}
}
