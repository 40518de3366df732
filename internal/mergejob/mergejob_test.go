package mergejob

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/counting"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/events"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/table"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/metrics"
)

// writePart writes a shard table and its aggregate the way a worker does.
func writePart(t *testing.T, dir, tag string, index int, cols []string, rows map[string][]int64, order ...string) {
	t.Helper()
	tb := table.New("part", cols...)
	agg := make([]int64, len(cols))
	for _, id := range order {
		if err := tb.Append(id, rows[id]); err != nil {
			t.Fatal(err)
		}
		for i, v := range rows[id] {
			agg[i] += v
		}
	}
	aggTable := table.New("agg", cols...)
	aggTable.Append(counting.CorpusRowID, agg)

	tablePath, aggPath, _ := worker.Paths(dir, tag, index)
	if err := table.WriteCSV(tablePath, tb); err != nil {
		t.Fatal(err)
	}
	if err := table.WriteCSV(aggPath, aggTable); err != nil {
		t.Fatal(err)
	}
}

var (
	cols1 = []string{"ngram_1_count", "demographic_1_count"}
	cols2 = []string{"ngram_2_count", "demographic_2_count"}
)

func twoLengthRun(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePart(t, dir, "1", 1, cols1, map[string][]int64{
		"journal-article-10.2307_1": {10, 3},
		"journal-article-10.2307_2": {5, 1},
	}, "journal-article-10.2307_1", "journal-article-10.2307_2")
	writePart(t, dir, "1", 2, cols1, map[string][]int64{
		"journal-article-10.2307_3": {7, 0},
	}, "journal-article-10.2307_3")
	writePart(t, dir, "2", 1, cols2, map[string][]int64{
		"journal-article-10.2307_1": {4, 2},
		"journal-article-10.2307_2": {1, 0},
	}, "journal-article-10.2307_1", "journal-article-10.2307_2")
	writePart(t, dir, "2", 2, cols2, map[string][]int64{
		"journal-article-10.2307_3": {2, 1},
	}, "journal-article-10.2307_3")
	return dir
}

func TestDiscover(t *testing.T) {
	dir := twoLengthRun(t)
	os.WriteFile(filepath.Join(dir, "ngram1_part1.log"), []byte("x"), 0o644)
	found, err := Discover(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || len(found["1"]) != 2 || len(found["2"]) != 2 {
		t.Errorf("found = %v", found)
	}
}

func TestMergeAcrossShardsAndLengths(t *testing.T) {
	dir := twoLengthRun(t)
	m := metrics.New()
	merger := &Merger{OutDir: dir, Run: "r", Owner: "o", Metrics: m}

	out, err := merger.Merge(context.Background())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out.Total != 2 || strings.Join(out.Tags, ",") != "1,2" {
		t.Errorf("tags = %v total = %d", out.Tags, out.Total)
	}

	got, err := table.ReadCSV(out.MergedPath, "merged")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got.Columns(), ",") != "ngram_1_count,demographic_1_count,ngram_2_count,demographic_2_count" {
		t.Errorf("columns = %v", got.Columns())
	}
	if got.Len() != 3 {
		t.Fatalf("rows = %d, want 3", got.Len())
	}
	if v, _ := got.Value("journal-article-10.2307_3", "demographic_2_count"); v != 1 {
		t.Errorf("doc3 demographic_2 = %d", v)
	}
	if got.Rows()[0].DocumentID != "journal-article-10.2307_1" {
		t.Errorf("first row = %s", got.Rows()[0].DocumentID)
	}

	agg, err := table.ReadCSV(out.AggregatePath, "agg")
	if err != nil {
		t.Fatal(err)
	}
	if agg.Len() != 1 {
		t.Fatalf("aggregate rows = %d", agg.Len())
	}
	if v, _ := agg.Value(counting.CorpusRowID, "demographic_1_count"); v != 4 {
		t.Errorf("aggregate demographic_1 = %d, want 4", v)
	}
	if v, _ := agg.Value(counting.CorpusRowID, "ngram_2_count"); v != 7 {
		t.Errorf("aggregate ngram_2 = %d, want 7", v)
	}

	if n := testutil.ToFloat64(m.TablesMerged); n != 4 {
		t.Errorf("tables merged = %v", n)
	}
	if n := testutil.ToFloat64(m.MergedRows); n != 3 {
		t.Errorf("merged rows = %v", n)
	}
}

func TestMergeIsReproducible(t *testing.T) {
	dir := twoLengthRun(t)
	first, err := (&Merger{OutDir: dir}).Merge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	firstBytes, _ := os.ReadFile(first.MergedPath)
	second, err := (&Merger{OutDir: dir}).Merge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	secondBytes, _ := os.ReadFile(second.MergedPath)
	if string(firstBytes) != string(secondBytes) {
		t.Error("re-merging produced different output")
	}
}

func TestMergeRefusesIncompleteSet(t *testing.T) {
	dir := twoLengthRun(t)
	os.Remove(filepath.Join(dir, "ngram2_part2.csv"))

	_, err := (&Merger{OutDir: dir}).Merge(context.Background())
	if !errors.Is(err, apperrors.ErrIncompleteShardSet) {
		t.Fatalf("expected ErrIncompleteShardSet, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, MergedName+".csv")); !os.IsNotExist(err) {
		t.Error("merged table written for an incomplete set")
	}

	_, err = (&Merger{OutDir: dir, Tags: []string{"1"}, Total: 3}).Merge(context.Background())
	if !errors.Is(err, apperrors.ErrIncompleteShardSet) {
		t.Fatalf("expected ErrIncompleteShardSet for total 3, got %v", err)
	}

	_, err = (&Merger{OutDir: t.TempDir()}).Merge(context.Background())
	if !errors.Is(err, apperrors.ErrIncompleteShardSet) {
		t.Fatalf("expected ErrIncompleteShardSet for empty dir, got %v", err)
	}
}

func TestMergeRejectsOverlappingLengthSets(t *testing.T) {
	dir := t.TempDir()
	writePart(t, dir, "1", 1, cols1, map[string][]int64{"d1": {10, 3}}, "d1")
	writePart(t, dir, "123", 1, cols1, map[string][]int64{"d1": {10, 3}}, "d1")

	_, err := (&Merger{OutDir: dir}).Merge(context.Background())
	if !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for ngram1 + ngram123, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, MergedName+".csv")); !os.IsNotExist(err) {
		t.Error("merged table written for overlapping length sets")
	}

	out, err := (&Merger{OutDir: dir, Tags: []string{"123"}}).Merge(context.Background())
	if err != nil {
		t.Fatalf("Merge with --tags 123: %v", err)
	}
	if v, _ := out.Merged.Value("d1", "demographic_1_count"); v != 3 {
		t.Errorf("demographic_1_count = %d, want 3", v)
	}
}

func TestMergeChecksLedgerAndLock(t *testing.T) {
	ctx := context.Background()
	dir := twoLengthRun(t)
	l := ledger.New(ledger.NewMemoryBackend(), "lx", time.Hour)

	_, err := (&Merger{OutDir: dir, Run: "r", Owner: "a", Tags: []string{"1"}, Ledger: l}).Merge(ctx)
	if !errors.Is(err, apperrors.ErrIncompleteShardSet) {
		t.Fatalf("expected ErrIncompleteShardSet without ledger entries, got %v", err)
	}

	for i := 1; i <= 2; i++ {
		l.MarkComplete(ctx, "r", "1", ledger.Completion{Shard: i, Total: 2})
	}
	if _, err := (&Merger{OutDir: dir, Run: "r", Owner: "a", Tags: []string{"1"}, Ledger: l}).Merge(ctx); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	_, err = (&Merger{OutDir: dir, Run: "r", Owner: "b", Tags: []string{"1"}, Ledger: l}).Merge(ctx)
	if !errors.Is(err, apperrors.ErrMergeLocked) {
		t.Fatalf("expected ErrMergeLocked, got %v", err)
	}
	if _, err := (&Merger{OutDir: dir, Run: "r", Owner: "b", Tags: []string{"1"}, Ledger: l, Force: true}).Merge(ctx); err != nil {
		t.Fatalf("forced Merge: %v", err)
	}
}

func TestMergeReleasesLockOnFailure(t *testing.T) {
	ctx := context.Background()
	dir := twoLengthRun(t)
	os.WriteFile(filepath.Join(dir, "ngram1_part2.aggregate.csv"), []byte("garbage\n"), 0o644)
	l := ledger.New(ledger.NewMemoryBackend(), "lx", time.Hour)
	for i := 1; i <= 2; i++ {
		l.MarkComplete(ctx, "r", "1", ledger.Completion{Shard: i, Total: 2})
	}

	if _, err := (&Merger{OutDir: dir, Run: "r", Owner: "a", Tags: []string{"1"}, Ledger: l}).Merge(ctx); err == nil {
		t.Fatal("expected error for corrupt aggregate")
	}
	if err := l.AcquireMerge(ctx, "r", "1", "b", false); err != nil {
		t.Errorf("lock still held after failed merge: %v", err)
	}
}

func TestMergeJoinsMetadata(t *testing.T) {
	dir := twoLengthRun(t)
	metaPath := filepath.Join(t.TempDir(), "meta.csv")
	os.WriteFile(metaPath, []byte("doi,journal_title\n10.2307_1,ILR\n10.2307_3,ASR\n"), 0o644)

	m := metrics.New()
	out, err := (&Merger{
		OutDir:  dir,
		Metrics: m,
		Metadata: config.MetadataConfig{
			Path:       metaPath,
			KeyColumn:  "doi",
			OnMismatch: config.MismatchDrop,
		},
	}).Merge(context.Background())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out.Report.Matched != 2 || out.Report.Dropped != 1 {
		t.Errorf("report = %+v", out.Report)
	}
	data, err := os.ReadFile(out.JoinedPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("joined lines = %d", len(lines))
	}
	if lines[1] != "journal-article-10.2307_1,10,3,4,2,ILR" {
		t.Errorf("row = %s", lines[1])
	}
	if n := testutil.ToFloat64(m.JoinMismatches); n != 1 {
		t.Errorf("join mismatches = %v", n)
	}
}

func TestMergeFromSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := table.OpenSQLite(ctx, filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for i, id := range []string{"d1", "d2"} {
		part := table.New("ngram1_part"+string(rune('1'+i)), cols1...)
		part.Append(id, []int64{int64(i + 1), 1})
		agg := table.New(part.Name+".aggregate", cols1...)
		agg.Append(counting.CorpusRowID, []int64{int64(i + 1), 1})
		store.Save(ctx, part)
		store.Save(ctx, agg)
	}

	out, err := (&Merger{OutDir: t.TempDir(), FromSQLite: true, SQLite: store}).Merge(ctx)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out.Merged.Len() != 2 || out.Total != 2 {
		t.Errorf("rows = %d total = %d", out.Merged.Len(), out.Total)
	}
	if v, _ := out.Aggregate.Value(counting.CorpusRowID, "demographic_1_count"); v != 2 {
		t.Errorf("aggregate = %d", v)
	}
	saved, err := store.Load(ctx, MergedName)
	if err != nil || !table.Equal(saved, out.Merged) {
		t.Errorf("merged table not saved to sqlite: %v", err)
	}
}

func TestWait(t *testing.T) {
	feed := func(evs ...events.ShardCompleted) Source {
		return func(ctx context.Context, handler kafka.MessageHandler) error {
			for _, ev := range evs {
				ev.Type = events.EventShardCompleted
				data, _ := json.Marshal(ev)
				if err := handler(ctx, nil, data); errors.Is(err, kafka.ErrStop) {
					return nil
				}
			}
			return nil
		}
	}

	src := feed(
		events.ShardCompleted{Run: "r", Tag: "1", Shard: 2, Total: 2},
		events.ShardCompleted{Run: "r", Tag: "1", Shard: 1, Total: 2},
	)
	if err := Wait(context.Background(), src, "r", []string{"1"}, 2); err != nil {
		t.Errorf("Wait: %v", err)
	}

	partial := feed(events.ShardCompleted{Run: "r", Tag: "1", Shard: 1, Total: 2})
	err := Wait(context.Background(), partial, "r", []string{"1"}, 2)
	if !errors.Is(err, apperrors.ErrIncompleteShardSet) {
		t.Errorf("expected ErrIncompleteShardSet, got %v", err)
	}
}

func TestMergeTerms(t *testing.T) {
	dir := t.TempDir()
	parts := []counting.TermTotals{
		{"family": 3, "kin": 1},
		{"family": 2, "social": 5},
	}
	for i, p := range parts {
		if err := p.WriteFile(worker.TermsPath(dir, 1, i+1)); err != nil {
			t.Fatal(err)
		}
	}
	path, merged, err := MergeTerms(dir, 1, 2)
	if err != nil {
		t.Fatalf("MergeTerms: %v", err)
	}
	if filepath.Base(path) != "ngram1_agg.txt" {
		t.Errorf("path = %s", path)
	}
	if merged["family"] != 5 || merged["social"] != 5 || merged["kin"] != 1 {
		t.Errorf("merged = %v", merged)
	}
	if _, _, err := MergeTerms(dir, 1, 3); !errors.Is(err, apperrors.ErrIncompleteShardSet) {
		t.Errorf("expected ErrIncompleteShardSet, got %v", err)
	}
}
