// Package mergejob combines the per-shard tables of one run into the final
// table: it checks that every shard of every length set is present, takes
// the merge lock, merges shards and lengths, joins metadata and writes the
// result to every configured sink.
package mergejob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/table"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/tracing"
)

const (
	MergedName = "counts_merged"
	JoinedName = "counts_joined"
)

// Merger holds everything a merge needs. Tags, Ledger, SQLite, Postgres,
// Metrics and Metadata are optional.
type Merger struct {
	OutDir string
	Run    string
	Owner  string
	// Total is the expected shard count. Zero takes the highest shard index
	// found for any tag.
	Total int
	// Tags restricts the merge to these length sets. Empty merges every set
	// found in OutDir.
	Tags  []string
	Force bool

	// FromSQLite reads shard tables from SQLite instead of CSV files.
	FromSQLite bool

	Ledger   *ledger.Ledger
	SQLite   *table.SQLiteStore
	Postgres *table.PostgresSink
	Metrics  *metrics.Metrics
	Metadata config.MetadataConfig
	Retry    resilience.RetryConfig
}

// Outcome describes a finished merge.
type Outcome struct {
	Tags          []string
	Total         int
	Merged        *table.Table
	Aggregate     *table.Table
	MergedPath    string
	AggregatePath string
	JoinedPath    string
	Report        *metadata.Report
}

// Discover lists the shard table files under dir by tag and shard index.
func Discover(dir string) (map[string]map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing shard tables in %s: %w", dir, err)
	}
	found := make(map[string]map[int]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		tag, index, ok := shard.ParsePartFile(e.Name())
		if !ok {
			continue
		}
		if found[tag] == nil {
			found[tag] = make(map[int]string)
		}
		found[tag][index] = filepath.Join(dir, e.Name())
	}
	return found, nil
}

func (m *Merger) discover(ctx context.Context) (map[string]map[int]string, error) {
	if !m.FromSQLite {
		return Discover(m.OutDir)
	}
	if m.SQLite == nil {
		return nil, apperrors.Invalidf("reading shard tables from sqlite needs output.sqlitePath")
	}
	names, err := m.SQLite.Names(ctx)
	if err != nil {
		return nil, err
	}
	found := make(map[string]map[int]string)
	for _, name := range names {
		tag, index, ok := shard.ParsePartFile(name + ".csv")
		if !ok {
			continue
		}
		if found[tag] == nil {
			found[tag] = make(map[int]string)
		}
		found[tag][index] = name
	}
	return found, nil
}

// plan resolves the tags and shard count to merge and fails with
// ErrIncompleteShardSet when any shard is missing.
func (m *Merger) plan(ctx context.Context, found map[string]map[int]string) ([]string, int, error) {
	tags := slices.Clone(m.Tags)
	if len(tags) == 0 {
		for tag := range found {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
	}
	if len(tags) == 0 {
		return nil, 0, fmt.Errorf("%w: no shard tables in %s", apperrors.ErrIncompleteShardSet, m.OutDir)
	}
	if err := disjoint(tags); err != nil {
		return nil, 0, err
	}

	total := m.Total
	if total == 0 {
		for _, tag := range tags {
			for index := range found[tag] {
				total = max(total, index)
			}
		}
	}
	if total < 1 {
		return nil, 0, fmt.Errorf("%w: no shard tables for ngram%s", apperrors.ErrIncompleteShardSet, strings.Join(tags, ","))
	}

	for _, tag := range tags {
		var missing []int
		for i := 1; i <= total; i++ {
			if _, ok := found[tag][i]; !ok {
				missing = append(missing, i)
			}
		}
		if len(missing) > 0 {
			return nil, 0, fmt.Errorf("%w: ngram%s missing shard tables %v of %d", apperrors.ErrIncompleteShardSet, tag, missing, total)
		}
		if m.Ledger != nil {
			if _, err := m.Ledger.RequireComplete(ctx, m.Run, tag, total); err != nil {
				return nil, 0, err
			}
		}
	}
	return tags, total, nil
}

// disjoint rejects length sets that share a length: their columns would be
// summed twice.
func disjoint(tags []string) error {
	owner := make(map[rune]string)
	for _, tag := range tags {
		for _, n := range tag {
			if prev, ok := owner[n]; ok {
				return apperrors.Invalidf("length sets ngram%s and ngram%s both count %c-grams; select one with --tags", prev, tag, n)
			}
			owner[n] = tag
		}
	}
	return nil
}

// LockTag names the merge lock of a tag set, e.g. "1+2+3".
func LockTag(tags []string) string {
	return strings.Join(tags, "+")
}

// Merge runs the merge. Any failure after the lock is taken releases it; a
// successful merge keeps it so the same shard set is not merged twice.
func (m *Merger) Merge(ctx context.Context) (out *Outcome, err error) {
	log := slog.Default().With("component", "merger", "run", m.Run)

	found, err := m.discover(ctx)
	if err != nil {
		return nil, err
	}
	tags, total, err := m.plan(ctx, found)
	if err != nil {
		return nil, err
	}

	if m.Ledger != nil {
		lockTag := LockTag(tags)
		err = resilience.Retry(ctx, "acquire-merge-lock", m.Retry, func() error {
			return m.Ledger.AcquireMerge(ctx, m.Run, lockTag, m.Owner, m.Force)
		})
		if err != nil {
			return nil, err
		}
		defer func() {
			if err == nil {
				return
			}
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if rerr := m.Ledger.ReleaseMerge(releaseCtx, m.Run, lockTag, m.Owner); rerr != nil {
				log.Error("failed to release merge lock", "error", rerr)
			}
		}()
	}

	log.Info("merge started", "tags", tags, "shards", total)
	out = &Outcome{Tags: tags, Total: total}

	ctx, span := tracing.Start(ctx, "merge", m.Owner)
	span.Set("tags", LockTag(tags), "shards", total)
	defer func() {
		span.End()
		span.Log(log)
	}()
	_, phase := tracing.Phase(ctx, "read")

	perTag := make([]*table.Table, 0, len(tags))
	aggregates := make([]*table.Table, 0, len(tags)*total)
	for _, tag := range tags {
		parts := make([]*table.Table, 0, total)
		for i := 1; i <= total; i++ {
			part, agg, err := m.readPart(ctx, tag, i, found[tag][i])
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
			aggregates = append(aggregates, agg)
		}
		perTag = append(perTag, table.Finalize(table.Concat("ngram"+tag, parts...)))
		if m.Metrics != nil {
			m.Metrics.TablesMerged.Add(float64(len(parts)))
		}
	}

	phase.End()

	out.Merged = table.SumAcross(MergedName, perTag...)
	out.Aggregate = table.SumAcross(MergedName+".aggregate", aggregates...)
	out.MergedPath = filepath.Join(m.OutDir, MergedName+".csv")
	out.AggregatePath = filepath.Join(m.OutDir, MergedName+".aggregate.csv")
	if err := table.WriteCSV(out.MergedPath, out.Merged); err != nil {
		return nil, err
	}
	if err := table.WriteCSV(out.AggregatePath, out.Aggregate); err != nil {
		return nil, err
	}
	if m.Metrics != nil {
		m.Metrics.MergedRows.Set(float64(out.Merged.Len()))
	}

	final := out.Merged
	_, phase = tracing.Phase(ctx, "sinks")
	defer func() { phase.End() }()
	var byDocument map[string]map[string]string
	if m.Metadata.Path != "" {
		joined, report, err := m.join(out.Merged)
		if err != nil {
			return nil, err
		}
		out.Report = report
		out.JoinedPath = filepath.Join(m.OutDir, JoinedName+".csv")
		if err := joined.WriteCSV(out.JoinedPath); err != nil {
			return nil, err
		}
		final = joined.Counts
		byDocument = joined.MetadataByDocument()
	}

	if m.SQLite != nil {
		for _, t := range []*table.Table{out.Merged, out.Aggregate} {
			if err := m.SQLite.Save(ctx, t); err != nil {
				return nil, err
			}
		}
	}
	if m.Postgres != nil {
		err := resilience.Retry(ctx, "postgres-save-merged", m.Retry, func() error {
			return m.Postgres.Save(ctx, m.Run, final, byDocument)
		})
		if err != nil {
			return nil, fmt.Errorf("saving merged table to postgres: %w", err)
		}
	}

	if m.Metrics != nil {
		m.Metrics.LastSuccessfulRun.SetToCurrentTime()
	}
	log.Info("merge finished",
		"rows", out.Merged.Len(),
		"columns", len(out.Merged.Columns()),
		"path", out.MergedPath,
	)
	return out, nil
}

func (m *Merger) readPart(ctx context.Context, tag string, index int, source string) (*table.Table, *table.Table, error) {
	name := shard.PartName(tag, index)
	if m.FromSQLite {
		part, err := m.SQLite.Load(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		agg, err := m.SQLite.Load(ctx, name+".aggregate")
		if err != nil {
			return nil, nil, err
		}
		return part, agg, nil
	}
	part, err := table.ReadCSV(source, name)
	if err != nil {
		return nil, nil, err
	}
	_, aggPath, _ := worker.Paths(m.OutDir, tag, index)
	agg, err := table.ReadCSV(aggPath, name+".aggregate")
	if err != nil {
		return nil, nil, err
	}
	return part, agg, nil
}

func (m *Merger) join(counts *table.Table) (*metadata.Joined, *metadata.Report, error) {
	meta, err := metadata.LoadCSV(m.Metadata.Path, m.Metadata.KeyColumn)
	if err != nil {
		return nil, nil, err
	}
	norm := metadata.NewNormalizer(m.Metadata)
	if m.Metadata.JournalSubjects != "" {
		norm.Subjects, err = metadata.LoadCSV(m.Metadata.JournalSubjects, m.Metadata.JournalKeyColumn)
		if err != nil {
			return nil, nil, err
		}
	}
	if changed, dropped := norm.Apply(meta); changed > 0 || dropped > 0 {
		slog.Default().With("component", "merger").Info("metadata normalized",
			"records_changed", changed,
			"records_dropped", dropped,
		)
	}
	joined, report, err := metadata.Join(counts, meta, m.Metadata.OnMismatch)
	if err != nil {
		return nil, nil, err
	}
	if m.Metrics != nil {
		m.Metrics.JoinMismatches.Add(float64(len(report.Mismatches)))
	}
	return joined, report, nil
}
