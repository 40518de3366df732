// Package worker runs one shard end to end: plan the slice, count it, write
// the table, aggregate and error log, then report completion to the ledger
// and the event stream.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/counting"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/events"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/table"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/tracing"
)

// Worker writes shard outputs under OutDir. Ledger, Notifier, SQLite and
// Metrics are optional.
type Worker struct {
	Engine   *counting.Engine
	OutDir   string
	Run      string
	Ledger   *ledger.Ledger
	Notifier *events.Notifier
	SQLite   *table.SQLiteStore
	Metrics  *metrics.Metrics
	Retry    resilience.RetryConfig
}

// Job selects a shard of a document list.
type Job struct {
	RunID     string
	Shard     int
	Total     int
	Documents []string
}

// Outcome names the files a shard produced.
type Outcome struct {
	Tag           string
	TablePath     string
	AggregatePath string
	LogPath       string
	LogWritten    bool
	Result        *counting.Result
}

// Paths returns the table, aggregate and log paths of a shard.
func Paths(outDir, tag string, index int) (tablePath, aggregatePath, logPath string) {
	base := filepath.Join(outDir, shard.PartName(tag, index))
	return base + ".csv", base + ".aggregate.csv", base + ".log"
}

// Count runs job. An invalid shard fails before any file is read. A run
// interrupted by ctx still writes its partial outputs but does not report
// completion.
func (w *Worker) Count(ctx context.Context, job Job) (*Outcome, error) {
	docs, err := shard.Plan(job.Documents, job.Shard, job.Total)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithRun(ctx, logger.RunInfo{RunID: job.RunID, ShardIndex: job.Shard, TotalShards: job.Total})
	log := logger.FromContext(ctx).With("component", "worker")

	tag := shard.Tag(w.Engine.Lengths())
	out := &Outcome{Tag: tag}
	out.TablePath, out.AggregatePath, out.LogPath = Paths(w.OutDir, tag, job.Shard)
	name := shard.PartName(tag, job.Shard)

	if w.Metrics != nil {
		w.Metrics.ObserveShard(job.Shard, len(docs))
	}
	log.Info("shard started", "documents", len(docs), "of", len(job.Documents), "tag", tag)

	ctx, span := tracing.Start(ctx, "shard", job.RunID)
	span.Set("shard", job.Shard, "tag", tag)
	defer func() {
		span.End()
		span.Log(log)
	}()

	_, phase := tracing.Phase(ctx, "count")
	res, err := w.Engine.CountCorpus(ctx, name, docs)
	phase.End()
	if err != nil {
		return nil, fmt.Errorf("counting shard %d/%d: %w", job.Shard, job.Total, err)
	}
	out.Result = res
	_, phase = tracing.Phase(ctx, "write")
	defer func() { phase.End() }()

	if err := table.WriteCSV(out.TablePath, res.Table); err != nil {
		return nil, err
	}
	if err := table.WriteCSV(out.AggregatePath, res.AggregateTable(name+".aggregate")); err != nil {
		return nil, err
	}
	out.LogWritten, err = res.Errors.WriteFile(out.LogPath)
	if err != nil {
		return nil, err
	}
	if out.LogWritten {
		log.Warn("one or more documents were skipped; see the error log",
			"log", out.LogPath,
			"skipped", res.Errors.Len(),
		)
	}

	if w.SQLite != nil {
		// Use a fresh context so an interrupted shard still persists what
		// it counted.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		for _, t := range []*table.Table{res.Table, res.AggregateTable(name + ".aggregate")} {
			if err := w.SQLite.Save(saveCtx, t); err != nil {
				return nil, err
			}
		}
	}

	if res.Partial {
		log.Warn("shard interrupted; outputs are partial and completion was not reported",
			"counted", res.Counted,
		)
		return out, nil
	}

	phase.End()
	_, phase = tracing.Phase(ctx, "report")
	if err := w.report(ctx, job, out); err != nil {
		return out, err
	}
	if w.Metrics != nil {
		w.Metrics.LastSuccessfulRun.SetToCurrentTime()
	}
	log.Info("shard finished",
		"table", out.TablePath,
		"counted", res.Counted,
		"skipped", res.Errors.Len(),
	)
	return out, nil
}

func (w *Worker) report(ctx context.Context, job Job, out *Outcome) error {
	res := out.Result
	if w.Ledger != nil {
		c := ledger.Completion{
			Shard:      job.Shard,
			Total:      job.Total,
			RunID:      job.RunID,
			Counted:    res.Counted,
			Skipped:    res.Errors.Len(),
			TablePath:  out.TablePath,
			FinishedAt: time.Now().UTC(),
		}
		err := resilience.Retry(ctx, "ledger-mark-complete", w.Retry, func() error {
			return w.Ledger.MarkComplete(ctx, w.Run, out.Tag, c)
		})
		if err != nil {
			return fmt.Errorf("reporting shard %d/%d: %w", job.Shard, job.Total, err)
		}
	}
	if w.Notifier != nil {
		ev := events.ShardCompleted{
			Run:       w.Run,
			Tag:       out.Tag,
			RunID:     job.RunID,
			Shard:     job.Shard,
			Total:     job.Total,
			Counted:   res.Counted,
			Skipped:   res.Errors.Len(),
			TablePath: out.TablePath,
		}
		err := resilience.Retry(ctx, "publish-shard-completed", w.Retry, func() error {
			return w.Notifier.ShardCompleted(ctx, ev)
		})
		if err != nil {
			return fmt.Errorf("publishing shard %d/%d: %w", job.Shard, job.Total, err)
		}
	}
	return nil
}

// TermsPath is the term totals file of one shard and length.
func TermsPath(outDir string, n, index int) string {
	return filepath.Join(outDir, "ngram"+strconv.Itoa(n)+"_agg_part"+strconv.Itoa(index)+".txt")
}

// Terms sums the length-n term frequencies of a shard and writes them with
// the shard's error log.
func (w *Worker) Terms(ctx context.Context, reader *corpus.Reader, job Job, n int) (string, error) {
	docs, err := shard.Plan(job.Documents, job.Shard, job.Total)
	if err != nil {
		return "", err
	}
	ctx = logger.WithRun(ctx, logger.RunInfo{RunID: job.RunID, ShardIndex: job.Shard, TotalShards: job.Total})
	log := logger.FromContext(ctx).With("component", "worker")

	totals, errs, err := counting.AggregateTerms(ctx, reader, docs, n)
	if err != nil {
		return "", fmt.Errorf("aggregating terms for shard %d/%d: %w", job.Shard, job.Total, err)
	}
	path := TermsPath(w.OutDir, n, job.Shard)
	if err := totals.WriteFile(path); err != nil {
		return "", err
	}
	logPath := filepath.Join(w.OutDir, shard.PartName(strconv.Itoa(n), job.Shard)+".agg.log")
	written, err := errs.WriteFile(logPath)
	if err != nil {
		return "", err
	}
	if written {
		log.Warn("one or more documents were skipped; see the error log", "log", logPath, "skipped", errs.Len())
	}
	log.Info("term totals written", "path", path, "terms", len(totals))
	return path, nil
}
