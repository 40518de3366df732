package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/counting"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/dictionary"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/mergejob"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/resilience"
)

func newWorker(cfg *config.Config, svc *services, store *dictionary.Store) (*worker.Worker, error) {
	reader := &corpus.Reader{Root: cfg.Corpus.Root, Separator: cfg.Counting.Separator}
	engine, err := counting.NewEngine(store, reader, counting.Config{
		Lengths:    cfg.Counting.Lengths,
		Mode:       cfg.Counting.Mode,
		IncludeRaw: cfg.Counting.IncludeRaw,
	}, svc.metrics)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &worker.Worker{
		Engine:   engine,
		OutDir:   cfg.Output.Dir,
		Run:      cfg.Output.RunName,
		Ledger:   svc.ledger,
		Notifier: svc.notifier,
		SQLite:   svc.sqlite,
		Metrics:  svc.metrics,
		Retry:    resilience.FromConfig(cfg.Retry),
	}, nil
}

func runCount(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := shard.Validate(cfg.Shard.Index, cfg.Shard.Total); err != nil {
		return err
	}
	ctx := c.Context
	runID := newRunID()
	slog.Info("starting count",
		"run", cfg.Output.RunName,
		"run_id", runID,
		"shard", cfg.Shard.Index,
		"shards", cfg.Shard.Total,
		"lengths", cfg.Counting.Lengths,
	)

	store, err := loadStore(cfg, nil)
	if err != nil {
		return err
	}
	docs, err := corpus.Documents(cfg.Corpus, cfg.Counting.Lengths[0])
	if err != nil {
		return err
	}
	svc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	w, err := newWorker(cfg, svc, store)
	if err != nil {
		return err
	}
	out, err := w.Count(ctx, worker.Job{
		RunID:     runID,
		Shard:     cfg.Shard.Index,
		Total:     cfg.Shard.Total,
		Documents: docs,
	})
	if err != nil {
		return err
	}
	svc.Push(cfg.Output.RunName, cfg.Shard.Index)
	if out.Result.Partial {
		return fmt.Errorf("shard %d/%d interrupted after %d documents: %w", cfg.Shard.Index, cfg.Shard.Total, out.Result.Counted, ctx.Err())
	}
	return nil
}

func runLocal(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := shard.Validate(1, cfg.Shard.Total); err != nil {
		return err
	}
	ctx := c.Context
	runID := newRunID()
	log := slog.Default().With("run", cfg.Output.RunName, "run_id", runID)

	docs, err := corpus.Documents(cfg.Corpus, cfg.Counting.Lengths[0])
	if err != nil {
		return err
	}
	plan, err := shard.PlanAll(docs, cfg.Shard.Total)
	if err != nil {
		return err
	}
	svc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	log.Info("starting local run", "documents", len(docs), "shards", cfg.Shard.Total)
	// Shards load concurrently; the loader reads each dictionary file once.
	loader := dictionary.NewLoader(cfg.Counting.Separator)
	start := time.Now()
	outcomes := make([]*worker.Outcome, len(plan))
	g, gctx := errgroup.WithContext(ctx)
	if p := c.Int("parallel"); p > 0 {
		g.SetLimit(p)
	}
	for i, a := range plan {
		g.Go(func() error {
			// Each shard owns its store, engine, table and error log; only
			// the parsed dictionaries are shared through the loader.
			store, err := loadStore(cfg, loader)
			if err != nil {
				return err
			}
			w, err := newWorker(cfg, svc, store)
			if err != nil {
				return err
			}
			out, err := w.Count(gctx, worker.Job{
				RunID:     runID,
				Shard:     a.Index,
				Total:     a.Total,
				Documents: docs,
			})
			outcomes[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, out := range outcomes {
		if out.Result.Partial {
			return fmt.Errorf("local run interrupted; partial shard tables are in %s: %w", cfg.Output.Dir, ctx.Err())
		}
	}
	skipped := counting.NewErrorLog()
	var logs []string
	for _, out := range outcomes {
		skipped.Merge(out.Result.Errors)
		if out.LogWritten {
			logs = append(logs, out.LogPath)
		}
	}
	log.Info("all shards counted", "duration", time.Since(start), "skipped", skipped.Len())
	if skipped.Len() > 0 {
		log.Warn("documents were skipped; see the shard error logs", "skipped", skipped.Len(), "logs", logs)
	}

	merger := newMerger(cfg, svc, runID)
	merger.Total = cfg.Shard.Total
	merger.Tags = []string{outcomes[0].Tag}
	if _, err := merger.Merge(ctx); err != nil {
		return err
	}
	svc.Push(cfg.Output.RunName, 0)
	return nil
}

func newMerger(cfg *config.Config, svc *services, owner string) *mergejob.Merger {
	return &mergejob.Merger{
		OutDir:   cfg.Output.Dir,
		Run:      cfg.Output.RunName,
		Owner:    owner,
		Ledger:   svc.ledger,
		SQLite:   svc.sqlite,
		Postgres: svc.sink,
		Metrics:  svc.metrics,
		Metadata: cfg.Metadata,
		Retry:    resilience.FromConfig(cfg.Retry),
	}
}

func runMerge(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	svc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	merger := newMerger(cfg, svc, newRunID())
	merger.Force = c.Bool("force")
	merger.FromSQLite = c.Bool("from-sqlite")
	if c.IsSet("shards") {
		merger.Total = cfg.Shard.Total
	}
	if c.IsSet("tags") {
		for _, tag := range strings.Split(c.String("tags"), ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				merger.Tags = append(merger.Tags, tag)
			}
		}
	}

	if c.Bool("wait") {
		if !cfg.Kafka.Enabled {
			return apperrors.Invalidf("--wait needs kafka.enabled")
		}
		if merger.Total == 0 {
			return apperrors.Invalidf("--wait needs --shards")
		}
		tags := merger.Tags
		if len(tags) == 0 {
			tags = []string{shard.Tag(cfg.Counting.Lengths)}
			merger.Tags = tags
		}
		waitCtx := ctx
		if d := c.Duration("wait-timeout"); d > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		if err := mergejob.Wait(waitCtx, mergejob.KafkaSource(cfg.Kafka), cfg.Output.RunName, tags, merger.Total); err != nil {
			return err
		}
	}

	out, err := merger.Merge(ctx)
	if err != nil {
		return err
	}
	svc.Push(cfg.Output.RunName, 0)
	if out.Report != nil && len(out.Report.Mismatches) > 0 {
		slog.Warn("merged table has rows without metadata",
			"mismatches", len(out.Report.Mismatches),
			"policy", cfg.Metadata.OnMismatch,
			"joined", out.JoinedPath,
		)
	}
	return nil
}

func runTerms(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	n := c.Int("length")
	if n < 1 || n > dictionary.MaxTermLength {
		return fmt.Errorf("%w: %d", apperrors.ErrUnsupportedNgramLen, n)
	}
	if err := shard.Validate(cfg.Shard.Index, cfg.Shard.Total); err != nil {
		return err
	}
	if c.Bool("merge") {
		_, _, err := mergejob.MergeTerms(cfg.Output.Dir, n, cfg.Shard.Total)
		return err
	}

	docs, err := corpus.Documents(cfg.Corpus, n)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	w := &worker.Worker{OutDir: cfg.Output.Dir, Run: cfg.Output.RunName}
	_, err = w.Terms(c.Context, corpus.NewReader(cfg.Corpus.Root), worker.Job{
		RunID:     newRunID(),
		Shard:     cfg.Shard.Index,
		Total:     cfg.Shard.Total,
		Documents: docs,
	}, n)
	return err
}

func runSplitDict(c *cli.Context) error {
	sep := c.String("separator")
	d, err := dictionary.Load(c.String("in"), c.String("name"), sep)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.String("out"), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	paths, err := dictionary.SplitByLength(d, c.String("out"))
	if err != nil {
		return err
	}
	slog.Info("dictionary split", "name", d.Name, "terms", d.Len(), "files", paths)
	return nil
}
