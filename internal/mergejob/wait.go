package mergejob

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/counting"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/events"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/kafka"
)

// Source delivers completion messages to handler until the handler returns
// kafka.ErrStop or ctx ends.
type Source func(ctx context.Context, handler kafka.MessageHandler) error

// KafkaSource consumes the completion topic.
func KafkaSource(cfg config.KafkaConfig) Source {
	return func(ctx context.Context, handler kafka.MessageHandler) error {
		return kafka.NewConsumer(cfg, handler).Start(ctx)
	}
}

// Wait blocks until every shard of every tag has reported completion. If
// src returns first, the outstanding shards are reported as
// ErrIncompleteShardSet.
func Wait(ctx context.Context, src Source, run string, tags []string, total int) error {
	log := slog.Default().With("component", "merger", "run", run)
	tracker := events.NewTracker(run, tags, total)
	log.Info("waiting for shard completions", "tags", tags, "shards", total)
	if err := src(ctx, tracker.Handler()); err != nil {
		return fmt.Errorf("consuming shard completions: %w", err)
	}
	select {
	case <-tracker.Done():
		log.Info("all shards reported")
		return nil
	default:
		return fmt.Errorf("%w: still waiting for %v", apperrors.ErrIncompleteShardSet, tracker.Missing())
	}
}

// TermsPath is the merged term totals file for length n.
func TermsPath(outDir string, n int) string {
	return filepath.Join(outDir, "ngram"+strconv.Itoa(n)+"_agg.txt")
}

// MergeTerms sums the per-shard term totals of length n into one file.
func MergeTerms(outDir string, n, total int) (string, counting.TermTotals, error) {
	merged := make(counting.TermTotals)
	for i := 1; i <= total; i++ {
		part, err := counting.ReadTermTotals(worker.TermsPath(outDir, n, i))
		if err != nil {
			return "", nil, fmt.Errorf("%w: term totals of shard %d/%d: %w", apperrors.ErrIncompleteShardSet, i, total, err)
		}
		merged.Merge(part)
	}
	path := TermsPath(outDir, n)
	if err := merged.WriteFile(path); err != nil {
		return "", nil, err
	}
	slog.Default().With("component", "merger").Info("term totals merged", "path", path, "terms", len(merged), "shards", total)
	return path, merged, nil
}
