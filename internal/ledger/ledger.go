// Package ledger records which shards of a run have finished and guards the
// merge so it happens once per complete shard set.
//
// For every run and length set (the tag, e.g. "123") the ledger keeps a
// hash of shard index -> Completion and a merge lock taken with SETNX. The
// Redis backend lets workers on different machines report to one merger; the
// in-memory backend serves single-process runs and tests.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/redis"
)

// Backend is the subset of Redis the ledger uses. *redis.Client satisfies it.
type Backend interface {
	HSet(ctx context.Context, key, field string, value any) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

var (
	_ Backend = (*redis.Client)(nil)
	_ Backend = (*MemoryBackend)(nil)
)

// Completion is what a worker reports when its shard is fully written.
type Completion struct {
	Shard      int       `json:"shard"`
	Total      int       `json:"total"`
	RunID      string    `json:"run_id"`
	Counted    int       `json:"counted"`
	Skipped    int       `json:"skipped"`
	TablePath  string    `json:"table_path"`
	FinishedAt time.Time `json:"finished_at"`
}

// Ledger tracks shard completion and the merge lock.
type Ledger struct {
	backend Backend
	prefix  string
	lockTTL time.Duration
	logger  *slog.Logger
}

func New(backend Backend, prefix string, lockTTL time.Duration) *Ledger {
	if lockTTL <= 0 {
		lockTTL = 24 * time.Hour
	}
	return &Ledger{
		backend: backend,
		prefix:  prefix,
		lockTTL: lockTTL,
		logger:  slog.Default().With("component", "ledger"),
	}
}

func (l *Ledger) shardsKey(run, tag string) string {
	return fmt.Sprintf("%s:%s:ngram%s:shards", l.prefix, run, tag)
}

func (l *Ledger) lockKey(run, tag string) string {
	return fmt.Sprintf("%s:%s:ngram%s:merge", l.prefix, run, tag)
}

// MarkComplete records a finished shard. Reporting the same shard again
// overwrites the earlier entry.
func (l *Ledger) MarkComplete(ctx context.Context, run, tag string, c Completion) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding completion: %w", err)
	}
	if err := l.backend.HSet(ctx, l.shardsKey(run, tag), strconv.Itoa(c.Shard), string(data)); err != nil {
		return fmt.Errorf("marking shard %d/%d complete: %w", c.Shard, c.Total, err)
	}
	l.logger.Info("shard marked complete", "run", run, "tag", tag, "shard", c.Shard, "total", c.Total)
	return nil
}

// Completed returns the recorded completions by shard index.
func (l *Ledger) Completed(ctx context.Context, run, tag string) (map[int]Completion, error) {
	raw, err := l.backend.HGetAll(ctx, l.shardsKey(run, tag))
	if err != nil {
		return nil, fmt.Errorf("reading shard ledger: %w", err)
	}
	out := make(map[int]Completion, len(raw))
	for field, value := range raw {
		idx, err := strconv.Atoi(field)
		if err != nil {
			l.logger.Warn("ignoring unexpected ledger field", "field", field)
			continue
		}
		var c Completion
		if err := json.Unmarshal([]byte(value), &c); err != nil {
			l.logger.Warn("ignoring corrupt ledger entry", "shard", idx, "error", err)
			continue
		}
		out[idx] = c
	}
	return out, nil
}

// Missing returns the shard indexes in 1..total without a completion for
// total.
func Missing(completed map[int]Completion, total int) []int {
	var missing []int
	for i := 1; i <= total; i++ {
		c, ok := completed[i]
		if !ok || c.Total != total {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	return missing
}

// RequireComplete fails with ErrIncompleteShardSet unless every shard of
// total has reported.
func (l *Ledger) RequireComplete(ctx context.Context, run, tag string, total int) (map[int]Completion, error) {
	completed, err := l.Completed(ctx, run, tag)
	if err != nil {
		return nil, err
	}
	if missing := Missing(completed, total); len(missing) > 0 {
		return nil, fmt.Errorf("%w: ngram%s missing shards %v of %d", apperrors.ErrIncompleteShardSet, tag, missing, total)
	}
	return completed, nil
}

// AcquireMerge takes the merge lock for owner. If another owner holds it,
// ErrMergeLocked is returned unless force is set, in which case the lock is
// taken over.
func (l *Ledger) AcquireMerge(ctx context.Context, run, tag, owner string, force bool) error {
	key := l.lockKey(run, tag)
	ok, err := l.backend.SetNX(ctx, key, owner, l.lockTTL)
	if err != nil {
		return fmt.Errorf("acquiring merge lock: %w", err)
	}
	if ok {
		return nil
	}
	holder, err := l.backend.Get(ctx, key)
	if err != nil && !redis.IsNilError(err) {
		return fmt.Errorf("reading merge lock: %w", err)
	}
	if holder == owner {
		return nil
	}
	if !force {
		return fmt.Errorf("%w: ngram%s held by %s", apperrors.ErrMergeLocked, tag, holder)
	}
	l.logger.Warn("forcing merge lock", "run", run, "tag", tag, "previous_owner", holder, "owner", owner)
	if err := l.backend.Del(ctx, key); err != nil {
		return fmt.Errorf("clearing merge lock: %w", err)
	}
	ok, err = l.backend.SetNX(ctx, key, owner, l.lockTTL)
	if err != nil {
		return fmt.Errorf("acquiring merge lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: ngram%s taken during takeover", apperrors.ErrMergeLocked, tag)
	}
	return nil
}

// ReleaseMerge drops the lock if owner still holds it. A merge that
// succeeded keeps its lock so the same shard set is not merged twice;
// callers release only on failure.
func (l *Ledger) ReleaseMerge(ctx context.Context, run, tag, owner string) error {
	key := l.lockKey(run, tag)
	holder, err := l.backend.Get(ctx, key)
	if redis.IsNilError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading merge lock: %w", err)
	}
	if holder != owner {
		return nil
	}
	return l.backend.Del(ctx, key)
}
