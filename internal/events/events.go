// Package events publishes shard completion events to Kafka and tracks them
// on the merger side so a merge can start as soon as every shard of every
// length set has reported.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/kafka"
)

type EventType string

const EventShardCompleted EventType = "shard_completed"

// ShardCompleted is published by a worker after its table, aggregate and
// error log are on disk.
type ShardCompleted struct {
	Type      EventType `json:"type"`
	Run       string    `json:"run"`
	Tag       string    `json:"tag"`
	RunID     string    `json:"run_id"`
	Shard     int       `json:"shard"`
	Total     int       `json:"total"`
	Counted   int       `json:"counted"`
	Skipped   int       `json:"skipped"`
	TablePath string    `json:"table_path"`
	Timestamp time.Time `json:"timestamp"`
}

// Key partitions events by run and tag so one merger sees them in order.
func (e ShardCompleted) Key() string {
	return e.Run + ":" + e.Tag
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

var _ Publisher = (*kafka.Producer)(nil)

// Notifier publishes completion events.
type Notifier struct {
	pub    Publisher
	logger *slog.Logger
}

func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{
		pub:    pub,
		logger: slog.Default().With("component", "shard-notifier"),
	}
}

// ShardCompleted publishes ev, filling Type and Timestamp when unset.
func (n *Notifier) ShardCompleted(ctx context.Context, ev ShardCompleted) error {
	ev.Type = EventShardCompleted
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := n.pub.Publish(ctx, kafka.Event{Key: ev.Key(), Value: ev}); err != nil {
		return fmt.Errorf("publishing completion of shard %d/%d: %w", ev.Shard, ev.Total, err)
	}
	n.logger.Info("shard completion published", "run", ev.Run, "tag", ev.Tag, "shard", ev.Shard, "total", ev.Total)
	return nil
}

// Tracker collects completions for one run until every shard of every
// expected tag has reported.
type Tracker struct {
	run   string
	total int
	mu    sync.Mutex
	seen  map[string]map[int]ShardCompleted
	done  chan struct{}
	once  sync.Once
}

// NewTracker waits for shards 1..total of each tag.
func NewTracker(run string, tags []string, total int) *Tracker {
	t := &Tracker{
		run:   run,
		total: total,
		seen:  make(map[string]map[int]ShardCompleted, len(tags)),
		done:  make(chan struct{}),
	}
	for _, tag := range tags {
		t.seen[tag] = make(map[int]ShardCompleted)
	}
	if len(tags) == 0 || total < 1 {
		t.once.Do(func() { close(t.done) })
	}
	return t
}

// Observe records ev and reports whether the set is now complete. Events
// for other runs, unknown tags or a different shard count are ignored.
func (t *Tracker) Observe(ev ShardCompleted) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Type == EventShardCompleted && ev.Run == t.run && ev.Total == t.total {
		if shards, ok := t.seen[ev.Tag]; ok && ev.Shard >= 1 && ev.Shard <= t.total {
			shards[ev.Shard] = ev
		}
	}
	if t.completeLocked() {
		t.once.Do(func() { close(t.done) })
		return true
	}
	return false
}

func (t *Tracker) completeLocked() bool {
	for _, shards := range t.seen {
		if len(shards) < t.total {
			return false
		}
	}
	return true
}

// Done is closed once every expected shard has reported.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Missing lists the shards still outstanding per tag.
func (t *Tracker) Missing() map[string][]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]int)
	for tag, shards := range t.seen {
		for i := 1; i <= t.total; i++ {
			if _, ok := shards[i]; !ok {
				out[tag] = append(out[tag], i)
			}
		}
		sort.Ints(out[tag])
	}
	return out
}

// Handler decodes Kafka messages into the tracker and stops the consumer
// once the set is complete.
func (t *Tracker) Handler() kafka.MessageHandler {
	return func(_ context.Context, _ []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[ShardCompleted](value)
		if err != nil {
			return err
		}
		if t.Observe(ev) {
			return kafka.ErrStop
		}
		return nil
	}
}
