package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/kafka"
)

type capturePublisher struct {
	events []kafka.Event
}

func (c *capturePublisher) Publish(_ context.Context, ev kafka.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestNotifierFillsEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	n := NewNotifier(pub)
	err := n.ShardCompleted(context.Background(), ShardCompleted{Run: "r", Tag: "12", Shard: 2, Total: 4})
	if err != nil {
		t.Fatalf("ShardCompleted: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Key != "r:12" {
		t.Fatalf("events = %+v", pub.events)
	}
	ev := pub.events[0].Value.(ShardCompleted)
	if ev.Type != EventShardCompleted || ev.Timestamp.IsZero() {
		t.Errorf("envelope not filled: %+v", ev)
	}
}

func TestTrackerCompletesAcrossTags(t *testing.T) {
	tr := NewTracker("r", []string{"1", "2"}, 2)
	steps := []struct {
		ev   ShardCompleted
		done bool
	}{
		{ShardCompleted{Type: EventShardCompleted, Run: "r", Tag: "1", Shard: 1, Total: 2}, false},
		{ShardCompleted{Type: EventShardCompleted, Run: "other", Tag: "1", Shard: 2, Total: 2}, false},
		{ShardCompleted{Type: EventShardCompleted, Run: "r", Tag: "1", Shard: 2, Total: 3}, false},
		{ShardCompleted{Type: EventShardCompleted, Run: "r", Tag: "1", Shard: 2, Total: 2}, false},
		{ShardCompleted{Type: EventShardCompleted, Run: "r", Tag: "2", Shard: 2, Total: 2}, false},
		{ShardCompleted{Type: EventShardCompleted, Run: "r", Tag: "2", Shard: 2, Total: 2}, false},
		{ShardCompleted{Type: EventShardCompleted, Run: "r", Tag: "2", Shard: 1, Total: 2}, true},
	}
	for i, s := range steps {
		if got := tr.Observe(s.ev); got != s.done {
			t.Fatalf("step %d: Observe = %v, want %v (missing %v)", i, got, s.done, tr.Missing())
		}
	}
	select {
	case <-tr.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestTrackerHandlerStopsWhenComplete(t *testing.T) {
	tr := NewTracker("r", []string{"123"}, 1)
	h := tr.Handler()

	if err := h(context.Background(), nil, []byte("{not json")); err == nil {
		t.Error("expected decode error")
	}
	value, _ := json.Marshal(ShardCompleted{Type: EventShardCompleted, Run: "r", Tag: "123", Shard: 1, Total: 1})
	if err := h(context.Background(), nil, value); !errors.Is(err, kafka.ErrStop) {
		t.Errorf("expected ErrStop, got %v", err)
	}
	if m := tr.Missing(); len(m["123"]) != 0 {
		t.Errorf("missing = %v", m)
	}
}
