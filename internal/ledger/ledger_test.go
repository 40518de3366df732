package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

func TestCompletionTracking(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryBackend(), "lexcount", time.Hour)

	for _, shard := range []int{1, 3} {
		err := l.MarkComplete(ctx, "run-a", "123", Completion{Shard: shard, Total: 3, Counted: 10})
		if err != nil {
			t.Fatalf("MarkComplete: %v", err)
		}
	}
	_, err := l.RequireComplete(ctx, "run-a", "123", 3)
	if !errors.Is(err, apperrors.ErrIncompleteShardSet) {
		t.Fatalf("expected ErrIncompleteShardSet, got %v", err)
	}

	l.MarkComplete(ctx, "run-a", "123", Completion{Shard: 2, Total: 3})
	done, err := l.RequireComplete(ctx, "run-a", "123", 3)
	if err != nil {
		t.Fatalf("RequireComplete: %v", err)
	}
	if len(done) != 3 || done[1].Counted != 10 {
		t.Errorf("completions = %+v", done)
	}

	// Other tags and runs are separate.
	if _, err := l.RequireComplete(ctx, "run-a", "1", 3); err == nil {
		t.Error("tag 1 should be incomplete")
	}
	if _, err := l.RequireComplete(ctx, "run-b", "123", 3); err == nil {
		t.Error("run-b should be incomplete")
	}
}

func TestMissingIgnoresOtherShardCounts(t *testing.T) {
	completed := map[int]Completion{
		1: {Shard: 1, Total: 2},
		2: {Shard: 2, Total: 2},
	}
	if got := Missing(completed, 2); len(got) != 0 {
		t.Errorf("Missing = %v", got)
	}
	// Completions from a 2-shard run do not count toward a 3-shard merge.
	if got := Missing(completed, 3); len(got) != 3 {
		t.Errorf("Missing = %v, want [1 2 3]", got)
	}
}

func TestMergeLock(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryBackend(), "lexcount", time.Hour)

	if err := l.AcquireMerge(ctx, "r", "1", "merger-a", false); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.AcquireMerge(ctx, "r", "1", "merger-a", false); err != nil {
		t.Errorf("re-acquire by holder: %v", err)
	}
	err := l.AcquireMerge(ctx, "r", "1", "merger-b", false)
	if !errors.Is(err, apperrors.ErrMergeLocked) {
		t.Fatalf("expected ErrMergeLocked, got %v", err)
	}
	if err := l.AcquireMerge(ctx, "r", "1", "merger-b", true); err != nil {
		t.Fatalf("forced acquire: %v", err)
	}
	// Release by a non-holder leaves the lock.
	l.ReleaseMerge(ctx, "r", "1", "merger-a")
	if err := l.AcquireMerge(ctx, "r", "1", "merger-c", false); !errors.Is(err, apperrors.ErrMergeLocked) {
		t.Errorf("lock lost after foreign release: %v", err)
	}
	if err := l.ReleaseMerge(ctx, "r", "1", "merger-b"); err != nil {
		t.Fatalf("ReleaseMerge: %v", err)
	}
	if err := l.AcquireMerge(ctx, "r", "1", "merger-c", false); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestMemoryBackendExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	now := time.Now()
	b.now = func() time.Time { return now }

	ok, _ := b.SetNX(ctx, "k", "a", time.Minute)
	if !ok {
		t.Fatal("SetNX on empty key failed")
	}
	if ok, _ := b.SetNX(ctx, "k", "b", time.Minute); ok {
		t.Error("SetNX succeeded on held key")
	}
	now = now.Add(2 * time.Minute)
	if _, err := b.Get(ctx, "k"); err == nil {
		t.Error("expired key still readable")
	}
	if ok, _ := b.SetNX(ctx, "k", "b", time.Minute); !ok {
		t.Error("SetNX failed on expired key")
	}
}
