package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSpanTree(t *testing.T) {
	ctx, root := Start(context.Background(), "count", "01RUN")
	_, read := Phase(ctx, "read")
	read.Set("documents", 3)
	read.End()
	_, write := Phase(ctx, "write")
	write.End()
	root.End()

	if got := root.Children(); len(got) != 2 || got[0].Name != "read" || got[1].Name != "write" {
		t.Fatalf("children = %v", got)
	}
	if read.RunID != "01RUN" {
		t.Errorf("child run id = %q", read.RunID)
	}
	if root.Duration <= 0 {
		t.Error("root duration not recorded")
	}

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("logged %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "span=read") || !strings.Contains(lines[1], "documents=3") || !strings.Contains(lines[1], "depth=1") {
		t.Errorf("child line = %s", lines[1])
	}
}

func TestPhaseWithoutParent(t *testing.T) {
	_, s := Phase(context.Background(), "orphan")
	s.End()
	first := s.Duration
	s.End()
	if s.Duration != first {
		t.Error("End changed the duration on a second call")
	}
	if FromContext(context.Background()) != nil {
		t.Error("empty context has a span")
	}
}
