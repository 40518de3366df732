package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContextAddsRunAttributes(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := WithRun(context.Background(), RunInfo{RunID: "01HZX", ShardIndex: 2, TotalShards: 5})
	FromContext(ctx).Info("shard started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if line["run_id"] != "01HZX" {
		t.Errorf("run_id = %v", line["run_id"])
	}
	if line["shard"] != float64(2) || line["shards"] != float64(5) {
		t.Errorf("shard attrs = %v/%v", line["shard"], line["shards"])
	}
}

func TestRunFromContextMissing(t *testing.T) {
	if _, ok := RunFromContext(context.Background()); ok {
		t.Error("expected no run info in empty context")
	}
}
