// Package logger configures the process-wide slog handler and carries run
// and shard attributes through contexts so every line a worker emits can be
// attributed to its run.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type contextKey struct{}

// Setup installs the default slog logger with the given level and format
// ("json" or "text").
func Setup(level string, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// RunInfo identifies one worker or merge invocation.
type RunInfo struct {
	RunID       string
	ShardIndex  int
	TotalShards int
}

// WithRun stores run attributes in ctx.
func WithRun(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// RunFromContext returns the run attributes stored by WithRun.
func RunFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(contextKey{}).(RunInfo)
	return info, ok
}

// FromContext returns the default logger enriched with the run attributes
// found in ctx, if any.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if info, ok := RunFromContext(ctx); ok {
		logger = logger.With("run_id", info.RunID)
		if info.TotalShards > 0 {
			logger = logger.With("shard", info.ShardIndex, "shards", info.TotalShards)
		}
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
