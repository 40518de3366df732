// Package resilience retries transient failures of the optional network
// integrations (ledger, sinks, events) with jittered exponential backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

// RetryConfig controls Retry. Zero fields take the package defaults.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

var defaults = RetryConfig{
	MaxAttempts:    3,
	InitialDelay:   100 * time.Millisecond,
	MaxDelay:       10 * time.Second,
	Multiplier:     2.0,
	JitterFraction: 0.1,
}

// FromConfig converts the YAML retry section.
func FromConfig(c config.RetryConfig) RetryConfig {
	return RetryConfig{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = defaults.Multiplier
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = defaults.JitterFraction
	}
	return c
}

// delay returns the wait after the given failed attempt (1-based).
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt && d < float64(c.MaxDelay); i++ {
		d *= c.Multiplier
	}
	d += d * c.JitterFraction * (2*rand.Float64() - 1)
	return time.Duration(min(max(d, float64(c.InitialDelay)), float64(c.MaxDelay)))
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps err so Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// IsPermanent reports whether retrying err cannot help: explicit Permanent
// errors, a cancelled context, a held merge lock, an incomplete shard set and
// invalid configuration.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, apperrors.ErrMergeLocked) ||
		errors.Is(err, apperrors.ErrIncompleteShardSet) ||
		errors.Is(err, apperrors.ErrInvalidConfig)
}

// Retry calls fn until it succeeds, fails permanently, the attempts are
// exhausted, or ctx is done.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if IsPermanent(err) {
			var p permanent
			if errors.As(err, &p) {
				return p.err
			}
			return err
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, err)
		}

		wait := cfg.delay(attempt)
		logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"error", err,
			"next_delay", wait,
		)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry of %s aborted: %w", name, ctx.Err())
		}
	}
}
