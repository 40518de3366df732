package main

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/dictionary"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/events"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/table"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/redis"
)

// loadConfig reads the config file, applies command-line overrides,
// validates the result and installs the logger.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("shard") {
		cfg.Shard.Index = c.Int("shard")
	}
	if c.IsSet("shards") {
		cfg.Shard.Total = c.Int("shards")
	}
	if c.IsSet("lengths") {
		lengths, err := config.ParseLengths(c.String("lengths"))
		if err != nil {
			return nil, apperrors.Invalidf("--lengths: %v", err)
		}
		cfg.Counting.Lengths = lengths
	}
	if c.IsSet("mode") {
		cfg.Counting.Mode = c.String("mode")
	}
	if c.IsSet("decade") {
		cfg.Corpus.Decade = c.String("decade")
	}
	if c.IsSet("out") {
		cfg.Output.Dir = c.String("out")
	}
	if c.IsSet("run") {
		cfg.Output.RunName = c.String("run")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func newRunID() string {
	return ulid.MustNew(ulid.Now(), ulid.Monotonic(rand.Reader, 0)).String()
}

// services holds the optional integrations of one invocation. Nil fields
// are disabled in the config.
type services struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	checker  *health.Checker
	redis    *redis.Client
	ledger   *ledger.Ledger
	producer *kafka.Producer
	notifier *events.Notifier
	sqlite   *table.SQLiteStore
	pg       *postgres.Client
	sink     *table.PostgresSink
	shutdown func(context.Context) error
}

func openServices(ctx context.Context, cfg *config.Config) (*services, error) {
	s := &services{
		cfg:     cfg,
		metrics: metrics.New(),
		checker: health.NewChecker(),
	}
	s.checker.SetRun(cfg.Output.RunName)
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.redis = rc
		s.ledger = ledger.New(rc, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL)
		s.checker.RegisterPing("redis", rc.Ping)
	}
	if cfg.Kafka.Enabled {
		s.producer = kafka.NewProducer(cfg.Kafka)
		s.notifier = events.NewNotifier(s.producer)
	}
	if cfg.Output.SQLitePath != "" {
		store, err := table.OpenSQLite(ctx, cfg.Output.SQLitePath)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.sqlite = store
	}
	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.pg = db
		s.sink = table.NewPostgresSink(db)
		s.checker.RegisterPing("postgres", db.Ping)
	}
	if cfg.Metrics.Enabled {
		s.shutdown = metrics.StartServer(cfg.Metrics.Port, s.metrics, s.checker)
	}
	return s, nil
}

// Push sends the run's metrics to the Pushgateway when one is configured.
func (s *services) Push(run string, shard int) {
	if err := s.metrics.Push(s.cfg.Metrics.PushgatewayURL, s.cfg.Metrics.Job, run, shard); err != nil {
		slog.Warn("metrics push failed", "error", err)
	}
}

func (s *services) Close(ctx context.Context) {
	if s.shutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			slog.Warn("closing kafka producer", "error", err)
		}
	}
	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			slog.Warn("closing sqlite store", "error", err)
		}
	}
	if s.pg != nil {
		s.pg.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}

func storeSources(cfg *config.Config) []dictionary.Source {
	sources := make([]dictionary.Source, 0, len(cfg.Dictionaries))
	for _, d := range cfg.Dictionaries {
		sources = append(sources, dictionary.Source{Name: d.Name, Path: d.Path})
	}
	return sources
}

// loadStore loads every configured dictionary with the run's decade applied.
// Pass a shared loader when several goroutines build stores for the same run.
func loadStore(cfg *config.Config, loader *dictionary.Loader) (*dictionary.Store, error) {
	if loader == nil {
		loader = dictionary.NewLoader(cfg.Counting.Separator)
	}
	return loader.LoadStore(storeSources(cfg), cfg.Corpus.Decade)
}
