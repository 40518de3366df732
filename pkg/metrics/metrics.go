// Package metrics defines the Prometheus collectors used by counting workers
// and the merger, exposes an HTTP handler for scraping, and pushes the final
// values of a batch run to a Pushgateway.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus collectors for a run. Each Metrics owns its
// registry so several runs in one process (tests, local mode) do not collide.
type Metrics struct {
	registry *prometheus.Registry

	DocumentsCounted  prometheus.Counter
	DocumentsSkipped  *prometheus.CounterVec
	TermMatches       *prometheus.CounterVec
	FrequencyLines    *prometheus.CounterVec
	ShardDuration     prometheus.Histogram
	ShardDocuments    *prometheus.GaugeVec
	TablesMerged      prometheus.Counter
	MergedRows        prometheus.Gauge
	JoinMismatches    prometheus.Counter
	LastSuccessfulRun prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DocumentsCounted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lexcount_documents_counted_total",
				Help: "Documents fully counted and written to a result table.",
			},
		),
		DocumentsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcount_documents_skipped_total",
				Help: "Documents excluded from output by reason (malformed or missing).",
			},
			[]string{"reason"},
		),
		TermMatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcount_term_matches_total",
				Help: "Summed frequency of dictionary matches by perspective.",
			},
			[]string{"perspective"},
		),
		FrequencyLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcount_frequency_lines_total",
				Help: "Term-frequency lines read by n-gram length.",
			},
			[]string{"length"},
		),
		ShardDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lexcount_shard_duration_seconds",
				Help:    "Wall time to count one shard.",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
			},
		),
		ShardDocuments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lexcount_shard_documents",
				Help: "Documents assigned to a shard.",
			},
			[]string{"shard"},
		),
		TablesMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lexcount_tables_merged_total",
				Help: "Partial result tables consumed by the merger.",
			},
		),
		MergedRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lexcount_merged_rows",
				Help: "Rows in the final merged table.",
			},
		),
		JoinMismatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lexcount_join_mismatches_total",
				Help: "Rows whose derived key had no metadata match.",
			},
		),
		LastSuccessfulRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lexcount_last_success_timestamp_seconds",
				Help: "Unix time of the last run that completed without a fatal error.",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.DocumentsCounted,
		m.DocumentsSkipped,
		m.TermMatches,
		m.FrequencyLines,
		m.ShardDuration,
		m.ShardDocuments,
		m.TablesMerged,
		m.MergedRows,
		m.JoinMismatches,
		m.LastSuccessfulRun,
	)

	return m
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveShard records the size of a shard.
func (m *Metrics) ObserveShard(index, docs int) {
	m.ShardDocuments.WithLabelValues(strconv.Itoa(index)).Set(float64(docs))
}

// Push sends the current values to a Pushgateway, grouped by run and shard.
// An empty url is a no-op.
func (m *Metrics) Push(url, job, run string, shard int) error {
	if url == "" {
		return nil
	}
	pusher := push.New(url, job).
		Gatherer(m.registry).
		Grouping("run", run).
		Grouping("shard", strconv.Itoa(shard))
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
