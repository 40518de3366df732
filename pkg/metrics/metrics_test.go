package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewIsolatedRegistries(t *testing.T) {
	// Two runs in one process must not panic on duplicate registration.
	a := New()
	b := New()

	a.DocumentsCounted.Add(3)
	b.DocumentsCounted.Inc()

	if got := testutil.ToFloat64(a.DocumentsCounted); got != 3 {
		t.Errorf("a counted = %v, want 3", got)
	}
	if got := testutil.ToFloat64(b.DocumentsCounted); got != 1 {
		t.Errorf("b counted = %v, want 1", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.DocumentsSkipped.WithLabelValues("malformed").Inc()
	m.TermMatches.WithLabelValues("demographic").Add(7)
	m.ObserveShard(2, 40)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`lexcount_documents_skipped_total{reason="malformed"} 1`,
		`lexcount_term_matches_total{perspective="demographic"} 7`,
		`lexcount_shard_documents{shard="2"} 40`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestPushWithoutURLIsNoop(t *testing.T) {
	if err := New().Push("", "lexcount", "run", 1); err != nil {
		t.Errorf("Push with empty url: %v", err)
	}
}
