// Package counting matches each document's precomputed n-gram frequencies
// against the perspective dictionaries and accumulates per-document and
// corpus-level counts.
//
// A document is counted for every requested length before it is accepted.
// If any length fails (missing or malformed file), the document is left out
// of the table and the aggregate entirely and recorded in the ErrorLog, so a
// row always covers the full length set.
package counting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/dictionary"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/table"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/metrics"
)

// CorpusRowID keys the single row of an aggregate table.
const CorpusRowID = "corpus"

// Config selects the lengths counted and the column layout.
type Config struct {
	Lengths    []int
	Mode       string
	IncludeRaw bool
}

// Vector holds one document's counts aligned to Engine.Columns.
type Vector []int64

// Engine counts documents. It holds no per-run state and may be shared by
// goroutines counting different shards.
type Engine struct {
	store   *dictionary.Store
	reader  *corpus.Reader
	lengths []int
	columns []string
	// per length position: raw column (or -1) and one column per perspective
	rawCol   []int
	perspCol [][]int
	// per length position in terms mode: canonical term to column
	termCol []map[string]int
	// distinct columns holding each perspective's matches
	matchCols [][]int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEngine validates cfg and lays out the result columns. m may be nil.
func NewEngine(store *dictionary.Store, reader *corpus.Reader, cfg Config, m *metrics.Metrics) (*Engine, error) {
	if len(cfg.Lengths) == 0 {
		return nil, apperrors.Invalidf("no n-gram lengths to count")
	}
	seen := make(map[int]bool, len(cfg.Lengths))
	var lengths []int
	for _, n := range cfg.Lengths {
		if n < 1 || n > dictionary.MaxTermLength {
			return nil, fmt.Errorf("%w: %d", apperrors.ErrUnsupportedNgramLen, n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		lengths = append(lengths, n)
	}

	e := &Engine{
		store:   store,
		reader:  reader,
		lengths: lengths,
		metrics: m,
		logger:  slog.Default().With("component", "counting-engine"),
	}
	var cols []string
	colIndex := make(map[string]int)
	addColumn := func(name string) int {
		if i, ok := colIndex[name]; ok {
			return i
		}
		colIndex[name] = len(cols)
		cols = append(cols, name)
		return len(cols) - 1
	}
	perspectives := store.Perspectives()
	e.matchCols = make([][]int, len(perspectives))
	if cfg.Mode == config.ModeTerms {
		e.layoutTerms(perspectives, addColumn)
		raw := -1
		if cfg.IncludeRaw {
			raw = addColumn("ngram_count")
		}
		for range lengths {
			e.rawCol = append(e.rawCol, raw)
		}
	} else if err := e.layoutPerspectives(perspectives, cfg, addColumn); err != nil {
		return nil, err
	}
	e.columns = cols
	e.logger.Debug("engine configured", "lengths", e.lengths, "mode", cfg.Mode, "columns", len(cols))
	return e, nil
}

// layoutPerspectives gives each perspective one column per length in split
// mode, or one column across lengths in merged mode.
func (e *Engine) layoutPerspectives(perspectives []string, cfg Config, addColumn func(string) int) error {
	for _, n := range e.lengths {
		raw := -1
		pc := make([]int, len(perspectives))
		switch cfg.Mode {
		case config.ModeSplit, "":
			if cfg.IncludeRaw {
				raw = addColumn(fmt.Sprintf("ngram_%d_count", n))
			}
			for i, p := range perspectives {
				pc[i] = addColumn(fmt.Sprintf("%s_%d_count", p, n))
			}
		case config.ModeMerged:
			for i, p := range perspectives {
				pc[i] = addColumn(p + "_count")
			}
			if cfg.IncludeRaw {
				raw = addColumn("ngram_count")
			}
		default:
			return apperrors.Invalidf("unknown column mode %q", cfg.Mode)
		}
		e.rawCol = append(e.rawCol, raw)
		e.perspCol = append(e.perspCol, pc)
		for i, c := range pc {
			if !slices.Contains(e.matchCols[i], c) {
				e.matchCols[i] = append(e.matchCols[i], c)
			}
		}
	}
	return nil
}

// layoutTerms gives every dictionary term of a counted length its own column,
// named after the term with the separator replaced by "_". Columns follow
// perspective order, then load order; a term in several dictionaries gets one
// column.
func (e *Engine) layoutTerms(perspectives []string, addColumn func(string) int) {
	sep := e.store.Separator()
	e.termCol = make([]map[string]int, len(e.lengths))
	for li := range e.lengths {
		e.termCol[li] = make(map[string]int)
	}
	for i, p := range perspectives {
		d, _ := e.store.Dictionary(p)
		for _, term := range d.Terms() {
			for li, n := range e.lengths {
				if !d.Bucket(n).Has(term) {
					continue
				}
				c := addColumn(strings.ReplaceAll(term, sep, "_") + "_count")
				e.termCol[li][term] = c
				if !slices.Contains(e.matchCols[i], c) {
					e.matchCols[i] = append(e.matchCols[i], c)
				}
			}
		}
	}
}

// Columns returns the result column names.
func (e *Engine) Columns() []string {
	out := make([]string, len(e.columns))
	copy(out, e.columns)
	return out
}

// Lengths returns the de-duplicated lengths in counting order.
func (e *Engine) Lengths() []int {
	out := make([]int, len(e.lengths))
	copy(out, e.lengths)
	return out
}

// CountDocument reads every requested length of a document and returns its
// counts. The first failing length fails the document; the error is a
// *DocumentError naming that length.
func (e *Engine) CountDocument(ctx context.Context, documentID string) (Vector, error) {
	vec := make(Vector, len(e.columns))
	for li, n := range e.lengths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.countLength(documentID, li, n, vec); err != nil {
			return nil, err
		}
	}
	return vec, nil
}

func (e *Engine) countLength(documentID string, li, n int, vec Vector) error {
	sc, err := e.reader.Open(documentID, n)
	if err != nil {
		return attribute(err, documentID, n)
	}
	defer sc.Close()

	sets := e.store.BucketsByLength(n)
	raw := e.rawCol[li]
	for sc.Next() {
		rec := sc.Record()
		if raw >= 0 {
			vec[raw] += rec.Count
		}
		term := e.store.Canonical(rec.Term)
		if e.termCol != nil {
			if c, ok := e.termCol[li][term]; ok {
				vec[c] += rec.Count
			}
			continue
		}
		cols := e.perspCol[li]
		for i, set := range sets {
			if set.Has(term) {
				vec[cols[i]] += rec.Count
			}
		}
	}
	if e.metrics != nil {
		e.metrics.FrequencyLines.WithLabelValues(strconv.Itoa(n)).Add(float64(sc.Lines()))
	}
	if err := sc.Err(); err != nil {
		return attribute(err, documentID, n)
	}
	return nil
}

// attribute makes sure err names the document and length it concerns. A file
// that exists but cannot be read counts as malformed.
func attribute(err error, documentID string, n int) error {
	var de *apperrors.DocumentError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, apperrors.ErrUnsupportedNgramLen) {
		return err
	}
	return &apperrors.DocumentError{
		DocumentID: documentID,
		Length:     n,
		Err:        apperrors.ErrMalformedDocument,
		Detail:     fmt.Sprintf("unreadable frequency file: %v", err),
	}
}

// Result is the outcome of counting one shard.
type Result struct {
	Table     *table.Table
	Aggregate Vector
	Errors    *ErrorLog
	Counted   int
	// Partial is set when the run stopped early on context cancellation.
	// Table, Aggregate and Errors are still consistent with each other.
	Partial  bool
	Duration time.Duration
}

// AggregateTable returns the corpus aggregate as a one-row table.
func (r *Result) AggregateTable(name string) *table.Table {
	t := table.New(name, r.Table.Columns()...)
	t.Append(CorpusRowID, r.Aggregate)
	return t
}

// CountCorpus counts documents in order into a table named name. Recoverable
// document failures are logged and skipped; any other error aborts the shard.
// Cancellation stops between documents and returns the partial result with a
// nil error.
func (e *Engine) CountCorpus(ctx context.Context, name string, ids []string) (*Result, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("component", "counting-engine", "table", name)
	res := &Result{
		Table:     table.New(name, e.columns...),
		Aggregate: make(Vector, len(e.columns)),
		Errors:    NewErrorLog(),
	}
	perspectives := e.store.Perspectives()

	for _, id := range ids {
		if ctx.Err() != nil {
			res.Partial = true
			break
		}
		vec, err := e.CountDocument(ctx, id)
		if err != nil {
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				res.Partial = true
				break
			}
			if !apperrors.IsRecoverable(err) {
				return nil, fmt.Errorf("counting %s: %w", name, err)
			}
			res.Errors.Add(id, err)
			e.observeSkip(err)
			log.Debug("document skipped", "doc_id", id, "error", err)
			continue
		}
		if err := res.Table.Append(id, vec); err != nil {
			return nil, err
		}
		for i, v := range vec {
			res.Aggregate[i] += v
		}
		res.Counted++
		e.observeCounted(perspectives, vec)
	}

	res.Duration = time.Since(start)
	if e.metrics != nil {
		e.metrics.ShardDuration.Observe(res.Duration.Seconds())
	}
	log.Info("shard counted",
		"documents", len(ids),
		"counted", res.Counted,
		"skipped", res.Errors.Len(),
		"partial", res.Partial,
		"duration", res.Duration,
	)
	return res, nil
}

func (e *Engine) observeCounted(perspectives []string, vec Vector) {
	if e.metrics == nil {
		return
	}
	e.metrics.DocumentsCounted.Inc()
	for i, p := range perspectives {
		var matched int64
		for _, c := range e.matchCols[i] {
			matched += vec[c]
		}
		if matched > 0 {
			e.metrics.TermMatches.WithLabelValues(p).Add(float64(matched))
		}
	}
}

func (e *Engine) observeSkip(err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.DocumentsSkipped.WithLabelValues(skipReason(err)).Inc()
}

func skipReason(err error) string {
	if errors.Is(err, apperrors.ErrMissingDocument) {
		return "missing"
	}
	return "malformed"
}
