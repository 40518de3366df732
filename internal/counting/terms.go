package counting

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/fsutil"
	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/logger"
)

// TermTotals maps every corpus term of one length to its summed count.
type TermTotals map[string]int64

// AggregateTerms sums the length-n frequencies of every document in ids.
// A document that fails to read contributes nothing and is logged. On
// cancellation the totals so far are returned with ctx.Err().
func AggregateTerms(ctx context.Context, reader *corpus.Reader, ids []string, n int) (TermTotals, *ErrorLog, error) {
	log := logger.FromContext(ctx).With("component", "term-aggregator", "length", n)
	totals := make(TermTotals)
	errs := NewErrorLog()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return totals, errs, err
		}
		recs, err := reader.ReadAll(id, n)
		if err != nil {
			errs.Add(id, attribute(err, id, n))
			log.Debug("document skipped", "doc_id", id, "error", err)
			continue
		}
		for _, r := range recs {
			totals[r.Term] += r.Count
		}
	}
	log.Info("terms aggregated", "documents", len(ids), "terms", len(totals), "skipped", errs.Len())
	return totals, errs, nil
}

// Merge adds other into t.
func (t TermTotals) Merge(other TermTotals) {
	for term, c := range other {
		t[term] += c
	}
}

// Encode writes "term count" lines sorted by term.
func (t TermTotals) Encode(w io.Writer) error {
	terms := make([]string, 0, len(t))
	for term := range t {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		if _, err := fmt.Fprintf(w, "%s %d\n", term, t[term]); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the totals atomically.
func (t TermTotals) WriteFile(path string) error {
	return fsutil.WriteFileAtomic(path, t.Encode)
}

// ReadTermTotals parses a file written by WriteFile. The count follows the
// last space, so multi-word terms survive.
func ReadTermTotals(path string) (TermTotals, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening term totals %s: %w", path, err)
	}
	defer f.Close()

	t := make(TermTotals)
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		i := strings.LastIndexByte(text, ' ')
		if i <= 0 {
			return nil, fmt.Errorf("term totals %s line %d: missing count", path, line)
		}
		c, err := strconv.ParseInt(text[i+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("term totals %s line %d: %w", path, line, err)
		}
		t[text[:i]] += c
	}
	return t, sc.Err()
}
