package counting

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/fsutil"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

// Entry is one skipped document.
type Entry struct {
	DocumentID string
	Length     int
	Reason     string
}

// ErrorLog collects the documents a shard skipped, in the order they were
// encountered. It is owned by a single worker.
type ErrorLog struct {
	entries []Entry
}

func NewErrorLog() *ErrorLog {
	return &ErrorLog{}
}

// Add records a failed document. Length and reason come from the
// *DocumentError in err when there is one.
func (l *ErrorLog) Add(documentID string, err error) {
	e := Entry{DocumentID: documentID, Reason: reason(err)}
	var de *apperrors.DocumentError
	if errors.As(err, &de) {
		e.Length = de.Length
	}
	l.entries = append(l.entries, e)
}

func reason(err error) string {
	var de *apperrors.DocumentError
	if !errors.As(err, &de) {
		return flatten(err.Error())
	}
	var b strings.Builder
	b.WriteString(de.Err.Error())
	if de.Line > 0 {
		fmt.Fprintf(&b, " at line %d", de.Line)
	}
	if de.Detail != "" {
		b.WriteString(": ")
		b.WriteString(de.Detail)
	}
	return flatten(b.String())
}

// flatten keeps a reason on one log line and out of the tab-separated fields.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (l *ErrorLog) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the recorded entries.
func (l *ErrorLog) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Merge appends the entries of other.
func (l *ErrorLog) Merge(other *ErrorLog) {
	l.entries = append(l.entries, other.entries...)
}

// Encode writes one "doc_id<TAB>length<TAB>reason" line per entry.
func (l *ErrorLog) Encode(w io.Writer) error {
	for _, e := range l.entries {
		if _, err := fmt.Fprintf(w, "%s\t%d\t%s\n", e.DocumentID, e.Length, e.Reason); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the log to path when it has entries and removes any
// stale file at path otherwise. It reports whether a file was written.
func (l *ErrorLog) WriteFile(path string) (bool, error) {
	if len(l.entries) == 0 {
		return false, fsutil.RemoveIfExists(path)
	}
	if err := fsutil.WriteFileAtomic(path, l.Encode); err != nil {
		return false, err
	}
	return true, nil
}

// ReadErrorLog parses a log written by WriteFile.
func ReadErrorLog(path string) (*ErrorLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening error log %s: %w", path, err)
	}
	defer f.Close()

	l := NewErrorLog()
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		parts := strings.SplitN(sc.Text(), "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("error log %s line %d: expected 3 fields", path, line)
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("error log %s line %d: bad length %q", path, line, parts[1])
		}
		l.entries = append(l.entries, Entry{DocumentID: parts[0], Length: n, Reason: parts[2]})
	}
	return l, sc.Err()
}
