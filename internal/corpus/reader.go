// Package corpus reads the precomputed per-document n-gram frequency files.
//
// A corpus root holds one directory per n-gram length, ngram<N>, and each
// document has one file per length named <document_id>-ngram<N>.txt. Every
// line of a file is "term<TAB>count". Terms are yielded verbatim: tokens of a
// multi-word term stay separated by single spaces.
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

// Record is one term-frequency line.
type Record struct {
	Term  string
	Count int64
}

// Reader opens frequency files under Root.
type Reader struct {
	Root string
	// Separator, when set, is the dictionary token separator. Duplicate
	// detection then compares terms with spaces mapped onto it, so
	// "social class" and "social_class" are the same term.
	Separator string
}

func NewReader(root string) *Reader {
	return &Reader{Root: root}
}

// Dir returns the directory holding the frequency files of length n.
func (r *Reader) Dir(n int) string {
	return filepath.Join(r.Root, fmt.Sprintf("ngram%d", n))
}

// Path returns the frequency file of a document for length n.
func (r *Reader) Path(documentID string, n int) string {
	return filepath.Join(r.Dir(n), FileName(documentID, n))
}

// FileName is the base name of a frequency file.
func FileName(documentID string, n int) string {
	return fmt.Sprintf("%s-ngram%d.txt", documentID, n)
}

// Open returns a Scanner over the document's length-n frequency file. A
// missing file is reported as a *DocumentError wrapping ErrMissingDocument.
func (r *Reader) Open(documentID string, n int) (*Scanner, error) {
	if n < 1 || n > 3 {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrUnsupportedNgramLen, n)
	}
	path := r.Path(documentID, n)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Missing(documentID, n, path)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Scanner{
		file:       f,
		sc:         sc,
		documentID: documentID,
		length:     n,
		sep:        r.Separator,
		seen:       make(map[string]struct{}),
	}, nil
}

// ReadAll returns every record of a document's length-n file, or the first
// error encountered.
func (r *Reader) ReadAll(documentID string, n int) ([]Record, error) {
	s, err := r.Open(documentID, n)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	var out []Record
	for s.Next() {
		out = append(out, s.Record())
	}
	return out, s.Err()
}

// Scanner iterates the records of one frequency file. It is not restartable;
// open the document again to re-read it.
type Scanner struct {
	file       *os.File
	sc         *bufio.Scanner
	documentID string
	length     int
	line       int
	sep        string
	seen       map[string]struct{}
	rec        Record
	err        error
}

// Next advances to the next record. It returns false at the end of the file
// or on the first malformed line, after which Err reports the cause.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			s.err = apperrors.Malformed(s.documentID, s.length, s.line+1, "read error: %v", err)
		}
		return false
	}
	s.line++
	rec, err := s.parse(strings.TrimSuffix(s.sc.Text(), "\r"))
	if err != nil {
		s.err = err
		return false
	}
	s.rec = rec
	return true
}

func (s *Scanner) parse(line string) (Record, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 2 {
		return Record{}, apperrors.Malformed(s.documentID, s.length, s.line, "expected 2 tab-separated fields, got %d", len(fields))
	}
	term := fields[0]
	if term == "" {
		return Record{}, apperrors.Malformed(s.documentID, s.length, s.line, "empty term")
	}
	count, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || count < 0 {
		return Record{}, apperrors.Malformed(s.documentID, s.length, s.line, "count %q is not a non-negative integer", fields[1])
	}
	key := term
	if s.sep != "" && s.sep != " " {
		key = strings.ReplaceAll(term, " ", s.sep)
	}
	if _, dup := s.seen[key]; dup {
		return Record{}, apperrors.Malformed(s.documentID, s.length, s.line, "duplicate term %q", term)
	}
	s.seen[key] = struct{}{}
	return Record{Term: term, Count: count}, nil
}

// Record returns the record read by the last successful Next.
func (s *Scanner) Record() Record {
	return s.rec
}

// Err returns the error that stopped iteration, or nil at a clean end.
func (s *Scanner) Err() error {
	return s.err
}

// Lines returns the number of lines consumed so far.
func (s *Scanner) Lines() int {
	return s.line
}

func (s *Scanner) Close() error {
	return s.file.Close()
}
