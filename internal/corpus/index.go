package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

// LoadIndex reads a document list. Each row is a CSV record and the id is
// taken from column (0-based); a plain one-id-per-line file is the
// single-column case. Blank ids are skipped and file order is kept.
func LoadIndex(path string, column int, skipHeader bool) ([]string, error) {
	if column < 0 {
		return nil, apperrors.Invalidf("index column %d is negative", column)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening document list %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	var ids []string
	row := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading document list %s: %w", path, err)
		}
		row++
		if row == 1 && skipHeader {
			continue
		}
		if column >= len(rec) {
			return nil, fmt.Errorf("document list %s row %d has %d columns, id column is %d", path, row, len(rec), column)
		}
		id := strings.TrimSpace(rec[column])
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListDirectory derives the document list from the length-n frequency files
// under root, sorted by id.
func ListDirectory(root string, n int) ([]string, error) {
	r := NewReader(root)
	dir := r.Dir(n)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	suffix := fmt.Sprintf("-ngram%d.txt", n)
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if id, ok := strings.CutSuffix(name, suffix); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SelectDecade returns the single document list in indexDir whose file name
// contains "_<decade>_". Decades are written as a range such as 1971-1981.
func SelectDecade(indexDir, decade string) (string, error) {
	if !ValidDecade(decade) {
		return "", apperrors.Invalidf("decade %q must be a range like 1971-1981", decade)
	}
	entries, err := os.ReadDir(indexDir)
	if err != nil {
		return "", fmt.Errorf("listing document lists in %s: %w", indexDir, err)
	}
	marker := "_" + decade + "_"
	var matches []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.Contains(e.Name(), marker) {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) != 1 {
		return "", apperrors.Invalidf("found %d document lists for decade %s in %s, expected 1", len(matches), decade, indexDir)
	}
	return filepath.Join(indexDir, matches[0]), nil
}

// ValidDecade reports whether decade looks like "<year>-<year>".
func ValidDecade(decade string) bool {
	from, to, ok := strings.Cut(decade, "-")
	return ok && isYear(from) && isYear(to) && from < to
}

func isYear(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
