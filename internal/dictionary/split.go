package dictionary

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/fsutil"
)

// SplitByLength writes one file per term length, <name>_<n>.csv, holding the
// terms of that length with their tokens joined by commas. Every length file
// is written even when empty so length-specific workers always find one.
// It returns the paths written.
func SplitByLength(d *Dictionary, outDir string) ([]string, error) {
	byLength := make([][]string, MaxTermLength+1)
	for _, term := range d.terms {
		n := d.length(term)
		byLength[n] = append(byLength[n], term)
	}

	paths := make([]string, 0, MaxTermLength)
	for n := 1; n <= MaxTermLength; n++ {
		path := filepath.Join(outDir, fmt.Sprintf("%s_%d.csv", d.Name, n))
		terms := byLength[n]
		err := fsutil.WriteFileAtomic(path, func(w io.Writer) error {
			for _, term := range terms {
				if _, err := io.WriteString(w, strings.ReplaceAll(term, d.sep, ",")+"\n"); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return paths, fmt.Errorf("splitting dictionary %s: %w", d.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (d *Dictionary) length(term string) int {
	for n := 1; n <= MaxTermLength; n++ {
		if d.buckets[n].Has(term) {
			return n
		}
	}
	return 0
}
