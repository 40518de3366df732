package shard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tag names a length set by concatenating its lengths: [1 2 3] -> "123".
func Tag(lengths []int) string {
	var b strings.Builder
	for _, n := range lengths {
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// PartName is the base name (without extension) of a shard's outputs, e.g.
// ngram123_part4.
func PartName(tag string, index int) string {
	return fmt.Sprintf("ngram%s_part%d", tag, index)
}

var partPattern = regexp.MustCompile(`^ngram([1-3]+)_part([0-9]+)\.csv$`)

// ParsePartFile recognizes a shard table file name such as ngram12_part3.csv.
// Aggregate files (ngram12_part3.aggregate.csv) do not match.
func ParsePartFile(name string) (tag string, index int, ok bool) {
	m := partPattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	index, err := strconv.Atoi(m[2])
	if err != nil || index < 1 {
		return "", 0, false
	}
	return m[1], index, true
}
