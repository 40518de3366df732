// Package shard partitions an ordered document list into contiguous,
// 1-indexed work units. Every shard has ceil(len/total) documents except the
// tail, and trailing shards may be empty when there are more shards than
// documents.
package shard

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

// Validate rejects shard selections outside 1..total.
func Validate(index, total int) error {
	if total < 1 || index < 1 || index > total {
		return &apperrors.ShardError{Index: index, Total: total}
	}
	return nil
}

// Bounds returns the half-open range [start, end) of shard index over n
// documents.
func Bounds(n, index, total int) (start, end int, err error) {
	if err := Validate(index, total); err != nil {
		return 0, 0, err
	}
	size := (n + total - 1) / total
	start = (index - 1) * size
	if start >= n {
		return n, n, nil
	}
	end = min(start+size, n)
	return start, end, nil
}

// Plan returns the documents owned by shard index. The result shares the
// backing array of ids.
func Plan(ids []string, index, total int) ([]string, error) {
	start, end, err := Bounds(len(ids), index, total)
	if err != nil {
		return nil, err
	}
	return ids[start:end:end], nil
}

// Assignment is one shard of a plan.
type Assignment struct {
	Index     int
	Total     int
	Documents []string
}

// PlanAll splits ids into every shard of total, in index order.
func PlanAll(ids []string, total int) ([]Assignment, error) {
	if err := Validate(1, total); err != nil {
		return nil, err
	}
	out := make([]Assignment, 0, total)
	for i := 1; i <= total; i++ {
		docs, err := Plan(ids, i, total)
		if err != nil {
			return nil, err
		}
		out = append(out, Assignment{Index: i, Total: total, Documents: docs})
	}
	return out, nil
}
