package benchmark

import (
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/lexcount/internal/table"
)

func shardTables(shards, rows int, cols ...string) []*table.Table {
	out := make([]*table.Table, shards)
	for s := range out {
		t := table.New(fmt.Sprintf("part%d", s+1), cols...)
		values := make([]int64, len(cols))
		for r := 0; r < rows; r++ {
			for c := range values {
				values[c] = int64(r + c)
			}
			t.Append(fmt.Sprintf("doc-%d-%d", s, r), values)
		}
		out[s] = t
	}
	return out
}

// BenchmarkConcatFinalize measures merging 16 shard tables of 1 000 rows.
func BenchmarkConcatFinalize(b *testing.B) {
	parts := shardTables(16, 1000, "ngram_1_count", "demographic_1_count", "relational_1_count", "cultural_1_count")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		merged := table.Finalize(table.Concat("ngram1", parts...))
		_ = merged
	}
}

// BenchmarkSumAcrossLengths measures the cross-length merge of three merged
// mode tables that share every document.
func BenchmarkSumAcrossLengths(b *testing.B) {
	cols := []string{"demographic_count", "relational_count", "cultural_count", "ngram_count"}
	lengths := make([]*table.Table, 3)
	for n := range lengths {
		lengths[n] = shardTables(1, 10000, cols...)[0]
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		merged := table.SumAcross("counts_merged", lengths...)
		_ = merged
	}
}
