// Package optimizer implements the rule-rewrite pipeline and cost-based
// join-order enumerator spec.md §4.5/§4.6 describe: rewrite rules that push
// filters toward scans and recognize range-scan/hash-join shapes, and a
// bitmask dynamic-programming search over join subsets guided by
// cardinality and cost estimates.
package optimizer

import (
	"math"

	"github.com/kvrel/dbcore/internal/catalog"
)

// TableStats is the per-subset statistics summary the DP enumerator
// propagates through f[S]/g[S], per SPEC_FULL §5: the original
// (card_est.hpp / cost_based_optimizer.cpp) tracks size plus a per-column
// distinct-rate, not just a scalar cardinality.
type TableStats struct {
	Size           int64
	ColumnDistinct map[catalog.ColumnID]float64
}

// EstimateTable derives a base TableStats from a table's catalog
// statistics: TupleNum for Size, and each column's DistinctRate carried
// through unchanged (spec.md §4.5's column stats, read-only at query
// time).
func EstimateTable(t *catalog.Table) TableStats {
	out := TableStats{Size: t.Stats.TupleNum, ColumnDistinct: make(map[catalog.ColumnID]float64, len(t.Columns))}
	for _, c := range t.Columns {
		rate := 1.0
		if cs, ok := t.Stats.Columns[c.ID]; ok {
			rate = cs.DistinctRate
		}
		out.ColumnDistinct[c.ID] = rate
	}
	return out
}

// JoinPredicate names one equality edge between a column of the left
// input and a column of the right input, in each side's own (pre-join)
// column numbering.
type JoinPredicate struct {
	LeftCol, RightCol catalog.ColumnID
}

func distinctCount(ts TableStats, col catalog.ColumnID) float64 {
	rate, ok := ts.ColumnDistinct[col]
	if !ok || rate <= 0 {
		rate = 1
	}
	d := rate * float64(ts.Size)
	if d < 1 {
		d = 1
	}
	return d
}

// EstimateJoinEq estimates the output size of joining left and right over
// preds: with no predicates the result is the plain cross product
// (|A|*|B|, the invariant the DP enumerator's cartesian-fallback path
// relies on); otherwise only the *first* equi-predicate connecting the two
// sides divides in a selectivity of 1/max(distinct(left), distinct(right))
// — spec.md §4.6 is explicit that this applies once, not once per
// predicate, matching original_source/src/plan/card_est.hpp's break after
// the first matching equi-predicate. A composite/multi-column equi-key
// must not compound the selectivity across every column.
func EstimateJoinEq(left, right TableStats, preds []JoinPredicate) TableStats {
	size := float64(left.Size) * float64(right.Size)
	var matched *JoinPredicate
	if len(preds) > 0 {
		p := preds[0]
		dl := distinctCount(left, p.LeftCol)
		dr := distinctCount(right, p.RightCol)
		size /= math.Max(dl, dr)
		matched = &p
	}
	return TableStats{Size: int64(math.Round(size)), ColumnDistinct: mergeDistinct(left, right, matched)}
}

// mergeDistinct renumbers right's column ids after left's (the same
// renumbering plan.Concat applies to schemas), so the merged map indexes
// the joined row's own columns. When matched names the equi-predicate
// EstimateJoinEq applied, both of its columns' distinct_rate are
// overwritten with min(d_a, d_b), per spec.md §4.6.
func mergeDistinct(left, right TableStats, matched *JoinPredicate) map[catalog.ColumnID]float64 {
	out := make(map[catalog.ColumnID]float64, len(left.ColumnDistinct)+len(right.ColumnDistinct))
	for k, v := range left.ColumnDistinct {
		out[k] = v
	}
	offset := catalog.ColumnID(len(left.ColumnDistinct))
	for k, v := range right.ColumnDistinct {
		out[offset+k] = v
	}
	if matched != nil {
		minRate := math.Min(distinctRate(left, matched.LeftCol), distinctRate(right, matched.RightCol))
		out[matched.LeftCol] = minRate
		out[offset+matched.RightCol] = minRate
	}
	return out
}

// distinctRate returns col's raw distinct_rate (not multiplied by table
// size), defaulting to 1 when unknown — the companion to distinctCount,
// which returns the ndv count distinctCount = rate*size.
func distinctRate(ts TableStats, col catalog.ColumnID) float64 {
	if rate, ok := ts.ColumnDistinct[col]; ok && rate > 0 {
		return rate
	}
	return 1
}
