package optimizer

import (
	"math"

	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/dberrors"
	"github.com/kvrel/dbcore/internal/plan"
)

// Leaf is one base relation the DP join-order enumerator may combine:
// its (already rule-optimized) scan plan plus the cardinality estimate
// EstimateTable derived for it.
type Leaf struct {
	Node  *plan.PlanNode
	Stats TableStats
}

// Edge is one equi-join condition between two leaves, with both sides'
// columns named in that leaf's own (pre-join) schema numbering.
type Edge struct {
	Left, Right       int
	LeftCol, RightCol catalog.ColumnID
}

func crossingEdges(edges []Edge, s1, s2 int) []Edge {
	var out []Edge
	for _, e := range edges {
		bitL, bitR := 1<<e.Left, 1<<e.Right
		if (s1&bitL != 0 && s2&bitR != 0) || (s1&bitR != 0 && s2&bitL != 0) {
			out = append(out, e)
		}
	}
	return out
}

// canonical reorients every edge so Left is whichever endpoint falls in
// s1 and Right whichever falls in s2, for the s1/s2 split being
// considered — crossingEdges returns edges in their original orientation,
// which may have Left in s2 instead.
func canonical(edges []Edge, s1 int) []Edge {
	out := make([]Edge, len(edges))
	for i, e := range edges {
		if s1&(1<<e.Left) != 0 {
			out[i] = e
		} else {
			out[i] = Edge{Left: e.Right, Right: e.Left, LeftCol: e.RightCol, RightCol: e.LeftCol}
		}
	}
	return out
}

// selectivityFor mirrors EstimateJoinEq: only the first crossing
// equi-predicate contributes a 1/max(ndv) selectivity factor. spec.md §4.6
// applies this once per pair of relations, not once per shared join
// column, so a composite/multi-column equi-key must not compound the
// selectivity across every edge.
func selectivityFor(leaves []Leaf, edges []Edge) float64 {
	if len(edges) == 0 {
		return 1.0
	}
	e := edges[0]
	dl := distinctCount(leaves[e.Left].Stats, e.LeftCol)
	dr := distinctCount(leaves[e.Right].Stats, e.RightCol)
	return 1.0 / math.Max(dl, dr)
}

func isPowerOfTwo(x int) bool { return x&(x-1) == 0 }

// buildJoinNode assembles the PlanNode for combining s1Node/s2Node: a
// HashJoin keyed on the crossing equalities when any exist, else a plain
// (nested-loop) cross-product Join.
func buildJoinNode(s1Node, s2Node *plan.PlanNode, offsetsS1, offsetsS2 map[int]int, edgesCross []Edge) *plan.PlanNode {
	schema := plan.Concat(s1Node.Schema, s2Node.Schema)
	if len(edgesCross) == 0 {
		return &plan.PlanNode{Kind: plan.NodeJoin, Children: []*plan.PlanNode{s1Node, s2Node}, Schema: schema}
	}
	leftKeys := make([]*plan.Expr, len(edgesCross))
	rightKeys := make([]*plan.Expr, len(edgesCross))
	for i, e := range edgesCross {
		leftID := catalog.ColumnID(offsetsS1[e.Left]) + e.LeftCol
		rightID := catalog.ColumnID(offsetsS2[e.Right]) + e.RightCol
		leftKeys[i] = plan.Col(leftID, s1Node.Schema.ColumnType(int(leftID)))
		rightKeys[i] = plan.Col(rightID, s2Node.Schema.ColumnType(int(rightID)))
	}
	return &plan.PlanNode{
		Kind: plan.NodeHashJoin, Children: []*plan.PlanNode{s1Node, s2Node}, Schema: schema,
		LeftKeyExprs: leftKeys, RightKeyExprs: rightKeys,
	}
}

// EnumerateJoinOrder runs the classic bitmask DP over leaves x edges
// spec.md §4.6 describes: f[S] holds the minimum cost to join the subset
// S of leaves, g[S] the propagated cardinality/column-stats summary for
// that joined subset, considering every way of splitting S into two
// nonempty disjoint halves.
func EnumerateJoinOrder(leaves []Leaf, edges []Edge) (*plan.PlanNode, TableStats, error) {
	n := len(leaves)
	if n == 0 {
		return nil, TableStats{}, dberrors.Wrap(dberrors.PlanError, "optimizer: no leaves to join")
	}
	if n == 1 {
		return leaves[0].Node, leaves[0].Stats, nil
	}
	if n > 20 {
		return nil, TableStats{}, dberrors.Wrap(dberrors.PlanError, "optimizer: too many join inputs (%d) for bitmask DP", n)
	}

	full := (1 << n) - 1
	f := make([]float64, full+1)
	g := make([]TableStats, full+1)
	plans := make([]*plan.PlanNode, full+1)
	offsets := make([]map[int]int, full+1)

	for i, leaf := range leaves {
		mask := 1 << i
		f[mask] = 0
		g[mask] = leaf.Stats
		plans[mask] = leaf.Node
		offsets[mask] = map[int]int{i: 0}
	}

	for mask := 1; mask <= full; mask++ {
		if isPowerOfTwo(mask) {
			continue
		}
		best := math.Inf(1)
		var bestPlan *plan.PlanNode
		var bestStats TableStats
		var bestOffsets map[int]int

		for s1 := (mask - 1) & mask; s1 > 0; s1 = (s1 - 1) & mask {
			s2 := mask ^ s1
			if s1 > s2 {
				continue // (s1,s2) and (s2,s1) are the same split
			}
			cross := canonical(crossingEdges(edges, s1, s2), s1)
			var joinCost float64
			if len(cross) > 0 {
				joinCost = HashJoinCost(g[s1], g[s2])
			} else {
				joinCost = NestedLoopJoinCost(g[s1], g[s2])
			}
			total := f[s1] + f[s2] + joinCost
			if total >= best {
				continue
			}
			best = total
			sel := selectivityFor(leaves, cross)
			size := int64(math.Round(float64(g[s1].Size) * float64(g[s2].Size) * sel))
			merged := make(map[int]int, len(offsets[s1])+len(offsets[s2]))
			for k, v := range offsets[s1] {
				merged[k] = v
			}
			base := len(plans[s1].Schema.Columns)
			for k, v := range offsets[s2] {
				merged[k] = base + v
			}
			bestOffsets = merged
			bestPlan = buildJoinNode(plans[s1], plans[s2], offsets[s1], offsets[s2], cross)
			bestStats = TableStats{Size: size, ColumnDistinct: mergeColumnDistinct(leaves, merged)}
		}

		f[mask] = best
		g[mask] = bestStats
		plans[mask] = bestPlan
		offsets[mask] = bestOffsets
	}

	return plans[full], g[full], nil
}

// mergeColumnDistinct rebuilds a subset's ColumnDistinct map directly from
// its member leaves' own per-column stats and their offsets within the
// subset's schema, sidestepping the ambiguity of re-deriving it from
// intermediate g[] values that were themselves approximations.
func mergeColumnDistinct(leaves []Leaf, offsets map[int]int) map[catalog.ColumnID]float64 {
	out := make(map[catalog.ColumnID]float64)
	for leafIdx, base := range offsets {
		for col, rate := range leaves[leafIdx].Stats.ColumnDistinct {
			out[catalog.ColumnID(base)+col] = rate
		}
	}
	return out
}
