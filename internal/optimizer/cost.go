package optimizer

// HashJoinCost estimates the cost of joining left and right with a hash
// join: one linear pass to build the left side's index plus one linear
// probe pass over the right side, per spec.md §4.6's cost model (build+probe, not the
// quadratic nested-loop cost).
func HashJoinCost(left, right TableStats) float64 {
	return float64(left.Size) + float64(right.Size)
}

// NestedLoopJoinCost estimates the cost of joining left and right without
// an equality predicate to hash on: every left row rescans all of right.
func NestedLoopJoinCost(left, right TableStats) float64 {
	return float64(left.Size) * float64(right.Size)
}
