package plan

import "github.com/kvrel/dbcore/internal/catalog"

// OutputSchema describes the column shape of whatever a PlanNode (or the
// executor built from it) produces: column descriptors (id, name, type),
// per spec.md §6.
type OutputSchema struct {
	Columns []catalog.Column
}

// ColumnType returns column i's declared type.
func (s OutputSchema) ColumnType(i int) catalog.ColumnType {
	return s.Columns[i].Type
}

// Concat returns a new schema with b's columns appended after a's,
// renumbering ids 0..n-1 in order — the shape a join or project produces.
func Concat(a, b OutputSchema) OutputSchema {
	out := make([]catalog.Column, 0, len(a.Columns)+len(b.Columns))
	for i, c := range a.Columns {
		c.ID = catalog.ColumnID(i)
		out = append(out, c)
	}
	base := len(a.Columns)
	for i, c := range b.Columns {
		c.ID = catalog.ColumnID(base + i)
		out = append(out, c)
	}
	return OutputSchema{Columns: out}
}

// NodeKind enumerates the PlanNode kinds spec.md §6 lists as the external
// input contract.
type NodeKind uint8

const (
	NodeProject NodeKind = iota
	NodeFilter
	NodePrint
	NodeInsert
	NodeSeqScan
	NodeRangeScan
	NodeDelete
	NodeJoin
	NodeHashJoin
	NodeAggregate
	NodeOrder
	NodeLimit
	NodeDistinct
)

func (k NodeKind) String() string {
	names := [...]string{"Project", "Filter", "Print", "Insert", "SeqScan",
		"RangeScan", "Delete", "Join", "HashJoin", "Aggregate", "Order",
		"Limit", "Distinct"}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// RangeBound is one endpoint of a RangeScan: spec.md §3 calls for
// "inclusivity flags and empty-endpoint sentinels" — Present=false models
// the sentinel (unbounded on that side).
type RangeBound struct {
	Present   bool
	Key       []byte
	Inclusive bool
}

// OrderKey is one entry of an OrderBy's comparator vector: spec.md §4.4
// describes "(type, descending)" tuples over the input's columns.
type OrderKey struct {
	ColumnID   catalog.ColumnID
	Descending bool
}

// AggExprKind distinguishes the handful of aggregate functions the
// Aggregate executor's FirstEvaluate/Aggregate/LastEvaluate machinery
// supports.
type AggExprKind uint8

const (
	AggCount AggExprKind = iota
	AggSum
	AggMin
	AggMax
	AggAvg
)

// AggExpr is one aggregate expression in an Aggregate node's select list:
// either a bare group-by passthrough column (Kind ignored, Input nil) or a
// Kind applied to Input.
type AggExpr struct {
	Kind  AggExprKind
	Input *Expr // nil for COUNT(*)
}

// PlanNode is one node of the bound logical plan tree the optimizer
// rewrites and the executor generator walks. Only the fields relevant to
// Kind are populated; this mirrors a tagged union the way the spec's
// source language would express it, at the cost of some unused fields per
// node — acceptable since PlanNode trees are small and short-lived.
type PlanNode struct {
	Kind     NodeKind
	Children []*PlanNode
	Schema   OutputSchema

	// NodeSeqScan / NodeRangeScan / NodeInsert / NodeDelete
	Table string
	// NodeFilter / NodeSeqScan / NodeRangeScan (residual predicate)
	Predicate *Expr
	// NodeRangeScan
	Low, High RangeBound
	// NodeProject
	ProjectExprs []*Expr
	// NodeJoin / NodeHashJoin
	JoinPredicate  *Expr   // residual predicate, evaluated post-concatenation
	LeftKeyExprs   []*Expr // NodeHashJoin only: build-side key expressions
	RightKeyExprs  []*Expr // NodeHashJoin only: probe-side key expressions
	// NodeAggregate
	GroupBy   []*Expr
	Aggs      []AggExpr
	Having    *Expr
	// NodeOrder
	OrderKeys []OrderKey
	// NodeLimit
	Limit, Offset int64
	// NodeInsert: literal row source, used when Children is empty (a bare
	// INSERT with no SELECT subplan feeding it)
	InsertRows [][]Value
}

// Leaf reports whether n is a SeqScan or RangeScan (the only node kinds
// the DP join enumerator treats as base relations).
func (n *PlanNode) Leaf() bool {
	return n.Kind == NodeSeqScan || n.Kind == NodeRangeScan
}
