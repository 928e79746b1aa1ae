package optimizer

import (
	"math"

	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/plan"
)

// ApplyRules rewrites root to a fixed point under the four rules spec.md
// §4.6 names: PushDownFilter, PushDownJoinPredicate, ConvertToRangeScan,
// ConvertToHashJoin. Each pass walks the whole tree bottom-up; the loop
// stops once a full pass makes no further change.
func ApplyRules(root *plan.PlanNode) *plan.PlanNode {
	for {
		next, changed := rewritePass(root)
		root = next
		if !changed {
			return root
		}
	}
}

func rewritePass(n *plan.PlanNode) (*plan.PlanNode, bool) {
	if n == nil {
		return nil, false
	}
	changed := false
	for i, c := range n.Children {
		nc, ch := rewritePass(c)
		n.Children[i] = nc
		changed = changed || ch
	}
	if nn, ch := pushDownFilter(n); ch {
		return nn, true
	}
	if nn, ch := pushDownJoinPredicate(n); ch {
		return nn, true
	}
	if nn, ch := convertToRangeScan(n); ch {
		return nn, true
	}
	if nn, ch := convertToHashJoin(n); ch {
		return nn, true
	}
	return n, changed
}

// conjuncts splits an AND-tree into its leaf conjuncts (a bare
// non-AND expr is its own single-element list).
func conjuncts(e *plan.Expr) []*plan.Expr {
	if e == nil {
		return nil
	}
	if e.Kind == plan.ExprCondition && e.Op == plan.OpAnd {
		return append(conjuncts(e.Left), conjuncts(e.Right)...)
	}
	return []*plan.Expr{e}
}

// rebuildAnd folds a conjunct list back into a single (possibly nil)
// expression tree.
func rebuildAnd(parts []*plan.Expr) *plan.Expr {
	if len(parts) == 0 {
		return nil
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out = plan.Bin(plan.OpAnd, out, p)
	}
	return out
}

// pushDownFilter moves a Filter's predicate conjuncts that reference only
// one side of an underlying Join down into that side, leaving only the
// conjuncts that touch both sides (or neither split applies) at the
// Filter itself. A Filter directly over a scan is left alone — there's
// nothing beneath it to push into except convertToRangeScan's job.
func pushDownFilter(n *plan.PlanNode) (*plan.PlanNode, bool) {
	if n.Kind != plan.NodeFilter || len(n.Children) != 1 {
		return n, false
	}
	child := n.Children[0]
	if child.Kind != plan.NodeJoin && child.Kind != plan.NodeHashJoin {
		return n, false
	}
	leftWidth := len(child.Children[0].Schema.Columns)
	parts := conjuncts(n.Predicate)
	var remaining, toLeft, toRight []*plan.Expr
	for _, p := range parts {
		refs := p.ColumnRefs(nil)
		allLeft, allRight := true, true
		for _, r := range refs {
			if int(r) >= leftWidth {
				allLeft = false
			} else {
				allRight = false
			}
		}
		switch {
		case allLeft:
			toLeft = append(toLeft, p)
		case allRight:
			toRight = append(toRight, shiftColumns(p, -leftWidth))
		default:
			remaining = append(remaining, p)
		}
	}
	if len(toLeft) == 0 && len(toRight) == 0 {
		return n, false
	}
	left, right := child.Children[0], child.Children[1]
	if len(toLeft) > 0 {
		left = &plan.PlanNode{Kind: plan.NodeFilter, Children: []*plan.PlanNode{left}, Schema: left.Schema, Predicate: rebuildAnd(toLeft)}
	}
	if len(toRight) > 0 {
		right = &plan.PlanNode{Kind: plan.NodeFilter, Children: []*plan.PlanNode{right}, Schema: right.Schema, Predicate: rebuildAnd(toRight)}
	}
	newChild := &plan.PlanNode{
		Kind: child.Kind, Children: []*plan.PlanNode{left, right}, Schema: plan.Concat(left.Schema, right.Schema),
		JoinPredicate: child.JoinPredicate, LeftKeyExprs: child.LeftKeyExprs, RightKeyExprs: child.RightKeyExprs,
	}
	if len(remaining) == 0 {
		return newChild, true
	}
	return &plan.PlanNode{Kind: plan.NodeFilter, Children: []*plan.PlanNode{newChild}, Schema: newChild.Schema, Predicate: rebuildAnd(remaining)}, true
}

// shiftColumns returns a copy of e with every ExprColumn id reduced by
// delta (delta is negative here: rebasing a right-side reference from the
// join's combined numbering back to the right child's own numbering).
func shiftColumns(e *plan.Expr, delta int) *plan.Expr {
	if e == nil {
		return nil
	}
	out := *e
	if e.Kind == plan.ExprColumn {
		out.ColumnID = catalog.ColumnID(int(e.ColumnID) + delta)
	}
	out.Left = shiftColumns(e.Left, delta)
	out.Right = shiftColumns(e.Right, delta)
	return &out
}

// pushDownJoinPredicate splits a Join's residual predicate the same way
// pushDownFilter does, moving single-side conjuncts into per-side Filter
// children so the join itself only ever evaluates conjuncts that truly
// need both sides' values.
func pushDownJoinPredicate(n *plan.PlanNode) (*plan.PlanNode, bool) {
	if n.Kind != plan.NodeJoin || n.JoinPredicate == nil || len(n.Children) != 2 {
		return n, false
	}
	leftWidth := len(n.Children[0].Schema.Columns)
	parts := conjuncts(n.JoinPredicate)
	var remaining, toLeft, toRight []*plan.Expr
	for _, p := range parts {
		refs := p.ColumnRefs(nil)
		allLeft, allRight := true, true
		for _, r := range refs {
			if int(r) >= leftWidth {
				allLeft = false
			} else {
				allRight = false
			}
		}
		switch {
		case allLeft:
			toLeft = append(toLeft, p)
		case allRight:
			toRight = append(toRight, shiftColumns(p, -leftWidth))
		default:
			remaining = append(remaining, p)
		}
	}
	if len(toLeft) == 0 && len(toRight) == 0 {
		return n, false
	}
	left, right := n.Children[0], n.Children[1]
	if len(toLeft) > 0 {
		left = &plan.PlanNode{Kind: plan.NodeFilter, Children: []*plan.PlanNode{left}, Schema: left.Schema, Predicate: rebuildAnd(toLeft)}
	}
	if len(toRight) > 0 {
		right = &plan.PlanNode{Kind: plan.NodeFilter, Children: []*plan.PlanNode{right}, Schema: right.Schema, Predicate: rebuildAnd(toRight)}
	}
	return &plan.PlanNode{
		Kind: plan.NodeJoin, Children: []*plan.PlanNode{left, right}, Schema: plan.Concat(left.Schema, right.Schema),
		JoinPredicate: rebuildAnd(remaining),
	}, true
}

// convertToRangeScan recognizes Filter(SeqScan) where some conjuncts are
// inequality/equality comparisons of the scan's primary-key column
// against a literal, and rewrites the pair into a RangeScan carrying
// those bounds plus a residual Filter for whatever's left.
func convertToRangeScan(n *plan.PlanNode) (*plan.PlanNode, bool) {
	if n.Kind != plan.NodeFilter || len(n.Children) != 1 || n.Children[0].Kind != plan.NodeSeqScan {
		return n, false
	}
	scan := n.Children[0]
	parts := conjuncts(n.Predicate)
	var low, high plan.RangeBound
	var remaining []*plan.Expr
	pk := catalog.ColumnID(0) // the scan's primary key is always schema column 0 by convention
	for _, p := range parts {
		if p.Kind != plan.ExprCondition || !p.Op.IsComparison() {
			remaining = append(remaining, p)
			continue
		}
		lit, op, ok := asColumnLiteral(p, pk)
		if !ok {
			remaining = append(remaining, p)
			continue
		}
		switch op {
		case plan.OpGe:
			low = plan.RangeBound{Present: true, Key: ValueKeyBytes(lit), Inclusive: true}
		case plan.OpGt:
			low = plan.RangeBound{Present: true, Key: ValueKeyBytes(lit), Inclusive: false}
		case plan.OpLe:
			high = plan.RangeBound{Present: true, Key: ValueKeyBytes(lit), Inclusive: true}
		case plan.OpLt:
			high = plan.RangeBound{Present: true, Key: ValueKeyBytes(lit), Inclusive: false}
		case plan.OpEq:
			low = plan.RangeBound{Present: true, Key: ValueKeyBytes(lit), Inclusive: true}
			high = plan.RangeBound{Present: true, Key: ValueKeyBytes(lit), Inclusive: true}
		default:
			remaining = append(remaining, p)
		}
	}
	if !low.Present && !high.Present {
		return n, false
	}
	rs := &plan.PlanNode{Kind: plan.NodeRangeScan, Table: scan.Table, Schema: scan.Schema, Low: low, High: high}
	if len(remaining) == 0 {
		return rs, true
	}
	return &plan.PlanNode{Kind: plan.NodeFilter, Children: []*plan.PlanNode{rs}, Schema: rs.Schema, Predicate: rebuildAnd(remaining)}, true
}

// asColumnLiteral recognizes `col op literal` or `literal op col` shapes
// where col is exactly targetCol, normalizing to `col op literal` form
// (flipping op when the literal appeared on the left).
func asColumnLiteral(e *plan.Expr, targetCol catalog.ColumnID) (plan.Value, plan.BinOp, bool) {
	if e.Left.Kind == plan.ExprColumn && e.Left.ColumnID == targetCol && e.Right.Kind == plan.ExprLiteral {
		return e.Right.Literal, e.Op, true
	}
	if e.Right.Kind == plan.ExprColumn && e.Right.ColumnID == targetCol && e.Left.Kind == plan.ExprLiteral {
		return e.Left.Literal, e.Op.Flip(), true
	}
	return plan.Value{}, 0, false
}

// convertToHashJoin recognizes a Join node whose residual JoinPredicate
// is (or contains, after AND-splitting) a left.col = right.col equality
// and rewrites it into a HashJoin keyed on those columns, leaving any
// other conjuncts as the HashJoin's residual predicate.
func convertToHashJoin(n *plan.PlanNode) (*plan.PlanNode, bool) {
	if n.Kind != plan.NodeJoin || n.JoinPredicate == nil || len(n.Children) != 2 {
		return n, false
	}
	leftWidth := len(n.Children[0].Schema.Columns)
	parts := conjuncts(n.JoinPredicate)
	var leftKeys, rightKeys, remaining []*plan.Expr
	for _, p := range parts {
		if p.Kind == plan.ExprCondition && p.Op == plan.OpEq &&
			p.Left.Kind == plan.ExprColumn && p.Right.Kind == plan.ExprColumn {
			lid, rid := p.Left.ColumnID, p.Right.ColumnID
			if int(lid) < leftWidth && int(rid) >= leftWidth {
				leftKeys = append(leftKeys, plan.Col(lid, p.Left.ColType))
				rightKeys = append(rightKeys, plan.Col(catalog.ColumnID(int(rid)-leftWidth), p.Right.ColType))
				continue
			}
			if int(rid) < leftWidth && int(lid) >= leftWidth {
				leftKeys = append(leftKeys, plan.Col(rid, p.Right.ColType))
				rightKeys = append(rightKeys, plan.Col(catalog.ColumnID(int(lid)-leftWidth), p.Left.ColType))
				continue
			}
		}
		remaining = append(remaining, p)
	}
	if len(leftKeys) == 0 {
		return n, false
	}
	return &plan.PlanNode{
		Kind: plan.NodeHashJoin, Children: n.Children, Schema: n.Schema,
		LeftKeyExprs: leftKeys, RightKeyExprs: rightKeys, JoinPredicate: rebuildAnd(remaining),
	}, true
}

// ValueKeyBytes renders a literal plan.Value as the byte key RangeScan's
// B+-tree bounds compare against — the same encoding exec.ValueKey uses,
// duplicated here (rather than imported) to keep optimizer free of a
// dependency on exec, which itself will depend on optimizer's output.
func ValueKeyBytes(v plan.Value) []byte {
	switch v.Type {
	case catalog.TypeVarchar, catalog.TypeChar:
		return []byte(v.String)
	case catalog.TypeFloat64:
		bits := math.Float64bits(v.Float)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return beBytes(bits)
	default:
		u := uint64(v.Int) ^ (1 << 63)
		return beBytes(u)
	}
}

func beBytes(u uint64) []byte {
	return []byte{
		byte(u >> 56), byte(u >> 48), byte(u >> 40), byte(u >> 32),
		byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u),
	}
}
