package exec

import (
	"math"

	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/dberrors"
	"github.com/kvrel/dbcore/internal/plan"
)

// Evaluate walks expr against row, resolving ExprColumn references by
// position into row. This is the "per-operator function objects
// evaluating predicates/aggregates against tuple memory" spec.md §2 lists
// as its own component (5% share) — kept as a free function rather than a
// closure-compiled function object since Go's plain recursion over *Expr
// is already the idiomatic shape the teacher's own evalExpr (exec.go)
// uses for its AST.
func Evaluate(expr *plan.Expr, row Tuple) (plan.Value, error) {
	if expr == nil {
		return plan.Value{Null: true}, nil
	}
	switch expr.Kind {
	case plan.ExprLiteral:
		return expr.Literal, nil
	case plan.ExprColumn:
		if int(expr.ColumnID) >= len(row) {
			return plan.Value{}, dberrors.Wrap(dberrors.PlanError, "exec: column id %d out of range for row of %d values", expr.ColumnID, len(row))
		}
		return row[expr.ColumnID], nil
	case plan.ExprBinary, plan.ExprCondition:
		return evalBinary(expr, row)
	default:
		return plan.Value{}, dberrors.Wrap(dberrors.PlanError, "exec: unsupported expr kind %d", expr.Kind)
	}
}

func evalBinary(expr *plan.Expr, row Tuple) (plan.Value, error) {
	// Short-circuit AND/OR without evaluating the right side when the
	// left already decides the result, matching the usual boolean
	// evaluation contract.
	if expr.Op == plan.OpAnd || expr.Op == plan.OpOr {
		l, err := Evaluate(expr.Left, row)
		if err != nil {
			return plan.Value{}, err
		}
		if expr.Op == plan.OpAnd && !l.IsTruthy() {
			return boolValue(false), nil
		}
		if expr.Op == plan.OpOr && l.IsTruthy() {
			return boolValue(true), nil
		}
		r, err := Evaluate(expr.Right, row)
		if err != nil {
			return plan.Value{}, err
		}
		return boolValue(r.IsTruthy()), nil
	}

	l, err := Evaluate(expr.Left, row)
	if err != nil {
		return plan.Value{}, err
	}
	r, err := Evaluate(expr.Right, row)
	if err != nil {
		return plan.Value{}, err
	}
	if l.Null || r.Null {
		return plan.Value{Null: true, Type: expr.RetType}, nil
	}

	if expr.Op.IsComparison() {
		cmp := compareValues(l, r)
		var b bool
		switch expr.Op {
		case plan.OpEq:
			b = cmp == 0
		case plan.OpNe:
			b = cmp != 0
		case plan.OpLt:
			b = cmp < 0
		case plan.OpLe:
			b = cmp <= 0
		case plan.OpGt:
			b = cmp > 0
		case plan.OpGe:
			b = cmp >= 0
		}
		return boolValue(b), nil
	}

	return arith(expr.Op, l, r)
}

func boolValue(b bool) plan.Value {
	v := plan.Value{Type: catalog.TypeInt32}
	if b {
		v.Int = 1
	}
	return v
}

// isFloat reports whether either operand forces float arithmetic/compare.
func isFloat(a, b plan.Value) bool {
	return a.Type == catalog.TypeFloat64 || b.Type == catalog.TypeFloat64
}

func asFloat(v plan.Value) float64 {
	if v.Type == catalog.TypeFloat64 {
		return v.Float
	}
	if v.Type == catalog.TypeVarchar || v.Type == catalog.TypeChar {
		return 0
	}
	return float64(v.Int)
}

// compareValues orders l and r: strings compare lexicographically, numeric
// types compare as float64 (spec.md §9 notes cross-width numeric equality
// is undefined absent binder-inserted casts; this engine at least makes
// same-kind numeric comparison well-defined by promoting to float64).
func compareValues(l, r plan.Value) int {
	if l.Type == catalog.TypeVarchar || l.Type == catalog.TypeChar {
		switch {
		case l.String < r.String:
			return -1
		case l.String > r.String:
			return 1
		default:
			return 0
		}
	}
	lf, rf := asFloat(l), asFloat(r)
	switch {
	case lf < rf:
		return -1
	case lf > rf:
		return 1
	default:
		return 0
	}
}

func arith(op plan.BinOp, l, r plan.Value) (plan.Value, error) {
	if l.Type == catalog.TypeVarchar || l.Type == catalog.TypeChar {
		if op == plan.OpAdd {
			return plan.Value{Type: catalog.TypeVarchar, String: l.String + r.String}, nil
		}
		return plan.Value{}, dberrors.Wrap(dberrors.PlanError, "exec: unsupported string arithmetic op %d", op)
	}
	if isFloat(l, r) {
		lf, rf := asFloat(l), asFloat(r)
		var out float64
		switch op {
		case plan.OpAdd:
			out = lf + rf
		case plan.OpSub:
			out = lf - rf
		case plan.OpMul:
			out = lf * rf
		case plan.OpDiv:
			if rf == 0 {
				return plan.Value{}, dberrors.Wrap(dberrors.PlanError, "exec: division by zero")
			}
			out = lf / rf
		}
		return plan.Value{Type: catalog.TypeFloat64, Float: out}, nil
	}
	var out int64
	switch op {
	case plan.OpAdd:
		out = l.Int + r.Int
	case plan.OpSub:
		out = l.Int - r.Int
	case plan.OpMul:
		out = l.Int * r.Int
	case plan.OpDiv:
		if r.Int == 0 {
			return plan.Value{}, dberrors.Wrap(dberrors.PlanError, "exec: division by zero")
		}
		out = l.Int / r.Int
	}
	return plan.Value{Type: l.Type, Int: out}, nil
}

// ValueKey renders v as a comparator-ready byte key: the same encoding the
// B+-tree's primary-key ordering and the HashJoin/Aggregate bucket hash
// both rely on (spec.md §9: "hashes a string byte range or eight raw bytes
// of the int representation").
func ValueKey(v plan.Value) []byte {
	switch v.Type {
	case catalog.TypeVarchar, catalog.TypeChar:
		return []byte(v.String)
	case catalog.TypeFloat64:
		return float64Key(v.Float)
	default:
		return int64Key(v.Int)
	}
}

// int64Key encodes an int64 as 8 big-endian bytes with the sign bit
// flipped, so unsigned byte-lexicographic comparison (the B+-tree's
// default comparator) matches signed integer ordering.
func int64Key(v int64) []byte {
	u := uint64(v) ^ (1 << 63)
	return []byte{
		byte(u >> 56), byte(u >> 48), byte(u >> 40), byte(u >> 32),
		byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u),
	}
}

// float64Key encodes a float64 so unsigned byte-lexicographic comparison
// matches float ordering: flip the sign bit for non-negatives, invert
// every bit for negatives.
func float64Key(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return []byte{
		byte(bits >> 56), byte(bits >> 48), byte(bits >> 40), byte(bits >> 32),
		byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits),
	}
}
