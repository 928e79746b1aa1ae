// Package plan defines the input contract the executor generator and
// optimizer consume: PlanNode trees, Expr trees, and OutputSchema, exactly
// as spec.md §6 describes them ("from parser/binder — external"). This
// engine has no lexer/parser/binder (explicitly out of scope, spec.md §1);
// callers build PlanNode/Expr trees directly, the way a bound query plan
// would arrive from one.
package plan

import "github.com/kvrel/dbcore/internal/catalog"

// ExprKind distinguishes the small algebra of expression nodes spec.md §6
// lists: literal, column reference, binary operator, and condition
// (boolean-valued binary/unary comparison or logical combinator).
type ExprKind uint8

const (
	ExprLiteral ExprKind = iota
	ExprColumn
	ExprBinary
	ExprCondition
)

// BinOp is the small set of binary operators the expression evaluator
// understands: arithmetic, comparison, and logical combinators.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

// Value is a single scalar value flowing through expression evaluation,
// tagged by ColumnType. This stands in for spec.md's "byte image
// interpretable under OutputSchema" at the granularity the executor layer
// actually needs: a typed scalar, not a raw byte pointer (see DESIGN.md for
// the grounding of this simplification).
type Value struct {
	Type   catalog.ColumnType
	Int    int64
	Float  float64
	String string
	Null   bool
}

// IsTruthy reports whether v, interpreted as a boolean-valued result
// (non-zero int or non-empty/true string "true"), should be treated as
// true by Filter/HAVING predicates. A NULL value is never truthy
// (spec.md §9's open question on HAVING's sentinel: SPEC_FULL standardizes
// on "NULL means drop/false", a well-defined tri-state collapsed to
// boolean at the predicate boundary).
func (v Value) IsTruthy() bool {
	if v.Null {
		return false
	}
	switch v.Type {
	case catalog.TypeVarchar, catalog.TypeChar:
		return v.String != ""
	default:
		return v.Int != 0 || v.Float != 0
	}
}

// Expr is one node of an expression tree.
type Expr struct {
	Kind ExprKind
	// ExprLiteral
	Literal Value
	// ExprColumn: which input column (by position in the child's
	// OutputSchema) this references.
	ColumnID catalog.ColumnID
	ColType  catalog.ColumnType
	// ExprBinary / ExprCondition
	Op          BinOp
	Left, Right *Expr
	RetType     catalog.ColumnType
}

// Lit builds a literal expression.
func Lit(v Value) *Expr { return &Expr{Kind: ExprLiteral, Literal: v, RetType: v.Type} }

// Col builds a column-reference expression.
func Col(id catalog.ColumnID, t catalog.ColumnType) *Expr {
	return &Expr{Kind: ExprColumn, ColumnID: id, ColType: t, RetType: t}
}

// Bin builds a binary/condition expression. Comparison and logical
// operators are tagged ExprCondition (boolean-valued); arithmetic is
// tagged ExprBinary. Both share evaluation machinery; the Kind only
// documents intent for rule rewrites that care (e.g. PushDownFilter only
// demotes ExprCondition subtrees).
func Bin(op BinOp, left, right *Expr) *Expr {
	kind := ExprBinary
	retType := left.RetType
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpAnd, OpOr:
		kind = ExprCondition
		retType = catalog.TypeInt32 // boolean, represented as 0/1 int32
	}
	return &Expr{Kind: kind, Op: op, Left: left, Right: right, RetType: retType}
}

// IsComparison reports whether op is one of the ordering/equality
// comparisons ConvertToRangeScan and ConvertToHashJoin look for.
func (op BinOp) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	default:
		return false
	}
}

// Flip returns the operator with operands reversed (a < b  <=>  b > a),
// used when a rule recognizes `literal op col` and needs `col op' literal`.
func (op BinOp) Flip() BinOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	default:
		return op // Eq, Ne, And, Or are symmetric
	}
}

// ColumnRefs appends every column id referenced anywhere in the subtree to
// out and returns the result, used by PushDownJoinPredicate to decide
// which side(s) of a join a predicate touches.
func (e *Expr) ColumnRefs(out []catalog.ColumnID) []catalog.ColumnID {
	if e == nil {
		return out
	}
	if e.Kind == ExprColumn {
		out = append(out, e.ColumnID)
	}
	out = e.Left.ColumnRefs(out)
	out = e.Right.ColumnRefs(out)
	return out
}
