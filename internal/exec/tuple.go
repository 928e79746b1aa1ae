// Package exec implements the Volcano-style iterator executors spec.md
// §4.4 specifies (scan, filter, project, joins, aggregate, order, limit,
// distinct, insert, delete), the expression evaluator they share, and the
// append-only TupleStore joins and aggregates materialize into.
//
// What: Executor (Init/Next), Tuple (a decoded row — see DESIGN.md for why
// this engine represents tuples as typed value slices rather than raw byte
// pointers), TupleStore (stable-pointer arena), and the per-operator
// implementations.
// How: every Next() call pulls from its child(ren) the way the teacher's
// own recursive-descent evaluator pulls from nested expressions, but
// restructured into the pull-based Init/Next contract spec.md mandates
// instead of the teacher's whole-ResultSet-at-once style.
// Why: pull-based iteration is what lets RangeScan/Limit/Distinct avoid
// materializing more than they must, and is the contract the optimizer's
// plan tree is built against.
package exec

import "github.com/kvrel/dbcore/internal/plan"

// Tuple is one row: values in the order its OutputSchema declares.
type Tuple []plan.Value

// Clone returns a deep-enough copy (Value is already a plain struct, so a
// slice copy suffices) safe to outlive the source's next mutation.
func (t Tuple) Clone() Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

// Concat returns a new tuple with right's values appended after left's,
// the shape NestedLoopJoin/HashJoin emit.
func Concat(left, right Tuple) Tuple {
	out := make(Tuple, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}

// TupleStore is the append-only in-memory arena spec.md §3 describes:
// tuple bytes (here, decoded Tuples) plus a vector of pointers into it,
// stable until Clear(). Elements are individually heap-allocated (*Tuple)
// so growing the backing slice of pointers never invalidates an
// already-handed-out pointer — only Clear() does.
type TupleStore struct {
	tuples []*Tuple
}

// Append adds t to the store and returns a stable pointer to it.
func (s *TupleStore) Append(t Tuple) *Tuple {
	pt := new(Tuple)
	*pt = t
	s.tuples = append(s.tuples, pt)
	return pt
}

// All returns every tuple pointer currently held, in append order.
func (s *TupleStore) All() []*Tuple { return s.tuples }

// Len reports how many tuples are currently stored.
func (s *TupleStore) Len() int { return len(s.tuples) }

// Clear empties the store; pointers handed out before this call must not
// be dereferenced afterward.
func (s *TupleStore) Clear() { s.tuples = nil }

// Executor is the Volcano contract every operator implements: Init may be
// expensive (materialization); Next returns (nil, nil) at EOF.
type Executor interface {
	Init() error
	Next() (*Tuple, error)
	Schema() plan.OutputSchema
}
