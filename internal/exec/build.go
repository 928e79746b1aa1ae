package exec

import (
	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/dberrors"
	"github.com/kvrel/dbcore/internal/plan"
	"github.com/kvrel/dbcore/internal/txnmgr"
)

// TableRegistry resolves table names to their open handles — the lookup
// Build needs for every plan leaf that names a table (SeqScan, RangeScan,
// Insert, Delete), and the directory Insert/Delete's foreign-key checkers
// consult to find a referenced or referencing table by name.
type TableRegistry map[string]*Table

func (r TableRegistry) lookup(name string) (*Table, error) {
	t, ok := r[name]
	if !ok {
		return nil, dberrors.Wrap(dberrors.CatalogError, "exec: unknown table %q", name)
	}
	return t, nil
}

// Build walks an optimized plan tree and instantiates the matching
// Volcano executor, the generic counterpart of the per-node dispatch
// original_source/src/execution/executor.cpp's ExecutorGenerator::Generate
// performs against its own PlanNode hierarchy — including wiring Insert
// and Delete's foreign-key checkers from reg, which that function does via
// FKChecker/PKChecker built against the live catalog.
func Build(n *plan.PlanNode, txn *txnmgr.Txn, reg TableRegistry) (Executor, error) {
	switch n.Kind {
	case plan.NodeSeqScan:
		t, err := reg.lookup(n.Table)
		if err != nil {
			return nil, err
		}
		return NewSeqScan(t, txn), nil

	case plan.NodeRangeScan:
		t, err := reg.lookup(n.Table)
		if err != nil {
			return nil, err
		}
		return NewRangeScan(t, txn, n.Low, n.High), nil

	case plan.NodeFilter:
		child, err := Build(n.Children[0], txn, reg)
		if err != nil {
			return nil, err
		}
		return NewFilter(child, n.Predicate), nil

	case plan.NodeProject:
		child, err := Build(n.Children[0], txn, reg)
		if err != nil {
			return nil, err
		}
		return NewProject(child, n.ProjectExprs, n.Schema), nil

	case plan.NodeJoin:
		left, right, err := buildChildren(n, txn, reg)
		if err != nil {
			return nil, err
		}
		return NewNestedLoopJoin(left, right, n.JoinPredicate), nil

	case plan.NodeHashJoin:
		left, right, err := buildChildren(n, txn, reg)
		if err != nil {
			return nil, err
		}
		return NewHashJoin(left, right, n.LeftKeyExprs, n.RightKeyExprs, n.JoinPredicate), nil

	case plan.NodeAggregate:
		child, err := Build(n.Children[0], txn, reg)
		if err != nil {
			return nil, err
		}
		return NewAggregate(child, n.GroupBy, n.Aggs, n.Having, n.Schema), nil

	case plan.NodeOrder:
		child, err := Build(n.Children[0], txn, reg)
		if err != nil {
			return nil, err
		}
		return NewOrder(child, n.OrderKeys), nil

	case plan.NodeLimit:
		child, err := Build(n.Children[0], txn, reg)
		if err != nil {
			return nil, err
		}
		return NewLimit(child, n.Limit, n.Offset), nil

	case plan.NodeDistinct:
		child, err := Build(n.Children[0], txn, reg)
		if err != nil {
			return nil, err
		}
		return NewDistinct(child), nil

	case plan.NodeInsert:
		t, err := reg.lookup(n.Table)
		if err != nil {
			return nil, err
		}
		var child Executor
		if len(n.Children) > 0 {
			child, err = Build(n.Children[0], txn, reg)
			if err != nil {
				return nil, err
			}
		} else {
			rows := make([]Tuple, len(n.InsertRows))
			for i, r := range n.InsertRows {
				rows[i] = Tuple(r)
			}
			child = NewValues(rows, t.OutputSchema())
		}
		return NewInsert(child, t, txn, foreignKeyChecker(t, reg, txn)), nil

	case plan.NodeDelete:
		t, err := reg.lookup(n.Table)
		if err != nil {
			return nil, err
		}
		child, err := Build(n.Children[0], txn, reg)
		if err != nil {
			return nil, err
		}
		return NewDelete(child, t, txn, restrictChecker(t, reg, txn)), nil

	default:
		return nil, dberrors.Wrap(dberrors.PlanError, "exec: unsupported plan node kind %v", n.Kind)
	}
}

func buildChildren(n *plan.PlanNode, txn *txnmgr.Txn, reg TableRegistry) (Executor, Executor, error) {
	left, err := Build(n.Children[0], txn, reg)
	if err != nil {
		return nil, nil, err
	}
	right, err := Build(n.Children[1], txn, reg)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// foreignKeyChecker builds the Insert FK-check closure spec.md §4.4 calls
// for: for each of t's declared foreign keys, the referenced table must
// already hold a row whose primary key equals the child row's value for
// that column. nil when t declares none, so Insert skips the check
// entirely rather than calling a no-op closure on every row.
func foreignKeyChecker(t *Table, reg TableRegistry, txn *txnmgr.Txn) func(Tuple) error {
	fks := t.ForeignKeys()
	if len(fks) == 0 {
		return nil
	}
	return func(row Tuple) error {
		for _, fk := range fks {
			ref, err := reg.lookup(fk.RefTable)
			if err != nil {
				return err
			}
			if fk.RefColumn != ref.PrimaryKeyColumn() {
				return dberrors.Wrap(dberrors.PlanError,
					"exec: foreign key %s.%d references %s.%d, not its primary key (no secondary index)",
					t.Name(), fk.Column, fk.RefTable, fk.RefColumn)
			}
			ok, err := ref.Exists(txn, ValueKey(row[fk.Column]))
			if err != nil {
				return err
			}
			if !ok {
				return dberrors.Wrap(dberrors.IntegrityError,
					"exec: foreign key violation: %s.%d references missing %s row", t.Name(), fk.Column, fk.RefTable)
			}
		}
		return nil
	}
}

// restrictChecker builds the Delete restrict-on-delete closure: a row may
// not be removed from t while some other registered table still holds a
// row whose foreign key points at it — the PKChecker half of
// original_source/src/execution/executor.cpp's DeletePlanNode wiring. nil
// when no registered table references t.
func restrictChecker(t *Table, reg TableRegistry, txn *txnmgr.Txn) func(Tuple) error {
	type ref struct {
		table *Table
		fk    catalog.ForeignKey
	}
	var referencing []ref
	for _, other := range reg {
		for _, fk := range other.ForeignKeys() {
			if fk.RefTable == t.Name() {
				referencing = append(referencing, ref{table: other, fk: fk})
			}
		}
	}
	if len(referencing) == 0 {
		return nil
	}
	return func(row Tuple) error {
		key := t.PrimaryKeyBytes(row)
		for _, r := range referencing {
			found, err := scanForValue(r.table, txn, r.fk.Column, key)
			if err != nil {
				return err
			}
			if found {
				return dberrors.Wrap(dberrors.IntegrityError,
					"exec: foreign key violation: %s row is still referenced by %s.%d", t.Name(), r.table.Name(), r.fk.Column)
			}
		}
		return nil
	}
}

// scanForValue walks t looking for a row whose col column encodes to key,
// the naive full-scan restrict check a teaching engine can afford in place
// of a reverse FK index.
func scanForValue(t *Table, txn *txnmgr.Txn, col catalog.ColumnID, key []byte) (bool, error) {
	scan := NewSeqScan(t, txn)
	if err := scan.Init(); err != nil {
		return false, err
	}
	for {
		row, err := scan.Next()
		if err != nil {
			return false, err
		}
		if row == nil {
			return false, nil
		}
		if string(ValueKey((*row)[col])) == string(key) {
			return true, nil
		}
	}
}
