package exec

import (
	"github.com/kvrel/dbcore/internal/btree"
	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/dberrors"
	"github.com/kvrel/dbcore/internal/plan"
	"github.com/kvrel/dbcore/internal/txnmgr"
)

// Table is the lock-aware handle leaf executors (SeqScan, RangeScan,
// Insert, Delete) route through, per spec.md §2: "leaf scans obtain
// key-ordered cursors from B+-trees through the transaction's lock-aware
// handle; modify handles route writes through the lock manager and append
// undo records to the transaction's rollback stack."
type Table struct {
	schema *catalog.Table
	tree   *btree.BPlusTree
	locks  *txnmgr.LockManager
}

// NewTable wraps an already-open B+-tree with its catalog schema and the
// shared lock manager.
func NewTable(schema *catalog.Table, tree *btree.BPlusTree, locks *txnmgr.LockManager) *Table {
	return &Table{schema: schema, tree: tree, locks: locks}
}

// Name returns the table's name, the resource key every lock on it uses.
func (t *Table) Name() string { return t.schema.Name }

// OutputSchema returns the table's row shape for executors building on top
// of it.
func (t *Table) OutputSchema() plan.OutputSchema { return plan.OutputSchema{Columns: t.schema.Columns} }

// PrimaryKeyBytes extracts and encodes row's primary-key column into the
// byte key the B+-tree orders by.
func (t *Table) PrimaryKeyBytes(row Tuple) []byte {
	return ValueKey(row[t.schema.PrimaryKey])
}

// ForeignKeys returns the table's declared foreign-key constraints.
func (t *Table) ForeignKeys() []catalog.ForeignKey { return t.schema.ForeignKeys }

// PrimaryKeyColumn returns the column id the table's B+-tree is keyed by.
func (t *Table) PrimaryKeyColumn() catalog.ColumnID { return t.schema.PrimaryKey }

// Exists reports whether key is present, taking the same IS/S lock pair a
// read would (spec.md §5: "readers see committed data only when guarded
// by an S/X lock on the tuple/table they read"). Used by FK checking to
// confirm a referenced row is actually there.
func (t *Table) Exists(txn *txnmgr.Txn, key []byte) (bool, error) {
	if err := t.locks.LockTable(txn, t.schema.Name, txnmgr.LockIS); err != nil {
		return false, err
	}
	if err := t.locks.LockRow(txn, t.schema.Name, key, txnmgr.LockS); err != nil {
		return false, err
	}
	_, ok, err := t.tree.Get(key)
	return ok, err
}

// rawHandle adapts a bare B+-tree to txnmgr.ModifyHandle: no locking, no
// undo bookkeeping — used exclusively by TxnManager.Abort to replay
// recorded undo entries, which must not re-trigger either.
type rawHandle struct{ tree *btree.BPlusTree }

func (h rawHandle) Insert(key, value []byte) error { _, err := h.tree.Insert(key, value); return err }
func (h rawHandle) Delete(key []byte) error        { _, err := h.tree.Delete(key); return err }
func (h rawHandle) Update(key, value []byte) error { _, err := h.tree.Update(key, value); return err }

// ModifyHandle returns the raw undo-replay adapter; callers register it
// with a TxnManager via RegisterTable(t.Name(), t.ModifyHandle()).
func (t *Table) ModifyHandle() txnmgr.ModifyHandle { return rawHandle{t.tree} }

// InsertRow acquires the locks spec.md §4.8 calls for (table IX, tuple X),
// rejects a duplicate primary key as IntegrityError, pushes an undo
// record, and persists the row. FK checking and auto-increment PK
// assignment are the Insert executor's job (spec.md §4.4); InsertRow only
// guarantees PK uniqueness and the undo/lock contract.
func (t *Table) InsertRow(txn *txnmgr.Txn, row Tuple) error {
	if err := t.locks.LockTable(txn, t.schema.Name, txnmgr.LockIX); err != nil {
		return err
	}
	key := t.PrimaryKeyBytes(row)
	if err := t.locks.LockRow(txn, t.schema.Name, key, txnmgr.LockX); err != nil {
		return err
	}
	value := EncodeRow(t.OutputSchema(), row)
	ok, err := t.tree.Insert(key, value)
	if err != nil {
		return err
	}
	if !ok {
		return dberrors.Wrap(dberrors.IntegrityError, "exec: duplicate primary key in table %q", t.schema.Name)
	}
	txn.PushUndo(txnmgr.UndoRecord{Kind: txnmgr.UndoInsert, Table: t.schema.Name, Key: key})
	return nil
}

// DeleteRow acquires table IX + tuple X, pushes an undo record carrying
// the prior value, and removes key. Returns false if key was absent.
func (t *Table) DeleteRow(txn *txnmgr.Txn, key []byte) (bool, error) {
	if err := t.locks.LockTable(txn, t.schema.Name, txnmgr.LockIX); err != nil {
		return false, err
	}
	if err := t.locks.LockRow(txn, t.schema.Name, key, txnmgr.LockX); err != nil {
		return false, err
	}
	old, ok, err := t.tree.Get(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	txn.PushUndo(txnmgr.UndoRecord{Kind: txnmgr.UndoDelete, Table: t.schema.Name, Key: key, OldValue: old})
	if _, err := t.tree.Delete(key); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateRow acquires table IX + tuple X, pushes an undo record carrying
// the prior value, and replaces key's row. Returns false if key was
// absent. Not a Volcano executor of its own (spec.md §4.4 has no Update
// node) but needed directly for the rollback scenario spec.md §8 #6
// exercises (insert, update, delete, abort).
func (t *Table) UpdateRow(txn *txnmgr.Txn, key []byte, newRow Tuple) (bool, error) {
	if err := t.locks.LockTable(txn, t.schema.Name, txnmgr.LockIX); err != nil {
		return false, err
	}
	if err := t.locks.LockRow(txn, t.schema.Name, key, txnmgr.LockX); err != nil {
		return false, err
	}
	old, ok, err := t.tree.Get(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	txn.PushUndo(txnmgr.UndoRecord{Kind: txnmgr.UndoUpdate, Table: t.schema.Name, Key: key, OldValue: old})
	value := EncodeRow(t.OutputSchema(), newRow)
	if _, err := t.tree.Update(key, value); err != nil {
		return false, err
	}
	return true, nil
}

// rowIterator is the shared cursor SeqScan and RangeScan build on: it
// walks a btree.Iterator, taking a tuple S lock before handing back each
// row (spec.md §5: "readers see committed data only when guarded by an
// S/X lock on the tuple/table they read").
type rowIterator struct {
	table *Table
	txn   *txnmgr.Txn
	it    *btree.Iterator
	upper plan.RangeBound // Present=false means unbounded
}

func (t *Table) newIterator(txn *txnmgr.Txn, low, high plan.RangeBound) (*rowIterator, error) {
	if err := t.locks.LockTable(txn, t.schema.Name, txnmgr.LockIS); err != nil {
		return nil, err
	}
	var bit *btree.Iterator
	var err error
	switch {
	case !low.Present:
		bit, err = t.tree.Begin()
	case low.Inclusive:
		bit, err = t.tree.LowerBound(low.Key)
	default:
		bit, err = t.tree.UpperBound(low.Key)
	}
	if err != nil {
		return nil, err
	}
	return &rowIterator{table: t, txn: txn, it: bit, upper: high}, nil
}

// next returns the next row satisfying the upper bound, or nil at EOF.
func (r *rowIterator) next() (Tuple, error) {
	for r.it.Valid() {
		key := r.it.Key()
		if r.upper.Present {
			cmp := compareKeyBytes(key, r.upper.Key)
			if cmp > 0 || (cmp == 0 && !r.upper.Inclusive) {
				r.it.Close()
				return nil, nil
			}
		}
		if err := r.table.locks.LockRow(r.txn, r.table.schema.Name, key, txnmgr.LockS); err != nil {
			return nil, err
		}
		value := r.it.Value()
		row, err := DecodeRow(r.table.OutputSchema(), value)
		if err != nil {
			return nil, err
		}
		if _, err := r.it.Next(); err != nil {
			return nil, err
		}
		return row, nil
	}
	return nil, nil
}

func compareKeyBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
