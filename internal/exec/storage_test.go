package exec

import (
	"path/filepath"
	"testing"

	"github.com/kvrel/dbcore/internal/btree"
	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/pagestore"
	"github.com/kvrel/dbcore/internal/plan"
	"github.com/kvrel/dbcore/internal/txnmgr"
)

// newTestTable opens a fresh pagestore-backed B+-tree and wraps it as an
// exec.Table over a two-column (id int64, name varchar) schema, the shape
// most of this package's tests exercise joins and scans against.
func newTestTable(t *testing.T, name string, cols []catalog.Column, pk catalog.ColumnID, locks *txnmgr.LockManager) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".db")
	pm, err := pagestore.Open(path, 16)
	if err != nil {
		t.Fatalf("pagestore.Open: %v", err)
	}
	t.Cleanup(func() { pm.Close() })

	metaH, err := pm.Allocate(pagestore.PageTypePlain)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	metaPgid := metaH.ID()
	metaH.Unpin()

	tree, err := btree.Create(pm, metaPgid, btree.BytesComparator)
	if err != nil {
		t.Fatalf("btree.Create: %v", err)
	}

	schema := &catalog.Table{Name: name, Columns: cols, PrimaryKey: pk}
	return NewTable(schema, tree, locks)
}

func usersSchema() []catalog.Column {
	return []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "name", Type: catalog.TypeVarchar},
	}
}

func newTxnEnv(t *testing.T) (*txnmgr.LockManager, *txnmgr.TxnManager) {
	t.Helper()
	locks := txnmgr.NewLockManager()
	return locks, txnmgr.NewTxnManager(locks)
}

func intV(i int64) plan.Value  { return plan.Value{Type: catalog.TypeInt64, Int: i} }
func strV(s string) plan.Value { return plan.Value{Type: catalog.TypeVarchar, String: s} }

func TestTableInsertScanDelete(t *testing.T) {
	locks := txnmgr.NewLockManager()
	users := newTestTable(t, "users", usersSchema(), 0, locks)
	tm := txnmgr.NewTxnManager(locks)
	tm.RegisterTable("users", users.ModifyHandle())

	txn := tm.Begin()
	rows := []Tuple{
		{intV(2), strV("Grace")},
		{intV(1), strV("Ada")},
	}
	for _, r := range rows {
		if err := users.InsertRow(txn, r); err != nil {
			t.Fatalf("InsertRow: %v", err)
		}
	}
	if err := tm.Commit(txn); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	readTxn := tm.Begin()
	scan := NewSeqScan(users, readTxn)
	if err := scan.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var got []Tuple
	for {
		row, err := scan.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row == nil {
			break
		}
		got = append(got, *row)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	// SeqScan walks key order: primary key 1 ("Ada") must precede 2
	// ("Grace") regardless of insert order.
	if got[0][0].Int != 1 || got[1][0].Int != 2 {
		t.Fatalf("scan not in key order: %+v", got)
	}
	tm.Commit(readTxn)

	delTxn := tm.Begin()
	ok, err := users.DeleteRow(delTxn, users.PrimaryKeyBytes(Tuple{intV(1), strV("Ada")}))
	if err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	if !ok {
		t.Fatal("DeleteRow reported key absent")
	}
	if err := tm.Commit(delTxn); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	readTxn2 := tm.Begin()
	scan2 := NewSeqScan(users, readTxn2)
	if err := scan2.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	row, err := scan2.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row == nil || row.Clone()[0].Int != 2 {
		t.Fatalf("expected only id=2 to remain, got %+v", row)
	}
	tm.Commit(readTxn2)
}

func TestInsertRowRejectsDuplicatePrimaryKey(t *testing.T) {
	locks := txnmgr.NewLockManager()
	users := newTestTable(t, "users", usersSchema(), 0, locks)
	tm := txnmgr.NewTxnManager(locks)
	tm.RegisterTable("users", users.ModifyHandle())

	txn := tm.Begin()
	if err := users.InsertRow(txn, Tuple{intV(1), strV("Ada")}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := users.InsertRow(txn, Tuple{intV(1), strV("Dup")}); err == nil {
		t.Fatal("expected duplicate primary key to fail")
	}
	tm.Commit(txn)
}

func TestAbortRollsBackInsert(t *testing.T) {
	locks := txnmgr.NewLockManager()
	users := newTestTable(t, "users", usersSchema(), 0, locks)
	tm := txnmgr.NewTxnManager(locks)
	tm.RegisterTable("users", users.ModifyHandle())

	txn := tm.Begin()
	if err := users.InsertRow(txn, Tuple{intV(1), strV("Ada")}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := tm.Abort(txn); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	readTxn := tm.Begin()
	scan := NewSeqScan(users, readTxn)
	if err := scan.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	row, err := scan.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row != nil {
		t.Fatalf("expected aborted insert to leave no rows, got %+v", *row)
	}
	tm.Commit(readTxn)
}

func TestRangeScanBounds(t *testing.T) {
	locks := txnmgr.NewLockManager()
	users := newTestTable(t, "users", usersSchema(), 0, locks)
	tm := txnmgr.NewTxnManager(locks)
	tm.RegisterTable("users", users.ModifyHandle())

	txn := tm.Begin()
	for i := int64(1); i <= 5; i++ {
		if err := users.InsertRow(txn, Tuple{intV(i), strV("n")}); err != nil {
			t.Fatalf("InsertRow: %v", err)
		}
	}
	tm.Commit(txn)

	readTxn := tm.Begin()
	low := plan.RangeBound{Present: true, Inclusive: true, Key: ValueKey(intV(2))}
	high := plan.RangeBound{Present: true, Inclusive: false, Key: ValueKey(intV(4))}
	rs := NewRangeScan(users, readTxn, low, high)
	if err := rs.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var ids []int64
	for {
		row, err := rs.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row == nil {
			break
		}
		ids = append(ids, (*row)[0].Int)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("range scan [2,4) = %v, want [2 3]", ids)
	}
	tm.Commit(readTxn)
}
