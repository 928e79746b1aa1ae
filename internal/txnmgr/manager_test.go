package txnmgr

import "testing"

// fakeTable is a minimal in-memory ModifyHandle used to test Abort's undo
// replay without any real storage dependency.
type fakeTable struct {
	rows map[string][]byte
}

func newFakeTable() *fakeTable { return &fakeTable{rows: make(map[string][]byte)} }

func (f *fakeTable) Insert(key, value []byte) error {
	f.rows[string(key)] = append([]byte(nil), value...)
	return nil
}

func (f *fakeTable) Delete(key []byte) error {
	delete(f.rows, string(key))
	return nil
}

func (f *fakeTable) Update(key, value []byte) error {
	f.rows[string(key)] = append([]byte(nil), value...)
	return nil
}

func TestAbortReplaysUndoInReverse(t *testing.T) {
	lm := NewLockManager()
	tm := NewTxnManager(lm)
	table := newFakeTable()
	tm.RegisterTable("x", table)

	txn := tm.Begin()
	if err := lm.AcquireX(txn, "x"); err != nil {
		t.Fatalf("table X: %v", err)
	}
	if err := lm.LockRow(txn, "x", []byte("k"), LockX); err != nil {
		t.Fatalf("tuple X: %v", err)
	}

	// insert ("x","1")
	txn.PushUndo(UndoRecord{Kind: UndoInsert, Table: "x", Key: []byte("k")})
	table.Insert([]byte("k"), []byte("1"))
	// update ("x","2")
	txn.PushUndo(UndoRecord{Kind: UndoUpdate, Table: "x", Key: []byte("k"), OldValue: []byte("1")})
	table.Update([]byte("k"), []byte("2"))
	// delete ("x")
	txn.PushUndo(UndoRecord{Kind: UndoDelete, Table: "x", Key: []byte("k"), OldValue: []byte("2")})
	table.Delete([]byte("k"))

	if _, ok := table.rows["k"]; ok {
		t.Fatal("precondition: key should be absent before abort")
	}

	if err := tm.Abort(txn); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, ok := table.rows["k"]; ok {
		t.Fatalf("after abort, key must be absent (net effect of the whole txn undone), got %v", table.rows["k"])
	}
	if txn.State != StateAborted {
		t.Fatalf("state = %v, want ABORTED", txn.State)
	}
}

func TestCommitReleasesLocks(t *testing.T) {
	lm := NewLockManager()
	tm := NewTxnManager(lm)
	txn := tm.Begin()
	if err := lm.AcquireX(txn, "t"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := tm.Commit(txn); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if txn.State != StateCommitted {
		t.Fatalf("state = %v, want COMMITTED", txn.State)
	}

	other := tm.Begin()
	if err := lm.AcquireX(other, "t"); err != nil {
		t.Fatalf("lock should be free after commit, got %v", err)
	}
}

func TestBeginAllocatesMonotonicIDs(t *testing.T) {
	tm := NewTxnManager(NewLockManager())
	a := tm.Begin()
	b := tm.Begin()
	if !(a.ID() < b.ID()) {
		t.Fatalf("ids not monotonic: %d, %d", a.ID(), b.ID())
	}
}
