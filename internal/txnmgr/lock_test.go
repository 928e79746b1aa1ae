package txnmgr

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kvrel/dbcore/internal/dberrors"
)

func TestCompatibilityMatrix(t *testing.T) {
	cases := []struct {
		a, b LockMode
		want bool
	}{
		{LockIS, LockIS, true},
		{LockIS, LockX, false},
		{LockS, LockS, true},
		{LockS, LockIX, false},
		{LockIX, LockIX, true},
		{LockSIX, LockIS, true},
		{LockSIX, LockIX, false},
		{LockX, LockX, false},
	}
	for _, c := range cases {
		if got := Compatible(c.a, c.b); got != c.want {
			t.Errorf("Compatible(%s,%s) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestLegalUpgradeLattice(t *testing.T) {
	if !LegalUpgrade(LockIS, LockSIX) {
		t.Error("IS -> SIX should be legal")
	}
	if LegalUpgrade(LockS, LockIS) {
		t.Error("S -> IS should be illegal")
	}
	if !LegalUpgrade(LockSIX, LockX) {
		t.Error("SIX -> X should be legal")
	}
}

func TestSharedLocksCompatible(t *testing.T) {
	lm := NewLockManager()
	t1 := newTxn(1)
	t2 := newTxn(2)
	if err := lm.AcquireS(t1, "t"); err != nil {
		t.Fatalf("t1 S: %v", err)
	}
	if err := lm.AcquireS(t2, "t"); err != nil {
		t.Fatalf("t2 S: %v", err)
	}
}

func TestWaitDieYoungerAborts(t *testing.T) {
	lm := NewLockManager()
	told := newTxn(1)
	tyoung := newTxn(2)
	if err := lm.AcquireX(told, "k"); err != nil {
		t.Fatalf("told X: %v", err)
	}
	err := lm.AcquireS(tyoung, "k")
	if !errors.Is(err, dberrors.TxnDLAbort) {
		t.Fatalf("expected TxnDLAbort, got %v", err)
	}
	if !tyoung.aborted() {
		t.Fatal("younger txn should be ABORTED")
	}
	if told.aborted() {
		t.Fatal("older txn must never abort because of a younger one")
	}
}

func TestWaitDieOlderWaitsThenGrants(t *testing.T) {
	lm := NewLockManager()
	told := newTxn(1)
	tyoung := newTxn(2)
	if err := lm.AcquireX(tyoung, "k"); err != nil {
		t.Fatalf("tyoung X: %v", err)
	}

	done := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		done <- lm.AcquireS(told, "k")
	}()

	time.Sleep(20 * time.Millisecond) // give the older txn time to start waiting
	lm.Unlock(tyoung, "k")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("older txn should eventually acquire, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("older txn never granted after younger released")
	}
	wg.Wait()
}

func TestMultiGranularityTupleRequiresTableLock(t *testing.T) {
	lm := NewLockManager()
	txn := newTxn(1)
	err := lm.LockRow(txn, "users", []byte("k"), LockS)
	if !errors.Is(err, dberrors.TxnInvalidBehavior) {
		t.Fatalf("expected TxnInvalidBehavior without a table lock, got %v", err)
	}

	txn2 := newTxn(2)
	if err := lm.LockTable(txn2, "users", LockIS); err != nil {
		t.Fatalf("table IS: %v", err)
	}
	if err := lm.LockRow(txn2, "users", []byte("k"), LockS); err != nil {
		t.Fatalf("tuple S after table IS: %v", err)
	}
}

func TestStrict2PLRejectsAcquireAfterRelease(t *testing.T) {
	lm := NewLockManager()
	txn := newTxn(1)
	if err := lm.AcquireS(txn, "a"); err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	lm.Unlock(txn, "a")
	if txn.State != StateShrinking {
		t.Fatalf("state after release = %v, want SHRINKING", txn.State)
	}
	err := lm.AcquireS(txn, "b")
	if !errors.Is(err, dberrors.TxnInvalidBehavior) {
		t.Fatalf("expected TxnInvalidBehavior acquiring after release, got %v", err)
	}
	if txn.State != StateAborted {
		t.Fatalf("state after illegal acquire = %v, want ABORTED", txn.State)
	}
}

func TestUpgradeSingleUpgraderEnforced(t *testing.T) {
	lm := NewLockManager()
	t1 := newTxn(1)
	t2 := newTxn(2)
	if err := lm.AcquireIS(t1, "t"); err != nil {
		t.Fatalf("t1 IS: %v", err)
	}
	if err := lm.AcquireIS(t2, "t"); err != nil {
		t.Fatalf("t2 IS: %v", err)
	}

	results := make(chan error, 2)
	go func() { results <- lm.AcquireSIX(t1, "t") }()
	time.Sleep(10 * time.Millisecond)
	go func() { results <- lm.AcquireSIX(t2, "t") }()

	// One of the two upgrade attempts can fail: t2's attempt sees
	// TxnMultiUpgrade if t1's upgrade is still in flight, or a wait-die
	// abort once t1 (older) holds a granted SIX that conflicts with t2's
	// requested SIX. We only assert that at least one succeeds and the
	// manager never deadlocks.
	var gotErr, gotOK int
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err == nil {
				gotOK++
			} else {
				gotErr++
			}
		case <-time.After(2 * time.Second):
			t.Fatal("upgrade attempts never resolved")
		}
	}
	if gotOK == 0 {
		t.Fatal("expected at least one upgrade to succeed")
	}
}
