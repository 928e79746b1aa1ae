// Package txnmgr implements the hierarchical multi-granularity lock
// manager and the transaction coordinator built on top of it: strict
// two-phase locking, wait-die deadlock prevention, and an undo-stack-driven
// rollback path (spec.md §4.7/§4.8).
//
// What: LockManager (IS/IX/S/SIX/X locks, wait-die), Txn (growing/
// shrinking/committed/aborted state machine plus undo stack), TxnManager
// (id allocation, Commit/Abort orchestration).
// How: one mutex + condition variable per lockable resource, guarded by an
// outer map latch acquired only to find-or-create the per-resource list —
// the acquire order is always outer latch then list latch, matching
// spec.md §5's stated invariant ("outer latch -> list latch, never the
// reverse"). The teacher has no lock manager of its own; this package is
// built directly from spec.md §4.7/§4.8's prose.
// Why: this is the serialization substrate every executor's modify path
// and every scan's read path routes through; executors never take locks
// directly, only via the Txn handle spec.md describes.
package txnmgr

import (
	"sync"

	"github.com/kvrel/dbcore/internal/dberrors"
)

// LockMode is one of the five hierarchical lock modes spec.md §4.7 names.
type LockMode uint8

const (
	LockIS LockMode = iota
	LockIX
	LockS
	LockSIX
	LockX
)

func (m LockMode) String() string {
	switch m {
	case LockIS:
		return "IS"
	case LockIX:
		return "IX"
	case LockS:
		return "S"
	case LockSIX:
		return "SIX"
	case LockX:
		return "X"
	default:
		return "?"
	}
}

// compatible is the standard hierarchical-locking compatibility matrix:
// IS compatible with IS/IX/S/SIX; IX compatible with IS/IX; S compatible
// with IS/S; SIX compatible only with IS; X compatible with nothing.
var compatible = [5][5]bool{
	LockIS:  {LockIS: true, LockIX: true, LockS: true, LockSIX: true, LockX: false},
	LockIX:  {LockIS: true, LockIX: true, LockS: false, LockSIX: false, LockX: false},
	LockS:   {LockIS: true, LockIX: false, LockS: true, LockSIX: false, LockX: false},
	LockSIX: {LockIS: true, LockIX: false, LockS: false, LockSIX: false, LockX: false},
	LockX:   {LockIS: false, LockIX: false, LockS: false, LockSIX: false, LockX: false},
}

// Compatible reports whether a and b may be held simultaneously by
// different transactions on the same resource.
func Compatible(a, b LockMode) bool { return compatible[a][b] }

// upgradeLattice lists the legal upgrade targets for each starting mode,
// per spec.md §4.7: IS -> {S,X,IX,SIX}; S -> {X,SIX}; IX -> {X,SIX};
// SIX -> X. Any other upgrade attempt aborts the requesting txn.
var upgradeLattice = map[LockMode]map[LockMode]bool{
	LockIS:  {LockS: true, LockX: true, LockIX: true, LockSIX: true},
	LockS:   {LockX: true, LockSIX: true},
	LockIX:  {LockX: true, LockSIX: true},
	LockSIX: {LockX: true},
}

// LegalUpgrade reports whether upgrading from to target is permitted.
func LegalUpgrade(from, target LockMode) bool { return upgradeLattice[from][target] }

// LockRequest is one entry of a LockRequestList: a transaction's current
// or desired mode on the resource, and whether it has been granted.
type LockRequest struct {
	TxnID   uint64
	Mode    LockMode
	Granted bool
}

// invalidTxnID marks "no upgrader in progress" for a LockRequestList's
// upgrading marker.
const invalidTxnID = 0

// LockRequestList is the per-resource queue spec.md §4.7 describes: an
// ordered list of (txn_id, mode, granted) plus an upgrading marker (at
// most one upgrader at a time).
type LockRequestList struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*LockRequest
	upgrading uint64 // invalidTxnID if none
}

func newLockRequestList() *LockRequestList {
	l := &LockRequestList{upgrading: invalidTxnID}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *LockRequestList) find(txnID uint64) (*LockRequest, bool) {
	for _, r := range l.requests {
		if r.TxnID == txnID {
			return r, true
		}
	}
	return nil, false
}

func (l *LockRequestList) remove(txnID uint64) {
	out := l.requests[:0]
	for _, r := range l.requests {
		if r.TxnID != txnID {
			out = append(out, r)
		}
	}
	l.requests = out
}

// firstUngranted returns the first request in queue order that has not
// yet been granted, or nil if every request is granted.
func (l *LockRequestList) firstUngranted() *LockRequest {
	for _, r := range l.requests {
		if !r.Granted {
			return r
		}
	}
	return nil
}

// conflictingGrantedHolder reports whether req (not itself counted) conflicts
// with any currently granted request from a different transaction, and if
// so returns the oldest conflicting holder's txn id (smallest id wins,
// since that is the one wait-die compares against).
func (l *LockRequestList) conflictingGrantedHolder(req *LockRequest) (uint64, bool) {
	found := false
	var oldest uint64
	for _, r := range l.requests {
		if r == req || !r.Granted || r.TxnID == req.TxnID {
			continue
		}
		if !Compatible(r.Mode, req.Mode) {
			if !found || r.TxnID < oldest {
				oldest = r.TxnID
				found = true
			}
		}
	}
	return oldest, found
}

// canGrant reports whether req may be granted right now: it must be the
// first ungranted entry in the queue, and no granted entry from a
// different transaction may conflict with its mode.
func (l *LockRequestList) canGrant(req *LockRequest) bool {
	if l.firstUngranted() != req {
		return false
	}
	_, conflict := l.conflictingGrantedHolder(req)
	return !conflict
}

// LockManager is the hierarchical multi-granularity lock table: a table
// resource is keyed by its name; a tuple resource is keyed by
// "table/hex(key)" (see resourceKey below).
type LockManager struct {
	mu        sync.Mutex
	resources map[string]*LockRequestList
}

// NewLockManager returns an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{resources: make(map[string]*LockRequestList)}
}

func (lm *LockManager) listFor(resource string) *LockRequestList {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.resources[resource]
	if !ok {
		l = newLockRequestList()
		lm.resources[resource] = l
	}
	return l
}

// acquire is the shared wait-die acquisition entry point for both fresh
// locks and upgrades. Whether txn already has a request on the resource
// distinguishes the two paths: an upgrade (upgradeLocked) reuses the
// txn's existing request object instead of appending a new one, and
// releases the list's upgrading marker on both success and failure.
func (lm *LockManager) acquire(txn *Txn, resource string, mode LockMode) error {
	txn.mu.Lock()
	if txn.State == StateAborted {
		txn.mu.Unlock()
		return dberrors.Wrap(dberrors.TxnInvalidBehavior, "txnmgr: txn %d is aborted", txn.id)
	}
	if txn.State == StateShrinking {
		txn.State = StateAborted
		txn.mu.Unlock()
		return dberrors.Wrap(dberrors.TxnInvalidBehavior, "txnmgr: txn %d acquired a lock while SHRINKING", txn.id)
	}
	txn.mu.Unlock()

	list := lm.listFor(resource)
	list.mu.Lock()
	defer list.mu.Unlock()

	existing, already := list.find(txn.id)
	if already {
		if existing.Mode == mode {
			return nil
		}
		return lm.upgradeLocked(txn, list, existing, mode, resource)
	}

	req := &LockRequest{TxnID: txn.id, Mode: mode}
	list.requests = append(list.requests, req)
	if err := lm.waitForGrantLocked(txn, list, req); err != nil {
		return err
	}
	txn.recordLock(resource, mode)
	return nil
}

// upgradeLocked handles an in-place mode change for a transaction that
// already holds some lock on resource. The caller holds list.mu.
func (lm *LockManager) upgradeLocked(txn *Txn, list *LockRequestList, existing *LockRequest, target LockMode, resource string) error {
	if !LegalUpgrade(existing.Mode, target) {
		lm.abortTxnLocked(txn)
		return dberrors.Wrap(dberrors.TxnInvalidBehavior, "txnmgr: illegal upgrade %s -> %s for txn %d", existing.Mode, target, txn.id)
	}
	if list.upgrading != invalidTxnID && list.upgrading != txn.id {
		lm.abortTxnLocked(txn)
		return dberrors.Wrap(dberrors.TxnMultiUpgrade, "txnmgr: resource already has an upgrader (txn %d), rejecting txn %d", list.upgrading, txn.id)
	}
	list.upgrading = txn.id
	prevMode := existing.Mode
	existing.Mode = target
	existing.Granted = false
	if err := lm.waitForGrantLocked(txn, list, existing); err != nil {
		// Roll the request back to its previous granted mode; the txn
		// itself is already marked ABORTED by waitForGrantLocked on the
		// die path, and the manager's Abort will release everything.
		existing.Mode = prevMode
		existing.Granted = true
		list.upgrading = invalidTxnID
		return err
	}
	list.upgrading = invalidTxnID
	txn.setLockMode(resource, target)
	return nil
}

// waitForGrantLocked blocks req's owner until it is granted or wait-die
// aborts it. The caller holds list.mu; the condition variable releases and
// reacquires it across waits.
func (lm *LockManager) waitForGrantLocked(txn *Txn, list *LockRequestList, req *LockRequest) error {
	for {
		if list.canGrant(req) {
			req.Granted = true
			list.cond.Broadcast()
			return nil
		}
		holder, conflict := list.conflictingGrantedHolder(req)
		if conflict && holder < req.TxnID {
			// The conflicting holder is older: wait-die aborts the
			// younger requester rather than letting it wait.
			list.remove(req.TxnID)
			lm.abortTxnLocked(txn)
			list.cond.Broadcast()
			return dberrors.Wrap(dberrors.TxnDLAbort, "txnmgr: txn %d aborted (wait-die) behind older holder %d", txn.id, holder)
		}
		list.cond.Wait()
		if txn.aborted() {
			list.remove(req.TxnID)
			return dberrors.Wrap(dberrors.TxnDLAbort, "txnmgr: txn %d aborted while waiting", txn.id)
		}
	}
}

func (lm *LockManager) abortTxnLocked(txn *Txn) {
	txn.mu.Lock()
	txn.State = StateAborted
	txn.mu.Unlock()
}

// release drops the request for txn on resource, transitioning txn to
// SHRINKING (strict 2PL: the first release starts the shrinking phase).
func (lm *LockManager) release(txn *Txn, resource string) {
	list := lm.listFor(resource)
	list.mu.Lock()
	list.remove(txn.id)
	list.cond.Broadcast()
	list.mu.Unlock()

	txn.mu.Lock()
	if txn.State == StateGrowing {
		txn.State = StateShrinking
	}
	txn.mu.Unlock()
}

// AcquireIS/AcquireIX/AcquireS/AcquireSIX/AcquireX acquire the named mode on resource
// for txn, following strict 2PL and wait-die as described above.
func (lm *LockManager) AcquireIS(txn *Txn, resource string) error {
	return lm.acquire(txn, resource, LockIS)
}
func (lm *LockManager) AcquireIX(txn *Txn, resource string) error {
	return lm.acquire(txn, resource, LockIX)
}
func (lm *LockManager) AcquireS(txn *Txn, resource string) error { return lm.acquire(txn, resource, LockS) }
func (lm *LockManager) AcquireSIX(txn *Txn, resource string) error {
	return lm.acquire(txn, resource, LockSIX)
}
func (lm *LockManager) AcquireX(txn *Txn, resource string) error { return lm.acquire(txn, resource, LockX) }

// Unlock releases txn's lock on resource.
func (lm *LockManager) Unlock(txn *Txn, resource string) { lm.release(txn, resource) }

// ───────────────────────────────────────────────────────────────────────────
// Table/tuple resource naming and the multi-granularity rule for tuples
// ───────────────────────────────────────────────────────────────────────────

func tupleResource(table string, key []byte) string {
	return table + "\x00" + string(key)
}

// tupleSTableModes lists which table-level modes satisfy acquiring a
// tuple-level S lock (spec.md §4.7: "any of {IS,IX,S,SIX,X}").
var tupleSTableModes = map[LockMode]bool{LockIS: true, LockIX: true, LockS: true, LockSIX: true, LockX: true}

// tupleXTableModes lists which table-level modes satisfy acquiring a
// tuple-level X lock (spec.md §4.7: "{IX,X,SIX}").
var tupleXTableModes = map[LockMode]bool{LockIX: true, LockX: true, LockSIX: true}

// LockTable acquires a table-level lock, the convenience wrapper
// original_source/src/transaction/lock_manager.cpp exposes alongside the
// granular per-mode calls (spec.md §5 of SPEC_FULL).
func (lm *LockManager) LockTable(txn *Txn, table string, mode LockMode) error {
	return lm.acquire(txn, table, mode)
}

// LockRow acquires a tuple-level lock, validating the multi-granularity
// rule first: the caller must already hold a suitable table-level
// intention/shared/exclusive lock. Only LockS and LockX are accepted at
// tuple granularity, per spec.md §4.7.
func (lm *LockManager) LockRow(txn *Txn, table string, key []byte, mode LockMode) error {
	if mode != LockS && mode != LockX {
		return dberrors.Wrap(dberrors.TxnInvalidBehavior, "txnmgr: tuple locks must be S or X, got %s", mode)
	}
	tableMode, hasTable := txn.tableLockMode(table)
	allowed := tupleSTableModes
	if mode == LockX {
		allowed = tupleXTableModes
	}
	if !hasTable || !allowed[tableMode] {
		lm.abortTxnLocked(txn)
		return dberrors.Wrap(dberrors.TxnInvalidBehavior, "txnmgr: tuple %s lock on %s requires a compatible table lock first", mode, table)
	}
	return lm.acquire(txn, tupleResource(table, key), mode)
}

// UnlockRow releases a previously acquired tuple lock.
func (lm *LockManager) UnlockRow(txn *Txn, table string, key []byte) {
	lm.release(txn, tupleResource(table, key))
}

// ReleaseAll drops every lock txn currently holds, in no particular
// order — called once at commit or abort.
func (lm *LockManager) ReleaseAll(txn *Txn) {
	for _, resource := range txn.allResources() {
		lm.release(txn, resource)
	}
	txn.clearLockSet()
}
