package txnmgr

import (
	"log"
	"sync"

	"github.com/kvrel/dbcore/internal/dberrors"
)

// ModifyHandle is the storage-side callback Abort uses to invert undo
// records: INSERT's inverse is Delete, DELETE's inverse is Insert(old),
// UPDATE's inverse is Update(old) (spec.md §4.8). Implemented by the
// executor package's table accessor; TxnManager holds no storage
// knowledge beyond this narrow interface, keeping the "owned TxnManager
// instance with explicit lifetime, no hidden statics" posture spec.md §9
// calls for.
type ModifyHandle interface {
	Insert(key, value []byte) error
	Delete(key []byte) error
	Update(key, value []byte) error
}

// TxnManager allocates transaction ids, tracks live transactions, and
// orchestrates Commit/Abort. It is an ordinary owned value — no
// process-wide singleton — per spec.md §9's explicit instruction to avoid
// hidden statics.
type TxnManager struct {
	lockMgr *LockManager

	mu      sync.Mutex
	nextID  uint64
	txns    map[uint64]*Txn
	handles map[string]ModifyHandle
}

// NewTxnManager builds a transaction manager driving the given lock
// manager.
func NewTxnManager(lm *LockManager) *TxnManager {
	return &TxnManager{
		lockMgr: lm,
		nextID:  1,
		txns:    make(map[uint64]*Txn),
		handles: make(map[string]ModifyHandle),
	}
}

// Locks returns the lock manager this TxnManager drives transactions
// against, for callers that need to acquire locks directly (executors).
func (m *TxnManager) Locks() *LockManager { return m.lockMgr }

// RegisterTable associates a table name with the ModifyHandle Abort
// should replay undo records through.
func (m *TxnManager) RegisterTable(table string, h ModifyHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[table] = h
}

// Begin allocates a fresh transaction id and a Txn in the GROWING state.
func (m *TxnManager) Begin() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	txn := newTxn(id)
	m.txns[id] = txn
	return txn
}

// Commit marks txn COMMITTED and releases every lock it holds. Strict 2PL:
// this is the only point at which locks are released en masse; no lock is
// released mid-transaction except via the SHRINKING-phase rule that locks
// simply may not be newly acquired after a release (spec.md §4.8).
func (m *TxnManager) Commit(txn *Txn) error {
	txn.mu.Lock()
	if txn.State == StateAborted {
		txn.mu.Unlock()
		return dberrors.Wrap(dberrors.TxnInvalidBehavior, "txnmgr: cannot commit aborted txn %d", txn.id)
	}
	txn.State = StateCommitted
	txn.mu.Unlock()

	m.lockMgr.ReleaseAll(txn)
	m.forget(txn.id)
	return nil
}

// Abort pops txn's undo stack, applying each record's inverse via the
// registered ModifyHandle for its table, then marks txn ABORTED and
// releases every lock it holds.
func (m *TxnManager) Abort(txn *Txn) error {
	for {
		rec, ok := txn.popUndo()
		if !ok {
			break
		}
		if err := m.applyInverse(rec); err != nil {
			log.Printf("txnmgr: abort of txn %d: replay undo for table %q failed: %v", txn.id, rec.Table, err)
			return err
		}
	}

	txn.mu.Lock()
	txn.State = StateAborted
	txn.mu.Unlock()

	m.lockMgr.ReleaseAll(txn)
	m.forget(txn.id)
	return nil
}

func (m *TxnManager) applyInverse(rec UndoRecord) error {
	m.mu.Lock()
	h, ok := m.handles[rec.Table]
	m.mu.Unlock()
	if !ok {
		return dberrors.Wrap(dberrors.CatalogError, "txnmgr: no modify handle registered for table %q", rec.Table)
	}
	switch rec.Kind {
	case UndoInsert:
		// The mutation being undone was an insert: its inverse is delete.
		return h.Delete(rec.Key)
	case UndoDelete:
		// The mutation being undone was a delete: its inverse re-inserts
		// the prior value.
		return h.Insert(rec.Key, rec.OldValue)
	case UndoUpdate:
		// The mutation being undone was an update: its inverse restores
		// the prior value.
		return h.Update(rec.Key, rec.OldValue)
	default:
		return dberrors.Wrap(dberrors.PlanError, "txnmgr: unknown undo kind %d", rec.Kind)
	}
}

func (m *TxnManager) forget(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txns, id)
}

// Lookup returns the live Txn for id, if still tracked (a committed or
// aborted txn is forgotten once Commit/Abort returns).
func (m *TxnManager) Lookup(id uint64) (*Txn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	return t, ok
}
