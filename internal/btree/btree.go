// Package btree implements the clustered B+-tree the rest of the engine
// indexes tables by: a key-ordered map over byte-string keys, built on
// pagestore's SortedPage, split-only on write (no merge-on-delete), with a
// leaf-level doubly linked list for range iteration.
//
// What: BPlusTree wraps a root pgid and a Compare function; Insert/Update/
// Get/Take/Delete/iteration all descend through pagestore.PageManager
// handles, pinning one level at a time.
// How: inner pages store (child_pgid, strict_upper_bound_key) slots with
// the rightmost child in the special trailer; leaf pages store
// (key_len, key, value) slots with (prev_leaf, next_leaf) in their special
// trailer. Splits never merge back on delete — underflow is tolerated.
// Why: this mirrors the page-oriented B+-tree pagestore's SortedPage was
// built to carry, generalized from a single fixed comparator to any
// Compare the caller supplies (byte-lexicographic by default, collation-
// aware optionally — see comparator.go).
package btree

import (
	"github.com/kvrel/dbcore/internal/dberrors"
	"github.com/kvrel/dbcore/internal/pagestore"
)

// Compare orders two keys; follows the standard negative/zero/positive
// convention of bytes.Compare.
type Compare func(a, b []byte) int

const (
	innerSpecialLen = 4 // rightmost child pgid
	leafSpecialLen  = 8 // prev_leaf:pgid, next_leaf:pgid
)

// treeMeta mirrors spec.md's B+-tree meta page: {level_num:u8, root:pgid,
// tuple_num:u64}. It lives wherever the caller's super-page bookkeeping
// points it (one per table); BPlusTree itself just knows its own pgid.
type treeMeta struct {
	levelNum  uint8
	root      pagestore.PageID
	tupleNum  uint64
}

const (
	metaLevelOff = 0
	metaRootOff  = 4
	metaTupleOff = 8
	metaLen      = 16
)

func marshalTreeMeta(m *treeMeta) []byte {
	buf := make([]byte, metaLen)
	buf[metaLevelOff] = m.levelNum
	pagestore.PutUint32(buf, metaRootOff, uint32(m.root))
	pagestore.PutUint64(buf, metaTupleOff, m.tupleNum)
	return buf
}

func unmarshalTreeMeta(buf []byte) *treeMeta {
	return &treeMeta{
		levelNum: buf[metaLevelOff],
		root:     pagestore.PageID(pagestore.GetUint32(buf, metaRootOff)),
		tupleNum: pagestore.GetUint64(buf, metaTupleOff),
	}
}

// BPlusTree is a clustered ordered map keyed by bytes, backed by a
// pagestore.PageManager.
type BPlusTree struct {
	pm       *pagestore.PageManager
	metaPgid pagestore.PageID // where this tree's treeMeta is persisted
	meta     *treeMeta
	cmp      Compare
}

// Create formats a brand-new, empty tree: a single empty leaf as root, its
// meta persisted at metaPgid (typically a slot the caller's catalog owns
// inside the super page or a dedicated small plain page).
func Create(pm *pagestore.PageManager, metaPgid pagestore.PageID, cmp Compare) (*BPlusTree, error) {
	rootH, err := pm.Allocate(pagestore.PageTypeSortedLeaf)
	if err != nil {
		return nil, err
	}
	initSortedBuf(rootH.Bytes(), leafSpecialLen)
	writeLeafLinks(rootH.Bytes(), pagestore.InvalidPageID, pagestore.InvalidPageID)
	rootH.MarkDirty()
	rootID := rootH.ID()
	rootH.Unpin()

	t := &BPlusTree{
		pm:       pm,
		metaPgid: metaPgid,
		cmp:      cmp,
		meta:     &treeMeta{levelNum: 0, root: rootID, tupleNum: 0},
	}
	if err := t.persistMeta(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open loads an existing tree whose meta was previously persisted at
// metaPgid.
func Open(pm *pagestore.PageManager, metaPgid pagestore.PageID, metaBytes []byte, cmp Compare) (*BPlusTree, error) {
	return &BPlusTree{pm: pm, metaPgid: metaPgid, cmp: cmp, meta: unmarshalTreeMeta(metaBytes)}, nil
}

// MetaBytes returns the serialized treeMeta, for the caller to persist
// (e.g. into the super page) after mutating operations.
func (t *BPlusTree) MetaBytes() []byte { return marshalTreeMeta(t.meta) }

func (t *BPlusTree) persistMeta() error {
	// Callers own where meta physically lives (super page layout is a
	// catalog concern); BPlusTree only guarantees MetaBytes() is current
	// after every mutating call.
	return nil
}

// initSortedBuf formats a fresh, zeroed PageSize buffer as an empty
// SortedPage with the given special length (mirrors
// pagestore.NewSortedPage's header init without needing a second
// allocation).
func initSortedBuf(buf []byte, specialLen int) {
	pagestore.PutUint16(buf, 0, 0)
	pagestore.PutUint16(buf, 2, uint16(len(buf)-specialLen))
}

func readLeafLinks(buf []byte) (prev, next pagestore.PageID) {
	special := buf[len(buf)-leafSpecialLen:]
	return pagestore.PageID(pagestore.GetUint32(special, 0)), pagestore.PageID(pagestore.GetUint32(special, 4))
}

func writeLeafLinks(buf []byte, prev, next pagestore.PageID) {
	special := buf[len(buf)-leafSpecialLen:]
	pagestore.PutUint32(special, 0, uint32(prev))
	pagestore.PutUint32(special, 4, uint32(next))
}

func readRightmostChild(buf []byte) pagestore.PageID {
	special := buf[len(buf)-innerSpecialLen:]
	return pagestore.PageID(pagestore.GetUint32(special, 0))
}

func writeRightmostChild(buf []byte, child pagestore.PageID) {
	special := buf[len(buf)-innerSpecialLen:]
	pagestore.PutUint32(special, 0, uint32(child))
}

// leafKeyOf / innerKeyOf extract a slot's key for SortedPage's
// find/lower_bound/upper_bound.

func leafKeyOf(s pagestore.SortedSlot) []byte {
	n := pagestore.GetUint16(s, 0)
	return s[2 : 2+n]
}

func leafValueOf(s pagestore.SortedSlot) []byte {
	n := pagestore.GetUint16(s, 0)
	return s[2+n:]
}

func makeLeafSlot(key, value []byte) pagestore.SortedSlot {
	buf := make([]byte, 2+len(key)+len(value))
	pagestore.PutUint16(buf, 0, uint16(len(key)))
	copy(buf[2:], key)
	copy(buf[2+len(key):], value)
	return pagestore.SortedSlot(buf)
}

func innerKeyOf(s pagestore.SortedSlot) []byte {
	return s[4:] // child_pgid:u32 then the strict-upper-bound key
}

func innerChildOf(s pagestore.SortedSlot) pagestore.PageID {
	return pagestore.PageID(pagestore.GetUint32(s, 0))
}

func makeInnerSlot(child pagestore.PageID, upperBound []byte) pagestore.SortedSlot {
	buf := make([]byte, 4+len(upperBound))
	pagestore.PutUint32(buf, 0, uint32(child))
	copy(buf[4:], upperBound)
	return pagestore.SortedSlot(buf)
}

// TupleNum returns the number of distinct keys currently present.
func (t *BPlusTree) TupleNum() uint64 { return t.meta.tupleNum }

// IsEmpty reports whether the tree holds zero keys.
func (t *BPlusTree) IsEmpty() bool { return t.meta.tupleNum == 0 }

// pathStep records one level of a root-to-leaf descent: the page handle
// for that level and the slot index taken to reach the next level down
// (or, at the leaf, the slot index found/insertable there).
type pathStep struct {
	handle *pagestore.Handle
	page   *pagestore.SortedPage
	idx    int
}

// descend walks from root to leaf, recording the path. Every handle in
// the returned path is pinned; the caller must unpin them (in reverse
// order once finished, to respect the "reacquire per level, don't hold
// long-lived handles across traversals" discipline documented for the
// buffer pool, though correctness does not depend on unpin order).
func (t *BPlusTree) descend(key []byte) ([]pathStep, error) {
	var path []pathStep
	level := int(t.meta.levelNum)
	pgid := t.meta.root
	for {
		isLeaf := level == 0
		kind := pagestore.PageTypeSortedInner
		special := innerSpecialLen
		if isLeaf {
			kind = pagestore.PageTypeSortedLeaf
			special = leafSpecialLen
		}
		h, err := t.pm.GetPage(pgid, kind)
		if err != nil {
			return nil, err
		}
		sp := pagestore.WrapSortedPage(h.Bytes(), special)
		if isLeaf {
			// LowerBound doubles as "exact match index, if present" and
			// "insertion point, if absent" since keys are unique.
			idx := sp.LowerBound(key, leafKeyOf, t.cmp)
			path = append(path, pathStep{handle: h, page: sp, idx: idx})
			return path, nil
		}
		ub := sp.UpperBound(key, innerKeyOf, t.cmp)
		var child pagestore.PageID
		if ub < sp.SlotCount() {
			child = innerChildOf(sp.Slot(ub))
		} else {
			child = readRightmostChild(sp.Bytes())
		}
		path = append(path, pathStep{handle: h, page: sp, idx: ub})
		pgid = child
		level--
	}
}

// relinkPrevsNext repoints pgid's next link to newNext, for the splice
// performed when a new sibling is inserted immediately after it.
func (t *BPlusTree) relinkPrevsNext(pgid, newNext pagestore.PageID) error {
	h, err := t.pm.GetPage(pgid, pagestore.PageTypeSortedLeaf)
	if err != nil {
		return err
	}
	prev, _ := readLeafLinks(h.Bytes())
	writeLeafLinks(h.Bytes(), prev, newNext)
	h.MarkDirty()
	h.Unpin()
	return nil
}

func unpinPath(path []pathStep) {
	for i := len(path) - 1; i >= 0; i-- {
		path[i].handle.Unpin()
	}
}

// leafFound reports whether the leaf step's idx points at an exact match
// for key (as opposed to merely the insertion point).
func (t *BPlusTree) leafFound(step pathStep, key []byte) bool {
	return step.idx < step.page.SlotCount() && t.cmp(leafKeyOf(step.page.Slot(step.idx)), key) == 0
}

// Get returns the value for key, if present.
func (t *BPlusTree) Get(key []byte) ([]byte, bool, error) {
	path, err := t.descend(key)
	if err != nil {
		return nil, false, err
	}
	defer unpinPath(path)
	leaf := path[len(path)-1]
	if !t.leafFound(leaf, key) {
		return nil, false, nil
	}
	val := append([]byte(nil), leafValueOf(leaf.page.Slot(leaf.idx))...)
	return val, true, nil
}

// MaxKey returns the greatest key currently present, if any.
func (t *BPlusTree) MaxKey() ([]byte, bool, error) {
	if t.IsEmpty() {
		return nil, false, nil
	}
	level := int(t.meta.levelNum)
	pgid := t.meta.root
	var handles []*pagestore.Handle
	defer func() {
		for i := len(handles) - 1; i >= 0; i-- {
			handles[i].Unpin()
		}
	}()
	for {
		isLeaf := level == 0
		kind := pagestore.PageTypeSortedInner
		special := innerSpecialLen
		if isLeaf {
			kind = pagestore.PageTypeSortedLeaf
			special = leafSpecialLen
		}
		h, err := t.pm.GetPage(pgid, kind)
		if err != nil {
			return nil, false, err
		}
		handles = append(handles, h)
		sp := pagestore.WrapSortedPage(h.Bytes(), special)
		if isLeaf {
			if sp.SlotCount() == 0 {
				return nil, false, nil
			}
			key := append([]byte(nil), leafKeyOf(sp.Slot(sp.SlotCount()-1))...)
			return key, true, nil
		}
		pgid = readRightmostChild(sp.Bytes())
		level--
	}
}

// Destroy releases every page reachable from the root in post-order DFS.
func (t *BPlusTree) Destroy() error {
	return t.destroyNode(t.meta.root, int(t.meta.levelNum))
}

func (t *BPlusTree) destroyNode(pgid pagestore.PageID, level int) error {
	isLeaf := level == 0
	kind := pagestore.PageTypeSortedInner
	special := innerSpecialLen
	if isLeaf {
		kind = pagestore.PageTypeSortedLeaf
		special = leafSpecialLen
	}
	h, err := t.pm.GetPage(pgid, kind)
	if err != nil {
		return err
	}
	sp := pagestore.WrapSortedPage(h.Bytes(), special)
	if !isLeaf {
		for i := 0; i < sp.SlotCount(); i++ {
			if err := t.destroyNode(innerChildOf(sp.Slot(i)), level-1); err != nil {
				h.Unpin()
				return err
			}
		}
		if err := t.destroyNode(readRightmostChild(sp.Bytes()), level-1); err != nil {
			h.Unpin()
			return err
		}
	}
	h.Unpin()
	return t.pm.Free(pgid)
}

func treeError(format string, args ...any) error {
	return dberrors.Wrap(dberrors.IoError, format, args...)
}
