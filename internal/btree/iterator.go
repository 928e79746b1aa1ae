package btree

import "github.com/kvrel/dbcore/internal/pagestore"

// Iterator is a forward cursor over (key, value) pairs in increasing key
// order, following the leaf linked list across page boundaries.
type Iterator struct {
	t        *BPlusTree
	handle   *pagestore.Handle
	page     *pagestore.SortedPage
	slotIdx  int
	finished bool
}

// Begin returns an iterator positioned at the smallest key.
func (t *BPlusTree) Begin() (*Iterator, error) {
	return t.iteratorFrom(nil, false)
}

// LowerBound returns an iterator positioned at the least key >= key.
func (t *BPlusTree) LowerBound(key []byte) (*Iterator, error) {
	return t.iteratorFrom(key, false)
}

// UpperBound returns an iterator positioned at the least key > key.
func (t *BPlusTree) UpperBound(key []byte) (*Iterator, error) {
	return t.iteratorFrom(key, true)
}

func (t *BPlusTree) iteratorFrom(key []byte, strictAfter bool) (*Iterator, error) {
	level := int(t.meta.levelNum)
	pgid := t.meta.root
	var prevHandles []*pagestore.Handle
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
			for _, ph := range prevHandles {
				ph.Unpin()
			}
			return nil, err
		}
		sp := pagestore.WrapSortedPage(h.Bytes(), special)
		if isLeaf {
			for _, ph := range prevHandles {
				ph.Unpin()
			}
			idx := 0
			if key != nil {
				if strictAfter {
					idx = sp.UpperBound(key, leafKeyOf, t.cmp)
				} else {
					idx = sp.LowerBound(key, leafKeyOf, t.cmp)
				}
			}
			it := &Iterator{t: t, handle: h, page: sp, slotIdx: idx}
			if idx >= sp.SlotCount() {
				// Position landed past this leaf's last slot: roll
				// forward onto the next leaf (or mark EOF).
				it.slotIdx = sp.SlotCount() // Next() will advance past this and roll over
				if _, err := it.Next(); err != nil {
					return nil, err
				}
			}
			return it, nil
		}
		var child pagestore.PageID
		if key == nil {
			child = innerChildOf(sp.Slot(0))
			if sp.SlotCount() == 0 {
				child = readRightmostChild(sp.Bytes())
			}
		} else {
			// Inner descent always takes the strict upper bound of the
			// target key, regardless of whether the caller wants an
			// inclusive (LowerBound) or exclusive (UpperBound) leaf
			// position — the leaf itself resolves that distinction.
			ub := sp.UpperBound(key, innerKeyOf, t.cmp)
			if ub < sp.SlotCount() {
				child = innerChildOf(sp.Slot(ub))
			} else {
				child = readRightmostChild(sp.Bytes())
			}
		}
		prevHandles = append(prevHandles, h)
		pgid = child
		level--
	}
}

func hasNext(sp *pagestore.SortedPage) bool {
	_, next := readLeafLinks(sp.Bytes())
	return next != pagestore.InvalidPageID
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *Iterator) Valid() bool {
	return !it.finished && it.slotIdx < it.page.SlotCount()
}

// Key returns the current entry's key.
func (it *Iterator) Key() []byte {
	return append([]byte(nil), leafKeyOf(it.page.Slot(it.slotIdx))...)
}

// Value returns the current entry's value.
func (it *Iterator) Value() []byte {
	return append([]byte(nil), leafValueOf(it.page.Slot(it.slotIdx))...)
}

// Next advances the cursor. Returns false (and releases the iterator's
// page handle) once past the last entry.
func (it *Iterator) Next() (bool, error) {
	if it.finished {
		return false, nil
	}
	it.slotIdx++
	if it.slotIdx < it.page.SlotCount() {
		return true, nil
	}
	_, next := readLeafLinks(it.page.Bytes())
	it.handle.Unpin()
	if next == pagestore.InvalidPageID {
		it.finished = true
		it.page = nil
		it.handle = nil
		return false, nil
	}
	h, err := it.t.pm.GetPage(next, pagestore.PageTypeSortedLeaf)
	if err != nil {
		it.finished = true
		return false, err
	}
	it.handle = h
	it.page = pagestore.WrapSortedPage(h.Bytes(), leafSpecialLen)
	it.slotIdx = 0
	if it.page.SlotCount() == 0 {
		// An emptied-but-not-yet-collapsed leaf (underflow is tolerated,
		// see the tree's no-merge delete policy) — skip forward.
		return it.Next()
	}
	return true, nil
}

// Close releases the iterator's currently pinned page handle, if any. Must
// be called if the caller stops iterating before reaching EOF.
func (it *Iterator) Close() {
	if it.handle != nil {
		it.handle.Unpin()
		it.handle = nil
	}
}
