package btree

import "github.com/kvrel/dbcore/internal/pagestore"

// Delete removes key; returns false if absent.
func (t *BPlusTree) Delete(key []byte) (bool, error) {
	path, err := t.descend(key)
	if err != nil {
		return false, err
	}
	leaf := path[len(path)-1]
	if !t.leafFound(leaf, key) {
		unpinPath(path)
		return false, nil
	}

	wasFirst := leaf.idx == 0
	leaf.page.DeleteSlot(leaf.idx)
	leaf.handle.MarkDirty()
	emptied := leaf.page.SlotCount() == 0

	var propErr error
	switch {
	case emptied:
		propErr = t.propagateEmptiedLeaf(path)
	case wasFirst:
		newLeftmost := append([]byte(nil), leafKeyOf(leaf.page.Slot(0))...)
		propErr = t.propagateNewLeftmost(path[:len(path)-1], newLeftmost)
	}
	unpinPath(path)
	if propErr != nil {
		return false, propErr
	}
	t.meta.tupleNum--
	return true, nil
}

// Take deletes key and returns its prior value.
func (t *BPlusTree) Take(key []byte) ([]byte, bool, error) {
	val, ok, err := t.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if _, err := t.Delete(key); err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// propagateNewLeftmost handles flag=0: the leaf's leftmost key changed
// (its old first key was deleted). An inner slot holds (child, child's
// strict upper bound), so the key bounding a child from below is the key
// of the slot just before it in the parent (for a child reached via the
// rightmost special pointer, the parent's last ordinary slot). That
// left-sibling separator is replaced with the new leftmost key. A child
// at index 0 has no left sibling in its parent, so the update cascades
// to the next ancestor; at the root it stops.
func (t *BPlusTree) propagateNewLeftmost(ancestors []pathStep, newLeftmost []byte) error {
	if len(ancestors) == 0 {
		return nil
	}
	parent := ancestors[len(ancestors)-1]
	if parent.idx == 0 {
		return t.propagateNewLeftmost(ancestors[:len(ancestors)-1], newLeftmost)
	}
	sepIdx := parent.idx - 1
	slot := parent.page.Slot(sepIdx)
	child := innerChildOf(slot)
	replacement := makeInnerSlot(child, newLeftmost)
	if parent.page.IsReplaceable(sepIdx, len(replacement)) {
		parent.page.Replace(sepIdx, replacement)
		parent.handle.MarkDirty()
		return nil
	}
	// Overflow on replace (flag=2 equivalent): delete then reinsert,
	// splitting only if it still doesn't fit afterward.
	parent.page.DeleteSlot(sepIdx)
	if parent.page.IsInsertable(len(replacement)) {
		parent.page.InsertBefore(sepIdx, replacement)
		parent.handle.MarkDirty()
		return nil
	}
	ancestors[len(ancestors)-1].idx = sepIdx
	return t.splitInnerAndPropagate(ancestors, replacement)
}

// propagateEmptiedLeaf handles flag=1: the leaf is now empty. Unlink it
// from the leaf chain, free the page, and remove its entry from the
// parent (folding the rightmost-special pointer inward if the emptied
// child was reached that way), recursing upward if the parent itself
// becomes structurally empty (zero ordinary slots with only its rightmost
// pointer left — collapse it too, or collapse the root one level).
func (t *BPlusTree) propagateEmptiedLeaf(path []pathStep) error {
	leaf := path[len(path)-1]
	prev, next := readLeafLinks(leaf.page.Bytes())
	if prev != pagestore.InvalidPageID {
		if err := t.relinkPrevsNext(prev, next); err != nil {
			return err
		}
	}
	if next != pagestore.InvalidPageID {
		if err := t.relinkNextsPrevField(next, prev); err != nil {
			return err
		}
	}
	emptiedID := leaf.handle.ID()
	return t.removeChildAndPropagate(path[:len(path)-1], emptiedID)
}

// relinkNextsPrevField repoints pgid's prev link to newPrev.
func (t *BPlusTree) relinkNextsPrevField(pgid, newPrev pagestore.PageID) error {
	h, err := t.pm.GetPage(pgid, pagestore.PageTypeSortedLeaf)
	if err != nil {
		return err
	}
	_, next := readLeafLinks(h.Bytes())
	writeLeafLinks(h.Bytes(), newPrev, next)
	h.MarkDirty()
	h.Unpin()
	return nil
}

// removeChildAndPropagate removes the reference to the now-freed child
// childID from the page at the bottom of ancestors, then frees childID.
// If the parent becomes structurally empty (zero ordinary slots), it
// recurses one level further up, or collapses the root.
func (t *BPlusTree) removeChildAndPropagate(ancestors []pathStep, childID pagestore.PageID) error {
	if len(ancestors) == 0 {
		// childID was the root itself becoming empty: nothing above to
		// fix up. The tree becomes conceptually empty; leave the empty
		// root page in place (IsEmpty() is driven by tupleNum, not page
		// occupancy) — matches "no merging" posture for underflow.
		return nil
	}
	parent := ancestors[len(ancestors)-1]
	if parent.idx < parent.page.SlotCount() && innerChildOf(parent.page.Slot(parent.idx)) == childID {
		parent.page.DeleteSlot(parent.idx)
	} else {
		// childID was reached via the rightmost special: fold the last
		// ordinary slot's child into the rightmost pointer, or if there
		// are no ordinary slots left, the parent is now itself empty and
		// must be collapsed by the caller.
		n := parent.page.SlotCount()
		if n > 0 {
			newRightmost := innerChildOf(parent.page.Slot(n - 1))
			parent.page.DeleteSlot(n - 1)
			writeRightmostChild(parent.page.Bytes(), newRightmost)
		} else {
			writeRightmostChild(parent.page.Bytes(), pagestore.InvalidPageID)
		}
	}
	parent.handle.MarkDirty()

	if parent.page.SlotCount() == 0 {
		// Parent now holds exactly one child via its rightmost pointer
		// (or none, if the whole subtree emptied) — structurally
		// degenerate. Collapse it: the remaining rightmost child takes
		// its place in the grandparent, one level shallower.
		remaining := readRightmostChild(parent.page.Bytes())
		if len(ancestors) == 1 {
			// Parent is the root: shrink the tree by one level.
			if remaining != pagestore.InvalidPageID {
				t.meta.root = remaining
				t.meta.levelNum--
			}
			if err := t.pm.Free(childID); err != nil {
				return err
			}
			return t.pm.Free(parent.handle.ID())
		}
		if err := t.pm.Free(childID); err != nil {
			return err
		}
		parentID := parent.handle.ID()
		if err := t.pm.Free(parentID); err != nil {
			return err
		}
		return t.removeChildAndPropagate(ancestors[:len(ancestors)-1], parentID)
	}

	return t.pm.Free(childID)
}
