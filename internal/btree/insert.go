package btree

import "github.com/kvrel/dbcore/internal/pagestore"

// Insert adds (key, value); returns false without changing the mapping if
// key already exists.
func (t *BPlusTree) Insert(key, value []byte) (bool, error) {
	path, err := t.descend(key)
	if err != nil {
		return false, err
	}
	leaf := path[len(path)-1]
	if t.leafFound(leaf, key) {
		unpinPath(path)
		return false, nil
	}
	slot := makeLeafSlot(key, value)
	if err := t.insertIntoLeaf(path, slot); err != nil {
		unpinPath(path)
		return false, err
	}
	unpinPath(path)
	t.meta.tupleNum++
	return true, nil
}

// Update replaces the value for an existing key; returns false if absent.
func (t *BPlusTree) Update(key, value []byte) (bool, error) {
	path, err := t.descend(key)
	if err != nil {
		return false, err
	}
	leaf := path[len(path)-1]
	if !t.leafFound(leaf, key) {
		unpinPath(path)
		return false, nil
	}
	slot := makeLeafSlot(key, value)
	if leaf.page.IsReplaceable(leaf.idx, len(slot)) {
		leaf.page.Replace(leaf.idx, slot)
		leaf.handle.MarkDirty()
		unpinPath(path)
		return true, nil
	}
	// Replacement doesn't fit in place: delete then re-insert via the
	// split path, same as a fresh insert that happens to overflow.
	leaf.page.DeleteSlot(leaf.idx)
	if err := t.insertIntoLeaf(path, slot); err != nil {
		unpinPath(path)
		return false, err
	}
	unpinPath(path)
	return true, nil
}

// insertIntoLeaf places slot into the leaf at the bottom of path,
// splitting and propagating separators upward as needed.
func (t *BPlusTree) insertIntoLeaf(path []pathStep, slot pagestore.SortedSlot) error {
	leafStep := path[len(path)-1]
	if leafStep.page.IsInsertable(len(slot)) {
		leafStep.page.InsertBefore(leafStep.idx, slot)
		leafStep.handle.MarkDirty()
		return nil
	}
	return t.splitLeafAndPropagate(path, slot)
}

// splitLeafAndPropagate splits an overflowing leaf. The ORIGINAL page (same
// pgid) keeps the high (right-in-key-order) half; a freshly allocated page
// takes the low (left-in-key-order) half. This way the parent slot that
// already points at the original pgid needs no child-field update — only
// a new sibling slot (lowPgid, separator) is inserted before it, exactly
// matching "insert a new inner slot (old_child, separator) at the same
// index" from the descent/insert contract.
func (t *BPlusTree) splitLeafAndPropagate(path []pathStep, newSlot pagestore.SortedSlot) error {
	leafStep := path[len(path)-1]
	origPage := leafStep.page
	n := origPage.SlotCount()

	bodies := make([]pagestore.SortedSlot, 0, n+1)
	for i := 0; i < leafStep.idx; i++ {
		bodies = append(bodies, append(pagestore.SortedSlot(nil), origPage.Slot(i)...))
	}
	bodies = append(bodies, newSlot)
	for i := leafStep.idx; i < n; i++ {
		bodies = append(bodies, append(pagestore.SortedSlot(nil), origPage.Slot(i)...))
	}

	lowCount := pagestore.SplitPoint(bodies, leafStep.idx, leafSpecialLen)
	lowBodies, highBodies := bodies[:lowCount], bodies[lowCount:]

	lowH, err := t.pm.Allocate(pagestore.PageTypeSortedLeaf)
	if err != nil {
		return err
	}
	initSortedBuf(lowH.Bytes(), leafSpecialLen)
	lowPage := pagestore.WrapSortedPage(lowH.Bytes(), leafSpecialLen)
	for _, b := range lowBodies {
		lowPage.AppendUnchecked(b)
	}

	// origPage (same pgid) now holds only the high half.
	rebuildLeaf(origPage, highBodies)

	// Standard doubly-linked splice: lowPage is spliced in immediately
	// before origPage. Uniformly linked including the global endpoints
	// (the simpler alternative spec.md's split-only leaf list explicitly
	// sanctions over selectively excluding them — see DESIGN.md).
	oldPrev, oldNext := readLeafLinks(origPage.Bytes())
	writeLeafLinks(lowPage.Bytes(), oldPrev, leafStep.handle.ID())
	writeLeafLinks(origPage.Bytes(), lowH.ID(), oldNext)
	if oldPrev != pagestore.InvalidPageID {
		if err := t.relinkPrevsNext(oldPrev, lowH.ID()); err != nil {
			return err
		}
	}

	leafStep.handle.MarkDirty()
	lowH.MarkDirty()

	separator := append([]byte(nil), leafKeyOf(highBodies[0])...)
	lowID := lowH.ID()
	lowH.Unpin()

	return t.propagateSplit(path[:len(path)-1], lowID, separator)
}

func rebuildLeaf(sp *pagestore.SortedPage, bodies []pagestore.SortedSlot) {
	for sp.SlotCount() > 0 {
		sp.DeleteSlot(0)
	}
	for _, b := range bodies {
		sp.AppendUnchecked(b)
	}
}

func rebuildInner(sp *pagestore.SortedPage, bodies []pagestore.SortedSlot) {
	rebuildLeaf(sp, bodies)
}

// propagateSplit inserts (lowChild, separator) into the parent at the top
// of the remaining path, splitting further if needed, up to and including
// a new root. lowChild is the newly allocated page holding the low
// (left-in-key-order) half of whatever split just happened one level
// down; the existing parent slot at parentStep.idx already correctly
// refers to the page holding the high half (same pgid as before, its
// upper bound unchanged), so it is left untouched.
func (t *BPlusTree) propagateSplit(ancestors []pathStep, lowChild pagestore.PageID, separator []byte) error {
	if len(ancestors) == 0 {
		return t.newRoot(lowChild, separator)
	}
	parentStep := ancestors[len(ancestors)-1]
	slot := makeInnerSlot(lowChild, separator)
	if parentStep.page.IsInsertable(len(slot)) {
		parentStep.page.InsertBefore(parentStep.idx, slot)
		parentStep.handle.MarkDirty()
		return nil
	}
	return t.splitInnerAndPropagate(ancestors, slot)
}

// splitInnerAndPropagate mirrors splitLeafAndPropagate for an inner page.
// newSlot = (lowChild, separator) is inserted at parentStep.idx first (in
// the in-memory body list), then the combined body list is split the same
// low/high way: origPage (same pgid) keeps the high half and its old
// rightmost-child pointer; a freshly allocated page takes the low half.
// The first slot of the high half is pulled out as the carried separator
// for the next level up, and its child becomes the new low page's
// rightmost pointer (since that slot no longer exists as an ordinary slot
// once carried up — its key becomes the separator, its child the low
// page's rightmost, mirroring how a leaf's lowest key becomes the
// separator).
func (t *BPlusTree) splitInnerAndPropagate(ancestors []pathStep, newSlot pagestore.SortedSlot) error {
	parentStep := ancestors[len(ancestors)-1]
	origPage := parentStep.page
	n := origPage.SlotCount()
	oldRightmost := readRightmostChild(origPage.Bytes())

	bodies := make([]pagestore.SortedSlot, 0, n+1)
	for i := 0; i < parentStep.idx; i++ {
		bodies = append(bodies, append(pagestore.SortedSlot(nil), origPage.Slot(i)...))
	}
	bodies = append(bodies, newSlot)
	for i := parentStep.idx; i < n; i++ {
		bodies = append(bodies, append(pagestore.SortedSlot(nil), origPage.Slot(i)...))
	}

	lowCount := pagestore.SplitPoint(bodies, parentStep.idx, innerSpecialLen)
	lowBodies, highBodies := bodies[:lowCount], bodies[lowCount:]

	// The first slot of the high half is carried up: its key becomes the
	// separator, its child becomes the low page's rightmost pointer, and
	// it is removed from the ordinary high-half slot list.
	carriedSeparator := append([]byte(nil), innerKeyOf(highBodies[0])...)
	carriedChild := innerChildOf(highBodies[0])
	highRest := highBodies[1:]

	lowH, err := t.pm.Allocate(pagestore.PageTypeSortedInner)
	if err != nil {
		return err
	}
	initSortedBuf(lowH.Bytes(), innerSpecialLen)
	lowPage := pagestore.WrapSortedPage(lowH.Bytes(), innerSpecialLen)
	for _, b := range lowBodies {
		lowPage.AppendUnchecked(b)
	}
	writeRightmostChild(lowPage.Bytes(), carriedChild)

	rebuildInner(origPage, highRest)
	writeRightmostChild(origPage.Bytes(), oldRightmost)

	parentStep.handle.MarkDirty()
	lowH.MarkDirty()
	lowID := lowH.ID()
	lowH.Unpin()

	return t.propagateSplit(ancestors[:len(ancestors)-1], lowID, carriedSeparator)
}

// newRoot allocates a fresh inner root page with a single slot
// (lowChild, separator) whose special trailer points at the old root
// (which still holds the high half under its original pgid).
func (t *BPlusTree) newRoot(lowChild pagestore.PageID, separator []byte) error {
	rootH, err := t.pm.Allocate(pagestore.PageTypeSortedInner)
	if err != nil {
		return err
	}
	initSortedBuf(rootH.Bytes(), innerSpecialLen)
	sp := pagestore.WrapSortedPage(rootH.Bytes(), innerSpecialLen)
	sp.AppendUnchecked(makeInnerSlot(lowChild, separator))
	writeRightmostChild(sp.Bytes(), t.meta.root)
	rootH.MarkDirty()

	t.meta.root = rootH.ID()
	t.meta.levelNum++
	rootH.Unpin()
	return nil
}
