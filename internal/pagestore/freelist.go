package pagestore

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Free-page list
// ───────────────────────────────────────────────────────────────────────────
//
// On disk the free list is a chain of plain pages, each holding up to
// freeListCapacity free pgids plus a pointer to the next page in the chain;
// the head page's used-entry count lives in the meta page
// (Meta.FreePagesInHead), not on the free-list page itself.
//
// In memory, PageManager keeps the whole free set as a slice and only walks
// the on-disk chain when the file is opened (loadFreeList) and when it is
// closed (flushFreeListLocked, called from Close; Flush does not write the
// chain). This sidesteps the awkward re-entrancy of promoting/demoting
// head pages mid-transaction (the chain walk would itself need to pin
// pages through the very manager it's bootstrapping) while still
// round-tripping through the documented on-disk format spec.md describes.

// freeListNextOff is the pgid-sized "next" pointer at the start of every
// free-list page; the remaining bytes hold up to freeListCapacity entries.
const freeListNextOff = 0
const freeListEntriesOff = 4

// freeListCapacity is the number of free pgids a single free-list page can
// hold: floor(PageSize/4) - 1, the "-1" accounting for the next pointer.
const freeListCapacity = PageSize/4 - 1

// freeList is the in-memory representation of the manager's free-page set.
type freeList struct {
	ids []PageID
}

func newFreeList() *freeList {
	return &freeList{}
}

// Alloc pops a free pgid, or InvalidPageID if the list is empty.
func (f *freeList) Alloc() PageID {
	n := len(f.ids)
	if n == 0 {
		return InvalidPageID
	}
	id := f.ids[n-1]
	f.ids = f.ids[:n-1]
	return id
}

// Free pushes pgid onto the free set.
func (f *freeList) Free(pgid PageID) {
	f.ids = append(f.ids, pgid)
}

// Len reports how many free pages are tracked.
func (f *freeList) Len() int { return len(f.ids) }

// marshalFreeListPage encodes up to freeListCapacity ids (chunk) plus a
// next-page pointer into one PageSize buffer.
func marshalFreeListPage(chunk []PageID, next PageID) []byte {
	if len(chunk) > freeListCapacity {
		panic(fmt.Sprintf("pagestore: free-list chunk of %d exceeds capacity %d", len(chunk), freeListCapacity))
	}
	buf := newZeroPage()
	PutUint32(buf, freeListNextOff, uint32(next))
	for i, id := range chunk {
		PutUint32(buf, freeListEntriesOff+4*i, uint32(id))
	}
	return buf
}

// unmarshalFreeListPage decodes a free-list page into its entries (first n,
// given by count) and its next-page pointer.
func unmarshalFreeListPage(buf []byte, count int) (chunk []PageID, next PageID, err error) {
	if len(buf) != PageSize {
		return nil, InvalidPageID, fmt.Errorf("pagestore: free-list page must be %d bytes, got %d", PageSize, len(buf))
	}
	if count < 0 || count > freeListCapacity {
		return nil, InvalidPageID, fmt.Errorf("pagestore: free-list entry count %d out of range [0,%d]", count, freeListCapacity)
	}
	next = PageID(GetUint32(buf, freeListNextOff))
	chunk = make([]PageID, count)
	for i := range chunk {
		chunk[i] = PageID(GetUint32(buf, freeListEntriesOff+4*i))
	}
	return chunk, next, nil
}
