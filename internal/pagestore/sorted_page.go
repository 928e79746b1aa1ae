package pagestore

import (
	"bytes"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// SortedPage
// ───────────────────────────────────────────────────────────────────────────
//
// Layout of a PageSize buffer:
//
//   header:  slot_count:u16  end_0:u16
//   array:   end_1 .. end_{slot_count}  (u16 each, growing toward the end
//            of the page as slots are appended)
//   special: a fixed-size trailer reserved by the caller (B+-tree inner
//            pages use it for nothing; leaf pages don't either — the field
//            exists because spec.md carries it as a documented extension
//            point, so slot bodies never assume they own the whole tail)
//   bodies:  slot i occupies buf[end_{i+1}:end_i), growing downward from
//            just above the special trailer. end_0 is the page-size-minus-
//            special boundary (the top of the slot-body region); slot 0's
//            body therefore ends at end_0's *previous* meaning... see
//            below for the precise algebra.
//
// Concretely: let specialStart = PageSize - specialLen. Then:
//   end_0 = specialStart   (initial, no slots yet)
//   slot i's body occupies [end_{i+1}, end_i) where end_{slot_count} is the
//   position of the most-recently-appended slot's start, i.e. end values
//   decrease as more slots are appended and slot bodies stack downward from
//   specialStart toward the header+array region. The free space invariant is
//   that the slot-directory tail (headerLen + 2*slot_count) never exceeds
//   end_{slot_count} (the start of the topmost/last slot's body).

const sortedPageHeaderLen = 4 // slot_count:u16 + end_0:u16

// SortedSlot is a single variable-length slot body plus its logical index.
type SortedSlot []byte

// SortedPage wraps a PageSize buffer laid out as described above.
type SortedPage struct {
	buf        []byte
	specialLen int
}

// NewSortedPage formats a fresh buffer with the given special-trailer size.
func NewSortedPage(specialLen int) *SortedPage {
	buf := newZeroPage()
	specialStart := PageSize - specialLen
	PutUint16(buf, 2, uint16(specialStart)) // end_0
	return &SortedPage{buf: buf, specialLen: specialLen}
}

// WrapSortedPage wraps an existing on-disk buffer.
func WrapSortedPage(buf []byte, specialLen int) *SortedPage {
	if len(buf) != PageSize {
		panic(fmt.Sprintf("pagestore: sorted page buffer must be %d bytes, got %d", PageSize, len(buf)))
	}
	return &SortedPage{buf: buf, specialLen: specialLen}
}

// Bytes returns the underlying buffer.
func (p *SortedPage) Bytes() []byte { return p.buf }

func (p *SortedPage) slotCount() int { return int(GetUint16(p.buf, 0)) }

func (p *SortedPage) setSlotCount(n int) { PutUint16(p.buf, 0, uint16(n)) }

// end returns end_i: the boundary for slot i-1's start / slot i's end,
// where end_0 is stored in the header and end_1..end_{n-1} live in the
// growing array immediately after the header.
func (p *SortedPage) end(i int) int {
	if i == 0 {
		return int(GetUint16(p.buf, 2))
	}
	return int(GetUint16(p.buf, sortedPageHeaderLen+2*(i-1)))
}

func (p *SortedPage) setEnd(i, v int) {
	if i == 0 {
		PutUint16(p.buf, 2, uint16(v))
		return
	}
	PutUint16(p.buf, sortedPageHeaderLen+2*(i-1), uint16(v))
}

// SlotCount returns the number of live slots.
func (p *SortedPage) SlotCount() int { return p.slotCount() }

// Slot returns a read-only view of slot i's body.
func (p *SortedPage) Slot(i int) SortedSlot {
	n := p.slotCount()
	if i < 0 || i >= n {
		panic(fmt.Sprintf("pagestore: slot index %d out of range [0,%d)", i, n))
	}
	lo := p.end(i + 1)
	hi := p.end(i)
	return SortedSlot(p.buf[lo:hi])
}

// directoryTail is the first byte past the slot-count/end-array region for
// a page that would have n slots (n+1 end entries, the first inline).
func directoryTail(n int) int {
	if n == 0 {
		return sortedPageHeaderLen
	}
	return sortedPageHeaderLen + 2*n
}

// freeSpace reports how many bytes are available between the slot
// directory's tail and the topmost slot body's start.
func (p *SortedPage) freeSpace() int {
	n := p.slotCount()
	return p.end(n) - directoryTail(n)
}

// IsInsertable reports whether slot (of the given length) can be appended
// or inserted without violating the free-space invariant.
func (p *SortedPage) IsInsertable(slotLen int) bool {
	// Inserting adds one more end entry (2 bytes) to the directory and
	// slotLen bytes to the body region.
	needed := 2 + slotLen
	return p.freeSpace() >= needed
}

// IsReplaceable reports whether slot i can be overwritten in place by a
// slot of newLen bytes without violating the free-space invariant.
func (p *SortedPage) IsReplaceable(i, newLen int) bool {
	cur := len(p.Slot(i))
	if newLen <= cur {
		return true
	}
	return p.freeSpace() >= newLen-cur
}

// Find returns the index of the first slot whose key (as extracted by
// keyOf) equals key, or -1.
func (p *SortedPage) Find(key []byte, keyOf func(SortedSlot) []byte) int {
	n := p.slotCount()
	for i := 0; i < n; i++ {
		if bytes.Equal(keyOf(p.Slot(i)), key) {
			return i
		}
	}
	return -1
}

// LowerBound returns the index of the first slot whose key is >= key
// (binary search over a page whose slots are maintained in sorted order),
// or SlotCount() if none.
func (p *SortedPage) LowerBound(key []byte, keyOf func(SortedSlot) []byte, cmp func(a, b []byte) int) int {
	n := p.slotCount()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(keyOf(p.Slot(mid)), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// UpperBound returns the index of the first slot whose key is > key, or
// SlotCount() if none.
func (p *SortedPage) UpperBound(key []byte, keyOf func(SortedSlot) []byte, cmp func(a, b []byte) int) int {
	n := p.slotCount()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(keyOf(p.Slot(mid)), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// shiftDirectory inserts a new end-array entry at logical position i
// (0-based among the 1..n-1 array entries; slot 0's end is the fixed end_0
// and is never part of the growable array) by moving the array tail over
// by one u16 slot.
func (p *SortedPage) insertEndEntry(i int, v int) {
	n := p.slotCount()
	// The growable array covers logical end indices 1..n. Position i in
	// that array (0-based, corresponds to end_{i+1}) is where the new
	// entry goes; shift entries at or after i one slot to the right.
	arrStart := sortedPageHeaderLen
	srcFrom := arrStart + 2*i
	srcTo := arrStart + 2*n
	copy(p.buf[srcFrom+2:srcTo+2], p.buf[srcFrom:srcTo])
	PutUint16(p.buf, arrStart+2*i, uint16(v))
}

func (p *SortedPage) removeEndEntry(i int) {
	n := p.slotCount()
	arrStart := sortedPageHeaderLen
	srcFrom := arrStart + 2*(i+1)
	srcTo := arrStart + 2*n
	copy(p.buf[arrStart+2*i:], p.buf[srcFrom:srcTo])
}

// AppendUnchecked appends slot to the end of the slot array without
// re-validating free space (caller must have checked IsInsertable).
func (p *SortedPage) AppendUnchecked(slot SortedSlot) {
	n := p.slotCount()
	top := p.end(n)
	newTop := top - len(slot)
	copy(p.buf[newTop:top], slot)
	p.setSlotCount(n + 1)
	p.setEnd(n+1, newTop)
}

// InsertBefore inserts slot so it becomes slot index i, shifting existing
// slots i..n-1 up by one logical index. Bodies of slots before i are left
// untouched; slots from i onward, plus the new slot, are recompacted via a
// full memmove-based rebuild of the body region (simplest correct approach
// given slot bodies grow downward and an insertion in the middle has
// nothing stable to slide against).
func (p *SortedPage) InsertBefore(i int, slot SortedSlot) {
	n := p.slotCount()
	if i == n {
		p.AppendUnchecked(slot)
		return
	}
	bodies := make([]SortedSlot, 0, n+1)
	for k := 0; k < i; k++ {
		bodies = append(bodies, append(SortedSlot(nil), p.Slot(k)...))
	}
	bodies = append(bodies, append(SortedSlot(nil), slot...))
	for k := i; k < n; k++ {
		bodies = append(bodies, append(SortedSlot(nil), p.Slot(k)...))
	}
	p.rebuild(bodies)
}

// Replace overwrites slot i's body (which may change length).
func (p *SortedPage) Replace(i int, slot SortedSlot) {
	n := p.slotCount()
	bodies := make([]SortedSlot, n)
	for k := 0; k < n; k++ {
		if k == i {
			bodies[k] = append(SortedSlot(nil), slot...)
		} else {
			bodies[k] = append(SortedSlot(nil), p.Slot(k)...)
		}
	}
	p.rebuild(bodies)
}

// DeleteSlot removes slot i, shifting later slots down by one logical
// index.
func (p *SortedPage) DeleteSlot(i int) {
	n := p.slotCount()
	bodies := make([]SortedSlot, 0, n-1)
	for k := 0; k < n; k++ {
		if k == i {
			continue
		}
		bodies = append(bodies, append(SortedSlot(nil), p.Slot(k)...))
	}
	p.rebuild(bodies)
}

// rebuild repacks the page from scratch given the full ordered slot-body
// list, recomputing the header, end array, and body region. Zeroes the
// body/array region first so stale bytes never leak into free space.
func (p *SortedPage) rebuild(bodies []SortedSlot) {
	specialStart := PageSize - p.specialLen
	for i := sortedPageHeaderLen; i < specialStart; i++ {
		p.buf[i] = 0
	}
	p.setSlotCount(0)
	p.setEnd(0, specialStart)
	for _, b := range bodies {
		p.AppendUnchecked(b)
	}
}

// ReadSpecial returns the special trailer region (fixed size, reserved by
// the caller for auxiliary fields such as sibling-leaf links).
func (p *SortedPage) ReadSpecial() []byte {
	return p.buf[PageSize-p.specialLen:]
}

// WriteSpecial overwrites the special trailer region.
func (p *SortedPage) WriteSpecial(data []byte) {
	if len(data) != p.specialLen {
		panic(fmt.Sprintf("pagestore: special trailer must be %d bytes, got %d", p.specialLen, len(data)))
	}
	copy(p.buf[PageSize-p.specialLen:], data)
}

// SplitPoint decides, for a page about to receive newSlot at logical index
// insertAt, how many of the resulting n+1 slots go to the left (low) half
// after a split. Policy: try giving the left half ceil((n+1)/2) slots; if
// the new slot would land in the left half and the left half (including
// the new slot) doesn't fit in a fresh page's capacity, shrink the left
// half by one slot (never below one), moving its last slot to the right
// half. This
// mirrors the specific "does it fit after all" check spec.md calls for
// rather than a blind half-and-half split.
func SplitPoint(bodies []SortedSlot, insertAt int, specialLen int) (leftCount int) {
	total := len(bodies)
	half := (total + 1) / 2
	if half == 0 {
		half = 1
	}
	if half > total {
		half = total
	}
	// Check whether the left half, as currently sized, would actually
	// hold together as a valid page (directory + bodies within capacity).
	size := directoryTail(half)
	bodyLen := 0
	for i := 0; i < half; i++ {
		bodyLen += len(bodies[i])
	}
	avail := (PageSize - specialLen)
	if size+bodyLen > avail && insertAt < half {
		// Left half doesn't fit after all; shrink it by one so its last
		// slot moves to the right half.
		half--
		if half < 1 {
			half = 1
		}
	}
	return half
}
