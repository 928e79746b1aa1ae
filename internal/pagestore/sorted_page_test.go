package pagestore

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// testSlot packs a key and value as keyLen:u16 key value, the same shape
// the B+-tree's leaf slots use, so these tests exercise realistic slot
// sizes and keyOf extraction.
func testSlot(key, value string) SortedSlot {
	buf := make([]byte, 2+len(key)+len(value))
	binary.LittleEndian.PutUint16(buf, uint16(len(key)))
	copy(buf[2:], key)
	copy(buf[2+len(key):], value)
	return SortedSlot(buf)
}

func testKeyOf(s SortedSlot) []byte {
	n := binary.LittleEndian.Uint16(s)
	return s[2 : 2+n]
}

func testCmp(a, b []byte) int { return bytes.Compare(a, b) }

func TestSortedPage_AppendAndSlotRoundTrip(t *testing.T) {
	p := NewSortedPage(8)
	slots := []SortedSlot{
		testSlot("aaa", "1"),
		testSlot("bbb", "2"),
		testSlot("ccc", "3"),
	}
	for _, s := range slots {
		if !p.IsInsertable(len(s)) {
			t.Fatalf("expected slot to be insertable on a fresh page")
		}
		p.AppendUnchecked(s)
	}
	if p.SlotCount() != 3 {
		t.Fatalf("expected 3 slots, got %d", p.SlotCount())
	}
	for i, want := range slots {
		got := p.Slot(i)
		if !bytes.Equal(got, want) {
			t.Fatalf("slot %d mismatch: got %v want %v", i, got, want)
		}
	}
}

func TestSortedPage_FindLowerUpperBound(t *testing.T) {
	p := NewSortedPage(0)
	for _, k := range []string{"b", "d", "f", "h"} {
		p.AppendUnchecked(testSlot(k, "v"))
	}

	if idx := p.Find([]byte("d"), testKeyOf); idx != 1 {
		t.Fatalf("Find(d) = %d, want 1", idx)
	}
	if idx := p.Find([]byte("z"), testKeyOf); idx != -1 {
		t.Fatalf("Find(z) = %d, want -1", idx)
	}

	if idx := p.LowerBound([]byte("e"), testKeyOf, testCmp); idx != 2 {
		t.Fatalf("LowerBound(e) = %d, want 2", idx)
	}
	if idx := p.LowerBound([]byte("d"), testKeyOf, testCmp); idx != 1 {
		t.Fatalf("LowerBound(d) = %d, want 1", idx)
	}
	if idx := p.UpperBound([]byte("d"), testKeyOf, testCmp); idx != 2 {
		t.Fatalf("UpperBound(d) = %d, want 2", idx)
	}
	if idx := p.UpperBound([]byte("z"), testKeyOf, testCmp); idx != 4 {
		t.Fatalf("UpperBound(z) = %d, want 4", idx)
	}
}

func TestSortedPage_InsertBeforeShiftsLaterSlots(t *testing.T) {
	p := NewSortedPage(0)
	p.AppendUnchecked(testSlot("a", "1"))
	p.AppendUnchecked(testSlot("c", "3"))

	p.InsertBefore(1, testSlot("b", "2"))

	if p.SlotCount() != 3 {
		t.Fatalf("expected 3 slots after insert, got %d", p.SlotCount())
	}
	keys := []string{"a", "b", "c"}
	for i, want := range keys {
		if got := string(testKeyOf(p.Slot(i))); got != want {
			t.Fatalf("slot %d key = %q, want %q", i, got, want)
		}
	}
}

func TestSortedPage_ReplaceAndDelete(t *testing.T) {
	p := NewSortedPage(0)
	p.AppendUnchecked(testSlot("a", "1"))
	p.AppendUnchecked(testSlot("b", "2"))
	p.AppendUnchecked(testSlot("c", "3"))

	p.Replace(1, testSlot("b", "replaced-longer-value"))
	if got := string(p.Slot(1)[2+1:]); got != "replaced-longer-value" {
		t.Fatalf("replace mismatch: got %q", got)
	}

	p.DeleteSlot(0)
	if p.SlotCount() != 2 {
		t.Fatalf("expected 2 slots after delete, got %d", p.SlotCount())
	}
	if got := string(testKeyOf(p.Slot(0))); got != "b" {
		t.Fatalf("slot 0 after delete = %q, want b", got)
	}
}

func TestSortedPage_SpecialTrailerIsolated(t *testing.T) {
	p := NewSortedPage(8)
	special := []byte("12345678")
	p.WriteSpecial(special)
	p.AppendUnchecked(testSlot("x", "y"))

	if got := p.ReadSpecial(); !bytes.Equal(got, special) {
		t.Fatalf("special trailer corrupted by slot insert: got %v want %v", got, special)
	}
}

func TestSortedPage_FreeSpaceInvariantNeverNegative(t *testing.T) {
	p := NewSortedPage(16)
	for i := 0; i < 50 && p.IsInsertable(16); i++ {
		p.AppendUnchecked(testSlot("key", "0123456789"))
	}
	if p.freeSpace() < 0 {
		t.Fatalf("free space invariant violated: %d", p.freeSpace())
	}
}
