package pagestore

import "testing"

func TestMeta_MarshalRoundTrip(t *testing.T) {
	m := NewMeta()
	m.FreeListHead = 7
	m.FreePagesInHead = 3
	m.PageNum = 42

	buf := MarshalMeta(m)
	got, err := UnmarshalMeta(buf)
	if err != nil {
		t.Fatalf("UnmarshalMeta: %v", err)
	}
	if got.FreeListHead != m.FreeListHead {
		t.Errorf("FreeListHead = %d, want %d", got.FreeListHead, m.FreeListHead)
	}
	if got.FreePagesInHead != m.FreePagesInHead {
		t.Errorf("FreePagesInHead = %d, want %d", got.FreePagesInHead, m.FreePagesInHead)
	}
	if got.PageNum != m.PageNum {
		t.Errorf("PageNum = %d, want %d", got.PageNum, m.PageNum)
	}
	if got.InstanceID != m.InstanceID {
		t.Errorf("InstanceID mismatch: %x != %x", got.InstanceID, m.InstanceID)
	}
}

func TestUnmarshalMeta_RejectsWrongSize(t *testing.T) {
	if _, err := UnmarshalMeta(make([]byte, 10)); err == nil {
		t.Fatalf("expected error unmarshalling a short buffer")
	}
}
