package pagestore

import (
	"path/filepath"
	"testing"
)

func openTestManager(t *testing.T, capacity int) *PageManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	pm, err := Open(path, capacity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pm.Close() })
	return pm
}

func TestAllocate_NeverDoubleIssuesLivePgid(t *testing.T) {
	pm := openTestManager(t, 4)

	h1, err := pm.Allocate(PageTypePlain)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	h2, err := pm.Allocate(PageTypePlain)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if h1.ID() == h2.ID() {
		t.Fatalf("two live allocations returned the same pgid %d", h1.ID())
	}
	h1.Unpin()
	h2.Unpin()
}

func TestAllocate_ReusesFreedPgid(t *testing.T) {
	pm := openTestManager(t, 4)

	h, err := pm.Allocate(PageTypePlain)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	id := h.ID()
	h.Unpin()
	if err := pm.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}

	h2, err := pm.Allocate(PageTypePlain)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer h2.Unpin()
	if h2.ID() != id {
		t.Fatalf("expected freed pgid %d to be reused, got %d", id, h2.ID())
	}
}

func TestFree_RejectsPinnedPage(t *testing.T) {
	pm := openTestManager(t, 4)

	h, err := pm.Allocate(PageTypePlain)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer h.Unpin()

	if err := pm.Free(h.ID()); err == nil {
		t.Fatalf("expected Free on a pinned page to fail")
	}
}

func TestDirtyEvictReload_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	pm, err := Open(path, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	h, err := pm.Allocate(PageTypePlain)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	id := h.ID()
	copy(h.Bytes(), []byte("hello page"))
	h.MarkDirty()
	h.Unpin()

	// Force eviction by pinning enough other pages to exceed capacity.
	for i := 0; i < 4; i++ {
		extra, err := pm.Allocate(PageTypePlain)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		extra.Unpin()
	}

	h2, err := pm.GetPage(id, PageTypePlain)
	if err != nil {
		t.Fatalf("GetPage after eviction: %v", err)
	}
	defer h2.Unpin()
	got := string(h2.Bytes()[:len("hello page")])
	if got != "hello page" {
		t.Fatalf("round-trip mismatch after eviction: got %q", got)
	}
}

func TestBufferExhausted_WhenEverythingPinned(t *testing.T) {
	pm := openTestManager(t, 2)

	h1, err := pm.Allocate(PageTypePlain)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer h1.Unpin()
	h2, err := pm.Allocate(PageTypePlain)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer h2.Unpin()

	if _, err := pm.Allocate(PageTypePlain); err == nil {
		t.Fatalf("expected buffer exhaustion error with every frame pinned")
	}
}

func TestInstanceID_StableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	pm, err := Open(path, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := pm.InstanceID()
	if err := pm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pm2, err := Open(path, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer pm2.Close()
	if pm2.InstanceID() != id {
		t.Fatalf("instance ID changed across reopen: %x != %x", pm2.InstanceID(), id)
	}
}
