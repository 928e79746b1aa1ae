package pagestore

import (
	"io"
	"os"
	"sync"

	"github.com/kvrel/dbcore/internal/dberrors"
)

// ───────────────────────────────────────────────────────────────────────────
// PageManager: buffer pool over a single backing file
// ───────────────────────────────────────────────────────────────────────────
//
// Every frame is either unpinned (refcount 0, evictable) or pinned by one or
// more live Handles. Eviction is FIFO over the unpinned set: the manager
// tracks arrival order and evicts the oldest unpinned frame first, not the
// least-recently-used one — a deliberate simplification the engine's own
// access patterns (mostly short-lived tree descents) don't punish the way
// an LRU-shaped workload would.
//
// A single mutex (latch) serializes every buffer-pool operation; this is
// coarse on purpose, matching spec.md's "keep the locking model boring"
// posture for pagestore. The B+-tree takes no page latches of its own;
// concurrent access to rows is ordered by the transaction manager's locks.

type frame struct {
	buf     []byte
	dirty   bool
	pinned  int
	arrival uint64
}

// Handle is a pinned reference to a page's buffer. Callers must call
// Unpin when done; Dirty marks the frame for write-back on eviction/Flush.
type Handle struct {
	mgr  *PageManager
	id   PageID
	kind PageType
}

// ID returns the pinned page's identifier.
func (h *Handle) ID() PageID { return h.id }

// Bytes returns the frame's buffer for direct read/write.
func (h *Handle) Bytes() []byte {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	return h.mgr.frames[h.id].buf
}

// MarkDirty flags the frame to be written back on eviction or Flush.
func (h *Handle) MarkDirty() {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	h.mgr.frames[h.id].dirty = true
}

// Unpin releases this handle's pin on the page.
func (h *Handle) Unpin() {
	h.mgr.unpin(h.id)
}

// PageManager is the fixed-capacity buffer pool plus backing-file I/O.
type PageManager struct {
	mu       sync.Mutex
	file     *os.File
	capacity int
	frames   map[PageID]*frame
	fifo     []PageID // arrival order of currently resident frames
	clock    uint64
	meta     *Meta
	free     *freeList
}

// Open opens (or creates) a database file at path with the given buffer
// pool capacity (must be >= 2: at least the meta page and one working page
// need to be resident simultaneously).
func Open(path string, capacity int) (*PageManager, error) {
	if capacity < 2 {
		return nil, dberrors.Wrap(dberrors.IoError, "pagestore: buffer pool capacity must be >= 2, got %d", capacity)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IoError, "pagestore: open %s: %v", path, err)
	}
	pm := &PageManager{
		file:     f,
		capacity: capacity,
		frames:   make(map[PageID]*frame),
		free:     newFreeList(),
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dberrors.Wrap(dberrors.IoError, "pagestore: stat %s: %v", path, err)
	}
	if info.Size() == 0 {
		if err := pm.initFresh(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := pm.loadExisting(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return pm, nil
}

func (pm *PageManager) initFresh() error {
	pm.meta = NewMeta()
	if err := pm.writePageRaw(MetaPageID, MarshalMeta(pm.meta)); err != nil {
		return err
	}
	if err := pm.writePageRaw(SuperPageID, newZeroPage()); err != nil {
		return err
	}
	return nil
}

func (pm *PageManager) loadExisting() error {
	buf, err := pm.readPageRaw(MetaPageID)
	if err != nil {
		return err
	}
	meta, err := UnmarshalMeta(buf)
	if err != nil {
		return dberrors.Wrap(dberrors.IoError, "pagestore: corrupt meta page: %v", err)
	}
	pm.meta = meta
	return pm.loadFreeList()
}

func (pm *PageManager) loadFreeList() error {
	head := pm.meta.FreeListHead
	remaining := int(pm.meta.FreePagesInHead)
	for head != InvalidPageID {
		buf, err := pm.readPageRaw(head)
		if err != nil {
			return err
		}
		chunk, next, err := unmarshalFreeListPage(buf, remaining)
		if err != nil {
			return dberrors.Wrap(dberrors.IoError, "pagestore: corrupt free-list page %d: %v", head, err)
		}
		for _, id := range chunk {
			pm.free.Free(id)
		}
		head = next
		remaining = freeListCapacity // every page after the head is assumed full
	}
	return nil
}

// Close flushes the free list and meta page and closes the backing file.
func (pm *PageManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if err := pm.flushFreeListLocked(); err != nil {
		return err
	}
	for id, fr := range pm.frames {
		if fr.dirty {
			if err := pm.writePageRaw(id, fr.buf); err != nil {
				return err
			}
		}
	}
	if err := pm.writePageRaw(MetaPageID, MarshalMeta(pm.meta)); err != nil {
		return err
	}
	return pm.file.Close()
}

func (pm *PageManager) flushFreeListLocked() error {
	ids := pm.free.ids
	if len(ids) == 0 {
		pm.meta.FreeListHead = InvalidPageID
		pm.meta.FreePagesInHead = 0
		return nil
	}
	var next PageID = InvalidPageID
	for len(ids) > 0 {
		n := len(ids)
		if n > freeListCapacity {
			n = freeListCapacity
		}
		chunk := ids[:n]
		ids = ids[n:]
		pgid := PageID(pm.meta.PageNum)
		pm.meta.PageNum++
		if err := pm.writePageRaw(pgid, marshalFreeListPage(chunk, next)); err != nil {
			return err
		}
		next = pgid
		if len(ids) == 0 {
			pm.meta.FreePagesInHead = uint32(n)
		}
	}
	pm.meta.FreeListHead = next
	return nil
}

func (pm *PageManager) readPageRaw(id PageID) ([]byte, error) {
	buf := make([]byte, PageSize)
	off := int64(id) * PageSize
	if _, err := pm.file.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, dberrors.Wrap(dberrors.IoError, "pagestore: read page %d: %v", id, err)
	}
	return buf, nil
}

func (pm *PageManager) writePageRaw(id PageID, buf []byte) error {
	off := int64(id) * PageSize
	if _, err := pm.file.WriteAt(buf, off); err != nil {
		return dberrors.Wrap(dberrors.IoError, "pagestore: write page %d: %v", id, err)
	}
	return nil
}

// Allocate reserves a fresh page (from the free list if one is available,
// otherwise by extending the file) and returns a pinned handle to it.
func (pm *PageManager) Allocate(kind PageType) (*Handle, error) {
	pm.mu.Lock()
	id := pm.free.Alloc()
	if id == InvalidPageID {
		id = PageID(pm.meta.PageNum)
		pm.meta.PageNum++
	}
	pm.mu.Unlock()
	return pm.pin(id, kind, true)
}

// Free releases pgid back to the free list. It is an error to free a page
// that is currently pinned.
func (pm *PageManager) Free(id PageID) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if fr, ok := pm.frames[id]; ok {
		if fr.pinned > 0 {
			return dberrors.Wrap(dberrors.IoError, "pagestore: cannot free pinned page %d", id)
		}
		delete(pm.frames, id)
		pm.removeFIFOLocked(id)
	}
	pm.free.Free(id)
	return nil
}

// GetPage pins and returns a handle to id, loading it from disk if it is
// not already resident.
func (pm *PageManager) GetPage(id PageID, kind PageType) (*Handle, error) {
	return pm.pin(id, kind, false)
}

func (pm *PageManager) pin(id PageID, kind PageType, fresh bool) (*Handle, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if fr, ok := pm.frames[id]; ok {
		fr.pinned++
		return &Handle{mgr: pm, id: id, kind: kind}, nil
	}
	if err := pm.ensureCapacityLocked(); err != nil {
		return nil, err
	}
	var buf []byte
	if fresh {
		buf = newZeroPage()
	} else {
		b, err := pm.readPageRaw(id)
		if err != nil {
			return nil, err
		}
		buf = b
	}
	pm.clock++
	pm.frames[id] = &frame{buf: buf, pinned: 1, arrival: pm.clock, dirty: fresh}
	pm.fifo = append(pm.fifo, id)
	return &Handle{mgr: pm, id: id, kind: kind}, nil
}

// ensureCapacityLocked evicts the oldest unpinned resident frame(s) until
// there is room for one more, or returns BufferExhausted if every resident
// frame is pinned.
func (pm *PageManager) ensureCapacityLocked() error {
	if len(pm.frames) < pm.capacity {
		return nil
	}
	for i, id := range pm.fifo {
		fr := pm.frames[id]
		if fr.pinned > 0 {
			continue
		}
		if fr.dirty {
			if err := pm.writePageRaw(id, fr.buf); err != nil {
				return err
			}
		}
		delete(pm.frames, id)
		pm.fifo = append(pm.fifo[:i:i], pm.fifo[i+1:]...)
		return nil
	}
	return dberrors.Wrap(dberrors.BufferExhausted, "pagestore: buffer pool exhausted at capacity %d", pm.capacity)
}

func (pm *PageManager) removeFIFOLocked(id PageID) {
	for i, v := range pm.fifo {
		if v == id {
			pm.fifo = append(pm.fifo[:i:i], pm.fifo[i+1:]...)
			return
		}
	}
}

func (pm *PageManager) unpin(id PageID) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	fr, ok := pm.frames[id]
	if !ok {
		return
	}
	if fr.pinned > 0 {
		fr.pinned--
	}
}

// InstanceID returns the random identifier stamped into this database
// file's meta page at creation time.
func (pm *PageManager) InstanceID() [16]byte {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.meta.InstanceID
}

// Flush writes every dirty resident frame and the meta page back to disk
// without closing the file.
func (pm *PageManager) Flush() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for id, fr := range pm.frames {
		if fr.dirty {
			if err := pm.writePageRaw(id, fr.buf); err != nil {
				return err
			}
			fr.dirty = false
		}
	}
	return pm.writePageRaw(MetaPageID, MarshalMeta(pm.meta))
}

// SuperPage pins the reserved super page (pgid 1) holding user metadata.
func (pm *PageManager) SuperPage() (*Handle, error) {
	return pm.GetPage(SuperPageID, PageTypePlain)
}
