package pagestore

import (
	"fmt"

	"github.com/google/uuid"
)

// ───────────────────────────────────────────────────────────────────────────
// Meta page (pgid 0)
// ───────────────────────────────────────────────────────────────────────────
//
// Layout:
//   [0:4]   FreeListHead     (pgid)
//   [4:8]   FreePagesInHead  (pgid-sized counter; entries currently used
//                             in the head free-list page)
//   [8:12]  PageNum          (pgid) — total pages ever allocated (next
//                             fresh pgid when the free list is empty)
//   [12:28] InstanceID       (16 bytes) — random identifier stamped at
//                             creation time and exposed through
//                             PageManager.InstanceID(); reopening a file
//                             loads it without comparing it to anything.

const (
	metaFreeListHeadOff    = 0
	metaFreePagesInHeadOff = 4
	metaPageNumOff         = 8
	metaInstanceIDOff      = 12
	metaInstanceIDLen      = 16
)

// Meta mirrors the manager's meta page (pgid 0) in memory.
type Meta struct {
	FreeListHead    PageID
	FreePagesInHead uint32
	PageNum         uint32
	InstanceID      [16]byte
}

// NewMeta builds a fresh meta page for a brand-new database file: two
// pages are already spoken for (the meta page itself and the super page),
// so PageNum starts at 2.
func NewMeta() *Meta {
	m := &Meta{
		FreeListHead:    InvalidPageID,
		FreePagesInHead: 0,
		PageNum:         2,
	}
	id := uuid.New()
	copy(m.InstanceID[:], id[:])
	return m
}

// MarshalMeta writes m into a PageSize buffer.
func MarshalMeta(m *Meta) []byte {
	buf := newZeroPage()
	PutUint32(buf, metaFreeListHeadOff, uint32(m.FreeListHead))
	PutUint32(buf, metaFreePagesInHeadOff, m.FreePagesInHead)
	PutUint32(buf, metaPageNumOff, m.PageNum)
	copy(buf[metaInstanceIDOff:metaInstanceIDOff+metaInstanceIDLen], m.InstanceID[:])
	return buf
}

// UnmarshalMeta parses a meta page buffer.
func UnmarshalMeta(buf []byte) (*Meta, error) {
	if len(buf) != PageSize {
		return nil, fmt.Errorf("pagestore: meta page must be %d bytes, got %d", PageSize, len(buf))
	}
	m := &Meta{
		FreeListHead:    PageID(GetUint32(buf, metaFreeListHeadOff)),
		FreePagesInHead: GetUint32(buf, metaFreePagesInHeadOff),
		PageNum:         GetUint32(buf, metaPageNumOff),
	}
	copy(m.InstanceID[:], buf[metaInstanceIDOff:metaInstanceIDOff+metaInstanceIDLen])
	return m, nil
}
