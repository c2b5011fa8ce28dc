// Package page defines the fixed-size on-disk page abstraction the buffer
// pool manager mediates access to, and the disk-backed file that actually
// persists page bytes. It has no notion of what a page's payload means;
// that is pkg/index/btree's job.
package page

import (
	"sync"

	"dbkernel/pkg/primitives"
)

// Size is the fixed byte size of every page in this kernel, matching the
// spec's 4 KiB page with a 24-byte B+-tree header.
const Size = 4096

// Page is the in-memory representation of one resident page: a fixed
// byte buffer, the pin count and dirty bit the buffer pool tracks on its
// behalf (mutated only while the BPM's internal lock is held), and the
// page's own read/write latch, which is independent of the BPM's lock
// and provides the intra-page concurrency latch coupling relies on. The
// page's own content format (B+-tree internal/leaf header + payload) is
// interpreted by pkg/index/btree, not here.
type Page struct {
	ID       ID
	Data     [Size]byte
	Dirty    bool
	PinCount int

	Latch sync.RWMutex
}

// NewPage returns a zeroed page with the given id.
func NewPage(id ID) *Page {
	return &Page{ID: id}
}

// CopyFrom overwrites this page's buffer with the given bytes, panicking
// if the slice isn't exactly Size — a mismatch here can only be a
// programmer error upstream (reading or allocating the wrong width).
func (p *Page) CopyFrom(b []byte) {
	if len(b) != Size {
		panic("page: CopyFrom requires exactly Size bytes")
	}
	copy(p.Data[:], b)
}

// Reset clears the page for reuse in a freshly assigned frame. Per the
// spec's eviction contract, a reused frame's metadata (page-id, dirty
// flag, buffer) is fully reset before it is handed to a new page.
func (p *Page) Reset(id ID) {
	p.ID = id
	p.Dirty = false
	p.PinCount = 0
	for i := range p.Data {
		p.Data[i] = 0
	}
}

var _ primitives.PageID = ID{}
