// Package btree implements the clustered B+-tree index: page-resident
// internal and leaf nodes navigated with latch coupling over buffer
// pool page guards, a dynamically-allocated root reached through a
// single header page, and a leaf-chain iterator for range scans.
// Adapted from the teacher's pkg/storage/index/btree (BTreePage shape,
// parent/self page-id bookkeeping, split/borrow/merge algorithms) but
// rewritten end to end for latch-crabbing concurrency, a fixed 24-byte
// page header, and pkg/types.Field keys in place of the teacher's two
// incompatible entry representations (btree.go's lowercase `entries`/
// `children` fields never matched btree_page.go's exported `Entries`/
// `InternalPages` — the package as retrieved does not compile).
package btree

import (
	"encoding/binary"
	"fmt"

	"dbkernel/pkg/primitives"
	"dbkernel/pkg/types"
)

const (
	leafPageType     uint32 = 1
	internalPageType uint32 = 2

	// headerSize is the 24-byte common node header: page-type, LSN,
	// current-size, max-size, parent-page-id, self-page-id, 4 bytes each.
	headerSize = 24

	// leafNextPointerSize is the next-leaf page number stored immediately
	// after the common header on leaf pages only; internal pages have no
	// such field and their payload starts right at headerSize.
	leafNextPointerSize = 4

	leafPayloadOffset     = headerSize + leafNextPointerSize
	internalPayloadOffset = headerSize
)

// nodeHeader is the decoded form of a node page's fixed 24-byte header.
type nodeHeader struct {
	pageType uint32
	lsn      uint32
	size     int
	maxSize  int
	parent   primitives.PageNumber
	self     primitives.PageNumber
}

func decodeHeader(data []byte) nodeHeader {
	return nodeHeader{
		pageType: binary.BigEndian.Uint32(data[0:4]),
		lsn:      binary.BigEndian.Uint32(data[4:8]),
		size:     int(binary.BigEndian.Uint32(data[8:12])),
		maxSize:  int(binary.BigEndian.Uint32(data[12:16])),
		parent:   primitives.PageNumber(binary.BigEndian.Uint32(data[16:20])),
		self:     primitives.PageNumber(binary.BigEndian.Uint32(data[20:24])),
	}
}

func encodeHeader(data []byte, h nodeHeader) {
	binary.BigEndian.PutUint32(data[0:4], h.pageType)
	binary.BigEndian.PutUint32(data[4:8], h.lsn)
	binary.BigEndian.PutUint32(data[8:12], uint32(h.size))
	binary.BigEndian.PutUint32(data[12:16], uint32(h.maxSize))
	binary.BigEndian.PutUint32(data[16:20], uint32(h.parent))
	binary.BigEndian.PutUint32(data[20:24], uint32(h.self))
}

func isLeafPage(data []byte) bool {
	return binary.BigEndian.Uint32(data[0:4]) == leafPageType
}

// codec fixes the key width and type for one tree, so every node it
// decodes/encodes uses the same fixed-width key slot.
type codec struct {
	keyType types.Type
	keyLen  uint32
	maxSize int // StringField fixed width; unused for Int64Type
}

func (c codec) decodeKey(b []byte) types.Field {
	switch c.keyType {
	case types.Int64Type:
		return types.DecodeInt64Field(b)
	case types.StringType:
		return types.DecodeStringField(b, c.maxSize)
	default:
		panic(fmt.Sprintf("btree: unknown key type %v", c.keyType))
	}
}

func (c codec) encodeKey(b []byte, key types.Field) {
	buf := newFixedWriter(b)
	if err := key.Serialize(buf); err != nil {
		panic(fmt.Sprintf("btree: serializing key: %v", err))
	}
}

// fixedWriter adapts a fixed-width byte slice to io.Writer for
// Field.Serialize, which always writes exactly Length() bytes.
type fixedWriter struct {
	buf []byte
	pos int
}

func newFixedWriter(buf []byte) *fixedWriter { return &fixedWriter{buf: buf} }

func (w *fixedWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

// leafEntry is one (key, row) pair in a leaf's sorted payload.
type leafEntry struct {
	key types.Field
	rid primitives.RowID
}

// childEntry is one (separator key, child page) pair in an internal
// node's payload. The entry at index 0 carries no meaningful key.
type childEntry struct {
	key   types.Field
	child primitives.PageNumber
}

// leafNode is the decoded, mutable form of a leaf page.
type leafNode struct {
	header   nodeHeader
	entries  []leafEntry
	nextLeaf primitives.PageNumber
}

// internalNode is the decoded, mutable form of an internal page.
type internalNode struct {
	header   nodeHeader
	children []childEntry
}

func (c codec) leafSlotSize() int {
	return int(c.keyLen) + 8
}

func (c codec) internalSlotSize() int {
	return int(c.keyLen) + 4
}

func decodeLeaf(data []byte, c codec) *leafNode {
	h := decodeHeader(data)
	next := primitives.PageNumber(binary.BigEndian.Uint32(data[headerSize : headerSize+leafNextPointerSize]))

	entries := make([]leafEntry, h.size)
	slot := c.leafSlotSize()
	for i := 0; i < h.size; i++ {
		off := leafPayloadOffset + i*slot
		key := c.decodeKey(data[off : off+int(c.keyLen)])
		rid := primitives.RowID(binary.BigEndian.Uint64(data[off+int(c.keyLen) : off+slot]))
		entries[i] = leafEntry{key: key, rid: rid}
	}

	return &leafNode{header: h, entries: entries, nextLeaf: next}
}

func encodeLeaf(data []byte, n *leafNode, c codec) {
	n.header.pageType = leafPageType
	n.header.size = len(n.entries)
	encodeHeader(data, n.header)
	binary.BigEndian.PutUint32(data[headerSize:headerSize+leafNextPointerSize], uint32(n.nextLeaf))

	slot := c.leafSlotSize()
	for i, e := range n.entries {
		off := leafPayloadOffset + i*slot
		clear(data[off:off+slot])
		c.encodeKey(data[off:off+int(c.keyLen)], e.key)
		binary.BigEndian.PutUint64(data[off+int(c.keyLen):off+slot], uint64(e.rid))
	}
}

func decodeInternal(data []byte, c codec) *internalNode {
	h := decodeHeader(data)
	numChildren := h.size + 1
	children := make([]childEntry, numChildren)
	slot := c.internalSlotSize()

	for i := 0; i < numChildren; i++ {
		off := internalPayloadOffset + i*slot
		child := primitives.PageNumber(binary.BigEndian.Uint32(data[off+int(c.keyLen) : off+slot]))
		var key types.Field
		if i > 0 {
			key = c.decodeKey(data[off : off+int(c.keyLen)])
		}
		children[i] = childEntry{key: key, child: child}
	}

	return &internalNode{header: h, children: children}
}

func encodeInternal(data []byte, n *internalNode, c codec) {
	n.header.pageType = internalPageType
	n.header.size = len(n.children) - 1
	encodeHeader(data, n.header)

	slot := c.internalSlotSize()
	for i, ch := range n.children {
		off := internalPayloadOffset + i*slot
		clear(data[off : off+slot])
		if i > 0 {
			c.encodeKey(data[off:off+int(c.keyLen)], ch.key)
		}
		binary.BigEndian.PutUint32(data[off+int(c.keyLen):off+slot], uint32(ch.child))
	}
}

func (n *leafNode) isFull(maxSize int) bool     { return len(n.entries) >= maxSize }
func (n *internalNode) isFull(maxSize int) bool { return len(n.children)-1 >= maxSize }

// isSafeForInsert reports whether this node can absorb one more entry
// without splitting, the latch-crabbing "safety" test on the way down.
func (n *leafNode) isSafeForInsert(maxSize int) bool     { return len(n.entries) < maxSize }
func (n *internalNode) isSafeForInsert(maxSize int) bool { return len(n.children)-1 < maxSize }

// minSize is the half-full lower bound spec 3 imposes on non-root nodes:
// ceil((maxSize-1)/2) keys for a leaf, ceil(maxSize/2) children for an
// internal node.
func leafMinSize(maxSize int) int         { return maxSize / 2 }
func internalMinChildren(maxSize int) int { return (maxSize + 1) / 2 }

// isSafeForDelete reports whether removing one entry still leaves this
// non-root node above its minimum, the latch-crabbing safety test for
// delete: strictly greater than minimum, not equal.
func (n *leafNode) isSafeForDelete(maxSize int) bool {
	return len(n.entries) > leafMinSize(maxSize)
}
func (n *internalNode) isSafeForDelete(maxSize int) bool {
	return len(n.children) > internalMinChildren(maxSize)
}
