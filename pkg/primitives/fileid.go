package primitives

import "fmt"

// FileID Methods
// =============================================================================

// IsValid checks if the FileID is a valid non-zero identifier.
// A FileID of 0 is typically considered invalid or uninitialized.
func (f FileID) IsValid() bool {
	return f != 0
}

// AsUint64 returns the FileID as a uint64 for serialization or storage.
func (f FileID) AsUint64() uint64 {
	return uint64(f)
}

// String returns a string representation of the FileID.
func (f FileID) String() string {
	return fmt.Sprintf("FileID(%d)", f)
}

// NewFileIDFromUint64 builds a FileID from a raw uint64, e.g. a value read
// back out of a catalog entry or a directory page.
func NewFileIDFromUint64(v uint64) FileID {
	return FileID(v)
}

// TableID and IndexID Methods
// =============================================================================
//
// TableID and IndexID are both FileID underneath: a table's data file and
// an index's data file are identified the same way, just tagged so the
// buffer pool and lock manager can't be handed one where the other belongs.

// TableID identifies the physical file backing a table's heap pages.
type TableID FileID

// IndexID identifies the physical file backing a B+-tree's pages.
type IndexID FileID

func NewTableIDFromUint64(v uint64) TableID { return TableID(v) }
func NewIndexIDFromUint64(v uint64) IndexID { return IndexID(v) }

func NewTableIDFromFileID(f FileID) TableID { return TableID(f) }
func NewIndexIDFromFileID(f FileID) IndexID { return IndexID(f) }

func (t TableID) ToFileID() FileID   { return FileID(t) }
func (t TableID) IsValid() bool      { return t != 0 }
func (t TableID) AsUint64() uint64   { return uint64(t) }
func (t TableID) String() string     { return fmt.Sprintf("TableID(%d)", t) }
func (t TableID) AsIndexID() IndexID { return IndexID(t) }

func (i IndexID) ToFileID() FileID   { return FileID(i) }
func (i IndexID) IsValid() bool      { return i != 0 }
func (i IndexID) AsUint64() uint64   { return uint64(i) }
func (i IndexID) String() string     { return fmt.Sprintf("IndexID(%d)", i) }
func (i IndexID) AsTableID() TableID { return TableID(i) }
