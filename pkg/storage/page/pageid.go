package page

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"dbkernel/pkg/primitives"
)

// ID identifies a page within a specific backing file. The heap-file and
// catalog layers that would normally hand out TableIDs are out of scope
// for this kernel, so the only file an ID ever names is a B+-tree index's
// own data file (including its header page); the TableID field is kept
// for symmetry with primitives.PageID rather than to distinguish table
// pages from index pages.
type ID struct {
	tableID primitives.TableID
	pageNum primitives.PageNumber
}

// NewID constructs a page id within the given file.
func NewID(tableID primitives.TableID, pageNum primitives.PageNumber) ID {
	return ID{tableID: tableID, pageNum: pageNum}
}

func (id ID) GetTableID() primitives.TableID { return id.tableID }

func (id ID) PageNo() primitives.PageNumber { return id.pageNum }

func (id ID) Serialize() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(id.tableID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(id.pageNum))
	return buf
}

func (id ID) Equals(other primitives.PageID) bool {
	if other == nil {
		return false
	}
	return id.tableID == other.GetTableID() && id.pageNum == other.PageNo()
}

func (id ID) String() string {
	return fmt.Sprintf("PageID(file=%d, page=%d)", id.tableID, id.pageNum)
}

func (id ID) HashCode() primitives.HashCode {
	h := fnv.New64a()
	h.Write(id.Serialize())
	return primitives.HashCode(h.Sum64())
}

// Invalid is the distinguished "no such page" id, used by the buffer pool
// to mark a frame that holds no page. The B+-tree's "no next leaf" and
// "no parent" sentinels are primitives.InvalidPageNumber, not this id.
var Invalid = ID{tableID: 0, pageNum: primitives.InvalidPageNumber}

func (id ID) IsValid() bool { return id.tableID != 0 }
