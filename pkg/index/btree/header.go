package btree

import (
	"encoding/binary"

	"dbkernel/pkg/primitives"
	"dbkernel/pkg/storage/page"
)

// headerPageNo is the fixed page number of the tree's root-pointer page,
// reserved by allocating it first when a tree is opened on a fresh file
// (spec's "dynamic allocation with a single header page" resolution of
// the root-pointer Open Question). Page number 0 can therefore never
// hold a real node, which doubles as the sentinel parent/next-leaf value
// those fields use for "none".
const headerPageNo primitives.PageNumber = 0

func headerID(fileID primitives.TableID) page.ID {
	return page.NewID(fileID, headerPageNo)
}

func readRoot(p *page.Page) primitives.PageNumber {
	return primitives.PageNumber(binary.BigEndian.Uint64(p.Data[0:8]))
}

func writeRoot(p *page.Page, root primitives.PageNumber) {
	binary.BigEndian.PutUint64(p.Data[0:8], uint64(root))
}
