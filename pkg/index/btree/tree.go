package btree

import (
	"fmt"

	"dbkernel/pkg/dberrors"
	"dbkernel/pkg/logging"
	"dbkernel/pkg/primitives"
	"dbkernel/pkg/storage/buffer"
	"dbkernel/pkg/storage/page"
	"dbkernel/pkg/types"
)

// ErrDuplicateKey is returned by Insert when the key already exists;
// this index enforces uniqueness.
var ErrDuplicateKey = dberrors.New(dberrors.ErrCategoryUser, "BTREE_DUPLICATE_KEY", "key already exists")

// ErrKeyNotFound is returned by Delete when the key is absent.
var ErrKeyNotFound = dberrors.New(dberrors.ErrCategoryUser, "BTREE_KEY_NOT_FOUND", "key not found")

// Tree is a clustered B+-tree index over fixed-width keys, navigated
// with latch coupling through buffer pool page guards. The root is
// reached indirectly through a header page (page 0 of the tree's file),
// so root changes are a write-guarded rewrite of one page rather than a
// field mutation racing with concurrent readers.
type Tree struct {
	bpm         *buffer.Manager
	fileID      primitives.TableID
	codec       codec
	leafMax     int
	internalMax int
}

// Open opens (or initializes, if file is empty) a B+-tree over file via
// bpm. keyType selects Int64Field or StringField keys; stringMaxSize is
// only consulted for StringType.
func Open(file *page.File, bpm *buffer.Manager, keyType types.Type, stringMaxSize, leafMax, internalMax int) (*Tree, error) {
	n, err := file.NumPages()
	if err != nil {
		return nil, fmt.Errorf("btree: checking file size: %w", err)
	}

	keyLen, err := keyWidth(keyType, stringMaxSize)
	if err != nil {
		return nil, err
	}

	t := &Tree{
		bpm:         bpm,
		fileID:      file.ID(),
		codec:       codec{keyType: keyType, keyLen: keyLen, maxSize: stringMaxSize},
		leafMax:     leafMax,
		internalMax: internalMax,
	}

	if n == 0 {
		hg, err := bpm.NewPage()
		if err != nil {
			return nil, fmt.Errorf("btree: allocating header page: %w", err)
		}
		if hg.ID().PageNo() != headerPageNo {
			panic("btree: expected header page to be the first page of a fresh file")
		}
		writeRoot(hg.Page(), primitives.InvalidPageNumber)
		hg.MarkDirty()
		hg.Release()
	}

	return t, nil
}

func keyWidth(t types.Type, stringMaxSize int) (uint32, error) {
	switch t {
	case types.Int64Type:
		return 8, nil
	case types.StringType:
		return uint32(4 + stringMaxSize), nil
	default:
		return 0, fmt.Errorf("btree: unsupported key type %v", t)
	}
}

func (t *Tree) pid(pn primitives.PageNumber) page.ID { return page.NewID(t.fileID, pn) }

func (t *Tree) rootPageNo() (primitives.PageNumber, error) {
	g, err := t.bpm.FetchPageRead(headerID(t.fileID))
	if err != nil {
		return 0, err
	}
	defer g.Release()
	return readRoot(g.Page()), nil
}

func (t *Tree) swingRoot(newRoot primitives.PageNumber) error {
	g, err := t.bpm.FetchPageWrite(headerID(t.fileID))
	if err != nil {
		return err
	}
	defer g.Release()
	writeRoot(g.Page(), newRoot)
	logging.WithIndex(t.fileID.String()).Debug("root swung", "new_root", newRoot)
	return nil
}

func (t *Tree) allocLeaf(parent primitives.PageNumber) (*buffer.WriteGuard, *leafNode, error) {
	g, err := t.bpm.NewPage()
	if err != nil {
		return nil, nil, err
	}
	wg := g.UpgradeWrite()
	n := &leafNode{
		header:   nodeHeader{pageType: leafPageType, maxSize: t.leafMax, parent: parent, self: wg.ID().PageNo()},
		nextLeaf: primitives.InvalidPageNumber,
	}
	encodeLeaf(wg.Page().Data[:], n, t.codec)
	return wg, n, nil
}

func (t *Tree) allocInternal(parent primitives.PageNumber) (*buffer.WriteGuard, *internalNode, error) {
	g, err := t.bpm.NewPage()
	if err != nil {
		return nil, nil, err
	}
	wg := g.UpgradeWrite()
	n := &internalNode{
		header: nodeHeader{pageType: internalPageType, maxSize: t.internalMax, parent: parent, self: wg.ID().PageNo()},
	}
	encodeInternal(wg.Page().Data[:], n, t.codec)
	return wg, n, nil
}

func (t *Tree) reparentChild(pn, newParent primitives.PageNumber) error {
	g, err := t.bpm.FetchPageWrite(t.pid(pn))
	if err != nil {
		return err
	}
	data := g.Page().Data[:]
	if isLeafPage(data) {
		leaf := decodeLeaf(data, t.codec)
		leaf.header.parent = newParent
		encodeLeaf(data, leaf, t.codec)
	} else {
		internal := decodeInternal(data, t.codec)
		internal.header.parent = newParent
		encodeInternal(data, internal, t.codec)
	}
	g.Release()
	return nil
}

// ancestorFrame is one held write-guarded internal page on the
// latch-crabbing descent stack.
type ancestorFrame struct {
	guard *buffer.WriteGuard
	node  *internalNode
}

func releaseStack(stack []*ancestorFrame) {
	for _, f := range stack {
		f.guard.Release()
	}
}

// findChild returns the child page a search for key descends into: the
// largest index j with children[j].key <= key (or 0 if none), per
// spec's search rule.
func findChild(n *internalNode, key types.Field, c codec) primitives.PageNumber {
	for i := len(n.children) - 1; i >= 1; i-- {
		if le, _ := n.children[i].key.Compare(primitives.LessThanOrEqual, key); le {
			return n.children[i].child
		}
	}
	return n.children[0].child
}

func findChildIndex(n *internalNode, pn primitives.PageNumber) int {
	for i, c := range n.children {
		if c.child == pn {
			return i
		}
	}
	return -1
}

func findLeafIndex(n *leafNode, key types.Field) int {
	for i, e := range n.entries {
		if e.key.Equals(key) {
			return i
		}
	}
	return -1
}

func insertSortedLeaf(n *leafNode, key types.Field, rid primitives.RowID) {
	pos := len(n.entries)
	for i, e := range n.entries {
		if lt, _ := key.Compare(primitives.LessThan, e.key); lt {
			pos = i
			break
		}
	}
	entry := leafEntry{key: key, rid: rid}
	n.entries = append(n.entries[:pos], append([]leafEntry{entry}, n.entries[pos:]...)...)
}

func insertIntoInternal(n *internalNode, key types.Field, child primitives.PageNumber) {
	pos := len(n.children)
	for i := 1; i < len(n.children); i++ {
		if lt, _ := key.Compare(primitives.LessThan, n.children[i].key); lt {
			pos = i
			break
		}
	}
	entry := childEntry{key: key, child: child}
	n.children = append(n.children[:pos], append([]childEntry{entry}, n.children[pos:]...)...)
}

// Search returns the row id stored under key, if present.
func (t *Tree) Search(key types.Field) (primitives.RowID, bool, error) {
	root, err := t.rootPageNo()
	if err != nil {
		return 0, false, err
	}
	if root == primitives.InvalidPageNumber {
		return 0, false, nil
	}

	g, err := t.bpm.FetchPageRead(t.pid(root))
	if err != nil {
		return 0, false, err
	}

	for {
		data := g.Page().Data[:]
		if isLeafPage(data) {
			leaf := decodeLeaf(data, t.codec)
			idx := findLeafIndex(leaf, key)
			g.Release()
			if idx == -1 {
				return 0, false, nil
			}
			return leaf.entries[idx].rid, true, nil
		}

		internal := decodeInternal(data, t.codec)
		childPN := findChild(internal, key, t.codec)
		childGuard, err := t.bpm.FetchPageRead(t.pid(childPN))
		g.Release()
		if err != nil {
			return 0, false, err
		}
		g = childGuard
	}
}

// Insert adds (key, rid) to the index. Returns ErrDuplicateKey if key
// is already present, since this index enforces uniqueness.
func (t *Tree) Insert(key types.Field, rid primitives.RowID) error {
	root, err := t.rootPageNo()
	if err != nil {
		return err
	}

	if root == primitives.InvalidPageNumber {
		wg, leaf, err := t.allocLeaf(primitives.InvalidPageNumber)
		if err != nil {
			return err
		}
		insertSortedLeaf(leaf, key, rid)
		encodeLeaf(wg.Page().Data[:], leaf, t.codec)
		rootPN := wg.ID().PageNo()
		wg.Release()
		return t.swingRoot(rootPN)
	}

	var stack []*ancestorFrame
	g, err := t.bpm.FetchPageWrite(t.pid(root))
	if err != nil {
		return err
	}

	for {
		data := g.Page().Data[:]
		if isLeafPage(data) {
			leaf := decodeLeaf(data, t.codec)
			if findLeafIndex(leaf, key) != -1 {
				g.Release()
				releaseStack(stack)
				return ErrDuplicateKey
			}

			if len(leaf.entries) < t.leafMax {
				insertSortedLeaf(leaf, key, rid)
				encodeLeaf(data, leaf, t.codec)
				g.Release()
				releaseStack(stack)
				return nil
			}

			return t.splitLeafAndInsert(g, leaf, key, rid, stack)
		}

		internal := decodeInternal(data, t.codec)
		childPN := findChild(internal, key, t.codec)
		childGuard, err := t.bpm.FetchPageWrite(t.pid(childPN))
		if err != nil {
			g.Release()
			releaseStack(stack)
			return err
		}

		childData := childGuard.Page().Data[:]
		var safe bool
		if isLeafPage(childData) {
			safe = decodeLeaf(childData, t.codec).isSafeForInsert(t.leafMax)
		} else {
			safe = decodeInternal(childData, t.codec).isSafeForInsert(t.internalMax)
		}

		if safe {
			g.Release()
			releaseStack(stack)
			stack = nil
		} else {
			stack = append(stack, &ancestorFrame{guard: g, node: internal})
		}
		g = childGuard
	}
}

func (t *Tree) splitLeafAndInsert(leafGuard *buffer.WriteGuard, leaf *leafNode, key types.Field, rid primitives.RowID, stack []*ancestorFrame) error {
	insertSortedLeaf(leaf, key, rid)

	mid := len(leaf.entries) / 2
	leftEntries := leaf.entries[:mid]
	rightEntries := leaf.entries[mid:]
	parentPN := leaf.header.parent
	leftPN := leafGuard.ID().PageNo()

	rightGuard, rightLeaf, err := t.allocLeaf(parentPN)
	if err != nil {
		leafGuard.Release()
		releaseStack(stack)
		return err
	}

	rightLeaf.entries = rightEntries
	rightLeaf.nextLeaf = leaf.nextLeaf
	rightPN := rightGuard.ID().PageNo()

	leaf.entries = leftEntries
	leaf.nextLeaf = rightPN

	encodeLeaf(leafGuard.Page().Data[:], leaf, t.codec)
	encodeLeaf(rightGuard.Page().Data[:], rightLeaf, t.codec)
	sepKey := rightEntries[0].key

	leafGuard.Release()
	rightGuard.Release()

	logging.WithIndex(t.fileID.String()).Debug("leaf split", "left", leftPN, "right", rightPN, "separator", sepKey.String())

	if parentPN == primitives.InvalidPageNumber {
		releaseStack(stack)
		return t.createNewRoot(leftPN, sepKey, rightPN)
	}
	return t.propagateSplit(stack, sepKey, rightPN)
}

func (t *Tree) propagateSplit(stack []*ancestorFrame, sepKey types.Field, rightPN primitives.PageNumber) error {
	if len(stack) == 0 {
		panic("btree: propagateSplit called with no ancestor, but split node was not the root")
	}

	frame := stack[len(stack)-1]
	remaining := stack[:len(stack)-1]
	parent := frame.node

	if len(parent.children)-1 < t.internalMax {
		insertIntoInternal(parent, sepKey, rightPN)
		encodeInternal(frame.guard.Page().Data[:], parent, t.codec)
		if err := t.reparentChild(rightPN, frame.guard.ID().PageNo()); err != nil {
			frame.guard.Release()
			releaseStack(remaining)
			return err
		}
		frame.guard.Release()
		releaseStack(remaining)
		return nil
	}

	return t.splitInternalAndPropagate(frame, parent, sepKey, rightPN, remaining)
}

func (t *Tree) splitInternalAndPropagate(frame *ancestorFrame, parent *internalNode, sepKey types.Field, rightChildPN primitives.PageNumber, remaining []*ancestorFrame) error {
	insertIntoInternal(parent, sepKey, rightChildPN)

	mid := len(parent.children) / 2
	leftChildren := parent.children[:mid]
	middleKey := parent.children[mid].key
	rightChildren := parent.children[mid:]
	rightChildren[0] = childEntry{key: nil, child: rightChildren[0].child}

	parent.children = leftChildren
	leftPN := frame.guard.ID().PageNo()
	grandparentPN := parent.header.parent

	rightGuard, rightNode, err := t.allocInternal(grandparentPN)
	if err != nil {
		frame.guard.Release()
		releaseStack(remaining)
		return err
	}
	rightNode.children = rightChildren
	rightPN := rightGuard.ID().PageNo()

	encodeInternal(frame.guard.Page().Data[:], parent, t.codec)
	encodeInternal(rightGuard.Page().Data[:], rightNode, t.codec)

	for _, ch := range rightChildren {
		if err := t.reparentChild(ch.child, rightPN); err != nil {
			frame.guard.Release()
			rightGuard.Release()
			releaseStack(remaining)
			return err
		}
	}

	frame.guard.Release()
	rightGuard.Release()

	logging.WithIndex(t.fileID.String()).Debug("internal split", "left", leftPN, "right", rightPN, "middle", middleKey.String())

	if grandparentPN == primitives.InvalidPageNumber {
		releaseStack(remaining)
		return t.createNewRoot(leftPN, middleKey, rightPN)
	}
	return t.propagateSplit(remaining, middleKey, rightPN)
}

func (t *Tree) createNewRoot(leftPN primitives.PageNumber, sepKey types.Field, rightPN primitives.PageNumber) error {
	wg, node, err := t.allocInternal(primitives.InvalidPageNumber)
	if err != nil {
		return err
	}
	node.children = []childEntry{{key: nil, child: leftPN}, {key: sepKey, child: rightPN}}
	encodeInternal(wg.Page().Data[:], node, t.codec)
	newRootPN := wg.ID().PageNo()
	wg.Release()

	if err := t.reparentChild(leftPN, newRootPN); err != nil {
		return err
	}
	if err := t.reparentChild(rightPN, newRootPN); err != nil {
		return err
	}

	logging.WithIndex(t.fileID.String()).Debug("new root", "root", newRootPN)
	return t.swingRoot(newRootPN)
}
