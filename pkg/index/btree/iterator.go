package btree

import (
	"dbkernel/pkg/primitives"
	"dbkernel/pkg/storage/buffer"
	"dbkernel/pkg/types"
)

// Iterator walks the leaf chain left to right. It holds a read latch on
// exactly one leaf at a time; advancing past the last entry of that leaf
// fetches the next one (following the leaf's next-leaf pointer) and
// releases the old guard. Per spec 4.4.4, mutation of the tree while an
// iterator is live is undefined: the iterator only promises a consistent
// view against concurrent readers, not against concurrent writers.
type Iterator struct {
	tree *Tree
	guard *buffer.ReadGuard
	leaf  *leafNode
	idx   int
	done  bool
}

// Begin returns an iterator positioned at the first entry with a key
// greater than or equal to key.
func (t *Tree) Begin(key types.Field) (*Iterator, error) {
	root, err := t.rootPageNo()
	if err != nil {
		return nil, err
	}
	if root == primitives.InvalidPageNumber {
		return &Iterator{done: true}, nil
	}

	g, err := t.bpm.FetchPageRead(t.pid(root))
	if err != nil {
		return nil, err
	}

	for {
		data := g.Page().Data[:]
		if isLeafPage(data) {
			leaf := decodeLeaf(data, t.codec)
			idx := 0
			for idx < len(leaf.entries) {
				ge, _ := leaf.entries[idx].key.Compare(primitives.GreaterThanOrEqual, key)
				if ge {
					break
				}
				idx++
			}
			it := &Iterator{tree: t, guard: g, leaf: leaf, idx: idx}
			it.skipExhaustedLeaves()
			return it, nil
		}

		internal := decodeInternal(data, t.codec)
		childPN := findChild(internal, key, t.codec)
		childGuard, err := t.bpm.FetchPageRead(t.pid(childPN))
		g.Release()
		if err != nil {
			return nil, err
		}
		g = childGuard
	}
}

// BeginFirst returns an iterator positioned at the tree's first entry.
func (t *Tree) BeginFirst() (*Iterator, error) {
	root, err := t.rootPageNo()
	if err != nil {
		return nil, err
	}
	if root == primitives.InvalidPageNumber {
		return &Iterator{done: true}, nil
	}

	g, err := t.bpm.FetchPageRead(t.pid(root))
	if err != nil {
		return nil, err
	}

	for {
		data := g.Page().Data[:]
		if isLeafPage(data) {
			leaf := decodeLeaf(data, t.codec)
			it := &Iterator{tree: t, guard: g, leaf: leaf, idx: 0}
			it.skipExhaustedLeaves()
			return it, nil
		}

		internal := decodeInternal(data, t.codec)
		childPN := internal.children[0].child
		childGuard, err := t.bpm.FetchPageRead(t.pid(childPN))
		g.Release()
		if err != nil {
			return nil, err
		}
		g = childGuard
	}
}

// skipExhaustedLeaves advances past any leaf (possible but rare: an
// empty leftmost leaf momentarily mid-merge) whose current position has
// already run off its entries, following next-leaf pointers until a
// non-empty position is found or the chain ends.
func (it *Iterator) skipExhaustedLeaves() {
	for !it.done && it.idx >= len(it.leaf.entries) {
		it.advanceLeaf()
	}
}

func (it *Iterator) advanceLeaf() {
	if it.leaf.nextLeaf == primitives.InvalidPageNumber {
		it.done = true
		it.guard.Release()
		it.guard = nil
		return
	}

	nextGuard, err := it.tree.bpm.FetchPageRead(it.tree.pid(it.leaf.nextLeaf))
	it.guard.Release()
	if err != nil {
		it.done = true
		it.guard = nil
		return
	}

	it.guard = nextGuard
	it.leaf = decodeLeaf(nextGuard.Page().Data[:], it.tree.codec)
	it.idx = 0
}

// Valid reports whether Key/Value address a live entry.
func (it *Iterator) Valid() bool { return !it.done }

func (it *Iterator) Key() types.Field        { return it.leaf.entries[it.idx].key }
func (it *Iterator) Value() primitives.RowID { return it.leaf.entries[it.idx].rid }

// Next advances to the following entry, crossing into the next leaf and
// releasing the current one if this leaf is exhausted.
func (it *Iterator) Next() error {
	if it.done {
		return nil
	}
	it.idx++
	it.skipExhaustedLeaves()
	return nil
}

// Close releases any latch the iterator still holds. Safe to call on an
// already-exhausted or already-closed iterator.
func (it *Iterator) Close() {
	if it.guard != nil {
		it.guard.Release()
		it.guard = nil
	}
	it.done = true
}

// RangeSearch collects every row id whose key lies in [start, end].
func (t *Tree) RangeSearch(start, end types.Field) ([]primitives.RowID, error) {
	it, err := t.Begin(start)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var results []primitives.RowID
	for it.Valid() {
		le, _ := it.Key().Compare(primitives.LessThanOrEqual, end)
		if !le {
			break
		}
		results = append(results, it.Value())
		if err := it.Next(); err != nil {
			return nil, err
		}
	}
	return results, nil
}
