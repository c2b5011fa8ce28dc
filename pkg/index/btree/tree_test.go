package btree

import (
	"path/filepath"
	"testing"

	"dbkernel/pkg/primitives"
	"dbkernel/pkg/storage/buffer"
	"dbkernel/pkg/storage/page"
	"dbkernel/pkg/types"
)

func openTestTree(t *testing.T, leafMax, internalMax int) (*Tree, *buffer.Manager) {
	t.Helper()
	dir := t.TempDir()
	f, err := page.Open(primitives.Filepath(filepath.Join(dir, "index.dat")))
	if err != nil {
		t.Fatalf("opening backing file: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	bpm := buffer.NewManager(f, 64, 2, 4)
	tree, err := Open(f, bpm, types.Int64Type, 0, leafMax, internalMax)
	if err != nil {
		t.Fatalf("opening tree: %v", err)
	}
	return tree, bpm
}

func TestLeafEncodeDecodeRoundTrip(t *testing.T) {
	c := codec{keyType: types.Int64Type, keyLen: 8}
	n := &leafNode{
		header:   nodeHeader{pageType: leafPageType, maxSize: 4, parent: 7, self: 3},
		entries:  []leafEntry{{key: types.NewInt64Field(1), rid: 100}, {key: types.NewInt64Field(2), rid: 200}},
		nextLeaf: 9,
	}

	var buf [page.Size]byte
	encodeLeaf(buf[:], n, c)

	if !isLeafPage(buf[:]) {
		t.Fatal("expected encoded page to report as a leaf")
	}

	decoded := decodeLeaf(buf[:], c)
	if len(decoded.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(decoded.entries))
	}
	if decoded.nextLeaf != 9 {
		t.Errorf("nextLeaf = %d, want 9", decoded.nextLeaf)
	}
	if decoded.header.parent != 7 || decoded.header.self != 3 {
		t.Errorf("header = %+v", decoded.header)
	}
	if !decoded.entries[0].key.Equals(types.NewInt64Field(1)) || decoded.entries[0].rid != 100 {
		t.Errorf("entry 0 = %+v", decoded.entries[0])
	}
}

func TestInternalEncodeDecodeRoundTrip(t *testing.T) {
	c := codec{keyType: types.Int64Type, keyLen: 8}
	n := &internalNode{
		header: nodeHeader{pageType: internalPageType, maxSize: 4, parent: 1, self: 2},
		children: []childEntry{
			{key: nil, child: 10},
			{key: types.NewInt64Field(5), child: 11},
			{key: types.NewInt64Field(9), child: 12},
		},
	}

	var buf [page.Size]byte
	encodeInternal(buf[:], n, c)

	if isLeafPage(buf[:]) {
		t.Fatal("expected encoded page to report as internal")
	}

	decoded := decodeInternal(buf[:], c)
	if len(decoded.children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(decoded.children))
	}
	if decoded.children[0].child != 10 {
		t.Errorf("children[0].child = %d, want 10", decoded.children[0].child)
	}
	if !decoded.children[1].key.Equals(types.NewInt64Field(5)) || decoded.children[1].child != 11 {
		t.Errorf("children[1] = %+v", decoded.children[1])
	}
}

func TestSearch_EmptyTree(t *testing.T) {
	tree, _ := openTestTree(t, 4, 4)
	_, found, err := tree.Search(types.NewInt64Field(1))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if found {
		t.Fatal("expected not found on empty tree")
	}
}

func TestInsertAndSearch_SingleLeaf(t *testing.T) {
	tree, _ := openTestTree(t, 10, 10)

	for i := int64(0); i < 5; i++ {
		if err := tree.Insert(types.NewInt64Field(i), primitives.RowID(i*10)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	for i := int64(0); i < 5; i++ {
		rid, found, err := tree.Search(types.NewInt64Field(i))
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if !found {
			t.Fatalf("key %d not found", i)
		}
		if rid != primitives.RowID(i*10) {
			t.Errorf("key %d: rid = %d, want %d", i, rid, i*10)
		}
	}
}

func TestInsert_DuplicateKeyRejected(t *testing.T) {
	tree, _ := openTestTree(t, 10, 10)

	if err := tree.Insert(types.NewInt64Field(1), primitives.RowID(1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tree.Insert(types.NewInt64Field(1), primitives.RowID(2)); err != ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

// Ascending inserts with leafMax=3, internalMax=3 force repeated leaf
// splits and, eventually, an internal split and new root: the classic
// B+-tree growth scenario.
func TestInsert_SplitPropagationAscendingKeys(t *testing.T) {
	tree, _ := openTestTree(t, 3, 3)

	for i := int64(1); i <= 10; i++ {
		if err := tree.Insert(types.NewInt64Field(i), primitives.RowID(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	for i := int64(1); i <= 10; i++ {
		rid, found, err := tree.Search(types.NewInt64Field(i))
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if !found || rid != primitives.RowID(i) {
			t.Fatalf("key %d: found=%v rid=%d", i, found, rid)
		}
	}

	results, err := tree.RangeSearch(types.NewInt64Field(1), types.NewInt64Field(10))
	if err != nil {
		t.Fatalf("range search: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("range search returned %d rows, want 10", len(results))
	}
	for i, rid := range results {
		if rid != primitives.RowID(int64(i+1)) {
			t.Fatalf("range search out of order at %d: got %d", i, rid)
		}
	}
}

func TestInsert_SplitPropagationDescendingKeys(t *testing.T) {
	tree, _ := openTestTree(t, 3, 3)

	for i := int64(20); i >= 1; i-- {
		if err := tree.Insert(types.NewInt64Field(i), primitives.RowID(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	results, err := tree.RangeSearch(types.NewInt64Field(1), types.NewInt64Field(20))
	if err != nil {
		t.Fatalf("range search: %v", err)
	}
	if len(results) != 20 {
		t.Fatalf("range search returned %d rows, want 20", len(results))
	}
	for i, rid := range results {
		if rid != primitives.RowID(int64(i+1)) {
			t.Fatalf("range search out of order at %d: got %d", i, rid)
		}
	}
}

func TestDelete_KeyNotFound(t *testing.T) {
	tree, _ := openTestTree(t, 4, 4)
	if err := tree.Delete(types.NewInt64Field(1)); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestDelete_SingleLeafRoot(t *testing.T) {
	tree, _ := openTestTree(t, 4, 4)
	for i := int64(1); i <= 3; i++ {
		if err := tree.Insert(types.NewInt64Field(i), primitives.RowID(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if err := tree.Delete(types.NewInt64Field(2)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, found, err := tree.Search(types.NewInt64Field(2))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if found {
		t.Fatal("key 2 should be gone")
	}

	_, found, err = tree.Search(types.NewInt64Field(1))
	if err != nil || !found {
		t.Fatalf("key 1 should survive: found=%v err=%v", found, err)
	}
}

func TestDelete_CollapsesEmptyRootToInvalid(t *testing.T) {
	tree, _ := openTestTree(t, 4, 4)
	if err := tree.Insert(types.NewInt64Field(1), primitives.RowID(1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tree.Delete(types.NewInt64Field(1)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	root, err := tree.rootPageNo()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root != primitives.InvalidPageNumber {
		t.Fatalf("root = %d, want invalid", root)
	}

	if err := tree.Insert(types.NewInt64Field(5), primitives.RowID(5)); err != nil {
		t.Fatalf("re-insert after collapse: %v", err)
	}
	_, found, err := tree.Search(types.NewInt64Field(5))
	if err != nil || !found {
		t.Fatalf("re-inserted key not found: found=%v err=%v", found, err)
	}
}

// Deleting most of a densely-split tree drives leaf borrows and merges,
// and should leave every surviving key reachable by both point search
// and a full range scan.
func TestDelete_BorrowAndMergeUnderRepeatedRemoval(t *testing.T) {
	tree, _ := openTestTree(t, 3, 3)

	const n = 30
	for i := int64(1); i <= n; i++ {
		if err := tree.Insert(types.NewInt64Field(i), primitives.RowID(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	removed := map[int64]bool{}
	for i := int64(1); i <= n; i += 2 {
		if err := tree.Delete(types.NewInt64Field(i)); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
		removed[i] = true
	}

	for i := int64(1); i <= n; i++ {
		_, found, err := tree.Search(types.NewInt64Field(i))
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if removed[i] && found {
			t.Fatalf("key %d should have been removed", i)
		}
		if !removed[i] && !found {
			t.Fatalf("key %d should still be present", i)
		}
	}

	results, err := tree.RangeSearch(types.NewInt64Field(1), types.NewInt64Field(n))
	if err != nil {
		t.Fatalf("range search: %v", err)
	}
	want := n / 2
	if len(results) != want {
		t.Fatalf("range search returned %d rows, want %d", len(results), want)
	}
	var last int64 = -1
	for _, rid := range results {
		v := int64(rid)
		if v <= last {
			t.Fatalf("range search not strictly increasing: %d after %d", v, last)
		}
		last = v
	}
}

func TestIterator_BeginMidRange(t *testing.T) {
	tree, _ := openTestTree(t, 3, 3)
	for i := int64(1); i <= 15; i++ {
		if i == 7 {
			continue
		}
		if err := tree.Insert(types.NewInt64Field(i), primitives.RowID(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	it, err := tree.Begin(types.NewInt64Field(7))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer it.Close()

	if !it.Valid() {
		t.Fatal("expected iterator positioned at key 8 (7 was never inserted)")
	}
	if !it.Key().Equals(types.NewInt64Field(8)) {
		t.Fatalf("first key = %s, want 8", it.Key().String())
	}
}

func TestIterator_BeginPastEnd(t *testing.T) {
	tree, _ := openTestTree(t, 3, 3)
	for i := int64(1); i <= 5; i++ {
		if err := tree.Insert(types.NewInt64Field(i), primitives.RowID(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	it, err := tree.Begin(types.NewInt64Field(100))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer it.Close()

	if it.Valid() {
		t.Fatal("expected exhausted iterator past the last key")
	}
}
