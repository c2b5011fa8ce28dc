// Package hashdir implements the extendible hash directory the buffer
// pool manager uses as its page table: an in-memory page-id → frame-id
// map that grows by doubling instead of rehashing everything, adapted
// from the teacher's hash/fnv-based index hashing (pkg/storage/index/hash)
// but generalized from a fixed bucket count to a growable directory.
package hashdir

import (
	"sync"

	"dbkernel/pkg/storage/page"
	"dbkernel/pkg/storage/replacer"
)

// bucket holds up to bucketSize (page-id, frame-id) pairs at a given
// local depth. Entries are kept in a slice, not a map, because
// bucketSize is small and split needs ordered iteration to redistribute.
type bucket struct {
	localDepth int
	entries    []entry
}

type entry struct {
	key   page.ID
	value replacer.FrameID
}

func newBucket(localDepth int) *bucket {
	return &bucket{localDepth: localDepth}
}

func (b *bucket) find(key page.ID) (replacer.FrameID, bool) {
	for _, e := range b.entries {
		if e.key.Equals(key) {
			return e.value, true
		}
	}
	return 0, false
}

func (b *bucket) remove(key page.ID) bool {
	for i, e := range b.entries {
		if e.key.Equals(key) {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// upsert overwrites an existing key's value or appends, returning false
// only when the bucket was full and could not accept a brand new key.
func (b *bucket) upsert(key page.ID, value replacer.FrameID, bucketSize int) bool {
	for i, e := range b.entries {
		if e.key.Equals(key) {
			b.entries[i].value = value
			return true
		}
	}
	if len(b.entries) >= bucketSize {
		return false
	}
	b.entries = append(b.entries, entry{key: key, value: value})
	return true
}

func (b *bucket) isFull(bucketSize int) bool {
	return len(b.entries) >= bucketSize
}

// Directory is an extendible hash table mapping page.ID to a
// replacer.FrameID, serving as the buffer pool manager's page table.
// It never shrinks, per spec non-goals.
type Directory struct {
	mu          sync.Mutex
	globalDepth int
	bucketSize  int
	numBuckets  int
	dir         []*bucket
}

// New returns a directory with one bucket at global depth 0.
func New(bucketSize int) *Directory {
	if bucketSize <= 0 {
		panic("hashdir: bucketSize must be positive")
	}
	return &Directory{
		bucketSize: bucketSize,
		numBuckets: 1,
		dir:        []*bucket{newBucket(0)},
	}
}

func (d *Directory) indexOf(key page.ID) int {
	mask := uint64(1)<<uint(d.globalDepth) - 1
	return int(uint64(key.HashCode()) & mask)
}

// Find returns the frame id bound to key, if resident.
func (d *Directory) Find(key page.ID) (replacer.FrameID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dir[d.indexOf(key)].find(key)
}

// Remove deletes key's entry. No-op if absent.
func (d *Directory) Remove(key page.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dir[d.indexOf(key)].remove(key)
}

// Insert binds key to value, overwriting any existing binding. A full
// bucket triggers a split (and, if the bucket's local depth has caught
// up to the global depth, a directory doubling) before the insert is
// retried.
func (d *Directory) Insert(key page.ID, value replacer.FrameID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := d.indexOf(key)
	if d.dir[idx].upsert(key, value, d.bucketSize) {
		return
	}

	d.splitBucket(idx)
	d.resetDirectory()

	idx = d.indexOf(key)
	d.dir[idx].upsert(key, value, d.bucketSize)
}

// splitBucket grows the directory (if the target bucket's local depth
// has reached the global depth), then redistributes the bucket's
// entries by the newly discriminating bit, recursing if either half is
// still overflowing.
func (d *Directory) splitBucket(idx int) {
	b := d.dir[idx]

	if b.localDepth == d.globalDepth {
		d.dir = append(d.dir, d.dir...)
		d.globalDepth++
	}

	b.localDepth++
	newLocalDepth := b.localDepth
	sibling := newBucket(newLocalDepth)

	kept := b.entries[:0:0]
	for _, e := range b.entries {
		if lowBitsEqual(d.indexOf(e.key), idx, newLocalDepth) {
			kept = append(kept, e)
		} else {
			sibling.entries = append(sibling.entries, e)
		}
	}
	b.entries = kept
	d.numBuckets++

	siblingIdx := -1
	for i := range d.dir {
		if d.dir[i] == b && !lowBitsEqual(i, idx, newLocalDepth) {
			d.dir[i] = sibling
			if siblingIdx == -1 {
				siblingIdx = i
			}
		}
	}

	if b.isFull(d.bucketSize) {
		d.splitBucket(idx)
	}
	if sibling.isFull(d.bucketSize) && siblingIdx != -1 {
		d.splitBucket(siblingIdx)
	}
}

// resetDirectory fills any nil directory slot with the bucket whose low
// local-depth bits match the slot's index. It does not re-point non-nil
// slots; splitBucket's doubling copies every slot's bucket reference
// and re-points the split bucket's slots itself, so after a split no
// slot is nil and this pass changes nothing.
func (d *Directory) resetDirectory() {
	visited := make(map[*bucket]bool)
	n := len(d.dir)

	for i := 0; i < n; i++ {
		b := d.dir[i]
		if visited[b] {
			continue
		}
		visited[b] = true

		for j := 0; j < n; j++ {
			if d.dir[j] == nil && lowBitsEqual(j, i, b.localDepth) {
				d.dir[j] = b
			}
		}
	}
}

func lowBitsEqual(a, b, bits int) bool {
	if bits == 0 {
		return true
	}
	mask := 1<<uint(bits) - 1
	return a&mask == b&mask
}

// GlobalDepth returns the directory's current global depth.
func (d *Directory) GlobalDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.globalDepth
}

// NumBuckets returns the number of distinct buckets currently allocated.
func (d *Directory) NumBuckets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numBuckets
}
