// Package buffer implements the buffer pool manager: the single
// component through which every on-disk page access passes. It owns the
// frame array, the free-list, the LRU-K replacer, and the extendible
// hash directory acting as its page table, adapted from the teacher's
// pkg/memory.PageStore (pin/evict bookkeeping, mutex-guarded cache) but
// generalized to LRU-K-backed eviction, an extendible-hash page table,
// and scoped page guards instead of a plain map-backed LRU cache.
package buffer

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"dbkernel/pkg/dberrors"
	"dbkernel/pkg/logging"
	"dbkernel/pkg/primitives"
	"dbkernel/pkg/storage/hashdir"
	"dbkernel/pkg/storage/page"
	"dbkernel/pkg/storage/replacer"

	"sync"
)

// Manager mediates all page access between callers and the on-disk file,
// using a single mutex to protect frames, the free-list, the page table,
// and the replacer (spec 4.3/5: "a single recursive mutex protects BPM
// internals"; Go has no recursive mutex, so public methods take the
// lock themselves and delegate to unexported, already-locked helpers
// rather than re-entering; FlushAllPages takes it once for its snapshot
// and once more per page write).
type Manager struct {
	mu sync.Mutex

	file     *page.File
	fileID   primitives.TableID
	poolSize int

	frames   []*page.Page
	inUse    []bool
	freeList []replacer.FrameID

	pageTable *hashdir.Directory
	replacer  *replacer.LRUK
}

// NewManager constructs a buffer pool of poolSize frames over file,
// using an LRU-K replacer of depth k and an extendible hash page table
// with the given per-bucket capacity.
func NewManager(file *page.File, poolSize, k, bucketSize int) *Manager {
	if poolSize <= 0 {
		panic("buffer: poolSize must be positive")
	}

	m := &Manager{
		file:      file,
		fileID:    file.ID(),
		poolSize:  poolSize,
		frames:    make([]*page.Page, poolSize),
		inUse:     make([]bool, poolSize),
		freeList:  make([]replacer.FrameID, poolSize),
		pageTable: hashdir.New(bucketSize),
		replacer:  replacer.New(k),
	}

	for i := 0; i < poolSize; i++ {
		m.frames[i] = page.NewPage(page.Invalid)
		m.freeList[i] = replacer.FrameID(i)
	}

	return m
}

// findVictimFrame returns a frame ready to be bound to a new page,
// preferring the free-list and falling back to LRU-K eviction. Caller
// must hold mu. A frame returned by eviction has already had its old
// binding flushed (if dirty) and removed from the page table.
func (m *Manager) findVictimFrame() (replacer.FrameID, bool) {
	if n := len(m.freeList); n > 0 {
		fid := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return fid, true
	}

	fid, ok := m.replacer.Evict()
	if !ok {
		return 0, false
	}

	p := m.frames[fid]
	if p.Dirty {
		if err := m.flushFrameLocked(p); err != nil {
			logging.WithComponent("buffer").Warn("failed flushing eviction victim",
				"page", p.ID.String(), "error", err)
		}
	}
	m.pageTable.Remove(p.ID)
	m.inUse[fid] = false
	return fid, true
}

func (m *Manager) flushFrameLocked(p *page.Page) error {
	if err := m.file.WritePage(p.ID.PageNo(), p.Data[:]); err != nil {
		return err
	}
	p.Dirty = false
	return nil
}

// NewPage allocates a fresh page, binds it to a frame (evicting if
// necessary), pins it, and returns a basic guard over it. Returns
// dberrors.ErrBufferPoolExhausted if every frame is pinned.
func (m *Manager) NewPage() (*BasicGuard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.findVictimFrame()
	if !ok {
		return nil, dberrors.ErrBufferPoolExhausted
	}

	pageNo, err := m.file.AllocatePage()
	if err != nil {
		m.freeList = append(m.freeList, fid)
		return nil, fmt.Errorf("buffer: allocating page: %w", err)
	}

	id := page.NewID(m.fileID, pageNo)
	p := m.frames[fid]
	p.Reset(id)
	p.PinCount = 1

	m.pageTable.Insert(id, fid)
	m.inUse[fid] = true
	m.replacer.RecordAccess(fid)
	m.replacer.SetEvictable(fid, false)

	logging.WithComponent("buffer").Debug("new page", "page", id.String())
	return newBasicGuard(m, p), nil
}

// fetchLocked returns the frame bound to id, reading it from disk and
// evicting a victim if it is not already resident. Caller must hold mu.
func (m *Manager) fetchLocked(id page.ID) (*page.Page, error) {
	if fid, ok := m.pageTable.Find(id); ok {
		p := m.frames[fid]
		p.PinCount++
		m.replacer.RecordAccess(fid)
		m.replacer.SetEvictable(fid, false)
		return p, nil
	}

	fid, ok := m.findVictimFrame()
	if !ok {
		return nil, dberrors.ErrBufferPoolExhausted
	}

	p := m.frames[fid]
	p.Reset(id)
	if err := m.file.ReadPage(id.PageNo(), p.Data[:]); err != nil {
		m.freeList = append(m.freeList, fid)
		return nil, fmt.Errorf("buffer: reading page %s: %w", id, err)
	}
	p.PinCount = 1

	m.pageTable.Insert(id, fid)
	m.inUse[fid] = true
	m.replacer.RecordAccess(fid)
	m.replacer.SetEvictable(fid, false)

	return p, nil
}

// FetchPageBasic pins and returns id's page without taking a latch.
func (m *Manager) FetchPageBasic(id page.ID) (*BasicGuard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.fetchLocked(id)
	if err != nil {
		return nil, err
	}
	return newBasicGuard(m, p), nil
}

// FetchPageRead pins id's page and takes a shared latch on it.
func (m *Manager) FetchPageRead(id page.ID) (*ReadGuard, error) {
	m.mu.Lock()
	p, err := m.fetchLocked(id)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.Latch.RLock()
	return &ReadGuard{basic: newBasicGuard(m, p)}, nil
}

// FetchPageWrite pins id's page, takes an exclusive latch on it, and
// marks it dirty immediately (the caller is fetching it in order to
// write).
func (m *Manager) FetchPageWrite(id page.ID) (*WriteGuard, error) {
	m.mu.Lock()
	p, err := m.fetchLocked(id)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.Latch.Lock()
	g := &WriteGuard{basic: newBasicGuard(m, p)}
	g.basic.MarkDirty()
	return g, nil
}

// UnpinPage decrements id's pin count and OR-combines isDirty into the
// page's sticky dirty flag. Once the pin count reaches zero the frame
// becomes evictable.
func (m *Manager) UnpinPage(id page.ID, isDirty bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable.Find(id)
	if !ok {
		return fmt.Errorf("buffer: unpin of resident-but-absent page %s: %w", id, dberrors.ErrPageNotFound)
	}

	p := m.frames[fid]
	if p.PinCount <= 0 {
		return fmt.Errorf("buffer: unpin of page %s with pin count already zero", id)
	}

	p.PinCount--
	p.Dirty = p.Dirty || isDirty
	if p.PinCount == 0 {
		m.replacer.SetEvictable(fid, true)
	}
	return nil
}

// FlushPage unconditionally writes id's page to disk and clears its
// dirty flag.
func (m *Manager) FlushPage(id page.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable.Find(id)
	if !ok {
		return dberrors.ErrPageNotFound
	}
	return m.flushFrameLocked(m.frames[fid])
}

// FlushAllPages writes every resident page to disk, fanning the writes
// out across golang.org/x/sync/errgroup the way the teacher's DDL drop
// path parallelizes independent index drops, bounded so a large pool
// doesn't saturate disk I/O with one goroutine per frame.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	resident := make([]*page.Page, 0, m.poolSize)
	for i, inUse := range m.inUse {
		if inUse {
			resident = append(resident, m.frames[i])
		}
	}
	m.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)

	for _, p := range resident {
		p := p
		g.Go(func() error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if !p.ID.IsValid() {
				return nil
			}
			if err := m.flushFrameLocked(p); err != nil {
				return fmt.Errorf("buffer: flushing page %s: %w", p.ID, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// DeletePage removes id from the page table, stops replacer tracking,
// resets the frame, and returns it to the free-list. Refuses if the
// page is still pinned; deleting an absent page is success.
func (m *Manager) DeletePage(id page.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable.Find(id)
	if !ok {
		return nil
	}

	p := m.frames[fid]
	if p.PinCount > 0 {
		return fmt.Errorf("buffer: cannot delete pinned page %s (pin count %d)", id, p.PinCount)
	}

	m.pageTable.Remove(id)
	m.replacer.Remove(fid)
	p.Reset(page.Invalid)
	m.inUse[fid] = false
	m.freeList = append(m.freeList, fid)
	return nil
}

// PoolSize returns the number of frames this manager owns.
func (m *Manager) PoolSize() int { return m.poolSize }
