package buffer

import "dbkernel/pkg/storage/page"

// BasicGuard owns one pin on a page without holding its latch. It is
// move-only in spirit (mirroring a C++ RAII guard's move constructor):
// Go has no move semantics, so ownership transfer is modeled explicitly
// via Move, which hands back a fresh guard and neuters the original so
// its eventual Release is a no-op.
type BasicGuard struct {
	bpm      *Manager
	page     *page.Page
	dirty    bool
	released bool
}

func newBasicGuard(bpm *Manager, p *page.Page) *BasicGuard {
	return &BasicGuard{bpm: bpm, page: p}
}

// Page returns the underlying page. Callers must not retain it past
// Release.
func (g *BasicGuard) Page() *page.Page { return g.page }

// ID returns the guarded page's id.
func (g *BasicGuard) ID() page.ID { return g.page.ID }

// MarkDirty records that this guard observed a write, OR-combined into
// the page's sticky dirty flag on Release.
func (g *BasicGuard) MarkDirty() { g.dirty = true }

// Move transfers ownership of this guard's pin to a new BasicGuard,
// neutering the original so a stray Release on it is harmless.
func (g *BasicGuard) Move() *BasicGuard {
	moved := &BasicGuard{bpm: g.bpm, page: g.page, dirty: g.dirty}
	g.released = true
	return moved
}

// Release unpins the page, propagating this guard's accumulated dirty
// bit. Safe to call more than once or on an already-moved guard.
func (g *BasicGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	_ = g.bpm.UnpinPage(g.page.ID, g.dirty)
}

// UpgradeRead takes the page's shared latch and returns a ReadGuard,
// consuming this guard without releasing the pin it holds.
func (g *BasicGuard) UpgradeRead() *ReadGuard {
	g.released = true
	g.page.Latch.RLock()
	return &ReadGuard{basic: &BasicGuard{bpm: g.bpm, page: g.page, dirty: g.dirty}}
}

// UpgradeWrite takes the page's exclusive latch and returns a
// WriteGuard, consuming this guard without releasing the pin it holds.
func (g *BasicGuard) UpgradeWrite() *WriteGuard {
	g.released = true
	g.page.Latch.Lock()
	wg := &WriteGuard{basic: &BasicGuard{bpm: g.bpm, page: g.page, dirty: g.dirty}}
	wg.basic.MarkDirty()
	return wg
}

// ReadGuard holds a page's pin and its shared latch.
type ReadGuard struct {
	basic *BasicGuard
}

func (g *ReadGuard) Page() *page.Page { return g.basic.page }
func (g *ReadGuard) ID() page.ID      { return g.basic.page.ID }

// Release drops the shared latch, then the pin.
func (g *ReadGuard) Release() {
	if g.basic.released {
		return
	}
	g.basic.page.Latch.RUnlock()
	g.basic.Release()
}

// WriteGuard holds a page's pin and its exclusive latch. Acquiring one
// always marks the page dirty, since the caller fetched it to write.
type WriteGuard struct {
	basic *BasicGuard
}

func (g *WriteGuard) Page() *page.Page { return g.basic.page }
func (g *WriteGuard) ID() page.ID      { return g.basic.page.ID }

// Release drops the exclusive latch, then the pin.
func (g *WriteGuard) Release() {
	if g.basic.released {
		return
	}
	g.basic.page.Latch.Unlock()
	g.basic.Release()
}
