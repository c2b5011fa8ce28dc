package buffer

import (
	"path/filepath"
	"testing"

	"dbkernel/pkg/primitives"
	"dbkernel/pkg/storage/page"
)

func newTestManager(t *testing.T, poolSize int) *Manager {
	t.Helper()
	path := primitives.Filepath(filepath.Join(t.TempDir(), "data.db"))
	f, err := page.Open(path)
	if err != nil {
		t.Fatalf("opening file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return NewManager(f, poolSize, 2, 4)
}

func TestManager_NewPageThenFetch(t *testing.T) {
	m := newTestManager(t, 4)

	g, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	id := g.ID()
	copy(g.Page().Data[:5], []byte("hello"))
	g.MarkDirty()
	g.Release()

	fg, err := m.FetchPageBasic(id)
	if err != nil {
		t.Fatalf("FetchPageBasic: %v", err)
	}
	if string(fg.Page().Data[:5]) != "hello" {
		t.Errorf("expected written content to survive unpin, got %q", fg.Page().Data[:5])
	}
	fg.Release()
}

func TestManager_UnpinDecrementsPinCount(t *testing.T) {
	m := newTestManager(t, 4)

	g, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	id := g.ID()
	if g.Page().PinCount != 1 {
		t.Fatalf("expected pin count 1, got %d", g.Page().PinCount)
	}
	g.Release()

	fg, err := m.FetchPageBasic(id)
	if err != nil {
		t.Fatalf("FetchPageBasic: %v", err)
	}
	if fg.Page().PinCount != 1 {
		t.Errorf("expected pin count 1 after re-fetch, got %d", fg.Page().PinCount)
	}
	fg.Release()
}

func TestManager_DirtyFlagIsStickyOR(t *testing.T) {
	m := newTestManager(t, 4)

	g, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	id := g.ID()
	g.Release() // not dirty

	fg, _ := m.FetchPageBasic(id)
	fg.Release() // not dirty either

	if err := m.UnpinPage(id, true); err == nil {
		t.Fatal("expected error unpinning a page with pin count already zero")
	}

	fg2, _ := m.FetchPageBasic(id)
	fg2.MarkDirty()
	fg2.Release()

	fg3, _ := m.FetchPageBasic(id)
	if !fg3.Page().Dirty {
		t.Error("expected dirty flag to stick after a single dirty unpin")
	}
	fg3.Release()
}

func TestManager_EvictsWhenPoolExhausted(t *testing.T) {
	m := newTestManager(t, 2)

	g1, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage 1: %v", err)
	}
	g2, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage 2: %v", err)
	}
	g1.Release()
	g2.Release()

	// Both frames are unpinned and evictable; a third NewPage must evict one.
	g3, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage 3 should evict a victim, got error: %v", err)
	}
	g3.Release()
}

func TestManager_BufferPoolExhaustedWhenAllPinned(t *testing.T) {
	m := newTestManager(t, 1)

	g, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	defer g.Release()

	if _, err := m.NewPage(); err == nil {
		t.Fatal("expected error when no frame is evictable")
	}
}

func TestManager_DeletePageRefusesWhilePinned(t *testing.T) {
	m := newTestManager(t, 2)

	g, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	id := g.ID()

	if err := m.DeletePage(id); err == nil {
		t.Fatal("expected DeletePage to refuse a pinned page")
	}
	g.Release()

	if err := m.DeletePage(id); err != nil {
		t.Fatalf("DeletePage after unpin: %v", err)
	}
}

func TestManager_FetchWriteMarksDirtyImmediately(t *testing.T) {
	m := newTestManager(t, 4)

	g, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	id := g.ID()
	g.Release()

	wg, err := m.FetchPageWrite(id)
	if err != nil {
		t.Fatalf("FetchPageWrite: %v", err)
	}
	wg.Release()

	fg, _ := m.FetchPageBasic(id)
	if !fg.Page().Dirty {
		t.Error("expected FetchPageWrite to mark the page dirty on acquisition")
	}
	fg.Release()
}

func TestManager_FlushAllPages(t *testing.T) {
	m := newTestManager(t, 4)

	for i := 0; i < 3; i++ {
		g, err := m.NewPage()
		if err != nil {
			t.Fatalf("NewPage %d: %v", i, err)
		}
		g.MarkDirty()
		g.Release()
	}

	if err := m.FlushAllPages(); err != nil {
		t.Fatalf("FlushAllPages: %v", err)
	}
}
