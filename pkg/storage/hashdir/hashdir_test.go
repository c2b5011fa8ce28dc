package hashdir

import (
	"testing"

	"dbkernel/pkg/primitives"
	"dbkernel/pkg/storage/page"
	"dbkernel/pkg/storage/replacer"
)

func id(n uint64) page.ID {
	return page.NewID(primitives.TableID(1), primitives.PageNumber(n))
}

func TestDirectory_InsertFindRemove(t *testing.T) {
	d := New(4)

	d.Insert(id(1), replacer.FrameID(10))
	d.Insert(id(2), replacer.FrameID(20))

	if got, ok := d.Find(id(1)); !ok || got != 10 {
		t.Errorf("Find(1) = %v, %v; want 10, true", got, ok)
	}

	d.Remove(id(1))
	if _, ok := d.Find(id(1)); ok {
		t.Error("expected id(1) removed")
	}
	if got, ok := d.Find(id(2)); !ok || got != 20 {
		t.Errorf("Find(2) = %v, %v; want 20, true", got, ok)
	}
}

func TestDirectory_OverwriteExistingKey(t *testing.T) {
	d := New(4)
	d.Insert(id(5), replacer.FrameID(1))
	d.Insert(id(5), replacer.FrameID(2))

	if got, _ := d.Find(id(5)); got != 2 {
		t.Errorf("expected overwritten value 2, got %d", got)
	}
}

func TestDirectory_GrowsUnderLoad(t *testing.T) {
	d := New(2)

	for i := uint64(0); i < 200; i++ {
		d.Insert(id(i), replacer.FrameID(i))
	}

	for i := uint64(0); i < 200; i++ {
		got, ok := d.Find(id(i))
		if !ok || got != replacer.FrameID(i) {
			t.Fatalf("Find(%d) = %v, %v; want %d, true", i, got, ok, i)
		}
	}

	if d.GlobalDepth() == 0 {
		t.Error("expected directory to have grown past global depth 0 under load")
	}
}

func TestDirectory_DiscriminatingBitInvariant(t *testing.T) {
	d := New(2)
	for i := uint64(0); i < 64; i++ {
		d.Insert(id(i*7+3), replacer.FrameID(i))
	}

	for i, b := range d.dir {
		mask := uint64(1)<<uint(b.localDepth) - 1
		for _, e := range b.entries {
			if uint64(e.key.HashCode())&mask != uint64(i)&mask {
				t.Errorf("entry %v in slot %d violates directory invariant", e.key, i)
			}
		}
	}
}
