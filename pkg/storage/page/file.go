package page

import (
	"fmt"
	"os"
	"sync"

	"dbkernel/pkg/primitives"
)

// File is the disk-backed store of fixed-size pages behind one data file,
// adapted from the teacher's BaseFile: thread-safe ReadAt/WriteAt/Sync
// page I/O plus atomic page-number allocation by extending the file.
type File struct {
	osFile   *os.File
	fileID   primitives.TableID
	filePath primitives.Filepath
	mu       sync.RWMutex
}

// Open opens (creating if absent) the data file at path.
func Open(path primitives.Filepath) (*File, error) {
	if path.IsEmpty() {
		return nil, fmt.Errorf("page: file path cannot be empty")
	}

	f, err := os.OpenFile(string(path), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("page: opening %s: %w", path, err)
	}

	return &File{
		osFile:   f,
		fileID:   path.HashAsTableID(),
		filePath: path,
	}, nil
}

func (f *File) ID() primitives.TableID { return f.fileID }

// NumPages returns the number of pages the file currently spans, counting
// a trailing partial page as one.
func (f *File) NumPages() (primitives.PageNumber, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	info, err := f.osFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("page: stat: %w", err)
	}

	n := primitives.PageNumber(info.Size() / Size)
	if info.Size()%Size != 0 {
		n++
	}
	return n, nil
}

// ReadPage reads page number pageNo into dst, which must be exactly Size
// bytes. Reading a page number past the end of the file (e.g. a page
// allocated but never written) yields a zero-filled page, matching the
// BPM's "fresh page" initialization.
func (f *File) ReadPage(pageNo primitives.PageNumber, dst []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n, err := f.osFile.ReadAt(dst, int64(pageNo)*Size)
	if err != nil && n == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	return nil
}

// WritePage writes exactly Size bytes at the offset for pageNo, then
// fsyncs so the write is durable before the caller clears the dirty bit.
func (f *File) WritePage(pageNo primitives.PageNumber, src []byte) error {
	if len(src) != Size {
		return fmt.Errorf("page: WritePage requires exactly %d bytes, got %d", Size, len(src))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.osFile.WriteAt(src, int64(pageNo)*Size); err != nil {
		return fmt.Errorf("page: write: %w", err)
	}
	return f.osFile.Sync()
}

// AllocatePage atomically reserves the next page number by extending the
// file with a zero-filled page, so two concurrent allocators can never be
// handed the same number.
func (f *File) AllocatePage() (primitives.PageNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.osFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("page: stat: %w", err)
	}

	pageNo := primitives.PageNumber(info.Size() / Size)
	if info.Size()%Size != 0 {
		pageNo++
	}

	var zero [Size]byte
	if _, err := f.osFile.WriteAt(zero[:], int64(pageNo)*Size); err != nil {
		return 0, fmt.Errorf("page: reserving page %d: %w", pageNo, err)
	}
	if err := f.osFile.Sync(); err != nil {
		return 0, fmt.Errorf("page: sync after allocate: %w", err)
	}
	return pageNo, nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.osFile == nil {
		return nil
	}
	err := f.osFile.Close()
	f.osFile = nil
	return err
}
