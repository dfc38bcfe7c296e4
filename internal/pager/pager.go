package pager

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	// PageSize is the unit of disk I/O. Every node occupies exactly one page.
	PageSize = 4096

	// MaxPages bounds both the page cache and the database file. The cache is
	// indexed directly by page number, so cache capacity equals file capacity.
	MaxPages = 100
)

var (
	// ErrPageBounds is returned when a page number is at or beyond MaxPages.
	ErrPageBounds = errors.New("pager: page number out of bounds")

	// ErrCorruptLength is returned by Open when the file length is not a
	// whole multiple of PageSize.
	ErrCorruptLength = errors.New("pager: file length is not a multiple of page size")

	// ErrPageNotLoaded is returned when flushing a page that was never
	// brought into the cache.
	ErrPageNotLoaded = errors.New("pager: flush of unloaded page")
)

// Pager maps page numbers to in-memory page buffers backed by a single file.
// Pages are read lazily on first access and written back only on Close; a
// process exit that bypasses Close loses every mutation since Open.
//
// The pager does not interpret page contents.
type Pager struct {
	fs         afero.Fs
	file       afero.File
	fileLength int64
	numPages   uint32
	pages      [MaxPages][]byte
}

// Open opens or creates the database file at path. The file length must be a
// whole multiple of PageSize; anything else is treated as corruption.
func Open(fs afero.Fs, path string) (*Pager, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: stat %s: %w", path, err)
	}
	length := fi.Size()
	if length%PageSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptLength, length)
	}

	p := &Pager{
		fs:         fs,
		file:       f,
		fileLength: length,
		numPages:   uint32(length / PageSize),
	}
	logrus.WithFields(logrus.Fields{
		"path":  path,
		"pages": p.numPages,
	}).Debug("pager: opened database file")
	return p, nil
}

// NumPages reports how many pages the pager currently tracks, including
// pages allocated in memory but not yet flushed.
func (p *Pager) NumPages() uint32 {
	return p.numPages
}

// Get returns the in-memory buffer for pageNum, reading it from disk on a
// cache miss if the page exists in the file. Accessing a page at or past the
// current page count extends the page count; the buffer comes back zeroed.
//
// The returned slice aliases the cache; callers mutate pages in place and
// must not hold the slice across Close.
func (p *Pager) Get(pageNum uint32) ([]byte, error) {
	if pageNum >= MaxPages {
		return nil, fmt.Errorf("%w: page %d (max %d)", ErrPageBounds, pageNum, MaxPages)
	}

	if p.pages[pageNum] == nil {
		buf := make([]byte, PageSize)

		// Pages within the on-disk count are loaded from the file. A partial
		// trailing page cannot occur because Open rejects ragged lengths.
		diskPages := uint32(p.fileLength / PageSize)
		if pageNum < diskPages {
			if _, err := p.file.Seek(int64(pageNum)*PageSize, io.SeekStart); err != nil {
				return nil, fmt.Errorf("pager: seek page %d: %w", pageNum, err)
			}
			if _, err := io.ReadFull(p.file, buf); err != nil {
				return nil, fmt.Errorf("pager: read page %d: %w", pageNum, err)
			}
		}

		p.pages[pageNum] = buf
		if pageNum >= p.numPages {
			p.numPages = pageNum + 1
		}
	}

	return p.pages[pageNum], nil
}

// AllocatePage hands out the next unused page number. The caller is expected
// to populate the page via Get, which also raises the page count.
func (p *Pager) AllocatePage() uint32 {
	return p.numPages
}

// Flush writes the full buffer for pageNum back to the file.
func (p *Pager) Flush(pageNum uint32) error {
	if pageNum >= MaxPages {
		return fmt.Errorf("%w: page %d", ErrPageBounds, pageNum)
	}
	if p.pages[pageNum] == nil {
		return fmt.Errorf("%w: page %d", ErrPageNotLoaded, pageNum)
	}
	if _, err := p.file.Seek(int64(pageNum)*PageSize, io.SeekStart); err != nil {
		return fmt.Errorf("pager: seek page %d: %w", pageNum, err)
	}
	if _, err := p.file.Write(p.pages[pageNum]); err != nil {
		return fmt.Errorf("pager: write page %d: %w", pageNum, err)
	}
	return nil
}

// Close flushes every populated cache slot in [0, numPages) and closes the
// underlying file. The cache is released regardless of flush errors.
func (p *Pager) Close() error {
	var firstErr error
	for i := uint32(0); i < p.numPages; i++ {
		if p.pages[i] == nil {
			continue
		}
		if err := p.Flush(i); err != nil && firstErr == nil {
			firstErr = err
		}
		p.pages[i] = nil
	}

	if err := p.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("pager: close: %w", err)
	}

	// Drop any slots past numPages as well.
	for i := range p.pages {
		p.pages[i] = nil
	}

	logrus.WithField("pages", p.numPages).Debug("pager: closed database file")
	return firstErr
}
