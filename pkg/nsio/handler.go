package nsio

import (
	"bytes"
	"io"
	"os"

	"github.com/dmgrid/nsfabric/pkg/nserr"
)

func osFlags(flags Flag) int {
	f := os.O_RDONLY
	switch {
	case flags.has(FlagRead) && flags.has(FlagWrite):
		f = os.O_RDWR
	case flags.has(FlagWrite):
		f = os.O_WRONLY
	}
	if flags.has(FlagCreate) {
		f |= os.O_CREATE
	}
	if flags.has(FlagTruncate) {
		f |= os.O_TRUNC
	}
	if flags.has(FlagAppend) {
		f |= os.O_APPEND
	}
	return f
}

// fileHandler is the local-filesystem IOHandler.
type fileHandler struct {
	f   *os.File
	eof bool
}

func openFileHandler(pfn string, flags Flag, mode uint16) (IOHandler, error) {
	f, err := os.OpenFile(pfn, osFlags(flags), os.FileMode(mode))
	if err != nil {
		return nil, nserr.Wrap(nserr.BackendUnavailable, pfn, err)
	}
	return &fileHandler{f: f}, nil
}

func (h *fileHandler) markEOF(n, want int, err error) error {
	if err == io.EOF || n < want {
		h.eof = true
	}
	if err == io.EOF {
		return nil
	}
	return err
}

func (h *fileHandler) Read(p []byte) (int, error) {
	n, err := h.f.Read(p)
	return n, h.markEOF(n, len(p), err)
}

func (h *fileHandler) Write(p []byte) (int, error) {
	h.eof = false
	return h.f.Write(p)
}

func (h *fileHandler) Readv(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := h.Read(b)
		total += n
		if err != nil || n < len(b) {
			return total, err
		}
	}
	return total, nil
}

func (h *fileHandler) Writev(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := h.Write(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (h *fileHandler) Pread(p []byte, off int64) (int, error) {
	n, err := h.f.ReadAt(p, off)
	return n, h.markEOF(n, len(p), err)
}

func (h *fileHandler) Pwrite(p []byte, off int64) (int, error) {
	h.eof = false
	return h.f.WriteAt(p, off)
}

func (h *fileHandler) Seek(offset int64, whence int) (int64, error) {
	h.eof = false
	return h.f.Seek(offset, whence)
}

func (h *fileHandler) Tell() (int64, error) {
	return h.f.Seek(0, SeekCurrent)
}

func (h *fileHandler) Flush() error { return h.f.Sync() }

func (h *fileHandler) Eof() bool { return h.eof }

func (h *fileHandler) Fstat() (os.FileInfo, error) { return h.f.Stat() }

func (h *fileHandler) Close() error { return h.f.Close() }

// memHandler serves a fixed in-memory byte stream — used for /proc files,
// which are always read-only (spec.md §4.8).
type memHandler struct {
	r   *bytes.Reader
	eof bool
}

func newMemHandler(content string) IOHandler {
	return &memHandler{r: bytes.NewReader([]byte(content))}
}

func (h *memHandler) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if err == io.EOF || n < len(p) {
		h.eof = true
	}
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

func (h *memHandler) Write(p []byte) (int, error) {
	return 0, nserr.New(nserr.Permission, "read-only handler")
}

func (h *memHandler) Readv(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := h.Read(b)
		total += n
		if err != nil || n < len(b) {
			return total, err
		}
	}
	return total, nil
}

func (h *memHandler) Writev(bufs [][]byte) (int, error) {
	return 0, nserr.New(nserr.Permission, "read-only handler")
}

func (h *memHandler) Pread(p []byte, off int64) (int, error) {
	n, err := h.r.ReadAt(p, off)
	if err == io.EOF || n == 0 {
		h.eof = true
	}
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

func (h *memHandler) Pwrite(p []byte, off int64) (int, error) {
	return 0, nserr.New(nserr.Permission, "read-only handler")
}

func (h *memHandler) Seek(offset int64, whence int) (int64, error) {
	h.eof = false
	return h.r.Seek(offset, whence)
}

func (h *memHandler) Tell() (int64, error) { return h.r.Seek(0, SeekCurrent) }

func (h *memHandler) Flush() error { return nil }

func (h *memHandler) Eof() bool { return h.eof }

func (h *memHandler) Fstat() (os.FileInfo, error) {
	return nil, nserr.New(nserr.Internal, "fstat not supported on virtual handles")
}

func (h *memHandler) Close() error { return nil }
