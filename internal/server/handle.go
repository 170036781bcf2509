package server

import (
	"errors"
	"io"
	"log"
	"os"
	"time"

	"s3ftp/internal/vfs"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/spf13/afero"
)

var errNotSeekable = errors.New("transfer streams cannot seek")

// handle is one transfer: a download stream or an upload writer.
type handle struct {
	name   string
	r      io.ReadCloser
	w      *vfs.Writer
	pos    int64
	failed bool
}

var (
	_ ftpserver.FileTransfer      = (*handle)(nil)
	_ ftpserver.FileTransferError = (*handle)(nil)
	_ afero.File                  = (*handle)(nil)
)

func (h *handle) Name() string { return h.name }

func (h *handle) Read(p []byte) (int, error) {
	if h.r == nil {
		return 0, pathErr("read", h.name, os.ErrInvalid)
	}
	n, err := h.r.Read(p)
	h.pos += int64(n)
	return n, err
}

func (h *handle) Write(p []byte) (int, error) {
	if h.w == nil {
		return 0, pathErr("write", h.name, os.ErrInvalid)
	}
	n, err := h.w.Write(p)
	h.pos += int64(n)
	return n, err
}

func (h *handle) WriteString(s string) (int, error) {
	return h.Write([]byte(s))
}

// Seek only confirms the current position. Offsets are fixed when the
// handle is opened.
func (h *handle) Seek(offset int64, whence int) (int64, error) {
	switch {
	case whence == io.SeekStart && offset == h.pos,
		whence == io.SeekCurrent && offset == 0:
		return h.pos, nil
	}
	return 0, pathErr("seek", h.name, errNotSeekable)
}

// TransferError marks an aborted upload. Close then leaves it unfinished
// instead of committing a truncated object.
func (h *handle) TransferError(err error) {
	log.Printf("[ftp] transfer %s failed: %v", h.name, err)
	h.failed = true
}

// Sync pushes buffered upload bytes to the backend.
func (h *handle) Sync() error {
	if h.w == nil {
		return nil
	}
	return h.w.Flush()
}

func (h *handle) Close() error {
	if h.r != nil {
		return h.r.Close()
	}
	if h.failed {
		return nil
	}
	return h.w.Close()
}

func (h *handle) Stat() (os.FileInfo, error) {
	return &info{name: h.name, size: h.pos, mode: 0o644, mtime: time.Now()}, nil
}

func (h *handle) ReadAt([]byte, int64) (int, error) {
	return 0, pathErr("readat", h.name, vfs.ErrUnsupported)
}

func (h *handle) WriteAt([]byte, int64) (int, error) {
	return 0, pathErr("writeat", h.name, vfs.ErrUnsupported)
}

func (h *handle) Readdir(int) ([]os.FileInfo, error) {
	return nil, pathErr("readdir", h.name, vfs.ErrUnsupported)
}

func (h *handle) Readdirnames(int) ([]string, error) {
	return nil, pathErr("readdirnames", h.name, vfs.ErrUnsupported)
}

func (h *handle) Truncate(int64) error {
	return pathErr("truncate", h.name, vfs.ErrUnsupported)
}
