package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"s3ftp/internal/vfs"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/spf13/afero"
)

// clientFS exposes one view to the FTP engine. Paths arrive absolute, as
// seen by the client, and are resolved below the view root.
type clientFS struct {
	ctx  context.Context
	view *vfs.View
}

var (
	_ ftpserver.ClientDriver                      = (*clientFS)(nil)
	_ ftpserver.ClientDriverExtensionFileList     = (*clientFS)(nil)
	_ ftpserver.ClientDriverExtensionRemoveDir    = (*clientFS)(nil)
	_ ftpserver.ClientDriverExtentionFileTransfer = (*clientFS)(nil)
)

func pathErr(op, name string, err error) error {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		err = fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	case errors.Is(err, vfs.ErrPermissionDenied):
		err = fmt.Errorf("%w: %w", fs.ErrPermission, err)
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

func dirName(name string) string {
	return strings.TrimRight(name, "/") + "/"
}

func (c *clientFS) Name() string { return "s3ftp" }

// Stat checks the file key first and falls back to the directory prefix.
func (c *clientFS) Stat(name string) (os.FileInfo, error) {
	e, err := c.view.File(name)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	if e.IsDirectory() {
		if !e.IsRoot() && !c.view.DirectoryExists(c.ctx, name) {
			return nil, pathErr("stat", name, vfs.ErrNotFound)
		}
		return dirInfo(e), nil
	}

	ok, err := e.Exists(c.ctx)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	if ok {
		return c.fileInfo(e)
	}
	if c.view.DirectoryExists(c.ctx, name) {
		d, err := c.view.File(dirName(name))
		if err != nil {
			return nil, pathErr("stat", name, err)
		}
		return dirInfo(d), nil
	}
	return nil, pathErr("stat", name, vfs.ErrNotFound)
}

func (c *clientFS) fileInfo(e *vfs.Entry) (os.FileInfo, error) {
	size, err := e.Size(c.ctx)
	if err != nil {
		return nil, err
	}
	mtime, err := e.LastModified(c.ctx)
	if err != nil {
		return nil, err
	}
	return newInfo(e, size, mtime), nil
}

// ReadDir lists a directory, leaving out its own marker.
func (c *clientFS) ReadDir(name string) ([]os.FileInfo, error) {
	dir, err := c.view.File(dirName(name))
	if err != nil {
		return nil, pathErr("readdir", name, err)
	}
	children, err := dir.ListFiles(c.ctx)
	if err != nil {
		return nil, pathErr("readdir", name, err)
	}

	infos := make([]os.FileInfo, 0, len(children))
	for _, child := range children {
		if child.Key() == dir.Key() || child.Name() == "" {
			continue
		}
		if child.IsDirectory() {
			infos = append(infos, dirInfo(child))
			continue
		}
		fi, err := c.fileInfo(child)
		if err != nil {
			return nil, pathErr("readdir", name, err)
		}
		infos = append(infos, fi)
	}
	return infos, nil
}

func (c *clientFS) Mkdir(name string, _ os.FileMode) error {
	e, err := c.view.File(dirName(name))
	if err != nil {
		return pathErr("mkdir", name, err)
	}
	if !e.IsWritable() {
		return pathErr("mkdir", name, vfs.ErrPermissionDenied)
	}
	if !e.Mkdir(c.ctx) {
		return pathErr("mkdir", name, vfs.ErrBackend)
	}
	return nil
}

// MkdirAll is Mkdir: parent prefixes need no markers.
func (c *clientFS) MkdirAll(name string, perm os.FileMode) error {
	return c.Mkdir(name, perm)
}

// Remove deletes a file.
func (c *clientFS) Remove(name string) error {
	e, err := c.view.File(name)
	if err != nil {
		return pathErr("remove", name, err)
	}
	if e.IsDirectory() {
		return c.RemoveDir(name)
	}
	return c.remove("remove", name, e)
}

// RemoveDir deletes an empty directory marker.
func (c *clientFS) RemoveDir(name string) error {
	e, err := c.view.File(dirName(name))
	if err != nil {
		return pathErr("rmdir", name, err)
	}
	return c.remove("rmdir", name, e)
}

func (c *clientFS) remove(op, name string, e *vfs.Entry) error {
	if e.IsRoot() || !e.IsWritable() {
		return pathErr(op, name, vfs.ErrPermissionDenied)
	}
	ok, err := e.Exists(c.ctx)
	if err != nil {
		return pathErr(op, name, err)
	}
	if !ok {
		return pathErr(op, name, vfs.ErrNotFound)
	}
	if !e.Delete(c.ctx) {
		if e.IsDirectory() {
			return pathErr(op, name, errors.New("directory not empty"))
		}
		return pathErr(op, name, vfs.ErrBackend)
	}
	return nil
}

func (c *clientFS) RemoveAll(name string) error {
	return pathErr("removeall", name, vfs.ErrUnsupported)
}

// Rename moves a single file. Directories cannot be renamed.
func (c *clientFS) Rename(from, to string) error {
	src, err := c.view.File(from)
	if err != nil {
		return pathErr("rename", from, err)
	}
	dst, err := c.view.File(to)
	if err != nil {
		return pathErr("rename", to, err)
	}
	if src.IsDirectory() || dst.IsDirectory() {
		return pathErr("rename", from, vfs.ErrUnsupported)
	}
	if !src.IsWritable() || !dst.IsWritable() {
		return pathErr("rename", from, vfs.ErrPermissionDenied)
	}

	ok, err := src.Exists(c.ctx)
	if err != nil {
		return pathErr("rename", from, err)
	}
	if !ok {
		if c.view.DirectoryExists(c.ctx, from) {
			return pathErr("rename", from, vfs.ErrUnsupported)
		}
		return pathErr("rename", from, vfs.ErrNotFound)
	}
	if !src.Move(c.ctx, dst) {
		return pathErr("rename", from, vfs.ErrBackend)
	}
	return nil
}

func (c *clientFS) Chmod(name string, _ os.FileMode) error {
	return pathErr("chmod", name, vfs.ErrUnsupported)
}

func (c *clientFS) Chown(name string, _, _ int) error {
	return pathErr("chown", name, vfs.ErrUnsupported)
}

func (c *clientFS) Chtimes(name string, _, _ time.Time) error {
	return pathErr("chtimes", name, vfs.ErrUnsupported)
}

func (c *clientFS) Open(name string) (afero.File, error) {
	return c.OpenFile(name, os.O_RDONLY, 0)
}

func (c *clientFS) Create(name string) (afero.File, error) {
	return c.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (c *clientFS) OpenFile(name string, flag int, _ os.FileMode) (afero.File, error) {
	h, err := c.open(name, flag, 0)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// GetHandle opens a transfer. Write flags start an upload at offset, with
// O_APPEND meaning the current size. Anything else streams a download.
func (c *clientFS) GetHandle(name string, flags int, offset int64) (ftpserver.FileTransfer, error) {
	h, err := c.open(name, flags, offset)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (c *clientFS) open(name string, flags int, offset int64) (*handle, error) {
	e, err := c.view.File(name)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	if e.IsDirectory() {
		return nil, pathErr("open", name, vfs.ErrUnsupported)
	}

	if flags&(os.O_WRONLY|os.O_RDWR) == 0 {
		if !e.IsReadable(c.ctx) {
			if ok, _ := e.Exists(c.ctx); !ok {
				return nil, pathErr("open", name, vfs.ErrNotFound)
			}
			return nil, pathErr("open", name, vfs.ErrPermissionDenied)
		}
		r, err := e.OpenReader(c.ctx, offset)
		if err != nil {
			return nil, pathErr("open", name, err)
		}
		return &handle{name: name, r: r, pos: offset}, nil
	}

	if !e.IsWritable() {
		return nil, pathErr("open", name, vfs.ErrPermissionDenied)
	}
	if flags&os.O_APPEND != 0 {
		if offset, err = c.appendOffset(e); err != nil {
			return nil, pathErr("open", name, err)
		}
	}
	w, err := e.OpenWriter(c.ctx, offset)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	return &handle{name: name, w: w, pos: offset}, nil
}

// appendOffset is the current size, or zero when the file does not exist.
func (c *clientFS) appendOffset(e *vfs.Entry) (int64, error) {
	ok, err := e.Exists(c.ctx)
	if err != nil || !ok {
		return 0, err
	}
	return e.Size(c.ctx)
}

// info is the os.FileInfo of an entry.
type info struct {
	name  string
	size  int64
	mode  os.FileMode
	mtime time.Time
}

func newInfo(e *vfs.Entry, size int64, mtime time.Time) *info {
	mode := os.FileMode(0o644)
	if e.IsDirectory() {
		mode = os.ModeDir | 0o755
	}
	if !e.IsWritable() {
		mode &^= 0o222
	}
	return &info{name: e.Name(), size: size, mode: mode, mtime: mtime}
}

// dirInfo carries the epoch as modification time, directories have none.
func dirInfo(e *vfs.Entry) *info {
	return newInfo(e, 0, time.Unix(0, 0).UTC())
}

func (i *info) Name() string       { return i.name }
func (i *info) Size() int64        { return i.size }
func (i *info) Mode() os.FileMode  { return i.mode }
func (i *info) ModTime() time.Time { return i.mtime }
func (i *info) IsDir() bool        { return i.mode.IsDir() }
func (i *info) Sys() any           { return nil }
