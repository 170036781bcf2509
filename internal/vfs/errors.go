package vfs

import (
	"errors"
	"fmt"

	"s3ftp/pkg/object"
	"s3ftp/pkg/pathbuilder"
)

var (
	ErrNotFound         = errors.New("vfs: not found")
	ErrInvalidPath      = pathbuilder.ErrInvalidPath
	ErrPermissionDenied = errors.New("vfs: permission denied")
	ErrOffsetTooLarge   = errors.New("vfs: offset too large")
	ErrBackend          = errors.New("vfs: backend fault")
	ErrUnsupported      = errors.New("vfs: unsupported operation")
	ErrClosed           = errors.New("vfs: writer closed")
	ErrInvalidHome      = errors.New("vfs: invalid home directory")
)

// fault classifies a backend error. Missing objects become ErrNotFound,
// everything else ErrBackend; the backend error stays in the chain.
func fault(op, key string, err error) error {
	if errors.Is(err, object.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w: %w", op, key, ErrBackend, err)
}
