package vfs

import (
	"context"
	"fmt"

	"s3ftp/pkg/object"
)

// Opener opens a fresh backend client for a bucket of a named store.
type Opener interface {
	Open(ctx context.Context, store, bucket string) (object.ObjectStorage, error)
}

// Factory builds one View per authenticated session.
type Factory struct {
	opener Opener
	opts   Options
}

func NewFactory(opener Opener, opts Options) (*Factory, error) {
	opts, err := opts.Validate()
	if err != nil {
		return nil, err
	}
	return &Factory{opener: opener, opts: opts}, nil
}

// CreateView opens the store named by the principal's home and roots a
// view at the home's path.
func (f *Factory) CreateView(ctx context.Context, p Principal) (*View, error) {
	home, err := ParseHome(p.Home())
	if err != nil {
		return nil, err
	}

	store, err := f.opener.Open(ctx, home.Store, home.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", home, err)
	}

	v, err := NewView(store, home.Bucket, home.Path, p, f.opts)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return v, nil
}
