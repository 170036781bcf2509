package vfs

import (
	"context"
	"errors"
	"testing"

	"s3ftp/pkg/object"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHome(t *testing.T) {
	tests := []struct {
		in   string
		want Home
	}{
		{"test:demo/123", Home{Store: "test", Bucket: "demo", Path: "123"}},
		{"test:demo", Home{Store: "test", Bucket: "demo"}},
		{" test : demo/a/b/ ", Home{Store: "test", Bucket: "demo", Path: "a/b"}},
		{"s:b/a/../c", Home{Store: "s", Bucket: "b", Path: "c"}},
	}
	for _, tt := range tests {
		got, err := ParseHome(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "demo", ":demo", "test:", "test:/x", "a:b:c", "s:b/../.."} {
		_, err := ParseHome(bad)
		assert.ErrorIs(t, err, ErrInvalidHome, bad)
	}
}

func TestHomeString(t *testing.T) {
	assert.Equal(t, "s:b", Home{Store: "s", Bucket: "b"}.String())
	assert.Equal(t, "s:b/p/q", Home{Store: "s", Bucket: "b", Path: "p/q"}.String())
}

type openerFunc func(ctx context.Context, store, bucket string) (object.ObjectStorage, error)

func (f openerFunc) Open(ctx context.Context, store, bucket string) (object.ObjectStorage, error) {
	return f(ctx, store, bucket)
}

func TestFactoryCreateView(t *testing.T) {
	ctx := context.Background()
	cs, st := newBackend(t)
	putObject(t, st, "users/alice/notes.txt", "n")

	var gotStore, gotBucket string
	f, err := NewFactory(openerFunc(func(_ context.Context, store, bucket string) (object.ObjectStorage, error) {
		gotStore, gotBucket = store, bucket
		return cs, nil
	}), testOpts)
	require.NoError(t, err)

	v, err := f.CreateView(ctx, testUser{name: "alice", home: "main:files/users/alice"})
	require.NoError(t, err)
	assert.Equal(t, "main", gotStore)
	assert.Equal(t, "files", gotBucket)
	assert.Equal(t, "files", v.Bucket())
	assert.Equal(t, "users/alice/", v.Home().Key())

	e, err := v.File("notes.txt")
	require.NoError(t, err)
	ok, err := e.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, v.Dispose())
	assert.Equal(t, 1, cs.count("close"))
}

func TestFactoryErrors(t *testing.T) {
	ctx := context.Background()
	unknown := errors.New("unknown store")
	f, err := NewFactory(openerFunc(func(context.Context, string, string) (object.ObjectStorage, error) {
		return nil, unknown
	}), Options{})
	require.NoError(t, err)

	_, err = f.CreateView(ctx, testUser{home: "nocolon"})
	assert.ErrorIs(t, err, ErrInvalidHome)

	_, err = f.CreateView(ctx, testUser{home: "x:b"})
	assert.ErrorIs(t, err, unknown)

	_, err = NewFactory(nil, Options{BufferSize: 1 << 20})
	assert.Error(t, err, "a buffer below the minimum part size is rejected")
}
