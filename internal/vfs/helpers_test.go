package vfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"s3ftp/pkg/object"
	"s3ftp/pkg/sqlite"

	"github.com/stretchr/testify/require"
)

const testBucket = "test"

var testOpts = Options{
	BufferSize:      16,
	MinPartSize:     8,
	MaxListKeys:     100,
	MaxAppendOffset: 64,
}

type testUser struct {
	name     string
	home     string
	readOnly bool
}

func (u testUser) Name() string { return u.name }
func (u testUser) Home() string { return u.home }
func (u testUser) Authorize(_ string, intent Intent) bool {
	return intent == IntentRead || !u.readOnly
}

var alice = testUser{name: "alice", home: "local:" + testBucket}

// countingStore counts backend calls per operation and can inject faults.
type countingStore struct {
	object.ObjectStorage

	mu        sync.Mutex
	calls     map[string]int
	fail      map[string]error
	partSizes []int64
}

func (c *countingStore) hit(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	return c.fail[op]
}

func (c *countingStore) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *countingStore) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *countingStore) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = map[string]int{}
	c.partSizes = nil
}

func (c *countingStore) failOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[op] = err
}

func (c *countingStore) Close(ctx context.Context) error {
	if err := c.hit("close"); err != nil {
		return err
	}
	return nil
}

func (c *countingStore) Stat(ctx context.Context, key string) (object.Object, error) {
	if err := c.hit("stat"); err != nil {
		return object.Object{}, err
	}
	return c.ObjectStorage.Stat(ctx, key)
}

func (c *countingStore) List(ctx context.Context, opts object.ListOptions) (object.ListResult, error) {
	if err := c.hit("list"); err != nil {
		return object.ListResult{}, err
	}
	return c.ObjectStorage.List(ctx, opts)
}

func (c *countingStore) Get(ctx context.Context, key string, rng *object.Range) (object.Object, io.ReadCloser, error) {
	if err := c.hit("get"); err != nil {
		return object.Object{}, nil, err
	}
	return c.ObjectStorage.Get(ctx, key, rng)
}

func (c *countingStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, meta map[string]string) (object.Object, error) {
	if err := c.hit("put"); err != nil {
		return object.Object{}, err
	}
	return c.ObjectStorage.Put(ctx, key, r, size, contentType, meta)
}

func (c *countingStore) Copy(ctx context.Context, src, dst string) error {
	if err := c.hit("copy"); err != nil {
		return err
	}
	return c.ObjectStorage.Copy(ctx, src, dst)
}

func (c *countingStore) Delete(ctx context.Context, key string) error {
	if err := c.hit("delete"); err != nil {
		return err
	}
	return c.ObjectStorage.Delete(ctx, key)
}

func (c *countingStore) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	if err := c.hit("create"); err != nil {
		return "", err
	}
	return c.ObjectStorage.CreateMultipartUpload(ctx, key, contentType)
}

func (c *countingStore) UploadPart(ctx context.Context, key, uploadID string, number int32, r io.Reader, size int64) (object.Part, error) {
	if err := c.hit("upload"); err != nil {
		return object.Part{}, err
	}
	c.mu.Lock()
	c.partSizes = append(c.partSizes, size)
	c.mu.Unlock()
	return c.ObjectStorage.UploadPart(ctx, key, uploadID, number, r, size)
}

func (c *countingStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []object.Part) (object.Object, error) {
	if err := c.hit("complete"); err != nil {
		return object.Object{}, err
	}
	return c.ObjectStorage.CompleteMultipartUpload(ctx, key, uploadID, parts)
}

// newBackend returns a sqlite store that enforces the test minimum part
// size, wrapped in a call counter. Close on the wrapper does not reach
// sqlite, so tests can inspect the backend after Dispose.
func newBackend(t *testing.T) (*countingStore, *sqlite.Storage) {
	t.Helper()
	ctx := context.Background()
	src := fmt.Sprintf("file:%s?cache=shared&mode=rwc", filepath.Join(t.TempDir(), "objects.db"))

	st := &sqlite.Storage{}
	require.NoError(t, st.Init(ctx, sqlite.Config{
		Source:         src,
		AllowOverwrite: true,
		MinPartSize:    testOpts.MinPartSize,
	}))
	t.Cleanup(func() { _ = st.Close(ctx) })

	return &countingStore{
		ObjectStorage: st,
		calls:         map[string]int{},
		fail:          map[string]error{},
	}, st
}

func newView(t *testing.T, root string, p Principal) (*View, *countingStore, *sqlite.Storage) {
	t.Helper()
	cs, st := newBackend(t)
	v, err := NewView(cs, testBucket, root, p, testOpts)
	require.NoError(t, err)
	return v, cs, st
}

func putObject(t *testing.T, st object.ObjectStorage, key, content string) {
	t.Helper()
	_, err := st.Put(context.Background(), key, bytes.NewReader([]byte(content)), int64(len(content)), "", nil)
	require.NoError(t, err)
}

func readObject(t *testing.T, st object.ObjectStorage, key string) string {
	t.Helper()
	_, rc, err := st.Get(context.Background(), key, nil)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}
