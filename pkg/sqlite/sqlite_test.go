package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"testing"

	"s3ftp/pkg/object"
)

func newTestStorage(t *testing.T, allowOverwrite bool) *Storage {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "objects.db")
	src := fmt.Sprintf("file:%s?cache=shared&mode=rwc", dbPath)

	st := &Storage{}
	if err := st.Init(ctx, Config{
		Source:         src,
		AllowOverwrite: allowOverwrite,
	}); err != nil {
		t.Fatalf("init storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(ctx) })
	return st
}

func put(t *testing.T, st *Storage, key, content string) {
	t.Helper()
	if _, err := st.Put(context.Background(), key, bytes.NewReader([]byte(content)), int64(len(content)), "", nil); err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
}

func TestSQLiteObjectStorage(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, true)

	key := "unit-test-key"
	content := []byte("abcdefghijklmnopqrstuvwxyz")
	meta := map[string]string{"owner": "unit-test", "purpose": "object-storage"}
	contentType := "text/plain"

	putObj, err := st.Put(ctx, key, bytes.NewReader(content), int64(len(content)), contentType, meta)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if putObj.Key != key {
		t.Fatalf("Put: expected key %s got %s", key, putObj.Key)
	}
	if putObj.Size != int64(len(content)) {
		t.Fatalf("Put: expected size %d got %d", len(content), putObj.Size)
	}
	if putObj.ContentType != contentType {
		t.Fatalf("Put: expected content type %s got %s", contentType, putObj.ContentType)
	}
	for k, v := range meta {
		if putObj.CustomMeta[k] != v {
			t.Fatalf("Put: expected meta %s=%s got %s", k, v, putObj.CustomMeta[k])
		}
	}

	statObj, err := st.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if statObj.Size != putObj.Size || statObj.ETag != putObj.ETag {
		t.Fatalf("Stat: metadata mismatch, got size %d etag %s", statObj.Size, statObj.ETag)
	}

	gotObj, rc, err := st.Get(ctx, key, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Get read: %v", err)
	}
	if string(body) != string(content) {
		t.Fatalf("Get: content mismatch, got %q want %q", string(body), string(content))
	}
	if gotObj.Size != int64(len(content)) {
		t.Fatalf("Get: expected size %d got %d", len(content), gotObj.Size)
	}

	rng := &object.Range{Start: 5, End: 9}
	_, rangeRC, err := st.Get(ctx, key, rng)
	if err != nil {
		t.Fatalf("Get range: %v", err)
	}
	defer rangeRC.Close()
	rangeData, err := io.ReadAll(rangeRC)
	if err != nil {
		t.Fatalf("Get range read: %v", err)
	}
	if string(rangeData) != "fghij" {
		t.Fatalf("Get range: expected %q got %q", "fghij", string(rangeData))
	}

	_, openRC, err := st.Get(ctx, key, &object.Range{Start: 20, End: -1})
	if err != nil {
		t.Fatalf("Get open range: %v", err)
	}
	defer openRC.Close()
	openData, _ := io.ReadAll(openRC)
	if string(openData) != "uvwxyz" {
		t.Fatalf("Get open range: expected %q got %q", "uvwxyz", string(openData))
	}

	if _, _, err := st.Get(ctx, key, &object.Range{Start: 26, End: -1}); !errors.Is(err, object.ErrInvalidRange) {
		t.Fatalf("Get past end: expected ErrInvalidRange got %v", err)
	}

	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Stat(ctx, key); err == nil || !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("Stat after delete: expected ErrNotFound got %v", err)
	}
	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
}

func TestSQLiteListDelimiter(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, true)

	for _, k := range []string{"1.txt", "a/2.txt", "a/3", "a/b/4", "a/b/c/", "ab/5", "b"} {
		put(t, st, k, k)
	}

	res, err := st.List(ctx, object.ListOptions{Delimiter: "/"})
	if err != nil {
		t.Fatalf("List root: %v", err)
	}
	if got, want := res.CommonPrefixes, []string{"a/", "ab/"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List root prefixes: got %v want %v", got, want)
	}
	if got, want := keys(res.Objects), []string{"1.txt", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List root objects: got %v want %v", got, want)
	}

	res, err = st.List(ctx, object.ListOptions{Prefix: "a/", Delimiter: "/"})
	if err != nil {
		t.Fatalf("List a/: %v", err)
	}
	if got, want := res.CommonPrefixes, []string{"a/b/"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List a/ prefixes: got %v want %v", got, want)
	}
	if got, want := keys(res.Objects), []string{"a/2.txt", "a/3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List a/ objects: got %v want %v", got, want)
	}

	res, err = st.List(ctx, object.ListOptions{Prefix: "a/"})
	if err != nil {
		t.Fatalf("List a/ recursive: %v", err)
	}
	if got, want := keys(res.Objects), []string{"a/2.txt", "a/3", "a/b/4", "a/b/c/"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List a/ recursive: got %v want %v", got, want)
	}
}

func TestSQLiteListMaxKeys(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, true)

	for _, k := range []string{"d/x/1", "d/x/2", "d/y", "d/z"} {
		put(t, st, k, k)
	}

	res, err := st.List(ctx, object.ListOptions{Prefix: "d/", MaxKeys: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Objects) != 1 || !res.Truncated {
		t.Fatalf("List: expected one truncated result, got %d objects truncated=%v", len(res.Objects), res.Truncated)
	}

	res, err = st.List(ctx, object.ListOptions{Prefix: "d/", Delimiter: "/", MaxKeys: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.CommonPrefixes) != 1 || len(res.Objects) != 1 || !res.Truncated {
		t.Fatalf("List: got prefixes %v objects %v truncated=%v", res.CommonPrefixes, keys(res.Objects), res.Truncated)
	}

	res, err = st.List(ctx, object.ListOptions{Prefix: "nothing/", MaxKeys: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Objects) != 0 || len(res.CommonPrefixes) != 0 {
		t.Fatalf("List empty prefix: got %+v", res)
	}
}

func TestSQLiteListWildcardsAreLiteral(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, true)

	put(t, st, "a_b/1", "1")
	put(t, st, "axb/2", "2")

	res, err := st.List(ctx, object.ListOptions{Prefix: "a_b/"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got, want := keys(res.Objects), []string{"a_b/1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List: got %v want %v", got, want)
	}
}

func TestSQLiteCopy(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, true)

	if _, err := st.Put(ctx, "src", bytes.NewReader([]byte("payload")), 7, "text/plain", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Copy(ctx, "src", "dst"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	obj, err := st.Stat(ctx, "dst")
	if err != nil {
		t.Fatalf("Stat dst: %v", err)
	}
	if obj.Size != 7 || obj.ContentType != "text/plain" {
		t.Fatalf("Stat dst: got size %d type %q", obj.Size, obj.ContentType)
	}
	if err := st.Copy(ctx, "missing", "dst2"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("Copy missing: expected ErrNotFound got %v", err)
	}
}

func TestSQLiteMultipartUpload(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, true)

	key := "multipart-key"
	chunks := [][]byte{
		bytes.Repeat([]byte("a"), 64*1024),
		bytes.Repeat([]byte("b"), 64*1024),
		[]byte("tail"),
	}

	uploadID, err := st.CreateMultipartUpload(ctx, key, "application/octet-stream")
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}

	var parts []object.Part
	for i, c := range chunks {
		p, err := st.UploadPart(ctx, key, uploadID, int32(i+1), bytes.NewReader(c), int64(len(c)))
		if err != nil {
			t.Fatalf("UploadPart %d: %v", i+1, err)
		}
		parts = append(parts, p)
	}

	putObj, err := st.CompleteMultipartUpload(ctx, key, uploadID, parts)
	if err != nil {
		t.Fatalf("CompleteMultipartUpload: %v", err)
	}
	if putObj.Size != int64(64*1024*2+4) {
		t.Fatalf("CompleteMultipartUpload: unexpected size %d", putObj.Size)
	}
	if putObj.ContentType != "application/octet-stream" {
		t.Fatalf("CompleteMultipartUpload: unexpected content type %q", putObj.ContentType)
	}

	_, rc, err := st.Get(ctx, key, nil)
	if err != nil {
		t.Fatalf("Get after multipart: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Get read after multipart: %v", err)
	}
	if !bytes.Equal(body, bytes.Join(chunks, nil)) {
		t.Fatalf("Get after multipart: content mismatch")
	}

	pending, err := st.PendingUploads(ctx)
	if err != nil {
		t.Fatalf("PendingUploads: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("PendingUploads: expected none after complete, got %v", pending)
	}
}

func TestSQLiteMultipartErrors(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, true)
	st.minPartSize = 10

	if _, err := st.UploadPart(ctx, "k", "nope", 1, bytes.NewReader([]byte("x")), 1); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("UploadPart unknown upload: expected ErrNotFound got %v", err)
	}

	uploadID, err := st.CreateMultipartUpload(ctx, "k", "")
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}
	p1, err := st.UploadPart(ctx, "k", uploadID, 1, bytes.NewReader([]byte("short")), 5)
	if err != nil {
		t.Fatalf("UploadPart: %v", err)
	}
	p2, err := st.UploadPart(ctx, "k", uploadID, 2, bytes.NewReader([]byte("x")), 1)
	if err != nil {
		t.Fatalf("UploadPart: %v", err)
	}

	if _, err := st.CompleteMultipartUpload(ctx, "k", uploadID, []object.Part{p2, p1}); err == nil {
		t.Fatal("Complete out of order: expected error")
	}
	if _, err := st.CompleteMultipartUpload(ctx, "k", uploadID, []object.Part{p1, p2}); !errors.Is(err, ErrPartTooSmall) {
		t.Fatalf("Complete small part: expected ErrPartTooSmall got %v", err)
	}
	if _, err := st.CompleteMultipartUpload(ctx, "other", uploadID, []object.Part{p1}); err == nil {
		t.Fatal("Complete with wrong key: expected error")
	}

	pending, err := st.PendingUploads(ctx)
	if err != nil {
		t.Fatalf("PendingUploads: %v", err)
	}
	if len(pending) != 1 || pending[0] != uploadID {
		t.Fatalf("PendingUploads: got %v", pending)
	}
}

func TestSQLiteConflict(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, false) // no overwrite

	key := "conflict-key"
	content := []byte("first")

	if _, err := st.Put(ctx, key, bytes.NewReader(content), int64(len(content)), "", nil); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if _, err := st.Put(ctx, key, bytes.NewReader([]byte("second")), -1, "", nil); !errors.Is(err, object.ErrConflict) {
		t.Fatalf("second Put: expected ErrConflict got %v", err)
	}
}

func TestSQLiteInvalidTable(t *testing.T) {
	st := &Storage{}
	err := st.Init(context.Background(), Config{Source: "file::memory:", Table: "bad-name"})
	if err == nil {
		t.Fatal("Init: expected error for invalid table name")
	}
}

func keys(objs []object.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Key)
	}
	return out
}
