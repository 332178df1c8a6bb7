package s3

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/ratchet/blob"
	"goa.design/ratchet/blob/blobtest"
	clients3 "goa.design/ratchet/blob/s3/clients/s3"
)

// fakeClient implements the S3 wrapper contract in memory so the store can
// be held to the blob conformance suite without a bucket.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string]clients3.Object
	seq     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string]clients3.Object)}
}

func (f *fakeClient) Name() string { return "fake-s3" }

func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) GetObject(_ context.Context, key string) (*clients3.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, nil
	}
	cp := obj
	return &cp, nil
}

func (f *fakeClient) CreateObject(_ context.Context, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; ok {
		return "", clients3.ErrPrecondition
	}
	return f.write(key, data), nil
}

func (f *fakeClient) ReplaceObject(_ context.Context, key string, data []byte, etag string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.objects[key]
	if !ok || cur.ETag != etag {
		return "", clients3.ErrPrecondition
	}
	return f.write(key, data), nil
}

func (f *fakeClient) write(key string, data []byte) string {
	f.seq++
	etag := fmt.Sprintf("%q", fmt.Sprintf("v%d", f.seq))
	f.objects[key] = clients3.Object{Data: data, ETag: etag}
	return etag
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestConformance(t *testing.T) {
	blobtest.RunConformance(t, func(t *testing.T) blob.Store {
		store, err := New(Options{Client: newFakeClient()})
		require.NoError(t, err)
		return store
	})
}

func TestPrefixNamespacesObjectKeys(t *testing.T) {
	fake := newFakeClient()
	store, err := New(Options{Client: fake, Prefix: "wf/"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "wf-1", []byte("state"), "")
	require.NoError(t, err)

	obj, err := fake.GetObject(ctx, "wf/wf-1")
	require.NoError(t, err)
	require.NotNil(t, obj)

	rec, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, []byte("state"), rec.Data)
}
