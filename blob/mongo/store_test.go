package mongo

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/ratchet/blob"
	"goa.design/ratchet/blob/blobtest"
	clientmongo "goa.design/ratchet/blob/mongo/clients/mongo"
)

// fakeClient implements the Mongo wrapper contract in memory so the store
// can be held to the blob conformance suite without a server.
type fakeClient struct {
	mu   sync.Mutex
	recs map[string]clientmongo.Record
}

func newFakeClient() *fakeClient {
	return &fakeClient{recs: make(map[string]clientmongo.Record)}
}

func (f *fakeClient) Name() string { return "fake-mongo" }

func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) Insert(_ context.Context, key, cas string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.recs[key]; exists {
		return clientmongo.ErrConflict
	}
	f.recs[key] = clientmongo.Record{CAS: cas, Data: data}
	return nil
}

func (f *fakeClient) Replace(_ context.Context, key, oldCAS, newCAS string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, exists := f.recs[key]
	if !exists || cur.CAS != oldCAS {
		return clientmongo.ErrConflict
	}
	f.recs[key] = clientmongo.Record{CAS: newCAS, Data: data}
	return nil
}

func (f *fakeClient) Fetch(_ context.Context, key string) (*clientmongo.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[key]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestConformance(t *testing.T) {
	blobtest.RunConformance(t, func(t *testing.T) blob.Store {
		store, err := New(newFakeClient())
		require.NoError(t, err)
		return store
	})
}
