package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
)

// fakeCollection reproduces the two driver behaviors the client depends on:
// duplicate key errors on _id collisions and match counts on filtered
// updates.
type fakeCollection struct {
	mu   sync.Mutex
	docs map[string]stateDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]stateDocument)}
}

func (f *fakeCollection) InsertOne(_ context.Context, document any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := document.(stateDocument)
	if !ok {
		return errors.New("unexpected document type")
	}
	if _, exists := f.docs[doc.Key]; exists {
		return mongodriver.WriteException{WriteErrors: []mongodriver.WriteError{{Code: 11000}}}
	}
	f.docs[doc.Key] = doc
	return nil
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter, update any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fm, ok := filter.(bson.M)
	if !ok {
		return 0, errors.New("unexpected filter type")
	}
	key, _ := fm["_id"].(string)
	cas, _ := fm["cas"].(string)
	cur, exists := f.docs[key]
	if !exists || cur.CAS != cas {
		return 0, nil
	}
	um := update.(bson.M)["$set"].(bson.M)
	cur.CAS = um["cas"].(string)
	cur.Data = um["data"].([]byte)
	f.docs[key] = cur
	return 1, nil
}

func (f *fakeCollection) FindOne(_ context.Context, filter any) singleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, _ := filter.(bson.M)["_id"].(string)
	doc, ok := f.docs[key]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: doc}
}

type fakeSingleResult struct {
	doc stateDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	out, ok := val.(*stateDocument)
	if !ok {
		return errors.New("unexpected decode target")
	}
	*out = r.doc
	return nil
}

func newTestClient(t *testing.T) *client {
	t.Helper()
	c, err := newClientWithCollection(nil, newFakeCollection(), 0)
	require.NoError(t, err)
	return c
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = newClientWithCollection(nil, nil, 0)
	require.Error(t, err)
}

func TestFetchAbsentReturnsNil(t *testing.T) {
	c := newTestClient(t)
	rec, err := c.Fetch(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestInsertThenFetch(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "wf-1", "tok-1", []byte(`{"rev":1}`)))

	rec, err := c.Fetch(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, "tok-1", rec.CAS)
	require.Equal(t, []byte(`{"rev":1}`), rec.Data)
}

func TestInsertDuplicateConflicts(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "wf-1", "tok-1", []byte("a")))
	require.ErrorIs(t, c.Insert(ctx, "wf-1", "tok-2", []byte("b")), ErrConflict)
}

func TestReplaceChecksToken(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "wf-1", "tok-1", []byte("a")))
	require.NoError(t, c.Replace(ctx, "wf-1", "tok-1", "tok-2", []byte("b")))

	require.ErrorIs(t, c.Replace(ctx, "wf-1", "tok-1", "tok-3", []byte("c")), ErrConflict)
	require.ErrorIs(t, c.Replace(ctx, "gone", "tok-2", "tok-3", []byte("c")), ErrConflict)

	rec, err := c.Fetch(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, "tok-2", rec.CAS)
	require.Equal(t, []byte("b"), rec.Data)
}

func TestKeyIsRequired(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.Error(t, c.Insert(ctx, "", "tok", nil))
	require.Error(t, c.Replace(ctx, "", "a", "b", nil))
	_, err := c.Fetch(ctx, "")
	require.Error(t, err)
}
