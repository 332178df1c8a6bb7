// Package blobtest provides the conformance suite every blob.Store backend
// must pass. Backend test files call RunConformance with a factory so the
// in-memory reference, Redis, S3 and MongoDB stores are all held to the same
// CAS semantics.
package blobtest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/ratchet/blob"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) blob.Store

// RunConformance exercises the blob.Store contract against the factory's
// stores.
func RunConformance(t *testing.T, factory Factory) {
	t.Run("GetAbsent", func(t *testing.T) {
		store := factory(t)
		rec, err := store.Get(context.Background(), "missing")
		require.NoError(t, err)
		require.Nil(t, rec)
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		tok, err := store.Put(ctx, "k", []byte(`{"v":1}`), "")
		require.NoError(t, err)
		require.NotEmpty(t, tok)

		rec, err := store.Get(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.Equal(t, []byte(`{"v":1}`), rec.Data)
		require.Equal(t, tok, rec.CAS)
	})

	t.Run("CreateExistingConflicts", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		_, err := store.Put(ctx, "k", []byte("a"), "")
		require.NoError(t, err)

		_, err = store.Put(ctx, "k", []byte("b"), "")
		require.ErrorIs(t, err, blob.ErrConflict)
	})

	t.Run("ReplaceWithMatchingToken", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		tok1, err := store.Put(ctx, "k", []byte("a"), "")
		require.NoError(t, err)

		tok2, err := store.Put(ctx, "k", []byte("b"), tok1)
		require.NoError(t, err)
		require.NotEqual(t, tok1, tok2)

		rec, err := store.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("b"), rec.Data)
		require.Equal(t, tok2, rec.CAS)
	})

	t.Run("StaleTokenConflicts", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		tok1, err := store.Put(ctx, "k", []byte("a"), "")
		require.NoError(t, err)
		_, err = store.Put(ctx, "k", []byte("b"), tok1)
		require.NoError(t, err)

		_, err = store.Put(ctx, "k", []byte("c"), tok1)
		require.ErrorIs(t, err, blob.ErrConflict)

		rec, err := store.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("b"), rec.Data)
	})

	t.Run("ReplaceAbsentConflicts", func(t *testing.T) {
		store := factory(t)
		_, err := store.Put(context.Background(), "nope", []byte("x"), "42")
		require.ErrorIs(t, err, blob.ErrConflict)
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		tokA, err := store.Put(ctx, "a", []byte("a1"), "")
		require.NoError(t, err)
		_, err = store.Put(ctx, "b", []byte("b1"), "")
		require.NoError(t, err)

		_, err = store.Put(ctx, "a", []byte("a2"), tokA)
		require.NoError(t, err)

		rec, err := store.Get(ctx, "b")
		require.NoError(t, err)
		require.Equal(t, []byte("b1"), rec.Data)
	})

	t.Run("ConcurrentCASSingleWinner", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		tok, err := store.Put(ctx, "k", []byte("base"), "")
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		wins := make(chan string, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next, err := store.Put(ctx, "k", []byte("contender"), tok)
				if err == nil {
					wins <- next
				}
			}()
		}
		wg.Wait()
		close(wins)

		var winners []string
		for w := range wins {
			winners = append(winners, w)
		}
		require.Len(t, winners, 1)
	})
}
