// Package mongo provides a blob.Store over a MongoDB collection. Each key is
// one document keyed by _id; creates lean on the _id unique index and
// replacements filter on the expected CAS token, so both are single atomic
// operations.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"goa.design/ratchet/blob"
	clientmongo "goa.design/ratchet/blob/mongo/clients/mongo"
)

// Store is a Mongo-backed blob.Store.
type Store struct {
	client clientmongo.Client
}

// New returns a Store backed by the given Mongo client.
func New(client clientmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("mongo client is required")
	}
	return &Store{client: client}, nil
}

// Get returns the record at key, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, key string) (*blob.Rec, error) {
	rec, err := s.client.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &blob.Rec{Data: rec.Data, CAS: rec.CAS}, nil
}

// Put writes data at key, conditioned on cas, and returns the new token.
func (s *Store) Put(ctx context.Context, key string, data []byte, cas string) (string, error) {
	next := uuid.NewString()
	var err error
	if cas == "" {
		err = s.client.Insert(ctx, key, next, data)
	} else {
		err = s.client.Replace(ctx, key, cas, next, data)
	}
	if err != nil {
		if errors.Is(err, clientmongo.ErrConflict) {
			return "", blob.ErrConflict
		}
		return "", fmt.Errorf("mongo put %q: %w", key, err)
	}
	return next, nil
}
