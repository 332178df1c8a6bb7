// Package s3 provides a blob.Store over S3 conditional writes. The ETag S3
// assigns on each write doubles as the CAS token: creates use If-None-Match
// and replacements use If-Match, so a lost race is a 412 rather than a
// silent overwrite.
package s3

import (
	"context"
	"errors"
	"fmt"

	"goa.design/ratchet/blob"
	clients3 "goa.design/ratchet/blob/s3/clients/s3"
)

// Store is an S3-backed blob.Store.
type Store struct {
	client clients3.Client
	prefix string
}

// Options configures the store.
type Options struct {
	// Client is the S3 wrapper. Required.
	Client clients3.Client
	// Prefix namespaces object keys within the bucket. Optional.
	Prefix string
}

// New returns a Store backed by the given S3 client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("s3 client is required")
	}
	return &Store{client: opts.Client, prefix: opts.Prefix}, nil
}

// Get returns the record at key, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, key string) (*blob.Rec, error) {
	obj, err := s.client.GetObject(ctx, s.prefix+key)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return &blob.Rec{Data: obj.Data, CAS: obj.ETag}, nil
}

// Put writes data at key, conditioned on cas, and returns the new token.
func (s *Store) Put(ctx context.Context, key string, data []byte, cas string) (string, error) {
	var (
		etag string
		err  error
	)
	if cas == "" {
		etag, err = s.client.CreateObject(ctx, s.prefix+key, data)
	} else {
		etag, err = s.client.ReplaceObject(ctx, s.prefix+key, data, cas)
	}
	if err != nil {
		if errors.Is(err, clients3.ErrPrecondition) {
			return "", blob.ErrConflict
		}
		return "", fmt.Errorf("s3 put %q: %w", key, err)
	}
	return etag, nil
}
