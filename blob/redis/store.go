// Package redis provides a blob.Store backed by Redis. Each key maps to one
// hash holding the payload and its CAS token; a Lua script makes the
// token check and the write a single atomic step.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"goa.design/ratchet/blob"
)

const (
	defaultOpTimeout = 5 * time.Second
	clientName       = "blob-redis"
)

// casPut checks the stored token and writes the new record atomically.
// An empty expected token means "create only". Returns 1 on success, 0 on
// a token mismatch.
var casPut = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'cas')
if ARGV[1] == '' then
  if cur then return 0 end
else
  if not cur or cur ~= ARGV[1] then return 0 end
end
redis.call('HSET', KEYS[1], 'cas', ARGV[2], 'data', ARGV[3])
return 1
`)

// Options configures the Redis blob store.
type Options struct {
	// Client is the Redis connection. Required. Callers own its lifecycle.
	Client redis.UniversalClient
	// Prefix namespaces keys within the Redis keyspace. Optional.
	Prefix string
	// Timeout bounds individual operations. Zero uses a default.
	Timeout time.Duration
}

// Store is a Redis-backed blob.Store. It also implements clue health's
// Pinger so workers can surface Redis connectivity.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// New returns a Store backed by the given Redis connection.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{client: opts.Client, prefix: opts.Prefix, timeout: timeout}, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.client.Ping(ctx).Err()
}

// Get returns the record at key, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, key string) (*blob.Rec, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	vals, err := s.client.HMGet(ctx, s.prefix+key, "cas", "data").Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	cas, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}
	data, _ := vals[1].(string)
	return &blob.Rec{Data: []byte(data), CAS: cas}, nil
}

// Put writes data at key when cas matches the stored token (or when cas is
// empty and the key is absent) and returns the new token.
func (s *Store) Put(ctx context.Context, key string, data []byte, cas string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	next := uuid.NewString()
	ok, err := casPut.Run(ctx, s.client, []string{s.prefix + key}, cas, next, data).Int()
	if err != nil {
		return "", fmt.Errorf("redis put %q: %w", key, err)
	}
	if ok == 0 {
		return "", blob.ErrConflict
	}
	return next, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
