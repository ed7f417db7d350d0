// Package memcache provides the distributed cache client used for read-through
// caching of rendered documents and shared secrets.
//
// Two implementations are provided: a Redis-backed client for deployments that
// run more than one process, and an in-memory client for single-process use
// and tests.
package memcache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is not present.
var ErrCacheMiss = errors.New("memcache: cache miss")

// Client is a byte-oriented key/value cache.
type Client interface {
	// Get returns the value stored under key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// FlushAll removes every key owned by this client.
	FlushAll(ctx context.Context) error

	// Close releases any underlying connections.
	Close() error
}
