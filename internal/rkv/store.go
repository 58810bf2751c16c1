// Package rkv is the boundary to the shared key-value backend. The core only
// relies on four primitives (INCR, EXPIRE, GET, and glob-style KEYS) with
// at-least-once delivery and no transactions.
package rkv

import (
	"context"
	"time"
)

// Store is the write/read surface the ingestion agent and the tests use
// against a single backend.
type Store interface {
	// Incr atomically increments the counter at key by one and returns the
	// stored value. A return of 1 means the increment created the key.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the key's time to live. Applied by callers only when Incr
	// reports creation, so a continuously hot bucket still ages out.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Get returns the stored value, or errors.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Keys enumerates keys matching a glob pattern ('*' wildcard).
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Reader is the injected read capability the fanout consumers use: the same
// query issued against a specific endpoint. Implementations decide what an
// endpoint identifier means (a backend address, a proxy zone, a fixture).
type Reader interface {
	Get(ctx context.Context, endpoint, key string) (string, error)
	Keys(ctx context.Context, endpoint, pattern string) ([]string, error)
}
