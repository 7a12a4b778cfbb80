// Package cache provides byte-oriented caches for codec output, probed
// metadata and fetched remote sources.
//
// All implementations satisfy [Cache]. Keys are opaque strings; use a
// [Keyer] to build them so different kinds of entries never collide.
//
//   - [FileCache]: sharded files under a directory, for the CLI and builds
//   - [RedisCache]: shared cache for multiple server instances
//   - [MemoryCache]: bounded in-process cache
//   - [NullCache]: never stores anything
package cache

import (
	"context"
	"time"
)

// Cache stores byte slices under string keys with an optional TTL.
//
// Get reports a miss as (nil, false, nil); an error means the backend
// itself failed. A TTL of 0 means the entry never expires.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Clearer is implemented by caches that can drop every entry at once.
type Clearer interface {
	Clear(ctx context.Context) error
}

// NullCache is a no-op cache. Every Get is a miss.
type NullCache struct{}

// NewNullCache returns a cache that discards everything.
func NewNullCache() Cache { return NullCache{} }

func (NullCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NullCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NullCache) Delete(context.Context, string) error                     { return nil }
func (NullCache) Clear(context.Context) error                              { return nil }
func (NullCache) Close() error                                             { return nil }

var _ Cache = NullCache{}
