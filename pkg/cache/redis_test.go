package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c, err := NewRedisCache(context.Background(), RedisOptions{Addr: mr.Addr(), Prefix: "test:"})
	if err != nil {
		t.Fatalf("NewRedisCache error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache(t *testing.T) {
	c, _ := newTestRedis(t)
	exercise(t, c)
}

func TestRedisCacheTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:k") {
		t.Fatal("key should be stored under the prefix")
	}

	mr.FastForward(2 * time.Minute)
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("expired key should miss")
	}
}

func TestRedisCacheClearKeepsOtherPrefixes(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	_ = mr.Set("other:k", "keep")
	_ = c.Set(ctx, "k", []byte("drop"), 0)

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("test:k") {
		t.Error("prefixed key should be cleared")
	}
	if !mr.Exists("other:k") {
		t.Error("keys outside the prefix must survive Clear")
	}
}

func TestNewRedisCacheErrors(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), RedisOptions{}); err == nil {
		t.Error("empty address should fail")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisCache(ctx, RedisOptions{Addr: addr}); err == nil {
		t.Error("unreachable server should fail ping")
	}
}
