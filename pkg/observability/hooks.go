// Package observability provides hooks for metrics and tracing.
//
// Libraries call the registered hooks; main decides what backs them. The
// defaults are no-ops, so packages like build and server can emit events
// unconditionally without depending on a metrics backend.
//
// Register hooks at startup:
//
//	m := observability.NewMetrics(prometheus.NewRegistry())
//	observability.Register(m)
//
// Libraries emit events:
//
//	observability.Transform().OnTransformStart(ctx, codec, key)
//	// ... encode ...
//	observability.Transform().OnTransformComplete(ctx, codec, key, len(data), time.Since(start), err)
package observability

import (
	"context"
	"sync"
	"time"
)

// TransformHooks receives events from codec invocations.
type TransformHooks interface {
	OnTransformStart(ctx context.Context, codec, key string)
	OnTransformComplete(ctx context.Context, codec, key string, size int, duration time.Duration, err error)
}

// BuildHooks receives events from static builds.
type BuildHooks interface {
	OnBuildStart(ctx context.Context, entries int)
	OnBuildComplete(ctx context.Context, written, failed int, duration time.Duration)
}

// CacheHooks receives events from cache lookups. kind is one of
// "output", "meta" or "source".
type CacheHooks interface {
	OnCacheHit(ctx context.Context, kind string)
	OnCacheMiss(ctx context.Context, kind string)
	OnCacheSet(ctx context.Context, kind string, size int)
}

// HTTPHooks receives events from outgoing HTTP requests (remote sources).
type HTTPHooks interface {
	OnRequest(ctx context.Context, method, host, path string)
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)
	OnError(ctx context.Context, method, host, path string, err error)
}

// NoopTransformHooks is a no-op implementation of TransformHooks.
type NoopTransformHooks struct{}

func (NoopTransformHooks) OnTransformStart(context.Context, string, string) {}
func (NoopTransformHooks) OnTransformComplete(context.Context, string, string, int, time.Duration, error) {
}

// NoopBuildHooks is a no-op implementation of BuildHooks.
type NoopBuildHooks struct{}

func (NoopBuildHooks) OnBuildStart(context.Context, int)                        {}
func (NoopBuildHooks) OnBuildComplete(context.Context, int, int, time.Duration) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

var (
	hooksMu        sync.RWMutex
	transformHooks TransformHooks = NoopTransformHooks{}
	buildHooks     BuildHooks     = NoopBuildHooks{}
	cacheHooks     CacheHooks     = NoopCacheHooks{}
	httpHooks      HTTPHooks      = NoopHTTPHooks{}
)

// SetTransformHooks registers transform hooks. Nil is ignored.
func SetTransformHooks(h TransformHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		transformHooks = h
	}
}

// SetBuildHooks registers build hooks. Nil is ignored.
func SetBuildHooks(h BuildHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		buildHooks = h
	}
}

// SetCacheHooks registers cache hooks. Nil is ignored.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers HTTP client hooks. Nil is ignored.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Transform returns the registered transform hooks.
func Transform() TransformHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return transformHooks
}

// Build returns the registered build hooks.
func Build() BuildHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return buildHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Register installs m for every hook category.
func Register(m *Metrics) {
	SetTransformHooks(m)
	SetBuildHooks(m)
	SetCacheHooks(m)
	SetHTTPHooks(m)
}

// Reset restores all hooks to their no-op defaults. Intended for tests.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	transformHooks = NoopTransformHooks{}
	buildHooks = NoopBuildHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
