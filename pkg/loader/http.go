package loader

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/sitepix/pkg/cache"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/httputil"
	"github.com/matzehuels/sitepix/pkg/observability"
)

// HTTPLoader fetches remote sources and keeps them in a cache for TTL.
type HTTPLoader struct {
	Client *httputil.Client
	Cache  cache.Cache
	Keyer  cache.Keyer
	TTL    time.Duration
	Logger *log.Logger
}

// NewHTTPLoader returns a loader using client and c. A nil cache disables
// caching.
func NewHTTPLoader(client *httputil.Client, c cache.Cache, ttl time.Duration) *HTTPLoader {
	if c == nil {
		c = cache.NewNullCache()
	}
	return &HTTPLoader{Client: client, Cache: c, Keyer: cache.NewDefaultKeyer(), TTL: ttl}
}

func (l *HTTPLoader) Load(ctx context.Context, src string) ([]byte, error) {
	if err := errs.ValidateURL(src); err != nil {
		return nil, err
	}
	key := l.Keyer.SourceKey(src)
	hooks := observability.Cache()

	data, hit, err := l.Cache.Get(ctx, key)
	if err != nil {
		l.logger().Warn("source cache read failed", "src", src, "err", err)
	}
	if hit {
		hooks.OnCacheHit(ctx, "source")
		return data, nil
	}
	hooks.OnCacheMiss(ctx, "source")

	resp, err := l.Client.Get(ctx, src)
	if err != nil {
		return nil, err
	}

	if err := l.Cache.Set(ctx, key, resp.Body, l.TTL); err != nil {
		l.logger().Warn("source cache write failed", "src", src, "err", err)
	} else {
		hooks.OnCacheSet(ctx, "source", len(resp.Body))
	}
	l.logger().Debug("fetched remote source", "src", src, "bytes", len(resp.Body))
	return resp.Body, nil
}

func (l *HTTPLoader) logger() *log.Logger {
	if l.Logger == nil {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	return l.Logger
}

var _ Loader = (*HTTPLoader)(nil)
