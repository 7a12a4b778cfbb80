package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/sitepix/pkg/cache"
	"github.com/matzehuels/sitepix/pkg/codec"
	"github.com/matzehuels/sitepix/pkg/delivery"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/loader"
	"github.com/matzehuels/sitepix/pkg/observability"
	"github.com/matzehuels/sitepix/pkg/transform"
)

const (
	cacheImmutable = "public, max-age=31536000, immutable"
	cacheNone      = "no-cache"
)

// Handler is the image endpoint. It parses the serialized transform from
// the query string, loads the source, runs the codec and writes the
// encoded image. Identical concurrent requests share one codec run.
type Handler struct {
	Service codec.ServerService
	Loader  loader.Loader

	// Mode picks the Cache-Control policy: immutable in server mode,
	// no-cache in dev mode.
	Mode delivery.Mode

	// Cache holds encoded outputs keyed by the serialized transform and
	// the source version.
	Cache cache.Cache
	Keyer cache.Keyer
	TTL   time.Duration // 0 keeps entries until evicted

	Logger *log.Logger

	group singleflight.Group
}

// NewHandler returns a handler with no output cache.
func NewHandler(svc codec.ServerService, l loader.Loader, mode delivery.Mode, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Handler{
		Service: svc,
		Loader:  l,
		Mode:    mode,
		Cache:   cache.NewNullCache(),
		Keyer:   cache.NewDefaultKeyer(),
		Logger:  logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	t, err := h.Service.Parse(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.Render(r.Context(), t)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", out.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	if h.Mode == delivery.ModeDev {
		w.Header().Set("Cache-Control", cacheNone)
	} else {
		w.Header().Set("Cache-Control", cacheImmutable)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(out.Data)
	}
}

// Render produces the encoded image for t, from the output cache when
// possible. Concurrent calls for the same transform share one result.
func (h *Handler) Render(ctx context.Context, t transform.Transform) (codec.Output, error) {
	key := t.Key()
	v, err, shared := h.group.Do(string(key), func() (any, error) {
		// Detached so one client hanging up does not fail the others.
		return h.render(context.WithoutCancel(ctx), t)
	})
	if shared {
		h.logger().Debug("shared render", "key", key)
	}
	if err != nil {
		return codec.Output{}, err
	}
	return v.(codec.Output), nil
}

func (h *Handler) render(ctx context.Context, t transform.Transform) (codec.Output, error) {
	hooks := observability.Cache()
	store, keyer := h.store()

	version, src, err := h.version(ctx, t.Src)
	if err != nil {
		return codec.Output{}, err
	}
	ckey := keyer.OutputKey(h.Service.Name(), string(t.Key())+"@"+version)

	if data, hit, err := store.Get(ctx, ckey); err == nil && hit {
		hooks.OnCacheHit(ctx, "output")
		return codec.Output{Data: data, Format: t.Format}, nil
	} else if err != nil {
		h.logger().Warn("output cache read failed", "err", err)
	}
	hooks.OnCacheMiss(ctx, "output")

	if src == nil {
		if src, err = h.Loader.Load(ctx, t.Src); err != nil {
			return codec.Output{}, err
		}
	}
	out, err := codec.Run(ctx, h.Service, src, t)
	if err != nil {
		return codec.Output{}, err
	}

	if err := store.Set(ctx, ckey, out.Data, h.TTL); err != nil {
		h.logger().Warn("output cache write failed", "err", err)
	} else {
		hooks.OnCacheSet(ctx, "output", len(out.Data))
	}
	return out, nil
}

// version identifies the current content of src. Loaders that track
// versions answer without reading the bytes; otherwise the source is
// loaded and hashed, and the bytes are returned for reuse.
func (h *Handler) version(ctx context.Context, src string) (string, []byte, error) {
	if v, ok := h.Loader.(loader.Versioner); ok {
		version, err := v.Version(src)
		if err != nil {
			return "", nil, err
		}
		if version != "" {
			return version, nil, nil
		}
	}
	data, err := h.Loader.Load(ctx, src)
	if err != nil {
		return "", nil, err
	}
	return cache.Hash(data), data, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	msg := errs.UserMessage(err)

	switch status {
	case http.StatusBadRequest:
		h.logger().Debug("bad image request", "query", r.URL.RawQuery, "err", msg)
		http.Error(w, "Bad Request: "+msg, status)
	case http.StatusNotFound:
		h.logger().Debug("image source not found", "query", r.URL.RawQuery, "err", msg)
		http.Error(w, "Not Found: "+msg, status)
	default:
		h.logger().Error("image request failed", "query", r.URL.RawQuery, "err", err)
		http.Error(w, "Server Error: "+msg, status)
	}
}

func (h *Handler) store() (cache.Cache, cache.Keyer) {
	store, keyer := h.Cache, h.Keyer
	if store == nil {
		store = cache.NewNullCache()
	}
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	return store, keyer
}

func (h *Handler) logger() *log.Logger {
	if h.Logger == nil {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	return h.Logger
}
