package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/sitepix/pkg/cache"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/observability"
	"github.com/matzehuels/sitepix/pkg/transform"
)

var formatsByMIME = map[string]transform.Format{
	"image/jpeg": transform.FormatJPEG,
	"image/png":  transform.FormatPNG,
	"image/gif":  transform.FormatGIF,
	"image/webp": transform.FormatWebP,
	"image/avif": transform.FormatAVIF,
	"image/bmp":  transform.FormatBMP,
	"image/tiff": transform.FormatTIFF,
}

// Probe reads the natural size and format of an encoded image without
// decoding its pixels. The format comes from content sniffing, not the
// file extension.
func Probe(src string, data []byte) (transform.Metadata, error) {
	mt := mimetype.Detect(data)
	format, ok := formatsByMIME[mt.String()]
	if !ok {
		return transform.Metadata{}, errs.New(errs.ErrCodeUnsupported, "%s is not a supported image (%s)", src, mt.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return transform.Metadata{}, errs.Wrap(errs.ErrCodeCodec, err, "read dimensions of %s", src)
	}
	return transform.Metadata{Src: src, Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Versioner is implemented by loaders that can cheaply tell when a source
// changed.
type Versioner interface {
	Version(src string) (string, error)
}

// MetadataCache probes sources on demand and memoizes the result, first
// in memory and then in an optional persistent cache. Concurrent requests
// for the same source share one probe.
type MetadataCache struct {
	loader Loader
	store  cache.Cache
	keyer  cache.Keyer

	mu    sync.RWMutex
	known map[string]transform.Metadata
	group singleflight.Group
}

// NewMetadataCache returns a cache backed by l. store may be nil.
func NewMetadataCache(l Loader, store cache.Cache) *MetadataCache {
	if store == nil {
		store = cache.NewNullCache()
	}
	return &MetadataCache{
		loader: l,
		store:  store,
		keyer:  cache.NewDefaultKeyer(),
		known:  make(map[string]transform.Metadata),
	}
}

// Metadata returns the metadata for src.
func (c *MetadataCache) Metadata(ctx context.Context, src string) (*transform.Metadata, error) {
	version := ""
	if v, ok := c.loader.(Versioner); ok && !errs.IsRemote(src) {
		var err error
		if version, err = v.Version(src); err != nil {
			return nil, err
		}
	}
	memoKey := src + "\x00" + version

	c.mu.RLock()
	m, ok := c.known[memoKey]
	c.mu.RUnlock()
	if ok {
		return &m, nil
	}

	v, err, _ := c.group.Do(memoKey, func() (any, error) {
		return c.probe(ctx, src, version)
	})
	if err != nil {
		return nil, err
	}
	m = v.(transform.Metadata)

	c.mu.Lock()
	c.known[memoKey] = m
	c.mu.Unlock()
	return &m, nil
}

func (c *MetadataCache) probe(ctx context.Context, src, version string) (transform.Metadata, error) {
	hooks := observability.Cache()
	key := c.keyer.MetadataKey(src, version)

	if data, hit, err := c.store.Get(ctx, key); err == nil && hit {
		var m transform.Metadata
		if json.Unmarshal(data, &m) == nil {
			hooks.OnCacheHit(ctx, "meta")
			return m, nil
		}
	}
	hooks.OnCacheMiss(ctx, "meta")

	data, err := c.loader.Load(ctx, src)
	if err != nil {
		return transform.Metadata{}, err
	}
	m, err := Probe(src, data)
	if err != nil {
		return transform.Metadata{}, err
	}

	if encoded, err := json.Marshal(m); err == nil {
		if c.store.Set(ctx, key, encoded, 0) == nil {
			hooks.OnCacheSet(ctx, "meta", len(encoded))
		}
	}
	return m, nil
}
