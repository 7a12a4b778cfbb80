package cli

import (
	"context"
	"fmt"

	"github.com/matzehuels/sitepix/pkg/build"
	"github.com/matzehuels/sitepix/pkg/cache"
	"github.com/matzehuels/sitepix/pkg/codec"
	"github.com/matzehuels/sitepix/pkg/codec/hosted"
	"github.com/matzehuels/sitepix/pkg/codec/local"
	"github.com/matzehuels/sitepix/pkg/config"
	"github.com/matzehuels/sitepix/pkg/delivery"
	"github.com/matzehuels/sitepix/pkg/httputil"
	"github.com/matzehuels/sitepix/pkg/loader"
)

// =============================================================================
// Component Factory
// =============================================================================

// components is everything a command needs, wired from config once.
type components struct {
	cfg     *config.Config
	mode    delivery.Mode
	cache   cache.Cache
	keyer   cache.Keyer
	service codec.Service
	loader  loader.Loader
	files   *loader.FileLoader
	meta    *loader.MetadataCache
}

// newComponents wires the cache, codec and loaders described by cfg.
// noCache swaps the configured cache for a NullCache.
func (c *CLI) newComponents(ctx context.Context, cfg *config.Config, noCache bool) (*components, error) {
	mode, err := delivery.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	store := cache.NewNullCache()
	if !noCache {
		if store, err = c.newCache(ctx, cfg); err != nil {
			return nil, err
		}
	}

	svc, err := newService(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	files := loader.NewFileLoader(cfg.Site.Src)
	router := loader.Router{Local: files}
	if cfg.Remote.Enabled {
		client := httputil.NewClient(cfg.Remote.Timeout)
		if cfg.Remote.MaxBytes > 0 {
			client.MaxBytes = cfg.Remote.MaxBytes
		}
		remote := loader.NewHTTPLoader(client, store, cfg.Remote.TTL)
		remote.Logger = c.Logger
		router.Remote = remote
	}

	return &components{
		cfg:     cfg,
		mode:    mode,
		cache:   store,
		keyer:   outputKeyer(cfg),
		service: svc,
		loader:  router,
		files:   files,
		meta:    loader.NewMetadataCache(router, store),
	}, nil
}

// Close releases the cache.
func (p *components) Close() error {
	return p.cache.Close()
}

// newCache opens the cache backend named by cfg.Cache.Type.
func (c *CLI) newCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Type {
	case "none":
		return cache.NewNullCache(), nil
	case "memory":
		return cache.NewMemoryCache(cfg.Cache.MaxBytes), nil
	case "file":
		dir, err := resolveCacheDir(cfg)
		if err != nil {
			c.Logger.Warn("no cache directory, caching disabled", "err", err)
			return cache.NewNullCache(), nil
		}
		return cache.NewFileCache(dir)
	case "redis":
		r := cfg.Cache.Redis
		return cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     r.Addr,
			Username: r.Username,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Cache.Type)
	}
}

// newService builds the configured image service.
func newService(cfg *config.Config) (codec.Service, error) {
	switch cfg.Service.Name {
	case "hosted":
		return hosted.New(cfg.Service.URL, cfg.Service.Attrs)
	default:
		svc := local.New()
		svc.Quality = cfg.Service.Quality
		for k, v := range cfg.Service.Attrs {
			svc.Attrs[k] = v
		}
		return svc, nil
	}
}

// dispatcher returns a dispatcher for mode.
func (p *components) dispatcher(mode delivery.Mode, c *CLI) *delivery.Dispatcher {
	d := delivery.NewDispatcher(mode, p.service)
	d.Route = p.cfg.Route
	d.Base = p.cfg.Base
	d.Logger = c.Logger
	return d
}

// driver returns a static build driver, or nil for hosted services.
func (p *components) driver(c *CLI) (*build.Driver, error) {
	ss, ok := codec.AsServer(p.service)
	if !ok {
		return nil, nil
	}
	policy, err := build.ParsePolicy(p.cfg.Build.OnError)
	if err != nil {
		return nil, err
	}
	d := build.NewDriver(ss, p.loader, p.cfg.Site.Out, c.Logger)
	if p.cfg.Build.Workers > 0 {
		d.Workers = p.cfg.Build.Workers
	}
	d.Policy = policy
	d.Cache = p.cache
	d.Keyer = p.keyer
	return d, nil
}

// outputKeyer scopes cached outputs by the codec settings that change the
// encoded bytes without appearing in the transform key.
func outputKeyer(cfg *config.Config) cache.Keyer {
	scope := fmt.Sprintf("%s:q%d:", cfg.Service.Name, cfg.Service.Quality)
	return cache.NewScopedKeyer(nil, scope)
}
