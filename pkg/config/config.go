// Package config loads sitepix configuration.
//
// Values are layered: [Defaults], then an optional TOML or YAML file, then
// SITEPIX_* environment variables, then validation. See [Load].
package config

import (
	"time"
)

// Config is the complete sitepix configuration.
type Config struct {
	// Mode is the delivery mode: dev, server or static.
	Mode string `toml:"mode" yaml:"mode"`
	// Route is where the image endpoint is mounted.
	Route string `toml:"route" yaml:"route"`
	// Base prefixes every generated URL.
	Base string `toml:"base" yaml:"base"`

	Service ServiceConfig `toml:"service" yaml:"service"`
	Site    SiteConfig    `toml:"site" yaml:"site"`
	Build   BuildConfig   `toml:"build" yaml:"build"`
	Server  ServerConfig  `toml:"server" yaml:"server"`
	Cache   CacheConfig   `toml:"cache" yaml:"cache"`
	Remote  RemoteConfig  `toml:"remote" yaml:"remote"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// ServiceConfig selects the image codec.
type ServiceConfig struct {
	// Name is "local" or "hosted".
	Name string `toml:"name" yaml:"name"`
	// URL is the hosted CDN template, e.g.
	// "https://cdn.example.com/{src}?w={w}&h={h}&fm={f}".
	URL string `toml:"url" yaml:"url"`
	// Quality is the local codec's default encode quality.
	Quality int `toml:"quality" yaml:"quality"`
	// Attrs are added to every <img> the service describes.
	Attrs map[string]string `toml:"attrs" yaml:"attrs"`
}

// SiteConfig locates the pages, source images and output.
type SiteConfig struct {
	Pages string `toml:"pages" yaml:"pages"`
	Src   string `toml:"src" yaml:"src"`
	Out   string `toml:"out" yaml:"out"`
}

// BuildConfig tunes the static build.
type BuildConfig struct {
	// Workers bounds concurrent encodes; 0 means one per CPU.
	Workers int `toml:"workers" yaml:"workers"`
	// OnError is "abort" or "continue".
	OnError string `toml:"on_error" yaml:"on_error"`
}

// ServerConfig tunes the HTTP endpoint.
type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
	// Static serves the site output directory next to the endpoint.
	Static          bool          `toml:"static" yaml:"static"`
	Metrics         bool          `toml:"metrics" yaml:"metrics"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// CacheConfig selects where encoded outputs, metadata and remote sources
// are cached.
type CacheConfig struct {
	// Type is none, memory, file or redis.
	Type string `toml:"type" yaml:"type"`
	// Dir is the file cache directory. Empty means the user cache dir.
	Dir string `toml:"dir" yaml:"dir"`
	// MaxBytes bounds the memory cache.
	MaxBytes int64 `toml:"max_bytes" yaml:"max_bytes"`
	// TTL applies to encoded outputs; 0 keeps them until evicted.
	TTL   time.Duration `toml:"ttl" yaml:"ttl"`
	Redis RedisConfig   `toml:"redis" yaml:"redis"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	Addr         string `toml:"addr" yaml:"addr"`
	Username     string `toml:"username" yaml:"username"`
	Password     string `toml:"password" yaml:"password"`
	PasswordFile string `toml:"password_file" yaml:"password_file"`
	DB           int    `toml:"db" yaml:"db"`
	Prefix       string `toml:"prefix" yaml:"prefix"`
}

// RemoteConfig controls http(s) sources.
type RemoteConfig struct {
	Enabled  bool          `toml:"enabled" yaml:"enabled"`
	Timeout  time.Duration `toml:"timeout" yaml:"timeout"`
	TTL      time.Duration `toml:"ttl" yaml:"ttl"`
	MaxBytes int64         `toml:"max_bytes" yaml:"max_bytes"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Mode:  "static",
		Route: "/_image",
		Base:  "/",
		Service: ServiceConfig{
			Name:    "local",
			Quality: 80,
		},
		Site: SiteConfig{
			Pages: "pages",
			Src:   "public",
			Out:   "dist",
		},
		Build: BuildConfig{
			OnError: "abort",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			Static:          true,
			Metrics:         true,
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Type:     "file",
			MaxBytes: 256 << 20,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "sitepix:",
			},
		},
		Remote: RemoteConfig{
			Enabled:  true,
			Timeout:  30 * time.Second,
			TTL:      24 * time.Hour,
			MaxBytes: 32 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
