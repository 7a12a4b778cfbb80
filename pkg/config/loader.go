package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	errs "github.com/matzehuels/sitepix/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SITEPIX_"

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. A config file (explicit path, SITEPIX_CONFIG, ./sitepix.toml,
//     ./sitepix.yaml, ./sitepix.yml)
//  3. SITEPIX_* environment variables
//  4. File references (cache.redis.password_file)
//  5. Validation
//
// It returns the path of the file used, or "" when none was found.
func Load(configPath string) (*Config, string, error) {
	cfg := Defaults()

	path, err := discoverConfigFile(configPath)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, path, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, path, err
	}
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, errs.Wrap(errs.ErrCodeInvalidConfig, err, "invalid configuration")
	}
	return &cfg, path, nil
}

var candidates = []string{"sitepix.toml", "sitepix.yaml", "sitepix.yml"}

// discoverConfigFile returns the file to load, or "" if there is none. An
// explicit or environment path that does not exist is an error.
func discoverConfigFile(configPath string) (string, error) {
	explicit := configPath
	if explicit == "" {
		explicit = os.Getenv(EnvPrefix + "CONFIG")
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errs.Wrap(errs.ErrCodeInvalidConfig, err, "config file %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// loadFile decodes path over cfg. Unknown keys are rejected so typos do
// not silently fall back to defaults.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.ErrCodeInvalidConfig, err, "read %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return errs.Wrap(errs.ErrCodeInvalidConfig, err, "parse %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return errs.New(errs.ErrCodeInvalidConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return errs.Wrap(errs.ErrCodeInvalidConfig, err, "parse %s", path)
		}
	default:
		return errs.New(errs.ErrCodeInvalidConfig, "%s: unsupported config format (want .toml, .yaml or .yml)", path)
	}
	return nil
}

// applyEnvOverrides maps SITEPIX_* variables onto cfg.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"MODE":           &cfg.Mode,
		"ROUTE":          &cfg.Route,
		"BASE":           &cfg.Base,
		"SERVICE":        &cfg.Service.Name,
		"SERVICE_URL":    &cfg.Service.URL,
		"PAGES_DIR":      &cfg.Site.Pages,
		"SRC_DIR":        &cfg.Site.Src,
		"OUT_DIR":        &cfg.Site.Out,
		"ON_ERROR":       &cfg.Build.OnError,
		"ADDR":           &cfg.Server.Addr,
		"CACHE":          &cfg.Cache.Type,
		"CACHE_DIR":      &cfg.Cache.Dir,
		"REDIS_ADDR":     &cfg.Cache.Redis.Addr,
		"REDIS_USERNAME": &cfg.Cache.Redis.Username,
		"REDIS_PASSWORD": &cfg.Cache.Redis.Password,
		"REDIS_PREFIX":   &cfg.Cache.Redis.Prefix,
		"LOG_LEVEL":      &cfg.Log.Level,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"QUALITY":  &cfg.Service.Quality,
		"WORKERS":  &cfg.Build.Workers,
		"REDIS_DB": &cfg.Cache.Redis.DB,
	}
	for name, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errs.New(errs.ErrCodeInvalidConfig, "%s%s: not an integer: %q", EnvPrefix, name, v)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"REMOTE":         &cfg.Remote.Enabled,
		"SERVER_STATIC":  &cfg.Server.Static,
		"SERVER_METRICS": &cfg.Server.Metrics,
	}
	for name, dst := range bools {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errs.New(errs.ErrCodeInvalidConfig, "%s%s: not a boolean: %q", EnvPrefix, name, v)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"CACHE_TTL":      &cfg.Cache.TTL,
		"REMOTE_TIMEOUT": &cfg.Remote.Timeout,
		"REMOTE_TTL":     &cfg.Remote.TTL,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return errs.New(errs.ErrCodeInvalidConfig, "%s%s: not a duration: %q", EnvPrefix, name, v)
			}
			*dst = d
		}
	}
	return nil
}

// resolveFileReferences reads *_file fields into their value fields.
func resolveFileReferences(cfg *Config) error {
	r := &cfg.Cache.Redis
	if r.PasswordFile != "" && r.Password == "" {
		data, err := os.ReadFile(r.PasswordFile)
		if err != nil {
			return errs.Wrap(errs.ErrCodeInvalidConfig, err, "cache.redis.password_file")
		}
		r.Password = strings.TrimSpace(string(data))
	}
	return nil
}

// String renders cfg as TOML with secrets masked.
func (c Config) String() string {
	masked := c
	if masked.Cache.Redis.Password != "" {
		masked.Cache.Redis.Password = "********"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(masked); err != nil {
		return fmt.Sprintf("%+v", masked)
	}
	return buf.String()
}
