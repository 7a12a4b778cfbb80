package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/sitepix/pkg/build"
	"github.com/matzehuels/sitepix/pkg/delivery"
)

// Validate checks every field and reports all problems at once, each with
// its config path.
func (c *Config) Validate() error {
	var problems []error

	if _, err := delivery.ParseMode(c.Mode); err != nil {
		problems = append(problems, fmt.Errorf("mode must be dev, server or static, got %q", c.Mode))
	}
	if !strings.HasPrefix(c.Route, "/") {
		problems = append(problems, fmt.Errorf("route must start with /, got %q", c.Route))
	}

	switch c.Service.Name {
	case "local":
	case "hosted":
		if c.Service.URL == "" {
			problems = append(problems, fmt.Errorf("service.url is required when service.name is \"hosted\""))
		}
	default:
		problems = append(problems, fmt.Errorf("service.name must be \"local\" or \"hosted\", got %q", c.Service.Name))
	}
	if c.Service.Quality < 1 || c.Service.Quality > 100 {
		problems = append(problems, fmt.Errorf("service.quality must be between 1 and 100, got %d", c.Service.Quality))
	}

	if c.Site.Out == "" {
		problems = append(problems, fmt.Errorf("site.out is required"))
	}
	if c.Build.Workers < 0 {
		problems = append(problems, fmt.Errorf("build.workers must be >= 0, got %d", c.Build.Workers))
	}
	if _, err := build.ParsePolicy(c.Build.OnError); err != nil {
		problems = append(problems, fmt.Errorf("build.on_error must be \"abort\" or \"continue\", got %q", c.Build.OnError))
	}

	switch c.Cache.Type {
	case "none", "memory", "file":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			problems = append(problems, fmt.Errorf("cache.redis.addr is required when cache.type is \"redis\""))
		}
	default:
		problems = append(problems, fmt.Errorf("cache.type must be none, memory, file or redis, got %q", c.Cache.Type))
	}
	if c.Cache.TTL < 0 {
		problems = append(problems, fmt.Errorf("cache.ttl must be >= 0, got %s", c.Cache.TTL))
	}

	if c.Remote.Enabled && c.Remote.Timeout <= 0 {
		problems = append(problems, fmt.Errorf("remote.timeout must be > 0 when remote sources are enabled"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	return errors.Join(problems...)
}
