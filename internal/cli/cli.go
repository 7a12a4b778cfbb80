// Package cli implements the sitepix command-line interface.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/sitepix/pkg/buildinfo"
	"github.com/matzehuels/sitepix/pkg/config"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "sitepix"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// configPath is bound to --config.
	configPath string
	// verbose is set by main from --verbose and wins over log.level.
	verbose bool
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.verbose = level == log.DebugLevel
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "sitepix transforms and delivers images for static and server-rendered sites",
		Long:         `sitepix resizes, crops and re-encodes site images. Pages reference images through template functions; sitepix either serves the results from an HTTP endpoint or writes them as content-addressed static files.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: $SITEPIX_CONFIG, ./sitepix.toml or ./sitepix.yaml)")

	// Register all subcommands
	root.AddCommand(c.buildCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.transformCommand())
	root.AddCommand(c.resolveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig loads the layered configuration and applies its log level
// unless --verbose was given.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, path, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if !c.verbose {
		if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
			c.Logger.SetLevel(level)
		}
	}
	if path != "" {
		c.Logger.Debug("loaded config", "file", path)
	}
	return cfg, nil
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/sitepix/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// resolveCacheDir returns the configured cache directory or the XDG one.
func resolveCacheDir(cfg *config.Config) (string, error) {
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	return cacheDir()
}

// closeQuietly closes c and logs failures at debug level.
func (c *CLI) closeQuietly(ctx context.Context, name string, closer io.Closer) {
	if err := closer.Close(); err != nil && ctx.Err() == nil {
		c.Logger.Debug("close failed", "what", name, "err", err)
	}
}
