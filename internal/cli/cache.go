package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matzehuels/sitepix/pkg/cache"
	errs "github.com/matzehuels/sitepix/pkg/errors"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the image cache",
		Long: `Manage the cache that holds encoded images, probed metadata and remote
sources. The backend comes from cache.type in the config.`,
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheStatsCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.newCache(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.closeQuietly(ctx, "cache", store)

			clearer, ok := store.(cache.Clearer)
			if !ok {
				return errs.New(errs.ErrCodeUnsupported, "the %s cache cannot be cleared", cfg.Cache.Type)
			}
			entries, _ := cacheSize(store)
			if err := clearer.Clear(ctx); err != nil {
				return err
			}

			if entries >= 0 {
				printSuccess("Cleared %d cached entries", entries)
			} else {
				printSuccess("Cleared the %s cache", cfg.Cache.Type)
			}
			if fc, ok := store.(*cache.FileCache); ok {
				printDetail("Directory: %s", fc.Dir())
			}
			return nil
		},
	}
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Cache.Type != "file" {
				return errs.New(errs.ErrCodeUnsupported, "the %s cache has no directory", cfg.Cache.Type)
			}
			dir, err := resolveCacheDir(cfg)
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
}

// cacheStatsCommand creates the "cache stats" subcommand.
func (c *CLI) cacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number and size of cached entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.newCache(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.closeQuietly(ctx, "cache", store)

			printKeyValue("backend", cfg.Cache.Type)
			entries, bytes := cacheSize(store)
			if entries < 0 {
				printDetail("entry counts are not tracked for this backend")
				return nil
			}
			printKeyValue("entries", StyleNumber.Render(strconv.Itoa(entries)))
			if bytes >= 0 {
				printKeyValue("size", StyleNumber.Render(formatBytes(bytes)))
			}
			if fc, ok := store.(*cache.FileCache); ok {
				printKeyValue("directory", fc.Dir())
			}
			return nil
		},
	}
}

// cacheSize reports entries and bytes held by store, -1 when unknown.
func cacheSize(store cache.Cache) (int, int64) {
	switch s := store.(type) {
	case *cache.FileCache:
		n, total, err := s.Size()
		if err != nil {
			return -1, -1
		}
		return n, total
	case *cache.MemoryCache:
		return s.Len(), -1
	default:
		return -1, -1
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
