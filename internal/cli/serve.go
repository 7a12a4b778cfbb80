package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/matzehuels/sitepix/pkg/codec"
	"github.com/matzehuels/sitepix/pkg/delivery"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/observability"
	"github.com/matzehuels/sitepix/pkg/server"
	"github.com/matzehuels/sitepix/pkg/site"
)

type serveOpts struct {
	mode    string
	addr    string
	noCache bool
	noPages bool
}

// serveCommand creates the serve command, which runs the image endpoint.
func (c *CLI) serveCommand() *cobra.Command {
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the image endpoint",
		Long: `Run the HTTP image endpoint.

In dev mode the pages are rendered first with every image pointing at the
endpoint, and responses are marked no-cache. In server mode the endpoint
serves immutable responses next to a previously built site.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", "", "delivery mode: dev or server (default from config, static becomes dev)")
	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "listen address")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the output cache")
	cmd.Flags().BoolVar(&opts.noPages, "no-pages", false, "do not render or serve pages, only images")

	return cmd
}

func (c *CLI) runServe(cmd *cobra.Command, opts serveOpts) error {
	ctx := cmd.Context()
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	override(&cfg.Mode, opts.mode)
	override(&cfg.Server.Addr, opts.addr)
	if cfg.Mode == string(delivery.ModeStatic) {
		cfg.Mode = string(delivery.ModeDev)
	}
	if err := cfg.Validate(); err != nil {
		return errs.Wrap(errs.ErrCodeInvalidConfig, err, "invalid options")
	}

	p, err := c.newComponents(ctx, cfg, opts.noCache)
	if err != nil {
		return err
	}
	defer c.closeQuietly(ctx, "cache", p)

	svc, ok := codec.AsServer(p.service)
	if !ok {
		return errs.New(errs.ErrCodeUnsupported, "service %q is hosted; there is nothing to serve", p.service.Name())
	}

	if p.mode == delivery.ModeDev && !opts.noPages {
		s := &site.Site{
			PagesDir:   cfg.Site.Pages,
			OutDir:     cfg.Site.Out,
			Dispatcher: p.dispatcher(delivery.ModeDev, c),
			Meta:       p.meta,
			Logger:     c.Logger,
		}
		res, err := s.Render(ctx)
		if err != nil {
			return err
		}
		printSuccess("Rendered %d pages for development", len(res.Pages))
	}

	h := server.NewHandler(svc, p.loader, p.mode, c.Logger)
	h.Cache = p.cache
	h.Keyer = p.keyer
	h.TTL = cfg.Cache.TTL

	opt := server.Options{
		Addr:            cfg.Server.Addr,
		Route:           cfg.Route,
		Base:            cfg.Base,
		Handler:         h,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          c.Logger,
	}
	if cfg.Server.Static && !opts.noPages {
		if info, err := os.Stat(cfg.Site.Out); err == nil && info.IsDir() {
			opt.StaticDir = cfg.Site.Out
		} else {
			printWarning("Output directory %s does not exist; serving images only", cfg.Site.Out)
		}
	}
	if cfg.Server.Metrics {
		m := observability.NewMetrics(prometheus.NewRegistry())
		observability.Register(m)
		defer observability.Reset()
		opt.Metrics = m
	}

	printInfo("Serving %s on %s", StyleNumber.Render(p.mode.String()), StyleLink.Render(displayURL(cfg.Server.Addr)))
	printDetail("images at %s", opt.ImagePath())
	return server.New(opt).Serve(ctx)
}

// displayURL turns a listen address into a clickable URL.
func displayURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return fmt.Sprintf("http://%s/", addr)
}
