package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/sitepix/pkg/delivery"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/site"
)

// buildOpts holds the command-line flags for the build command. Set flags
// override the config file.
type buildOpts struct {
	mode    string
	pages   string
	src     string
	out     string
	workers int
	onError string
	noCache bool
}

// buildCommand creates the build command: render every page, then write
// the images the pages referenced.
func (c *CLI) buildCommand() *cobra.Command {
	var opts buildOpts

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Render the site and build its images",
		Long: `Render every page under the pages directory into the output directory.

In static mode every image the pages reference is encoded once and written
under <out>/_image/. In server mode the source images are copied next to the
pages so the endpoint can serve them. Failed images abort the build unless
--on-error=continue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBuild(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", "", "delivery mode: static, server or dev")
	cmd.Flags().StringVar(&opts.pages, "pages", "", "pages directory")
	cmd.Flags().StringVar(&opts.src, "src", "", "source image directory")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output directory")
	cmd.Flags().IntVarP(&opts.workers, "workers", "j", 0, "concurrent image encodes (default: one per CPU)")
	cmd.Flags().StringVar(&opts.onError, "on-error", "", "failure policy: abort or continue")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the output cache")

	return cmd
}

func (c *CLI) runBuild(cmd *cobra.Command, opts buildOpts) error {
	ctx := cmd.Context()
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	override(&cfg.Mode, opts.mode)
	override(&cfg.Site.Pages, opts.pages)
	override(&cfg.Site.Src, opts.src)
	override(&cfg.Site.Out, opts.out)
	override(&cfg.Build.OnError, opts.onError)
	if opts.workers > 0 {
		cfg.Build.Workers = opts.workers
	}
	if err := cfg.Validate(); err != nil {
		return errs.Wrap(errs.ErrCodeInvalidConfig, err, "invalid options")
	}

	p, err := c.newComponents(ctx, cfg, opts.noCache)
	if err != nil {
		return err
	}
	defer c.closeQuietly(ctx, "cache", p)

	driver, err := p.driver(c)
	if err != nil {
		return err
	}
	s := &site.Site{
		PagesDir:   cfg.Site.Pages,
		OutDir:     cfg.Site.Out,
		SrcDir:     cfg.Site.Src,
		Dispatcher: p.dispatcher(p.mode, c),
		Meta:       p.meta,
		Logger:     c.Logger,
	}

	prog := newProgress(c.Logger)
	res, err := s.Build(ctx, driver)
	if res != nil {
		printBuildSummary(p.mode, res, prog.elapsed())
	}
	if err != nil {
		var be *errs.BuildError
		if errors.As(err, &be) {
			printFailures(be.Failures)
		}
		return err
	}
	if res.Images != nil && res.Images.Failed() > 0 {
		printFailures(res.Images.Failures)
	}
	prog.done(fmt.Sprintf("Built %s", cfg.Site.Out))

	if p.mode == delivery.ModeServer {
		printNextStep("Serve it", appName+" serve --mode server")
	}
	return nil
}

// override sets *dst to v when v is not empty.
func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
