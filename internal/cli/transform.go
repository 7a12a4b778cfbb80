package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/sitepix/pkg/cache"
	"github.com/matzehuels/sitepix/pkg/codec"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/loader"
	"github.com/matzehuels/sitepix/pkg/transform"
)

// requestFlags are the sizing and encoding flags shared by transform and
// resolve.
type requestFlags struct {
	width      int
	height     int
	ratio      string
	format     string
	quality    int
	fit        string
	position   string
	background string
	probe      bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.width, "width", "W", 0, "output width in pixels")
	cmd.Flags().IntVarP(&f.height, "height", "H", 0, "output height in pixels")
	cmd.Flags().StringVarP(&f.ratio, "ratio", "r", "", `aspect ratio, "16:9" or "1.777"`)
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "output format (avif, jpeg, png, webp, gif, bmp, tiff)")
	cmd.Flags().IntVarP(&f.quality, "quality", "q", 0, "encode quality 1-100")
	cmd.Flags().StringVar(&f.fit, "fit", "", "fit mode: cover, contain, fill, inside, outside")
	cmd.Flags().StringVar(&f.position, "pos", "", "anchor for cover and contain, e.g. top-left")
	cmd.Flags().StringVar(&f.background, "bg", "", "background color #rgb or #rrggbb")
	cmd.Flags().BoolVar(&f.probe, "probe", true, "read the source to fill in missing size and format")
}

// request builds the resolver input for src, probing it when asked.
func (f *requestFlags) request(ctx context.Context, src string, meta *loader.MetadataCache) (transform.Request, error) {
	req := transform.Request{
		Src:         src,
		Width:       f.width,
		Height:      f.height,
		AspectRatio: f.ratio,
		Quality:     f.quality,
		Fit:         f.fit,
		Position:    f.position,
		Background:  f.background,
	}
	if f.format != "" {
		format, err := transform.ParseFormat(f.format)
		if err != nil {
			return req, err
		}
		req.Format = format
	}
	if f.probe && meta != nil {
		m, err := meta.Metadata(ctx, src)
		if err != nil {
			return req, err
		}
		req.Metadata = m
	}
	return req, nil
}

// transformCommand creates the transform command for one-off conversions.
func (c *CLI) transformCommand() *cobra.Command {
	var (
		flags   requestFlags
		output  string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "transform <src>",
		Short: "Transform one image to a file",
		Long: `Transform a single source image with the local codec and write the result.

<src> is a path under the source directory ("/assets/cat.jpg"), a file
path, or an http(s) URL. Without --output the file is named like a static
build would name it, under the current directory.`,
		Example: `  sitepix transform /assets/cat.jpg -W 400 -r 4:3 -f png
  sitepix transform ./photo.jpg -W 1200 -f jpeg -q 70 -o photo-small.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			cfg.Service.Name = "local"
			p, err := c.newComponents(ctx, cfg, noCache)
			if err != nil {
				return err
			}
			defer c.closeQuietly(ctx, "cache", p)

			src, l, meta := sourceFor(args[0], p)
			req, err := flags.request(ctx, src, meta)
			if err != nil {
				return err
			}
			t, err := transform.Resolve(req)
			if err != nil {
				return err
			}

			svc, _ := codec.AsServer(p.service)
			data, err := l.Load(ctx, t.Src)
			if err != nil {
				return err
			}
			prog := newProgress(c.Logger)
			spin := newSpinner(ctx, cmd.ErrOrStderr(), "Encoding "+t.Src).start()
			out, err := codec.Run(ctx, svc, data, t)
			spin.stop()
			if err != nil {
				return err
			}

			dest := output
			if dest == "" {
				dest = filepath.FromSlash(transform.Filename(t))
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return errs.Wrap(errs.ErrCodeInternal, err, "create output directory")
			}
			if err := cache.WriteFileAtomic(dest, out.Data, 0o644); err != nil {
				return errs.Wrap(errs.ErrCodeInternal, err, "write %s", dest)
			}

			printSuccess("Transformed %s to %dx%d %s (%s)", t.Src, t.Width, t.Height, t.Format, prog.elapsed())
			printFile(dest)
			printDetail("%d bytes, key %s", len(out.Data), t.Key())
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching of remote sources")

	return cmd
}

// sourceFor maps a CLI argument to a source id and the loader that reads
// it. A file that exists on disk but not under the source directory is
// read from its own directory.
func sourceFor(arg string, p *components) (string, loader.Loader, *loader.MetadataCache) {
	if errs.IsRemote(arg) {
		return arg, p.loader, p.meta
	}
	if path, err := p.files.Path(arg); err == nil && fileExists(path) {
		return arg, p.loader, p.meta
	}
	abs, err := filepath.Abs(arg)
	if err != nil || !fileExists(abs) {
		return arg, p.loader, p.meta
	}
	files := loader.NewFileLoader(filepath.Dir(abs))
	return "/" + filepath.Base(abs), files, loader.NewMetadataCache(files, nil)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
