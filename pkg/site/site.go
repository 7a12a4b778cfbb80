// Package site renders a directory of html/template pages, standing in for
// the host build system.
//
// Pages call the image template functions to place images:
//
//	{{ image "/assets/cat.jpg" "w" 400 "ratio" "4:3" "f" "webp" "alt" "A cat" }}
//	{{ imageMeta "/assets/hero.jpg" "w" 1600 }}
//	<div style="background-image: url({{ imageURL "/bg.png" "w" 1920 "h" 1080 }})"></div>
//
// "image" takes the sizing it is given at face value; "imageMeta" probes
// the source first so any missing dimension and the format can be filled
// in from the image itself. Files whose name starts with "_" are partials
// available to every page; every other non-template file is copied as-is.
package site

import (
	"bytes"
	"context"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/sitepix/pkg/build"
	"github.com/matzehuels/sitepix/pkg/cache"
	"github.com/matzehuels/sitepix/pkg/delivery"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/loader"
)

// Site is a directory of pages rendered into OutDir.
type Site struct {
	PagesDir string
	OutDir   string

	// SrcDir holds the source images. Server-mode builds copy it into
	// OutDir.
	SrcDir string

	Dispatcher *delivery.Dispatcher

	// Meta backs imageMeta. Without it imageMeta fails.
	Meta *loader.MetadataCache

	// Workers bounds concurrent page renders. Defaults to 4.
	Workers int

	Logger *log.Logger
}

// Result summarizes a render or build.
type Result struct {
	Pages  []string // rendered pages, relative to OutDir
	Assets int      // files copied verbatim
	Images *build.Report
	Copied int // source images copied for server mode

	Duration time.Duration
}

// Render renders every page into OutDir. In static mode the images the
// pages reference are registered on the dispatcher's registry.
func (s *Site) Render(ctx context.Context) (*Result, error) {
	if s.Dispatcher == nil {
		return nil, errs.New(errs.ErrCodeInvalidConfig, "site has no image dispatcher")
	}
	start := time.Now()

	pages, assets, partials, err := s.scan()
	if err != nil {
		return nil, err
	}
	base, err := s.partials(ctx, partials)
	if err != nil {
		return nil, err
	}

	res := &Result{Assets: len(assets)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.workers())
	for _, rel := range pages {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.renderPage(base, rel); err != nil {
				return err
			}
			mu.Lock()
			res.Pages = append(res.Pages, rel)
			mu.Unlock()
			s.logger().Debug("rendered page", "page", rel)
			return nil
		})
	}
	for _, rel := range assets {
		g.Go(func() error { return s.copyAsset(rel) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(res.Pages)
	res.Duration = time.Since(start)
	s.logger().Info("rendered pages", "pages", len(res.Pages), "assets", res.Assets, "duration", res.Duration)
	return res, nil
}

// Build renders every page, then produces what the delivery mode needs:
// the registered image files in static mode, a copy of the source images
// in server mode, nothing in dev mode.
func (s *Site) Build(ctx context.Context, driver *build.Driver) (*Result, error) {
	start := time.Now()
	res, err := s.Render(ctx)
	if err != nil {
		return nil, err
	}

	switch s.Dispatcher.Mode {
	case delivery.ModeStatic:
		if driver == nil {
			// Hosted services register nothing.
			if s.Dispatcher.Registry.Len() == 0 {
				break
			}
			return res, errs.New(errs.ErrCodeInvalidConfig, "static build needs a build driver")
		}
		report, err := driver.Run(ctx, s.Dispatcher.Registry)
		res.Images = report
		if err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
	case delivery.ModeServer:
		if s.SrcDir != "" {
			n, err := build.CopySources(s.SrcDir, s.OutDir)
			if err != nil {
				return res, err
			}
			res.Copied = n
		}
	case delivery.ModeDev:
	}

	res.Duration = time.Since(start)
	return res, nil
}

// scan lists pages, assets and partials relative to PagesDir.
func (s *Site) scan() (pages, assets, partials []string, err error) {
	err = filepath.WalkDir(s.PagesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.PagesDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch {
		case strings.HasPrefix(d.Name(), "_") && isTemplate(rel):
			partials = append(partials, rel)
		case isTemplate(rel):
			pages = append(pages, rel)
		default:
			assets = append(assets, rel)
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.ErrCodeInvalidPath, err, "scan pages in %s", s.PagesDir)
	}
	return pages, assets, partials, nil
}

func isTemplate(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}

// partials parses the shared templates once. Pages clone the result.
func (s *Site) partials(ctx context.Context, names []string) (*template.Template, error) {
	base := template.New("").Funcs(s.funcs(ctx))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.PagesDir, filepath.FromSlash(name)))
		if err != nil {
			return nil, err
		}
		if _, err := base.New(name).Parse(string(data)); err != nil {
			return nil, errs.Wrap(errs.ErrCodeInvalidInput, err, "parse %s", name)
		}
	}
	return base, nil
}

func (s *Site) renderPage(base *template.Template, rel string) error {
	data, err := os.ReadFile(filepath.Join(s.PagesDir, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	tmpl, err := base.Clone()
	if err != nil {
		return err
	}
	if _, err := tmpl.New(rel).Parse(string(data)); err != nil {
		return errs.Wrap(errs.ErrCodeInvalidInput, err, "parse %s", rel)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, rel, pageData{Path: "/" + rel}); err != nil {
		return pageError(rel, err)
	}
	return s.write(rel, buf.Bytes())
}

// pageData is the dot value of every page.
type pageData struct {
	Path string
}

// pageError keeps the code of an image error raised inside a template.
func pageError(rel string, err error) error {
	if code := errs.GetCode(err); code != "" {
		return errs.Wrap(code, err, "render %s", rel)
	}
	return errs.Wrap(errs.ErrCodeInvalidInput, err, "render %s", rel)
}

func (s *Site) copyAsset(rel string) error {
	data, err := os.ReadFile(filepath.Join(s.PagesDir, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	return s.write(rel, data)
}

func (s *Site) write(rel string, data []byte) error {
	dest := filepath.Join(s.OutDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return cache.WriteFileAtomic(dest, data, 0o644)
}

func (s *Site) workers() int {
	if s.Workers < 1 {
		return 4
	}
	return s.Workers
}

func (s *Site) logger() *log.Logger {
	if s.Logger == nil {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	return s.Logger
}
