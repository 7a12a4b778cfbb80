// Package build produces the static image files registered while pages
// rendered.
//
// The [Driver] runs after page rendering has finished. It seals the
// [delivery.Registry], which is the barrier between the collection phase
// and the build phase, then encodes every registered transform exactly
// once on a bounded worker pool:
//
//	reg := dispatcher.Registry
//	// ... render pages, each calling dispatcher.Image ...
//	report, err := build.NewDriver(svc, loader, "dist", logger).Run(ctx, reg)
//
// Each source is loaded once no matter how many transforms use it.
// Failures are collected per entry; with [PolicyAbort] they are returned
// together as an *errors.BuildError once every entry ran.
package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/sitepix/pkg/cache"
	"github.com/matzehuels/sitepix/pkg/codec"
	"github.com/matzehuels/sitepix/pkg/delivery"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/loader"
	"github.com/matzehuels/sitepix/pkg/observability"
	"github.com/matzehuels/sitepix/pkg/transform"
)

// Policy decides what a failed entry does to the build.
type Policy string

const (
	// PolicyAbort fails the build when any entry failed.
	PolicyAbort Policy = "abort"
	// PolicyContinue logs failed entries and reports success.
	PolicyContinue Policy = "continue"
)

// ParsePolicy parses a policy name. The empty string means abort.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAbort, PolicyContinue:
		return p, nil
	case "":
		return PolicyAbort, nil
	default:
		return "", errs.New(errs.ErrCodeInvalidConfig, "unknown failure policy %q (want abort or continue)", s)
	}
}

// Driver writes every registered transform to OutDir.
type Driver struct {
	Service codec.ServerService
	Loader  loader.Loader
	OutDir  string

	// Workers bounds concurrent codec invocations. Defaults to NumCPU.
	Workers int

	Policy Policy

	// FilenameFormat must match the one the dispatcher used, or pages
	// will reference files that were never written.
	FilenameFormat delivery.FilenameFunc

	// Cache stores encoded outputs across builds. Entries are keyed by the
	// transform and a hash of the source bytes.
	Cache cache.Cache
	Keyer cache.Keyer

	Logger *log.Logger
}

// NewDriver returns a driver with default workers and policy. A nil logger
// discards output.
func NewDriver(svc codec.ServerService, l loader.Loader, outDir string, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Driver{
		Service: svc,
		Loader:  l,
		OutDir:  outDir,
		Workers: runtime.NumCPU(),
		Policy:  PolicyAbort,
		Cache:   cache.NewNullCache(),
		Keyer:   cache.NewDefaultKeyer(),
		Logger:  logger,
	}
}

// Report summarizes a build.
type Report struct {
	ID       string
	Entries  int
	Sources  int
	Written  int
	Cached   int // outputs served from Cache instead of the codec
	Files    []string
	Failures []errs.Failure
	Duration time.Duration
}

// Failed returns the number of failed entries.
func (r *Report) Failed() int { return len(r.Failures) }

// Run seals reg and builds every entry in it.
func (d *Driver) Run(ctx context.Context, reg *delivery.Registry) (*Report, error) {
	if d.Service == nil || d.Loader == nil {
		return nil, errs.New(errs.ErrCodeInvalidConfig, "build needs a server-side image service and a loader")
	}
	d.defaults()

	reg.Seal()
	entries := reg.Entries()
	report := &Report{ID: uuid.NewString(), Entries: len(entries), Sources: len(reg.Sources())}
	start := time.Now()

	hooks := observability.Build()
	hooks.OnBuildStart(ctx, len(entries))
	d.Logger.Info("building images", "id", report.ID, "images", len(entries), "sources", report.Sources, "workers", d.Workers)

	sources := newSourceSet(d.Loader, entries)
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(d.Workers)
	for _, e := range entries {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			name, cached, err := d.build(ctx, sources, e)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, errs.Failure{Src: e.Transform.Src, Key: string(e.Key), Err: err})
				d.Logger.Error("image failed", "src", e.Transform.Src, "key", e.Key, "err", err)
				return nil
			}
			report.Written++
			if cached {
				report.Cached++
			}
			report.Files = append(report.Files, name)
			d.Logger.Debug("wrote image", "file", name, "cached", cached)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	sort.Strings(report.Files)
	sort.Slice(report.Failures, func(i, j int) bool {
		a, b := report.Failures[i], report.Failures[j]
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		return a.Key < b.Key
	})
	hooks.OnBuildComplete(ctx, report.Written, report.Failed(), report.Duration)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if report.Failed() > 0 {
		if d.Policy == PolicyContinue {
			d.Logger.Warn("build finished with failures", "written", report.Written, "failed", report.Failed())
			return report, nil
		}
		return report, &errs.BuildError{Failures: report.Failures}
	}
	d.Logger.Info("built images", "written", report.Written, "cached", report.Cached, "duration", report.Duration)
	return report, nil
}

func (d *Driver) defaults() {
	if d.Workers < 1 {
		d.Workers = runtime.NumCPU()
	}
	if d.Policy == "" {
		d.Policy = PolicyAbort
	}
	if d.Cache == nil {
		d.Cache = cache.NewNullCache()
	}
	if d.Keyer == nil {
		d.Keyer = cache.NewDefaultKeyer()
	}
	if d.Logger == nil {
		d.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// build produces one entry and returns its output path relative to OutDir.
func (d *Driver) build(ctx context.Context, sources *sourceSet, e delivery.Entry) (string, bool, error) {
	t := e.Transform
	defer sources.done(t.Src)

	src, err := sources.load(ctx, t.Src)
	if err != nil {
		return "", false, err
	}
	data, cached, err := d.encode(ctx, src, t)
	if err != nil {
		return "", false, err
	}

	name := delivery.Filename(d.FilenameFormat, d.Service, t)
	dest := filepath.Join(d.OutDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", false, errs.Wrap(errs.ErrCodeInternal, err, "create output directory")
	}
	if err := cache.WriteFileAtomic(dest, data, 0o644); err != nil {
		return "", false, errs.Wrap(errs.ErrCodeInternal, err, "write %s", name)
	}
	return name, cached, nil
}

func (d *Driver) encode(ctx context.Context, src []byte, t transform.Transform) ([]byte, bool, error) {
	key := d.Keyer.OutputKey(d.Service.Name(), string(t.Key())+"@"+cache.Hash(src))
	hooks := observability.Cache()

	if data, hit, err := d.Cache.Get(ctx, key); err == nil && hit {
		hooks.OnCacheHit(ctx, "output")
		return data, true, nil
	}
	hooks.OnCacheMiss(ctx, "output")

	out, err := codec.Run(ctx, d.Service, src, t)
	if err != nil {
		return nil, false, err
	}
	if err := d.Cache.Set(ctx, key, out.Data, 0); err != nil {
		d.Logger.Warn("output cache write failed", "key", t.Key(), "err", err)
	} else {
		hooks.OnCacheSet(ctx, "output", len(out.Data))
	}
	return out.Data, false, nil
}

// sourceSet loads each source once and drops it after its last entry.
type sourceSet struct {
	loader loader.Loader
	group  singleflight.Group

	mu      sync.Mutex
	loaded  map[string]loaded
	pending map[string]int
}

type loaded struct {
	data []byte
	err  error
}

func newSourceSet(l loader.Loader, entries []delivery.Entry) *sourceSet {
	s := &sourceSet{
		loader:  l,
		loaded:  make(map[string]loaded),
		pending: make(map[string]int),
	}
	for _, e := range entries {
		s.pending[e.Transform.Src]++
	}
	return s
}

func (s *sourceSet) load(ctx context.Context, src string) ([]byte, error) {
	s.mu.Lock()
	if l, ok := s.loaded[src]; ok {
		s.mu.Unlock()
		return l.data, l.err
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do(src, func() (any, error) {
		s.mu.Lock()
		if l, ok := s.loaded[src]; ok {
			s.mu.Unlock()
			return l, nil
		}
		s.mu.Unlock()

		data, err := s.loader.Load(ctx, src)
		if err != nil && ctx.Err() == nil && errs.GetCode(err) == "" {
			err = fmt.Errorf("load %s: %w", src, err)
		}
		l := loaded{data: data, err: err}
		s.mu.Lock()
		s.loaded[src] = l
		s.mu.Unlock()
		return l, nil
	})
	l := v.(loaded)
	return l.data, l.err
}

func (s *sourceSet) done(src string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[src]--
	if s.pending[src] <= 0 {
		delete(s.loaded, src)
	}
}
