package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/sitepix/pkg/cache"
	"github.com/matzehuels/sitepix/pkg/codec/codectest"
	"github.com/matzehuels/sitepix/pkg/delivery"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/loader"
	"github.com/matzehuels/sitepix/pkg/transform"
)

func tf(src string, w, h int) transform.Transform {
	return transform.Transform{Src: src, Width: w, Height: h, Format: transform.FormatWebP}
}

func registry(t *testing.T, ts ...transform.Transform) *delivery.Registry {
	t.Helper()
	reg := delivery.NewRegistry()
	for _, x := range ts {
		if _, err := reg.Add(x); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func sources() *loader.Map {
	return loader.NewMap(map[string][]byte{
		"/cat.jpg": []byte("cat-bytes"),
		"/dog.jpg": []byte("dog-bytes!"),
	})
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyAbort, false},
		{"abort", PolicyAbort, false},
		{"Continue", PolicyContinue, false},
		{"ignore", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestRunWritesEachTransformOnce(t *testing.T) {
	out := t.TempDir()
	fake := codectest.New()
	src := sources()

	reg := delivery.NewRegistry()
	var wg sync.WaitGroup
	// Many pages asking for the same few images.
	for page := 0; page < 20; page++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, x := range []transform.Transform{tf("/cat.jpg", 400, 300), tf("/cat.jpg", 800, 600), tf("/dog.jpg", 400, 300)} {
				if _, err := reg.Add(x); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	report, err := NewDriver(fake, src, out, nil).Run(context.Background(), reg)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if fake.Calls() != 3 {
		t.Errorf("codec calls = %d, want 3", fake.Calls())
	}
	if report.Written != 3 || report.Entries != 3 || report.Sources != 2 || len(report.Files) != 3 {
		t.Errorf("report = %+v", report)
	}
	if src.Loads("/cat.jpg") != 1 || src.Loads("/dog.jpg") != 1 {
		t.Errorf("source loads = %d/%d, want 1/1", src.Loads("/cat.jpg"), src.Loads("/dog.jpg"))
	}
	if report.ID == "" {
		t.Error("report has no ID")
	}

	x := tf("/cat.jpg", 400, 300)
	data, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(transform.Filename(x))))
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	if want := codectest.Output(x, []byte("cat-bytes")); string(data) != string(want) {
		t.Errorf("output = %q, want %q", data, want)
	}

	if !reg.Sealed() {
		t.Error("Run should seal the registry")
	}
}

func TestRunAbortPolicy(t *testing.T) {
	fake := codectest.New()
	fake.Errors = map[string]error{"/dog.jpg": errors.New("corrupt")}
	reg := registry(t, tf("/cat.jpg", 10, 10), tf("/dog.jpg", 10, 10), tf("/missing.jpg", 10, 10))

	report, err := NewDriver(fake, sources(), t.TempDir(), nil).Run(context.Background(), reg)
	if !errs.Is(err, errs.ErrCodeBuildFailed) {
		t.Fatalf("Run error = %v, want BUILD_FAILED", err)
	}

	var be *errs.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("error is %T, want *BuildError", err)
	}
	if len(be.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(be.Failures))
	}
	if be.Failures[0].Src != "/dog.jpg" || be.Failures[1].Src != "/missing.jpg" {
		t.Errorf("failures = %+v", be.Failures)
	}
	if !errs.Is(be.Failures[0].Err, errs.ErrCodeCodec) {
		t.Errorf("codec failure code = %s", errs.GetCode(be.Failures[0].Err))
	}
	if !errs.Is(be.Failures[1].Err, errs.ErrCodeSourceNotFound) {
		t.Errorf("missing source code = %s", errs.GetCode(be.Failures[1].Err))
	}
	// The healthy entry still ran.
	if report.Written != 1 {
		t.Errorf("written = %d, want 1", report.Written)
	}
}

func TestRunContinuePolicy(t *testing.T) {
	reg := registry(t, tf("/cat.jpg", 10, 10), tf("/missing.jpg", 10, 10))
	d := NewDriver(codectest.New(), sources(), t.TempDir(), nil)
	d.Policy = PolicyContinue

	report, err := d.Run(context.Background(), reg)
	if err != nil {
		t.Fatalf("Run error = %v, want nil", err)
	}
	if report.Written != 1 || report.Failed() != 1 {
		t.Errorf("written/failed = %d/%d, want 1/1", report.Written, report.Failed())
	}
}

func TestRunOutputCache(t *testing.T) {
	store := cache.NewMemoryCache(0)
	entries := []transform.Transform{tf("/cat.jpg", 10, 10), tf("/dog.jpg", 20, 20)}

	run := func() (*codectest.Fake, *Report) {
		fake := codectest.New()
		d := NewDriver(fake, sources(), t.TempDir(), nil)
		d.Cache = store
		report, err := d.Run(context.Background(), registry(t, entries...))
		if err != nil {
			t.Fatal(err)
		}
		return fake, report
	}

	first, r1 := run()
	second, r2 := run()
	if first.Calls() != 2 || r1.Cached != 0 {
		t.Errorf("first build: calls = %d, cached = %d", first.Calls(), r1.Cached)
	}
	if second.Calls() != 0 || r2.Cached != 2 || r2.Written != 2 {
		t.Errorf("second build: calls = %d, cached = %d, written = %d", second.Calls(), r2.Cached, r2.Written)
	}
}

func TestRunWorkersBound(t *testing.T) {
	var (
		mu          sync.Mutex
		active, peak int
	)
	slow := loader.Func(func(ctx context.Context, src string) ([]byte, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return []byte(src), nil
	})

	var ts []transform.Transform
	for i := 0; i < 12; i++ {
		ts = append(ts, tf(fmt.Sprintf("/img%02d.jpg", i), 10, 10))
	}
	d := NewDriver(codectest.New(), slow, t.TempDir(), nil)
	d.Workers = 3
	if _, err := d.Run(context.Background(), registry(t, ts...)); err != nil {
		t.Fatal(err)
	}
	if peak > 3 {
		t.Errorf("max concurrent loads = %d, want <= 3", peak)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDriver(codectest.New(), sources(), t.TempDir(), nil).Run(ctx, registry(t, tf("/cat.jpg", 1, 1)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestRunRequiresService(t *testing.T) {
	d := &Driver{Loader: sources()}
	if _, err := d.Run(context.Background(), delivery.NewRegistry()); !errs.Is(err, errs.ErrCodeInvalidConfig) {
		t.Errorf("error = %v, want INVALID_CONFIG", err)
	}
}

func TestCopySources(t *testing.T) {
	src := t.TempDir()
	for _, name := range []string{"a.png", "img/b.jpg", "readme.md"} {
		p := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	out := t.TempDir()

	n, err := CopySources(src, out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("copied %d files, want 2", n)
	}
	if data, err := os.ReadFile(filepath.Join(out, "img", "b.jpg")); err != nil || string(data) != "img/b.jpg" {
		t.Errorf("img/b.jpg = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(out, "readme.md")); !os.IsNotExist(err) {
		t.Error("non-image files should not be copied")
	}
}
