package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matzehuels/sitepix/pkg/cache"
	"github.com/matzehuels/sitepix/pkg/codec/codectest"
	"github.com/matzehuels/sitepix/pkg/delivery"
	"github.com/matzehuels/sitepix/pkg/loader"
	"github.com/matzehuels/sitepix/pkg/observability"
	"github.com/matzehuels/sitepix/pkg/transform"
)

var catTransform = transform.Transform{Src: "/cat.jpg", Width: 400, Height: 300, Format: transform.FormatWebP}

func newTestServer(t *testing.T, fake *codectest.Fake, mode delivery.Mode) (*httptest.Server, *Handler) {
	t.Helper()
	src := loader.NewMap(map[string][]byte{"/cat.jpg": []byte("cat-bytes")})
	h := NewHandler(fake, src, mode, nil)
	ts := httptest.NewServer(New(Options{Handler: h}).Handler())
	t.Cleanup(ts.Close)
	return ts, h
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestImageEndpoint(t *testing.T) {
	fake := codectest.New()
	ts, _ := newTestServer(t, fake, delivery.ModeServer)

	resp, body := get(t, ts.URL+"/_image?src=/cat.jpg&w=400&h=300&f=webp")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/webp" {
		t.Errorf("Content-Type = %q, want image/webp", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != cacheImmutable {
		t.Errorf("Cache-Control = %q", cc)
	}
	if want := string(codectest.Output(catTransform, []byte("cat-bytes"))); body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if fake.CallsFor(catTransform.Key()) != 1 {
		t.Errorf("codec called %d times for %s", fake.CallsFor(catTransform.Key()), catTransform.Key())
	}
}

func TestImageEndpointErrors(t *testing.T) {
	fake := codectest.New()
	fake.Errors = map[string]error{"/cat.jpg": errors.New("decoder exploded")}
	ts, _ := newTestServer(t, fake, delivery.ModeServer)

	tests := []struct {
		name   string
		query  string
		status int
		prefix string
	}{
		{"missing source", "src=/nope.jpg&w=10&h=10&f=png", http.StatusNotFound, "Not Found"},
		{"missing width", "src=/cat.jpg&h=10&f=png", http.StatusBadRequest, "Bad Request"},
		{"bad format", "src=/cat.jpg&w=10&h=10&f=svg", http.StatusBadRequest, "Bad Request"},
		{"no src", "w=10&h=10&f=png", http.StatusBadRequest, "Bad Request"},
		{"traversal", "src=/../etc/passwd&w=10&h=10&f=png", http.StatusBadRequest, "Bad Request"},
		{"codec failure", "src=/cat.jpg&w=10&h=10&f=png", http.StatusInternalServerError, "Server Error: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, ts.URL+"/_image?"+tt.query)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (body %q)", resp.StatusCode, tt.status, body)
			}
			if !strings.HasPrefix(body, tt.prefix) {
				t.Errorf("body = %q, want prefix %q", body, tt.prefix)
			}
		})
	}
}

func TestImageEndpointMethods(t *testing.T) {
	ts, _ := newTestServer(t, codectest.New(), delivery.ModeServer)

	req, _ := http.NewRequest(http.MethodHead, ts.URL+"/_image?"+string(catTransform.Key()), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/webp" {
		t.Errorf("HEAD = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Post(ts.URL+"/_image?"+string(catTransform.Key()), "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}
}

func TestDevModeDisablesCaching(t *testing.T) {
	ts, _ := newTestServer(t, codectest.New(), delivery.ModeDev)
	resp, _ := get(t, ts.URL+"/_image?"+string(catTransform.Key()))
	if cc := resp.Header.Get("Cache-Control"); cc != cacheNone {
		t.Errorf("Cache-Control = %q, want %q", cc, cacheNone)
	}
}

func TestConcurrentRequestsShareOneRender(t *testing.T) {
	fake := codectest.New()
	fake.Delay = 50 * time.Millisecond
	ts, _ := newTestServer(t, fake, delivery.ModeServer)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/_image?" + string(catTransform.Key()))
			if err != nil {
				t.Error(err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	// Requests that arrive after the first render finished run again, so
	// only bound the count loosely.
	if n := fake.Calls(); n < 1 || n > 3 {
		t.Errorf("codec calls = %d, want a shared render", n)
	}
}

func TestOutputCache(t *testing.T) {
	fake := codectest.New()
	ts, h := newTestServer(t, fake, delivery.ModeServer)
	h.Cache = cache.NewMemoryCache(0)

	for i := 0; i < 3; i++ {
		resp, _ := get(t, ts.URL+"/_image?"+string(catTransform.Key()))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	if fake.Calls() != 1 {
		t.Errorf("codec calls = %d, want 1 with the output cache", fake.Calls())
	}
}

func TestOutputCacheFollowsSourceChanges(t *testing.T) {
	dir := t.TempDir()
	writeCat := func(data string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, "cat.jpg"), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeCat("cat-v1")

	tests := []struct {
		name   string
		source func() (loader.Loader, func(string))
		store  func(t *testing.T) cache.Cache
	}{
		{
			name: "map loader, memory cache",
			source: func() (loader.Loader, func(string)) {
				m := loader.NewMap(map[string][]byte{"/cat.jpg": []byte("cat-v1")})
				return m, func(data string) { m.Put("/cat.jpg", []byte(data)) }
			},
			store: func(*testing.T) cache.Cache { return cache.NewMemoryCache(0) },
		},
		{
			name: "map loader, file cache",
			source: func() (loader.Loader, func(string)) {
				m := loader.NewMap(map[string][]byte{"/cat.jpg": []byte("cat-v1")})
				return m, func(data string) { m.Put("/cat.jpg", []byte(data)) }
			},
			store: func(t *testing.T) cache.Cache {
				c, err := cache.NewFileCache(t.TempDir())
				if err != nil {
					t.Fatal(err)
				}
				return c
			},
		},
		{
			name: "file loader behind router",
			source: func() (loader.Loader, func(string)) {
				return loader.Router{Local: loader.NewFileLoader(dir)}, writeCat
			},
			store: func(*testing.T) cache.Cache { return cache.NewMemoryCache(0) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeCat("cat-v1")
			fake := codectest.New()
			l, update := tt.source()
			h := NewHandler(fake, l, delivery.ModeServer, nil)
			h.Cache = tt.store(t)
			ctx := context.Background()

			first, err := h.Render(ctx, catTransform)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := h.Render(ctx, catTransform); err != nil {
				t.Fatal(err)
			}
			if fake.Calls() != 1 {
				t.Fatalf("codec calls = %d before the change, want 1", fake.Calls())
			}

			// Different length so the file version changes even on
			// coarse mtime filesystems.
			update("cat-version-2")
			second, err := h.Render(ctx, catTransform)
			if err != nil {
				t.Fatal(err)
			}
			if want := string(codectest.Output(catTransform, []byte("cat-version-2"))); string(second.Data) != want {
				t.Errorf("after change got %q, want %q (first was %q)", second.Data, want, first.Data)
			}
			if fake.Calls() != 2 {
				t.Errorf("codec calls = %d after the change, want 2", fake.Calls())
			}
		})
	}
}

func TestBasePath(t *testing.T) {
	fake := codectest.New()
	h := NewHandler(fake, loader.NewMap(map[string][]byte{"/cat.jpg": []byte("cat-bytes")}), delivery.ModeServer, nil)

	static := t.TempDir()
	if err := os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>docs</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(New(Options{Base: "/docs", Route: "/_image", Handler: h, StaticDir: static}).Handler())
	defer ts.Close()

	d := delivery.NewDispatcher(delivery.ModeServer, fake)
	d.Base = "/docs"
	d.Route = "/_image"
	p, err := d.DeliveryPath(catTransform)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"image under base", p, http.StatusOK},
		{"image without base", "/_image?" + string(catTransform.Key()), http.StatusNotFound},
		{"static under base", "/docs/", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, ts.URL+tt.path)
			if resp.StatusCode != tt.want {
				t.Errorf("GET %s = %d %q, want %d", tt.path, resp.StatusCode, body, tt.want)
			}
		})
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	ts := httptest.NewServer(New(Options{Metrics: m}).Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body != "ok\n" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "sitepix_requests_total") {
		t.Error("metrics output lacks sitepix_requests_total")
	}
}

func TestStaticDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(New(Options{StaticDir: dir}).Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/")
	if resp.StatusCode != http.StatusOK || body != "<h1>hi</h1>" {
		t.Errorf("GET / = %d %q", resp.StatusCode, body)
	}
}

func TestServeListenerShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeListener error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeListener did not return after cancel")
	}
}
