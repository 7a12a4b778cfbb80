package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	errs "github.com/matzehuels/sitepix/pkg/errors"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newProject lays out a site in a temp dir and makes it the working
// directory.
func newProject(t *testing.T, config string, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	files["sitepix.toml"] = []byte(config)
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("SITEPIX_CONFIG", "")
	t.Chdir(dir)
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	root := New(&logs, LogInfo).RootCommand()
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const testConfig = `
[site]
pages = "pages"
src = "public"
out = "dist"

[cache]
type = "none"

[remote]
enabled = false
`

func TestBuildStaticSite(t *testing.T) {
	dir := newProject(t, testConfig, map[string][]byte{
		"public/logo.png":        testPNG(t, 80, 40),
		"pages/index.html":       []byte(`<header>{{ imageMeta "/logo.png" "w" 40 "alt" "Logo" }}</header>`),
		"pages/about/index.html": []byte(`<p>{{ imageURL "/logo.png" "w" 40 "h" 20 "f" "png" }}</p>`),
	})

	if _, err := run(t, "build"); err != nil {
		t.Fatalf("build: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "dist", "_image", "logo_*.png"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("images = %v (err %v), want exactly one", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width != 40 || cfg.Height != 20 {
		t.Errorf("output %dx%d (err %v), want 40x20", cfg.Width, cfg.Height, err)
	}

	want := "/_image/" + filepath.Base(matches[0])
	for _, page := range []string{"index.html", "about/index.html"} {
		html, err := os.ReadFile(filepath.Join(dir, "dist", filepath.FromSlash(page)))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(html), want) {
			t.Errorf("%s = %s, want a reference to %s", page, html, want)
		}
	}
}

func TestBuildAbortsOnMissingSource(t *testing.T) {
	newProject(t, testConfig, map[string][]byte{
		"pages/index.html": []byte(`{{ image "/missing.png" "w" 10 "h" 10 "f" "png" }}`),
	})

	_, err := run(t, "build")
	if !errs.Is(err, errs.ErrCodeBuildFailed) {
		t.Fatalf("err = %v, want %s", err, errs.ErrCodeBuildFailed)
	}
}

func TestBuildRejectsBadFlags(t *testing.T) {
	newProject(t, testConfig, map[string][]byte{})

	_, err := run(t, "build", "--on-error", "sometimes")
	if !errs.Is(err, errs.ErrCodeInvalidConfig) {
		t.Fatalf("err = %v, want %s", err, errs.ErrCodeInvalidConfig)
	}
}

func TestResolveJSON(t *testing.T) {
	newProject(t, testConfig, map[string][]byte{
		"public/photos/cat.png": testPNG(t, 160, 90),
	})

	out, err := run(t, "resolve", "/photos/cat.png", "-W", "80", "--json")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var res resolution
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}

	tr := res.Transform
	if tr.Src != "/photos/cat.png" || tr.Width != 80 || tr.Height != 45 || tr.Format != "png" {
		t.Errorf("transform = %+v", tr)
	}
	if res.Key != "src=/photos/cat.png&w=80&h=45&f=png" {
		t.Errorf("key = %q", res.Key)
	}
	if res.Endpoint != "/_image?"+res.Key {
		t.Errorf("endpoint = %q", res.Endpoint)
	}
	if !strings.HasPrefix(res.File, "_image/photos/cat_") {
		t.Errorf("file = %q", res.File)
	}
	if !strings.Contains(res.HTML, `src="/`+res.File+`"`) {
		t.Errorf("html = %q, want the static file", res.HTML)
	}
}

func TestResolveWithoutProbeNeedsSize(t *testing.T) {
	newProject(t, testConfig, map[string][]byte{})

	_, err := run(t, "resolve", "/absent.png", "-W", "80", "--probe=false")
	if !errs.Is(err, errs.ErrCodeInvalidTransform) {
		t.Fatalf("err = %v, want %s", err, errs.ErrCodeInvalidTransform)
	}
}

func TestTransformWritesFile(t *testing.T) {
	dir := newProject(t, testConfig, map[string][]byte{
		"public/cat.png": testPNG(t, 64, 64),
		"loose/dog.png":  testPNG(t, 32, 16),
	})

	tests := []struct {
		name   string
		args   []string
		out    string
		wantW  int
		wantH  int
		format string
	}{
		{
			name:   "source dir",
			args:   []string{"transform", "/cat.png", "-W", "16", "-H", "16", "-f", "jpeg", "-o", "cat.jpg"},
			out:    "cat.jpg",
			wantW:  16,
			wantH:  16,
			format: "jpeg",
		},
		{
			name:   "file outside source dir",
			args:   []string{"transform", filepath.Join("loose", "dog.png"), "-W", "8", "-o", "dog.png"},
			out:    "dog.png",
			wantW:  8,
			wantH:  4,
			format: "png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err != nil {
				t.Fatalf("transform: %v", err)
			}
			data, err := os.ReadFile(filepath.Join(dir, tt.out))
			if err != nil {
				t.Fatal(err)
			}
			cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH || format != tt.format {
				t.Errorf("got %dx%d %s, want %dx%d %s", cfg.Width, cfg.Height, format, tt.wantW, tt.wantH, tt.format)
			}
		})
	}
}

func TestCachePathRequiresFileBackend(t *testing.T) {
	newProject(t, testConfig, map[string][]byte{})

	if _, err := run(t, "cache", "path"); !errs.Is(err, errs.ErrCodeUnsupported) {
		t.Fatalf("err = %v, want %s", err, errs.ErrCodeUnsupported)
	}
}

func TestCacheClearFileBackend(t *testing.T) {
	storeDir := filepath.ToSlash(t.TempDir())
	config := strings.Replace(testConfig, `type = "none"`, "type = \"file\"\ndir = \""+storeDir+"\"", 1)
	newProject(t, config, map[string][]byte{})

	out, err := run(t, "cache", "path")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != storeDir {
		t.Errorf("cache path = %q, want %q", out, storeDir)
	}
	if _, err := run(t, "cache", "clear"); err != nil {
		t.Fatalf("cache clear: %v", err)
	}
}

func TestCompletion(t *testing.T) {
	out, err := run(t, "completion", "bash")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, appName) {
		t.Errorf("bash completion does not mention %s", appName)
	}
	if _, err := run(t, "completion", "tcsh"); err == nil {
		t.Error("unknown shell accepted")
	}
}
