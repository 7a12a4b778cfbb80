package codec_test

import (
	"context"
	"errors"
	"testing"

	"github.com/matzehuels/sitepix/pkg/codec"
	"github.com/matzehuels/sitepix/pkg/codec/codectest"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/transform"
)

var cat = transform.Transform{Src: "/cat.jpg", Width: 400, Height: 300, Format: transform.FormatWebP}

func TestAsServer(t *testing.T) {
	if _, ok := codec.AsServer(codectest.New()); !ok {
		t.Error("server-kind service should convert")
	}
	if _, ok := codec.AsServer(codectest.Hosted{Base: "https://cdn"}); ok {
		t.Error("hosted-kind service must not convert")
	}
	if _, ok := codec.AsServer(nil); ok {
		t.Error("nil service must not convert")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind codec.Kind
		want string
	}{
		{codec.KindServer, "server"},
		{codec.KindHosted, "hosted"},
		{codec.Kind(0), "Kind(0)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestRun(t *testing.T) {
	fake := codectest.New()
	out, err := codec.Run(context.Background(), fake, []byte("abc"), cat)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.ContentType() != "image/webp" {
		t.Errorf("ContentType() = %q, want image/webp", out.ContentType())
	}
	if string(out.Data) != string(codectest.Output(cat, []byte("abc"))) {
		t.Errorf("Data = %q", out.Data)
	}
	if fake.CallsFor(cat.Key()) != 1 {
		t.Errorf("CallsFor = %d, want 1", fake.CallsFor(cat.Key()))
	}
}

func TestRunWrapsPlainErrors(t *testing.T) {
	fake := codectest.New()
	fake.Errors = map[string]error{"/cat.jpg": errors.New("pixels on fire")}

	_, err := codec.Run(context.Background(), fake, []byte("abc"), cat)
	if !errs.Is(err, errs.ErrCodeCodec) {
		t.Errorf("Run error = %v, want CODEC_ERROR", err)
	}

	fake.Errors["/cat.jpg"] = errs.New(errs.ErrCodeSourceNotFound, "gone")
	_, err = codec.Run(context.Background(), fake, []byte("abc"), cat)
	if !errs.Is(err, errs.ErrCodeSourceNotFound) {
		t.Errorf("Run should keep coded errors, got %v", err)
	}
}

func TestAttributesHTML(t *testing.T) {
	a := codec.Attributes{
		Src:    "/_image?src=/a.png&w=1&h=2&f=png",
		Width:  1,
		Height: 2,
		Extra:  map[string]string{"alt": `a "quoted" <cat>`, "class": "hero", "src": "ignored", "on click": "x"},
	}
	want := `<img src="/_image?src=/a.png&amp;w=1&amp;h=2&amp;f=png" width="1" height="2" alt="a &#34;quoted&#34; &lt;cat&gt;" class="hero">`
	if got := string(a.HTML()); got != want {
		t.Errorf("HTML() =\n %s\nwant\n %s", got, want)
	}
}

func TestAttributesWithExtra(t *testing.T) {
	base := codec.Attributes{Src: "x", Extra: map[string]string{"loading": "lazy", "alt": "old"}}
	got := base.WithExtra(map[string]string{"alt": "new"})

	if got.Extra["alt"] != "new" || got.Extra["loading"] != "lazy" {
		t.Errorf("WithExtra merged = %v", got.Extra)
	}
	if base.Extra["alt"] != "old" {
		t.Error("WithExtra must not mutate the receiver")
	}
}
