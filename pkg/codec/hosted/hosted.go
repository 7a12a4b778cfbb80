// Package hosted delegates image delivery to an external CDN described by
// a URL template. Nothing is built or served locally.
//
// Template placeholders:
//
//	{src}  source with each path segment escaped, leading "/" removed
//	{w}    width
//	{h}    height
//	{f}    format
//	{q}    quality (empty when unset)
//	{fit}  fit mode (empty when unset)
//	{key}  the full serialized transform key
//
// Example:
//
//	https://img.example.com/{src}?w={w}&h={h}&fm={f}&q={q}
package hosted

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/matzehuels/sitepix/pkg/codec"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/transform"
)

// Service implements codec.Service for a CDN.
type Service struct {
	template string
	attrs    map[string]string
}

// New validates template and returns a Service. attrs are added to every
// <img> and may be nil.
func New(template string, attrs map[string]string) (*Service, error) {
	if !strings.Contains(template, "{src}") && !strings.Contains(template, "{key}") {
		return nil, errs.New(errs.ErrCodeInvalidConfig, "hosted url template must contain {src} or {key}: %q", template)
	}
	probe := strings.NewReplacer("{src}", "x", "{w}", "1", "{h}", "1", "{f}", "png", "{q}", "", "{fit}", "", "{key}", "x").Replace(template)
	if err := errs.ValidateURL(probe); err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidConfig, err, "hosted url template %q", template)
	}
	if _, err := url.Parse(probe); err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidConfig, err, "hosted url template %q", template)
	}
	return &Service{template: template, attrs: attrs}, nil
}

func (s *Service) Name() string     { return "hosted" }
func (s *Service) Kind() codec.Kind { return codec.KindHosted }

// URL expands the template for t.
func (s *Service) URL(t transform.Transform) string {
	q := ""
	if t.Quality > 0 {
		q = strconv.Itoa(t.Quality)
	}
	return strings.NewReplacer(
		"{src}", escapeSource(t.Src),
		"{w}", strconv.Itoa(t.Width),
		"{h}", strconv.Itoa(t.Height),
		"{f}", string(t.Format),
		"{q}", q,
		"{fit}", url.QueryEscape(t.Fit),
		"{key}", url.QueryEscape(string(t.Key())),
	).Replace(s.template)
}

func (s *Service) Attributes(ctx context.Context, t transform.Transform) (codec.Attributes, error) {
	return codec.Attributes{Src: s.URL(t), Width: t.Width, Height: t.Height}.WithExtra(s.attrs), nil
}

// escapeSource keeps remote URLs intact apart from escaping, and strips
// the leading slash from local paths so the template controls it.
func escapeSource(src string) string {
	if errs.IsRemote(src) {
		return url.QueryEscape(src)
	}
	segments := strings.Split(strings.TrimPrefix(src, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

var _ codec.Service = (*Service)(nil)
