// Package local is the built-in server-side codec. It decodes sources with
// imaging (plus the golang.org/x/image decoders), resizes according to the
// transform's fit and position, and re-encodes.
//
// Every transform format has an encoder: imaging covers jpeg, png, gif,
// bmp and tiff; webp and avif go through the cgo-free gen2brain encoders.
package local

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"math"
	"net/url"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	colorful "github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/webp"

	"github.com/matzehuels/sitepix/pkg/codec"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/transform"
)

// DefaultQuality is used for lossy formats when the transform has none.
const DefaultQuality = 80

// Service implements codec.ServerService.
type Service struct {
	// Quality overrides DefaultQuality.
	Quality int

	// Filter is the resampling filter. Defaults to Lanczos.
	Filter imaging.ResampleFilter

	// Attrs are added to every <img>. Defaults to lazy loading and async
	// decoding.
	Attrs map[string]string
}

// New returns a Service with default settings.
func New() *Service {
	return &Service{
		Quality: DefaultQuality,
		Filter:  imaging.Lanczos,
		Attrs:   map[string]string{"loading": "lazy", "decoding": "async"},
	}
}

func (s *Service) Name() string     { return "local" }
func (s *Service) Kind() codec.Kind { return codec.KindServer }

func (s *Service) Attributes(ctx context.Context, t transform.Transform) (codec.Attributes, error) {
	return codec.Attributes{Src: t.Src, Width: t.Width, Height: t.Height}.WithExtra(s.Attrs), nil
}

func (s *Service) Values(t transform.Transform) url.Values {
	return transform.Values(t)
}

func (s *Service) Parse(v url.Values) (transform.Transform, error) {
	return transform.ParseValues(v)
}

// encodeFunc writes img to w. quality is 1-100 and ignored by lossless
// formats.
type encodeFunc func(w io.Writer, img image.Image, quality int) error

func imagingEncoder(f imaging.Format) encodeFunc {
	return func(w io.Writer, img image.Image, quality int) error {
		return imaging.Encode(w, img, f, imaging.JPEGQuality(quality))
	}
}

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	return webp.Encode(w, img, webp.Options{Quality: quality, Method: 4})
}

func encodeAVIF(w io.Writer, img image.Image, quality int) error {
	return avif.Encode(w, img, avif.Options{Quality: quality, QualityAlpha: quality, Speed: 10})
}

var encoders = map[transform.Format]encodeFunc{
	transform.FormatJPEG: imagingEncoder(imaging.JPEG),
	transform.FormatPNG:  imagingEncoder(imaging.PNG),
	transform.FormatGIF:  imagingEncoder(imaging.GIF),
	transform.FormatBMP:  imagingEncoder(imaging.BMP),
	transform.FormatTIFF: imagingEncoder(imaging.TIFF),
	transform.FormatWebP: encodeWebP,
	transform.FormatAVIF: encodeAVIF,
}

// opaque formats cannot carry alpha and are flattened onto the background.
var opaque = map[transform.Format]bool{
	transform.FormatJPEG: true,
	transform.FormatBMP:  true,
}

func (s *Service) Transform(ctx context.Context, src []byte, t transform.Transform) (codec.Output, error) {
	encode, ok := encoders[t.Format]
	if !ok {
		return codec.Output{}, errs.New(errs.ErrCodeCodec, "local codec cannot encode %s", t.Format)
	}
	if err := ctx.Err(); err != nil {
		return codec.Output{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return codec.Output{}, errs.Wrap(errs.ErrCodeCodec, err, "decode %s", t.Src)
	}

	bg, err := background(t)
	if err != nil {
		return codec.Output{}, err
	}

	out := s.resize(img, t, bg)
	if opaque[t.Format] {
		canvas := imaging.New(out.Bounds().Dx(), out.Bounds().Dy(), opaqueColor(bg))
		out = imaging.Overlay(canvas, out, image.Point{}, 1.0)
	}
	if err := ctx.Err(); err != nil {
		return codec.Output{}, err
	}

	quality := t.Quality
	if quality == 0 {
		quality = s.Quality
	}
	if quality == 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := encode(&buf, out, quality); err != nil {
		return codec.Output{}, errs.Wrap(errs.ErrCodeCodec, err, "encode %s as %s", t.Src, t.Format)
	}
	return codec.Output{Data: buf.Bytes(), Format: t.Format}, nil
}

func (s *Service) resize(img image.Image, t transform.Transform, bg color.Color) image.Image {
	filter := s.Filter
	if filter.Support == 0 && filter.Kernel == nil {
		filter = imaging.Lanczos
	}

	switch t.Fit {
	case transform.FitFill:
		return imaging.Resize(img, t.Width, t.Height, filter)

	case transform.FitInside:
		return imaging.Fit(img, t.Width, t.Height, filter)

	case transform.FitContain:
		fitted := imaging.Fit(img, t.Width, t.Height, filter)
		canvas := imaging.New(t.Width, t.Height, bg)
		return imaging.Paste(canvas, fitted, anchorPoint(canvas.Bounds(), fitted.Bounds(), t.Position))

	case transform.FitOutside:
		b := img.Bounds()
		scale := math.Max(float64(t.Width)/float64(b.Dx()), float64(t.Height)/float64(b.Dy()))
		return imaging.Resize(img,
			max(1, int(math.Round(float64(b.Dx())*scale))),
			max(1, int(math.Round(float64(b.Dy())*scale))),
			filter)

	default: // cover
		return imaging.Fill(img, t.Width, t.Height, anchor(t.Position), filter)
	}
}

var anchors = map[string]imaging.Anchor{
	"":             imaging.Center,
	"center":       imaging.Center,
	"top":          imaging.Top,
	"bottom":       imaging.Bottom,
	"left":         imaging.Left,
	"right":        imaging.Right,
	"top-left":     imaging.TopLeft,
	"top-right":    imaging.TopRight,
	"bottom-left":  imaging.BottomLeft,
	"bottom-right": imaging.BottomRight,
}

func anchor(pos string) imaging.Anchor {
	if a, ok := anchors[pos]; ok {
		return a
	}
	return imaging.Center
}

// anchorPoint positions inner within outer according to pos.
func anchorPoint(outer, inner image.Rectangle, pos string) image.Point {
	dx := outer.Dx() - inner.Dx()
	dy := outer.Dy() - inner.Dy()
	x, y := dx/2, dy/2

	switch anchor(pos) {
	case imaging.TopLeft:
		x, y = 0, 0
	case imaging.Top:
		y = 0
	case imaging.TopRight:
		x, y = dx, 0
	case imaging.Left:
		x = 0
	case imaging.Right:
		x = dx
	case imaging.BottomLeft:
		x, y = 0, dy
	case imaging.Bottom:
		y = dy
	case imaging.BottomRight:
		x, y = dx, dy
	}
	return image.Pt(x, y)
}

// background parses t.Background. Empty means transparent.
func background(t transform.Transform) (color.Color, error) {
	if t.Background == "" {
		return color.Transparent, nil
	}
	c, err := colorful.Hex(t.Background)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidTransform, err, "background %q", t.Background)
	}
	return c, nil
}

// opaqueColor replaces a transparent background with white.
func opaqueColor(c color.Color) color.Color {
	if _, _, _, a := c.RGBA(); a == 0 {
		return color.White
	}
	return c
}

var _ codec.ServerService = (*Service)(nil)
