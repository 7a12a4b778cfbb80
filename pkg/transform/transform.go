package transform

import (
	"regexp"

	errs "github.com/matzehuels/sitepix/pkg/errors"
)

// MaxDimension is the largest width or height a transform may request.
const MaxDimension = 16384

// Fit modes understood by server-side codecs.
const (
	FitCover   = "cover"   // fill the box, cropping overflow (default)
	FitContain = "contain" // fit inside the box, pad with the background
	FitFill    = "fill"    // stretch to the box, ignoring the ratio
	FitInside  = "inside"  // fit inside the box, no padding
	FitOutside = "outside" // cover the box, no cropping
)

var validFits = map[string]bool{
	"": true, FitCover: true, FitContain: true, FitFill: true, FitInside: true, FitOutside: true,
}

var validPositions = map[string]bool{
	"": true, "center": true, "top": true, "bottom": true, "left": true, "right": true,
	"top-left": true, "top-right": true, "bottom-left": true, "bottom-right": true,
}

var backgroundRegex = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Metadata describes a source image whose natural size is known up front.
type Metadata struct {
	Src    string `json:"src"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format Format `json:"format"`
}

// Request is a partially specified transform as written by a page.
// Zero values mean "not given".
type Request struct {
	// Src identifies the source image. Ignored when Metadata is set.
	Src string

	// Metadata, when set, supplies the source id and the natural size and
	// format used to fill in missing fields.
	Metadata *Metadata

	Width       int
	Height      int
	AspectRatio string // "16:9" or "1.777"
	Format      Format

	// Codec options, passed through unchanged.
	Quality    int
	Fit        string
	Position   string
	Background string

	// Attrs are extra HTML attributes (alt, class, ...). They are not part
	// of the transform identity.
	Attrs map[string]string
}

// Transform is a fully resolved image transform.
//
// Transform is comparable; equal values always have equal keys.
type Transform struct {
	Src        string `json:"src"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     Format `json:"format"`
	Quality    int    `json:"quality,omitempty"`
	Fit        string `json:"fit,omitempty"`
	Position   string `json:"position,omitempty"`
	Background string `json:"background,omitempty"`
}

// Key returns the canonical serialized form of t.
func (t Transform) Key() Key {
	return Serialize(t)
}

// IsRemote reports whether t's source is an http(s) URL.
func (t Transform) IsRemote() bool {
	return errs.IsRemote(t.Src)
}

// Validate checks that every field of t is within range.
func (t Transform) Validate() error {
	if err := errs.ValidateSource(t.Src); err != nil {
		return err
	}
	if t.Width < 1 || t.Height < 1 {
		return errs.New(errs.ErrCodeInvalidTransform, "width and height must be positive (got %dx%d)", t.Width, t.Height)
	}
	if t.Width > MaxDimension || t.Height > MaxDimension {
		return errs.New(errs.ErrCodeInvalidTransform, "%dx%d exceeds the maximum dimension of %d", t.Width, t.Height, MaxDimension)
	}
	if !t.Format.Valid() {
		return errs.New(errs.ErrCodeInvalidFormat, "unsupported format: %q", t.Format)
	}
	if t.Quality < 0 || t.Quality > 100 {
		return errs.New(errs.ErrCodeInvalidTransform, "quality must be between 1 and 100 (got %d)", t.Quality)
	}
	if !validFits[t.Fit] {
		return errs.New(errs.ErrCodeInvalidTransform, "invalid fit: %q", t.Fit)
	}
	if !validPositions[t.Position] {
		return errs.New(errs.ErrCodeInvalidTransform, "invalid position: %q", t.Position)
	}
	if t.Background != "" && !backgroundRegex.MatchString(t.Background) {
		return errs.New(errs.ErrCodeInvalidTransform, "invalid background: %q (want #rgb or #rrggbb)", t.Background)
	}
	return nil
}
