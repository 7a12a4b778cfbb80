package transform

import (
	"math"
	"strconv"
	"strings"

	errs "github.com/matzehuels/sitepix/pkg/errors"
)

// Resolve fills in the missing fields of req and returns a validated
// Transform. It never performs I/O.
func Resolve(req Request) (Transform, error) {
	src := req.Src
	if req.Metadata != nil && req.Metadata.Src != "" {
		src = req.Metadata.Src
	}
	if err := errs.ValidateSource(src); err != nil {
		return Transform{}, err
	}

	width, height, err := resolveSize(req.Width, req.Height, req.AspectRatio, req.Metadata)
	if err != nil {
		return Transform{}, err
	}

	format := req.Format
	if format == "" && req.Metadata != nil {
		format = req.Metadata.Format
	}
	if format == "" {
		return Transform{}, errs.New(errs.ErrCodeInvalidTransform, "format is required for %q when no metadata is available", src)
	}
	format, err = ParseFormat(string(format))
	if err != nil {
		return Transform{}, err
	}

	t := Transform{
		Src:        src,
		Width:      width,
		Height:     height,
		Format:     format,
		Quality:    req.Quality,
		Fit:        req.Fit,
		Position:   req.Position,
		Background: req.Background,
	}
	if err := t.Validate(); err != nil {
		return Transform{}, err
	}
	return t, nil
}

func resolveSize(width, height int, aspectRatio string, meta *Metadata) (int, int, error) {
	if width < 0 || height < 0 {
		return 0, 0, errs.New(errs.ErrCodeInvalidTransform, "width and height cannot be negative (got %dx%d)", width, height)
	}

	switch {
	case width > 0 && height > 0:
		return width, height, nil

	case width == 0 && height == 0:
		if meta == nil {
			return 0, 0, errs.New(errs.ErrCodeInvalidTransform, `"width" and "height" cannot both be empty without image metadata`)
		}
		if meta.Width < 1 || meta.Height < 1 {
			return 0, 0, errs.New(errs.ErrCodeInvalidTransform, "metadata for %q has no natural size", meta.Src)
		}
		return meta.Width, meta.Height, nil
	}

	ratio, err := resolveRatio(aspectRatio, meta)
	if err != nil {
		return 0, 0, err
	}

	if width > 0 {
		height = int(math.Round(float64(width) / ratio))
	} else {
		width = int(math.Round(float64(height) * ratio))
	}
	if width < 1 || height < 1 {
		return 0, 0, errs.New(errs.ErrCodeInvalidTransform, "aspect ratio %g yields an empty image (%dx%d)", ratio, width, height)
	}
	return width, height, nil
}

func resolveRatio(aspectRatio string, meta *Metadata) (float64, error) {
	if aspectRatio != "" {
		return ParseAspectRatio(aspectRatio)
	}
	if meta != nil && meta.Width > 0 && meta.Height > 0 {
		return float64(meta.Width) / float64(meta.Height), nil
	}
	return 0, errs.New(errs.ErrCodeInvalidTransform, `"aspectRatio" is required when only one of "width" or "height" is given`)
}

// ParseAspectRatio parses "W:H" or a plain decimal ("1.5") into width/height.
func ParseAspectRatio(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errs.New(errs.ErrCodeInvalidAspectRatio, "aspect ratio is empty")
	}

	if w, h, ok := strings.Cut(s, ":"); ok {
		wf, werr := strconv.ParseFloat(strings.TrimSpace(w), 64)
		hf, herr := strconv.ParseFloat(strings.TrimSpace(h), 64)
		if werr != nil || herr != nil || !finitePositive(wf) || !finitePositive(hf) {
			return 0, errs.New(errs.ErrCodeInvalidAspectRatio, "invalid aspect ratio: %q (want W:H or a positive number)", s)
		}
		return wf / hf, nil
	}

	r, err := strconv.ParseFloat(s, 64)
	if err != nil || !finitePositive(r) {
		return 0, errs.New(errs.ErrCodeInvalidAspectRatio, "invalid aspect ratio: %q (want W:H or a positive number)", s)
	}
	return r, nil
}

func finitePositive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0)
}
