package transform

import (
	"slices"
	"strings"

	errs "github.com/matzehuels/sitepix/pkg/errors"
)

// Format is an output image format.
type Format string

// Supported output formats.
const (
	FormatAVIF Format = "avif"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// contentTypes maps each supported format to its MIME type.
var contentTypes = map[Format]string{
	FormatAVIF: "image/avif",
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatWebP: "image/webp",
	FormatGIF:  "image/gif",
	FormatBMP:  "image/bmp",
	FormatTIFF: "image/tiff",
}

// aliases are accepted on input and normalized.
var aliases = map[string]Format{
	"jpg": FormatJPEG,
	"tif": FormatTIFF,
}

// ParseFormat normalizes s ("JPG", "jpeg", "webp", ...) into a Format.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if f, ok := aliases[s]; ok {
		return f, nil
	}
	f := Format(s)
	if !f.Valid() {
		return "", errs.New(errs.ErrCodeInvalidFormat, "unsupported format: %q (must be one of: %s)", s, strings.Join(formatNames(), ", "))
	}
	return f, nil
}

// Valid reports whether f is a supported output format.
func (f Format) Valid() bool {
	_, ok := contentTypes[f]
	return ok
}

// ContentType returns the MIME type for f, or "" for unknown formats.
func (f Format) ContentType() string {
	return contentTypes[f]
}

// Extension returns the file extension for f without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Formats returns all supported output formats in lexical order.
func Formats() []Format {
	out := make([]Format, 0, len(contentTypes))
	for f := range contentTypes {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

func formatNames() []string {
	var names []string
	for _, f := range Formats() {
		names = append(names, string(f))
	}
	return names
}
