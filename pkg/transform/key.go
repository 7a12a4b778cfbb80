package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	errs "github.com/matzehuels/sitepix/pkg/errors"
)

// OutputDir is the directory, relative to the output root, that holds
// every generated image.
const OutputDir = "_image"

const (
	maxStemLength = 64
	hashLength    = 16
)

// Key is the canonical serialized form of a Transform.
type Key string

func (k Key) String() string { return string(k) }

// param is one query parameter in canonical order.
type param struct {
	name  string
	value func(Transform) string
}

// params lists every transform field in the order it is serialized.
// Optional fields are omitted when empty.
var params = []param{
	{"src", func(t Transform) string { return t.Src }},
	{"w", func(t Transform) string { return strconv.Itoa(t.Width) }},
	{"h", func(t Transform) string { return strconv.Itoa(t.Height) }},
	{"f", func(t Transform) string { return string(t.Format) }},
	{"q", func(t Transform) string { return optionalInt(t.Quality) }},
	{"fit", func(t Transform) string { return t.Fit }},
	{"pos", func(t Transform) string { return t.Position }},
	{"bg", func(t Transform) string { return t.Background }},
}

func optionalInt(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// Serialize returns the canonical query string for t, without a leading "?".
func Serialize(t Transform) Key {
	var b strings.Builder
	for _, p := range params {
		v := p.value(t)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.name)
		b.WriteByte('=')
		b.WriteString(escape(v))
	}
	return Key(b.String())
}

// escape query-escapes v but keeps slashes readable.
func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "%2F", "/")
}

// Values returns t as url.Values, for services that build their own URLs.
func Values(t Transform) url.Values {
	v := url.Values{}
	for _, p := range params {
		if s := p.value(t); s != "" {
			v.Set(p.name, s)
		}
	}
	return v
}

// Parse is the inverse of Serialize. A leading "?" is ignored.
func Parse(query string) (Transform, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return Transform{}, errs.Wrap(errs.ErrCodeInvalidTransform, err, "malformed query")
	}
	return ParseValues(values)
}

// ParseValues builds a Transform from already-decoded query parameters.
func ParseValues(v url.Values) (Transform, error) {
	t := Transform{
		Src:        v.Get("src"),
		Fit:        v.Get("fit"),
		Position:   v.Get("pos"),
		Background: v.Get("bg"),
	}
	if t.Src == "" {
		return Transform{}, errs.New(errs.ErrCodeInvalidTransform, `missing required parameter "src"`)
	}

	var err error
	if t.Width, err = parseInt(v, "w", true); err != nil {
		return Transform{}, err
	}
	if t.Height, err = parseInt(v, "h", true); err != nil {
		return Transform{}, err
	}
	if t.Quality, err = parseInt(v, "q", false); err != nil {
		return Transform{}, err
	}

	f := v.Get("f")
	if f == "" {
		return Transform{}, errs.New(errs.ErrCodeInvalidTransform, `missing required parameter "f"`)
	}
	if t.Format, err = ParseFormat(f); err != nil {
		return Transform{}, err
	}

	if err := t.Validate(); err != nil {
		return Transform{}, err
	}
	return t, nil
}

func parseInt(v url.Values, name string, required bool) (int, error) {
	s := v.Get(name)
	if s == "" {
		if required {
			return 0, errs.New(errs.ErrCodeInvalidTransform, "missing required parameter %q", name)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errs.New(errs.ErrCodeInvalidTransform, "parameter %q must be a positive integer (got %q)", name, s)
	}
	return n, nil
}

// Filename returns the output path for t, relative to the output root.
//
// The path keeps the source's directory and stem for readability and
// appends a hash of the key, so distinct transforms never share a file:
//
//	/assets/cat.jpg at 400x300 webp -> _image/assets/cat_<hash>.webp
//	https://cdn.example.com/a/b.png -> _image/remote/cdn.example.com/b_<hash>.png
func Filename(t Transform) string {
	sum := sha256.Sum256([]byte(Serialize(t)))
	hash := hex.EncodeToString(sum[:])[:hashLength]

	dir, base := sourceParts(t.Src)
	stem := sanitize(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		stem = "image"
	}
	return path.Join(OutputDir, dir, fmt.Sprintf("%s_%s.%s", stem, hash, t.Format.Extension()))
}

func sourceParts(src string) (dir, base string) {
	if errs.IsRemote(src) {
		u, err := url.Parse(src)
		if err != nil {
			return "remote", ""
		}
		return path.Join("remote", sanitize(u.Hostname())), path.Base(u.Path)
	}

	// Rooting before Clean drops any leading "..".
	p := path.Clean("/" + src)
	var parts []string
	for _, seg := range strings.Split(strings.TrimPrefix(path.Dir(p), "/"), "/") {
		if s := sanitize(seg); s != "" {
			parts = append(parts, s)
		}
	}
	return path.Join(parts...), path.Base(p)
}

// sanitize keeps [A-Za-z0-9._-], maps everything else to '-', strips
// leading dots and truncates to maxStemLength.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if len(out) > maxStemLength {
		out = out[:maxStemLength]
	}
	return out
}
