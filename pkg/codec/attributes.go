package codec

import (
	"html"
	"html/template"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Attributes are the HTML attributes for an <img> element.
type Attributes struct {
	Src    string            `json:"src"`
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// WithExtra returns a copy of a with extra merged in. Keys in extra win.
func (a Attributes) WithExtra(extra map[string]string) Attributes {
	if len(extra) == 0 {
		return a
	}
	merged := make(map[string]string, len(a.Extra)+len(extra))
	maps.Copy(merged, a.Extra)
	maps.Copy(merged, extra)
	a.Extra = merged
	return a
}

// HTML renders a as an <img> tag. Extra attributes are emitted in sorted
// order; src, width and height in Extra are ignored.
func (a Attributes) HTML() template.HTML {
	var b strings.Builder
	b.WriteString(`<img src="`)
	b.WriteString(html.EscapeString(a.Src))
	b.WriteString(`" width="`)
	b.WriteString(strconv.Itoa(a.Width))
	b.WriteString(`" height="`)
	b.WriteString(strconv.Itoa(a.Height))
	b.WriteByte('"')

	for _, k := range slices.Sorted(maps.Keys(a.Extra)) {
		switch k {
		case "src", "width", "height":
			continue
		}
		if !validAttrName(k) {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.Extra[k]))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	return template.HTML(b.String())
}

func validAttrName(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == ':':
		default:
			return false
		}
	}
	return true
}
