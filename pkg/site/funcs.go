package site

import (
	"context"
	"fmt"
	"html/template"
	"strconv"

	"github.com/matzehuels/sitepix/pkg/codec"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/transform"
)

func (s *Site) funcs(ctx context.Context) template.FuncMap {
	return template.FuncMap{
		"image": func(src string, args ...any) (template.HTML, error) {
			attrs, err := s.image(ctx, src, false, args)
			if err != nil {
				return "", err
			}
			return attrs.HTML(), nil
		},
		"imageMeta": func(src string, args ...any) (template.HTML, error) {
			attrs, err := s.image(ctx, src, true, args)
			if err != nil {
				return "", err
			}
			return attrs.HTML(), nil
		},
		"imageURL": func(src string, args ...any) (string, error) {
			attrs, err := s.image(ctx, src, false, args)
			if err != nil {
				return "", err
			}
			return attrs.Src, nil
		},
	}
}

func (s *Site) image(ctx context.Context, src string, probe bool, args []any) (codec.Attributes, error) {
	req, err := ParseArgs(src, args...)
	if err != nil {
		return codec.Attributes{}, err
	}
	if probe {
		if s.Meta == nil {
			return codec.Attributes{}, errs.New(errs.ErrCodeInvalidConfig, "imageMeta needs a metadata source")
		}
		m, err := s.Meta.Metadata(ctx, src)
		if err != nil {
			return codec.Attributes{}, err
		}
		req.Metadata = m
	}
	return s.Dispatcher.Image(ctx, req)
}

// ParseArgs builds a request from template arguments: alternating names
// and values. Known names set transform fields (w, h, ratio, f, q, fit,
// pos, bg); every other name becomes an HTML attribute.
func ParseArgs(src string, args ...any) (transform.Request, error) {
	req := transform.Request{Src: src}
	if len(args)%2 != 0 {
		return req, errs.New(errs.ErrCodeInvalidInput, "image %s: arguments must be name/value pairs", src)
	}

	for i := 0; i < len(args); i += 2 {
		name, ok := args[i].(string)
		if !ok {
			return req, errs.New(errs.ErrCodeInvalidInput, "image %s: argument name %v is not a string", src, args[i])
		}
		v := args[i+1]

		var err error
		switch name {
		case "w", "width":
			req.Width, err = toInt(name, v)
		case "h", "height":
			req.Height, err = toInt(name, v)
		case "q", "quality":
			req.Quality, err = toInt(name, v)
		case "ratio", "aspectRatio":
			req.AspectRatio = toString(v)
		case "f", "format":
			req.Format, err = transform.ParseFormat(toString(v))
		case "fit":
			req.Fit = toString(v)
		case "pos", "position":
			req.Position = toString(v)
		case "bg", "background":
			req.Background = toString(v)
		default:
			if req.Attrs == nil {
				req.Attrs = make(map[string]string)
			}
			req.Attrs[name] = toString(v)
		}
		if err != nil {
			return req, err
		}
	}
	return req, nil
}

func toInt(name string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			break
		}
		return int(n), nil
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, nil
		}
	}
	return 0, errs.New(errs.ErrCodeInvalidTransform, "%s must be an integer (got %v)", name, v)
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}
