// Package delivery decides how a page references a transformed image.
//
// In [ModeDev] and [ModeServer] the image URL points at the request
// endpoint with the serialized transform as its query. In [ModeStatic] the
// URL points at a pre-built file and the transform is recorded in a
// [Registry] so the build driver can produce it after all pages rendered.
// Hosted codecs bypass both: their attributes already reference a CDN.
package delivery

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/sitepix/pkg/codec"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/transform"
)

// DefaultRoute is where the request endpoint is mounted.
const DefaultRoute = "/_image"

// Mode selects the delivery strategy.
type Mode string

const (
	ModeDev    Mode = "dev"
	ModeServer Mode = "server"
	ModeStatic Mode = "static"
)

// ParseMode parses a mode name. The empty string means static.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDev, ModeServer, ModeStatic:
		return m, nil
	case "":
		return ModeStatic, nil
	default:
		return "", errs.New(errs.ErrCodeInvalidConfig, "unknown mode %q (want dev, server or static)", s)
	}
}

// ViaEndpoint reports whether images in this mode are served by the endpoint.
func (m Mode) ViaEndpoint() bool { return m == ModeDev || m == ModeServer }

func (m Mode) String() string { return string(m) }

// FilenameFunc names the output file of t, relative to the output root.
// values holds the codec's query parameters for t.
type FilenameFunc func(t transform.Transform, values url.Values) string

// DefaultFilename is [transform.Filename] as a FilenameFunc.
func DefaultFilename(t transform.Transform, _ url.Values) string {
	return transform.Filename(t)
}

// Dispatcher resolves page image requests into attributes.
type Dispatcher struct {
	Mode    Mode
	Service codec.Service

	// Route is the endpoint path. Defaults to DefaultRoute.
	Route string

	// Base is prepended to every delivery path ("/docs" yields
	// "/docs/_image/..."). Defaults to "/".
	Base string

	// Registry receives static transforms. Required in ModeStatic.
	Registry *Registry

	// FilenameFormat names static files. Defaults to DefaultFilename.
	FilenameFormat FilenameFunc

	Logger *log.Logger
}

// NewDispatcher returns a dispatcher for mode using svc. A registry is
// created for ModeStatic.
func NewDispatcher(mode Mode, svc codec.Service) *Dispatcher {
	d := &Dispatcher{Mode: mode, Service: svc}
	if mode == ModeStatic {
		d.Registry = NewRegistry()
	}
	return d
}

// Image resolves req and returns the attributes of the <img> element that
// displays it.
func (d *Dispatcher) Image(ctx context.Context, req transform.Request) (codec.Attributes, error) {
	if d.Service == nil {
		return codec.Attributes{}, errs.New(errs.ErrCodeInvalidConfig, "no image service configured")
	}
	t, err := transform.Resolve(req)
	if err != nil {
		return codec.Attributes{}, err
	}
	attrs, err := d.Service.Attributes(ctx, t)
	if err != nil {
		return codec.Attributes{}, fmt.Errorf("%s attributes for %s: %w", d.Service.Name(), t.Src, err)
	}

	switch kind := d.Service.Kind(); kind {
	case codec.KindServer:
		p, err := d.DeliveryPath(t)
		if err != nil {
			return codec.Attributes{}, err
		}
		attrs.Src = p
	case codec.KindHosted:
		// Src already points at the CDN.
	default:
		return codec.Attributes{}, errs.New(errs.ErrCodeUnsupported, "service %s has unknown kind %s", d.Service.Name(), kind)
	}
	return attrs.WithExtra(req.Attrs), nil
}

// DeliveryPath returns the URL path that serves t, registering t for the
// static build when needed.
func (d *Dispatcher) DeliveryPath(t transform.Transform) (string, error) {
	if d.Mode.ViaEndpoint() {
		return d.join(d.route()) + "?" + string(t.Key()), nil
	}
	if d.Mode != ModeStatic {
		return "", errs.New(errs.ErrCodeInvalidConfig, "unknown mode %q", d.Mode)
	}
	if err := d.Register(t); err != nil {
		return "", err
	}
	return d.join(d.Filename(t)), nil
}

// Register records t for the static build.
func (d *Dispatcher) Register(t transform.Transform) error {
	if d.Registry == nil {
		return errs.New(errs.ErrCodeInternal, "static delivery without a registry")
	}
	added, err := d.Registry.Add(t)
	if err != nil {
		return err
	}
	if added {
		d.logger().Debug("registered image", "src", t.Src, "key", t.Key())
	}
	return nil
}

// Filename returns the output path of t relative to the output root.
func (d *Dispatcher) Filename(t transform.Transform) string {
	return Filename(d.FilenameFormat, d.Service, t)
}

// Filename names t with fn, falling back to DefaultFilename. The result is
// slash-separated and never starts with "/".
func Filename(fn FilenameFunc, svc codec.Service, t transform.Transform) string {
	if fn == nil {
		fn = DefaultFilename
	}
	values := transform.Values(t)
	if ss, ok := codec.AsServer(svc); ok {
		values = ss.Values(t)
	}
	name := strings.ReplaceAll(fn(t, values), `\`, "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func (d *Dispatcher) route() string {
	if d.Route == "" {
		return DefaultRoute
	}
	return d.Route
}

func (d *Dispatcher) join(p string) string {
	base := d.Base
	if base == "" {
		base = "/"
	}
	return path.Join("/", base, p)
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger == nil {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	return d.Logger
}
