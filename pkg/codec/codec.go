// Package codec defines the image service contract.
//
// A [Service] knows how to describe a transform as HTML attributes. There
// are two kinds:
//
//   - [KindServer]: sitepix produces the bytes itself, either at request
//     time through the endpoint or ahead of time in a static build. These
//     services also implement [ServerService].
//   - [KindHosted]: an external CDN produces the bytes; the attributes point
//     straight at it and nothing is built or served locally.
//
// Callers switch on [Service.Kind] and use [AsServer] to get at the
// server-side methods.
package codec

import (
	"context"
	"fmt"
	"net/url"
	"time"

	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/observability"
	"github.com/matzehuels/sitepix/pkg/transform"
)

// Kind tags how a service delivers images.
type Kind int

const (
	KindServer Kind = iota + 1
	KindHosted
)

func (k Kind) String() string {
	switch k {
	case KindServer:
		return "server"
	case KindHosted:
		return "hosted"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Service is implemented by every image service.
type Service interface {
	// Name identifies the service in cache keys, metrics and logs.
	Name() string
	Kind() Kind
	// Attributes returns the <img> attributes for t. For server services
	// the Src is later replaced with the delivery path.
	Attributes(ctx context.Context, t transform.Transform) (Attributes, error)
}

// ServerService is a Service that encodes images itself.
type ServerService interface {
	Service
	Values(t transform.Transform) url.Values
	Parse(v url.Values) (transform.Transform, error)
	// Transform encodes src according to t. Implementations must be safe
	// for concurrent use.
	Transform(ctx context.Context, src []byte, t transform.Transform) (Output, error)
}

// Output is an encoded image.
type Output struct {
	Data   []byte
	Format transform.Format
}

// ContentType returns the MIME type of the output.
func (o Output) ContentType() string {
	return o.Format.ContentType()
}

// AsServer returns s as a ServerService when its Kind is KindServer.
func AsServer(s Service) (ServerService, bool) {
	if s == nil || s.Kind() != KindServer {
		return nil, false
	}
	ss, ok := s.(ServerService)
	return ss, ok
}

// Run invokes s.Transform with observability hooks around it and makes
// sure any failure carries a CODEC_ERROR (or more specific) code.
func Run(ctx context.Context, s ServerService, src []byte, t transform.Transform) (Output, error) {
	key := string(t.Key())
	hooks := observability.Transform()
	hooks.OnTransformStart(ctx, s.Name(), key)
	start := time.Now()

	out, err := s.Transform(ctx, src, t)
	if err == nil && len(out.Data) == 0 {
		err = errs.New(errs.ErrCodeCodec, "%s produced no data for %s", s.Name(), key)
	}
	if err != nil && errs.GetCode(err) == "" && ctx.Err() == nil {
		err = errs.Wrap(errs.ErrCodeCodec, err, "%s transform %s", s.Name(), t.Src)
	}

	hooks.OnTransformComplete(ctx, s.Name(), key, len(out.Data), time.Since(start), err)
	if err != nil {
		return Output{}, err
	}
	if out.Format == "" {
		out.Format = t.Format
	}
	return out, nil
}
