// Package codectest provides a deterministic in-memory codec for tests.
package codectest

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/matzehuels/sitepix/pkg/codec"
	"github.com/matzehuels/sitepix/pkg/transform"
)

// Fake is a codec.ServerService that never touches pixels. Its output is
// "<key>|<source length>", so tests can tell which transform produced a
// file. It counts invocations per key.
type Fake struct {
	// Delay is slept (respecting ctx) before each transform, to widen race
	// windows in concurrency tests.
	Delay time.Duration

	// Errors maps a source to the error returned for it.
	Errors map[string]error

	mu    sync.Mutex
	calls map[transform.Key]int
	total int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{calls: make(map[transform.Key]int)}
}

func (f *Fake) Name() string     { return "fake" }
func (f *Fake) Kind() codec.Kind { return codec.KindServer }

func (f *Fake) Attributes(ctx context.Context, t transform.Transform) (codec.Attributes, error) {
	return codec.Attributes{Src: t.Src, Width: t.Width, Height: t.Height}, nil
}

func (f *Fake) Values(t transform.Transform) url.Values { return transform.Values(t) }

func (f *Fake) Parse(v url.Values) (transform.Transform, error) { return transform.ParseValues(v) }

func (f *Fake) Transform(ctx context.Context, src []byte, t transform.Transform) (codec.Output, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[transform.Key]int)
	}
	f.calls[t.Key()]++
	f.total++
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return codec.Output{}, ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	if err := f.Errors[t.Src]; err != nil {
		return codec.Output{}, err
	}
	return codec.Output{Data: Output(t, src), Format: t.Format}, nil
}

// Output returns the bytes Fake produces for t and src.
func Output(t transform.Transform, src []byte) []byte {
	return []byte(fmt.Sprintf("%s|%d", t.Key(), len(src)))
}

// Calls returns the total number of Transform invocations.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// CallsFor returns how often Transform ran for key.
func (f *Fake) CallsFor(key transform.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// Hosted is a minimal hosted-kind service that points at a fixed CDN host.
type Hosted struct{ Base string }

func (h Hosted) Name() string     { return "fake-hosted" }
func (h Hosted) Kind() codec.Kind { return codec.KindHosted }

func (h Hosted) Attributes(ctx context.Context, t transform.Transform) (codec.Attributes, error) {
	return codec.Attributes{Src: h.Base + "?" + string(t.Key()), Width: t.Width, Height: t.Height}, nil
}

var (
	_ codec.ServerService = (*Fake)(nil)
	_ codec.Service       = Hosted{}
)
