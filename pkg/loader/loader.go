// Package loader reads source image bytes.
//
// Sources are either site paths ("/assets/cat.jpg", resolved against a
// root directory by [FileLoader]) or http(s) URLs (fetched by
// [HTTPLoader]). [Router] picks between them. Every implementation reports
// a missing source as SOURCE_NOT_FOUND.
package loader

import (
	"context"
	"maps"
	"sync"

	errs "github.com/matzehuels/sitepix/pkg/errors"
)

// Loader loads the raw bytes of a source image.
type Loader interface {
	Load(ctx context.Context, src string) ([]byte, error)
}

// Func adapts a function to the Loader interface.
type Func func(ctx context.Context, src string) ([]byte, error)

func (f Func) Load(ctx context.Context, src string) ([]byte, error) { return f(ctx, src) }

// Router sends remote sources to Remote and everything else to Local.
type Router struct {
	Local  Loader
	Remote Loader
}

func (r Router) Load(ctx context.Context, src string) ([]byte, error) {
	if errs.IsRemote(src) {
		if r.Remote == nil {
			return nil, errs.New(errs.ErrCodeInvalidInput, "remote sources are disabled: %s", src)
		}
		return r.Remote.Load(ctx, src)
	}
	if r.Local == nil {
		return nil, errs.New(errs.ErrCodeSourceNotFound, "no local loader for %s", src)
	}
	return r.Local.Load(ctx, src)
}

// Version reports the Local loader's version of src. Remote sources and
// local loaders without versions report "".
func (r Router) Version(src string) (string, error) {
	if errs.IsRemote(src) {
		return "", nil
	}
	if v, ok := r.Local.(Versioner); ok {
		return v.Version(src)
	}
	return "", nil
}

// Map is an in-memory Loader keyed by src. Safe for concurrent use.
type Map struct {
	mu    sync.RWMutex
	files map[string][]byte
	loads map[string]int
}

// NewMap returns a Map holding a copy of files.
func NewMap(files map[string][]byte) *Map {
	m := &Map{files: make(map[string][]byte, len(files)), loads: make(map[string]int)}
	maps.Copy(m.files, files)
	return m
}

// Put adds or replaces a source.
func (m *Map) Put(src string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[src] = data
}

func (m *Map) Load(ctx context.Context, src string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads[src]++
	data, ok := m.files[src]
	if !ok {
		return nil, errs.New(errs.ErrCodeSourceNotFound, "image not found: %s", src)
	}
	return data, nil
}

// Loads returns how often src was requested.
func (m *Map) Loads(src string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads[src]
}

var (
	_ Loader = Func(nil)
	_ Loader = Router{}
	_ Loader = (*Map)(nil)

	_ Versioner = Router{}
	_ Versioner = (*FileLoader)(nil)
)
