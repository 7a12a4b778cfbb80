package delivery

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/matzehuels/sitepix/pkg/transform"
)

// ErrRegistrySealed is returned by [Registry.Add] once the build phase has
// started.
var ErrRegistrySealed = errors.New("image registry is sealed")

// Registry collects the transforms a static build must produce, grouped by
// source. Each (src, key) pair is stored once no matter how many pages
// request it. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	sources map[string]map[transform.Key]transform.Transform
	count   int
	sealed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]map[transform.Key]transform.Transform)}
}

// Add records t. It reports whether t was new.
func (r *Registry) Add(t transform.Transform) (bool, error) {
	key := t.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return false, ErrRegistrySealed
	}
	byKey, ok := r.sources[t.Src]
	if !ok {
		byKey = make(map[transform.Key]transform.Transform)
		r.sources[t.Src] = byKey
	}
	if _, ok := byKey[key]; ok {
		return false, nil
	}
	byKey[key] = t
	r.count++
	return true, nil
}

// Entry is one registered transform.
type Entry struct {
	Key       transform.Key
	Transform transform.Transform
}

// Entries returns every registered transform ordered by source, then key.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, r.count)
	for _, byKey := range r.sources {
		for key, t := range byKey {
			entries = append(entries, Entry{Key: key, Transform: t})
		}
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Or(
			cmp.Compare(a.Transform.Src, b.Transform.Src),
			cmp.Compare(a.Key, b.Key),
		)
	})
	return entries
}

// Sources returns the distinct sources in sorted order.
func (r *Registry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	srcs := make([]string, 0, len(r.sources))
	for src := range r.sources {
		srcs = append(srcs, src)
	}
	slices.Sort(srcs)
	return srcs
}

// Len returns the number of distinct transforms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Seal stops further registration. Sealing twice is a no-op.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}
