package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer builds cache keys for each kind of cached entry.
type Keyer interface {
	// OutputKey identifies encoded image bytes produced by a codec for a
	// serialized transform key.
	OutputKey(codec, transformKey string) string

	// MetadataKey identifies probed source metadata. Version changes
	// whenever the source changes (mod time, ETag).
	MetadataKey(src, version string) string

	// SourceKey identifies raw bytes fetched from a remote URL.
	SourceKey(url string) string
}

// DefaultKeyer produces keys of the form "kind:sha256(parts)".
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default Keyer.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

func (DefaultKeyer) OutputKey(codec, transformKey string) string {
	return hashKey("output", codec, transformKey)
}

func (DefaultKeyer) MetadataKey(src, version string) string {
	return hashKey("meta", src, version)
}

func (DefaultKeyer) SourceKey(url string) string {
	return hashKey("source", url)
}

// ScopedKeyer prefixes every key of an inner Keyer, so several sites can
// share one backend (typically Redis) without seeing each other's entries.
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer wraps inner (DefaultKeyer when nil) with prefix.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

func (k *ScopedKeyer) OutputKey(codec, transformKey string) string {
	return k.prefix + k.inner.OutputKey(codec, transformKey)
}

func (k *ScopedKeyer) MetadataKey(src, version string) string {
	return k.prefix + k.inner.MetadataKey(src, version)
}

func (k *ScopedKeyer) SourceKey(url string) string {
	return k.prefix + k.inner.SourceKey(url)
}

// hashKey JSON-encodes parts so ("a","bc") and ("ab","c") differ.
func hashKey(kind string, parts ...string) string {
	data, _ := json.Marshal(parts)
	return fmt.Sprintf("%s:%s", kind, Hash(data))
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
