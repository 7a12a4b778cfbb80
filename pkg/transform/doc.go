// Package transform resolves and serializes image transforms.
//
// A [Request] is what a page asks for: a source plus any subset of width,
// height, aspect ratio and format. [Resolve] turns it into a fully specified
// [Transform] whose width, height and format are always known. A Transform is
// a comparable value; two transforms with identical fields always serialize
// to the same [Key], so keys can be used as map keys for deduplication and as
// cache keys.
//
// # Resolution
//
// Sizing rules, in order:
//
//  1. Width and height both given: kept as-is, the aspect ratio is ignored.
//  2. Neither given: the natural size from [Metadata] (plain string sources
//     never trigger an implicit metadata lookup, so this fails without it).
//  3. One given: the other is derived from the aspect ratio, either explicit
//     ("16:9" or "1.5") or the metadata's width/height.
//
// Derived dimensions use [math.Round]: nearest integer with halves rounded
// away from zero. Key determinism relies on this; do not change it without
// treating every previously built filename as invalid.
//
// # Serialization
//
// [Serialize] writes a canonical query string with a fixed parameter order:
//
//	src=/cat.jpg&w=400&h=300&f=webp&q=80&fit=cover&pos=top&bg=%23ffffff
//
// [Parse] is its inverse. [Filename] derives a filesystem-safe, content
// addressed output path from the key:
//
//	_image/assets/cat_3b1f9c0d2e4a5b6c.webp
package transform
