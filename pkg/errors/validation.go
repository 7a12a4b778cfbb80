package errors

import (
	"net/url"
	"slices"
	"strings"
	"unicode"
)

// maxSourceLength bounds image source identifiers (paths and URLs).
const maxSourceLength = 2048

// ValidateSource validates an image source identifier for safety.
// It rejects identifiers that could be used for path traversal or injection.
//
// The validation rules are intentionally conservative:
//   - No empty sources
//   - No control characters or null bytes
//   - No ".." path segments (names like "cat..v2.jpg" are fine)
//   - No backslashes (Windows paths)
//   - Maximum length of 2048 characters
//
// Remote sources (http and https URLs) pass the same checks; scheme
// validation is done by [ValidateURL].
func ValidateSource(src string) error {
	if src == "" {
		return New(ErrCodeInvalidTransform, "src is required")
	}

	if len(src) > maxSourceLength {
		return New(ErrCodeInvalidPath, "src too long (max %d characters)", maxSourceLength)
	}

	for _, r := range src {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "src contains invalid control characters")
		}
	}

	dangerousPatterns := []string{
		"\x00", // Null byte
		"\\",   // Backslash (Windows path)
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(src, pattern) {
			return New(ErrCodeInvalidPath, "src contains invalid characters: %q", pattern)
		}
	}

	p := src
	if IsRemote(src) {
		u, err := url.Parse(src)
		if err != nil {
			return New(ErrCodeInvalidPath, "src is not a valid URL: %s", src)
		}
		p = u.Path
	}
	if slices.Contains(strings.Split(p, "/"), "..") {
		return New(ErrCodeInvalidPath, "src contains a parent directory segment")
	}

	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	if !IsRemote(rawURL) {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}

	return nil
}

// IsRemote reports whether src refers to a remote (http or https) image.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}
