// Package identity canonicalizes document URLs and derives stable
// content-addressed identifiers from them.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Normalize canonicalizes a URL: the fragment is dropped, a leading "www."
// host label is stripped, and a trailing path slash is removed unless the
// path is exactly "/". Malformed input is returned unchanged so identity
// derivation never fails.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return raw
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return raw
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""

	host := strings.ToLower(parsed.Host)
	host = strings.TrimPrefix(host, "www.")
	parsed.Host = host

	path := parsed.EscapedPath()
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	parsed.Path = path
	parsed.RawPath = ""

	return parsed.String()
}

// Identify returns the fixed-length hex digest of a canonical URL. Equal
// canonical URLs always map to equal ids.
func Identify(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

// FromURL normalizes raw and returns both the canonical form and its id.
func FromURL(raw string) (canonical string, id string) {
	canonical = Normalize(raw)
	return canonical, Identify(canonical)
}
