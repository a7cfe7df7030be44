package ingestion

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
)

// catalogViewSegment precedes the product slug in catalog URLs such as
// /solutions/products/product-catalog/view/java-8-new/.
const catalogViewSegment = "view"

// InferID derives a stable item id from a product URL. Catalog pages yield
// their slug ("java-8-new"); any other URL yields a hash of the normalized
// URL so re-ingesting the same export keeps the same ids.
func InferID(rawURL string) string {
	if slug := slugOf(rawURL); slug != "" {
		return slug
	}
	return urlHash(rawURL)
}

// slugOf returns the path segment after "view", or the last segment of a
// catalog-style path, lowercased.
func slugOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return ""
	}
	segments := trimSegments(parsed.Path)
	for i, seg := range segments {
		if seg == catalogViewSegment && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return ""
}

// urlHash is a 32-hex-char digest of the normalized URL.
func urlHash(rawURL string) string {
	norm := strings.TrimRight(strings.ToLower(strings.TrimSpace(rawURL)), "/")
	h := sha256.Sum256([]byte(norm))
	return fmt.Sprintf("%x", h[:16])
}

// trimSegments splits a URL path into non-empty lowercase segments.
func trimSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
