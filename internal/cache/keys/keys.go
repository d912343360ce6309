// Package keys builds the cache keys and content-addressed names used by the
// dataset cache and the artifact stores.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Dataset is the load key of a source in the dataset cache.
func Dataset(source string) string {
	return "dataset:" + sanitize(strings.TrimSpace(source))
}

// Artifact is the redis key of a materialized artifact.
func Artifact(name string) string {
	return "artifact:" + sanitize(strings.TrimSpace(name))
}

// ExtractHash fingerprints a subset request. Whitespace inside parameters is
// collapsed so equivalent requests hash the same.
func ExtractHash(featureID, kind string, params ...string) string {
	parts := make([]string, 0, len(params)+2)
	parts = append(parts, strings.TrimSpace(featureID), kind)
	for _, p := range params {
		parts = append(parts, collapseASCIIWhitespace(p))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(parts, "|")))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIIWhitespace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
