// Package keys builds cache keys for activity fetches.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxMethodTextLen = 160

// ActivityKey identifies one upstream fetch. The readable method part is
// lossy, so the exact method and the token are carried as hashes; the token
// itself never appears in a key.
func ActivityKey(method string, perPage int, token string) string {
	norm := collapseASCIIWhitespace(method)
	safe := sanitizeForKey(norm)
	if len(safe) > maxMethodTextLen {
		safe = safe[:maxMethodTextLen]
	}
	return fmt.Sprintf("activity:%s:%d:m=%016x:t=%016x",
		safe, perPage, xxhash.Sum64String(norm), xxhash.Sum64String(token))
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// path separators and any other rune (including non-ASCII)
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return strings.Trim(b.String(), "-_")
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
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

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
