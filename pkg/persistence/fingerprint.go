package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// fingerprintLength is how many normalized characters of content
// participate in the duplicate fingerprint.
const fingerprintLength = 200

// Fingerprint computes the duplicate-detection key for an utterance:
// SHA-256 over the first 200 characters of the whitespace-collapsed,
// lower-cased content, plus speaker and phase. Two generations of the
// same turn hash identically even when chunk boundaries or trailing
// whitespace differ.
func Fingerprint(content, speaker, phase string) string {
	norm := normalizeContent(content)
	runes := []rune(norm)
	if len(runes) > fingerprintLength {
		norm = string(runes[:fingerprintLength])
	}
	h := sha256.New()
	h.Write([]byte(norm))
	h.Write([]byte{0})
	h.Write([]byte(speaker))
	h.Write([]byte{0})
	h.Write([]byte(phase))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeContent lower-cases and collapses every whitespace run to a
// single space, trimming the ends.
func normalizeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
