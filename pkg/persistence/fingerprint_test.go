package persistence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintNormalizesWhitespaceAndCase(t *testing.T) {
	a := Fingerprint("The  Quick\n\tBrown FOX.", "pro", "opening")
	b := Fingerprint("the quick brown fox.", "pro", "opening")
	assert.Equal(t, a, b)
}

func TestFingerprintIgnoresContentPastLimit(t *testing.T) {
	prefix := strings.Repeat("a", 300)
	a := Fingerprint(prefix+" first tail", "pro", "opening")
	b := Fingerprint(prefix+" second tail", "pro", "opening")
	assert.Equal(t, a, b, "content beyond the first 200 normalized chars must not matter")
}

func TestFingerprintDistinguishesSpeakerAndPhase(t *testing.T) {
	base := Fingerprint("same words", "pro", "opening")
	assert.NotEqual(t, base, Fingerprint("same words", "con", "opening"))
	assert.NotEqual(t, base, Fingerprint("same words", "pro", "rebuttal"))
}

func TestFingerprintShortContent(t *testing.T) {
	// Shorter than the limit: the whole content participates.
	assert.NotEqual(t,
		Fingerprint("yes", "pro", "opening"),
		Fingerprint("no", "pro", "opening"))
}
