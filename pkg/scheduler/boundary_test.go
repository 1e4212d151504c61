package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		from      int
		wantFound bool
		wantCut   int
		wantSents int
	}{
		{
			name:      "sentence terminator followed by space",
			content:   "That is wrong. And here is why",
			wantFound: true,
			wantCut:   14, // just past the "."
			wantSents: 1,
		},
		{
			name:      "sentence terminator at end of content",
			content:   "That is wrong.",
			wantFound: true,
			wantCut:   14,
			wantSents: 1,
		},
		{
			name:      "no terminator",
			content:   "an unfinished thought that keeps going",
			wantFound: false,
			wantSents: 0,
		},
		{
			name:      "clause before any full sentence does not count",
			content:   "first, second, third",
			wantFound: false,
			wantSents: 0,
		},
		{
			name:      "clause after a full sentence counts",
			content:   "Done. However, there is more",
			wantFound: true,
			wantCut:   14, // just past "However,"
			wantSents: 1,
		},
		{
			name:      "comma inside a number never counts",
			content:   "Done. It costs 3,000",
			from:      6, // scan only the region after the sentence boundary
			wantFound: false,
			wantSents: 1,
		},
		{
			name:      "paragraph break",
			content:   "still going\n\nnew paragraph",
			wantFound: true,
			wantCut:   13,
			wantSents: 0,
		},
		{
			name:      "question and exclamation terminate sentences",
			content:   "Really? Yes! And then",
			wantFound: true,
			wantCut:   12, // just past "Yes!"
			wantSents: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cut, sents, found := scanBoundaries([]rune(tt.content), tt.from)
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantCut, cut)
			}
			assert.Equal(t, tt.wantSents, sents)
		})
	}
}

func TestScanBoundariesFromOffset(t *testing.T) {
	content := []rune("One done. Two still going")

	// The safe point at offset 8 is older than the scan window, so it
	// is not reported — but the sentence still counts.
	cut, sents, found := scanBoundaries(content, 12)
	assert.False(t, found)
	assert.Equal(t, 0, cut)
	assert.Equal(t, 1, sents)

	// Widening the window picks it up.
	_, _, found = scanBoundaries(content, 5)
	assert.True(t, found)
}

func TestScanBoundariesNewestWins(t *testing.T) {
	content := []rune("First point. Second point. Third")
	cut, sents, found := scanBoundaries(content, 0)
	assert.True(t, found)
	assert.Equal(t, 26, cut) // just past the second "."
	assert.Equal(t, 2, sents)
}
