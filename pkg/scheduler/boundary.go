package scheduler

import "unicode"

// Safe-boundary detection over streamed content.
//
// A safe point is a position where cutting the speaker off leaves a
// coherent partial statement:
//
//   - a sentence terminator (. ! ?) followed by whitespace or the end
//     of the emitted content;
//   - a clause terminator (, ; :) followed by whitespace or the end of
//     the emitted content, once at least one full sentence has been
//     emitted (the whitespace guard keeps "3,000" from counting);
//   - a paragraph break ("\n\n").
//
// Chunks arrive at arbitrary split points, so the scan covers the whole
// appended region (plus one look-back rune for patterns straddling the
// chunk edge), not just the final rune.

func isSentenceTerm(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClauseTerm(r rune) bool {
	return r == ',' || r == ';' || r == ':'
}

// scanBoundaries walks the full content, counting completed sentences,
// and reports the newest safe point at offset >= from. cut is the rune
// offset just past that safe point (the position a cutoff would slice
// at); found is false when the appended region holds no safe point.
func scanBoundaries(runes []rune, from int) (cut int, sentences int, found bool) {
	if from < 0 {
		from = 0
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		atEnd := i+1 == len(runes)
		spaceNext := !atEnd && unicode.IsSpace(runes[i+1])

		switch {
		case isSentenceTerm(r) && (atEnd || spaceNext):
			if i >= from {
				cut, found = i+1, true
			}
			sentences++
		case isClauseTerm(r) && (atEnd || spaceNext) && sentences >= 1:
			if i >= from {
				cut, found = i+1, true
			}
		case r == '\n' && i >= 1 && runes[i-1] == '\n':
			if i >= from {
				cut, found = i+1, true
			}
		}
	}
	return cut, sentences, found
}
