package ime

import (
	"regexp"
	"unicode"
)

// PendingWord is a word extracted at the caret, waiting for its
// transliteration. Offsets are rune offsets into the text it was detected in;
// End is the caret at detection time.
type PendingWord struct {
	Word      string
	Start     int
	End       int
	Delimiter Delimiter
}

var eligibleWord = regexp.MustCompile(`^[A-Za-z]+$`)

// Detect extracts the word ending at offset, where offset is the caret
// position at which a word-terminating delimiter is about to be inserted.
// It scans backward from offset-1 while characters are not whitespace.
// ok is false when the word is empty. offset is clamped to the text.
func Detect(text string, offset int) (PendingWord, bool) {
	runes := []rune(text)
	offset = clamp(offset, 0, len(runes))

	boundary := offset - 1
	for boundary >= 0 && !unicode.IsSpace(runes[boundary]) {
		boundary--
	}
	start := boundary + 1
	if start == offset {
		return PendingWord{}, false
	}
	return PendingWord{
		Word:  string(runes[start:offset]),
		Start: start,
		End:   offset,
	}, true
}

// Eligible reports whether word should be sent for transliteration:
// ASCII letters only, so digits, punctuation and text already in the target
// script are left alone.
func Eligible(word string) bool {
	return eligibleWord.MatchString(word)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
