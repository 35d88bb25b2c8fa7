// Package ime implements inline transliteration for text input.
//
// # Overview
//
// As the user types Latin letters, each word-terminating key (space or
// enter) hands the word before the caret to a Transliterator. When the
// response arrives the word is replaced in place by the top candidate, the
// delimiter is inserted after it and the caret lands just past the
// delimiter:
//
//	n a m a s t e ␣  →  Detect("namaste", 7)  →  {namaste, 0, 7}
//	                 →  Transliterate        →  ["नमस्ते", "नमस्तें"]
//	                 →  Splice + delimiter    →  "नमस्ते " caret 7
//
// Typing never waits on the network. While a word is in flight the surface
// keeps accepting keys; any edit bumps the composer's generation and the
// late response is ignored instead of being spliced at an offset that no
// longer means anything.
//
// # Pieces
//
//	┌──────────────┬──────────────────────────────────────────────────────┐
//	│ Type         │ Role                                                 │
//	├──────────────┼──────────────────────────────────────────────────────┤
//	│ Detect       │ word before the caret, pure function                 │
//	│ Eligible     │ ^[A-Za-z]+$ gate, keeps digits and Devanagari as-is  │
//	│ Composer     │ replacement algorithm over a Target                  │
//	│ PlainSurface │ flat rune buffer + caret, a Target implementation    │
//	│ Engine       │ preedit driver for platform input methods            │
//	│ IBusEngine   │ Linux IBus binding for Engine (linux only)           │
//	└──────────────┴──────────────────────────────────────────────────────┘
//
// The rich-text surface lives in package richtext and implements Target over
// its node tree, so both surfaces share one detector and one replacement
// algorithm.
//
// # Failure
//
// A Transliterator returns the word itself when it cannot do better, so a
// failed lookup degrades to the delimiter being inserted after the unchanged
// word. With the Verbatim transliterator, or the Switch off, a surface
// behaves exactly like a plain text field.
package ime
