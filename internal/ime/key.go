package ime

// KeyKind classifies a key event.
type KeyKind uint8

const (
	// KeyChar inserts Key.Char.
	KeyChar KeyKind = iota
	KeySpace
	KeyEnter
	KeyBackspace
	KeyDelete
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
)

var keyKindNames = [...]string{
	KeyChar:      "char",
	KeySpace:     "space",
	KeyEnter:     "enter",
	KeyBackspace: "backspace",
	KeyDelete:    "delete",
	KeyLeft:      "left",
	KeyRight:     "right",
	KeyHome:      "home",
	KeyEnd:       "end",
}

func (k KeyKind) String() string {
	if int(k) < len(keyKindNames) {
		return keyKindNames[k]
	}
	return "unknown"
}

// Modifiers represents modifier key state.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModControl
	ModAlt
	ModMeta // Command on macOS, Windows key on Windows
)

// Key represents a key event delivered to a surface.
type Key struct {
	Kind KeyKind

	// Char is the character produced by a KeyChar event.
	Char rune

	// Code is the platform keycode, when known. Surfaces ignore it.
	Code uint16

	Modifiers Modifiers
}

// NewKey creates a character key. Space and newline map to their
// word-terminating kinds.
func NewKey(char rune) Key {
	switch char {
	case ' ':
		return Key{Kind: KeySpace, Char: char}
	case '\n', '\r':
		return Key{Kind: KeyEnter, Char: '\n'}
	}
	return Key{Kind: KeyChar, Char: char}
}

// NewSpecialKey creates a non-character key.
func NewSpecialKey(kind KeyKind) Key {
	return Key{Kind: kind}
}

// KeysFromString returns one key per rune of s.
func KeysFromString(s string) []Key {
	keys := make([]Key, 0, len(s))
	for _, r := range s {
		keys = append(keys, NewKey(r))
	}
	return keys
}

// Delimiter is a word-terminating key's effect on the buffer.
type Delimiter uint8

const (
	DelimSpace Delimiter = iota
	DelimEnter
)

// Text returns the delimiter as inserted into a flat buffer.
func (d Delimiter) Text() string {
	if d == DelimEnter {
		return "\n"
	}
	return " "
}

func (d Delimiter) String() string {
	if d == DelimEnter {
		return "enter"
	}
	return "space"
}

// Delimiter reports the delimiter a key produces, if any.
func (k Key) Delimiter() (Delimiter, bool) {
	switch k.Kind {
	case KeySpace:
		return DelimSpace, true
	case KeyEnter:
		return DelimEnter, true
	}
	return 0, false
}
