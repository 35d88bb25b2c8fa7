package ime

import (
	"sync"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// PlainSurface is a flat text buffer with a rune-offset caret that
// transliterates each finished word in place.
type PlainSurface struct {
	mu       sync.Mutex
	buf      []rune
	caret    int
	composer *Composer

	listenMu sync.Mutex
	onChange []func(value string)
}

// NewPlainSurface creates an empty surface. A nil tr leaves words unchanged.
func NewPlainSurface(tr Transliterator, opts ...Option) *PlainSurface {
	s := &PlainSurface{}
	s.composer = NewComposer("plain", plainTarget{s}, &s.mu, tr, s.emit, opts...)
	return s
}

// OnChange registers fn to receive the buffer after every change. Callbacks
// run without the surface lock, in the goroutine that made the change.
func (s *PlainSurface) OnChange(fn func(value string)) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *PlainSurface) emit() {
	value := s.Value()
	s.listenMu.Lock()
	fns := append([]func(string){}, s.onChange...)
	s.listenMu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
}

// HandleKey applies one key event. Word-terminating keys return a Pending
// describing the transliteration; every other key returns nil.
func (s *PlainSurface) HandleKey(k Key) *Pending {
	s.mu.Lock()
	before := string(s.buf)

	var p *Pending
	if d, ok := k.Delimiter(); ok {
		p = s.composer.Trigger(d)
	} else {
		s.composer.Supersede()
		s.apply(k)
	}
	changed := string(s.buf) != before
	s.mu.Unlock()

	if changed {
		s.emit()
	}
	return p
}

func (s *PlainSurface) apply(k Key) {
	switch k.Kind {
	case KeyChar:
		if k.Char != 0 && k.Modifiers&(ModControl|ModMeta) == 0 {
			s.insert(string(k.Char))
		}
	case KeyBackspace:
		if s.caret > 0 {
			s.buf = append(s.buf[:s.caret-1], s.buf[s.caret:]...)
			s.caret--
		}
	case KeyDelete:
		if s.caret < len(s.buf) {
			s.buf = append(s.buf[:s.caret], s.buf[s.caret+1:]...)
		}
	case KeyLeft:
		s.caret = max(s.caret-1, 0)
	case KeyRight:
		s.caret = min(s.caret+1, len(s.buf))
	case KeyHome:
		s.caret = 0
	case KeyEnd:
		s.caret = len(s.buf)
	}
}

// Type feeds each rune of text through HandleKey and returns the Pending of
// the last word-terminating key, if any.
func (s *PlainSurface) Type(text string) *Pending {
	var last *Pending
	for _, k := range KeysFromString(text) {
		if p := s.HandleKey(k); p != nil {
			last = p
		}
	}
	return last
}

// InsertText inserts text at the caret without triggering transliteration,
// as a paste would.
func (s *PlainSurface) InsertText(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.composer.Supersede()
	s.insert(text)
	s.mu.Unlock()
	s.emit()
}

func (s *PlainSurface) insert(text string) {
	r := []rune(text)
	buf := make([]rune, 0, len(s.buf)+len(r))
	buf = append(buf, s.buf[:s.caret]...)
	buf = append(buf, r...)
	buf = append(buf, s.buf[s.caret:]...)
	s.buf = buf
	s.caret += len(r)
}

// MoveCaret places the caret at a rune offset, clamped to the buffer.
func (s *PlainSurface) MoveCaret(offset int) {
	s.mu.Lock()
	before := len(s.buf)
	s.composer.Supersede()
	s.caret = clamp(offset, 0, len(s.buf))
	changed := len(s.buf) != before
	s.mu.Unlock()

	if changed {
		s.emit()
	}
}

// SetValue replaces the buffer from outside, e.g. when the stored document
// changes. The caret keeps its place relative to the surrounding text.
func (s *PlainSurface) SetValue(value string) {
	s.mu.Lock()
	if string(s.buf) == value {
		s.mu.Unlock()
		return
	}
	s.composer.Supersede()
	s.caret = remapCaret(string(s.buf), value, s.caret)
	s.buf = []rune(value)
	s.caret = clamp(s.caret, 0, len(s.buf))
	s.mu.Unlock()
	s.emit()
}

// Value returns the buffer contents.
func (s *PlainSurface) Value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

// Caret returns the caret rune offset.
func (s *PlainSurface) Caret() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caret
}

// Snapshot returns the buffer and caret atomically.
func (s *PlainSurface) Snapshot() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf), s.caret
}

// Drain empties the buffer and returns what it held. It refuses, returning
// false, while a word is awaiting transliteration.
func (s *PlainSurface) Drain() (string, bool) {
	s.mu.Lock()
	if _, pending := s.composer.Pending(); pending {
		s.mu.Unlock()
		return "", false
	}
	value := string(s.buf)
	s.buf = nil
	s.caret = 0
	s.mu.Unlock()

	if value != "" {
		s.emit()
	}
	return value, true
}

// Pending returns the word awaiting transliteration, if any.
func (s *PlainSurface) Pending() (PendingWord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer.Pending()
}

// Wait blocks until in-flight transliterations have settled.
func (s *PlainSurface) Wait() {
	s.composer.Wait()
}

// Close abandons in-flight transliterations.
func (s *PlainSurface) Close() {
	s.composer.Close()
}

type plainTarget struct{ s *PlainSurface }

func (t plainTarget) Scope() (string, int, bool) {
	return string(t.s.buf), t.s.caret, true
}

func (t plainTarget) Splice(start, end int, repl string) {
	s := t.s
	start = clamp(start, 0, len(s.buf))
	end = clamp(end, start, len(s.buf))
	r := []rune(repl)
	buf := make([]rune, 0, len(s.buf)-(end-start)+len(r))
	buf = append(buf, s.buf[:start]...)
	buf = append(buf, r...)
	buf = append(buf, s.buf[end:]...)
	s.buf = buf
}

func (t plainTarget) SetCaret(offset int) {
	t.s.caret = clamp(offset, 0, len(t.s.buf))
}

func (t plainTarget) InsertDelimiter(d Delimiter) {
	t.s.insert(d.Text())
}

func (plainTarget) WordDelimiter(d Delimiter) string {
	return d.Text()
}

// remapCaret carries a rune offset in oldText over to newText through a
// character diff: text inserted before the caret pushes it right, deleted
// text before it pulls it left, and a caret inside deleted text lands where
// the deletion was.
func remapCaret(oldText, newText string, caret int) int {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)

	oldPos, newPos := 0, 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			newPos += n
		case diffmatchpatch.DiffDelete:
			if caret < oldPos+n {
				return newPos
			}
			oldPos += n
		case diffmatchpatch.DiffEqual:
			if caret < oldPos+n {
				return newPos + (caret - oldPos)
			}
			oldPos += n
			newPos += n
		}
	}
	return newPos + (caret - oldPos)
}
