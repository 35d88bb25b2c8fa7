package richtext

import (
	"errors"
	"sync"

	"kahani/internal/ime"
)

// ErrNoSelection is returned by ApplyFormat when nothing is selected.
var ErrNoSelection = errors.New("richtext: empty selection")

const nbsp = "\u00a0"

// Surface is an editable rich-text region. The node tree is the source of
// truth once editing starts; every mutation re-serializes it for OnChange
// listeners.
type Surface struct {
	mu       sync.Mutex
	doc      *Doc
	caret    Caret
	selStart int
	selEnd   int
	toolbar  ToolbarState
	synced   string // last value accepted by SetValue
	composer *ime.Composer

	listenMu sync.Mutex
	onChange []func(markup string)
}

// NewSurface creates an empty surface. Options are those of package ime.
func NewSurface(tr ime.Transliterator, opts ...ime.Option) *Surface {
	s := &Surface{doc: NewDoc()}
	s.composer = ime.NewComposer("rich", richTarget{s}, &s.mu, tr, s.emit, opts...)
	return s
}

// OnChange registers fn to receive the serialized content after every
// local change.
func (s *Surface) OnChange(fn func(markup string)) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Surface) emit() {
	s.mu.Lock()
	markup := Serialize(s.doc)
	s.mu.Unlock()

	s.listenMu.Lock()
	fns := append([]func(string){}, s.onChange...)
	s.listenMu.Unlock()
	for _, fn := range fns {
		fn(markup)
	}
}

// edit runs fn under the lock after superseding any pending word, then
// emits if the content changed.
func (s *Surface) edit(fn func()) {
	s.mu.Lock()
	before := Serialize(s.doc)
	s.composer.Supersede()
	fn()
	s.tidy()
	changed := Serialize(s.doc) != before
	s.mu.Unlock()

	if changed {
		s.emit()
	}
}

// tidy normalizes the tree, keeping the caret at the same flat offset.
func (s *Surface) tidy() {
	flat := s.doc.Flat(s.caret)
	if s.doc.Normalize() {
		s.caret = s.doc.Locate(flat)
	}
	s.caret = s.doc.Clamp(s.caret)
}

// HandleKey applies one key event. Word-terminating keys return a Pending
// describing the transliteration; every other key returns nil.
func (s *Surface) HandleKey(k ime.Key) *ime.Pending {
	if d, ok := k.Delimiter(); ok {
		s.mu.Lock()
		before := Serialize(s.doc)
		s.clearSelection()
		p := s.composer.Trigger(d)
		s.tidy()
		changed := Serialize(s.doc) != before
		s.mu.Unlock()
		if changed {
			s.emit()
		}
		return p
	}

	s.edit(func() {
		s.clearSelection()
		switch k.Kind {
		case ime.KeyChar:
			if k.Char != 0 && k.Modifiers&(ime.ModControl|ime.ModMeta) == 0 {
				s.insertText(string(k.Char))
			}
		case ime.KeyBackspace:
			if f := s.doc.Flat(s.caret); f > 0 {
				s.doc.deleteRange(f-1, f)
				s.caret = s.doc.Locate(f - 1)
			}
		case ime.KeyDelete:
			f := s.doc.Flat(s.caret)
			s.doc.deleteRange(f, f+1)
			s.caret = s.doc.Locate(f)
		case ime.KeyLeft:
			s.caret = s.doc.Locate(s.doc.Flat(s.caret) - 1)
		case ime.KeyRight:
			s.caret = s.doc.Locate(s.doc.Flat(s.caret) + 1)
		case ime.KeyHome:
			s.caret = s.doc.Locate(0)
		case ime.KeyEnd:
			s.caret = s.doc.Locate(s.doc.Len())
		}
	})
	return nil
}

// Type feeds each rune of text through HandleKey and returns the Pending of
// the last word-terminating key, if any.
func (s *Surface) Type(text string) *ime.Pending {
	var last *ime.Pending
	for _, k := range ime.KeysFromString(text) {
		if p := s.HandleKey(k); p != nil {
			last = p
		}
	}
	return last
}

// InsertText inserts text at the caret without transliteration, as a paste
// would. Newlines become breaks.
func (s *Surface) InsertText(text string) {
	s.edit(func() {
		s.clearSelection()
		for _, r := range text {
			if r == '\n' {
				s.insertBreak()
				continue
			}
			s.insertText(string(r))
		}
	})
}

// insertText puts text at the caret. At a node boundary it starts a new run.
func (s *Surface) insertText(text string) {
	if s.caret.InText() {
		n := s.doc.Node(s.caret.Node)
		r := []rune(n.Text)
		off := s.caret.Offset
		n.Text = string(r[:off]) + text + string(r[off:])
		s.caret.Offset += len([]rune(text))
		return
	}
	n := s.doc.newNode(TextNode, text, Style{})
	s.doc.insertAt(s.caret.Offset, n)
	s.caret = Caret{Node: n.ID, Offset: len([]rune(text))}
}

// insertBreak puts a line break at the caret, splitting a text run.
func (s *Surface) insertBreak() {
	f := s.doc.Flat(s.caret)
	i := s.doc.splitAt(f)
	s.doc.insertAt(i, s.doc.newNode(BreakNode, "", Style{}))
	if i+1 < len(s.doc.Nodes) && s.doc.Nodes[i+1].Kind == TextNode {
		s.caret = Caret{Node: s.doc.Nodes[i+1].ID, Offset: 0}
		return
	}
	s.caret = Caret{Node: Root, Offset: i + 1}
}

// SetCaret moves the caret. Invalid positions are clamped.
func (s *Surface) SetCaret(c Caret) {
	s.edit(func() {
		s.clearSelection()
		s.caret = s.doc.Clamp(c)
	})
}

// MoveCaret moves the caret to an offset into the flattened text.
func (s *Surface) MoveCaret(flat int) {
	s.edit(func() {
		s.clearSelection()
		s.caret = s.doc.Locate(flat)
	})
}

// Select sets the selection to flat offsets [start, end). A non-empty
// selection shows the toolbar above its start; an empty one hides it.
func (s *Surface) Select(start, end int) ToolbarState {
	s.edit(func() {
		n := s.doc.Len()
		start = max(0, min(start, n))
		end = max(0, min(end, n))
		if end < start {
			start, end = end, start
		}
		s.selStart, s.selEnd = start, end
		s.caret = s.doc.Locate(end)
		if start == end {
			s.toolbar = ToolbarState{}
			return
		}
		s.toolbar = toolbarFor(s.doc.Text(), start)
	})
	return s.Toolbar()
}

func (s *Surface) clearSelection() {
	s.selStart, s.selEnd = 0, 0
	s.toolbar = ToolbarState{}
}

// Selection returns the selected flat range.
func (s *Surface) Selection() (start, end int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selStart, s.selEnd
}

// SelectedText returns the text in the selection.
func (s *Surface) SelectedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string([]rune(s.doc.Text())[s.selStart:s.selEnd])
}

// Toolbar returns the toolbar state.
func (s *Surface) Toolbar() ToolbarState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolbar
}

// ApplyFormat applies a toolbar action to the selection, hides the toolbar
// and emits the new content.
func (s *Surface) ApplyFormat(a Action) error {
	s.mu.Lock()
	empty := s.selStart == s.selEnd
	s.mu.Unlock()
	if empty {
		return ErrNoSelection
	}

	s.edit(func() {
		start, end := s.selStart, s.selEnd
		caret := s.doc.Flat(s.caret)
		s.doc.splitAt(start)
		s.doc.splitAt(end)

		var runs []*Node
		pos := 0
		for _, n := range s.doc.Nodes {
			l := n.span()
			if n.Kind == TextNode && pos >= start && pos+l <= end {
				runs = append(runs, n)
			}
			pos += l
		}
		allBold := true
		for _, n := range runs {
			allBold = allBold && n.Style.Bold
		}
		for _, n := range runs {
			n.Style = a.apply(n.Style, allBold)
		}

		s.doc.Normalize()
		s.caret = s.doc.Locate(caret)
		s.toolbar = ToolbarState{}
	})
	return nil
}

// SetValue offers content from outside, e.g. the stored document. It is
// applied only when the surface is empty or still holds the last value it
// was given; once local edits diverge from that, they win and SetValue
// reports false until the outside catches up with the local content.
// Listeners are not notified.
func (s *Surface) SetValue(markup string) (bool, error) {
	doc, err := Parse(markup)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := Serialize(s.doc)
	if current == Serialize(doc) {
		s.synced = current
		return true, nil
	}
	if !s.doc.Empty() && current != s.synced {
		return false, nil
	}

	s.composer.Supersede()
	flat := s.doc.Flat(s.caret)
	s.doc = doc
	s.caret = s.doc.Locate(flat)
	s.clearSelection()
	s.synced = Serialize(doc)
	return true, nil
}

// Value returns the serialized content.
func (s *Surface) Value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Serialize(s.doc)
}

// Text returns the flattened visible text.
func (s *Surface) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Text()
}

// Caret returns the caret.
func (s *Surface) Caret() Caret {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caret
}

// FlatCaret returns the caret as an offset into Text.
func (s *Surface) FlatCaret() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Flat(s.caret)
}

// Doc returns a copy of the node tree.
func (s *Surface) Doc() *Doc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Wait blocks until in-flight transliterations have settled.
func (s *Surface) Wait() {
	s.composer.Wait()
}

// Close abandons in-flight transliterations.
func (s *Surface) Close() {
	s.composer.Close()
}

// richTarget edits the text node holding the caret.
type richTarget struct{ s *Surface }

func (t richTarget) node() *Node {
	if !t.s.caret.InText() {
		return nil
	}
	return t.s.doc.Node(t.s.caret.Node)
}

func (t richTarget) Scope() (string, int, bool) {
	n := t.node()
	if n == nil {
		return "", 0, false
	}
	return n.Text, t.s.caret.Offset, true
}

func (t richTarget) Splice(start, end int, repl string) {
	n := t.node()
	if n == nil {
		return
	}
	r := []rune(n.Text)
	start = max(0, min(start, len(r)))
	end = max(start, min(end, len(r)))
	n.Text = string(r[:start]) + repl + string(r[end:])
}

func (t richTarget) SetCaret(offset int) {
	if n := t.node(); n != nil {
		t.s.caret.Offset = max(0, min(offset, n.span()))
	}
}

func (t richTarget) InsertDelimiter(d ime.Delimiter) {
	if d == ime.DelimEnter {
		t.s.insertBreak()
		return
	}
	t.s.insertText(" ")
}

// WordDelimiter keeps the caret in the replaced node: enter after a
// transliterated word becomes a no-break space rather than a new line.
func (richTarget) WordDelimiter(d ime.Delimiter) string {
	if d == ime.DelimEnter {
		return nbsp
	}
	return " "
}
