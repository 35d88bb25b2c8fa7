// Package richtext is the formatted input surface: an ordered list of inline
// nodes (styled text runs and line breaks) with a caret, a selection driven
// floating toolbar, and inline transliteration shared with package ime.
//
// Content is exchanged with storage as a small HTML subset:
//
//	<b>…</b>                               bold
//	<span style="color: #EF4444">…</span>   text color
//	<span style="background-color: …">    highlight
//	<br>                                   line break
package richtext

import "unicode/utf8"

// Kind is the type of a node.
type Kind uint8

const (
	TextNode Kind = iota
	BreakNode
)

// Style holds the inline attributes of a text run.
type Style struct {
	Bold      bool
	Color     string
	Highlight string
}

// Node is one inline segment. Break nodes have no text and count as one
// "\n" in the flattened text.
type Node struct {
	ID    int
	Kind  Kind
	Text  string
	Style Style
}

func (n *Node) span() int {
	if n.Kind == BreakNode {
		return 1
	}
	return utf8.RuneCountInString(n.Text)
}

// Root is the Caret.Node value for a caret between nodes.
const Root = 0

// Caret is a position in a Doc. Inside a text node Offset is a rune offset in
// that node; with Node == Root it is a child index, i.e. a node boundary.
type Caret struct {
	Node   int
	Offset int
}

// InText reports whether the caret sits inside a text node.
func (c Caret) InText() bool {
	return c.Node != Root
}

// Doc is an ordered list of inline nodes.
type Doc struct {
	Nodes  []*Node
	nextID int
}

// NewDoc returns an empty document.
func NewDoc() *Doc {
	return &Doc{nextID: 1}
}

func (d *Doc) newNode(kind Kind, text string, style Style) *Node {
	if d.nextID == 0 {
		d.nextID = 1
	}
	n := &Node{ID: d.nextID, Kind: kind, Text: text, Style: style}
	d.nextID++
	return n
}

// AppendText adds a text run at the end.
func (d *Doc) AppendText(text string, style Style) *Node {
	n := d.newNode(TextNode, text, style)
	d.Nodes = append(d.Nodes, n)
	return n
}

// AppendBreak adds a line break at the end.
func (d *Doc) AppendBreak() *Node {
	n := d.newNode(BreakNode, "", Style{})
	d.Nodes = append(d.Nodes, n)
	return n
}

func (d *Doc) insertAt(i int, n *Node) {
	d.Nodes = append(d.Nodes, nil)
	copy(d.Nodes[i+1:], d.Nodes[i:])
	d.Nodes[i] = n
}

// Index returns the position of the node with id, or -1.
func (d *Doc) Index(id int) int {
	for i, n := range d.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Node returns the node with id, or nil.
func (d *Doc) Node(id int) *Node {
	if i := d.Index(id); i >= 0 {
		return d.Nodes[i]
	}
	return nil
}

// Text returns the visible text, breaks as "\n".
func (d *Doc) Text() string {
	var b []rune
	for _, n := range d.Nodes {
		if n.Kind == BreakNode {
			b = append(b, '\n')
			continue
		}
		b = append(b, []rune(n.Text)...)
	}
	return string(b)
}

// Len returns the length of Text in runes.
func (d *Doc) Len() int {
	total := 0
	for _, n := range d.Nodes {
		total += n.span()
	}
	return total
}

// Empty reports whether the document has no visible content.
func (d *Doc) Empty() bool {
	return d.Len() == 0
}

// Flat converts a caret to an offset into Text.
func (d *Doc) Flat(c Caret) int {
	c = d.Clamp(c)
	pos := 0
	if c.Node == Root {
		for _, n := range d.Nodes[:c.Offset] {
			pos += n.span()
		}
		return pos
	}
	for _, n := range d.Nodes {
		if n.ID == c.Node {
			return pos + c.Offset
		}
		pos += n.span()
	}
	return pos
}

// Locate converts an offset into Text to a caret. Offsets on the edge of a
// text node resolve inside it, preferring the end of the earlier node; an
// offset touching only breaks resolves to a node boundary.
func (d *Doc) Locate(flat int) Caret {
	flat = max(0, min(flat, d.Len()))
	pos := 0
	for i, n := range d.Nodes {
		l := n.span()
		if n.Kind == TextNode && flat <= pos+l {
			return Caret{Node: n.ID, Offset: flat - pos}
		}
		if n.Kind == BreakNode && flat == pos {
			return Caret{Node: Root, Offset: i}
		}
		pos += l
	}
	return Caret{Node: Root, Offset: len(d.Nodes)}
}

// Clamp returns c adjusted to a valid position. A caret in a node that no
// longer exists moves to the end of the document.
func (d *Doc) Clamp(c Caret) Caret {
	if c.Node == Root {
		c.Offset = max(0, min(c.Offset, len(d.Nodes)))
		return c
	}
	n := d.Node(c.Node)
	if n == nil || n.Kind != TextNode {
		return d.Locate(d.Len())
	}
	c.Offset = max(0, min(c.Offset, n.span()))
	return c
}

// splitAt makes flat a node boundary and returns the index of the first node
// starting at or after it.
func (d *Doc) splitAt(flat int) int {
	pos := 0
	for i, n := range d.Nodes {
		l := n.span()
		if flat <= pos {
			return i
		}
		if n.Kind == TextNode && flat < pos+l {
			r := []rune(n.Text)
			right := d.newNode(TextNode, string(r[flat-pos:]), n.Style)
			n.Text = string(r[:flat-pos])
			d.insertAt(i+1, right)
			return i + 1
		}
		pos += l
	}
	return len(d.Nodes)
}

// deleteRange removes the text between two flat offsets.
func (d *Doc) deleteRange(from, to int) {
	if from >= to {
		return
	}
	i := d.splitAt(from)
	j := d.splitAt(to)
	d.Nodes = append(d.Nodes[:i], d.Nodes[j:]...)
}

// Normalize drops empty text runs and merges adjacent runs of equal style.
// It reports whether anything changed.
func (d *Doc) Normalize() bool {
	changed := false
	out := d.Nodes[:0]
	for _, n := range d.Nodes {
		if n.Kind == TextNode && n.Text == "" {
			changed = true
			continue
		}
		if k := len(out); k > 0 && n.Kind == TextNode {
			prev := out[k-1]
			if prev.Kind == TextNode && prev.Style == n.Style {
				prev.Text += n.Text
				changed = true
				continue
			}
		}
		out = append(out, n)
	}
	for i := len(out); i < len(d.Nodes); i++ {
		d.Nodes[i] = nil
	}
	d.Nodes = out
	return changed
}

// Clone returns a deep copy sharing no nodes with d.
func (d *Doc) Clone() *Doc {
	c := &Doc{Nodes: make([]*Node, len(d.Nodes)), nextID: d.nextID}
	for i, n := range d.Nodes {
		cp := *n
		c.Nodes[i] = &cp
	}
	return c
}
