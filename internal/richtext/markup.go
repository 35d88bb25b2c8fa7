package richtext

import (
	"fmt"
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Serialize renders the document as markup.
func Serialize(d *Doc) string {
	var b strings.Builder
	for _, n := range d.Nodes {
		if n.Kind == BreakNode {
			b.WriteString("<br>")
			continue
		}
		writeRun(&b, n.Text, n.Style)
	}
	return b.String()
}

func writeRun(b *strings.Builder, text string, st Style) {
	var decls []string
	if st.Color != "" {
		decls = append(decls, "color: "+st.Color)
	}
	if st.Highlight != "" {
		decls = append(decls, "background-color: "+st.Highlight)
	}
	if len(decls) > 0 {
		fmt.Fprintf(b, `<span style="%s">`, html.EscapeString(strings.Join(decls, "; ")))
	}
	if st.Bold {
		b.WriteString("<b>")
	}
	b.WriteString(html.EscapeString(text))
	if st.Bold {
		b.WriteString("</b>")
	}
	if len(decls) > 0 {
		b.WriteString("</span>")
	}
}

// Parse reads markup into a normalized document. Besides the tags Serialize
// writes it accepts what an HTML editor tends to produce: <strong>,
// <font color>, and <div>/<p> blocks, which become line breaks.
func Parse(markup string) (*Doc, error) {
	d := NewDoc()
	if markup == "" {
		return d, nil
	}

	ctx := &xhtml.Node{Type: xhtml.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := xhtml.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	for _, n := range nodes {
		walk(d, n, Style{})
	}
	d.Normalize()
	return d, nil
}

func walk(d *Doc, n *xhtml.Node, st Style) {
	switch n.Type {
	case xhtml.TextNode:
		d.AppendText(n.Data, st)
		return
	case xhtml.ElementNode:
	default:
		return
	}

	switch n.DataAtom {
	case atom.Br:
		d.AppendBreak()
		return
	case atom.B, atom.Strong:
		st.Bold = true
	case atom.Span:
		st = applyCSS(st, attr(n, "style"))
	case atom.Font:
		if c := attr(n, "color"); c != "" {
			st.Color = c
		}
	case atom.Div, atom.P:
		if len(d.Nodes) > 0 && d.Nodes[len(d.Nodes)-1].Kind != BreakNode {
			d.AppendBreak()
		}
	case atom.Script, atom.Style:
		return
	}
	if s := attr(n, "style"); s != "" && n.DataAtom != atom.Span {
		st = applyCSS(st, s)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(d, c, st)
	}
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// applyCSS picks the properties Style understands out of an inline style.
func applyCSS(st Style, css string) Style {
	for _, decl := range strings.Split(css, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.ToLower(strings.TrimSpace(prop)) {
		case "color":
			st.Color = val
		case "background-color", "background":
			st.Highlight = val
		case "font-weight":
			st.Bold = val == "bold" || val == "700" || val == "800" || val == "900"
		}
	}
	return st
}
