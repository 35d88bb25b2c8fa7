package richtext

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
)

// Toolbar colors.
const (
	HighlightColor = "#FFF9C4"
	RedColor       = "#EF4444"
	BlueColor      = "#3B82F6"
)

// Action is a toolbar button.
type Action int

const (
	ActionHighlight Action = iota
	ActionRed
	ActionBlue
	ActionBold
)

// Actions lists the toolbar buttons in display order.
var Actions = []Action{ActionHighlight, ActionRed, ActionBlue, ActionBold}

func (a Action) String() string {
	switch a {
	case ActionHighlight:
		return "highlight"
	case ActionRed:
		return "red"
	case ActionBlue:
		return "blue"
	case ActionBold:
		return "bold"
	default:
		return "unknown"
	}
}

// Title is the button tooltip.
func (a Action) Title() string {
	switch a {
	case ActionHighlight:
		return "Highlight"
	case ActionRed:
		return "Red Text"
	case ActionBlue:
		return "Blue Text"
	case ActionBold:
		return "Bold"
	default:
		return ""
	}
}

// ParseAction parses an action name as returned by String.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown toolbar action %q", s)
}

// apply returns st with the action applied. allBold is whether every run in
// the selection is already bold; bold toggles.
func (a Action) apply(st Style, allBold bool) Style {
	switch a {
	case ActionHighlight:
		st.Highlight = HighlightColor
	case ActionRed:
		st.Color = RedColor
	case ActionBlue:
		st.Color = BlueColor
	case ActionBold:
		st.Bold = !allBold
	}
	return st
}

// ToolbarState is the floating toolbar. AnchorX is the display column of the
// selection start; AnchorY is the line above it, so -1 on the first line.
type ToolbarState struct {
	Visible bool
	AnchorX int
	AnchorY int
}

// toolbarFor positions the toolbar for a selection starting at flat offset
// start in text.
func toolbarFor(text string, start int) ToolbarState {
	r := []rune(text)
	start = max(0, min(start, len(r)))
	before := string(r[:start])

	line := strings.Count(before, "\n")
	col := before
	if i := strings.LastIndexByte(before, '\n'); i >= 0 {
		col = before[i+1:]
	}
	return ToolbarState{
		Visible: true,
		AnchorX: uniseg.StringWidth(col),
		AnchorY: line - 1,
	}
}
