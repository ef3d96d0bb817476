package program

import (
	"fmt"
	"strings"
)

var commandText = map[Kind]string{
	KindMoveForward: "forward",
	KindTurnLeft:    "left",
	KindTurnRight:   "right",
	KindJump:        "jump",
	KindInteract:    "interact",
}

// Format renders a program in the text form accepted by Parse
func Format(p Program) string {
	var b strings.Builder
	format(&b, p, 0)
	return b.String()
}

// String renders the program in text form
func (p Program) String() string {
	return Format(p)
}

func format(b *strings.Builder, nodes []*Node, indent int) {
	pad := strings.Repeat("  ", indent)
	for _, n := range nodes {
		if n == nil {
			continue
		}
		switch n.Type {
		case KindRepeat:
			fmt.Fprintf(b, "%srepeat %d {\n", pad, n.Count)
			format(b, n.Body, indent+1)
			fmt.Fprintf(b, "%s}\n", pad)
		case KindIf:
			fmt.Fprintf(b, "%sif %s {\n", pad, n.Condition)
			format(b, n.Then, indent+1)
			if len(n.Else) > 0 {
				fmt.Fprintf(b, "%s} else {\n", pad)
				format(b, n.Else, indent+1)
			}
			fmt.Fprintf(b, "%s}\n", pad)
		default:
			word, ok := commandText[n.Type]
			if !ok {
				word = string(n.Type)
			}
			fmt.Fprintf(b, "%s%s\n", pad, word)
		}
	}
}

// Label is a short one-line description of a node for logs and events
func (n *Node) Label() string {
	if n == nil {
		return "<nil>"
	}
	switch n.Type {
	case KindRepeat:
		return fmt.Sprintf("repeat %d", n.Count)
	case KindIf:
		return fmt.Sprintf("if %s", n.Condition)
	}
	return string(n.Type)
}
