package program

import (
	"github.com/wricardo/mcp-training/blockbot/game/engine"
)

// Kind names a command node type. Primitive kinds share their names with
// the engine command constants.
type Kind string

const (
	KindMoveForward Kind = engine.CmdMoveForward
	KindTurnLeft    Kind = engine.CmdTurnLeft
	KindTurnRight   Kind = engine.CmdTurnRight
	KindJump        Kind = engine.CmdJump
	KindInteract    Kind = engine.CmdInteract
	KindRepeat      Kind = "repeat"
	KindIf          Kind = "if"
)

// IsPrimitive reports whether k is a leaf command with a direct robot effect
func (k Kind) IsPrimitive() bool {
	switch k {
	case KindMoveForward, KindTurnLeft, KindTurnRight, KindJump, KindInteract:
		return true
	}
	return false
}

// IsCompound reports whether k carries child nodes
func (k Kind) IsCompound() bool {
	return k == KindRepeat || k == KindIf
}

// Condition is a world-state query evaluated by an If node
type Condition string

const (
	PathAhead  Condition = "path_ahead"
	WallAhead  Condition = "wall_ahead"
	OnGoal     Condition = "on_goal"
	ItemNearby Condition = "item_nearby"
)

var conditionAliases = map[string]Condition{
	"path_ahead":   PathAhead,
	"wall_ahead":   WallAhead,
	"on_goal":      OnGoal,
	"goal_reached": OnGoal,
	"item_nearby":  ItemNearby,
	"item_present": ItemNearby,
}

// ParseCondition resolves a condition name, accepting the legacy aliases
// goal_reached and item_present
func ParseCondition(name string) (Condition, bool) {
	c, ok := conditionAliases[name]
	return c, ok
}

// Valid reports whether c is one of the four known conditions
func (c Condition) Valid() bool {
	switch c {
	case PathAhead, WallAhead, OnGoal, ItemNearby:
		return true
	}
	return false
}

// Sensors is the read-only robot surface conditions are evaluated against.
// *engine.RobotState satisfies it.
type Sensors interface {
	IsPathAhead() bool
	IsWallAhead() bool
	IsOnGoal() bool
	IsItemNearby() bool
}

// Evaluate queries the sensor for the condition. Unknown conditions are false.
func (c Condition) Evaluate(s Sensors) bool {
	switch c {
	case PathAhead:
		return s.IsPathAhead()
	case WallAhead:
		return s.IsWallAhead()
	case OnGoal:
		return s.IsOnGoal()
	case ItemNearby:
		return s.IsItemNearby()
	}
	return false
}

// Node is one command block. Primitives use only Type; Repeat uses Count
// and Body; If uses Condition, Then and Else.
type Node struct {
	Type      Kind      `json:"type"`
	Count     int       `json:"count,omitempty"`
	Condition Condition `json:"condition,omitempty"`
	Body      []*Node   `json:"body,omitempty"`
	Then      []*Node   `json:"then,omitempty"`
	Else      []*Node   `json:"else,omitempty"`
}

// Program is the ordered top-level list of command nodes
type Program []*Node

func Move() *Node     { return &Node{Type: KindMoveForward} }
func Left() *Node     { return &Node{Type: KindTurnLeft} }
func Right() *Node    { return &Node{Type: KindTurnRight} }
func Jump() *Node     { return &Node{Type: KindJump} }
func Interact() *Node { return &Node{Type: KindInteract} }

// Repeat builds a Repeat node executing body count times
func Repeat(count int, body ...*Node) *Node {
	return &Node{Type: KindRepeat, Count: count, Body: body}
}

// If builds an If node. els may be nil.
func If(cond Condition, then, els []*Node) *Node {
	return &Node{Type: KindIf, Condition: cond, Then: then, Else: els}
}

// OrderedChildren returns the child list to execute for n. For If the
// condition result selects the branch; Repeat returns its body; leaves
// return nil.
func OrderedChildren(n *Node, condition bool) []*Node {
	if n == nil {
		return nil
	}
	switch n.Type {
	case KindRepeat:
		return n.Body
	case KindIf:
		if condition {
			return n.Then
		}
		return n.Else
	}
	return nil
}

// CountCommands counts every node in the tree, nested ones included
func (p Program) CountCommands() int {
	total := 0
	p.Walk(func([]int, *Node) { total++ })
	return total
}

// Depth returns the deepest compound nesting level. A program of only
// primitives has depth 0.
func (p Program) Depth() int {
	return depth(p)
}

func depth(nodes []*Node) int {
	deepest := 0
	for _, n := range nodes {
		if n == nil || !n.Type.IsCompound() {
			continue
		}
		d := 1 + max(depth(n.Body), depth(n.Then), depth(n.Else))
		if d > deepest {
			deepest = d
		}
	}
	return deepest
}

// Children returns every child of n: Body for Repeat, Then followed by Else
// for If
func Children(n *Node) []*Node {
	if n == nil {
		return nil
	}
	switch n.Type {
	case KindRepeat:
		return n.Body
	case KindIf:
		out := make([]*Node, 0, len(n.Then)+len(n.Else))
		out = append(out, n.Then...)
		return append(out, n.Else...)
	}
	return nil
}

// Walk visits every node in pre-order with its index path from the top
// level. Indexes below an If count Then nodes first, then Else nodes.
func (p Program) Walk(fn func(path []int, n *Node)) {
	walk(p, nil, fn)
}

func walk(nodes []*Node, prefix []int, fn func([]int, *Node)) {
	for i, n := range nodes {
		if n == nil {
			continue
		}
		path := append(append([]int(nil), prefix...), i)
		fn(path, n)
		walk(Children(n), path, fn)
	}
}
