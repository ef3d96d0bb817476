// Package program models player-authored block programs.
//
// A Program is an ordered list of Nodes. Primitive nodes map to robot
// commands; Repeat and If nodes own their child lists, so a program is a
// tree that is never flattened. Else has no node of its own: it is the Else
// list of an If.
//
// Programs arrive either as JSON (Decode) or as text (Parse):
//
//	repeat 4 { forward }
//	if wall_ahead { right } else { forward }
//
// Validate applies the authoring rules for a level. The interpreter does not
// re-check them.
package program
