package program

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	ErrSyntax     = errors.New("syntax error")
	ErrOrphanElse = errors.New("else without a preceding if")
)

// Grammar of the text form:
//
//	forward; left; right; jump; interact
//	repeat 3 { ... }
//	if wall_ahead { ... } else { ... }
//
// Semicolons are optional and // comments are skipped by the lexer.
type source struct {
	Statements []*statement `parser:"@@*"`
}

type statement struct {
	Pos lexer.Position

	Else    *block      `parser:"( 'else' @@"`
	Repeat  *repeatStmt `parser:"| @@"`
	If      *ifStmt     `parser:"| @@"`
	Command *string     `parser:"| @('forward' | 'move_forward' | 'move' | 'left' | 'turn_left' | 'right' | 'turn_right' | 'jump' | 'interact') ) ';'?"`
}

type repeatStmt struct {
	Count int    `parser:"'repeat' @Int"`
	Body  *block `parser:"@@"`
}

type ifStmt struct {
	Pos lexer.Position

	Condition string `parser:"'if' @Ident"`
	Then      *block `parser:"@@"`
	Else      *block `parser:"( 'else' @@ )?"`
}

type block struct {
	Statements []*statement `parser:"'{' @@* '}'"`
}

var textParser = participle.MustBuild[source]()

var commandWords = map[string]Kind{
	"forward":      KindMoveForward,
	"move_forward": KindMoveForward,
	"move":         KindMoveForward,
	"left":         KindTurnLeft,
	"turn_left":    KindTurnLeft,
	"right":        KindTurnRight,
	"turn_right":   KindTurnRight,
	"jump":         KindJump,
	"interact":     KindInteract,
}

// Parse reads a program from its text form. A standalone else block is
// rejected with ErrOrphanElse.
func Parse(text string) (Program, error) {
	ast, err := textParser.ParseString("program", text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return convert(ast.Statements)
}

func convert(stmts []*statement) ([]*Node, error) {
	nodes := make([]*Node, 0, len(stmts))
	for _, s := range stmts {
		switch {
		case s.Else != nil:
			return nil, fmt.Errorf("%w at line %d", ErrOrphanElse, s.Pos.Line)
		case s.Command != nil:
			nodes = append(nodes, &Node{Type: commandWords[*s.Command]})
		case s.Repeat != nil:
			body, err := convert(s.Repeat.Body.Statements)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, Repeat(s.Repeat.Count, body...))
		case s.If != nil:
			cond, ok := ParseCondition(s.If.Condition)
			if !ok {
				return nil, fmt.Errorf("%w: %q at line %d", ErrUnknownCondition, s.If.Condition, s.If.Pos.Line)
			}
			then, err := convert(s.If.Then.Statements)
			if err != nil {
				return nil, err
			}
			var els []*Node
			if s.If.Else != nil {
				if els, err = convert(s.If.Else.Statements); err != nil {
					return nil, err
				}
			}
			nodes = append(nodes, If(cond, then, els))
		}
	}
	return nodes, nil
}

// Decode reads a program from its JSON form, a list of nodes
func Decode(data []byte) (Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode program: %w", err)
	}
	return p, nil
}
