// Package evaluator provides interfaces for compilation and evaluation.
//
// These interfaces are implemented by the algorithm dialects, such as the
// default algo dialect and CEL. The engine compiles a rule's algorithm once
// into a Program, and runs the program for each evaluation with a Frame
// that resolves every call the algorithm makes.
package evaluator

import (
	"context"
	"fmt"
	"strings"
)

// Compiler turns the source of an algorithm into a Program.
type Compiler interface {
	// Compile parses and checks the source. Syntax errors and uses of
	// undefined variables are returned as an ErrorList.
	Compile(src string) (Program, error)
}

// Program is a compiled algorithm. A Program is immutable and may be run
// concurrently.
type Program interface {
	// Run executes the program. Every call the algorithm makes by name is
	// resolved through the frame.
	Run(ctx context.Context, f Frame) (any, error)

	// References lists the names the program calls, in source order.
	References() []Reference

	// Notes lists non-fatal findings of the compilation, such as
	// variables that are assigned but never used.
	Notes() []Error
}

// Frame resolves the calls of a running program. A frame belongs to a
// single evaluation.
type Frame interface {
	// Call invokes the callable registered under name.
	Call(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error)

	// Step is called by the interpreter for every statement and
	// expression it evaluates, and returns an error once the evaluation
	// has used up its budget or has been cancelled.
	Step() error
}

// Reference is a call by name found in an algorithm.
type Reference struct {
	Name string
	Pos  Position
}

// Position locates a token in the algorithm source. Lines and columns
// start at 1.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Error is a compilation finding.
type Error struct {
	Pos Position
	Msg string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// ErrorList is returned by Compile when the source has one or more errors.
type ErrorList []Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	s := make([]string, len(l))
	for i := range l {
		s[i] = l[i].Error()
	}
	return fmt.Sprintf("%d errors: %s", len(l), strings.Join(s, "; "))
}
