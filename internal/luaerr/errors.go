// Package luaerr defines the compiler's error taxonomy (§7 of the
// specification): one Go type per diagnostic category, each carrying
// enough source position to let a caller render a file:line:column
// message, composable with errors.Is/errors.As as they propagate up
// through the pipeline.
//
// Grounded in the layered-error convention 256lights-zb's
// internal/luacode package uses for its own diagnostics (e.g. its
// unexpectedTokenError shape), adapted to this compiler's five
// categories.
package luaerr

import "fmt"

// LexicalError reports an illegal character, an unterminated
// string/long-bracket, or a decimal escape greater than 255.
type LexicalError struct {
	Filename string
	Line     int
	Column   int
	Msg      string
}

func (e *LexicalError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Filename, e.Line, e.Column, e.Msg)
}

// SyntaxError reports an unexpected token during parsing.
type SyntaxError struct {
	Filename string
	Line     int
	Column   int
	Msg      string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Filename, e.Line, e.Column, e.Msg)
}

// LabelError reports a duplicate label, an unresolved goto, or a goto
// that would jump into the scope of a local.
type LabelError struct {
	Filename string
	Line     int
	Column   int
	Msg      string
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Filename, e.Line, e.Column, e.Msg)
}

// VarargError reports `...` used outside a variadic function.
type VarargError struct {
	Filename string
	Line     int
	Column   int
}

func (e *VarargError) Error() string {
	return fmt.Sprintf("%s:%d:%d: cannot use '...' outside a vararg function", e.Filename, e.Line, e.Column)
}

// InternalError wraps a recovered assertion failure (a stack-depth
// invariant violation or similar): it indicates a compiler bug, not a
// problem with the input program.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal compiler error: %s", e.Msg)
}
