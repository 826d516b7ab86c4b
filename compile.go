// Package compiler lowers Lua 5.2 source into the host VM's marshalled
// code-object binary format. Compile is the package's sole entry
// point, wiring the lexer/parser, scope resolution, label validation,
// code generation, and assembler stages described in
// internal/luaparse, internal/luascope, internal/lualabel,
// internal/luacodegen, and internal/luaasm.
//
// Grounded in 256lights-zb's internal/luacode.Parse (source bytes in,
// *Prototype out, one error value) for the pipeline's external shape:
// a pure function from source to either a compiled result or a single
// wrapped error, no partial output.
package compiler

import (
	"bytes"
	"fmt"

	"lua2svm.dev/compiler/internal/luaasm"
	"lua2svm.dev/compiler/internal/luacodegen"
	"lua2svm.dev/compiler/internal/luaerr"
	"lua2svm.dev/compiler/internal/lualabel"
	"lua2svm.dev/compiler/internal/luaparse"
	"lua2svm.dev/compiler/internal/luascope"
)

// Compile parses source as a Lua 5.2 chunk named filename (used only
// in diagnostics and embedded in the emitted code object) and returns
// the marshalled top-level code object.
//
// Compile is a pure function: identical inputs produce byte-identical
// output. It never logs or performs I/O beyond the arguments and
// return value it's given.
func Compile(source []byte, filename string) (_ []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(*luaerr.InternalError); ok {
				err = ie
				return
			}
			err = &luaerr.InternalError{Msg: fmt.Sprint(r)}
		}
	}()

	file, err := luaparse.Parse(bytes.NewReader(source), filename)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	if err := lualabel.Validate(file); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	scopeResult, err := luascope.Resolve(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	strings := luaasm.NewStringTable()
	top, err := luacodegen.Generate(file, scopeResult, strings)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	strings.Close()

	return luaasm.Marshal(top, strings), nil
}
