package compiler

import (
	"bytes"
	"errors"
	"testing"

	"lua2svm.dev/compiler/internal/luaerr"
)

// Scenarios from §8: each should compile to a non-empty top-level code
// object (tag 'c', per internal/luaasm's marshal format) without
// error. The VM-side execution results the spec describes aren't
// checked here since this repository has no interpreter to run
// against; codegen's own stack-balance assertions (internal/luaasm,
// internal/luacodegen) are what actually enforce correctness of the
// emitted instruction stream.
func TestCompileScenarios(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"arithmetic", "return 1+2"},
		{"table index", "local t = {10,20,30}; return t[2]"},
		{"function call", "local function f(x) return x+1 end; return f(41)"},
		{"multiple assignment swap", "local a, b = 1, 2; a, b = b, a; return a, b"},
		{"numeric for", "local t={}; for i=1,3 do t[i]=i*i end; return t[1],t[2],t[3]"},
		{"closures", "local function mk() local x=0; return function() x=x+1; return x end end; local f=mk(); return f(),f(),f()"},
		{"generic for", "local t={1,2,3}; local s=0; for i,v in ipairs(t) do s=s+v end; return s"},
		{"goto forward out of local scope", "do goto skip; local x=1; ::skip:: end"},
		{"method call", "local o = {}; function o:m(x) return x end; return o:m(1)"},
		{"vararg function", "local function f(...) return ... end; return f(1,2,3)"},
		{"and or", "local a = nil; return a and 1 or 2"},
		{"repeat until", "local i=0; repeat i=i+1 until i>=3; return i"},
		{"string literal", `return "hello"`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out, err := Compile([]byte(test.source), test.name+".lua")
			if err != nil {
				t.Fatalf("Compile(%q) = _, %v", test.source, err)
			}
			if len(out) == 0 {
				t.Fatalf("Compile(%q) returned empty output", test.source)
			}
			if out[0] != 'c' {
				t.Fatalf("Compile(%q): output does not start with a code-object tag, got %q", test.source, out[0])
			}
		})
	}
}

// Compile is a pure function of its arguments: compiling the same
// source and filename twice must produce byte-identical output.
func TestCompileDeterministic(t *testing.T) {
	const source = "local function f(x, y) return x + y, x - y end; return f(3, 4)"
	a, err := Compile([]byte(source), "determinism.lua")
	if err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	b, err := Compile([]byte(source), "determinism.lua")
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("Compile is not deterministic: got two different outputs for identical input")
	}
}

func TestCompileLabelError(t *testing.T) {
	// A goto at block scope jumping over a local declaration into a
	// label in that local's scope is rejected (§8's concrete example).
	_, err := Compile([]byte("goto skip; local x=1; ::skip::"), "badlabel.lua")
	if err == nil {
		t.Fatal("Compile did not report an error for a goto into a local's scope")
	}
	var labelErr *luaerr.LabelError
	if !errors.As(err, &labelErr) {
		t.Fatalf("Compile error = %v, want one wrapping *luaerr.LabelError", err)
	}
}

func TestCompileVarargError(t *testing.T) {
	_, err := Compile([]byte("local function f() return ... end"), "badvararg.lua")
	if err == nil {
		t.Fatal("Compile did not report an error for '...' outside a vararg function")
	}
	var varargErr *luaerr.VarargError
	if !errors.As(err, &varargErr) {
		t.Fatalf("Compile error = %v, want one wrapping *luaerr.VarargError", err)
	}
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := Compile([]byte("local = "), "badsyntax.lua")
	if err == nil {
		t.Fatal("Compile did not report an error for malformed source")
	}
	var syntaxErr *luaerr.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("Compile error = %v, want one wrapping *luaerr.SyntaxError", err)
	}
}
