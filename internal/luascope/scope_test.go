package luascope

import (
	"errors"
	"strings"
	"testing"

	"lua2svm.dev/compiler/internal/luaast"
	"lua2svm.dev/compiler/internal/luaerr"
	"lua2svm.dev/compiler/internal/luaparse"
	"lua2svm.dev/compiler/internal/luasymbol"
)

func resolveSource(t *testing.T, src string) (*luaast.File, *Result) {
	t.Helper()
	file, err := luaparse.Parse(strings.NewReader(src), "test.lua")
	if err != nil {
		t.Fatalf("Parse(%q) = _, %v", src, err)
	}
	result, err := Resolve(file)
	if err != nil {
		t.Fatalf("Resolve(%q) = _, %v", src, err)
	}
	return file, result
}

func TestResolveLocalIsLocalSymbol(t *testing.T) {
	file, _ := resolveSource(t, "local x = 1; return x")
	ret := file.Body[1].(*luaast.Return)
	use := ret.Value[0].(*luaast.Name)
	if _, ok := use.Symbol.(*luasymbol.Local); !ok {
		t.Fatalf("use.Symbol = %T, want *luasymbol.Local", use.Symbol)
	}
	if use.Env {
		t.Fatal("use.Env = true, want false for a resolved local")
	}
	decl := file.Body[0].(*luaast.AssignLocal)
	if !decl.Target[0].Symbol.Equal(use.Symbol) {
		t.Fatal("declaration and use resolved to different symbols")
	}
}

func TestResolveUndeclaredNameLowersToEnv(t *testing.T) {
	file, _ := resolveSource(t, "return undeclared")
	ret := file.Body[0].(*luaast.Return)
	use := ret.Value[0].(*luaast.Name)
	if !use.Env {
		t.Fatal("use.Env = false, want true for an unresolved global")
	}
	if use.EnvKey == nil || use.EnvKey.Text != "undeclared" {
		t.Fatalf("use.EnvKey = %#v, want Name{Text: \"undeclared\"}", use.EnvKey)
	}
	g, ok := use.Symbol.(*luasymbol.Global)
	if !ok || g.Name != "_ENV" {
		t.Fatalf("use.Symbol = %#v, want Global(\"_ENV\")", use.Symbol)
	}
}

func TestResolveCapturedLocalBecomesFreeUpvalue(t *testing.T) {
	file, _ := resolveSource(t, `
		local function outer()
			local x = 1
			local function inner()
				return x
			end
			return inner
		end
	`)
	outer := file.Body[0].(*luaast.FunctionLocal)
	decl := outer.Body.Body[0].(*luaast.AssignLocal)
	local, ok := decl.Target[0].Symbol.(*luasymbol.Local)
	if !ok {
		t.Fatalf("decl.Target[0].Symbol = %T, want *luasymbol.Local", decl.Target[0].Symbol)
	}
	if !local.IsReferenced {
		t.Fatal("outer local x: IsReferenced = false, want true (captured by inner)")
	}

	inner := outer.Body.Body[1].(*luaast.FunctionLocal)
	ret := inner.Body.Body[0].(*luaast.Return)
	use := ret.Value[0].(*luaast.Name)
	free, ok := use.Symbol.(*luasymbol.Free)
	if !ok {
		t.Fatalf("use.Symbol = %T, want *luasymbol.Free", use.Symbol)
	}
	if free.Name != "x" {
		t.Fatalf("free.Name = %q, want \"x\"", free.Name)
	}
}

func TestResolveRepeatUntilSharesBodyScope(t *testing.T) {
	// The until-test can see locals declared in the loop body.
	file, _ := resolveSource(t, "repeat local i = 1 until i > 0")
	rep := file.Body[0].(*luaast.Repeat)
	decl := rep.Body.Body[0].(*luaast.AssignLocal)
	test := rep.Test.(*luaast.BinOp)
	use := test.Left.(*luaast.Name)
	if _, ok := use.Symbol.(*luasymbol.Local); !ok {
		t.Fatalf("until-test's use of i resolved to %T, want *luasymbol.Local", use.Symbol)
	}
	if !decl.Target[0].Symbol.Equal(use.Symbol) {
		t.Fatal("until-test did not resolve to the body's own local declaration")
	}
}

func TestResolveNumericForAnnotatesLoopSymbols(t *testing.T) {
	file, _ := resolveSource(t, "for i = 1, 10 do end")
	n := file.Body[0].(*luaast.For)
	if n.ValidateForloop == nil || n.ValidateForloop.Name != "validate_forloop" {
		t.Fatalf("ValidateForloop = %#v, want Global(\"validate_forloop\")", n.ValidateForloop)
	}
	if n.Increment == nil || n.Increment.Name != ".b+" {
		t.Fatalf("Increment = %#v, want Global(\".b+\")", n.Increment)
	}
	if n.Loop.Var == nil || n.Loop.Limit == nil || n.Loop.Step == nil {
		t.Fatal("Loop vars not allocated")
	}
	if n.Target.Symbol == nil {
		t.Fatal("loop target not resolved to a symbol")
	}
}

func TestResolveNestedForLoopsGetDistinctLoopVarTiers(t *testing.T) {
	file, _ := resolveSource(t, "for i = 1, 10 do for j = 1, 10 do end end")
	outer := file.Body[0].(*luaast.For)
	inner := outer.Body.Body[0].(*luaast.For)
	if outer.Loop.Var.Equal(inner.Loop.Var) {
		t.Fatal("nested for loops shared the same loop-variable tier, want distinct tiers")
	}
}

func TestResolveSiblingForLoopsShareLoopVarTier(t *testing.T) {
	file, _ := resolveSource(t, "for i = 1, 10 do end for j = 1, 10 do end")
	first := file.Body[0].(*luaast.For)
	second := file.Body[1].(*luaast.For)
	if !first.Loop.Var.Equal(second.Loop.Var) {
		t.Fatal("sibling for loops at the same nesting depth did not share a loop-variable tier")
	}
}

func TestResolveVarargAtTopLevelChunkIsLegal(t *testing.T) {
	// The top-level chunk is itself implicitly variadic.
	if _, _, err := resolveSourceErr(t, "return ..."); err != nil {
		t.Fatalf("Resolve(top-level '...') = %v, want nil", err)
	}
}

func resolveSourceErr(t *testing.T, src string) (*luaast.File, *Result, error) {
	t.Helper()
	file, err := luaparse.Parse(strings.NewReader(src), "test.lua")
	if err != nil {
		t.Fatalf("Parse(%q) = _, %v", src, err)
	}
	result, err := Resolve(file)
	return file, result, err
}

func TestResolveVarargInsideNonVariadicFunctionErrors(t *testing.T) {
	file, err := luaparse.Parse(strings.NewReader("local function f() return ... end"), "badvararg.lua")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = Resolve(file)
	if err == nil {
		t.Fatal("Resolve did not reject '...' inside a non-variadic function")
	}
	var varargErr *luaerr.VarargError
	if !errors.As(err, &varargErr) {
		t.Fatalf("Resolve error = %v, want *luaerr.VarargError", err)
	}
	if varargErr.Filename != "badvararg.lua" {
		t.Fatalf("VarargError.Filename = %q, want %q", varargErr.Filename, "badvararg.lua")
	}
}

func TestResolveTableConstructorAnnotatesLuaTableGlobal(t *testing.T) {
	file, _ := resolveSource(t, "return {1, 2, 3}")
	ret := file.Body[0].(*luaast.Return)
	tbl := ret.Value[0].(*luaast.Table)
	if tbl.LuaTable == nil || tbl.LuaTable.Name != "LuaTable" {
		t.Fatalf("LuaTable = %#v, want Global(\"LuaTable\")", tbl.LuaTable)
	}
}
