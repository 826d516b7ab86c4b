package lualabel

import (
	"errors"
	"strings"
	"testing"

	"lua2svm.dev/compiler/internal/luaerr"
	"lua2svm.dev/compiler/internal/luaparse"
)

func validateSource(t *testing.T, src string) error {
	t.Helper()
	file, err := luaparse.Parse(strings.NewReader(src), "test.lua")
	if err != nil {
		t.Fatalf("Parse(%q) = _, %v", src, err)
	}
	return Validate(file)
}

func TestValidateAccepts(t *testing.T) {
	tests := []string{
		"::top:: goto top",
		"goto skip ::skip::",
		"do goto done end ::done::",
		"while true do goto continue ::continue:: end",
		"for i = 1, 10 do if i == 5 then goto done end end ::done::",
		"do local x = 1 ::inner:: goto inner end",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			if err := validateSource(t, src); err != nil {
				t.Fatalf("Validate(%q) = %v, want nil", src, err)
			}
		})
	}
}

func TestValidateUnresolvedGoto(t *testing.T) {
	err := validateSource(t, "goto nowhere")
	if err == nil {
		t.Fatal("Validate did not reject a goto with no matching label")
	}
	var labelErr *luaerr.LabelError
	if !errors.As(err, &labelErr) {
		t.Fatalf("Validate error = %v, want *luaerr.LabelError", err)
	}
}

func TestValidateDuplicateLabel(t *testing.T) {
	err := validateSource(t, "::dup:: ::dup::")
	if err == nil {
		t.Fatal("Validate did not reject a duplicate label in the same block")
	}
	var labelErr *luaerr.LabelError
	if !errors.As(err, &labelErr) {
		t.Fatalf("Validate error = %v, want *luaerr.LabelError", err)
	}
}

func TestValidateForwardGotoIntoLocalScope(t *testing.T) {
	// A forward goto may not skip over a local declaration standing
	// between it and the label.
	err := validateSource(t, "goto skip; local x = 1; ::skip::")
	if err == nil {
		t.Fatal("Validate did not reject a goto jumping into a local's scope")
	}
	var labelErr *luaerr.LabelError
	if !errors.As(err, &labelErr) {
		t.Fatalf("Validate error = %v, want *luaerr.LabelError", err)
	}
}

func TestValidateBackwardGotoPastLocalsIsLegal(t *testing.T) {
	// A backward jump is always legal: the locals declared between the
	// label and the goto simply go out of scope and are redeclared on
	// the next pass through the loop.
	err := validateSource(t, "::top:: local x = 1; goto top")
	if err != nil {
		t.Fatalf("Validate(backward goto past locals) = %v, want nil", err)
	}
}

func TestValidateLeavingBlockIsLegal(t *testing.T) {
	// A goto that simply leaves an enclosing block (not skipping into a
	// new local's scope) is always legal regardless of locals declared
	// inside that block.
	err := validateSource(t, "do local x = 1; goto after end ::after::")
	if err != nil {
		t.Fatalf("Validate(leaving a block with locals) = %v, want nil", err)
	}
}

func TestValidateNestedFunctionScopeIsIndependent(t *testing.T) {
	// A label inside a nested function body is not visible from the
	// enclosing function, and vice versa.
	err := validateSource(t, "local function f() goto top end ::top::")
	if err == nil {
		t.Fatal("Validate did not reject a goto reaching across a function boundary")
	}
}
