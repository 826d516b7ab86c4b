package luaparse

import (
	"errors"
	"strings"
	"testing"

	"lua2svm.dev/compiler/internal/luaast"
	"lua2svm.dev/compiler/internal/luaerr"
)

func parseString(t *testing.T, src string) *luaast.File {
	t.Helper()
	file, err := Parse(strings.NewReader(src), "test.lua")
	if err != nil {
		t.Fatalf("Parse(%q) = _, %v", src, err)
	}
	return file
}

func TestParseStatementShapes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want func(t *testing.T, body []luaast.Stmt)
	}{
		{
			name: "local assignment",
			src:  "local a, b = 1, 2",
			want: func(t *testing.T, body []luaast.Stmt) {
				n, ok := body[0].(*luaast.AssignLocal)
				if !ok {
					t.Fatalf("stmt = %T, want *luaast.AssignLocal", body[0])
				}
				if len(n.Target) != 2 || len(n.Value) != 2 {
					t.Fatalf("AssignLocal = %d targets, %d values, want 2, 2", len(n.Target), len(n.Value))
				}
			},
		},
		{
			name: "numeric for with default step",
			src:  "for i = 1, 10 do end",
			want: func(t *testing.T, body []luaast.Stmt) {
				n, ok := body[0].(*luaast.For)
				if !ok {
					t.Fatalf("stmt = %T, want *luaast.For", body[0])
				}
				step, ok := n.Step.(*luaast.Number)
				if !ok || step.Value != "1" {
					t.Fatalf("Step = %#v, want Number(\"1\")", n.Step)
				}
			},
		},
		{
			name: "generic for multiple targets",
			src:  "for k, v in pairs(t) do end",
			want: func(t *testing.T, body []luaast.Stmt) {
				n, ok := body[0].(*luaast.ForEach)
				if !ok {
					t.Fatalf("stmt = %T, want *luaast.ForEach", body[0])
				}
				if len(n.Target) != 2 {
					t.Fatalf("Target = %d names, want 2", len(n.Target))
				}
				if len(n.Iter) != 1 {
					t.Fatalf("Iter = %d exprs, want 1", len(n.Iter))
				}
			},
		},
		{
			name: "method function declaration desugars self",
			src:  "function t:m(x) end",
			want: func(t *testing.T, body []luaast.Stmt) {
				n, ok := body[0].(*luaast.Function)
				if !ok {
					t.Fatalf("stmt = %T, want *luaast.Function", body[0])
				}
				if _, ok := n.Name.(*luaast.Method); !ok {
					t.Fatalf("Name = %T, want *luaast.Method", n.Name)
				}
				if len(n.Args) != 2 || n.Args[0].Identifier != "self" {
					t.Fatalf("Args = %v, want [self x]", n.Args)
				}
			},
		},
		{
			name: "label and goto",
			src:  "::top:: goto top",
			want: func(t *testing.T, body []luaast.Stmt) {
				if _, ok := body[0].(*luaast.Label); !ok {
					t.Fatalf("stmt[0] = %T, want *luaast.Label", body[0])
				}
				g, ok := body[1].(*luaast.Goto)
				if !ok || g.Target != "top" {
					t.Fatalf("stmt[1] = %#v, want Goto{Target: \"top\"}", body[1])
				}
			},
		},
		{
			name: "return with values",
			src:  "return 1, 2, 3",
			want: func(t *testing.T, body []luaast.Stmt) {
				n, ok := body[0].(*luaast.Return)
				if !ok {
					t.Fatalf("stmt = %T, want *luaast.Return", body[0])
				}
				if len(n.Value) != 3 {
					t.Fatalf("Value = %d exprs, want 3", len(n.Value))
				}
			},
		},
		{
			name: "bare call statement",
			src:  "f(1, 2)",
			want: func(t *testing.T, body []luaast.Stmt) {
				n, ok := body[0].(*luaast.CallStatement)
				if !ok {
					t.Fatalf("stmt = %T, want *luaast.CallStatement", body[0])
				}
				if len(n.Call.Args) != 2 {
					t.Fatalf("Call.Args = %d, want 2", len(n.Call.Args))
				}
			},
		},
		{
			name: "multiple assignment to mixed targets",
			src:  "a, t.k, t[i] = 1, 2, 3",
			want: func(t *testing.T, body []luaast.Stmt) {
				n, ok := body[0].(*luaast.Assign)
				if !ok {
					t.Fatalf("stmt = %T, want *luaast.Assign", body[0])
				}
				if len(n.Target) != 3 {
					t.Fatalf("Target = %d, want 3", len(n.Target))
				}
				if _, ok := n.Target[1].(*luaast.Attribute); !ok {
					t.Fatalf("Target[1] = %T, want *luaast.Attribute", n.Target[1])
				}
				if _, ok := n.Target[2].(*luaast.Subscript); !ok {
					t.Fatalf("Target[2] = %T, want *luaast.Subscript", n.Target[2])
				}
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			file := parseString(t, test.src)
			test.want(t, file.Body)
		})
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	// 1 + 2 * 3 must bind as 1 + (2 * 3), not (1 + 2) * 3.
	file := parseString(t, "return 1 + 2 * 3")
	ret := file.Body[0].(*luaast.Return)
	top, ok := ret.Value[0].(*luaast.BinOp)
	if !ok || top.Op != luaast.Add {
		t.Fatalf("top op = %#v, want Add", ret.Value[0])
	}
	right, ok := top.Right.(*luaast.BinOp)
	if !ok || right.Op != luaast.Mul {
		t.Fatalf("right = %#v, want Mul", top.Right)
	}
}

func TestParseConcatRightAssociative(t *testing.T) {
	// a .. b .. c must bind as a .. (b .. c).
	file := parseString(t, "return a .. b .. c")
	ret := file.Body[0].(*luaast.Return)
	top, ok := ret.Value[0].(*luaast.BinOp)
	if !ok || top.Op != luaast.Concat {
		t.Fatalf("top op = %#v, want Concat", ret.Value[0])
	}
	if _, ok := top.Left.(*luaast.Name); !ok {
		t.Fatalf("Left = %T, want *luaast.Name", top.Left)
	}
	right, ok := top.Right.(*luaast.BinOp)
	if !ok || right.Op != luaast.Concat {
		t.Fatalf("Right = %#v, want nested Concat", top.Right)
	}
}

func TestParseTableConstructorFieldKinds(t *testing.T) {
	file := parseString(t, `return {1, 2, x = 3, [k] = 4}`)
	ret := file.Body[0].(*luaast.Return)
	tbl, ok := ret.Value[0].(*luaast.Table)
	if !ok {
		t.Fatalf("value = %T, want *luaast.Table", ret.Value[0])
	}
	if len(tbl.Fields) != 4 {
		t.Fatalf("Fields = %d, want 4", len(tbl.Fields))
	}
	if _, ok := tbl.Fields[0].(*luaast.Number); !ok {
		t.Errorf("Fields[0] = %T, want positional *luaast.Number", tbl.Fields[0])
	}
	f2, ok := tbl.Fields[2].(*luaast.Field)
	if !ok {
		t.Fatalf("Fields[2] = %T, want *luaast.Field", tbl.Fields[2])
	}
	if key, ok := f2.Key.(*luaast.String); !ok || key.Value != "x" {
		t.Errorf("Fields[2].Key = %#v, want String(\"x\")", f2.Key)
	}
	f3, ok := tbl.Fields[3].(*luaast.Field)
	if !ok {
		t.Fatalf("Fields[3] = %T, want *luaast.Field", tbl.Fields[3])
	}
	if _, ok := f3.Key.(*luaast.Name); !ok {
		t.Errorf("Fields[3].Key = %T, want *luaast.Name", f3.Key)
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse(strings.NewReader("local = "), "bad.lua")
	if err == nil {
		t.Fatal("Parse did not report an error for malformed source")
	}
	var syntaxErr *luaerr.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("Parse error = %v, want *luaerr.SyntaxError", err)
	}
}

func TestParseLexicalError(t *testing.T) {
	_, err := Parse(strings.NewReader(`return '\999'`), "bad.lua")
	if err == nil {
		t.Fatal("Parse did not report an error for an out-of-range decimal escape")
	}
	var lexErr *luaerr.LexicalError
	if !errors.As(err, &lexErr) {
		t.Fatalf("Parse error = %v, want *luaerr.LexicalError", err)
	}
}

func TestParseExprUsedAsStatementRejected(t *testing.T) {
	_, err := Parse(strings.NewReader("1 + 1"), "bad.lua")
	if err == nil {
		t.Fatal("Parse did not reject a bare expression used as a statement")
	}
}
