// Package lualabel validates `goto`/label pairs against Lua's lexical
// scoping rule: a goto may target any label visible in its own block or
// an enclosing one, except that a forward jump may not skip over a
// local variable declaration standing between the goto and the label.
// A backward jump, and a jump that simply leaves a block, are always
// legal: locals of an exited block go out of scope regardless.
//
// Grounded in orz/lua/label.py (bruce2008github/orz).
package lualabel

import (
	"fmt"

	"lua2svm.dev/compiler/internal/luaast"
	"lua2svm.dev/compiler/internal/luaerr"
)

// Validate walks file and reports the first invalid or unresolved
// goto, or nil if every goto resolves to a legally visible label.
func Validate(file *luaast.File) error {
	v := &validator{filename: file.Filename}
	return v.functionBody(file.Body)
}

type validator struct{ filename string }

func (v *validator) errf(pos luaast.Position, format string, args ...any) error {
	return &luaerr.LabelError{Filename: v.filename, Line: pos.Line, Column: pos.Column, Msg: fmt.Sprintf(format, args...)}
}

type labelDecl struct{ locals int }

type gotoRef struct {
	name   string
	pos    luaast.Position
	locals int
}

// block validates one lexical block's statements, returning the gotos
// that remain unresolved because no matching label was declared within
// it: the caller (an enclosing block) is responsible for resolving
// them against its own labels, or propagating them further up.
func (v *validator) block(body []luaast.Stmt) ([]gotoRef, error) {
	labels := make(map[string]labelDecl)
	var pending []gotoRef
	locals := 0

	resolveForward := func(name string, declaredAt int) error {
		var remaining []gotoRef
		for _, g := range pending {
			if g.name != name {
				remaining = append(remaining, g)
				continue
			}
			if declaredAt > g.locals {
				return v.errf(g.pos, "goto '%s' jumps into the scope of a local variable", g.name)
			}
		}
		pending = remaining
		return nil
	}

	for _, stmt := range body {
		switch n := stmt.(type) {
		case *luaast.AssignLocal:
			locals += len(n.Target)
		case *luaast.FunctionLocal:
			locals++
			if err := v.functionBody(n.Body.Body); err != nil {
				return nil, err
			}
		case *luaast.Label:
			if _, dup := labels[n.Name]; dup {
				return nil, v.errf(n.Pos(), "label '%s' already defined in this block", n.Name)
			}
			labels[n.Name] = labelDecl{locals: locals}
			if err := resolveForward(n.Name, locals); err != nil {
				return nil, err
			}
		case *luaast.Goto:
			if _, ok := labels[n.Target]; ok {
				continue // backward jump: always legal
			}
			pending = append(pending, gotoRef{name: n.Target, pos: n.Pos(), locals: locals})
		case *luaast.Block:
			if err := v.mergeNested(n.Body, locals, &pending); err != nil {
				return nil, err
			}
		case *luaast.While:
			if err := v.mergeNested(n.Body.Body, locals, &pending); err != nil {
				return nil, err
			}
		case *luaast.Repeat:
			if err := v.mergeNested(n.Body.Body, locals, &pending); err != nil {
				return nil, err
			}
		case *luaast.If:
			if err := v.ifStmt(n, locals, &pending); err != nil {
				return nil, err
			}
		case *luaast.For:
			if err := v.mergeNested(n.Body.Body, locals, &pending); err != nil {
				return nil, err
			}
		case *luaast.ForEach:
			if err := v.mergeNested(n.Body.Body, locals, &pending); err != nil {
				return nil, err
			}
		case *luaast.Function:
			if err := v.functionBody(n.Body.Body); err != nil {
				return nil, err
			}
		}
	}

	return pending, nil
}

func (v *validator) ifStmt(n *luaast.If, locals int, pending *[]gotoRef) error {
	if err := v.mergeNested(n.Body.Body, locals, pending); err != nil {
		return err
	}
	switch orelse := n.Orelse.(type) {
	case nil:
	case *luaast.Block:
		return v.mergeNested(orelse.Body, locals, pending)
	case *luaast.If:
		return v.ifStmt(orelse, locals, pending)
	}
	return nil
}

// functionBody validates a nested function's own block as a fresh goto
// scope: goto may never cross a function boundary, so any goto left
// unresolved at the end of the function's top-level block is itself an
// error here rather than something for the enclosing block to resolve.
func (v *validator) functionBody(body []luaast.Stmt) error {
	pending, err := v.block(body)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		g := pending[0]
		return v.errf(g.pos, "no visible label '%s' for goto", g.name)
	}
	return nil
}

// mergeNested validates a child block and folds any gotos it could not
// resolve into the enclosing block's pending set, so they get a chance
// to match a label declared later in the enclosing scope. Each bubbled
// goto is re-stamped with the enclosing block's own local count at the
// point the nested construct appears: the child's internal locals are
// out of scope the moment control leaves it, so only the enclosing
// block's locals matter for the skip-into-scope check from here on.
func (v *validator) mergeNested(body []luaast.Stmt, locals int, pending *[]gotoRef) error {
	unresolved, err := v.block(body)
	if err != nil {
		return err
	}
	for _, g := range unresolved {
		g.locals = locals
		*pending = append(*pending, g)
	}
	return nil
}
