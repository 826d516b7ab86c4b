// Package luascope implements the scope-resolution pass: it walks an
// annotated-in-place AST, binding every [luaast.Name] to a
// [luasymbol.Symbol], marking captured locals as cell variables, and
// allocating the per-function slot tables.
//
// Grounded in orz/lua/scope.py (bruce2008github/orz). The Python
// original's SymbolTable/BlockSymbolTable/ForLoopBlockSymbolTable
// class hierarchy (each delegating lookups upward through a `parent`
// pointer) is reshaped here into a single Scope type parameterized by a
// kind, since Go lacks the dynamic method dispatch the original relies
// on for its three table flavors; the externally observable behavior
// (block scopes shadow without promoting across the function boundary,
// for-loop blocks shift the loop-variable tier) is preserved exactly.
package luascope

import (
	"fmt"

	"lua2svm.dev/compiler/internal/luaast"
	"lua2svm.dev/compiler/internal/luaerr"
	"lua2svm.dev/compiler/internal/luaruntime"
	"lua2svm.dev/compiler/internal/luasymbol"
)

// FuncInfo is the per-function resolution state: the declaration-order
// symbol registry slot assignment consumes, the loop-variable pool, and
// caches that ensure repeated references to the same compiler-
// synthesized name (a global, an attribute, an interned name, or a
// promoted upvalue) reuse one symbol rather than allocating a fresh slot
// per occurrence.
type FuncInfo struct {
	Parent   *FuncInfo
	Varargs  bool
	Argcount int

	symbols []luasymbol.Symbol

	topScope *Scope // the function's outermost Scope; "names" cache for upvalue promotion lives here

	globalCache    map[string]*luasymbol.Global
	attributeCache map[string]*luasymbol.Attribute
	nameCache      map[string]*luasymbol.Name

	loopVars [][3]*luasymbol.Local
}

func newFuncInfo(parent *FuncInfo) *FuncInfo {
	return &FuncInfo{
		Parent:         parent,
		globalCache:    make(map[string]*luasymbol.Global),
		attributeCache: make(map[string]*luasymbol.Attribute),
		nameCache:      make(map[string]*luasymbol.Name),
	}
}

// Symbols returns the function's symbol registry in declaration order,
// ready for [luasymbol.CalculateSlots].
func (f *FuncInfo) Symbols() []luasymbol.Symbol { return f.symbols }

func (f *FuncInfo) register(sym luasymbol.Symbol) {
	f.symbols = append(f.symbols, sym)
}

func (f *FuncInfo) globalSymbol(name string) *luasymbol.Global {
	if g, ok := f.globalCache[name]; ok {
		return g
	}
	g := luasymbol.NewGlobal(name)
	f.globalCache[name] = g
	f.register(g)
	return g
}

func (f *FuncInfo) attributeSymbol(name string) *luasymbol.Attribute {
	if a, ok := f.attributeCache[name]; ok {
		return a
	}
	a := luasymbol.NewAttribute(name)
	f.attributeCache[name] = a
	f.register(a)
	return a
}

func (f *FuncInfo) nameSymbol(text string) *luasymbol.Name {
	if n, ok := f.nameCache[text]; ok {
		return n
	}
	n := luasymbol.NewName(text)
	f.nameCache[text] = n
	f.register(n)
	return n
}

// loopVarAt returns the tier-th (var, limit, step) temporary triple,
// allocating it if this is the first for-loop at that nesting depth.
// Sibling for-loops at the same depth share a triple; nested ones do
// not, because the caller shifts the tier by one per enclosing
// for-loop block.
func (f *FuncInfo) loopVarAt(tier int) luaast.LoopVars {
	for len(f.loopVars) <= tier {
		n := len(f.loopVars)
		triple := [3]*luasymbol.Local{
			luasymbol.NewLocal(fmt.Sprintf(".%da", n)),
			luasymbol.NewLocal(fmt.Sprintf(".%db", n)),
			luasymbol.NewLocal(fmt.Sprintf(".%dc", n)),
		}
		for _, l := range triple {
			f.register(l)
		}
		f.loopVars = append(f.loopVars, triple)
	}
	t := f.loopVars[tier]
	return luaast.LoopVars{Var: t[0], Limit: t[1], Step: t[2]}
}

type scopeKind int

const (
	funcScope scopeKind = iota
	blockScope
	forLoopBlockScope
)

// Scope is one lexical binding level: a function body, or a nested
// block (if/while/repeat/for/do body) within it.
type Scope struct {
	parent *Scope
	kind   scopeKind
	owner  *FuncInfo
	names  map[string]luasymbol.Symbol
}

func newScope(parent *Scope, kind scopeKind, owner *FuncInfo) *Scope {
	return &Scope{parent: parent, kind: kind, owner: owner, names: make(map[string]luasymbol.Symbol)}
}

// declareLocal binds name to a new Local in this scope and registers it
// with the owning function for slot assignment.
func (s *Scope) declareLocal(name string) *luasymbol.Local {
	l := luasymbol.NewLocal(name)
	s.owner.register(l)
	s.names[name] = l
	return l
}

// bind records an already-created symbol (used when caching a promoted
// Free at a function's top scope).
func (s *Scope) bind(name string, sym luasymbol.Symbol) {
	s.names[name] = sym
}

// lookup searches s and its lexical ancestors for name, returning the
// symbol and the function that owns the scope where it was found.
func lookup(s *Scope, name string) (sym luasymbol.Symbol, owner *FuncInfo, ok bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if sym, ok := cur.names[name]; ok {
			return sym, cur.owner, true
		}
	}
	return nil, nil, false
}

// resolve looks up name starting at s. If found in a different
// function than s's own, it promotes the defining Local to
// IsReferenced and builds (or reuses cached) Free symbols at every
// intervening function level. If not found at all, ok is false and the
// caller is responsible for lowering the reference to an _ENV access.
func resolve(s *Scope, name string) (sym luasymbol.Symbol, ok bool) {
	found, owner, ok := lookup(s, name)
	if !ok {
		return nil, false
	}
	if owner == s.owner {
		return found, true
	}
	if loc, isLocal := found.(*luasymbol.Local); isLocal {
		loc.IsReferenced = true
	}

	var chain []*FuncInfo
	for f := s.owner; f != owner; f = f.Parent {
		if f == nil {
			panic("luascope: defining function is not a lexical ancestor")
		}
		chain = append(chain, f)
	}

	parentSym := found
	for i := len(chain) - 1; i >= 0; i-- {
		f := chain[i]
		if cached, ok := f.topScope.names[name]; ok {
			parentSym = cached
			continue
		}
		free := luasymbol.NewFree(name, parentSym)
		f.register(free)
		f.topScope.bind(name, free)
		parentSym = free
	}
	return parentSym, true
}

func (s *Scope) getLoopVar() luaast.LoopVars {
	return s.getLoopVarTier(0)
}

func (s *Scope) getLoopVarTier(tier int) luaast.LoopVars {
	switch s.kind {
	case forLoopBlockScope:
		return s.parent.getLoopVarTier(tier + 1)
	case blockScope:
		return s.parent.getLoopVarTier(tier)
	default:
		return s.owner.loopVarAt(tier)
	}
}

// Result is the outcome of a successful [Resolve]: the function-nesting
// slot data codegen needs, keyed by the AST node that introduces each
// function (*luaast.File, *luaast.Function, *luaast.FunctionLocal, or
// *luaast.Lambda).
type Result struct {
	FuncInfo map[luaast.Node]*FuncInfo
}

// Resolve runs the scope-resolution pass over file, annotating every
// Name, BinOp, UnaryOp, Table, and For node in place.
func Resolve(file *luaast.File) (*Result, error) {
	r := &Result{FuncInfo: make(map[luaast.Node]*FuncInfo)}
	res := &resolver{result: r, filename: file.Filename}

	topInfo := newFuncInfo(nil)
	topInfo.Varargs = true
	top := newScope(nil, funcScope, topInfo)
	topInfo.topScope = top
	r.FuncInfo[file] = topInfo

	file.EnvSymbol = topInfo.globalSymbol("_ENV")
	top.names["_ENV"] = file.EnvSymbol

	if err := res.block(top, file.Body); err != nil {
		return nil, err
	}
	return r, nil
}

type resolver struct {
	result   *Result
	filename string
}

// varargErr reports `...` referenced outside a variadic function.
func (r *resolver) varargErr(pos luaast.Position) error {
	return &luaerr.VarargError{Filename: r.filename, Line: pos.Line, Column: pos.Column}
}

func (r *resolver) block(parent *Scope, body []luaast.Stmt) error {
	s := newScope(parent, blockScope, parent.owner)
	return r.stmts(s, body)
}

func (r *resolver) stmts(s *Scope, body []luaast.Stmt) error {
	for _, stmt := range body {
		if err := r.stmt(s, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *resolver) stmt(s *Scope, stmt luaast.Stmt) error {
	switch n := stmt.(type) {
	case *luaast.Assign:
		for _, t := range n.Target {
			if err := r.expr(s, t); err != nil {
				return err
			}
		}
		for _, v := range n.Value {
			if err := r.expr(s, v); err != nil {
				return err
			}
		}
	case *luaast.AssignLocal:
		for _, v := range n.Value {
			if err := r.expr(s, v); err != nil {
				return err
			}
		}
		for _, t := range n.Target {
			sym := s.declareLocal(t.Identifier)
			t.Symbol = sym
		}
	case *luaast.CallStatement:
		if err := r.expr(s, n.Call); err != nil {
			return err
		}
	case *luaast.Label:
		// No name resolution; handled by the label pass.
	case *luaast.Goto:
		// No name resolution; handled by the label pass.
	case *luaast.Block:
		if err := r.block(s, n.Body); err != nil {
			return err
		}
	case *luaast.While:
		if err := r.expr(s, n.Test); err != nil {
			return err
		}
		if err := r.block(s, n.Body.Body); err != nil {
			return err
		}
	case *luaast.Repeat:
		// The until-test is evaluated in the scope of the body's
		// locals, so both share one block scope.
		inner := newScope(s, blockScope, s.owner)
		if err := r.stmts(inner, n.Body.Body); err != nil {
			return err
		}
		if err := r.expr(inner, n.Test); err != nil {
			return err
		}
	case *luaast.If:
		if err := r.expr(s, n.Test); err != nil {
			return err
		}
		if err := r.block(s, n.Body.Body); err != nil {
			return err
		}
		if n.Orelse != nil {
			if err := r.stmt(s, n.Orelse); err != nil {
				return err
			}
		}
	case *luaast.For:
		if err := r.expr(s, n.Start); err != nil {
			return err
		}
		if err := r.expr(s, n.Stop); err != nil {
			return err
		}
		if err := r.expr(s, n.Step); err != nil {
			return err
		}
		n.ValidateForloop = s.owner.globalSymbol(luaruntime.ValidateForloop)
		n.Increment = s.owner.globalSymbol(luaruntime.BinaryAdd)
		n.Loop = s.getLoopVar()
		inner := newScope(s, forLoopBlockScope, s.owner)
		n.Target.Symbol = inner.declareLocal(n.Target.Identifier)
		if err := r.stmts(inner, n.Body.Body); err != nil {
			return err
		}
	case *luaast.ForEach:
		for _, e := range n.Iter {
			if err := r.expr(s, e); err != nil {
				return err
			}
		}
		n.Loop = s.getLoopVar()
		inner := newScope(s, forLoopBlockScope, s.owner)
		for _, t := range n.Target {
			t.Symbol = inner.declareLocal(t.Identifier)
		}
		if err := r.stmts(inner, n.Body.Body); err != nil {
			return err
		}
	case *luaast.Function:
		if err := r.expr(s, n.Name); err != nil {
			return err
		}
		if err := r.function(s, n, n.Args, n.Body, n.Varargs); err != nil {
			return err
		}
	case *luaast.FunctionLocal:
		// `local function f` is visible inside its own body.
		n.Name.Symbol = s.declareLocal(n.Name.Identifier)
		if err := r.function(s, n, n.Args, n.Body, n.Varargs); err != nil {
			return err
		}
	case *luaast.Return:
		for _, v := range n.Value {
			if err := r.expr(s, v); err != nil {
				return err
			}
		}
	case *luaast.Break:
		// Nothing to resolve.
	default:
		return fmt.Errorf("luascope: unhandled statement type %T", n)
	}
	return nil
}

func (r *resolver) function(parent *Scope, node luaast.Node, args []*luaast.Name, body *luaast.Block, varargs bool) error {
	info := newFuncInfo(parent.owner)
	info.Varargs = varargs
	info.Argcount = len(args)
	r.result.FuncInfo[node] = info

	top := newScope(parent, funcScope, info)
	info.topScope = top
	for _, a := range args {
		a.Symbol = top.declareLocal(a.Identifier)
	}
	return r.stmts(top, body.Body)
}

func (r *resolver) expr(s *Scope, expr luaast.Expr) error {
	switch n := expr.(type) {
	case *luaast.Name:
		if sym, ok := resolve(s, n.Identifier); ok {
			n.Symbol = sym
			n.Env = false
		} else {
			n.Symbol = s.owner.globalSymbol("_ENV")
			n.Env = true
			n.EnvKey = s.owner.nameSymbol(n.Identifier)
		}
	case *luaast.Subscript:
		if err := r.expr(s, n.Value); err != nil {
			return err
		}
		if err := r.expr(s, n.Slice); err != nil {
			return err
		}
	case *luaast.Attribute:
		if err := r.expr(s, n.Value); err != nil {
			return err
		}
		n.Attr.Symbol = s.owner.attributeSymbol(n.Attr.Identifier)
	case *luaast.Method:
		if err := r.expr(s, n.Value); err != nil {
			return err
		}
		n.Method.Symbol = s.owner.attributeSymbol(n.Method.Identifier)
	case *luaast.Nil, *luaast.False, *luaast.True, *luaast.Number, *luaast.String:
		// Constants; nothing to resolve.
	case *luaast.Ellipsis:
		if !s.owner.Varargs {
			return r.varargErr(n.Pos())
		}
	case *luaast.Field:
		if n.Key != nil {
			if err := r.expr(s, n.Key); err != nil {
				return err
			}
		}
		if err := r.expr(s, n.Value); err != nil {
			return err
		}
	case *luaast.Table:
		n.LuaTable = s.owner.globalSymbol(luaruntime.LuaTable)
		for _, f := range n.Fields {
			if err := r.expr(s, f); err != nil {
				return err
			}
		}
	case *luaast.Lambda:
		return r.function(s, n, n.Args, n.Body, n.Varargs)
	case *luaast.BinOp:
		if err := r.expr(s, n.Left); err != nil {
			return err
		}
		if err := r.expr(s, n.Right); err != nil {
			return err
		}
		n.OpSymbol = s.owner.globalSymbol(".b" + n.Op.String())
	case *luaast.UnaryOp:
		if err := r.expr(s, n.Operand); err != nil {
			return err
		}
		n.OpSymbol = s.owner.globalSymbol(".u" + n.Op.String())
	case *luaast.Call:
		if err := r.expr(s, n.Func); err != nil {
			return err
		}
		for _, a := range n.Args {
			if err := r.expr(s, a); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("luascope: unhandled expression type %T", n)
	}
	return nil
}
