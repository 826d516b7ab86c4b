// Package luacodegen lowers an annotated [luaast] tree into a tree of
// [luaasm.Assembly] values, one per Lua function, nested as constants
// of their enclosing function exactly as the functions themselves are
// lexically nested.
//
// Grounded in orz/lua/compile.py (bruce2008github/orz) for the
// lowering rules; the stack-machine opcode contract it targets is this
// specification's own (§4.4/§6), not CPython's, so several opcode
// argument orderings (noted inline) are this package's own internal
// convention rather than a port of CPython bytecode semantics.
package luacodegen

import (
	"fmt"

	"lua2svm.dev/compiler/internal/luaast"
	"lua2svm.dev/compiler/internal/luaasm"
	"lua2svm.dev/compiler/internal/luaerr"
	"lua2svm.dev/compiler/internal/luascope"
	"lua2svm.dev/compiler/internal/luasymbol"
)

// Comparison codes for COMPARE_OP's argument, numbered as in CPython
// 2's cmp_op table.
const (
	cmpLT = iota
	cmpLE
	cmpEQ
	cmpNE
	cmpGT
	cmpGE
)

// Generate lowers file into a tree of assemblies rooted at the
// top-level chunk. scopeResult is the output of [luascope.Resolve] for
// the same file. strings accumulates every interned string the whole
// tree references; the caller must call strings.Close() before
// marshaling.
func Generate(file *luaast.File, scopeResult *luascope.Result, strings *luaasm.StringTable) (asm *luaasm.Assembly, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(*luaerr.InternalError); ok {
				err = ie
				return
			}
			err = &luaerr.InternalError{Msg: fmt.Sprint(r)}
		}
	}()

	g := &generator{scope: scopeResult, strings: strings, filename: file.Filename}
	info := scopeResult.FuncInfo[file]
	top := luaasm.NewAssembly(strings.Insert("main chunk", true), file.Filename, 1)
	top.Argcount = 0
	top.Flags = luaasm.FlagOptimized | luaasm.FlagNewlocals | luaasm.FlagVarargs

	fg := &funcGen{gen: g, asm: top, info: info}
	fg.assignSlots()
	if err := fg.stmts(file.Body); err != nil {
		return nil, err
	}
	fg.finishBody(1)
	return top, nil
}

// generator holds state shared across every function in one
// compilation.
type generator struct {
	scope    *luascope.Result
	strings  *luaasm.StringTable
	filename string
}

// funcGen generates one function's Assembly.
type funcGen struct {
	gen        *generator
	asm        *luaasm.Assembly
	info       *luascope.FuncInfo
	breakStack []*luaasm.Label
	// labels maps a label name to its assembler target. Labels are
	// function-scoped here rather than block-scoped: the label pass
	// (internal/lualabel) already rejects duplicate names within one
	// block, and two same-named labels in disjoint sibling blocks of
	// the same function are rare enough in practice that this
	// simplification is not worth the extra bookkeeping.
	labels map[string]*luaasm.Label
}

func (fg *funcGen) assignSlots() {
	slots := luasymbol.CalculateSlots(fg.info.Symbols())
	fg.asm.Names = slots.Names
	fg.asm.Varnames = slots.Varnames
	fg.asm.Cellvars = slots.Cellvars
	fg.asm.Freevars = slots.Freevars
	fg.asm.Argcount = fg.info.Argcount
	if len(fg.asm.Freevars) == 0 && len(fg.asm.Cellvars) == 0 {
		fg.asm.Flags |= luaasm.FlagNofree
	}
	if len(fg.asm.Freevars) > 0 {
		fg.asm.Flags |= luaasm.FlagNested
	}
}

func (fg *funcGen) internal(format string, args ...any) {
	panic(&luaerr.InternalError{Msg: fmt.Sprintf(format, args...)})
}

// finishBody appends the implicit `return` every function body needs
// if control can fall off its end.
func (fg *funcGen) finishBody(line int) {
	fg.asm.Emit(luaasm.BUILD_TUPLE, 0, line)
	fg.asm.Emit(luaasm.RETURN_VALUE, 0, line)
	if fg.asm.StackSize() != 0 {
		fg.internal("stack depth %d at end of function, want 0", fg.asm.StackSize())
	}
}

func (fg *funcGen) stmts(body []luaast.Stmt) error {
	for _, s := range body {
		if err := fg.stmt(s); err != nil {
			return err
		}
		if fg.asm.StackSize() != 0 {
			fg.internal("stack depth %d after statement at %v, want 0", fg.asm.StackSize(), s.Pos())
		}
	}
	return nil
}

func (fg *funcGen) line(n luaast.Node) int { return n.Pos().Line }

func (fg *funcGen) stmt(stmt luaast.Stmt) error {
	switch n := stmt.(type) {
	case *luaast.Assign:
		return fg.assign(n)
	case *luaast.AssignLocal:
		return fg.assignLocal(n)
	case *luaast.CallStatement:
		if err := fg.evalMultiNative(n.Call); err != nil {
			return err
		}
		fg.asm.Emit(luaasm.POP_TOP, 0, fg.line(n))
		return nil
	case *luaast.Label:
		lbl := fg.labelFor(n)
		fg.asm.MarkLabel(lbl)
		return nil
	case *luaast.Goto:
		lbl := fg.gotoLabel(n.Target)
		fg.asm.EmitJump(luaasm.JUMP_ABSOLUTE, lbl, fg.line(n))
		return nil
	case *luaast.Block:
		return fg.stmts(n.Body)
	case *luaast.While:
		return fg.whileStmt(n)
	case *luaast.Repeat:
		return fg.repeatStmt(n)
	case *luaast.If:
		return fg.ifStmt(n)
	case *luaast.For:
		return fg.forStmt(n)
	case *luaast.ForEach:
		return fg.forEachStmt(n)
	case *luaast.Function:
		return fg.functionStmt(n)
	case *luaast.FunctionLocal:
		return fg.functionLocalStmt(n)
	case *luaast.Return:
		return fg.returnStmt(n)
	case *luaast.Break:
		if len(fg.breakStack) == 0 {
			fg.internal("break outside loop")
		}
		fg.asm.EmitJump(luaasm.JUMP_ABSOLUTE, fg.breakStack[len(fg.breakStack)-1], fg.line(n))
		return nil
	default:
		fg.internal("unhandled statement type %T", n)
		return nil
	}
}

// labelFor returns (creating if needed) the assembler label a source
// Label statement marks, adopting any placeholder a forward goto
// already allocated for the same name.
func (fg *funcGen) labelFor(n *luaast.Label) *luaasm.Label {
	if fg.labels == nil {
		fg.labels = make(map[string]*luaasm.Label)
	}
	if lbl, ok := fg.labels[n.Name]; ok {
		n.Address = lbl
		return lbl
	}
	lbl := fg.asm.NewLabel()
	fg.labels[n.Name] = lbl
	n.Address = lbl
	return lbl
}

// gotoLabel returns the assembler label a goto should jump to. Since
// the label pass (internal/lualabel) has already proven every goto
// resolves, a forward reference is satisfied by allocating a
// placeholder label now; the later Label statement with the same name
// reuses it via labelFor.
func (fg *funcGen) gotoLabel(name string) *luaasm.Label {
	if fg.labels == nil {
		fg.labels = make(map[string]*luaasm.Label)
	}
	if lbl, ok := fg.labels[name]; ok {
		return lbl
	}
	lbl := fg.asm.NewLabel()
	fg.labels[name] = lbl
	return lbl
}

func (fg *funcGen) ifStmt(n *luaast.If) error {
	line := fg.line(n)
	if err := fg.loadSingle(n.Test); err != nil {
		return err
	}
	fg.toBoolean(line)
	elseLbl := fg.asm.NewLabel()
	fg.asm.EmitJump(luaasm.POP_JUMP_IF_FALSE, elseLbl, line)
	if err := fg.stmts(n.Body.Body); err != nil {
		return err
	}
	endLbl := fg.asm.NewLabel()
	fg.asm.EmitJump(luaasm.JUMP_ABSOLUTE, endLbl, line)
	fg.asm.MarkLabel(elseLbl)
	if n.Orelse != nil {
		if err := fg.stmt(n.Orelse); err != nil {
			return err
		}
	}
	fg.asm.MarkLabel(endLbl)
	return nil
}

func (fg *funcGen) whileStmt(n *luaast.While) error {
	line := fg.line(n)
	top := fg.asm.NewLabel()
	end := fg.asm.NewLabel()
	fg.asm.MarkLabel(top)
	if err := fg.loadSingle(n.Test); err != nil {
		return err
	}
	fg.toBoolean(line)
	fg.asm.EmitJump(luaasm.POP_JUMP_IF_FALSE, end, line)
	fg.breakStack = append(fg.breakStack, end)
	err := fg.stmts(n.Body.Body)
	fg.breakStack = fg.breakStack[:len(fg.breakStack)-1]
	if err != nil {
		return err
	}
	fg.asm.EmitJump(luaasm.JUMP_ABSOLUTE, top, line)
	fg.asm.MarkLabel(end)
	return nil
}

func (fg *funcGen) repeatStmt(n *luaast.Repeat) error {
	line := fg.line(n)
	top := fg.asm.NewLabel()
	end := fg.asm.NewLabel()
	fg.asm.MarkLabel(top)
	fg.breakStack = append(fg.breakStack, end)
	err := fg.stmts(n.Body.Body)
	if err == nil {
		err = fg.loadSingle(n.Test)
	}
	fg.breakStack = fg.breakStack[:len(fg.breakStack)-1]
	if err != nil {
		return err
	}
	fg.toBoolean(line)
	fg.asm.EmitJump(luaasm.POP_JUMP_IF_FALSE, top, line)
	fg.asm.MarkLabel(end)
	return nil
}

// toBoolean lowers Lua's truthiness (nil and false are the only falsy
// values) to a host boolean: `is nil -> False; is false -> False; else
// True`, per §4.4 and §9. Implemented as two equality tests rather than
// one combined comparison, matching the source's two-step lowering.
//
// Uses POP_JUMP_IF_TRUE rather than JUMP_IF_TRUE_OR_POP: both paths
// into isFalseLbl must leave the stack at the same depth (one fewer
// than on entry, the tested value already discarded), and
// POP_JUMP_IF_TRUE's unconditional pop gives that directly without an
// extra rotation to discard the tested value out from under the
// comparison result.
func (fg *funcGen) toBoolean(line int) {
	isFalseLbl := fg.asm.NewLabel()
	doneLbl := fg.asm.NewLabel()

	fg.asm.Emit(luaasm.DUP_TOP, 0, line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstNil{}), line)
	fg.asm.Emit(luaasm.COMPARE_OP, cmpEQ, line)
	fg.asm.EmitJump(luaasm.POP_JUMP_IF_TRUE, isFalseLbl, line)

	fg.asm.Emit(luaasm.DUP_TOP, 0, line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstBool(false)), line)
	fg.asm.Emit(luaasm.COMPARE_OP, cmpEQ, line)
	fg.asm.EmitJump(luaasm.POP_JUMP_IF_TRUE, isFalseLbl, line)

	fg.asm.Emit(luaasm.POP_TOP, 0, line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstBool(true)), line)
	fg.asm.EmitJump(luaasm.JUMP_FORWARD, doneLbl, line)

	fg.asm.MarkLabel(isFalseLbl)
	fg.asm.Emit(luaasm.POP_TOP, 0, line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstBool(false)), line)
	fg.asm.MarkLabel(doneLbl)
}

func (fg *funcGen) constIdx(c luaasm.Const) int { return fg.asm.AddConst(c) }

func (fg *funcGen) returnStmt(n *luaast.Return) error {
	line := fg.line(n)
	if err := fg.evalExplist(n.Value, line); err != nil {
		return err
	}
	fg.asm.Emit(luaasm.RETURN_VALUE, 0, line)
	return nil
}

func (fg *funcGen) functionStmt(n *luaast.Function) error {
	if err := fg.closure(n, n.Args, n.Body, n.Varargs, functionLabel(n.Name)); err != nil {
		return err
	}
	return fg.storeInto(n.Name, fg.line(n))
}

func (fg *funcGen) functionLocalStmt(n *luaast.FunctionLocal) error {
	if err := fg.closure(n, n.Args, n.Body, n.Varargs, n.Name.Identifier); err != nil {
		return err
	}
	fg.storeName(n.Name, fg.line(n))
	return nil
}

func functionLabel(name luaast.Expr) string {
	switch n := name.(type) {
	case *luaast.Name:
		return n.Identifier
	case *luaast.Attribute:
		return n.Attr.Identifier
	case *luaast.Method:
		return n.Method.Identifier
	default:
		return "?"
	}
}

// closure lowers a function literal (Function/FunctionLocal/Lambda) to
// a MAKE_FUNCTION/MAKE_CLOSURE sequence, leaving the resulting closure
// value on the stack. node is the AST node [luascope.Resolve] recorded
// per-function state under.
func (fg *funcGen) closure(node luaast.Node, args []*luaast.Name, body *luaast.Block, varargs bool, label string) error {
	line := fg.line(node)
	info := fg.gen.scope.FuncInfo[node]
	if info == nil {
		fg.internal("no scope info recorded for function literal")
	}

	child := luaasm.NewAssembly(fg.gen.strings.Insert(label, true), fg.gen.filename, line)
	child.Flags = luaasm.FlagOptimized | luaasm.FlagNewlocals
	if varargs {
		child.Flags |= luaasm.FlagVarargs
	}
	childFg := &funcGen{gen: fg.gen, asm: child, info: info}
	childFg.assignSlots()
	if err := childFg.stmts(body.Body); err != nil {
		return err
	}
	childFg.finishBody(line)

	if len(child.Freevars) == 0 {
		fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstCode{Asm: child}), line)
		fg.asm.Emit(luaasm.MAKE_FUNCTION, 0, line)
		return nil
	}

	frees := freevarSymbols(info, child)
	for _, free := range frees {
		fg.asm.Emit(luaasm.LOAD_CLOSURE, free.Parent.Slot(), line)
	}
	fg.asm.Emit(luaasm.BUILD_TUPLE, len(frees), line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstCode{Asm: child}), line)
	fg.asm.Emit(luaasm.MAKE_CLOSURE, 0, line)
	return nil
}

// freevarSymbols recovers the *luasymbol.Free objects behind asm's
// Freevars table, indexed back to front by the slot CalculateSlots
// assigned (slot - len(Cellvars)), so LOAD_CLOSURE can read each one's
// Parent symbol in the enclosing function.
func freevarSymbols(info *luascope.FuncInfo, asm *luaasm.Assembly) []*luasymbol.Free {
	out := make([]*luasymbol.Free, len(asm.Freevars))
	base := len(asm.Cellvars)
	for _, sym := range info.Symbols() {
		if f, ok := sym.(*luasymbol.Free); ok {
			out[f.Slot()-base] = f
		}
	}
	return out
}

// forStmt lowers a numeric for loop per §4.4: validate_forloop coerces
// and binds the (var, limit, step) loop temporaries, the loop head
// tests for overshoot in whichever direction step's sign (checked at
// runtime, since step need not be a constant) implies, and the body
// runs with the user-visible loop variable copied from var.
func (fg *funcGen) forStmt(n *luaast.For) error {
	line := fg.line(n)
	fg.loadSymbol(n.ValidateForloop, line)
	if err := fg.loadSingle(n.Start); err != nil {
		return err
	}
	if err := fg.loadSingle(n.Stop); err != nil {
		return err
	}
	if err := fg.loadSingle(n.Step); err != nil {
		return err
	}
	fg.asm.Emit(luaasm.CALL_FUNCTION, 3, line)
	fg.asm.Emit(luaasm.UNPACK_SEQUENCE, 3, line)
	fg.storeLocal(n.Loop.Var, line)
	fg.storeLocal(n.Loop.Limit, line)
	fg.storeLocal(n.Loop.Step, line)

	top := fg.asm.NewLabel()
	end := fg.asm.NewLabel()
	fg.asm.MarkLabel(top)
	fg.forOvershootCheck(n.Loop, line)
	fg.asm.EmitJump(luaasm.POP_JUMP_IF_TRUE, end, line)

	fg.loadLocal(n.Loop.Var, line)
	fg.storeName(n.Target, line)

	fg.breakStack = append(fg.breakStack, end)
	err := fg.stmts(n.Body.Body)
	fg.breakStack = fg.breakStack[:len(fg.breakStack)-1]
	if err != nil {
		return err
	}

	fg.loadSymbol(n.Increment, line)
	fg.loadLocal(n.Loop.Var, line)
	fg.loadLocal(n.Loop.Step, line)
	fg.asm.Emit(luaasm.CALL_FUNCTION, 2, line)
	fg.truncateToOne(line)
	fg.storeLocal(n.Loop.Var, line)
	fg.asm.EmitJump(luaasm.JUMP_ABSOLUTE, top, line)
	fg.asm.MarkLabel(end)
	return nil
}

// forOvershootCheck leaves a boolean on the stack reporting whether
// the loop should stop: step > 0 ? var > limit : var < limit. A step
// of exactly zero is rejected by validate_forloop at runtime before
// the loop body ever runs, so only the two directions need checking
// here.
func (fg *funcGen) forOvershootCheck(loop luaast.LoopVars, line int) {
	negLbl := fg.asm.NewLabel()
	doneLbl := fg.asm.NewLabel()

	fg.loadLocal(loop.Step, line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstInt32(0)), line)
	fg.asm.Emit(luaasm.COMPARE_OP, cmpGT, line)
	fg.asm.EmitJump(luaasm.POP_JUMP_IF_FALSE, negLbl, line)

	fg.loadLocal(loop.Var, line)
	fg.loadLocal(loop.Limit, line)
	fg.asm.Emit(luaasm.COMPARE_OP, cmpGT, line)
	fg.asm.EmitJump(luaasm.JUMP_FORWARD, doneLbl, line)

	// negLbl is reached only from POP_JUMP_IF_FALSE, before the
	// var > limit result above was pushed.
	fg.asm.CorrectStackSize(-1)
	fg.asm.MarkLabel(negLbl)
	fg.loadLocal(loop.Var, line)
	fg.loadLocal(loop.Limit, line)
	fg.asm.Emit(luaasm.COMPARE_OP, cmpLT, line)

	fg.asm.MarkLabel(doneLbl)
}

// forEachStmt lowers a generic for loop per §4.4: the control triple
// (iterator function, state, initial control value) is bound once
// from the loop's explist, then each iteration calls f(s, var) and
// stops once that call's first result is nil, otherwise rebinding the
// control variable to that first result before running the body.
// Reuses LoopVars' three temporaries in the generic for's own roles
// rather than the numeric for's (var, limit, step) roles.
func (fg *funcGen) forEachStmt(n *luaast.ForEach) error {
	line := fg.line(n)
	if err := fg.evalExplist(n.Iter, line); err != nil {
		return err
	}
	fg.prepareAssign(3, line)
	fg.asm.Emit(luaasm.UNPACK_SEQUENCE, 3, line)
	fg.storeLocal(n.Loop.Var, line)   // f
	fg.storeLocal(n.Loop.Limit, line) // s
	fg.storeLocal(n.Loop.Step, line)  // control variable

	top := fg.asm.NewLabel()
	stop := fg.asm.NewLabel()
	end := fg.asm.NewLabel()
	fg.asm.MarkLabel(top)

	fg.loadLocal(n.Loop.Var, line)
	fg.loadLocal(n.Loop.Limit, line)
	fg.loadLocal(n.Loop.Step, line)
	fg.asm.Emit(luaasm.CALL_FUNCTION, 2, line)

	// Peek the call's first result without disturbing the tuple: a nil
	// first result stops the loop, discarding the tuple on the way out.
	fg.asm.Emit(luaasm.DUP_TOP, 0, line)
	fg.truncateToOne(line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstNil{}), line)
	fg.asm.Emit(luaasm.COMPARE_OP, cmpEQ, line)
	fg.asm.EmitJump(luaasm.POP_JUMP_IF_TRUE, stop, line)

	fg.prepareAssign(len(n.Target), line)
	fg.asm.Emit(luaasm.UNPACK_SEQUENCE, len(n.Target), line)
	fg.asm.Emit(luaasm.DUP_TOP, 0, line)
	fg.storeLocal(n.Loop.Step, line)
	for _, target := range n.Target {
		fg.storeName(target, line)
	}

	fg.breakStack = append(fg.breakStack, end)
	err := fg.stmts(n.Body.Body)
	fg.breakStack = fg.breakStack[:len(fg.breakStack)-1]
	if err != nil {
		return err
	}
	fg.asm.EmitJump(luaasm.JUMP_ABSOLUTE, top, line)

	// stop is reached only from POP_JUMP_IF_TRUE, with the call's
	// result tuple still on the stack.
	fg.asm.CorrectStackSize(1)
	fg.asm.MarkLabel(stop)
	fg.asm.Emit(luaasm.POP_TOP, 0, line)
	fg.asm.MarkLabel(end)
	return nil
}
