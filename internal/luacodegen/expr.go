package luacodegen

import (
	"strconv"

	"lua2svm.dev/compiler/internal/luaast"
	"lua2svm.dev/compiler/internal/luaasm"
	"lua2svm.dev/compiler/internal/luasymbol"
)

// loadSingle evaluates e in a context that truncates to exactly one
// value, per Lua's usual expression semantics (operands of operators,
// conditions, subscript keys, and so on).
func (fg *funcGen) loadSingle(e luaast.Expr) error {
	line := fg.line(e)
	if luaast.IsMultiValue(e) {
		if err := fg.evalMultiNative(e); err != nil {
			return err
		}
		fg.truncateToOne(line)
		return nil
	}
	return fg.evalSingle(e)
}

// truncateToOne replaces a possibly-empty tuple on TOS with its first
// element, substituting nil for an empty tuple first so the subscript
// never runs out of bounds.
func (fg *funcGen) truncateToOne(line int) {
	haveLbl := fg.asm.NewLabel()
	fg.asm.EmitJump(luaasm.JUMP_IF_TRUE_OR_POP, haveLbl, line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstNil{}), line)
	fg.asm.Emit(luaasm.BUILD_TUPLE, 1, line)
	fg.asm.MarkLabel(haveLbl)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstInt32(0)), line)
	fg.asm.Emit(luaasm.BINARY_SUBSCR, 0, line)
}

// evalToTuple evaluates e for use as one element (possibly several, if
// e is multi-valued) of an explist, leaving a tuple on the stack: a
// multi-valued e contributes its native tuple directly; anything else
// is wrapped with BUILD_TUPLE 1.
func (fg *funcGen) evalToTuple(e luaast.Expr) error {
	if luaast.IsMultiValue(e) {
		return fg.evalMultiNative(e)
	}
	if err := fg.evalSingle(e); err != nil {
		return err
	}
	fg.asm.Emit(luaasm.BUILD_TUPLE, 1, fg.line(e))
	return nil
}

// evalExplist concatenates a Lua expression list into one tuple, per
// §4.4: only the last expression keeps its multi-valued nature.
func (fg *funcGen) evalExplist(exprs []luaast.Expr, line int) error {
	switch len(exprs) {
	case 0:
		fg.asm.Emit(luaasm.BUILD_TUPLE, 0, line)
		return nil
	case 1:
		return fg.evalToTuple(exprs[0])
	}
	for _, e := range exprs[:len(exprs)-1] {
		if err := fg.evalSingle(e); err != nil {
			return err
		}
	}
	fg.asm.Emit(luaasm.BUILD_TUPLE, len(exprs)-1, line)
	if err := fg.evalToTuple(exprs[len(exprs)-1]); err != nil {
		return err
	}
	fg.asm.Emit(luaasm.BINARY_ADD, 0, line)
	return nil
}

// evalMultiNative evaluates e, which must satisfy luaast.IsMultiValue,
// leaving its native result tuple on the stack unmodified.
func (fg *funcGen) evalMultiNative(e luaast.Expr) error {
	switch n := e.(type) {
	case *luaast.Call:
		return fg.call(n)
	case *luaast.Ellipsis:
		if !fg.info.Varargs {
			fg.internal("'...' outside a vararg function reached codegen")
		}
		fg.asm.Emit(luaasm.LOAD_VARARGS, 0, fg.line(n))
		return nil
	default:
		fg.internal("evalMultiNative on non-multi-valued %T", e)
		return nil
	}
}

// prepareAssign adjusts a tuple already on the stack (the result of
// evalExplist) to have exactly need elements, padding with nil or
// truncating as required. The padding/truncation is performed
// unconditionally rather than only when statically necessary (as the
// source optimizes): concatenating need nils and slicing back down to
// need elements is correct whether the tuple already had fewer, more,
// or exactly that many, trading a little redundant bytecode for one
// code path instead of three.
func (fg *funcGen) prepareAssign(need int, line int) {
	if need == 0 {
		fg.asm.Emit(luaasm.POP_TOP, 0, line)
		fg.asm.Emit(luaasm.BUILD_TUPLE, 0, line)
		return
	}
	for i := 0; i < need; i++ {
		fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstNil{}), line)
	}
	fg.asm.Emit(luaasm.BUILD_TUPLE, need, line)
	fg.asm.Emit(luaasm.BINARY_ADD, 0, line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstInt32(int32(need))), line)
	fg.asm.Emit(luaasm.SLICE2, 0, line)
}

func (fg *funcGen) assignLocal(n *luaast.AssignLocal) error {
	line := fg.line(n)
	if err := fg.evalExplist(n.Value, line); err != nil {
		return err
	}
	fg.prepareAssign(len(n.Target), line)
	fg.asm.Emit(luaasm.UNPACK_SEQUENCE, len(n.Target), line)
	for _, target := range n.Target {
		fg.storeName(target, line)
	}
	return nil
}

func (fg *funcGen) assign(n *luaast.Assign) error {
	line := fg.line(n)
	if err := fg.evalExplist(n.Value, line); err != nil {
		return err
	}
	fg.prepareAssign(len(n.Target), line)
	fg.asm.Emit(luaasm.UNPACK_SEQUENCE, len(n.Target), line)
	for _, target := range n.Target {
		if err := fg.storeInto(target, line); err != nil {
			return err
		}
	}
	return nil
}

// storeInto stores the value on TOS into an assignment target: a
// Name (binding or _ENV-rewritten global), a Subscript, an Attribute,
// or a Method (the name of a `function t:m() ... end` declaration).
func (fg *funcGen) storeInto(target luaast.Expr, line int) error {
	switch t := target.(type) {
	case *luaast.Name:
		fg.storeName(t, line)
	case *luaast.Subscript:
		if err := fg.loadSingle(t.Value); err != nil {
			return err
		}
		if err := fg.loadSingle(t.Slice); err != nil {
			return err
		}
		fg.asm.Emit(luaasm.STORE_SUBSCR, 0, line)
	case *luaast.Attribute:
		if err := fg.loadSingle(t.Value); err != nil {
			return err
		}
		fg.asm.Emit(luaasm.LOAD_NAME, t.Attr.Symbol.Slot(), fg.line(t.Attr))
		fg.asm.Emit(luaasm.STORE_SUBSCR, 0, line)
	case *luaast.Method:
		if err := fg.loadSingle(t.Value); err != nil {
			return err
		}
		fg.asm.Emit(luaasm.LOAD_NAME, t.Method.Symbol.Slot(), fg.line(t.Method))
		fg.asm.Emit(luaasm.STORE_SUBSCR, 0, line)
	default:
		fg.internal("unhandled assignment target %T", t)
	}
	return nil
}

// storeName stores the value on TOS into the binding n.Symbol
// resolves to.
func (fg *funcGen) storeName(n *luaast.Name, line int) {
	if n.Env {
		fg.loadSymbol(n.Symbol, line)
		fg.asm.Emit(luaasm.LOAD_NAME, n.EnvKey.Slot(), line)
		fg.asm.Emit(luaasm.STORE_SUBSCR, 0, line)
		return
	}
	switch sym := n.Symbol.(type) {
	case *luasymbol.Local:
		if sym.IsReferenced {
			fg.asm.Emit(luaasm.STORE_DEREF, sym.Slot(), line)
		} else {
			fg.asm.Emit(luaasm.STORE_FAST, sym.Slot(), line)
		}
	case *luasymbol.Free:
		fg.asm.Emit(luaasm.STORE_DEREF, sym.Slot(), line)
	case *luasymbol.Global:
		fg.asm.Emit(luaasm.STORE_GLOBAL, sym.Slot(), line)
	default:
		fg.internal("unhandled store target symbol %T", sym)
	}
}

// loadSymbol pushes the value a resolved symbol refers to: used both
// for plain Name loads and to load the _ENV symbol a rewritten global
// access goes through.
func (fg *funcGen) loadSymbol(sym luasymbol.Symbol, line int) {
	switch s := sym.(type) {
	case *luasymbol.Local:
		if s.IsReferenced {
			fg.asm.Emit(luaasm.LOAD_DEREF, s.Slot(), line)
		} else {
			fg.asm.Emit(luaasm.LOAD_FAST, s.Slot(), line)
		}
	case *luasymbol.Free:
		fg.asm.Emit(luaasm.LOAD_DEREF, s.Slot(), line)
	case *luasymbol.Global:
		fg.asm.Emit(luaasm.LOAD_GLOBAL, s.Slot(), line)
	default:
		fg.internal("unhandled load symbol %T", s)
	}
}

// loadLocal and storeLocal access a bare *luasymbol.Local directly,
// for the synthetic numeric for-loop temporaries that have no
// enclosing *luaast.Name to dispatch through loadSymbol/storeName.
func (fg *funcGen) loadLocal(sym *luasymbol.Local, line int) {
	if sym.IsReferenced {
		fg.asm.Emit(luaasm.LOAD_DEREF, sym.Slot(), line)
	} else {
		fg.asm.Emit(luaasm.LOAD_FAST, sym.Slot(), line)
	}
}

func (fg *funcGen) storeLocal(sym *luasymbol.Local, line int) {
	if sym.IsReferenced {
		fg.asm.Emit(luaasm.STORE_DEREF, sym.Slot(), line)
	} else {
		fg.asm.Emit(luaasm.STORE_FAST, sym.Slot(), line)
	}
}

// evalSingle lowers an expression known to yield exactly one value.
func (fg *funcGen) evalSingle(e luaast.Expr) error {
	line := fg.line(e)
	switch n := e.(type) {
	case *luaast.Name:
		if n.Env {
			fg.loadSymbol(n.Symbol, line)
			fg.asm.Emit(luaasm.LOAD_NAME, n.EnvKey.Slot(), line)
			fg.asm.Emit(luaasm.BINARY_SUBSCR, 0, line)
			return nil
		}
		fg.loadSymbol(n.Symbol, line)
		return nil
	case *luaast.Subscript:
		if err := fg.loadSingle(n.Value); err != nil {
			return err
		}
		if err := fg.loadSingle(n.Slice); err != nil {
			return err
		}
		fg.asm.Emit(luaasm.BINARY_SUBSCR, 0, line)
		return nil
	case *luaast.Attribute:
		if err := fg.loadSingle(n.Value); err != nil {
			return err
		}
		fg.asm.Emit(luaasm.LOAD_NAME, n.Attr.Symbol.Slot(), fg.line(n.Attr))
		fg.asm.Emit(luaasm.BINARY_SUBSCR, 0, line)
		return nil
	case *luaast.Nil:
		fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstNil{}), line)
		return nil
	case *luaast.False:
		fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstBool(false)), line)
		return nil
	case *luaast.True:
		fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstBool(true)), line)
		return nil
	case *luaast.Number:
		return fg.loadNumber(n)
	case *luaast.String:
		entry := fg.gen.strings.Insert(n.Value, false)
		fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstString{Entry: entry}), line)
		return nil
	case *luaast.Table:
		return fg.tableCtor(n)
	case *luaast.Lambda:
		return fg.closure(n, n.Args, n.Body, n.Varargs, "anonymous function")
	case *luaast.BinOp:
		return fg.binOp(n)
	case *luaast.UnaryOp:
		return fg.unaryOp(n)
	case *luaast.Call:
		if err := fg.call(n); err != nil {
			return err
		}
		fg.truncateToOne(line)
		return nil
	case *luaast.Ellipsis:
		fg.asm.Emit(luaasm.LOAD_VARARGS, 0, line)
		fg.truncateToOne(line)
		return nil
	default:
		fg.internal("unhandled expression type %T", n)
		return nil
	}
}

func (fg *funcGen) loadNumber(n *luaast.Number) error {
	line := fg.line(n)
	if i, err := strconv.ParseInt(n.Value, 0, 64); err == nil {
		if int64(int32(i)) == i {
			fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstInt32(int32(i))), line)
		} else {
			fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstInt64(i)), line)
		}
		return nil
	}
	f, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		fg.internal("malformed numeral %q reached codegen", n.Value)
	}
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstFloat(f)), line)
	return nil
}

// binOp lowers a binary operator application: every operator, including
// and/or, dispatches through its runtime function (internal/luaruntime)
// with both operands always evaluated. Neither operand is ever skipped,
// so and/or here do not short-circuit the way they do in the reference
// Lua VM.
func (fg *funcGen) binOp(n *luaast.BinOp) error {
	line := fg.line(n)
	fg.loadSymbol(n.OpSymbol, line)
	if err := fg.loadSingle(n.Left); err != nil {
		return err
	}
	if err := fg.loadSingle(n.Right); err != nil {
		return err
	}
	fg.asm.Emit(luaasm.CALL_FUNCTION, 2, line)
	fg.truncateToOne(line)
	return nil
}

func (fg *funcGen) unaryOp(n *luaast.UnaryOp) error {
	line := fg.line(n)
	fg.loadSymbol(n.OpSymbol, line)
	if err := fg.loadSingle(n.Operand); err != nil {
		return err
	}
	fg.asm.Emit(luaasm.CALL_FUNCTION, 1, line)
	fg.truncateToOne(line)
	return nil
}

// call lowers a function or method call, leaving its native result
// tuple on the stack (per the runtime convention that every call
// returns a tuple). A trailing multi-valued argument is splatted onto
// the call via CALL_FUNCTION_VAR instead of truncated to one value.
func (fg *funcGen) call(n *luaast.Call) error {
	line := fg.line(n)
	var receiverPushed bool
	switch fn := n.Func.(type) {
	case *luaast.Method:
		if err := fg.loadSingle(fn.Value); err != nil {
			return err
		}
		fg.asm.Emit(luaasm.DUP_TOP, 0, line)
		fg.asm.Emit(luaasm.LOAD_NAME, fn.Method.Symbol.Slot(), fg.line(fn.Method))
		fg.asm.Emit(luaasm.BINARY_SUBSCR, 0, line)
		fg.asm.Emit(luaasm.ROT_TWO, 0, line)
		receiverPushed = true
	default:
		if err := fg.loadSingle(n.Func); err != nil {
			return err
		}
	}

	pos := 0
	if receiverPushed {
		pos++
	}
	if len(n.Args) == 0 {
		if receiverPushed {
			fg.asm.Emit(luaasm.CALL_FUNCTION, pos, line)
			return nil
		}
		fg.asm.Emit(luaasm.CALL_FUNCTION, 0, line)
		return nil
	}

	for _, a := range n.Args[:len(n.Args)-1] {
		if err := fg.loadSingle(a); err != nil {
			return err
		}
		pos++
	}
	last := n.Args[len(n.Args)-1]
	if luaast.IsMultiValue(last) {
		if err := fg.evalMultiNative(last); err != nil {
			return err
		}
		fg.asm.Emit(luaasm.CALL_FUNCTION_VAR, pos, line)
		return nil
	}
	if err := fg.loadSingle(last); err != nil {
		return err
	}
	pos++
	fg.asm.Emit(luaasm.CALL_FUNCTION, pos, line)
	return nil
}

// tableCtor lowers a table constructor: BUILD_MAP starts an empty map,
// each field is stored into it with STORE_MAP (keyed fields keep their
// own key; positional fields get the next integer key), and LuaTable is
// called once at the end with the finished map and the next integer key
// it would assign — the two-argument convention this package's runtime
// names.
//
// STORE_MAP expects push order table, key, value (value on TOS) and
// leaves the table untouched underneath, so no field needs to re-fetch
// it between STORE_MAP calls.
//
// A trailing multi-valued positional field (a bare call or `...` as the
// last constructor element) is expanded by a runtime loop instead of
// truncated to one value: GET_ITER turns its tuple into an iterator,
// and each FOR_ITER pass stores one more element under the running
// integer key, incremented with BINARY_ADD. The rotations around
// STORE_MAP keep the map, key, and iterator in the right relative
// position across an iteration whose length isn't known until runtime.
func (fg *funcGen) tableCtor(n *luaast.Table) error {
	line := fg.line(n)
	fg.loadSymbol(n.LuaTable, line)

	fields := n.Fields
	var trailing luaast.Expr
	if len(fields) > 0 {
		last := fields[len(fields)-1]
		if _, isField := last.(*luaast.Field); !isField && luaast.IsMultiValue(last) {
			trailing = last
			fields = fields[:len(fields)-1]
		}
	}

	fg.asm.Emit(luaasm.BUILD_MAP, len(fields), line)

	index := int32(1)
	for _, f := range fields {
		switch field := f.(type) {
		case *luaast.Field:
			if err := fg.loadSingle(field.Key); err != nil {
				return err
			}
			if err := fg.loadSingle(field.Value); err != nil {
				return err
			}
		default:
			fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstInt32(index)), line)
			if err := fg.loadSingle(field); err != nil {
				return err
			}
			index++
		}
		fg.asm.Emit(luaasm.STORE_MAP, 0, fg.line(f))
	}

	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstInt32(index)), line)
	if trailing == nil {
		fg.asm.Emit(luaasm.CALL_FUNCTION, 2, line)
		return nil
	}

	if err := fg.evalMultiNative(trailing); err != nil {
		return err
	}
	fg.asm.Emit(luaasm.GET_ITER, 0, line)

	top := fg.asm.NewLabel()
	exit := fg.asm.NewLabel()
	fg.asm.MarkLabel(top)
	fg.asm.EmitJump(luaasm.FOR_ITER, exit, line)
	fg.asm.Emit(luaasm.ROT_THREE, 0, line)
	fg.asm.Emit(luaasm.ROT_FOUR, 0, line)
	fg.asm.Emit(luaasm.DUP_TOP, 0, line)
	fg.asm.Emit(luaasm.ROT_FOUR, 0, line)
	fg.asm.Emit(luaasm.ROT_TWO, 0, line)
	fg.asm.Emit(luaasm.STORE_MAP, 0, line)
	fg.asm.Emit(luaasm.ROT_THREE, 0, line)
	fg.asm.Emit(luaasm.LOAD_CONST, fg.constIdx(luaasm.ConstInt32(1)), line)
	fg.asm.Emit(luaasm.BINARY_ADD, 0, line)
	fg.asm.Emit(luaasm.ROT_TWO, 0, line)
	fg.asm.EmitJump(luaasm.JUMP_ABSOLUTE, top, line)
	fg.asm.CorrectStackSize(-1)
	fg.asm.MarkLabel(exit)
	fg.asm.Emit(luaasm.CALL_FUNCTION, 2, line)
	return nil
}
