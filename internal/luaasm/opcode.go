// Package luaasm is the assembler: it models one function's
// instruction stream as an ordered sequence of opcode/label entries,
// tracks stack depth as instructions are appended, and serializes a
// tree of assembled functions into the host VM's code-object marshal
// format.
//
// Grounded in orz/asm.py and orz/lua/asm.py (bruce2008github/orz) for
// the opcode/stack-effect/label model, and in 256lights-zb's
// internal/luacode/prototype.go for the Go shape of a "serialize a tree
// of nested function prototypes to a byte buffer" writer — though the
// byte layout here follows this specification's own marshal tag scheme
// (§6), not Lua's native bytecode format.
package luaasm

// Opcode identifies one stack-VM instruction.
type Opcode byte

const (
	POP_TOP Opcode = iota
	ROT_TWO
	ROT_THREE
	ROT_FOUR
	DUP_TOP
	BINARY_ADD
	BINARY_SUBSCR
	// STORE_SUBSCR assigns container[key] = value. Unlike BINARY_SUBSCR's
	// load order (container pushed, then key), the three operands are
	// expected in push order value, container, key, so TOS is the key
	// and TOS2 is the value: this lets codegen compute the value first
	// (often already sitting on the stack from multi-assignment
	// unpacking) and the container/key expressions afterward.
	STORE_SUBSCR
	STORE_MAP
	SLICE2
	RETURN_VALUE
	COMPARE_OP
	// LOAD_VARARGS pushes the enclosing vararg function's "..." tuple.
	// Valid only where the scope pass has already confirmed the
	// enclosing function is variadic.
	LOAD_VARARGS
	// GET_ITER replaces a tuple on TOS with an iterator over it.
	GET_ITER

	LOAD_CONST
	LOAD_FAST
	STORE_FAST
	LOAD_DEREF
	STORE_DEREF
	LOAD_GLOBAL
	STORE_GLOBAL
	LOAD_CLOSURE
	// LOAD_NAME pushes names[arg] as a plain string value: unlike
	// LOAD_GLOBAL it performs no lookup. Used for the literal key in an
	// _ENV subscript and for the field/method name in Attribute/Method
	// access, since both read from the same shared names table a
	// Global's slot indexes.
	LOAD_NAME
	BUILD_TUPLE
	BUILD_MAP
	CALL_FUNCTION
	CALL_FUNCTION_VAR
	MAKE_FUNCTION
	MAKE_CLOSURE
	// UNPACK_SEQUENCE pops a tuple of exactly arg elements and pushes
	// them in reverse order, so the first element ends up as TOS: a
	// left-to-right sequence of stores against the unpacked values then
	// assigns targets in their natural left-to-right order.
	UNPACK_SEQUENCE

	JUMP_FORWARD
	JUMP_ABSOLUTE
	// JUMP_IF_TRUE_OR_POP jumps, keeping the tested value on the stack,
	// if it is truthy; otherwise it pops the value and falls through.
	JUMP_IF_TRUE_OR_POP
	POP_JUMP_IF_TRUE
	POP_JUMP_IF_FALSE
	// FOR_ITER advances the iterator at TOS, pushing its next element
	// and continuing to the next instruction, or jumping to its target
	// with the exhausted iterator already popped. Its modeled stack
	// effect (net +1) reflects only the continuing branch; the jump
	// branch instead pops the iterator (net -1), so the exit label's
	// real depth is one below the loop head's, and codegen corrects the
	// tracked depth by -1 immediately before the exit label.
	FOR_ITER
)

// hasArg reports whether op carries a 2-byte little-endian argument;
// argument-less opcodes occupy a single byte.
func (op Opcode) hasArg() bool {
	return op >= LOAD_CONST
}

// hasJrel reports whether op's argument is a relative jump target,
// encoded as target.address - instruction.address - 3.
func (op Opcode) hasJrel() bool {
	switch op {
	case JUMP_FORWARD, FOR_ITER:
		return true
	default:
		return false
	}
}

// hasJabs reports whether op's argument is an absolute jump target.
func (op Opcode) hasJabs() bool {
	switch op {
	case JUMP_ABSOLUTE, JUMP_IF_TRUE_OR_POP,
		POP_JUMP_IF_TRUE, POP_JUMP_IF_FALSE:
		return true
	default:
		return false
	}
}

// isVariadicEffect reports whether op's stack effect depends on its
// argument rather than being a fixed per-opcode delta.
func isVariadicEffect(op Opcode) bool {
	switch op {
	case BUILD_TUPLE, BUILD_MAP, CALL_FUNCTION, CALL_FUNCTION_VAR,
		MAKE_FUNCTION, MAKE_CLOSURE, UNPACK_SEQUENCE:
		return true
	default:
		return false
	}
}

// fixedEffect gives the stack-depth delta (pushed minus popped) for
// every opcode whose effect does not depend on its argument.
//
// JUMP_IF_TRUE_OR_POP is modeled by its fallthrough path, net -1 (the
// tested value popped): codegen only ever emits it where that path
// then pushes exactly one replacement value before the jump target, so
// the taken path (which keeps the tested value) and the fallthrough
// path reach the target at the same depth.
var fixedEffect = map[Opcode]int{
	POP_TOP:              -1,
	ROT_TWO:              0,
	ROT_THREE:            0,
	ROT_FOUR:             0,
	DUP_TOP:              1,
	BINARY_ADD:           -1,
	BINARY_SUBSCR:        -1,
	STORE_SUBSCR:         -3,
	STORE_MAP:            -2,
	SLICE2:               -1,
	RETURN_VALUE:         -1,
	COMPARE_OP:           -1,
	LOAD_VARARGS:         1,
	GET_ITER:             0,
	// FOR_ITER is modeled as net +1 unconditionally, the continuing-
	// iteration case: the exhausted-iterator jump instead pops the
	// iterator (net -1), which codegen corrects for with
	// Assembly.CorrectStackSize(-1) at the loop's exit label.
	FOR_ITER:             1,
	LOAD_CONST:           1,
	LOAD_FAST:            1,
	STORE_FAST:           -1,
	LOAD_DEREF:           1,
	STORE_DEREF:          -1,
	LOAD_GLOBAL:          1,
	STORE_GLOBAL:         -1,
	LOAD_CLOSURE:         1,
	LOAD_NAME:            1,
	JUMP_FORWARD:         0,
	JUMP_ABSOLUTE:        0,
	JUMP_IF_TRUE_OR_POP:  -1,
	POP_JUMP_IF_TRUE:     -1,
	POP_JUMP_IF_FALSE:    -1,
}

// stackEffect returns the net stack-depth delta of emitting op with the
// given argument (ignored for fixed-effect opcodes).
//
// CALL_FUNCTION/CALL_FUNCTION_VAR argument layout: low 8 bits positional
// count, bits 16-23 keyword count; consumes 1 (callable) + pos + 2*kw,
// plus one more for the *args tuple in the _VAR form, and pushes 1.
func stackEffect(op Opcode, arg int) int {
	if e, ok := fixedEffect[op]; ok {
		return e
	}
	switch op {
	case BUILD_TUPLE:
		return 1 - arg
	case BUILD_MAP:
		return 1
	case CALL_FUNCTION:
		pos, kw := arg&0xff, (arg>>16)&0xff
		return 1 - (1 + pos + 2*kw)
	case CALL_FUNCTION_VAR:
		pos, kw := arg&0xff, (arg>>16)&0xff
		return 1 - (1 + 1 + pos + 2*kw)
	case MAKE_FUNCTION:
		return 1 - (arg + 1)
	case MAKE_CLOSURE:
		return 1 - (arg + 2)
	case UNPACK_SEQUENCE:
		return arg - 1
	default:
		panic("luaasm: unhandled opcode in stackEffect")
	}
}
