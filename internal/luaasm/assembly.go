package luaasm

import "fmt"

// Flag bits for a code object's flags word (§6 of the specification).
const (
	FlagOptimized uint32 = 0x1
	FlagNewlocals uint32 = 0x2
	FlagVarargs   uint32 = 0x4
	FlagNested    uint32 = 0x10
	FlagNofree    uint32 = 0x40
)

// Const is one constant-pool entry. The concrete types below are the
// only implementations; codegen never needs any other shape because
// the runtime contract's values are limited to these.
type Const interface{ isConst() }

type ConstNil struct{}
type ConstBool bool
type ConstInt32 int32
type ConstInt64 int64
type ConstFloat float64
type ConstString struct{ Entry *StringEntry }
type ConstCode struct{ Asm *Assembly }

func (ConstNil) isConst()      {}
func (ConstBool) isConst()     {}
func (ConstInt32) isConst()    {}
func (ConstInt64) isConst()    {}
func (ConstFloat) isConst()    {}
func (ConstString) isConst()   {}
func (ConstCode) isConst()     {}

// Label is a pseudo-instruction: an address anchor that jump arguments
// reference symbolically until serialization resolves real offsets.
type Label struct {
	address  int
	resolved bool
}

// Instruction is one real opcode, with its argument (if any) either a
// plain integer or a symbolic jump target.
type Instruction struct {
	Op      Opcode
	HasArg  bool
	Arg     int
	Target  *Label // set instead of Arg for hasJrel/hasJabs opcodes
	Line    int
	address int
}

// entry is implemented by *Instruction and *Label: the two kinds of
// element an Assembly's instruction stream holds.
type entry interface{ isEntry() }

func (*Instruction) isEntry() {}
func (*Label) isEntry()       {}

// Assembly is one function's assembled body: instructions, constant
// pool, interned-name tables, and line-number table, plus the running
// stack-depth counters codegen consults to enforce the balance
// invariants from §8.
type Assembly struct {
	Name     *StringEntry // interned string entry from the shared StringTable
	Filename string

	Names    []string
	Varnames []string
	Freevars []string
	Cellvars []string

	Argcount int
	Flags    uint32

	Instructions []entry
	Consts       []Const

	FirstLine int
	lnotab    []lnotabEntry
	lastLine  int

	addressCount int
	currentStack int
	maxStack     int
}

type lnotabEntry struct {
	address int
	line    int
}

// NewAssembly returns an empty assembly for one function body. name
// must be an entry already inserted (interned) into the compilation's
// shared StringTable.
func NewAssembly(name *StringEntry, filename string, firstLine int) *Assembly {
	return &Assembly{Name: name, Filename: filename, FirstLine: firstLine, lastLine: -1}
}

// NewLabel creates an unresolved jump target within a.
func (a *Assembly) NewLabel() *Label { return &Label{} }

// MarkLabel fixes l's address to the current end of the instruction
// stream.
func (a *Assembly) MarkLabel(l *Label) {
	l.address = a.addressCount
	l.resolved = true
	a.Instructions = append(a.Instructions, l)
}

// Emit appends a non-jump instruction at the given source line and
// updates the stack-depth counters.
func (a *Assembly) Emit(op Opcode, arg int, line int) *Instruction {
	inst := &Instruction{Op: op, HasArg: op.hasArg(), Arg: arg, Line: line, address: a.addressCount}
	a.append(inst, op, arg, line)
	return inst
}

// EmitJump appends a jump instruction targeting l, symbolically, at the
// given source line.
func (a *Assembly) EmitJump(op Opcode, target *Label, line int) *Instruction {
	if !op.hasJrel() && !op.hasJabs() {
		panic(fmt.Sprintf("luaasm: %v is not a jump opcode", op))
	}
	inst := &Instruction{Op: op, HasArg: true, Target: target, Line: line, address: a.addressCount}
	a.append(inst, op, 0, line)
	return inst
}

func (a *Assembly) append(inst *Instruction, op Opcode, arg int, line int) {
	a.Instructions = append(a.Instructions, inst)
	if op.hasArg() {
		a.addressCount += 3
	} else {
		a.addressCount += 1
	}

	var effect int
	if isVariadicEffect(op) {
		effect = stackEffect(op, arg)
	} else {
		effect = stackEffect(op, 0)
	}
	a.currentStack += effect
	if a.currentStack > a.maxStack {
		a.maxStack = a.currentStack
	}
	if a.currentStack < 0 {
		panic(fmt.Sprintf("luaasm: stack underflow emitting %v at line %d", op, line))
	}

	if a.lastLine != line {
		a.lnotab = append(a.lnotab, lnotabEntry{address: inst.address, line: line})
		a.lastLine = line
	}
}

// StackSize returns the current tracked stack depth; codegen asserts
// this is 0 after every statement.
func (a *Assembly) StackSize() int { return a.currentStack }

// CorrectStackSize adjusts the tracked stack depth by delta without
// emitting an instruction. The tracker follows the instruction stream
// linearly, so codegen calls this right before marking a label that is
// reached only by jumps arriving at a different depth than the code
// just before it leaves. FOR_ITER's modeled effect only accounts for
// its continuing-iteration path; codegen calls this with -1 right
// before marking a FOR_ITER loop's exit label, where the real depth
// left by the exhausted-iterator branch is one shallower than the
// counter otherwise shows. The numeric for's overshoot check and the
// generic for's stop label are corrected the same way.
func (a *Assembly) CorrectStackSize(delta int) {
	a.currentStack += delta
}

// MaxStackSize returns the high-water mark across the whole body.
func (a *Assembly) MaxStackSize() int { return a.maxStack }

// AddConst interns c into the constant pool, deduplicating identical
// entries: for ConstCode/ConstString this is an identity comparison
// (same nested Assembly, same StringEntry occurrence) since those are
// Go pointers under the hood; for the primitive variants it is a value
// comparison, which is exactly the decoded-value-equality dedup the
// specification calls for (two Number("1") literals at different
// source positions fold to one constant-pool slot).
func (a *Assembly) AddConst(c Const) int {
	for i, existing := range a.Consts {
		if existing == c {
			return i
		}
	}
	a.Consts = append(a.Consts, c)
	return len(a.Consts) - 1
}

// Lnotab returns the recorded (address, line) pairs in emission order.
func (a *Assembly) Lnotab() []struct{ Address, Line int } {
	out := make([]struct{ Address, Line int }, len(a.lnotab))
	for i, e := range a.lnotab {
		out[i] = struct{ Address, Line int }{e.address, e.line}
	}
	return out
}
