package luaasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Marshal type tags (§6).
const (
	tagNone       = 'N'
	tagFalse      = 'F'
	tagTrue       = 'T'
	tagInt32      = 'i'
	tagInt64      = 'I'
	tagFloat      = 'g'
	tagRawString  = 's'
	tagInternStr  = 't'
	tagStringRef  = 'R'
	tagTuple      = '('
	tagCode       = 'c'
)

// Marshal serializes root (and every nested Assembly in its constant
// pools) depth-first into the host VM's code-object binary format.
// strings must have had Close called on it already.
func Marshal(root *Assembly, strings *StringTable) []byte {
	var buf bytes.Buffer
	w := &writer{buf: &buf}
	w.writeCode(root)
	return buf.Bytes()
}

type writer struct{ buf *bytes.Buffer }

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) writeRawBytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *writer) writeStringEntry(e *StringEntry) {
	canon := e.Resolve()
	switch {
	case !canon.Interned:
		w.buf.WriteByte(tagRawString)
		w.writeRawBytes([]byte(e.Text))
	case e.IsFirstWrite():
		w.buf.WriteByte(tagInternStr)
		w.writeRawBytes([]byte(canon.Text))
	default:
		w.buf.WriteByte(tagStringRef)
		w.u32(uint32(canon.Index()))
	}
}

func (w *writer) writeNameTuple(names []string) {
	w.buf.WriteByte(tagTuple)
	w.u32(uint32(len(names)))
	for _, n := range names {
		w.buf.WriteByte(tagRawString)
		w.writeRawBytes([]byte(n))
	}
}

func (w *writer) writeConst(c Const) {
	switch v := c.(type) {
	case ConstNil:
		w.buf.WriteByte(tagNone)
	case ConstBool:
		if v {
			w.buf.WriteByte(tagTrue)
		} else {
			w.buf.WriteByte(tagFalse)
		}
	case ConstInt32:
		w.buf.WriteByte(tagInt32)
		w.u32(uint32(int32(v)))
	case ConstInt64:
		w.buf.WriteByte(tagInt64)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(int64(v)))
		w.buf.Write(b[:])
	case ConstFloat:
		w.buf.WriteByte(tagFloat)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(float64(v)))
		w.buf.Write(b[:])
	case ConstString:
		w.writeStringEntry(v.Entry)
	case ConstCode:
		w.writeCode(v.Asm)
	default:
		panic(fmt.Sprintf("luaasm: unhandled constant type %T", c))
	}
}

// writeCode serializes one Assembly as a `c`-tagged code object.
func (w *writer) writeCode(a *Assembly) {
	w.buf.WriteByte(tagCode)

	w.u32(uint32(a.Argcount))
	w.u32(uint32(len(a.Varnames) + len(a.Cellvars)))
	w.u32(uint32(a.maxStack))
	w.u32(a.Flags)

	w.writeRawBytes(resolveCode(a))

	w.buf.WriteByte(tagTuple)
	w.u32(uint32(len(a.Consts)))
	for _, c := range a.Consts {
		w.writeConst(c)
	}

	w.writeNameTuple(a.Names)
	w.writeNameTuple(a.Varnames)
	w.writeNameTuple(a.Freevars)
	w.writeNameTuple(a.Cellvars)

	w.buf.WriteByte(tagRawString)
	w.writeRawBytes([]byte(a.Filename))

	w.writeStringEntry(a.Name)

	w.u32(uint32(a.FirstLine))
	w.writeRawBytes(encodeLnotab(a.FirstLine, a.Lnotab()))
}

// resolveCode resolves every jump instruction's symbolic Target to a
// concrete 2-byte little-endian operand and returns the flattened
// instruction byte stream; Label pseudo-entries contribute no bytes.
func resolveCode(a *Assembly) []byte {
	var out bytes.Buffer
	for _, e := range a.Instructions {
		inst, ok := e.(*Instruction)
		if !ok {
			continue
		}
		out.WriteByte(byte(inst.Op))
		if !inst.HasArg {
			continue
		}
		arg := inst.Arg
		if inst.Target != nil {
			if !inst.Target.resolved {
				panic("luaasm: unresolved jump target")
			}
			switch {
			case inst.Op.hasJrel():
				arg = inst.Target.address - inst.address - 3
			case inst.Op.hasJabs():
				arg = inst.Target.address
			default:
				panic(fmt.Sprintf("luaasm: %v has a Target but is neither jrel nor jabs", inst.Op))
			}
		}
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(arg))
		out.Write(b[:])
	}
	return out.Bytes()
}

// encodeLnotab produces the (addr_delta, line_delta) byte encoding of
// pairs, splitting any delta exceeding 254 across multiple pairs.
func encodeLnotab(firstLine int, pairs []struct{ Address, Line int }) []byte {
	var out bytes.Buffer
	prevAddr, prevLine := 0, firstLine
	// The first recorded entry is always (0, firstLine): it is the
	// baseline firstlineno serializes separately, not a delta pair.
	if len(pairs) > 0 && pairs[0].Address == 0 && pairs[0].Line == firstLine {
		pairs = pairs[1:]
	}
	for _, p := range pairs {
		addrDelta := p.Address - prevAddr
		lineDelta := p.Line - prevLine
		for addrDelta > 254 {
			out.WriteByte(255)
			out.WriteByte(0)
			addrDelta -= 255
		}
		for lineDelta > 254 {
			out.WriteByte(0)
			out.WriteByte(255)
			lineDelta -= 255
		}
		out.WriteByte(byte(addrDelta))
		out.WriteByte(byte(int8(lineDelta)))
		prevAddr, prevLine = p.Address, p.Line
	}
	return out.Bytes()
}
