// Package luasymbol models the name-resolution results produced by the
// scope-resolution pass: the five symbol variants a Lua name can resolve
// to, and the slot-assignment algorithm that turns a function's symbol
// list into the varnames/cellvars/freevars/names tables a code object
// needs.
//
// Grounded in orz/symbol.py (bruce2008github/orz), carried over as a
// closed set of Go types dispatched by type switch rather than by the
// class hierarchy the Python original uses.
package luasymbol

import "fmt"

// Symbol is one of [Local], [Free], [Global], [Attribute], or [Name].
// Implementations compare equal via [Equal], matching the structural
// equality the slot-assignment pass relies on to coalesce repeated
// references to the same name.
type Symbol interface {
	// symbolName returns the identifier or literal text the symbol
	// carries, used for diagnostics.
	symbolName() string
	// Equal reports whether two symbols denote the same binding.
	Equal(Symbol) bool
	// Slot returns the index assigned by CalculateSlots, or -1 if
	// slots have not yet been calculated.
	Slot() int
}

// Local is a lexical local variable of the function that declares it.
// IsReferenced is set by the scope pass when some inner function
// captures this local as an upvalue; a referenced local is allocated a
// cellvar slot instead of a varnames slot.
type Local struct {
	Name         string
	IsReferenced bool

	slot int
}

func NewLocal(name string) *Local { return &Local{Name: name, slot: -1} }

func (l *Local) symbolName() string { return l.Name }
func (l *Local) Slot() int          { return l.slot }

func (l *Local) Equal(other Symbol) bool {
	o, ok := other.(*Local)
	return ok && o == l
}

func (l *Local) String() string { return fmt.Sprintf("Local(%s)", l.Name) }

// Free is an upvalue: a name resolved in an enclosing function's scope.
// Parent is the Symbol (itself a *Local or another *Free) in the
// immediately enclosing function that this upvalue closes over.
type Free struct {
	Name   string
	Parent Symbol

	slot int
}

func NewFree(name string, parent Symbol) *Free { return &Free{Name: name, Parent: parent, slot: -1} }

func (f *Free) symbolName() string { return f.Name }
func (f *Free) Slot() int          { return f.slot }

func (f *Free) Equal(other Symbol) bool {
	o, ok := other.(*Free)
	if !ok || o.Name != f.Name {
		return false
	}
	if f.Parent == nil || o.Parent == nil {
		return f.Parent == o.Parent
	}
	return f.Parent.Equal(o.Parent)
}

func (f *Free) String() string { return fmt.Sprintf("Free(%s)", f.Name) }

// Global is a name resolved through the global namespace: conceptually
// _ENV[name], but in this symbol model Global is reserved for names the
// compiler itself synthesizes (_ENV, LuaTable, validate_forloop, and the
// per-operator dispatcher names) rather than ordinary unresolved Lua
// identifiers, which the scope pass instead lowers to _ENV subscripts.
type Global struct {
	Name string

	slot int
}

func NewGlobal(name string) *Global { return &Global{Name: name, slot: -1} }

func (g *Global) symbolName() string { return g.Name }
func (g *Global) Slot() int          { return g.slot }

func (g *Global) Equal(other Symbol) bool {
	o, ok := other.(*Global)
	return ok && o.Name == g.Name
}

func (g *Global) String() string { return fmt.Sprintf("Global(%s)", g.Name) }

// Attribute is a string literal destined for the names table, used for
// field access (`t.field`) and method names (`t:method()`).
type Attribute struct {
	Name string

	slot int
}

func NewAttribute(name string) *Attribute { return &Attribute{Name: name, slot: -1} }

func (a *Attribute) symbolName() string { return a.Name }
func (a *Attribute) Slot() int          { return a.slot }

func (a *Attribute) Equal(other Symbol) bool {
	o, ok := other.(*Attribute)
	return ok && o.Name == a.Name
}

func (a *Attribute) String() string { return fmt.Sprintf("Attribute(%s)", a.Name) }

// Name is an interned string destined for the names pool, distinct from
// [Attribute] only in provenance (used where the source names a literal
// string constant rather than a field access).
type Name struct {
	Text string

	slot int
}

func NewName(text string) *Name { return &Name{Text: text, slot: -1} }

func (n *Name) symbolName() string { return n.Text }
func (n *Name) Slot() int          { return n.slot }

func (n *Name) Equal(other Symbol) bool {
	o, ok := other.(*Name)
	return ok && o.Text == n.Text
}

func (n *Name) String() string { return fmt.Sprintf("Name(%s)", n.Text) }

// Slots holds the four interned-name tables a function's code object
// serializes, in the order their corresponding symbols were first seen.
type Slots struct {
	Names    []string // Attribute and Global symbols share this table
	Varnames []string // unreferenced Locals
	Cellvars []string // referenced Locals
	Freevars []string // Free symbols
}

// CalculateSlots assigns a Slot to every symbol in symbols (in place,
// via each concrete type's slot field) and returns the four serialized
// name tables.
//
// Grounded in orz/symbol.py's calculate_slots: Attribute and Global
// share the names table; unreferenced Locals land in varnames;
// referenced Locals land in cellvars; Free symbols are deduplicated
// into freevars in a second pass so that Free.Slot() ==
// len(cellvars) + index_in_freevars, matching the invariant the
// assembler's LOAD_DEREF/LOAD_CLOSURE addressing depends on.
func CalculateSlots(symbols []Symbol) Slots {
	var s Slots

	var frees []*Free
	for _, sym := range symbols {
		switch sym := sym.(type) {
		case *Attribute:
			if idx := indexOfName(s.Names, sym.Name); idx >= 0 {
				sym.slot = idx
			} else {
				sym.slot = len(s.Names)
				s.Names = append(s.Names, sym.Name)
			}
		case *Global:
			if idx := indexOfName(s.Names, sym.Name); idx >= 0 {
				sym.slot = idx
			} else {
				sym.slot = len(s.Names)
				s.Names = append(s.Names, sym.Name)
			}
		case *Local:
			if sym.IsReferenced {
				sym.slot = len(s.Cellvars)
				s.Cellvars = append(s.Cellvars, sym.Name)
			} else {
				sym.slot = len(s.Varnames)
				s.Varnames = append(s.Varnames, sym.Name)
			}
		case *Free:
			frees = append(frees, sym)
		case *Name:
			if idx := indexOfName(s.Names, sym.Text); idx >= 0 {
				sym.slot = idx
			} else {
				sym.slot = len(s.Names)
				s.Names = append(s.Names, sym.Text)
			}
		}
	}

	// Second pass: dedupe Free symbols by structural equality and
	// assign freevar slots offset by the cellvar count.
	var deduped []*Free
	for _, f := range frees {
		found := false
		for i, d := range deduped {
			if f.Equal(d) {
				f.slot = len(s.Cellvars) + i
				found = true
				break
			}
		}
		if !found {
			f.slot = len(s.Cellvars) + len(deduped)
			deduped = append(deduped, f)
			s.Freevars = append(s.Freevars, f.Name)
		}
	}

	return s
}

func indexOfName(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
