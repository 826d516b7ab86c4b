package luaasm

// StringEntry is one insertion into a [StringTable]. Entries that share
// text are linked: the first insertion of a given text is the
// canonical entry; later insertions are distinct objects with ref
// pointing back at it, so that identity-based constant-pool dedup
// (see Assembly.AddConst) still collapses repeated uses of the same
// occurrence, while distinct occurrences of equal text remain
// serializable as separate marshal-stream positions.
type StringEntry struct {
	Text     string
	Interned bool

	ref   *StringEntry
	index int // assigned by Close; -1 until then, and forever for non-interned entries

	// firstWrite marks the entry (canonical or a duplicate, whichever
	// comes first in insertion order) responsible for emitting the
	// actual bytes during serialization; every later entry resolving to
	// the same canonical writes a back-reference instead.
	firstWrite *StringEntry
}

// Resolve returns the canonical entry e's text is interned under (e
// itself, if it is the first insertion of its text).
func (e *StringEntry) Resolve() *StringEntry {
	if e.ref != nil {
		return e.ref
	}
	return e
}

// Index returns the marshal-stream index assigned to e's canonical
// entry, or -1 if it was never interned.
func (e *StringEntry) Index() int { return e.Resolve().index }

// IsFirstWrite reports whether e is the occurrence responsible for
// writing the literal bytes (tag 't') rather than a back-reference
// (tag 'R').
func (e *StringEntry) IsFirstWrite() bool {
	canon := e.Resolve()
	return canon.Interned && canon.firstWrite == e
}

// StringTable is an append-only log of string insertions with
// "interned wins" promotion semantics: inserting the same text twice,
// once non-interned and once interned, makes the canonical entry
// interned overall, matching a source ambiguity resolved explicitly in
// favor of interning (see DESIGN.md).
type StringTable struct {
	entries      []*StringEntry
	byText       map[string]*StringEntry
	internedOrder []*StringEntry
}

// NewStringTable returns an empty table.
func NewStringTable() *StringTable {
	return &StringTable{byText: make(map[string]*StringEntry)}
}

// Insert records one occurrence of text, returning the entry codegen
// should embed as a constant-pool reference at this position.
func (t *StringTable) Insert(text string, interned bool) *StringEntry {
	canon, exists := t.byText[text]
	if !exists {
		canon = &StringEntry{Text: text, index: -1}
		t.byText[text] = canon
		t.entries = append(t.entries, canon)
		if interned {
			canon.Interned = true
			t.internedOrder = append(t.internedOrder, canon)
		}
		return canon
	}

	if interned && !canon.Interned {
		canon.Interned = true
		t.internedOrder = append(t.internedOrder, canon)
	}
	dup := &StringEntry{Text: text, ref: canon, index: -1}
	t.entries = append(t.entries, dup)
	return dup
}

// Close finalizes index assignment: interned canonical entries receive
// indices in the order their text was first requested as interned
// (which may differ from first-insertion order, per the promotion
// rule), and the serialization-order "first write" occurrence is fixed
// for every interned canonical.
func (t *StringTable) Close() {
	for i, canon := range t.internedOrder {
		canon.index = i
	}
	for _, e := range t.entries {
		canon := e.Resolve()
		if canon.Interned && canon.firstWrite == nil {
			canon.firstWrite = e
		}
	}
}
