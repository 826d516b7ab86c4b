package luaasm

import "testing"

func TestStringTableDistinctInsertionsAreSeparateEntries(t *testing.T) {
	tbl := NewStringTable()
	a := tbl.Insert("hello", false)
	b := tbl.Insert("hello", false)
	if a == b {
		t.Fatal("two insertions of the same text returned the identical entry; want distinct occurrences")
	}
	if a.Resolve() != a || b.Resolve() != a {
		t.Fatalf("Resolve: a.Resolve()=%p (want %p), b.Resolve()=%p (want %p)", a.Resolve(), a, b.Resolve(), a)
	}
}

func TestStringTableInternedPromotion(t *testing.T) {
	tbl := NewStringTable()
	first := tbl.Insert("x", false)
	if first.Interned {
		t.Fatal("first insertion: Interned = true, want false")
	}
	second := tbl.Insert("x", true)
	tbl.Close()

	if !first.Resolve().Interned {
		t.Fatal("after an interned re-insertion, the canonical entry should be promoted to interned")
	}
	if first.Index() != second.Index() {
		t.Fatalf("first.Index() = %d, second.Index() = %d, want equal (same canonical entry)", first.Index(), second.Index())
	}
	if first.Index() < 0 {
		t.Fatal("promoted canonical entry has no assigned index after Close")
	}
}

func TestStringTableNonInternedHasNoIndex(t *testing.T) {
	tbl := NewStringTable()
	e := tbl.Insert("never-interned", false)
	tbl.Close()
	if e.Index() != -1 {
		t.Fatalf("Index() = %d, want -1 for a never-interned entry", e.Index())
	}
}

func TestStringTableIndicesFollowInternOrder(t *testing.T) {
	tbl := NewStringTable()
	b := tbl.Insert("b", true)
	a := tbl.Insert("a", true)
	tbl.Close()
	if b.Index() != 0 {
		t.Fatalf("b.Index() = %d, want 0 (first requested as interned)", b.Index())
	}
	if a.Index() != 1 {
		t.Fatalf("a.Index() = %d, want 1", a.Index())
	}
}

func TestStringTableFirstWriteIsEarliestOccurrence(t *testing.T) {
	tbl := NewStringTable()
	first := tbl.Insert("x", true)
	dup := tbl.Insert("x", true)
	tbl.Close()

	if !first.IsFirstWrite() {
		t.Fatal("first occurrence: IsFirstWrite() = false, want true")
	}
	if dup.IsFirstWrite() {
		t.Fatal("duplicate occurrence: IsFirstWrite() = true, want false")
	}
}
