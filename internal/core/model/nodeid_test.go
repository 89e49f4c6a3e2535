package model

import "testing"

func TestNodeID_ChildParentDepth(t *testing.T) {
	c := RootNodeID.Child('2').Child('1')
	if c != "021" {
		t.Fatalf("child=%q", c)
	}
	if c.Depth() != 2 {
		t.Fatalf("depth=%d want 2", c.Depth())
	}
	p, ok := c.Parent()
	if !ok || p != "02" {
		t.Fatalf("parent=%q ok=%v", p, ok)
	}
	if _, ok := RootNodeID.Parent(); ok {
		t.Fatalf("root must not have a parent")
	}
	kids := p.Children()
	for i, k := range kids {
		if k[:len(p)] != p || k.Last() != Symbols[i] {
			t.Fatalf("sibling %d = %q", i, k)
		}
	}
}

func TestNodeID_Valid(t *testing.T) {
	for _, ok := range []NodeID{"0", "0123", "03"} {
		if !ok.Valid() {
			t.Fatalf("%q should be valid", ok)
		}
	}
	for _, bad := range []NodeID{"", "1", "04", "0a"} {
		if bad.Valid() {
			t.Fatalf("%q should be invalid", bad)
		}
	}
}
