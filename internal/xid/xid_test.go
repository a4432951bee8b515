package xid

import (
	"strings"
	"testing"
)

func TestNewCarriesPrefixAndIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New("sale")
		if !strings.HasPrefix(id, "sale-") {
			t.Fatalf("expected sale- prefix, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewIsRoughlySortable(t *testing.T) {
	a := New("mov")
	b := New("mov")
	// Same-millisecond IDs only differ in the random suffix; across
	// milliseconds the timestamp segment orders them.
	if a[:len("mov-")+12] > b[:len("mov-")+12] {
		t.Fatalf("expected non-decreasing timestamp segments: %q then %q", a, b)
	}
}
