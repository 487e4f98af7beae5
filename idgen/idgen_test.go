package idgen

import (
	"strings"
	"testing"
)

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{8, 10, 16} {
		id := NanoID(length)()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestNanoID_Unique(t *testing.T) {
	gen := NanoID(16)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 {
		t.Fatalf("got length %d, want 36", len(id))
	}
	if strings.Count(id, "-") != 4 {
		t.Fatalf("got %q, want canonical UUID form", id)
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	a, b := gen(), gen()
	if !(a < b) {
		t.Fatalf("expected time-sorted IDs, got %q then %q", a, b)
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("ses_", NanoID(8))
	id := gen()
	if !strings.HasPrefix(id, "ses_") {
		t.Fatalf("got %q, want ses_ prefix", id)
	}
	if len(id) != 12 {
		t.Fatalf("got length %d, want 12", len(id))
	}
}
