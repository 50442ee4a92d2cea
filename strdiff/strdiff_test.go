package strdiff

import "testing"

func TestDiffApplyRoundtrip(t *testing.T) {
	cases := []struct{ a, b string }{
		{"", ""},
		{"abc", "abc"},
		{"", "hello"},
		{"hello", ""},
		{"hello world", "hello there world"},
		{"hello there world", "hello world"},
		{"abc", "axc"},
		{"kitten", "sitting"},
		{"The quick brown fox", "The slow brown fox jumps"},
		{"aaaa", "aaaa"},
	}
	for _, c := range cases {
		edits := Diff(c.a, c.b)
		got := Apply(c.a, edits)
		if got != c.b {
			t.Errorf("Diff(%q,%q) -> apply got %q, want %q (edits=%v)", c.a, c.b, got, c.b, edits)
		}
	}
}

func TestDiffEqualStringsProducesNoEdits(t *testing.T) {
	if edits := Diff("same", "same"); edits != nil {
		t.Errorf("expected nil edits for equal strings, got %v", edits)
	}
}

func TestDiffCoalescesContiguousRanges(t *testing.T) {
	edits := Diff("hello world", "hello there world")
	for _, e := range edits {
		if e.Op == OpInsert && e.Content == "" {
			t.Errorf("empty insert edit should not be emitted: %v", e)
		}
	}
	// A contiguous insertion of "there " should be a single edit, not one
	// edit per character.
	if len(edits) > 2 {
		t.Errorf("expected coalesced edits, got %d: %v", len(edits), edits)
	}
}

func TestDiffAppendOnly(t *testing.T) {
	edits := Diff("hello", "hello world")
	if len(edits) != 1 || edits[0].Op != OpInsert || edits[0].Index != 5 {
		t.Fatalf("expected single append insert at index 5, got %v", edits)
	}
}

func TestApplyEmptyEditListIsNoop(t *testing.T) {
	if got := Apply("unchanged", nil); got != "unchanged" {
		t.Errorf("expected no-op, got %q", got)
	}
}
