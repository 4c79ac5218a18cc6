package kdebuglib

import "testing"

func TestParseIDs_CommaAndSpaceSeparated(t *testing.T) {
	ids := parseIDs("1, 2,3   4")
	want := []int{1, 2, 3, 4}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i, v := range want {
		if ids[i] != v {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestParseIDs_IgnoresGarbage(t *testing.T) {
	ids := parseIDs("1, abc, 2")
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("expected [1 2] skipping non-numeric fields, got %v", ids)
	}
}

func TestParseIDs_Empty(t *testing.T) {
	if ids := parseIDs(""); len(ids) != 0 {
		t.Fatalf("expected no ids from empty string, got %v", ids)
	}
}
