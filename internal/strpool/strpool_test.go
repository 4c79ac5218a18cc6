package strpool

import "testing"

func TestIntern_ShortStrings_PointerIdentity(t *testing.T) {
	p := New(0xdeadbeef, nil)
	a := p.InternString("hello")
	b := p.InternString("hello")
	if a != b {
		t.Fatal("interning the same short string twice must return the same object (invariant 2)")
	}
	c := p.InternString("world")
	if a == c {
		t.Fatal("distinct short strings must intern to distinct objects")
	}
}

func TestIntern_LongStrings_NeverInterned(t *testing.T) {
	p := New(1, nil)
	long := make([]byte, shortStringMax+1)
	for i := range long {
		long[i] = byte('a' + i%26)
	}
	a := p.Intern(long)
	b := p.Intern(long)
	if a == b {
		t.Fatal("long strings must never be interned: two calls must allocate distinct objects")
	}
	if !Eq(a, b) {
		t.Fatal("distinct long-string objects with identical bytes must compare equal via Eq")
	}
}

func TestResize_PreservesLookup(t *testing.T) {
	p := New(7, nil)
	seen := map[*String]string{}
	for i := 0; i < 2000; i++ {
		s := string(rune('a'+i%26)) + string(rune('A'+((i*7)%26))) + string(rune('0'+i%10))
		str := p.InternString(s)
		seen[str] = s
	}
	for str, s := range seen {
		if p.InternString(s) != str {
			t.Fatalf("lookup for %q changed identity after resize", s)
		}
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash([]byte("probe_by_id"), 42)
	b := Hash([]byte("probe_by_id"), 42)
	if a != b {
		t.Fatal("hash must be a pure function of bytes and seed")
	}
}
