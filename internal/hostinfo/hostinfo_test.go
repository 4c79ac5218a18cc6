package hostinfo

import "testing"

func TestFake_Defaults(t *testing.T) {
	f := NewFake()
	if f.NumCPUs() != 1 || f.Arch() != "x86_64" {
		t.Fatalf("unexpected fake defaults: %+v", f)
	}
}

func TestFake_UserString_Unmapped(t *testing.T) {
	f := NewFake()
	if _, err := f.UserString(0x1000); err != errUnmappedAddr {
		t.Fatalf("expected errUnmappedAddr for unmapped address, got %v", err)
	}
	f.FakeUserStrings[0x1000] = "hello"
	s, err := f.UserString(0x1000)
	if err != nil || s != "hello" {
		t.Fatalf("expected mapped address to resolve, got %q, %v", s, err)
	}
}
