package value

import "testing"

func TestTruthy(t *testing.T) {
	if Truthy(Nil) {
		t.Fatal("nil must be falsy")
	}
	if Truthy(Bool(false)) {
		t.Fatal("boolean false must be falsy")
	}
	if !Truthy(Bool(true)) {
		t.Fatal("boolean true must be truthy")
	}
	if !Truthy(Number(0)) {
		t.Fatal("number zero must be truthy (only nil/false are falsy)")
	}
}

func TestEqual_ShortStringIdentity(t *testing.T) {
	h := &lightFuncHolder{}
	a := Value{Tag: TagShortStr, ref: h}
	b := Value{Tag: TagShortStr, ref: h}
	c := Value{Tag: TagShortStr, ref: &lightFuncHolder{}}
	if !Equal(a, b) {
		t.Fatal("identical short-string refs must compare equal")
	}
	if Equal(a, c) {
		t.Fatal("distinct short-string refs must not compare equal, even with zero-value payload")
	}
}

func TestEqual_TagMismatch(t *testing.T) {
	if Equal(Number(1), Bool(true)) {
		t.Fatal("values with different tags must never be equal, even with identical n")
	}
}

func TestLightFunc_RoundTrip(t *testing.T) {
	called := false
	v := LightFunc(func(ns NativeState) int { called = true; return 0 })
	if v.Tag != TagLightFunc {
		t.Fatalf("expected TagLightFunc, got %v", v.Tag)
	}
	v.Func()(nil)
	if !called {
		t.Fatal("Func() must return the original NativeFunc")
	}
}
