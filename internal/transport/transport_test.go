package transport

import (
	"testing"

	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/value"
)

func TestSprintf_BasicVerbs(t *testing.T) {
	strings := strpool.New(1, nil)
	name := value.RefValue(value.TagShortStr, strings.InternString("ktap"))

	out, err := Sprintf("%s has %d probes (%x hex)", []value.Value{name, value.Number(3), value.Number(255)})
	if err != nil {
		t.Fatal(err)
	}
	want := "ktap has 3 probes (ff hex)"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestSprintf_PercentEscape(t *testing.T) {
	out, err := Sprintf("100%%", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "100%" {
		t.Fatalf("expected literal %%, got %q", out)
	}
}

func TestSprintf_UnknownConversion(t *testing.T) {
	if _, err := Sprintf("%q", []value.Value{value.Number(1)}); err == nil {
		t.Fatal("expected an error for an unsupported verb")
	}
}

func TestSprintf_MissingArgument(t *testing.T) {
	if _, err := Sprintf("%d", nil); err == nil {
		t.Fatal("expected an error when a verb has no corresponding argument")
	}
}

func TestDiscard_NeverFails(t *testing.T) {
	var d Discard
	if _, err := d.Write(0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Reserve(0, 16); err != nil {
		t.Fatal(err)
	}
}
