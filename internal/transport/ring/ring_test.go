package ring

import "testing"

func TestWriteAndDrain_PerCPUIsolation(t *testing.T) {
	c, err := Open(42, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(0, []byte("cpu0-a")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(1, []byte("cpu1-a")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(0, []byte("cpu0-b")); err != nil {
		t.Fatal(err)
	}

	out0, err := c.Drain(0)
	if err != nil {
		t.Fatal(err)
	}
	if string(out0) != "cpu0-acpu0-b" {
		t.Fatalf("expected cpu0 writes to stay isolated from cpu1, got %q", out0)
	}

	out1, err := c.Drain(1)
	if err != nil {
		t.Fatal(err)
	}
	if string(out1) != "cpu1-a" {
		t.Fatalf("expected %q, got %q", "cpu1-a", out1)
	}

	// Drain clears the subchannel.
	out0Again, _ := c.Drain(0)
	if len(out0Again) != 0 {
		t.Fatal("Drain must clear the subchannel")
	}
}

func TestWrite_OutOfRangeCPU(t *testing.T) {
	c, _ := Open(1, 1)
	if _, err := c.Write(5, []byte("x")); err == nil {
		t.Fatal("expected an out-of-range cpu to error")
	}
}

func TestPrefix_IncludesPid(t *testing.T) {
	c, _ := Open(1234, 1)
	if got := c.Prefix(); got != "trace-1234-" {
		t.Fatalf("expected trace-1234-, got %q", got)
	}
}

func TestOpen_RejectsNonPositiveCPUCount(t *testing.T) {
	if _, err := Open(1, 0); err == nil {
		t.Fatal("expected numCPU <= 0 to error")
	}
}
