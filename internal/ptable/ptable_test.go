package ptable

import (
	"testing"

	"github.com/ktap/ktap-sub001/internal/value"
)

func TestSet_SumOfIncrementsEqualsAggregateCount(t *testing.T) {
	// Invariant 4 (§8): sum across CPUs of per-CPU increments equals the
	// merged aggregate's count.
	p, err := New(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	k := value.Number(1)

	increments := []struct {
		cpu int
		n   int
	}{{0, 10}, {1, 3}, {2, 0}, {3, 7}}
	total := 0
	for _, inc := range increments {
		for i := 0; i < inc.n; i++ {
			if err := p.Set(inc.cpu, k, int64(i)); err != nil {
				t.Fatal(err)
			}
		}
		total += inc.n
	}

	got := p.Get(k)
	if got.Count != int64(total) {
		t.Fatalf("expected merged count %d, got %d", total, got.Count)
	}
}

func TestSet_OutOfRangeCPU(t *testing.T) {
	p, _ := New(2, nil)
	if err := p.Set(5, value.Number(1), 1); err == nil {
		t.Fatal("expected out-of-range cpu to error")
	}
}

func TestGet_MinMaxAcrossCPUs(t *testing.T) {
	p, _ := New(2, nil)
	k := value.Number(9)
	_ = p.Set(0, k, 100)
	_ = p.Set(0, k, -5)
	_ = p.Set(1, k, 42)

	got := p.Get(k)
	if got.Min != -5 || got.Max != 100 {
		t.Fatalf("expected min -5 max 100, got min=%d max=%d", got.Min, got.Max)
	}
}

func TestHistogram_NoEntries(t *testing.T) {
	p, _ := New(1, nil)
	out, err := p.Histogram(10)
	if err != nil {
		t.Fatal(err)
	}
	_ = out // empty aggregate still renders without error
}
