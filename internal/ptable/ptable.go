// Package ptable implements the Aggregation component (§4.7): a
// parallel table (PTable) backed by one plain aggregation table per
// CPU plus a single merged aggregate, ported from table_histdump and
// the per-CPU stat_data merge logic in interpreter/table.c.
package ptable

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ktap/ktap-sub001/internal/table"
	"github.com/ktap/ktap-sub001/internal/value"
)

// Metrics observes per-CPU set volume and merge duration (§4.7
// "prometheus.Counter/Gauge vectors... additive instrumentation, not
// part of the data-plane contract").
type Metrics struct {
	Sets          *prometheus.CounterVec
	MergeDuration *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktap_ptable_set_total",
			Help: "PTable set() calls per CPU.",
		}, []string{"cpu"}),
		MergeDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ktap_ptable_merge_seconds",
			Help: "Duration of the most recent per-CPU merge pass.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Sets, m.MergeDuration)
	}
	return m
}

// PTable is the aggregation table: numCPU independent per-CPU tables,
// each with stats enabled, plus one merged aggregate table produced on
// demand by Get/Histogram (§4.7).
type PTable struct {
	perCPU []*table.Table
	met    *Metrics
}

func New(numCPU int, met *Metrics) (*PTable, error) {
	if numCPU <= 0 {
		return nil, errors.New("ptable: numCPU must be positive")
	}
	if met == nil {
		met = NewMetrics(nil)
	}
	p := &PTable{perCPU: make([]*table.Table, numCPU), met: met}
	for i := range p.perCPU {
		p.perCPU[i] = table.New(true)
	}
	return p, nil
}

func (p *PTable) cpuLabel(cpu int) string { return strconv.Itoa(cpu) }

// Set performs a local, lock-free-from-other-CPUs per-CPU update (§4.7
// "Per-CPU set requires no locking because only the owning CPU writes
// its slot"): count+=1, sum+=v, min/max folded in.
func (p *PTable) Set(cpu int, k value.Value, v int64) error {
	if cpu < 0 || cpu >= len(p.perCPU) {
		return errors.Errorf("ptable: cpu %d out of range", cpu)
	}
	if err := p.perCPU[cpu].AddStat(k, v); err != nil {
		return err
	}
	p.met.Sets.WithLabelValues(p.cpuLabel(cpu)).Inc()
	return nil
}

// Get folds every per-CPU table's stat_data for k into one merged
// record (§4.7 "get(k) folds all per-CPU stat_data for k into the
// aggregate").
func (p *PTable) Get(k value.Value) table.StatData {
	start := time.Now()
	defer func() { p.met.MergeDuration.WithLabelValues("get").Set(time.Since(start).Seconds()) }()

	var merged table.StatData
	for _, t := range p.perCPU {
		merged.Merge(t.Stat(k))
	}
	return merged
}

// synthesize merges every per-CPU table's entries into one scratch
// table for the full key set, used by Histogram. Get does not use it;
// it merges the per-CPU records for its one key directly.
func (p *PTable) synthesize() *table.Table {
	agg := table.New(true)
	for _, t := range p.perCPU {
		for _, e := range t.Entries() {
			if e.Stat.Count == 0 {
				continue
			}
			_ = agg.MergeStat(e.Key, e.Stat)
		}
	}
	return agg
}

// Histogram synthesizes all per-CPU tables into the aggregate and
// renders the top-N entries sorted by count, delegating the actual
// bar-chart rendering to table.Table.Histogram (§4.7, §4.3).
func (p *PTable) Histogram(topN int) (string, error) {
	start := time.Now()
	defer func() { p.met.MergeDuration.WithLabelValues("histogram").Set(time.Since(start).Seconds()) }()

	agg := p.synthesize()
	counts := table.New(false)
	for _, e := range agg.Entries() {
		if err := counts.Set(e.Key, value.Number(e.Stat.Count)); err != nil {
			return "", err
		}
	}
	return counts.Histogram(topN)
}

// NumCPU reports how many per-CPU tables this PTable owns.
func (p *PTable) NumCPU() int { return len(p.perCPU) }
