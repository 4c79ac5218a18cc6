// Package table implements the hybrid array+hash table: the single
// aggregate data structure the scripting language uses for every
// associative value, plus the aggregation (stat_data) and sorted-view
// variants layered on top of it. Representation and algorithms are
// ported from interpreter/table.c (mainposition/table_newkey/rehash/
// kp_table_next/kp_table_sort/table_histdump) rather than invented —
// the Go translation keeps the same structural decisions (array part,
// Brent's-variation hash part, lastfree scan) the source makes.
package table

import (
	"bytes"
	"fmt"
	"math/bits"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/value"
)

// maxHashBits bounds the hash part at 2^30 entries (§4.3 "Overflow of
// the hash-part size (> 2^30) is a runtime error").
const maxHashBits = 30

// ErrHashOverflow is returned when the hash part cannot grow (§7);
// callers at the VM boundary turn it into an EXIT-patch plus a
// transport write rather than propagating a Go error into script code.
// ErrNotNumeric is exported for aggregation callers; no function in
// this package returns it.
var (
	ErrHashOverflow = errors.New("table overflow")
	ErrNotNumeric   = errors.New("add non number value to aggregation table")
)

// StatData is the parallel per-slot statistic record used by
// aggregation tables: count/sum/min/max, exactly as kp_statdata_dump.
type StatData struct {
	Count int64
	Sum   int64
	Min   int64
	Max   int64
}

// Add folds a single numeric sample into the stat record (statdata_add
// applied to one new observation rather than merging two records).
func (s *StatData) Add(v int64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Sum += v
	s.Count++
}

// Merge folds another stat record into s (statdata_add/merge_table).
func (s *StatData) Merge(o StatData) {
	if o.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = o
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	if o.Min < s.Min {
		s.Min = o.Min
	}
	if o.Max > s.Max {
		s.Max = o.Max
	}
}

type node struct {
	key  value.Value
	val  value.Value
	stat StatData
	next int // -1: end of chain
}

func (n *node) free() bool { return n.key.Tag == value.TagNil }

// Table is the hybrid array+hash structure. Every public method
// acquires mu, matching "each table carries a spinlock... acquired with
// interrupts disabled" (§4.3) as closely as a userspace goroutine model
// can: a plain mutex, since there is no IRQ context to protect against
// here and handlers calling back into the interpreter while holding it
// is prevented by convention (no Value callbacks are invoked under mu).
type Table struct {
	value.Header

	mu sync.Mutex

	array      []value.Value
	arrayStats []StatData

	node      []node
	lastFree  int // index; scanned downward for a free slot
	withStats bool

	sortHead int // index into sorted chain head, or -1
	sorted   []sortNode
}

type sortNode struct {
	key, val value.Value
	next     int
}

// New creates an empty table. withStats enables the parallel stat_data
// array used by aggregation (PTable) tables.
func New(withStats bool) *Table {
	t := &Table{lastFree: 0, withStats: withStats}
	return t
}

func hashNumber(n int64) uint32 {
	u := uint64(n)
	// Simple multiplicative mix; the source hashes the raw double bit
	// pattern (hashnum in table.c) since ktap numbers are stored as a
	// C double/long. Integers here are native int64, so this mixes the
	// bit pattern directly instead of going through a float reinterpret.
	u ^= u >> 33
	u *= 0xff51afd7ed558ccd
	u ^= u >> 33
	return uint32(u)
}

func hashPointer(addr uintptr) uint32 {
	u := uint64(addr)
	u ^= u >> 29
	u *= 0xbf58476d1ce4e5b9
	u ^= u >> 32
	return uint32(u)
}

func hashBacktrace(bt *value.Backtrace) uint32 {
	if bt == nil || len(bt.Frames) == 0 {
		return 0
	}
	return hashPointer(bt.Frames[0])
}

func keyHash(k value.Value) uint32 {
	switch k.Tag {
	case value.TagNumber:
		return hashNumber(value.AsNumber(k))
	case value.TagShortStr, value.TagLongStr:
		s, ok := k.Ref().(*strpool.String)
		if !ok {
			return 0
		}
		return s.Hash
	case value.TagBoolean:
		if value.AsBool(k) {
			return 1
		}
		return 0
	case value.TagBacktrace:
		return hashBacktrace(value.AsBacktrace(k))
	default:
		return hashPointer(value.IdentityAddr(k))
	}
}

func keyEqual(a, b value.Value) bool {
	if a.Tag != b.Tag {
		return false
	}
	if a.Tag == value.TagLongStr {
		return strpool.Eq(a.Ref().(*strpool.String), b.Ref().(*strpool.String))
	}
	return value.Equal(a, b)
}

// mainPosition mirrors the source's mainposition() switch, modulo the
// difference that Go does not need separate codegen per key kind.
func mainPosition(k value.Value, hashSize int) int {
	if hashSize == 0 {
		return 0
	}
	h := keyHash(k)
	return int(h & uint32(hashSize-1)) // hashSize is always a power of two
}

// arrayIndex reports whether k is a valid 1-based array index, and if
// so, its 0-based slice position.
func arrayIndex(k value.Value) (idx int, ok bool) {
	if k.Tag != value.TagNumber {
		return 0, false
	}
	n := value.AsNumber(k)
	if n < 1 {
		return 0, false
	}
	return int(n - 1), true
}

// Get implements the contract's get(k): returns the stored value or
// value.Nil. O(1) expected.
func (t *Table) Get(k value.Value) value.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(k)
}

func (t *Table) getLocked(k value.Value) value.Value {
	if idx, ok := arrayIndex(k); ok && idx < len(t.array) {
		return t.array[idx]
	}
	if len(t.node) == 0 {
		return value.Nil
	}
	i := mainPosition(k, len(t.node))
	for i != -1 {
		n := &t.node[i]
		if !n.free() && keyEqual(n.key, k) {
			return n.val
		}
		i = n.next
	}
	return value.Nil
}

// Set implements the contract's set(k,v): storing nil to a missing key
// is a no-op; storing non-nil updates or allocates, possibly triggering
// rehash. Returns ErrHashOverflow if the hash part cannot grow further.
func (t *Table) Set(k value.Value, v value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setLocked(k, v)
}

func (t *Table) setLocked(k value.Value, v value.Value) error {
	if idx, ok := arrayIndex(k); ok {
		if idx < len(t.array) {
			t.array[idx] = v
			return nil
		}
		if idx == len(t.array) && !value.IsNil(v) {
			t.array = append(t.array, v)
			if t.withStats {
				t.arrayStats = append(t.arrayStats, StatData{})
			}
			t.migrateFromHashLocked()
			return nil
		}
	}

	if value.IsNil(v) {
		// Deleting a key that is only in the hash part: find and nil it.
		if len(t.node) == 0 {
			return nil
		}
		i := mainPosition(k, len(t.node))
		for i != -1 {
			n := &t.node[i]
			if !n.free() && keyEqual(n.key, k) {
				n.val = value.Nil
				return nil
			}
			i = n.next
		}
		return nil
	}

	// existing hash-part slot?
	if len(t.node) > 0 {
		i := mainPosition(k, len(t.node))
		for i != -1 {
			n := &t.node[i]
			if !n.free() && keyEqual(n.key, k) {
				n.val = v
				return nil
			}
			i = n.next
		}
	}

	return t.newKeyLocked(k, v)
}

// newKeyLocked implements Brent's variation (table_newkey): if the main
// position is free, place the key there. If occupied by a node that is
// itself NOT at its own main position, displace that occupant to a
// free slot and reclaim the main position for the new key. Otherwise
// the occupant IS at its main position, so the new key goes to a free
// slot chained off of it.
func (t *Table) newKeyLocked(k value.Value, v value.Value) error {
	if len(t.node) == 0 {
		if err := t.resizeLocked(len(t.array), 1); err != nil {
			return err
		}
	}

	mp := mainPosition(k, len(t.node))
	occupant := &t.node[mp]
	base := &t.node[0]

	if occupant.free() {
		*occupant = node{key: k, val: v, next: -1}
		return nil
	}

	occupantMain := mainPosition(occupant.key, len(t.node))
	if occupantMain != mp {
		// occupant is a "foreign" entry chained in from elsewhere;
		// displace it to a free slot and take its place at mp.
		free, err := t.getFreePosLocked()
		if err != nil {
			return err
		}
		if &t.node[0] != base {
			// a rehash rebuilt the node array; place k in the new layout
			return t.setLocked(k, v)
		}
		// relink occupant's former predecessor to point at `free`
		pred := occupantMain
		for t.node[pred].next != mp {
			pred = t.node[pred].next
		}
		t.node[pred].next = free
		t.node[free] = *occupant
		*occupant = node{key: k, val: v, next: -1}
		return nil
	}

	// occupant sits at its own main position: chain the new key off it
	free, err := t.getFreePosLocked()
	if err != nil {
		return err
	}
	if &t.node[0] != base {
		return t.setLocked(k, v)
	}
	t.node[free] = node{key: k, val: v, next: occupant.next}
	occupant.next = free
	return nil
}

// getFreePosLocked scans lastFree downward for a nil-key slot,
// triggering a rehash (doubling the hash part) if none remain.
func (t *Table) getFreePosLocked() (int, error) {
	for t.lastFree > 0 {
		t.lastFree--
		if t.node[t.lastFree].free() {
			return t.lastFree, nil
		}
	}
	if err := t.rehashLocked(); err != nil {
		return 0, err
	}
	return t.getFreePosLocked()
}

// migrateFromHashLocked moves any integer keys that now fall within
// the (possibly just-grown) array part's range out of the hash part,
// mirroring the effect rehash would eventually have without forcing a
// full rehash on every single array append.
func (t *Table) migrateFromHashLocked() {
	if len(t.node) == 0 {
		return
	}
	for i := range t.node {
		n := &t.node[i]
		if n.free() {
			continue
		}
		if idx, ok := arrayIndex(n.key); ok && idx < len(t.array) {
			if value.IsNil(t.array[idx]) {
				t.array[idx] = n.val
			}
			n.key, n.val, n.next = value.Nil, value.Nil, n.next
		}
	}
}

// Len returns the count of non-nil entries across both parts —
// "statistical semantics, not border" (§4.3/§9).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.array {
		if !value.IsNil(v) {
			n++
		}
	}
	for i := range t.node {
		if !t.node[i].free() && !value.IsNil(t.node[i].val) {
			n++
		}
	}
	return n
}

// Next implements traversal: array part first (by index), then hash
// part (by node slot), matching arrayindex/findindex/kp_table_next.
// Passing value.Nil as k starts the traversal.
func (t *Table) Next(k value.Value) (nk, nv value.Value, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := 0
	if !value.IsNil(k) {
		if idx, isArr := arrayIndex(k); isArr && idx < len(t.array) {
			start = idx + 1
		} else {
			// k is (or was) a hash-part key: resume scanning the node
			// array just past its slot.
			i := mainPosition(k, max(len(t.node), 1))
			found := -1
			for i != -1 && i < len(t.node) {
				if !t.node[i].free() && keyEqual(t.node[i].key, k) {
					found = i
					break
				}
				i = t.node[i].next
			}
			return t.nextHashLocked(found + 1)
		}
	}

	for i := start; i < len(t.array); i++ {
		if !value.IsNil(t.array[i]) {
			return value.Number(int64(i + 1)), t.array[i], true
		}
	}
	return t.nextHashLocked(0)
}

func (t *Table) nextHashLocked(from int) (value.Value, value.Value, bool) {
	for i := from; i < len(t.node); i++ {
		if !t.node[i].free() && !value.IsNil(t.node[i].val) {
			return t.node[i].key, t.node[i].val, true
		}
	}
	return value.Nil, value.Nil, false
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Resize rebuilds both parts to hold at least na array slots and nh
// hash slots (rounded up to a power of two). Existing entries are
// reinserted.
func (t *Table) Resize(na, nh int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resizeLocked(na, nh)
}

func (t *Table) resizeLocked(na, nh int) error {
	nhSize := nextPow2(nh)
	if nhSize > 0 && bits.Len(uint(nhSize-1)) > maxHashBits {
		return ErrHashOverflow
	}

	oldArray, oldArrayStats := t.array, t.arrayStats
	oldNode := t.node

	t.array = make([]value.Value, na)
	copy(t.array, oldArray)
	if t.withStats {
		t.arrayStats = make([]StatData, na)
		copy(t.arrayStats, oldArrayStats)
	}

	t.node = make([]node, nhSize)
	for i := range t.node {
		t.node[i].key = value.Nil
		t.node[i].next = -1
	}
	t.lastFree = nhSize

	// reinsert overflow array entries and all surviving hash entries
	for i := na; i < len(oldArray); i++ {
		if !value.IsNil(oldArray[i]) {
			if err := t.newKeyLocked(value.Number(int64(i+1)), oldArray[i]); err != nil {
				return err
			}
		}
	}
	for i := range oldNode {
		n := &oldNode[i]
		if !n.free() {
			if idx, ok := arrayIndex(n.key); ok && idx < len(t.array) {
				t.array[idx] = n.val
				if t.withStats {
					t.arrayStats[idx] = n.stat
				}
				continue
			}
			if err := t.newKeyLocked(n.key, n.val); err != nil {
				return err
			}
			if t.withStats {
				// carry the slot's stat record over to its new node
				for j := mainPosition(n.key, len(t.node)); j != -1; j = t.node[j].next {
					if keyEqual(t.node[j].key, n.key) {
						t.node[j].stat = n.stat
						break
					}
				}
			}
		}
	}
	return nil
}

func nextPow2(n int) int {
	if n <= 0 {
		return 0
	}
	return 1 << bits.Len(uint(n-1))
}

// Rehash computes a new (na, nh) using the classic slice-density
// algorithm (computesizes/countint/numusearray/numusehash in
// table.c): integer keys are bucketed by the power-of-two slice
// (2^(i-1), 2^i] they fall in, and the array part is grown to include
// every slice that is still >= 50% populated once that slice is
// included.
func (t *Table) rehashLocked() error {
	var counts [32]int // counts[i] = keys in (2^(i-1), 2^i]
	total := 0

	countKey := func(k value.Value) {
		if idx, ok := arrayIndex(k); ok {
			n := idx + 1
			slot := bits.Len(uint(n - 1))
			counts[slot]++
			total++
		}
	}
	for i, v := range t.array {
		if !value.IsNil(v) {
			countKey(value.Number(int64(i + 1)))
		}
	}
	for i := range t.node {
		if !t.node[i].free() {
			countKey(t.node[i].key)
		}
	}

	na := 0
	acc := 0
	for i := 0; i < 32; i++ {
		acc += counts[i]
		slice := 1 << uint(i)
		if acc > slice/2 {
			na = slice
		}
	}
	if na < len(t.array) {
		na = len(t.array)
	}

	nhUsed := 0
	for i := range t.node {
		if !t.node[i].free() {
			// every key that does not land in the new array part
			if idx, ok := arrayIndex(t.node[i].key); !ok || idx >= na {
				nhUsed++
			}
		}
	}
	nh := nextPow2(nhUsed + 1)
	if nh < 1 {
		nh = 1
	}

	return t.resizeLocked(na, nh)
}

// ─── aggregation (stat_data) accessors, used by ptable and count() ───

// AddStat folds a numeric sample into the stat_data slot for k,
// creating the slot if absent; the slot's stored value is kept equal
// to the running Sum.
// ErrNotNumeric is never returned here — the numeric check belongs to
// the caller (ptable enforces it, matching kp_ptable_set).
func (t *Table) AddStat(k value.Value, sample int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := arrayIndex(k); ok {
		for idx >= len(t.array) {
			t.array = append(t.array, value.Nil)
			t.arrayStats = append(t.arrayStats, StatData{})
		}
		t.arrayStats[idx].Add(sample)
		t.array[idx] = value.Number(t.arrayStats[idx].Sum)
		return nil
	}

	if len(t.node) > 0 {
		i := mainPosition(k, len(t.node))
		for i != -1 {
			n := &t.node[i]
			if !n.free() && keyEqual(n.key, k) {
				n.stat.Add(sample)
				n.val = value.Number(n.stat.Sum)
				return nil
			}
			i = n.next
		}
	}

	if err := t.newKeyLocked(k, value.Number(sample)); err != nil {
		return err
	}
	i := mainPosition(k, len(t.node))
	for i != -1 {
		n := &t.node[i]
		if !n.free() && keyEqual(n.key, k) {
			n.stat.Add(sample)
			return nil
		}
		i = n.next
	}
	return nil
}

// MergeStat folds an already-aggregated StatData into k's slot,
// creating the slot if absent. Used by ptable to synthesize per-CPU
// aggregation tables into one merged table (§4.7 "histogram()
// synthesizes all per-CPU tables into the aggregate"), where each
// source slot already carries count/sum/min/max rather than a single
// raw sample.
func (t *Table) MergeStat(k value.Value, s StatData) error {
	if s.Count == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := arrayIndex(k); ok {
		for idx >= len(t.array) {
			t.array = append(t.array, value.Nil)
			t.arrayStats = append(t.arrayStats, StatData{})
		}
		t.arrayStats[idx].Merge(s)
		t.array[idx] = value.Number(t.arrayStats[idx].Sum)
		return nil
	}

	if len(t.node) > 0 {
		i := mainPosition(k, len(t.node))
		for i != -1 {
			n := &t.node[i]
			if !n.free() && keyEqual(n.key, k) {
				n.stat.Merge(s)
				n.val = value.Number(n.stat.Sum)
				return nil
			}
			i = n.next
		}
	}

	if err := t.newKeyLocked(k, value.Number(s.Sum)); err != nil {
		return err
	}
	i := mainPosition(k, len(t.node))
	for i != -1 {
		n := &t.node[i]
		if !n.free() && keyEqual(n.key, k) {
			n.stat.Merge(s)
			return nil
		}
		i = n.next
	}
	return nil
}

// Stat returns the stat_data accumulated for k (zero value if absent).
func (t *Table) Stat(k value.Value) StatData {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, ok := arrayIndex(k); ok && idx < len(t.arrayStats) {
		return t.arrayStats[idx]
	}
	if len(t.node) == 0 {
		return StatData{}
	}
	i := mainPosition(k, len(t.node))
	for i != -1 {
		n := &t.node[i]
		if !n.free() && keyEqual(n.key, k) {
			return n.stat
		}
		i = n.next
	}
	return StatData{}
}

// Entries returns every (key, value) pair currently present, used by
// Sort and Histogram. Order is unspecified (array part then hash
// part, matching internal storage order).
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for i, v := range t.array {
		if !value.IsNil(v) {
			e := Entry{Key: value.Number(int64(i + 1)), Val: v}
			if t.withStats && i < len(t.arrayStats) {
				e.Stat = t.arrayStats[i]
			}
			out = append(out, e)
		}
	}
	for i := range t.node {
		if !t.node[i].free() && !value.IsNil(t.node[i].val) {
			out = append(out, Entry{Key: t.node[i].key, Val: t.node[i].val, Stat: t.node[i].stat})
		}
	}
	return out
}

// Entry is a materialized (key, value[, stat]) triple.
type Entry struct {
	Key  value.Value
	Val  value.Value
	Stat StatData
}

// CmpFunc orders two entries; Sort's default is numeric ascending of
// values (default_compare in table.c).
type CmpFunc func(a, b Entry) bool

func DefaultCompare(a, b Entry) bool {
	return value.AsNumber(a.Val) < value.AsNumber(b.Val)
}

// Sort materializes a linked chain over all non-nil entries ordered by
// cmp (nil means DefaultCompare), matching insert_sorted_list's
// "linear chain" design (§4.3 "sort(cmp)").
func (t *Table) Sort(cmp CmpFunc) []Entry {
	if cmp == nil {
		cmp = DefaultCompare
	}
	entries := t.Entries()
	sort.SliceStable(entries, func(i, j int) bool { return cmp(entries[i], entries[j]) })
	return entries
}

// ─── formatting helpers shared by histogram() and printf("%s", t) ───

func keyString(k value.Value) string {
	switch k.Tag {
	case value.TagNumber:
		return fmt.Sprintf("%d", value.AsNumber(k))
	case value.TagShortStr, value.TagLongStr:
		return string(k.Ref().(*strpool.String).Bytes)
	case value.TagBoolean:
		return fmt.Sprintf("%t", value.AsBool(k))
	default:
		return fmt.Sprintf("%s", k.GoString())
	}
}

func valueString(v value.Value) string {
	switch v.Tag {
	case value.TagNumber:
		return fmt.Sprintf("%d", value.AsNumber(v))
	case value.TagShortStr, value.TagLongStr:
		return string(v.Ref().(*strpool.String).Bytes)
	default:
		return v.GoString()
	}
}

// Dump renders every present (key, value) as "key: value" lines,
// matching the Counter end-to-end scenario's expected output shape
// (print(t) over a table populated by count()).
func (t *Table) Dump() string {
	var b strings.Builder
	for _, e := range t.Entries() {
		fmt.Fprintf(&b, "%q: %s\n", keyString(e.Key), valueString(e.Val))
	}
	return b.String()
}

const (
	histogramDefaultTopNum = 20
	distributionBarWidth   = 40
	distributionStr        = "------------- Distribution -------------"
)

// Histogram renders the top-N entries by value (count), descending,
// with a proportional bar of '@' characters — table_histdump /
// kp_table_histogram ported directly, including the truncation ("...")
// row and the kernel-address heuristic from SPEC_FULL.md §1.3.
func (t *Table) Histogram(topN int) (string, error) {
	if topN <= 0 {
		topN = histogramDefaultTopNum
	}
	entries := t.Entries()
	for _, e := range entries {
		if !value.IsNumber(e.Val) {
			return "", errors.New("table histogram only handle (key: string/number val: number)")
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return value.AsNumber(entries[i].Val) > value.AsNumber(entries[j].Val)
	})

	var total int64
	for _, e := range entries {
		total += value.AsNumber(e.Val)
	}

	kernelLike := len(entries) > 0 && looksLikeKernelAddress(keyString(entries[0].Key))

	var b strings.Builder
	fmt.Fprintf(&b, "%32s%s%s\n", "value ", distributionStr, " count")

	shown := len(entries)
	truncated := false
	if shown > topN {
		shown = topN
		truncated = true
	}

	for i := 0; i < shown; i++ {
		e := entries[i]
		label := keyString(e.Key)
		if kernelLike {
			label = symbolizeKernelAddress(label)
		}
		label = truncateLabel(label, 32)

		v := value.AsNumber(e.Val)
		var ratio int64
		if total > 0 {
			ratio = v * int64(distributionBarWidth) / total
		}
		bar := strings.Repeat("@", int(ratio))
		fmt.Fprintf(&b, "%32s |%-*s%-7d\n", label, distributionBarWidth, bar, v)
	}
	if truncated {
		fmt.Fprintf(&b, "%32s |...\n", "")
	}
	return b.String(), nil
}

// truncateLabel mirrors string_convert: labels over 32 chars are cut
// to 32 and suffixed with "...".
func truncateLabel(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// looksLikeKernelAddress is the heuristic from SPEC_FULL.md §1.3,
// modeling table_histdump's SPRINT_SYMBOL-based guess without a real
// kernel symbol table: a 0x-prefixed hex literal that is long enough
// to plausibly be a 64-bit kernel text address.
func looksLikeKernelAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	hex := s[2:]
	if len(hex) < 8 {
		return false
	}
	for _, c := range hex {
		if !bytes.ContainsRune([]byte("0123456789abcdefABCDEF"), c) {
			return false
		}
	}
	return true
}

// symbolizeKernelAddress would resolve a kernel text address to a
// "symbol+offset" string via the host's symbol table; that table lives
// outside this package's charter (host tracing facility), so this is a
// passthrough placeholder a real deployment replaces with a resolver.
func symbolizeKernelAddress(addr string) string { return addr }

func init() {
	// nextPow2(0) is defined as 0 (empty hash part); guard against the
	// degenerate bits.Len(uint(-1)) call that would otherwise occur.
	_ = nextPow2(0)
}
