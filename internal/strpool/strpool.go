// Package strpool implements the two-tier string pool: short strings
// (<= shortStringMax bytes) are interned in a chained hash table sized
// to a power of two, long strings are allocated individually and never
// interned. Both tiers hash with the same 5-bit-skip polynomial,
// reproduced from the source's kp_string_hash (tstring.c) rather than
// reinvented, since the base spec only describes it by name.
package strpool

import (
	"bytes"
	"sync"

	"go.uber.org/zap"

	"github.com/ktap/ktap-sub001/internal/value"
)

// shortStringMax mirrors STRING_MAXSHORTLEN.
const shortStringMax = 40

// initialSize mirrors the session's string pool initial bucket count
// from the state-lifecycle component (§4.9): 512.
const initialSize = 512

// String is the GC object backing both short and long strings. Short
// strings are deduplicated by the Pool; long strings are not.
type String struct {
	value.Header
	Bytes []byte
	Hash  uint32
	Long  bool
}

func (s *String) Len() int { return len(s.Bytes) }

// Hash computes the 5-bit-skip polynomial hash used for both tiers.
//
//	h = seed xor len
//	step = (len >> 5) + 1
//	for i := len; i >= step; i -= step { h ^= (h<<5)+(h>>2)+byte(s[i-1]) }
//
// Ported directly from kp_string_hash; STRING_HASHLIMIT there is the
// shift amount 5.
func Hash(s []byte, seed uint32) uint32 {
	h := seed ^ uint32(len(s))
	step := (len(s) >> 5) + 1
	for i := len(s); i >= step; i -= step {
		h ^= (h << 5) + (h >> 2) + uint32(s[i-1])
	}
	return h
}

// Pool is the session-wide string table. A single mutex covers
// interning and resize: "a single lock covering the pool is sufficient
// because probe-path hot loops allocate into localgc using
// unsynchronized long-string creation" (§4.2) — long strings never
// touch this lock at all.
type Pool struct {
	mu      sync.Mutex
	buckets [][]*String // chain-per-bucket; bucket count is always a power of two
	count   int
	seed    uint32
	log     *zap.SugaredLogger
}

// New creates a pool sized to the session's initial bucket count (512,
// per §4.9) with the given hash seed.
func New(seed uint32, log *zap.SugaredLogger) *Pool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pool{
		buckets: make([][]*String, initialSize),
		seed:    seed,
		log:     log,
	}
}

func lmod(h uint32, size int) uint32 {
	return h & uint32(size-1) // size is always a power of two
}

// Intern returns the canonical *String for s, interning short strings
// (allocating a new entry only on first sight) and allocating a fresh,
// non-interned String for anything longer than shortStringMax.
func (p *Pool) Intern(s []byte) *String {
	if len(s) <= shortStringMax {
		return p.internShort(s)
	}
	return p.newLong(s)
}

// InternString is a convenience wrapper over Intern for Go strings.
func (p *Pool) InternString(s string) *String {
	return p.Intern([]byte(s))
}

func (p *Pool) internShort(s []byte) *String {
	h := Hash(s, p.seed)

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := lmod(h, len(p.buckets))
	for _, cand := range p.buckets[idx] {
		if cand.Hash == h && len(cand.Bytes) == len(s) && bytes.Equal(cand.Bytes, s) {
			return cand
		}
	}

	if p.count >= len(p.buckets) {
		p.resizeLocked(len(p.buckets) * 2)
		idx = lmod(h, len(p.buckets))
	}

	cp := make([]byte, len(s))
	copy(cp, s)
	str := &String{Bytes: cp, Hash: h, Long: false}
	p.buckets[idx] = append(p.buckets[idx], str)
	p.count++
	return str
}

// newLong allocates a String that is never interned: two calls with
// identical bytes return distinct objects, matching "long strings...
// never interned" (§4.2) and the by-bytes (not by-pointer) equality
// rule from the data model.
func (p *Pool) newLong(s []byte) *String {
	cp := make([]byte, len(s))
	copy(cp, s)
	return &String{Bytes: cp, Hash: Hash(s, p.seed), Long: true}
}

// resizeLocked rehashes every bucket into a table of the new size.
// Caller must hold p.mu. Mirrors kp_tstring_resize's rehash loop,
// minus the kernel-only resize-during-GC caveat (there is no
// concurrent collector here).
func (p *Pool) resizeLocked(newSize int) {
	old := p.buckets
	p.buckets = make([][]*String, newSize)
	for _, chain := range old {
		for _, s := range chain {
			idx := lmod(s.Hash, newSize)
			p.buckets[idx] = append(p.buckets[idx], s)
		}
	}
	p.log.Debugw("string pool resized", "old_size", len(old), "new_size", newSize, "nuse", p.count)
}

// Len reports the number of interned short strings. Long strings are
// not tracked by the pool (they are owned by whichever GC list the
// allocator attached them to) so they are not counted here.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Eq implements the by-bytes equality rule for long strings (kp_tstring_eqlngstr)
// and the by-identity rule for short strings in one call, so callers
// outside this package never need to branch on String.Long themselves.
func Eq(a, b *String) bool {
	if a == b {
		return true
	}
	if a.Long != b.Long {
		return false
	}
	if !a.Long {
		return false // distinct short strings are never equal
	}
	return len(a.Bytes) == len(b.Bytes) && bytes.Equal(a.Bytes, b.Bytes)
}

// Compare implements ordering for long strings, used by Table.Sort
// when keys are compared lexicographically. Short strings compare
// equal only by identity (Eq) but may still need an ordering for
// sort(); byte-compare is used uniformly since Go strings have no
// embedded-NUL segmentation to special-case (see SPEC_FULL.md §1.3).
func Compare(a, b *String) int {
	return bytes.Compare(a.Bytes, b.Bytes)
}
