// Package bloom implements the membership filter that fronts the system of
// record: a fixed-size bit array with k derived hash positions per key. It has
// no false negatives, so a negative answer lets the request flow skip the
// account lookup entirely.
package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync/atomic"
)

// Filter is safe for concurrent use. Adds only ever set bits (OR-only), so
// readers never observe a torn state; Rebuild swaps in a fully populated
// array in a single pointer store.
type Filter struct {
	state atomic.Pointer[bitset]
}

type bitset struct {
	words []atomic.Uint64
	m     uint64
	k     int
	count atomic.Uint64
}

// New returns an empty filter sized for expectedMembers at the target
// false-positive rate. Sizing follows the standard construction:
// m = ceil(-n*ln(p)/ln(2)^2), k = ceil((m/n)*ln2).
func New(expectedMembers int, falsePositiveRate float64) *Filter {
	f := &Filter{}
	f.state.Store(newBitset(expectedMembers, falsePositiveRate))
	return f
}

func newBitset(expectedMembers int, falsePositiveRate float64) *bitset {
	if expectedMembers < 1 {
		expectedMembers = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	n := float64(expectedMembers)
	ln2 := math.Ln2
	m := uint64(math.Ceil(-n * math.Log(falsePositiveRate) / (ln2 * ln2)))
	if m < 64 {
		m = 64
	}
	k := int(math.Ceil(float64(m) / n * ln2))
	if k < 1 {
		k = 1
	}
	return &bitset{
		words: make([]atomic.Uint64, (m+63)/64),
		m:     m,
		k:     k,
	}
}

// Normalize maps case and whitespace variants of an address to a single key.
// Callers of the filter and of the system of record must agree on this form.
func Normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Add marks a key as present. Idempotent; never fails. The key is normalized
// before hashing.
func (f *Filter) Add(key string) {
	f.state.Load().add(Normalize(key))
}

// MightExist reports whether a key may have been added. False means
// definitely absent; true may be a false positive at the configured rate.
func (f *Filter) MightExist(key string) bool {
	return f.state.Load().mightExist(Normalize(key))
}

// Members returns the number of keys added since the last rebuild.
func (f *Filter) Members() uint64 {
	return f.state.Load().count.Load()
}

// Rebuild constructs a fresh bit array sized for expectedMembers, feeds it
// every key produced by walk, and swaps it in atomically. Concurrent readers
// see either the old array or the completed new one, never a partial state.
func (f *Filter) Rebuild(expectedMembers int, falsePositiveRate float64, walk func(add func(key string))) {
	next := newBitset(expectedMembers, falsePositiveRate)
	walk(func(key string) {
		next.add(Normalize(key))
	})
	f.state.Store(next)
}

func (b *bitset) add(key string) {
	for _, idx := range b.positions(key) {
		word := &b.words[idx/64]
		mask := uint64(1) << (idx % 64)
		for {
			old := word.Load()
			if old&mask == mask || word.CompareAndSwap(old, old|mask) {
				break
			}
		}
	}
	b.count.Add(1)
}

func (b *bitset) mightExist(key string) bool {
	for _, idx := range b.positions(key) {
		if b.words[idx/64].Load()&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// positions derives k near-independent indexes by hashing key with the
// derivation index appended, each digest reduced modulo m.
func (b *bitset) positions(key string) []uint64 {
	out := make([]uint64, b.k)
	for i := 0; i < b.k; i++ {
		h := sha256.New()
		h.Write([]byte(key))
		h.Write([]byte{byte(i)})
		sum := h.Sum(nil)
		out[i] = binary.BigEndian.Uint64(sum[:8]) % b.m
	}
	return out
}
