package store

import (
	"hash/fnv"
	"math"
)

// nameFilter is a bloom filter over lowercase entity names used to
// short-circuit ExistsByName lookups. A negative answer is definitive;
// a positive answer must be confirmed against the database.
type nameFilter struct {
	bits   []uint64
	nbits  uint64
	hashes int
}

// newNameFilter sizes a filter for the expected item count at a ~1%
// false-positive rate. A zero or negative expectation gets a small
// minimum so the filter is always usable.
func newNameFilter(expectedItems int) *nameFilter {
	if expectedItems < 64 {
		expectedItems = 64
	}

	// m = -n*ln(p) / (ln2)^2, k = (m/n)*ln2
	const fpRate = 0.01
	n := float64(expectedItems)
	m := math.Ceil(-n * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	k := int(math.Round(m / n * math.Ln2))
	if k < 1 {
		k = 1
	}

	nbits := uint64(m)
	return &nameFilter{
		bits:   make([]uint64, (nbits+63)/64),
		nbits:  nbits,
		hashes: k,
	}
}

// indexes derives k bit positions via double hashing of the FNV-1a sum.
func (f *nameFilter) indexes(name string) []uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	sum := h.Sum64()

	h1 := sum
	h2 := sum>>33 | sum<<31

	idx := make([]uint64, f.hashes)
	for i := range idx {
		idx[i] = (h1 + uint64(i)*h2) % f.nbits
	}
	return idx
}

// Add marks the name as present.
func (f *nameFilter) Add(name string) {
	for _, i := range f.indexes(name) {
		f.bits[i/64] |= 1 << (i % 64)
	}
}

// MayContain reports whether the name might be present. False means
// definitely absent.
func (f *nameFilter) MayContain(name string) bool {
	for _, i := range f.indexes(name) {
		if f.bits[i/64]&(1<<(i%64)) == 0 {
			return false
		}
	}
	return true
}
