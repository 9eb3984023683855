package adapter

import "math/bits"

// occupancy is a 64-bit presence bitmap over the adapter's TMax thread
// slots. It is a trimmed-down relative of controlplane/internal/bitset's
// TinyBitset: that type holds MaxBitsetWords separate 64-bit words to
// track arbitrarily large index spaces, but TMax is fixed at exactly one
// machine word, so a single uint64 replaces the word array entirely while
// keeping the same trailing-zero-count technique for fast free-slot
// lookup.
type occupancy uint64

// set marks slot i occupied.
func (o *occupancy) set(i int) {
	*o |= 1 << uint(i)
}

// isSet reports whether slot i is occupied.
func (o occupancy) isSet(i int) bool {
	return o&(1<<uint(i)) != 0
}

// count returns the number of occupied slots.
func (o occupancy) count() int {
	return bits.OnesCount64(uint64(o))
}

// firstFree returns the lowest-indexed unoccupied slot and true, or
// (0, false) if every slot is occupied.
func (o occupancy) firstFree() (int, bool) {
	free := ^uint64(o)
	if free == 0 {
		return 0, false
	}
	return bits.TrailingZeros64(free), true
}
