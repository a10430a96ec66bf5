package vdir

// bloom is a fixed-size, fixed-k bloom filter embedded directly in the
// mmap region (spec.md §4.1 "Bloom filter (fixed, e.g. 32 KB)"). It is
// used only as a pre-check to short-circuit definite misses before
// probing the stat table; a positive never guarantees a hit.
type bloom struct {
	bits []byte // slice view into the mmap region
}

const bloomK = 4

func newBloomView(mm []byte) bloom {
	return bloom{bits: mm}
}

func (b bloom) nbits() uint64 {
	return uint64(len(b.bits)) * 8
}

func (b bloom) positions(h uint64) [bloomK]uint64 {
	n := b.nbits()
	h2 := mix64(h)
	var pos [bloomK]uint64
	for i := 0; i < bloomK; i++ {
		pos[i] = (h + uint64(i)*h2) % n
	}
	return pos
}

// set marks h as present. Only ever called by the daemon (single writer).
func (b bloom) set(h uint64) {
	for _, p := range b.positions(h) {
		b.bits[p/8] |= 1 << (p % 8)
	}
}

// mayContain returns false only when h is definitely absent.
func (b bloom) mayContain(h uint64) bool {
	for _, p := range b.positions(h) {
		if b.bits[p/8]&(1<<(p%8)) == 0 {
			return false
		}
	}
	return true
}

// mix64 is a cheap avalanche mix (splitmix64 finalizer) used to derive a
// second, decorrelated hash from the fnv1a path hash for double hashing.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	if x == 0 {
		return 1
	}
	return x
}
