package vm

import (
	"sync"
)

// Fast linear congruential generator used on the fast path.
//
// Every draw mutates the 32-bit state in place; the state itself lives in
// the BSS so that each stream instance owns an independent sequence.

const (
	randMul = 214013
	randInc = 2531011
)

// rand16 returns a 15-bit pseudo-random value.
func rand16(seed *uint32) uint32 {
	*seed = randMul*(*seed) + randInc
	return (*seed >> 16) & 0x7fff
}

func rand32(seed *uint32) uint32 {
	hi := rand16(seed)
	return hi<<16 + rand16(seed)
}

func rand64(seed *uint32) uint64 {
	hi := uint64(rand32(seed))
	return hi<<32 + uint64(rand32(seed))
}

// randRange draws a value uniformly from [min, max] using as many random
// bits as the variable width needs.
func randRange(seed *uint32, width uint8, min uint64, max uint64) uint64 {
	var r uint64
	switch width {
	case 1:
		r = uint64(rand16(seed))
	case 2, 4:
		r = uint64(rand32(seed))
	default:
		r = rand64(seed)
	}

	sp := span(min, max)
	if sp == 0 {
		return r
	}

	return min + r%sp
}

const (
	avgSamples      = 10000
	avgMaxCacheSize = 9230
)

// randAverages caches the empirical mean of "rand % (target+1)".
//
// The generator is not perfectly uniform, so the expected packet length of
// a random size range is measured rather than computed.
type randAverages struct {
	mu    sync.Mutex
	cache map[uint16]float64
}

func newRandAverages() *randAverages {
	return &randAverages{
		cache: map[uint16]float64{},
	}
}

func (m *randAverages) Average(target uint16) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if avg, ok := m.cache[target]; ok {
		return avg
	}

	seed := uint32(1)
	sum := uint64(0)
	for range avgSamples {
		sum += uint64(rand32(&seed)) % (uint64(target) + 1)
	}
	avg := float64(sum) / avgSamples

	if len(m.cache) < avgMaxCacheSize {
		m.cache[target] = avg
	}

	return avg
}
