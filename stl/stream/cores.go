package stream

import (
	"iter"
	"math/bits"
)

// MaxCores is the largest number of cores a generator may use.
const MaxCores = 64

// CoreMap is a set of core indices.
type CoreMap uint64

// NewCoreMap returns a map of the first "n" cores.
func NewCoreMap(n int) CoreMap {
	if n <= 0 {
		return 0
	}
	if n >= MaxCores {
		return CoreMap(^uint64(0))
	}

	return CoreMap(^uint64(0) >> (MaxCores - n))
}

func (m CoreMap) IsEmpty() bool {
	return m == 0
}

func (m CoreMap) Len() int {
	return bits.OnesCount64(uint64(m))
}

// Iter yields core indices from the lowest to the highest.
func (m CoreMap) Iter() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		word := uint64(m)
		for word > 0 {
			idx := bits.TrailingZeros64(word)
			word &= word - 1

			if !yield(uint32(idx)) {
				return
			}
		}
	}
}

// Phases yields every core together with its phase, the position of the
// core within the map.
func (m CoreMap) Phases() iter.Seq2[uint64, uint32] {
	return func(yield func(uint64, uint32) bool) {
		phase := uint64(0)
		for core := range m.Iter() {
			if !yield(phase, core) {
				return
			}
			phase++
		}
	}
}
