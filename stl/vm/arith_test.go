package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_IncMod(t *testing.T) {
	cases := []struct {
		name    string
		min     uint64
		max     uint64
		cur     uint64
		step    uint64
		want    uint64
		wrapped bool
	}{
		{"inside", 0, 9, 5, 3, 8, false},
		{"up to max", 0, 9, 6, 3, 9, false},
		{"wrap from max", 0, 9, 9, 1, 0, true},
		{"wrap consumes one step", 0, 9, 8, 3, 1, true},
		{"shifted range", 100, 200, 200, 1, 100, true},
		{"full domain", 0, math.MaxUint64, math.MaxUint64, 1, 0, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, wrapped := incMod(c.min, c.max, c.cur, c.step)
			assert.Equal(t, c.want, got)
			assert.Equal(t, c.wrapped, wrapped)
		})
	}
}

func Test_DecMod(t *testing.T) {
	got, wrapped := decMod(0, 9, 5, 3)
	assert.Equal(t, uint64(2), got)
	assert.False(t, wrapped)

	got, wrapped = decMod(0, 9, 0, 1)
	assert.Equal(t, uint64(9), got)
	assert.True(t, wrapped)

	got, wrapped = decMod(0, 9, 1, 3)
	assert.Equal(t, uint64(8), got)
	assert.True(t, wrapped)
}

func Test_MulDivMod(t *testing.T) {
	q, r := mulDivMod(3, 4, 5)
	assert.Equal(t, uint64(2), q)
	assert.Equal(t, uint64(2), r)

	// 2^65 over the full 64-bit domain.
	q, r = mulDivMod(1<<63, 4, 0)
	assert.Equal(t, uint64(2), q)
	assert.Equal(t, uint64(0), r)

	q, r = mulDivMod(1<<63, 4, 3)
	assert.Equal(t, uint64(12297829382473034410), q)
	assert.Equal(t, uint64(2), r)
}

func Test_ReduceStep(t *testing.T) {
	step, wraps := reduceStep(23, 10)
	assert.Equal(t, uint64(3), step)
	assert.Equal(t, uint64(2), wraps)

	step, wraps = reduceStep(5, 0)
	assert.Equal(t, uint64(5), step)
	assert.Equal(t, uint64(0), wraps)
}

func Test_SplitLimit(t *testing.T) {
	assert.Equal(t, uint64(4), splitLimit(10, 0, 3))
	assert.Equal(t, uint64(3), splitLimit(10, 1, 3))
	assert.Equal(t, uint64(3), splitLimit(10, 2, 3))
	assert.Equal(t, uint64(1), splitLimit(2, 2, 3))
}

func Test_WidthMax(t *testing.T) {
	assert.Equal(t, uint64(0xff), widthMax(1))
	assert.Equal(t, uint64(0xffff), widthMax(2))
	assert.Equal(t, uint64(0xffffffff), widthMax(4))
	assert.Equal(t, uint64(math.MaxUint64), widthMax(8))
}

func Test_Rand16(t *testing.T) {
	seed := uint32(1)

	assert.Equal(t, uint32(41), rand16(&seed))
	assert.Equal(t, uint32(18467), rand16(&seed))
	assert.Equal(t, uint32(6334), rand16(&seed))
}

func Test_Rand32(t *testing.T) {
	seed := uint32(1)

	assert.Equal(t, uint32(41<<16+18467), rand32(&seed))
}

func Test_RandRange(t *testing.T) {
	seed := uint32(7)

	for _, width := range []uint8{1, 2, 4, 8} {
		for range 1000 {
			v := randRange(&seed, width, 10, 20)
			assert.GreaterOrEqual(t, v, uint64(10))
			assert.LessOrEqual(t, v, uint64(20))
		}
	}

	assert.Equal(t, uint64(5), randRange(&seed, 2, 5, 5))
}

func Test_RandAverages(t *testing.T) {
	avg := newRandAverages()

	assert.Equal(t, 0.0, avg.Average(0))
	assert.InDelta(t, 0.5, avg.Average(1), 0.05)
	assert.InDelta(t, 500.0, avg.Average(1000), 25.0)

	first := avg.Average(68)
	assert.Equal(t, first, avg.Average(68))
	assert.Len(t, avg.cache, 4)
}
