package vm

import (
	"math/bits"
)

// Ranges are described by their span "max-min+1"; a zero span stands for
// the full 64-bit domain.

func span(min uint64, max uint64) uint64 {
	return max - min + 1
}

// incMod advances "cur" by "step" inside [min, max]. Wrapping past "max"
// restarts from "min", and the restart itself consumes one step.
func incMod(min uint64, max uint64, cur uint64, step uint64) (uint64, bool) {
	left := max - cur
	if step <= left {
		return cur + step, false
	}

	return min + (step - left - 1), true
}

// decMod is the mirror of incMod.
func decMod(min uint64, max uint64, cur uint64, step uint64) (uint64, bool) {
	left := cur - min
	if step <= left {
		return cur - step, false
	}

	return max - (step - left - 1), true
}

// mulDivMod returns the quotient and the remainder of "a*b" divided by "m",
// where zero "m" means 2^64. The quotient is truncated to 64 bits.
func mulDivMod(a uint64, b uint64, m uint64) (uint64, uint64) {
	hi, lo := bits.Mul64(a, b)
	if m == 0 {
		return hi, lo
	}

	q, r := bits.Div64(hi%m, lo, m)
	return q, r
}

// reduceStep splits a step into the part that fits into the span and the
// number of complete wrap-arounds it contains.
func reduceStep(step uint64, sp uint64) (uint64, uint64) {
	if sp == 0 {
		return step, 0
	}

	return step % sp, step / sp
}

// splitLimit divides a per-stream limit between "mul" cores. Core 0
// receives the remainder and no core gets less than 1.
func splitLimit(limit uint64, phase uint64, mul uint64) uint64 {
	perCore := limit / mul
	if phase == 0 {
		perCore += limit % mul
	}
	if perCore == 0 {
		perCore = 1
	}

	return perCore
}

// widthMax returns the largest value representable in "width" bytes.
func widthMax(width uint8) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}

	return 1<<(8*uint64(width)) - 1
}

func isValidWidth(width uint8) bool {
	switch width {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}
