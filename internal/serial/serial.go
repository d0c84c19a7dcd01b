// Package serial implements wraparound-safe arithmetic for fixed-width
// counters (RFC 1982 serial number arithmetic).
//
// Counters such as packet sequence numbers and control frames increase
// monotonically but are transmitted in a fixed number of bits, so they
// eventually wrap to zero. Naive integer comparison breaks at the wrap
// point; the functions here resolve ordering by which operand is ahead
// by less than half the modulus.
//
// The comparison is explicitly undefined when the true distance between
// two counters is half the modulus or more. This is an inherent limit of
// the technique, not a bug: callers must size their counters so that the
// live window never approaches half the value space.
package serial

// Ordering is the result of comparing two serial numbers.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	default:
		return "unknown"
	}
}

// mask returns the all-ones value for an n-bit counter.
func mask(bits uint) uint32 {
	if bits >= 32 {
		return ^uint32(0)
	}
	return (1 << bits) - 1
}

// Add returns a+b modulo 2^bits.
func Add(a, b uint32, bits uint) uint32 {
	m := mask(bits)
	return (a&m + b&m) & m
}

// Sub returns a-b modulo 2^bits.
func Sub(a, b uint32, bits uint) uint32 {
	m := mask(bits)
	return (a&m - b&m) & m
}

// Cmp compares two n-bit serial numbers.
//
// Cmp(a, a) is Equal. Otherwise a is Less than b when b is ahead of a by
// less than 2^(bits-1), and Greater when a is ahead of b by less than
// 2^(bits-1). The result is undefined when the distance is exactly or
// beyond the half-way point.
func Cmp(a, b uint32, bits uint) Ordering {
	m := mask(bits)
	a &= m
	b &= m

	if a == b {
		return Equal
	}

	half := (m >> 1) + 1
	if (a < b && b-a < half) || (a > b && a-b > half) {
		return Less
	}
	return Greater
}
