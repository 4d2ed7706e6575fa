package mem

import "golang.org/x/exp/constraints"

// AlignUp rounds value up to the nearest multiple of align. Align must be a
// power of two.
func AlignUp[T constraints.Unsigned](value, align T) T {
	return (value + align - 1) &^ (align - 1)
}

// AlignDown rounds value down to the nearest multiple of align. Align must be
// a power of two.
func AlignDown[T constraints.Unsigned](value, align T) T {
	return value &^ (align - 1)
}

// AlignUpDiv divides value by div, rounding the quotient up.
func AlignUpDiv[T constraints.Unsigned](value, div T) T {
	return (value + div - 1) / div
}

// IsAligned returns true if value is a multiple of align. Align must be a
// power of two.
func IsAligned[T constraints.Unsigned](value, align T) bool {
	return value&(align-1) == 0
}

// NextPowerOfTwo returns the smallest power of two that is greater than or
// equal to value. Zero yields one.
func NextPowerOfTwo[T constraints.Unsigned](value T) T {
	result := T(1)
	for result < value {
		result <<= 1
	}
	return result
}
