package mem

// Size expresses an amount of memory in bytes.
type Size uint64

// Multiples of a byte, for readable region and total sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)
