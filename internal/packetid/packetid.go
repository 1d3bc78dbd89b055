// Package packetid implements wrap-around arithmetic over the 20-bit packet
// sequence id space and the 32-bit frame id space.
package packetid

// Space is the size of the wrap-around packet id space (2^20 ids, 20 bits).
const Space = 1 << 20

// Mask isolates the low 20 bits of an id.
const Mask = Space - 1

// ID is a packet sequence identifier, always kept within [0, Space).
type ID uint32

// Norm reduces v into the valid id range.
func Norm(v uint32) ID {
	return ID(v & Mask)
}

// Add returns id+delta, wrapped modulo Space.
func Add(id ID, delta uint32) ID {
	return ID((uint32(id) + delta) & Mask)
}

// Sub returns the modular distance a-b, i.e. (a-b) mod Space. The result is
// always in [0, Space).
func Sub(a, b ID) uint32 {
	return (uint32(a) - uint32(b)) & Mask
}

// InWindow reports whether id lies in [base, base+windowSize) under modular
// arithmetic. windowSize must be a power of two no greater than Space.
func InWindow(id, base ID, windowSize uint32) bool {
	return Sub(id, base) < windowSize
}

// MaxWindowSize is the largest packet window size the wire format supports.
const MaxWindowSize = 4096
