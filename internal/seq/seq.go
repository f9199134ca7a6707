// Package seq implements wraparound-aware comparisons over 16-bit
// sequence numbers, shared by seqbuf, reliability, and replay.
package seq

// GreaterThan reports whether a is newer than b under 16-bit wraparound,
// treating sequence numbers as a cyclic space where at most half the
// space separates any two "nearby" values.
func GreaterThan(a, b uint16) bool {
	return (a > b && a-b <= 32768) || (a < b && b-a > 32768)
}

// LessThan reports whether a is older than b under 16-bit wraparound.
func LessThan(a, b uint16) bool {
	return GreaterThan(b, a)
}
