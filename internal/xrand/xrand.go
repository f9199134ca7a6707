// Package xrand wraps crypto/rand in two small helpers, mirroring the
// teacher's habit of funnelling randomness through one place. No other
// package in this module imports it.
package xrand

import "crypto/rand"

// Bytes returns n cryptographically random bytes.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Uint16 returns a uniformly random 16-bit value.
func Uint16() (uint16, error) {
	b, err := Bytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}
