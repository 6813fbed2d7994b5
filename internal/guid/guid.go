// Package guid wraps github.com/google/uuid to produce the 128-bit program
// and log identifiers used by the layout's u128 GUID fields.
package guid

import (
	"github.com/google/uuid"

	"github.com/crashlog/pmlog/internal/encoding"
)

// New generates a fresh random (v4) identifier.
func New() encoding.U128 {
	return FromUUID(uuid.New())
}

// FromUUID converts a uuid.UUID into the U128 representation stored
// on-media, treating the UUID's 16 bytes as a little-endian u128 (matching
// encoding.DecodeFixed128's byte order).
func FromUUID(u uuid.UUID) encoding.U128 {
	return encoding.DecodeFixed128(u[:])
}

// ToUUID converts a U128 back into a uuid.UUID for display/parsing.
func ToUUID(v encoding.U128) uuid.UUID {
	var u uuid.UUID
	encoding.EncodeFixed128(u[:], v)
	return u
}

// MustParse parses a canonical UUID string into a U128, panicking on a
// malformed literal. Intended for compile-time-constant program GUIDs.
func MustParse(s string) encoding.U128 {
	return FromUUID(uuid.MustParse(s))
}
