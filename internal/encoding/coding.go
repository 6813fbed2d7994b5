// Package encoding provides fixed-width little-endian binary encoding and
// decoding primitives used by the on-media log layout.
//
// Every multi-byte integer in the layout (§3 of the design) is fixed-width
// and little-endian; there are no varints or other variable-length
// encodings anywhere in this format, unlike typical LSM on-disk formats.
package encoding

import (
	"encoding/binary"
	"math/bits"
)

// -----------------------------------------------------------------------------
// Fixed-width encoding (little-endian)
// -----------------------------------------------------------------------------

// EncodeFixed16 encodes a uint16 into a 2-byte little-endian buffer.
// REQUIRES: dst has at least 2 bytes.
func EncodeFixed16(dst []byte, value uint16) {
	binary.LittleEndian.PutUint16(dst, value)
}

// DecodeFixed16 decodes a uint16 from a 2-byte little-endian buffer.
// REQUIRES: src has at least 2 bytes.
func DecodeFixed16(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src)
}

// EncodeFixed32 encodes a uint32 into a 4-byte little-endian buffer.
// REQUIRES: dst has at least 4 bytes.
func EncodeFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// DecodeFixed32 decodes a uint32 from a 4-byte little-endian buffer.
// REQUIRES: src has at least 4 bytes.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// EncodeFixed64 encodes a uint64 into an 8-byte little-endian buffer.
// REQUIRES: dst has at least 8 bytes.
func EncodeFixed64(dst []byte, value uint64) {
	binary.LittleEndian.PutUint64(dst, value)
}

// DecodeFixed64 decodes a uint64 from an 8-byte little-endian buffer.
// REQUIRES: src has at least 8 bytes.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendFixed16 appends a little-endian uint16 to dst and returns the extended slice.
func AppendFixed16(dst []byte, value uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, value)
}

// AppendFixed32 appends a little-endian uint32 to dst and returns the extended slice.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a little-endian uint64 to dst and returns the extended slice.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// -----------------------------------------------------------------------------
// 128-bit fixed-width encoding
// -----------------------------------------------------------------------------

// U128 is an unsigned 128-bit integer stored as two 64-bit halves.
// It is used for the layout's head position and GUID fields.
type U128 struct {
	Lo uint64
	Hi uint64
}

// U128FromUint64 widens a uint64 into a U128.
func U128FromUint64(v uint64) U128 {
	return U128{Lo: v}
}

// Add returns u+v. Callers must check WouldOverflow first where the layout
// requires it; Add itself wraps on overflow like any fixed-width add.
func (u U128) Add(v U128) U128 {
	lo := u.Lo + v.Lo
	carry := uint64(0)
	if lo < u.Lo {
		carry = 1
	}
	return U128{Lo: lo, Hi: u.Hi + v.Hi + carry}
}

// Sub returns u-v, assuming u >= v.
func (u U128) Sub(v U128) U128 {
	lo := u.Lo - v.Lo
	borrow := uint64(0)
	if u.Lo < v.Lo {
		borrow = 1
	}
	return U128{Lo: lo, Hi: u.Hi - v.Hi - borrow}
}

// Cmp returns -1, 0, or 1 as u is less than, equal to, or greater than v.
func (u U128) Cmp(v U128) int {
	switch {
	case u.Hi < v.Hi:
		return -1
	case u.Hi > v.Hi:
		return 1
	case u.Lo < v.Lo:
		return -1
	case u.Lo > v.Lo:
		return 1
	default:
		return 0
	}
}

// Mod64 returns u mod m as a uint64. REQUIRES: m != 0. The result always
// fits in a uint64 because m does.
func (u U128) Mod64(m uint64) uint64 {
	if u.Hi == 0 {
		return u.Lo % m
	}
	// Rem64 divides the full 128-bit value Hi*2^64+Lo by m.
	return bits.Rem64(u.Hi, u.Lo, m)
}

// WouldOverflow reports whether u+v would exceed the maximum representable
// U128 value (2^128 - 1).
func (u U128) WouldOverflow(v U128) bool {
	_, carry := bits.Add64(u.Lo, v.Lo, 0)
	_, carry = bits.Add64(u.Hi, v.Hi, carry)
	return carry != 0
}

// EncodeFixed128 encodes a U128 into a 16-byte little-endian buffer
// (low 8 bytes first, matching spec.md's "u128 LE").
// REQUIRES: dst has at least 16 bytes.
func EncodeFixed128(dst []byte, value U128) {
	binary.LittleEndian.PutUint64(dst[0:8], value.Lo)
	binary.LittleEndian.PutUint64(dst[8:16], value.Hi)
}

// DecodeFixed128 decodes a U128 from a 16-byte little-endian buffer.
// REQUIRES: src has at least 16 bytes.
func DecodeFixed128(src []byte) U128 {
	return U128{
		Lo: binary.LittleEndian.Uint64(src[0:8]),
		Hi: binary.LittleEndian.Uint64(src[8:16]),
	}
}

// -----------------------------------------------------------------------------
// Slice-based decoding (sequential cursor over a byte buffer)
// -----------------------------------------------------------------------------

// Slice is a helper for reading sequentially from a byte slice.
type Slice struct {
	data []byte
	pos  int
}

// NewSlice creates a new Slice from a byte slice.
func NewSlice(data []byte) *Slice {
	return &Slice{data: data, pos: 0}
}

// Remaining returns the number of bytes remaining.
func (s *Slice) Remaining() int {
	return len(s.data) - s.pos
}

// Advance advances the position by n bytes.
func (s *Slice) Advance(n int) {
	s.pos += n
}

// GetFixed16 reads a fixed 16-bit value.
func (s *Slice) GetFixed16() (uint16, bool) {
	if s.Remaining() < 2 {
		return 0, false
	}
	v := DecodeFixed16(s.data[s.pos:])
	s.pos += 2
	return v, true
}

// GetFixed32 reads a fixed 32-bit value.
func (s *Slice) GetFixed32() (uint32, bool) {
	if s.Remaining() < 4 {
		return 0, false
	}
	v := DecodeFixed32(s.data[s.pos:])
	s.pos += 4
	return v, true
}

// GetFixed64 reads a fixed 64-bit value.
func (s *Slice) GetFixed64() (uint64, bool) {
	if s.Remaining() < 8 {
		return 0, false
	}
	v := DecodeFixed64(s.data[s.pos:])
	s.pos += 8
	return v, true
}

// GetFixed128 reads a fixed 128-bit value.
func (s *Slice) GetFixed128() (U128, bool) {
	if s.Remaining() < 16 {
		return U128{}, false
	}
	v := DecodeFixed128(s.data[s.pos:])
	s.pos += 16
	return v, true
}

// GetBytes reads exactly n bytes.
func (s *Slice) GetBytes(n int) ([]byte, bool) {
	if s.Remaining() < n {
		return nil, false
	}
	v := s.data[s.pos : s.pos+n]
	s.pos += n
	return v, true
}
