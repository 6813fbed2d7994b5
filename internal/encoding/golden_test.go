package encoding

import (
	"bytes"
	"testing"
)

// TestGoldenFixedEncoding pins down the exact byte layout of every
// fixed-width encoder this package exposes, since the log layout (§3) is
// specified byte-for-byte and any drift here is a format break.
func TestGoldenFixedEncoding(t *testing.T) {
	t.Run("Fixed16", func(t *testing.T) {
		testCases := []struct {
			value    uint16
			expected []byte
		}{
			{0x0000, []byte{0x00, 0x00}},
			{0x0001, []byte{0x01, 0x00}},
			{0x0100, []byte{0x00, 0x01}},
			{0xFFFF, []byte{0xFF, 0xFF}},
			{0x1234, []byte{0x34, 0x12}},
		}

		for _, tc := range testCases {
			buf := make([]byte, 2)
			EncodeFixed16(buf, tc.value)
			if !bytes.Equal(buf, tc.expected) {
				t.Errorf("EncodeFixed16(0x%04x) = %x, want %x", tc.value, buf, tc.expected)
			}
			decoded := DecodeFixed16(tc.expected)
			if decoded != tc.value {
				t.Errorf("DecodeFixed16(%x) = 0x%04x, want 0x%04x", tc.expected, decoded, tc.value)
			}
		}
	})

	t.Run("Fixed32", func(t *testing.T) {
		testCases := []struct {
			value    uint32
			expected []byte
		}{
			{0x00000000, []byte{0x00, 0x00, 0x00, 0x00}},
			{0x00000001, []byte{0x01, 0x00, 0x00, 0x00}},
			{0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
			{0x12345678, []byte{0x78, 0x56, 0x34, 0x12}},
		}

		for _, tc := range testCases {
			buf := make([]byte, 4)
			EncodeFixed32(buf, tc.value)
			if !bytes.Equal(buf, tc.expected) {
				t.Errorf("EncodeFixed32(0x%08x) = %x, want %x", tc.value, buf, tc.expected)
			}
			decoded := DecodeFixed32(tc.expected)
			if decoded != tc.value {
				t.Errorf("DecodeFixed32(%x) = 0x%08x, want 0x%08x", tc.expected, decoded, tc.value)
			}
		}
	})

	t.Run("Fixed64", func(t *testing.T) {
		testCases := []struct {
			value    uint64
			expected []byte
		}{
			{0x0000000000000000, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
			{0x0000000000000001, []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
			{0xFFFFFFFFFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
			{0x0123456789ABCDEF, []byte{0xEF, 0xCD, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01}},
		}

		for _, tc := range testCases {
			buf := make([]byte, 8)
			EncodeFixed64(buf, tc.value)
			if !bytes.Equal(buf, tc.expected) {
				t.Errorf("EncodeFixed64(0x%016x) = %x, want %x", tc.value, buf, tc.expected)
			}
			decoded := DecodeFixed64(tc.expected)
			if decoded != tc.value {
				t.Errorf("DecodeFixed64(%x) = 0x%016x, want 0x%016x", tc.expected, decoded, tc.value)
			}
		}
	})

	t.Run("Fixed128", func(t *testing.T) {
		testCases := []struct {
			value    U128
			expected []byte
		}{
			{U128{Lo: 0, Hi: 0}, make([]byte, 16)},
			{U128{Lo: 1, Hi: 0}, []byte{0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
			{U128{Lo: 0, Hi: 1}, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0, 0, 0, 0, 0, 0, 0}},
			{U128{Lo: 0xFFFFFFFFFFFFFFFF, Hi: 0xFFFFFFFFFFFFFFFF}, bytes.Repeat([]byte{0xFF}, 16)},
		}

		for _, tc := range testCases {
			buf := make([]byte, 16)
			EncodeFixed128(buf, tc.value)
			if !bytes.Equal(buf, tc.expected) {
				t.Errorf("EncodeFixed128(%+v) = %x, want %x", tc.value, buf, tc.expected)
			}
			decoded := DecodeFixed128(tc.expected)
			if decoded != tc.value {
				t.Errorf("DecodeFixed128(%x) = %+v, want %+v", tc.expected, decoded, tc.value)
			}
		}
	})
}

func TestU128Arithmetic(t *testing.T) {
	max := U128{Lo: 0xFFFFFFFFFFFFFFFF, Hi: 0xFFFFFFFFFFFFFFFF}
	one := U128FromUint64(1)

	if !max.WouldOverflow(one) {
		t.Error("max + 1 should overflow")
	}
	if one.WouldOverflow(one) {
		t.Error("1 + 1 should not overflow")
	}

	sum := U128FromUint64(5).Add(U128FromUint64(7))
	if sum.Cmp(U128FromUint64(12)) != 0 {
		t.Errorf("5 + 7 = %+v, want 12", sum)
	}

	diff := U128FromUint64(12).Sub(U128FromUint64(7))
	if diff.Cmp(U128FromUint64(5)) != 0 {
		t.Errorf("12 - 7 = %+v, want 5", diff)
	}

	wrapped := U128{Lo: 0, Hi: 1}.Sub(U128FromUint64(1))
	want := U128{Lo: 0xFFFFFFFFFFFFFFFF, Hi: 0}
	if wrapped.Cmp(want) != 0 {
		t.Errorf("2^64 - 1 = %+v, want %+v", wrapped, want)
	}
}

func TestU128Mod64(t *testing.T) {
	testCases := []struct {
		value U128
		m     uint64
		want  uint64
	}{
		{U128FromUint64(10), 3, 1},
		{U128FromUint64(0), 7, 0},
		{U128{Lo: 0, Hi: 1}, 3, 1}, // 2^64 mod 3 == 1
	}

	for _, tc := range testCases {
		got := tc.value.Mod64(tc.m)
		if got != tc.want {
			t.Errorf("%+v.Mod64(%d) = %d, want %d", tc.value, tc.m, got, tc.want)
		}
	}
}
