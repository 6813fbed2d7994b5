// Package checksum computes the 64-bit integrity checksums stored alongside
// every metadata structure in the log layout. A checksum mismatch on
// recovery means the structure was not durably and completely written by
// the last crash-free run; matching bytes are assumed uncorrupted, per the
// same axiom production storage engines use for their own CRCs.
package checksum

import "github.com/zeebo/xxh3"

// CRC64 computes the 64-bit checksum of data.
func CRC64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Verify reports whether want matches the checksum of data.
func Verify(data []byte, want uint64) bool {
	return CRC64(data) == want
}
