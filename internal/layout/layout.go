// Package layout defines the on-media byte layout shared by the log and
// multilog engines (spec §3, §4.E) and the recovery algorithm that
// validates a region's committed bytes and reconstructs in-memory state
// from them (spec §4.E), grounded on
// original_source/storage_node/src/multilog/layout_v.rs and
// original_source/storage_node/src/log/start_v.rs.
//
// A single-region log is, on media, indistinguishable from a one-region
// multilog (spec §9's open question resolves this way): both packages
// share every offset, struct, and recovery step defined here.
package layout

import (
	"github.com/crashlog/pmlog/internal/checksum"
	"github.com/crashlog/pmlog/internal/encoding"
)

// Absolute and relative byte offsets, exactly as spec §3 and the original
// Verus source's layout_v.rs name them. Do not reorder or resize these:
// they are the wire format.
const (
	PosGlobalMetadata             = 0
	RelPosGlobalVersionNumber     = 0
	RelPosGlobalLengthOfRegionMD  = 8
	RelPosGlobalProgramGUID       = 16
	LengthGlobalMetadata          = 32
	PosGlobalCRC                  = 32

	PosRegionMetadata           = 40
	RelPosRegionNumLogs         = 0
	RelPosRegionWhichLog        = 4
	RelPosRegionPadding         = 8
	RelPosRegionRegionSize      = 16
	RelPosRegionLogAreaLen      = 24
	RelPosRegionID              = 32
	LengthRegionMetadata        = 48
	PosRegionCRC                = 88

	PosLogCDB              = 96
	PosLogMetadataCDBFalse = 104
	PosLogMetadataCDBTrue  = 144
	RelPosLogLogLength     = 0
	RelPosLogPadding       = 8
	RelPosLogHead          = 16
	LengthLogMetadata      = 32
	PosLogCRCCDBFalse      = 136
	PosLogCRCCDBTrue       = 176
	PosLogArea             = 256

	// CRCSize is the width of every CRC field in the layout.
	CRCSize = 8

	// ProgramVersionNumber is the only global-metadata version number
	// this code knows how to interpret.
	ProgramVersionNumber = 1

	// MinLogAreaSizeFloor is the absolute minimum the original source
	// enforces (spec §9: "implementer should pick a value that makes
	// head-advance reasoning efficient" for practical deployments — see
	// config.DefaultMinLogAreaSize for the value actually used).
	MinLogAreaSizeFloor = 1
)

// CDB_FALSE and CDB_TRUE are the two corruption-detecting boolean values.
// They must differ in enough bits that corruption flipping one into the
// other is treated as impossible (spec §3, §4.B).
const (
	CDBFalse uint64 = 0xa32842d19001605e
	CDBTrue  uint64 = 0xab21aa73069531b7
)

// LogMetadataPos returns the absolute offset of the log-metadata copy that
// is active when the corruption-detecting boolean has value cdb.
func LogMetadataPos(cdb bool) uint64 {
	if cdb {
		return PosLogMetadataCDBTrue
	}
	return PosLogMetadataCDBFalse
}

// LogCRCPos returns the absolute offset of the CRC guarding the active log
// metadata copy for the given cdb value.
func LogCRCPos(cdb bool) uint64 {
	if cdb {
		return PosLogCRCCDBTrue
	}
	return PosLogCRCCDBFalse
}

// ParseCDB interprets an 8-byte CDB value. ok is false if v is neither
// CDBFalse nor CDBTrue, which the corruption-discrimination axiom (spec
// §4.B) treats as corruption, never as a third valid state.
func ParseCDB(v uint64) (cdb bool, ok bool) {
	switch v {
	case CDBFalse:
		return false, true
	case CDBTrue:
		return true, true
	default:
		return false, false
	}
}

// FlippedCDB returns the CDB value to write when flipping away from cdb.
func FlippedCDB(cdb bool) uint64 {
	if cdb {
		return CDBFalse
	}
	return CDBTrue
}

// GlobalMetadata is constant for the lifetime of a region (spec §3).
type GlobalMetadata struct {
	VersionNumber          uint64
	LengthOfRegionMetadata uint64
	ProgramGUID            encoding.U128
}

// Serialize encodes g into exactly LengthGlobalMetadata bytes.
func (g GlobalMetadata) Serialize() []byte {
	buf := make([]byte, LengthGlobalMetadata)
	encoding.EncodeFixed64(buf[RelPosGlobalVersionNumber:], g.VersionNumber)
	encoding.EncodeFixed64(buf[RelPosGlobalLengthOfRegionMD:], g.LengthOfRegionMetadata)
	encoding.EncodeFixed128(buf[RelPosGlobalProgramGUID:], g.ProgramGUID)
	return buf
}

// DeserializeGlobalMetadata is the inverse of Serialize.
// REQUIRES: len(b) >= LengthGlobalMetadata.
func DeserializeGlobalMetadata(b []byte) GlobalMetadata {
	return GlobalMetadata{
		VersionNumber:          encoding.DecodeFixed64(b[RelPosGlobalVersionNumber:]),
		LengthOfRegionMetadata: encoding.DecodeFixed64(b[RelPosGlobalLengthOfRegionMD:]),
		ProgramGUID:            encoding.DecodeFixed128(b[RelPosGlobalProgramGUID:]),
	}
}

// CRC computes the checksum stored alongside g.
func (g GlobalMetadata) CRC() uint64 { return checksum.CRC64(g.Serialize()) }

// RegionMetadata is constant for the lifetime of a region (spec §3, §4.G).
type RegionMetadata struct {
	NumLogs    uint32
	WhichLog   uint32
	Padding    uint64
	RegionSize uint64
	LogAreaLen uint64
	ID         encoding.U128
}

// Serialize encodes r into exactly LengthRegionMetadata bytes.
func (r RegionMetadata) Serialize() []byte {
	buf := make([]byte, LengthRegionMetadata)
	encoding.EncodeFixed32(buf[RelPosRegionNumLogs:], r.NumLogs)
	encoding.EncodeFixed32(buf[RelPosRegionWhichLog:], r.WhichLog)
	encoding.EncodeFixed64(buf[RelPosRegionPadding:], r.Padding)
	encoding.EncodeFixed64(buf[RelPosRegionRegionSize:], r.RegionSize)
	encoding.EncodeFixed64(buf[RelPosRegionLogAreaLen:], r.LogAreaLen)
	encoding.EncodeFixed128(buf[RelPosRegionID:], r.ID)
	return buf
}

// DeserializeRegionMetadata is the inverse of Serialize.
// REQUIRES: len(b) >= LengthRegionMetadata.
func DeserializeRegionMetadata(b []byte) RegionMetadata {
	return RegionMetadata{
		NumLogs:    encoding.DecodeFixed32(b[RelPosRegionNumLogs:]),
		WhichLog:   encoding.DecodeFixed32(b[RelPosRegionWhichLog:]),
		Padding:    encoding.DecodeFixed64(b[RelPosRegionPadding:]),
		RegionSize: encoding.DecodeFixed64(b[RelPosRegionRegionSize:]),
		LogAreaLen: encoding.DecodeFixed64(b[RelPosRegionLogAreaLen:]),
		ID:         encoding.DecodeFixed128(b[RelPosRegionID:]),
	}
}

// CRC computes the checksum stored alongside r.
func (r RegionMetadata) CRC() uint64 { return checksum.CRC64(r.Serialize()) }

// LogMetadata changes on every commit/advance_head (spec §3).
type LogMetadata struct {
	LogLength uint64
	Padding   uint64
	Head      encoding.U128
}

// Serialize encodes m into exactly LengthLogMetadata bytes.
func (m LogMetadata) Serialize() []byte {
	buf := make([]byte, LengthLogMetadata)
	encoding.EncodeFixed64(buf[RelPosLogLogLength:], m.LogLength)
	encoding.EncodeFixed64(buf[RelPosLogPadding:], m.Padding)
	encoding.EncodeFixed128(buf[RelPosLogHead:], m.Head)
	return buf
}

// DeserializeLogMetadata is the inverse of Serialize.
// REQUIRES: len(b) >= LengthLogMetadata.
func DeserializeLogMetadata(b []byte) LogMetadata {
	return LogMetadata{
		LogLength: encoding.DecodeFixed64(b[RelPosLogLogLength:]),
		Padding:   encoding.DecodeFixed64(b[RelPosLogPadding:]),
		Head:      encoding.DecodeFixed128(b[RelPosLogHead:]),
	}
}

// CRC computes the checksum stored alongside m.
func (m LogMetadata) CRC() uint64 { return checksum.CRC64(m.Serialize()) }

// LogInfo is the in-memory state rebuilt at start and maintained by every
// operation (spec §3).
type LogInfo struct {
	LogAreaLen           uint64
	Head                 encoding.U128
	HeadLogAreaOffset    uint64
	LogLength            uint64
	LogPlusPendingLength uint64
}

// RelativeLogPosToAreaOffset converts a position relative to the virtual
// head into an offset within the log area, wrapping at logAreaLen (spec
// §4.E "Virtual-to-physical mapping").
func RelativeLogPosToAreaOffset(posRelativeToHead, headLogAreaOffset, logAreaLen uint64) uint64 {
	off := headLogAreaOffset + posRelativeToHead
	if off >= logAreaLen {
		off -= logAreaLen
	}
	return off
}
