package layout

import (
	"github.com/crashlog/pmlog/internal/encoding"
)

// BuildInitialRegionBytes composes the full initial on-media image of a
// region: global metadata, region metadata, an initial CDB of false, and
// both log-metadata copies initialized to an empty log starting at head 0
// (spec §3 Lifecycle "setup"). The returned slice has length regionSize;
// the log area (bytes [PosLogArea, regionSize)) is left zeroed.
func BuildInitialRegionBytes(programGUID, id encoding.U128, numLogs, whichLog uint32, regionSize, logAreaLen uint64) []byte {
	mem := make([]byte, regionSize)

	global := GlobalMetadata{
		VersionNumber:          ProgramVersionNumber,
		LengthOfRegionMetadata: LengthRegionMetadata,
		ProgramGUID:            programGUID,
	}
	copy(mem[PosGlobalMetadata:], global.Serialize())
	encoding.EncodeFixed64(mem[PosGlobalCRC:], global.CRC())

	region := RegionMetadata{
		NumLogs:    numLogs,
		WhichLog:   whichLog,
		RegionSize: regionSize,
		LogAreaLen: logAreaLen,
		ID:         id,
	}
	copy(mem[PosRegionMetadata:], region.Serialize())
	encoding.EncodeFixed64(mem[PosRegionCRC:], region.CRC())

	encoding.EncodeFixed64(mem[PosLogCDB:], CDBFalse)

	empty := LogMetadata{LogLength: 0, Head: encoding.U128{}}
	serialized := empty.Serialize()
	crc := empty.CRC()

	copy(mem[PosLogMetadataCDBFalse:], serialized)
	encoding.EncodeFixed64(mem[PosLogCRCCDBFalse:], crc)
	copy(mem[PosLogMetadataCDBTrue:], serialized)
	encoding.EncodeFixed64(mem[PosLogCRCCDBTrue:], crc)

	return mem
}
