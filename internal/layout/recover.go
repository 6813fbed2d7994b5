package layout

import (
	"math"

	"github.com/crashlog/pmlog/internal/encoding"
)

// ReadAndVerifyGlobalAndRegionMetadata implements spec §4.E steps 1-3: it
// validates that mem is large enough, that the global metadata's CRC,
// program GUID, version number and region-metadata length all match, and
// that the region metadata's CRC, size, ID, and cross-check fields
// (num_logs, which_log) match the caller's expectations.
//
// programGUID identifies which engine (log vs multilog) wrote this region;
// expectedID is the caller's log_id or multilog_id; numLogs/whichLog are
// the caller's expected cross-check fields (1/0 for a single-region log).
func ReadAndVerifyGlobalAndRegionMetadata(
	mem []byte,
	programGUID encoding.U128,
	expectedID encoding.U128,
	numLogs, whichLog uint32,
	minLogAreaSize uint64,
) (RegionMetadata, error) {
	if uint64(len(mem)) < PosLogArea+minLogAreaSize {
		return RegionMetadata{}, &StartFailedDueToInvalidMemoryContents{
			Reason: "region too small to hold the minimum log area",
		}
	}

	global := DeserializeGlobalMetadata(mem[PosGlobalMetadata : PosGlobalMetadata+LengthGlobalMetadata])
	globalCRC := encoding.DecodeFixed64(mem[PosGlobalCRC:])
	if globalCRC != global.CRC() {
		return RegionMetadata{}, ErrCRCMismatch
	}
	if global.ProgramGUID != programGUID {
		return RegionMetadata{}, &StartFailedDueToInvalidMemoryContents{
			Reason: "program guid does not match this engine",
		}
	}
	if global.VersionNumber != ProgramVersionNumber {
		return RegionMetadata{}, &StartFailedDueToProgramVersionNumberUnsupported{
			Version:      global.VersionNumber,
			MaxSupported: ProgramVersionNumber,
		}
	}
	if global.LengthOfRegionMetadata != LengthRegionMetadata {
		return RegionMetadata{}, &StartFailedDueToInvalidMemoryContents{
			Reason: "unexpected length_of_region_metadata",
		}
	}

	region := DeserializeRegionMetadata(mem[PosRegionMetadata : PosRegionMetadata+LengthRegionMetadata])
	regionCRC := encoding.DecodeFixed64(mem[PosRegionCRC:])
	if regionCRC != region.CRC() {
		return RegionMetadata{}, ErrCRCMismatch
	}
	if region.RegionSize != uint64(len(mem)) {
		return RegionMetadata{}, &StartFailedDueToRegionSizeMismatch{
			Expected: uint64(len(mem)),
			Read:     region.RegionSize,
		}
	}
	if region.ID != expectedID {
		return RegionMetadata{}, &StartFailedDueToLogIDMismatch{Expected: expectedID, Read: region.ID}
	}
	if region.NumLogs != numLogs || region.WhichLog != whichLog {
		return RegionMetadata{}, &StartFailedDueToInvalidMemoryContents{
			Reason: "region num_logs/which_log cross-check failed",
		}
	}
	if region.LogAreaLen < minLogAreaSize || PosLogArea+region.LogAreaLen > uint64(len(mem)) {
		return RegionMetadata{}, &StartFailedDueToInvalidMemoryContents{
			Reason: "log area length out of bounds",
		}
	}
	return region, nil
}

// ReadCDB implements spec §4.E step 4: it reads and validates the
// corruption-detecting boolean. A value other than CDBFalse/CDBTrue is
// reported as corruption, never accepted as a third state.
func ReadCDB(mem []byte) (bool, error) {
	if uint64(len(mem)) < PosLogCDB+CRCSize {
		return false, &StartFailedDueToInvalidMemoryContents{Reason: "region too small to hold the cdb"}
	}
	raw := encoding.DecodeFixed64(mem[PosLogCDB:])
	cdb, ok := ParseCDB(raw)
	if !ok {
		return false, ErrCRCMismatch
	}
	return cdb, nil
}

// ReadActiveLogMetadata implements spec §4.E step 5: it reads the log
// metadata copy selected by cdb and verifies its CRC.
func ReadActiveLogMetadata(mem []byte, cdb bool) (LogMetadata, error) {
	pos := LogMetadataPos(cdb)
	crcPos := LogCRCPos(cdb)
	metadata := DeserializeLogMetadata(mem[pos : pos+LengthLogMetadata])
	crc := encoding.DecodeFixed64(mem[crcPos:])
	if crc != metadata.CRC() {
		return LogMetadata{}, ErrCRCMismatch
	}
	return metadata, nil
}

// BuildLogInfo implements spec §4.E steps 6-7: it validates the active log
// metadata against the region's log area length and constructs the
// in-memory LogInfo.
func BuildLogInfo(region RegionMetadata, logMeta LogMetadata) (*LogInfo, error) {
	if logMeta.LogLength > region.LogAreaLen {
		return nil, &StartFailedDueToInvalidMemoryContents{Reason: "log_length exceeds log_area_len"}
	}
	u128Max := encoding.U128{Lo: math.MaxUint64, Hi: math.MaxUint64}
	if logMeta.Head.WouldOverflow(encoding.U128FromUint64(logMeta.LogLength)) {
		return nil, &StartFailedDueToInvalidMemoryContents{Reason: "head + log_length overflows u128"}
	}
	tail := logMeta.Head.Add(encoding.U128FromUint64(logMeta.LogLength))
	if tail.Cmp(u128Max) > 0 {
		return nil, &StartFailedDueToInvalidMemoryContents{Reason: "head + log_length exceeds u128 max"}
	}

	headLogAreaOffset := logMeta.Head.Mod64(region.LogAreaLen)
	return &LogInfo{
		LogAreaLen:           region.LogAreaLen,
		Head:                 logMeta.Head,
		HeadLogAreaOffset:    headLogAreaOffset,
		LogLength:            logMeta.LogLength,
		LogPlusPendingLength: logMeta.LogLength,
	}, nil
}

// RecoverSingleRegion runs the full recovery algorithm (spec §4.E) for a
// single-region log: it is ReadAndVerifyGlobalAndRegionMetadata,
// ReadCDB, ReadActiveLogMetadata and BuildLogInfo composed for the
// numLogs=1, whichLog=0 case.
func RecoverSingleRegion(mem []byte, programGUID, logID encoding.U128, minLogAreaSize uint64) (*LogInfo, bool, RegionMetadata, error) {
	region, err := ReadAndVerifyGlobalAndRegionMetadata(mem, programGUID, logID, 1, 0, minLogAreaSize)
	if err != nil {
		return nil, false, RegionMetadata{}, err
	}
	cdb, err := ReadCDB(mem)
	if err != nil {
		return nil, false, RegionMetadata{}, err
	}
	logMeta, err := ReadActiveLogMetadata(mem, cdb)
	if err != nil {
		return nil, false, RegionMetadata{}, err
	}
	info, err := BuildLogInfo(region, logMeta)
	if err != nil {
		return nil, false, RegionMetadata{}, err
	}
	return info, cdb, region, nil
}

// RecoverMultilogRegion runs the recovery algorithm for one region of a
// multilog (spec §4.G): unlike RecoverSingleRegion, the active log-metadata
// copy is selected by a CDB supplied by the caller (read from region 0),
// not by this region's own CDB bytes, since only region 0's CDB is
// authoritative.
func RecoverMultilogRegion(mem []byte, programGUID, multilogID encoding.U128, numLogs, whichLog uint32, minLogAreaSize uint64, cdb bool) (*LogInfo, RegionMetadata, error) {
	region, err := ReadAndVerifyGlobalAndRegionMetadata(mem, programGUID, multilogID, numLogs, whichLog, minLogAreaSize)
	if err != nil {
		return nil, RegionMetadata{}, err
	}
	logMeta, err := ReadActiveLogMetadata(mem, cdb)
	if err != nil {
		return nil, RegionMetadata{}, err
	}
	info, err := BuildLogInfo(region, logMeta)
	if err != nil {
		return nil, RegionMetadata{}, err
	}
	return info, region, nil
}
