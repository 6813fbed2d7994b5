package log

import (
	"fmt"
	"sync/atomic"

	"github.com/crashlog/pmlog/internal/config"
	"github.com/crashlog/pmlog/internal/encoding"
	"github.com/crashlog/pmlog/internal/layout"
	"github.com/crashlog/pmlog/internal/logging"
	"github.com/crashlog/pmlog/internal/permission"
	"github.com/crashlog/pmlog/internal/pm"
	"github.com/crashlog/pmlog/internal/testutil"
)

// fatalHandlerSetter is implemented by logging.DefaultLogger. Start wires it
// when present so a Fatalf call poisons this Log instance specifically,
// rather than every engine sharing the logger.
type fatalHandlerSetter interface {
	SetFatalHandler(logging.FatalHandler)
}

// ProgramGUID identifies regions written by this engine, distinguishing
// them from multilog regions even though the two share a byte layout
// (spec §9's single-log/multilog unification).
var ProgramGUID = encoding.U128{Lo: 0x9f01b7c7079a01ab, Hi: 0x6d5a8e3c1f402b77}

// Option configures a Log at Setup or Start.
type Option = config.Option

// WithChunkSize declares dev's persistence chunk size; Setup and Start
// reject a dev whose actual ChunkSize doesn't match.
func WithChunkSize(n uint64) Option { return config.WithChunkSize(n) }

// WithMinLogAreaSize overrides the minimum log area length enforced at
// setup and start.
func WithMinLogAreaSize(n uint64) Option { return config.WithMinLogAreaSize(n) }

// WithLogger installs a logging.Logger used for gate and engine diagnostics.
func WithLogger(l logging.Logger) Option { return config.WithLogger(l) }

// Log is a single-region append-only log engine (spec §4.F). It owns its
// device exclusively for the duration of its lifetime.
type Log struct {
	gate     *permission.Gate
	opts     config.Options
	logID    encoding.U128
	region   layout.RegionMetadata
	info     layout.LogInfo
	cdb      bool
	poisoned atomic.Bool
}

// checkPoisoned rejects write operations once a prior write has failed
// partway through the tentative-metadata-then-CDB-flip protocol, leaving
// on-media state this process can no longer reason about (SPEC_FULL.md
// §A.1). Reads are unaffected: GetHeadTailCapacity and Read only consult
// l.info's head and log length, which are never mutated until a commit
// protocol fully succeeds.
func (l *Log) checkPoisoned() error {
	if l.poisoned.Load() {
		return fmt.Errorf("log: %w: engine poisoned by a prior write failure", logging.ErrFatal)
	}
	return nil
}

// Setup initializes a fresh device as a single-region log of the given id
// and writes the initial on-media layout (spec §3 Lifecycle "setup", §4.E).
// regionSize must be at least PosLogArea+MinLogAreaSize (after options);
// the usable capacity is regionSize-layout.PosLogArea.
func Setup(dev pm.Device, logID encoding.U128, opts ...Option) error {
	o := config.Resolve(opts...)
	if dev.ChunkSize() != o.ChunkSize {
		return &ChunkSizeMismatch{Declared: o.ChunkSize, Actual: dev.ChunkSize()}
	}
	regionSize := dev.RegionSize()
	if regionSize < layout.PosLogArea+o.MinLogAreaSize {
		return ErrInsufficientSpaceForSetup
	}
	logAreaLen := regionSize - layout.PosLogArea

	mem := layout.BuildInitialRegionBytes(ProgramGUID, logID, 1, 0, regionSize, logAreaLen)

	gate := permission.NewGate(dev, o.Logger)
	if err := gate.Write(0, mem, permission.Always{}); err != nil {
		return err
	}
	return gate.Flush()
}

// Start validates dev's on-media contents and reconstructs the in-memory
// Log (spec §3 Lifecycle "start", §4.E).
func Start(dev pm.Device, logID encoding.U128, opts ...Option) (*Log, error) {
	o := config.Resolve(opts...)
	if dev.ChunkSize() != o.ChunkSize {
		return nil, &ChunkSizeMismatch{Declared: o.ChunkSize, Actual: dev.ChunkSize()}
	}
	mem, err := dev.Read(0, dev.RegionSize())
	if err != nil {
		return nil, err
	}
	info, cdb, region, err := layout.RecoverSingleRegion(mem, ProgramGUID, logID, o.MinLogAreaSize)
	if err != nil {
		return nil, err
	}
	l := &Log{
		gate:   permission.NewGate(dev, o.Logger),
		opts:   o,
		logID:  logID,
		region: region,
		info:   *info,
		cdb:    cdb,
	}
	if setter, ok := o.Logger.(fatalHandlerSetter); ok {
		setter.SetFatalHandler(func(string) { l.poisoned.Store(true) })
	}
	return l, nil
}

// writeLogArea issues one or two gated writes covering the virtual range
// [relStart, relStart+len(data)) relative to head, wrapping through the
// circular log area as needed (spec §4.E "Virtual-to-physical mapping").
func (l *Log) writeLogArea(relStart uint64, data []byte, perm permission.Permission) error {
	n := uint64(len(data))
	if n == 0 {
		return nil
	}
	startOff := layout.RelativeLogPosToAreaOffset(relStart, l.info.HeadLogAreaOffset, l.info.LogAreaLen)
	firstRun := l.info.LogAreaLen - startOff
	if firstRun >= n {
		return l.gate.Write(layout.PosLogArea+startOff, data, perm)
	}
	if err := l.gate.Write(layout.PosLogArea+startOff, data[:firstRun], perm); err != nil {
		return err
	}
	return l.gate.Write(layout.PosLogArea, data[firstRun:], perm)
}

// readLogArea is the read-side counterpart of writeLogArea.
func (l *Log) readLogArea(relStart, n uint64) ([]byte, error) {
	startOff := layout.RelativeLogPosToAreaOffset(relStart, l.info.HeadLogAreaOffset, l.info.LogAreaLen)
	firstRun := l.info.LogAreaLen - startOff
	if firstRun >= n {
		return l.gate.Read(layout.PosLogArea+startOff, n)
	}
	first, err := l.gate.Read(layout.PosLogArea+startOff, firstRun)
	if err != nil {
		return nil, err
	}
	second, err := l.gate.Read(layout.PosLogArea, n-firstRun)
	if err != nil {
		return nil, err
	}
	return append(first, second...), nil
}

// TentativeAppend writes bytes durably beyond the active log_length without
// committing them to the abstract log (spec §4.F). It returns the virtual
// tail position the data was written at.
func (l *Log) TentativeAppend(data []byte) (encoding.U128, error) {
	if err := l.checkPoisoned(); err != nil {
		return encoding.U128{}, err
	}
	n := uint64(len(data))
	if l.info.LogPlusPendingLength+n > l.info.LogAreaLen {
		return encoding.U128{}, &InsufficientSpaceForAppend{
			AvailableSpace: l.info.LogAreaLen - l.info.LogPlusPendingLength,
		}
	}
	tail := l.info.Head.Add(encoding.U128FromUint64(l.info.LogPlusPendingLength))
	if tail.WouldOverflow(encoding.U128FromUint64(n)) {
		return encoding.U128{}, &InsufficientSpaceForAppend{
			AvailableSpace: l.info.LogAreaLen - l.info.LogPlusPendingLength,
		}
	}

	testutil.MaybeKill(testutil.KPLogTentativeAppend0)
	// All written bytes lie strictly beyond the active log_length, so every
	// partial-flush crash state is unreachable from recovery under the
	// current CDB and therefore recovers to the current abstract state.
	if err := l.writeLogArea(l.info.LogPlusPendingLength, data, permission.Always{}); err != nil {
		return encoding.U128{}, err
	}
	l.info.LogPlusPendingLength += n
	return tail, nil
}

// Commit atomically moves every tentatively-appended byte into the
// committed log (spec §4.F).
func (l *Log) Commit() error {
	if err := l.checkPoisoned(); err != nil {
		return err
	}
	newLength := l.info.LogPlusPendingLength
	meta := layout.LogMetadata{LogLength: newLength, Head: l.info.Head}
	if err := l.writeMetadataAndFlipCDB(meta, testutil.KPLogCommit0, testutil.KPLogCommit1, testutil.KPLogCommit2); err != nil {
		return err
	}
	l.info.LogLength = newLength
	return nil
}

// AdvanceHead trims the log so that newHead becomes the first live virtual
// position (spec §4.F). newHead must satisfy head <= newHead <= head+log_length.
func (l *Log) AdvanceHead(newHead encoding.U128) error {
	if err := l.checkPoisoned(); err != nil {
		return err
	}
	tail := l.info.Head.Add(encoding.U128FromUint64(l.info.LogLength))
	if newHead.Cmp(l.info.Head) < 0 {
		return &CantAdvanceHeadPositionBeforeHead{Head: l.info.Head}
	}
	if newHead.Cmp(tail) > 0 {
		return &CantAdvanceHeadPositionBeyondTail{Tail: tail}
	}
	consumed := newHead.Sub(l.info.Head).Lo // newHead-head <= log_length <= log_area_len, fits in uint64
	newLength := l.info.LogLength - consumed

	meta := layout.LogMetadata{LogLength: newLength, Head: newHead}
	if err := l.writeMetadataAndFlipCDB(meta, testutil.KPLogAdvanceHead0, testutil.KPLogAdvanceHead1, testutil.KPLogAdvanceHead2); err != nil {
		return err
	}
	l.info.Head = newHead
	l.info.HeadLogAreaOffset = newHead.Mod64(l.info.LogAreaLen)
	l.info.LogLength = newLength
	l.info.LogPlusPendingLength = newLength
	return nil
}

// writeMetadataAndFlipCDB implements the shared tentative-metadata-then-CDB-flip
// protocol used by both Commit and AdvanceHead (spec §4.F steps 2-4).
func (l *Log) writeMetadataAndFlipCDB(meta layout.LogMetadata, kpMeta, kpBeforeFlip, kpAfterFlip string) error {
	serialized := meta.Serialize()
	crc := meta.CRC()
	crcBuf := make([]byte, layout.CRCSize)
	encoding.EncodeFixed64(crcBuf, crc)

	inactivePos := layout.LogMetadataPos(!l.cdb)
	inactiveCRCPos := layout.LogCRCPos(!l.cdb)

	testutil.MaybeKill(kpMeta)
	// The inactive copy is never read by recovery under the current CDB, so
	// every partial-flush state here still recovers to the current abstract
	// state. A write failure here is still fatal: it leaves this protocol
	// unable to tell whether the inactive copy landed, so a subsequent
	// attempt could flip the CDB onto a torn copy.
	if err := l.gate.Write(inactivePos, serialized, permission.Always{}); err != nil {
		l.opts.Logger.Fatalf("%swrite inactive log metadata failed: %v", logging.NSLog, err)
		return err
	}
	if err := l.gate.Write(inactiveCRCPos, crcBuf, permission.Always{}); err != nil {
		l.opts.Logger.Fatalf("%swrite inactive log metadata CRC failed: %v", logging.NSLog, err)
		return err
	}
	if err := l.gate.Flush(); err != nil {
		l.opts.Logger.Fatalf("%sflush of inactive log metadata failed: %v", logging.NSLog, err)
		return err
	}

	testutil.MaybeKill(kpBeforeFlip)
	flipped := layout.FlippedCDB(l.cdb)
	cdbBuf := make([]byte, layout.CRCSize)
	encoding.EncodeFixed64(cdbBuf, flipped)
	// The CDB write is a single 8-byte, chunk-aligned write: no partial-flush
	// state exists between CDBFalse and CDBTrue, so only {current, target}
	// are reachable.
	if err := l.gate.Write(layout.PosLogCDB, cdbBuf, permission.Always{}); err != nil {
		l.opts.Logger.Fatalf("%sCDB flip write failed: %v", logging.NSLog, err)
		return err
	}

	testutil.MaybeKill(kpAfterFlip)
	if err := l.gate.Flush(); err != nil {
		l.opts.Logger.Fatalf("%sflush after CDB flip failed: %v", logging.NSLog, err)
		return err
	}
	l.cdb = !l.cdb
	return nil
}

// Read returns the n committed bytes starting at virtual position pos
// (spec §4.F). It does not transition the log's state.
func (l *Log) Read(pos encoding.U128, n uint64) ([]byte, error) {
	tail := l.info.Head.Add(encoding.U128FromUint64(l.info.LogLength))
	if pos.Cmp(l.info.Head) < 0 {
		return nil, &CantReadBeforeHead{Head: l.info.Head}
	}
	end := pos.Add(encoding.U128FromUint64(n))
	if end.Cmp(tail) > 0 {
		return nil, &CantReadPastTail{Tail: tail}
	}
	rel := pos.Sub(l.info.Head).Lo // pos-head <= log_length <= log_area_len, fits in uint64
	return l.readLogArea(rel, n)
}

// GetHeadTailCapacity returns (head, head+log_length, log_area_len)
// (spec §4.F).
func (l *Log) GetHeadTailCapacity() (head, tail encoding.U128, capacity uint64) {
	return l.info.Head, l.info.Head.Add(encoding.U128FromUint64(l.info.LogLength)), l.info.LogAreaLen
}

// PendingLength returns the number of bytes tentatively appended but not
// yet committed.
func (l *Log) PendingLength() uint64 {
	return l.info.LogPlusPendingLength - l.info.LogLength
}

// Device exposes the underlying pm.Device for test-only crash-state
// enumeration against internal/permission.VerifyAgainstCrashStates.
func (l *Log) Device() pm.Device { return l.gate.Device() }
