package multilog

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
// when present so a Fatalf call poisons this Multilog instance specifically,
// rather than every engine sharing the logger.
type fatalHandlerSetter interface {
	SetFatalHandler(logging.FatalHandler)
}

// ProgramGUID identifies regions written by this engine, distinguishing
// them from single-region log regions even though the two share a byte
// layout (spec §9's single-log/multilog unification).
var ProgramGUID = encoding.U128{Lo: 0xabf7e80c07b7f01f, Hi: 0x21b8b4b3c7d140a9}

// Option configures a Multilog at Setup or Start.
type Option = config.Option

// WithChunkSize declares every region device's persistence chunk size;
// Setup and Start reject any device whose actual ChunkSize doesn't match.
func WithChunkSize(n uint64) Option { return config.WithChunkSize(n) }

// WithMinLogAreaSize overrides the minimum log area length enforced per
// region at setup and start.
func WithMinLogAreaSize(n uint64) Option { return config.WithMinLogAreaSize(n) }

// WithLogger installs a logging.Logger used for gate and engine diagnostics.
func WithLogger(l logging.Logger) Option { return config.WithLogger(l) }

type region struct {
	gate *permission.Gate
	meta layout.RegionMetadata
	info layout.LogInfo
}

// Multilog is a multi-region log engine committing atomically across all
// of its regions through a single CDB flip in region 0 (spec §4.G).
type Multilog struct {
	opts       config.Options
	multilogID encoding.U128
	regions    []*region
	cdb        bool
	poisoned   atomic.Bool
}

// checkPoisoned is Log.checkPoisoned's Multilog counterpart (SPEC_FULL.md
// §A.1): once a write fails partway through commitNewMetadata, every
// region's relative active/inactive state is no longer trustworthy, so
// further writes are rejected rather than risking a second flip onto it.
func (m *Multilog) checkPoisoned() error {
	if m.poisoned.Load() {
		return fmt.Errorf("multilog: %w: engine poisoned by a prior write failure", logging.ErrFatal)
	}
	return nil
}

// Setup initializes devs as an ordered multilog of len(devs) regions,
// sharing multilogID (spec §3 Lifecycle "setup"). Every device must already
// be sized for its intended log area; region i's layout carries
// num_logs=len(devs), which_log=i.
func Setup(devs []pm.Device, multilogID encoding.U128, opts ...Option) error {
	o := config.Resolve(opts...)
	if len(devs) < 1 {
		return ErrCantSetupWithFewerThanOneRegion
	}
	if len(devs) > MaxLogsPerMultilog {
		return &TooManyRegions{Requested: len(devs), Max: MaxLogsPerMultilog}
	}
	numLogs := uint32(len(devs))
	for i, dev := range devs {
		if dev.ChunkSize() != o.ChunkSize {
			return &ChunkSizeMismatch{WhichLog: i, Declared: o.ChunkSize, Actual: dev.ChunkSize()}
		}
		regionSize := dev.RegionSize()
		if regionSize < layout.PosLogArea+o.MinLogAreaSize {
			return ErrInsufficientSpaceForSetup
		}
		logAreaLen := regionSize - layout.PosLogArea
		mem := layout.BuildInitialRegionBytes(ProgramGUID, multilogID, numLogs, uint32(i), regionSize, logAreaLen)

		gate := permission.NewGate(dev, o.Logger)
		if err := gate.Write(0, mem, permission.Always{}); err != nil {
			return err
		}
		if err := gate.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Start validates every device in devs and reconstructs the in-memory
// Multilog (spec §3 Lifecycle "start", §4.G). The authoritative CDB is read
// from devs[0] only; every other region's on-media CDB bytes are ignored.
func Start(devs []pm.Device, multilogID encoding.U128, opts ...Option) (*Multilog, error) {
	o := config.Resolve(opts...)
	if len(devs) < 1 {
		return nil, ErrCantSetupWithFewerThanOneRegion
	}
	numLogs := uint32(len(devs))
	for i, dev := range devs {
		if dev.ChunkSize() != o.ChunkSize {
			return nil, &ChunkSizeMismatch{WhichLog: i, Declared: o.ChunkSize, Actual: dev.ChunkSize()}
		}
	}

	mem0, err := devs[0].Read(0, devs[0].RegionSize())
	if err != nil {
		return nil, err
	}
	cdb, err := layout.ReadCDB(mem0)
	if err != nil {
		return nil, err
	}

	regions := make([]*region, len(devs))
	for i, dev := range devs {
		mem := mem0
		if i != 0 {
			mem, err = dev.Read(0, dev.RegionSize())
			if err != nil {
				return nil, err
			}
		}
		info, meta, err := layout.RecoverMultilogRegion(mem, ProgramGUID, multilogID, numLogs, uint32(i), o.MinLogAreaSize, cdb)
		if err != nil {
			return nil, err
		}
		regions[i] = &region{
			gate: permission.NewGate(dev, o.Logger),
			meta: meta,
			info: *info,
		}
	}

	m := &Multilog{opts: o, multilogID: multilogID, regions: regions, cdb: cdb}
	if setter, ok := o.Logger.(fatalHandlerSetter); ok {
		setter.SetFatalHandler(func(string) { m.poisoned.Store(true) })
	}
	return m, nil
}

// NumLogs returns the number of regions in the multilog.
func (m *Multilog) NumLogs() int { return len(m.regions) }

func (m *Multilog) writeLogArea(which int, relStart uint64, data []byte, perm permission.Permission) error {
	r := m.regions[which]
	n := uint64(len(data))
	if n == 0 {
		return nil
	}
	startOff := layout.RelativeLogPosToAreaOffset(relStart, r.info.HeadLogAreaOffset, r.info.LogAreaLen)
	firstRun := r.info.LogAreaLen - startOff
	if firstRun >= n {
		return r.gate.Write(layout.PosLogArea+startOff, data, perm)
	}
	if err := r.gate.Write(layout.PosLogArea+startOff, data[:firstRun], perm); err != nil {
		return err
	}
	return r.gate.Write(layout.PosLogArea, data[firstRun:], perm)
}

func (m *Multilog) readLogArea(which int, relStart, n uint64) ([]byte, error) {
	r := m.regions[which]
	startOff := layout.RelativeLogPosToAreaOffset(relStart, r.info.HeadLogAreaOffset, r.info.LogAreaLen)
	firstRun := r.info.LogAreaLen - startOff
	if firstRun >= n {
		return r.gate.Read(layout.PosLogArea+startOff, n)
	}
	first, err := r.gate.Read(layout.PosLogArea+startOff, firstRun)
	if err != nil {
		return nil, err
	}
	second, err := r.gate.Read(layout.PosLogArea, n-firstRun)
	if err != nil {
		return nil, err
	}
	return append(first, second...), nil
}

// TentativeAppend writes bytes durably beyond the active log_length of
// region which, without committing them to that region's abstract log
// (spec §4.F/§4.G). It returns the virtual tail position the data was
// written at.
func (m *Multilog) TentativeAppend(which int, data []byte) (encoding.U128, error) {
	if err := m.checkPoisoned(); err != nil {
		return encoding.U128{}, err
	}
	r := m.regions[which]
	n := uint64(len(data))
	if r.info.LogPlusPendingLength+n > r.info.LogAreaLen {
		return encoding.U128{}, &InsufficientSpaceForAppend{
			WhichLog:       which,
			AvailableSpace: r.info.LogAreaLen - r.info.LogPlusPendingLength,
		}
	}
	tail := r.info.Head.Add(encoding.U128FromUint64(r.info.LogPlusPendingLength))
	if tail.WouldOverflow(encoding.U128FromUint64(n)) {
		return encoding.U128{}, &InsufficientSpaceForAppend{
			WhichLog:       which,
			AvailableSpace: r.info.LogAreaLen - r.info.LogPlusPendingLength,
		}
	}

	testutil.MaybeKill(testutil.KPLogTentativeAppend0)
	if err := m.writeLogArea(which, r.info.LogPlusPendingLength, data, permission.Always{}); err != nil {
		return encoding.U128{}, err
	}
	r.info.LogPlusPendingLength += n
	return tail, nil
}

// commitNewMetadata writes newMeta[i] to every region i's inactive
// log-metadata copy and flushes every region, then flips the single
// authoritative CDB in region 0 and flushes it (spec §4.G steps 1-4).
//
// Because every region shares one CDB, a flip switches ALL regions'
// active/inactive selection at once: regions whose abstract state is not
// changing by this call must still have their current metadata rewritten
// into what is about to become their active copy, or the flip would expose
// stale bytes for them.
func (m *Multilog) commitNewMetadata(newMeta []layout.LogMetadata, kpRegion, kpBeforeFlip, kpAfterFlip string) error {
	inactivePos := layout.LogMetadataPos(!m.cdb)
	inactiveCRCPos := layout.LogCRCPos(!m.cdb)

	for i, r := range m.regions {
		serialized := newMeta[i].Serialize()
		crc := newMeta[i].CRC()
		crcBuf := make([]byte, layout.CRCSize)
		encoding.EncodeFixed64(crcBuf, crc)

		testutil.MaybeKill(kpRegion)
		if err := r.gate.Write(inactivePos, serialized, permission.Always{}); err != nil {
			m.opts.Logger.Fatalf("%swrite inactive metadata for region %d failed: %v", logging.NSMultilog, i, err)
			return err
		}
		if err := r.gate.Write(inactiveCRCPos, crcBuf, permission.Always{}); err != nil {
			m.opts.Logger.Fatalf("%swrite inactive metadata CRC for region %d failed: %v", logging.NSMultilog, i, err)
			return err
		}
	}
	for i, r := range m.regions {
		if err := r.gate.Flush(); err != nil {
			m.opts.Logger.Fatalf("%sflush of inactive metadata for region %d failed: %v", logging.NSMultilog, i, err)
			return err
		}
	}

	testutil.MaybeKill(kpBeforeFlip)
	flipped := layout.FlippedCDB(m.cdb)
	cdbBuf := make([]byte, layout.CRCSize)
	encoding.EncodeFixed64(cdbBuf, flipped)
	// Only region 0's CDB is authoritative (spec §4.G): this single
	// chunk-aligned write is what switches every region's abstract state at
	// once.
	if err := m.regions[0].gate.Write(layout.PosLogCDB, cdbBuf, permission.Always{}); err != nil {
		m.opts.Logger.Fatalf("%sCDB flip write failed: %v", logging.NSMultilog, err)
		return err
	}

	testutil.MaybeKill(kpAfterFlip)
	if err := m.regions[0].gate.Flush(); err != nil {
		m.opts.Logger.Fatalf("%sflush after CDB flip failed: %v", logging.NSMultilog, err)
		return err
	}

	m.cdb = !m.cdb
	return nil
}

// Commit atomically moves every region's tentatively-appended bytes into
// its committed log (spec §4.G): per-region metadata is written and
// flushed first, then a single CDB flip in region 0 switches every
// region's abstract state at once.
func (m *Multilog) Commit() error {
	if err := m.checkPoisoned(); err != nil {
		return err
	}
	newMeta := make([]layout.LogMetadata, len(m.regions))
	for i, r := range m.regions {
		newMeta[i] = layout.LogMetadata{LogLength: r.info.LogPlusPendingLength, Head: r.info.Head}
	}
	if err := m.commitNewMetadata(newMeta, testutil.KPMultilogCommitRegion, testutil.KPMultilogCommitCDB, testutil.KPMultilogCommitCDBAfter); err != nil {
		return err
	}
	for i, r := range m.regions {
		r.info.LogLength = newMeta[i].LogLength
	}
	return nil
}

// AdvanceHead trims region which so that newHead becomes its first live
// virtual position (spec §4.F/§4.G). Every other region's unchanged
// metadata is rewritten alongside it, since the CDB flip this entails
// switches every region's active copy at once.
func (m *Multilog) AdvanceHead(which int, newHead encoding.U128) error {
	if err := m.checkPoisoned(); err != nil {
		return err
	}
	r := m.regions[which]
	tail := r.info.Head.Add(encoding.U128FromUint64(r.info.LogLength))
	if newHead.Cmp(r.info.Head) < 0 {
		return &CantAdvanceHeadPositionBeforeHead{WhichLog: which, Head: r.info.Head}
	}
	if newHead.Cmp(tail) > 0 {
		return &CantAdvanceHeadPositionBeyondTail{WhichLog: which, Tail: tail}
	}
	consumed := newHead.Sub(r.info.Head).Lo
	newLength := r.info.LogLength - consumed

	newMeta := make([]layout.LogMetadata, len(m.regions))
	for i, other := range m.regions {
		if i == which {
			newMeta[i] = layout.LogMetadata{LogLength: newLength, Head: newHead}
			continue
		}
		newMeta[i] = layout.LogMetadata{LogLength: other.info.LogLength, Head: other.info.Head}
	}
	if err := m.commitNewMetadata(newMeta, testutil.KPLogAdvanceHead0, testutil.KPLogAdvanceHead1, testutil.KPLogAdvanceHead2); err != nil {
		return err
	}

	r.info.Head = newHead
	r.info.HeadLogAreaOffset = newHead.Mod64(r.info.LogAreaLen)
	r.info.LogLength = newLength
	r.info.LogPlusPendingLength = newLength
	return nil
}

// Read returns the n committed bytes starting at virtual position pos in
// region which (spec §4.F/§4.G). It does not transition any log's state.
func (m *Multilog) Read(which int, pos encoding.U128, n uint64) ([]byte, error) {
	r := m.regions[which]
	tail := r.info.Head.Add(encoding.U128FromUint64(r.info.LogLength))
	if pos.Cmp(r.info.Head) < 0 {
		return nil, &CantReadBeforeHead{WhichLog: which, Head: r.info.Head}
	}
	end := pos.Add(encoding.U128FromUint64(n))
	if end.Cmp(tail) > 0 {
		return nil, &CantReadPastTail{WhichLog: which, Tail: tail}
	}
	rel := pos.Sub(r.info.Head).Lo
	return m.readLogArea(which, rel, n)
}

// GetHeadTailCapacity returns (head, head+log_length, log_area_len) for
// every region, in region order (spec §4.G supplemented feature).
func (m *Multilog) GetHeadTailCapacity() []HeadTailCapacity {
	out := make([]HeadTailCapacity, len(m.regions))
	for i, r := range m.regions {
		out[i] = HeadTailCapacity{
			Head:     r.info.Head,
			Tail:     r.info.Head.Add(encoding.U128FromUint64(r.info.LogLength)),
			Capacity: r.info.LogAreaLen,
		}
	}
	return out
}

// HeadTailCapacity is one region's (head, tail, capacity) triple.
type HeadTailCapacity struct {
	Head     encoding.U128
	Tail     encoding.U128
	Capacity uint64
}

// PendingLength returns the number of bytes tentatively appended to region
// which but not yet committed.
func (m *Multilog) PendingLength(which int) uint64 {
	r := m.regions[which]
	return r.info.LogPlusPendingLength - r.info.LogLength
}

// Device exposes region which's underlying pm.Device for test-only
// crash-state enumeration.
func (m *Multilog) Device(which int) pm.Device { return m.regions[which].gate.Device() }
