// Package pm implements the byte-addressable persistent-memory device
// abstraction and its chunk-granular partial-flush crash model.
//
// A Device exposes a logical byte sequence of fixed length. Writes mutate
// an in-memory view immediately; only Flush makes them durable. Before the
// next Flush, a crash may leave any subset of the persistence chunks
// touched since the last Flush either fully pre-write or fully
// post-write — never split within a chunk. Test harnesses use
// PossibleCrashStates (or CrashWithFlushedChunks for a specific subset) to
// enumerate every byte sequence a crash could produce, which is how the
// permission gate and engine-level tests establish atomicity.
package pm

import (
	"fmt"
	"slices"
	"sync"

	"github.com/crashlog/pmlog/internal/testutil"
)

// DefaultChunkSize is the persistence chunk size in bytes (spec §9 open
// question: hard-coded to 8 in the source; kept as the default here and
// made overridable through NewMemoryDevice's chunkSize argument).
const DefaultChunkSize = 8

// Device is the interface the log and multilog engines consume. It is
// deliberately narrow: callers never see partial-flush state directly,
// only through Read/Write/Flush plus the test-only crash enumeration
// methods on concrete implementations.
type Device interface {
	// RegionSize returns the fixed logical length of this device.
	RegionSize() uint64

	// ChunkSize returns the persistence chunk size this device flushes in:
	// the granularity at which a crash may leave a write half-durable.
	// Setup and Start validate a caller-declared chunk size (config.Option
	// WithChunkSize) against this value, catching a device built with the
	// wrong granularity before it silently invalidates every Permission the
	// engine ever reasons about.
	ChunkSize() uint64

	// Read returns n bytes starting at addr from the device's current
	// in-memory view. REQUIRES: addr+n <= RegionSize().
	Read(addr, n uint64) ([]byte, error)

	// Write mutates the in-memory view at addr. Durability is undefined
	// until the next Flush. REQUIRES: addr+len(data) <= RegionSize().
	Write(addr uint64, data []byte) error

	// Flush makes all previously issued writes durable.
	Flush() error

	// Impervious reports whether this device is known to never return
	// corrupted bytes from Read (true only for test harnesses).
	Impervious() bool
}

// ErrOutOfRange is returned when an operation's byte range falls outside
// the device.
var ErrOutOfRange = fmt.Errorf("pm: access out of range")

// MemoryDevice is an in-memory Device used by tests and as the reference
// implementation's backing store. It tracks, per persistence chunk, which
// chunks have been written since the last Flush, so tests can enumerate
// every state a crash could produce.
type MemoryDevice struct {
	mu sync.Mutex

	chunkSize uint64
	committed []byte // last durable state
	current   []byte // current in-memory view (may not be durable)
	dirty     map[uint64]bool
}

// NewMemoryDevice creates a MemoryDevice of the given size, initially
// zero-filled and fully durable.
func NewMemoryDevice(size uint64, chunkSize uint64) *MemoryDevice {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	return &MemoryDevice{
		chunkSize: chunkSize,
		committed: make([]byte, size),
		current:   make([]byte, size),
		dirty:     make(map[uint64]bool),
	}
}

// RegionSize implements Device.
func (d *MemoryDevice) RegionSize() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint64(len(d.current))
}

// ChunkSize implements Device.
func (d *MemoryDevice) ChunkSize() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chunkSize
}

// Impervious implements Device; MemoryDevice never corrupts reads on its
// own (wrap it in CorruptingDevice to exercise CRCMismatch paths).
func (d *MemoryDevice) Impervious() bool { return true }

func (d *MemoryDevice) checkRange(addr, n uint64) error {
	if addr+n < addr || addr+n > uint64(len(d.current)) {
		return ErrOutOfRange
	}
	return nil
}

// Read implements Device.
func (d *MemoryDevice) Read(addr, n uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.current[addr:addr+n])
	return out, nil
}

// Write implements Device.
func (d *MemoryDevice) Write(addr uint64, data []byte) error {
	testutil.MaybeKill(testutil.KPPMWrite0)

	d.mu.Lock()
	defer d.mu.Unlock()
	n := uint64(len(data))
	if err := d.checkRange(addr, n); err != nil {
		return err
	}
	copy(d.current[addr:addr+n], data)

	first := addr / d.chunkSize
	last := (addr + n - 1) / d.chunkSize
	if n == 0 {
		return nil
	}
	for c := first; c <= last; c++ {
		d.dirty[c] = true
	}
	return nil
}

// Flush implements Device: every dirty chunk becomes durable.
func (d *MemoryDevice) Flush() error {
	testutil.MaybeKill(testutil.KPPMFlush0)

	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.dirty {
		lo := c * d.chunkSize
		hi := lo + d.chunkSize
		if hi > uint64(len(d.current)) {
			hi = uint64(len(d.current))
		}
		copy(d.committed[lo:hi], d.current[lo:hi])
	}
	d.dirty = make(map[uint64]bool)

	testutil.MaybeKill(testutil.KPPMFlush1)
	return nil
}

// DirtyChunks returns the sorted indices of chunks written since the last
// Flush — the set a crash-state enumeration must range over.
func (d *MemoryDevice) DirtyChunks() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint64, 0, len(d.dirty))
	for c := range d.dirty {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// CrashWithFlushedChunks returns the byte sequence that would result from a
// crash where exactly the chunks named in flushed (by chunk index) survive
// with their current (post-write) contents, and every other dirty chunk
// reverts to its last-committed contents. Chunks not in dirty are
// unaffected by flushed's membership, since they have no outstanding write.
func (d *MemoryDevice) CrashWithFlushedChunks(flushed map[uint64]bool) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.committed))
	copy(out, d.committed)
	for c := range d.dirty {
		if !flushed[c] {
			continue
		}
		lo := c * d.chunkSize
		hi := lo + d.chunkSize
		if hi > uint64(len(out)) {
			hi = uint64(len(out))
		}
		copy(out[lo:hi], d.current[lo:hi])
	}
	return out
}

// PossibleCrashStates enumerates every byte sequence a crash could produce
// given the chunks currently dirty, by ranging over all 2^k subsets of
// those chunks. Intended for small k in tests (§8's "explicit enumeration
// of crash states for small inputs").
func (d *MemoryDevice) PossibleCrashStates() [][]byte {
	dirty := d.DirtyChunks()
	n := len(dirty)
	states := make([][]byte, 0, 1<<uint(n))
	for mask := 0; mask < (1 << uint(n)); mask++ {
		flushed := make(map[uint64]bool, n)
		for i, c := range dirty {
			if mask&(1<<uint(i)) != 0 {
				flushed[c] = true
			}
		}
		states = append(states, d.CrashWithFlushedChunks(flushed))
	}
	return states
}

// CommittedSnapshot returns a copy of the last fully-flushed byte
// sequence, i.e. the state a crash would produce if no further chunks are
// flushed.
func (d *MemoryDevice) CommittedSnapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.committed))
	copy(out, d.committed)
	return out
}
