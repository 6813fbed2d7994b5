// Package permission implements the write-admission discipline described
// in spec §4.D: every mutation of a persistent-memory region must be
// accompanied by a capability that approves every state a crash could
// leave the region in.
//
// The original design verifies this statically (a proof obligation
// discharged at compile time). Without a verifier, the discipline becomes
// a runtime capability object plus a private API boundary: only the log
// and multilog engines construct Permissions, and only Gate.Write accepts
// one. The exhaustive per-subset check itself is too expensive to run on
// every production write — here it is exercised by tests
// (VerifyAgainstCrashStates) against the chunk-enumeration harness in
// internal/pm, per spec §9's guidance to preserve ghost state as explicit
// ghost-state enumeration in tests rather than at runtime. The crashtest
// build tag (log/log_crashtest_test.go, multilog/multilog_crashtest_test.go)
// runs this check against a live Commit/AdvanceHead halted mid-flight at a
// named kill point, not just a hand-built device.
package permission

import (
	"bytes"
	"fmt"

	"github.com/crashlog/pmlog/internal/logging"
	"github.com/crashlog/pmlog/internal/pm"
	"github.com/crashlog/pmlog/internal/testutil"
)

// Permission approves a set of whole-region byte sequences as acceptable
// outcomes of a write, for every subset of persistence chunks a crash
// might flush.
type Permission interface {
	// CheckPermission reports whether state is an approved post-crash
	// outcome of the write this permission accompanies.
	CheckPermission(state []byte) bool
}

// ApprovedStates is a Permission that accepts exactly the listed byte
// sequences — the common case from spec §4.D, where a commit-style write
// approves {current abstract state, target abstract state}.
type ApprovedStates struct {
	States [][]byte
}

// CheckPermission implements Permission.
func (p ApprovedStates) CheckPermission(state []byte) bool {
	for _, s := range p.States {
		if bytes.Equal(s, state) {
			return true
		}
	}
	return false
}

// Always is a Permission that approves every state. It is only valid for
// writes that provably cannot affect recovery under the current CDB (for
// example, writes to the inactive log-metadata copy, or to log-area bytes
// strictly beyond the active log_length) — the caller, not this type, is
// responsible for that proof.
type Always struct{}

// CheckPermission implements Permission.
func (Always) CheckPermission(_ []byte) bool { return true }

// Gate wraps a pm.Device and refuses to expose direct write access: every
// mutation must go through Write, accompanied by a Permission.
type Gate struct {
	dev    pm.Device
	logger logging.Logger
}

// NewGate wraps dev. logger may be nil, in which case logging.Discard is
// used.
func NewGate(dev pm.Device, logger logging.Logger) *Gate {
	if logging.IsNil(logger) {
		logger = logging.Discard
	}
	return &Gate{dev: dev, logger: logger}
}

// Write performs a gated write. perm must not be nil: callers must always
// reason about, and supply, the permission covering this write's crash
// states, even when that permission is Always{}.
func (g *Gate) Write(addr uint64, data []byte, perm Permission) error {
	if perm == nil {
		panic("permission: gate write without a permission")
	}
	testutil.MaybeKill(testutil.KPGateWrite0)
	if err := g.dev.Write(addr, data); err != nil {
		g.logger.Errorf("%swrite at %d failed: %v", logging.NSGate, addr, err)
		return err
	}
	return nil
}

// Read passes through to the underlying device; reads are never gated.
func (g *Gate) Read(addr, n uint64) ([]byte, error) { return g.dev.Read(addr, n) }

// Flush passes through to the underlying device.
func (g *Gate) Flush() error { return g.dev.Flush() }

// RegionSize passes through to the underlying device.
func (g *Gate) RegionSize() uint64 { return g.dev.RegionSize() }

// ChunkSize passes through to the underlying device.
func (g *Gate) ChunkSize() uint64 { return g.dev.ChunkSize() }

// Impervious passes through to the underlying device.
func (g *Gate) Impervious() bool { return g.dev.Impervious() }

// Device exposes the underlying device for test-only crash-state
// enumeration (VerifyAgainstCrashStates). Production code never needs it:
// all mutation goes through Write.
func (g *Gate) Device() pm.Device { return g.dev }

// VerifyAgainstCrashStates checks perm against every state dev's
// outstanding dirty chunks could crash into, returning an error naming the
// first disapproved state found. Intended for tests exercising §8's crash
// atomicity property over small inputs; dev.PossibleCrashStates is
// exponential in the dirty chunk count.
func VerifyAgainstCrashStates(dev *pm.MemoryDevice, perm Permission) error {
	for i, state := range dev.PossibleCrashStates() {
		if !perm.CheckPermission(state) {
			return fmt.Errorf("permission: crash state %d not approved", i)
		}
	}
	return nil
}
