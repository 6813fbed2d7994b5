//go:build crashtest

// Package testutil provides test utilities for stress testing and verification.
//
// Kill points provide a mechanism to deterministically exit a process at specific
// code locations for whitebox crash testing. Unlike sync points (which pause
// execution), kill points terminate the process to simulate crashes.
//
// Usage:
//
//	// In production code (compiled out without build tag):
//	testutil.MaybeKill(testutil.KPLogCommit2)
//
//	// In test harness (set via env var or API):
//	testutil.SetKillPoint(testutil.KPLogCommit2)
//
// Build with kill points enabled:
//
//	go build -tags crashtest ./...
package testutil

import (
	"os"
	"sync"
	"sync/atomic"
)

// killPointState holds the global kill point configuration.
type killPointState struct {
	// target is the name of the kill point that should trigger exit.
	// Empty string means no kill point is set.
	target atomic.Value // stores string

	// armed controls whether kill points are active.
	// This allows temporarily disabling kill points without clearing the target.
	armed atomic.Bool

	// hitCount tracks how many times each kill point was reached.
	// Useful for debugging and verification.
	mu        sync.RWMutex
	hitCounts map[string]int64
}

// globalKillPoint is the singleton kill point state.
var globalKillPoint = &killPointState{
	hitCounts: make(map[string]int64),
}

// KillPointEnvVar is the environment variable used to set the kill point target.
const KillPointEnvVar = "PMLOG_KILL_POINT"

func init() {
	// Check environment variable on startup
	if target := os.Getenv(KillPointEnvVar); target != "" {
		globalKillPoint.target.Store(target)
		globalKillPoint.armed.Store(true)
	}
}

// SetKillPoint sets the target kill point name.
// When MaybeKill is called with this name, the process will exit.
func SetKillPoint(name string) {
	globalKillPoint.target.Store(name)
	globalKillPoint.armed.Store(true)
}

// ClearKillPoint clears the kill point target.
func ClearKillPoint() {
	globalKillPoint.target.Store("")
	globalKillPoint.armed.Store(false)
}

// ArmKillPoint enables kill point processing.
func ArmKillPoint() {
	globalKillPoint.armed.Store(true)
}

// DisarmKillPoint disables kill point processing without clearing the target.
func DisarmKillPoint() {
	globalKillPoint.armed.Store(false)
}

// IsKillPointArmed returns whether kill points are currently armed.
func IsKillPointArmed() bool {
	return globalKillPoint.armed.Load()
}

// GetKillPointTarget returns the current kill point target.
func GetKillPointTarget() string {
	if v := globalKillPoint.target.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// GetKillPointHitCount returns how many times a kill point was reached.
func GetKillPointHitCount(name string) int64 {
	globalKillPoint.mu.RLock()
	defer globalKillPoint.mu.RUnlock()
	return globalKillPoint.hitCounts[name]
}

// ResetKillPointCounts resets all hit counts.
func ResetKillPointCounts() {
	globalKillPoint.mu.Lock()
	defer globalKillPoint.mu.Unlock()
	globalKillPoint.hitCounts = make(map[string]int64)
}

// killHook, if set, is invoked by MaybeKill at its target kill point instead
// of os.Exit. Engine-level whitebox tests use this: internal/pm's devices
// are in-memory, so there is no on-disk file for a subprocess to reopen
// after a real process exit the way the whitebox pattern normally works.
// Halting in place with a panic leaves the live device's dirty chunks
// exactly as they were at the kill point, which is what the enumeration in
// internal/pm.MemoryDevice.PossibleCrashStates needs.
var killHook atomic.Pointer[func(string)]

// KillPointHit is the panic value MaybeKill raises at its target kill point
// when a hook is installed via SetKillHook.
type KillPointHit struct{ Name string }

func (k KillPointHit) Error() string { return "kill point hit: " + k.Name }

// SetKillHook installs hook as the action MaybeKill takes when it reaches
// its armed target, replacing os.Exit.
func SetKillHook(hook func(name string)) {
	killHook.Store(&hook)
}

// ClearKillHook removes any installed kill hook, restoring the os.Exit
// behavior.
func ClearKillHook() {
	killHook.Store(nil)
}

// MaybeKill checks if the named kill point matches the target and exits if so.
// This is the primary entry point for kill points in production code.
//
// If the kill point is armed and the name matches the target, the process
// exits with code 0 (clean exit, not a crash signal) — unless a kill hook
// is installed via SetKillHook, in which case the hook runs instead.
func MaybeKill(name string) {
	if !globalKillPoint.armed.Load() {
		return
	}

	// Track hit count
	globalKillPoint.mu.Lock()
	globalKillPoint.hitCounts[name]++
	globalKillPoint.mu.Unlock()

	// Check if this is the target
	target, ok := globalKillPoint.target.Load().(string)
	if !ok || target == "" {
		return
	}

	if target == name {
		if h := killHook.Load(); h != nil {
			(*h)(name)
			return
		}
		// Exit cleanly to simulate a crash
		// Exit code 0 indicates intentional kill, not an error
		os.Exit(0)
	}
}

// KillPointNames defines the standard kill point names.
// These follow the convention: "Component.Operation:N"
// where N numbers the points within the operation in the order they are
// reached (or names the step, as in "Multilog.Commit:cdb").
const (
	// PM device kill points
	KPPMWrite0 = "PM.Write:0" // During a device write (before it returns)
	KPPMFlush0 = "PM.Flush:0" // Before a device flush
	KPPMFlush1 = "PM.Flush:1" // After a device flush (data durable)

	// Permission gate kill points
	KPGateWrite0 = "Gate.Write:0" // During a gated write, before the permission-checked write lands

	// Single-log commit/advance-head kill points
	KPLogCommit0       = "Log.Commit:0"       // Before writing the inactive log-metadata copy
	KPLogCommit1       = "Log.Commit:1"       // After inactive-copy flush, before the CDB flip
	KPLogCommit2       = "Log.Commit:2"       // After the CDB flip, before the final flush
	KPLogAdvanceHead0  = "Log.AdvanceHead:0"  // Before writing the inactive log-metadata copy
	KPLogAdvanceHead1  = "Log.AdvanceHead:1"  // After inactive-copy flush, before the CDB flip
	KPLogAdvanceHead2  = "Log.AdvanceHead:2"  // After the CDB flip, before the final flush
	KPLogTentativeAppend0 = "Log.TentativeAppend:0" // During a tentative append write

	// Multilog commit kill points
	KPMultilogCommitRegion   = "Multilog.Commit:region"    // Before each per-region metadata write (same name for every region)
	KPMultilogCommitCDB      = "Multilog.Commit:cdb"       // Before the single atomic CDB flip in region 0
	KPMultilogCommitCDBAfter = "Multilog.Commit:cdb-after" // After the CDB flip, before the final flush
)
