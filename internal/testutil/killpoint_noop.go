//go:build !crashtest

// Package testutil provides test utilities for stress testing and verification.
//
// This file provides no-op implementations of kill point functions for
// production builds. When built without the "crashtest" tag, all kill point
// calls are effectively eliminated by the compiler.
package testutil

// KillPointEnvVar is the environment variable used to set the kill point target.
// In production builds, this is defined but ignored.
const KillPointEnvVar = "PMLOG_KILL_POINT"

// SetKillPoint is a no-op in production builds.
func SetKillPoint(_ string) {}

// ClearKillPoint is a no-op in production builds.
func ClearKillPoint() {}

// ArmKillPoint is a no-op in production builds.
func ArmKillPoint() {}

// DisarmKillPoint is a no-op in production builds.
func DisarmKillPoint() {}

// IsKillPointArmed always returns false in production builds.
func IsKillPointArmed() bool { return false }

// GetKillPointTarget always returns empty string in production builds.
func GetKillPointTarget() string { return "" }

// GetKillPointHitCount always returns 0 in production builds.
func GetKillPointHitCount(_ string) int64 { return 0 }

// ResetKillPointCounts is a no-op in production builds.
func ResetKillPointCounts() {}

// MaybeKill is a no-op in production builds.
// The compiler should inline and eliminate this entirely.
func MaybeKill(_ string) {}

// Kill point name constants - defined for API compatibility even in prod builds.
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
