//go:build crashtest

package log

import (
	"bytes"
	"testing"

	"github.com/crashlog/pmlog/internal/encoding"
	"github.com/crashlog/pmlog/internal/permission"
	"github.com/crashlog/pmlog/internal/pm"
	"github.com/crashlog/pmlog/internal/testutil"
)

// runToKillPoint arms kp, runs fn, and recovers the panic MaybeKill raises
// at kp in place of os.Exit. There is no on-disk file for an in-memory
// pm.MemoryDevice to reopen after a real process exit, so this halts
// execution in place instead: dev's dirty chunks are left exactly as they
// were the instant kp fired. Fails the test if fn returns without reaching
// kp, or if it panics with anything else.
func runToKillPoint(t *testing.T, kp string, fn func()) {
	t.Helper()
	testutil.SetKillPoint(kp)
	testutil.SetKillHook(func(name string) { panic(testutil.KillPointHit{Name: name}) })
	defer testutil.ClearKillPoint()
	defer testutil.ClearKillHook()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("fn ran to completion without reaching kill point %s", kp)
			return
		}
		hit, ok := r.(testutil.KillPointHit)
		if !ok {
			panic(r)
		}
		if hit.Name != kp {
			t.Fatalf("hit kill point %q, want %q", hit.Name, kp)
		}
	}()
	fn()
}

// seedRecoveryDevice builds a fresh, fully-flushed device from a captured
// crash-state byte sequence, for running Start against it.
func seedRecoveryDevice(t *testing.T, state []byte) *pm.MemoryDevice {
	t.Helper()
	dev := pm.NewMemoryDevice(uint64(len(state)), pm.DefaultChunkSize)
	if err := dev.Write(0, state); err != nil {
		t.Fatalf("seed recovery device: %v", err)
	}
	if err := dev.Flush(); err != nil {
		t.Fatalf("flush recovery device: %v", err)
	}
	return dev
}

func computePostCommit(t *testing.T, preCommit, data []byte) []byte {
	t.Helper()
	clone := seedRecoveryDevice(t, preCommit)
	cl, err := Start(clone, testLogID)
	if err != nil {
		t.Fatalf("Start clone: %v", err)
	}
	if _, err := cl.TentativeAppend(data); err != nil {
		t.Fatalf("TentativeAppend on clone: %v", err)
	}
	if err := cl.Commit(); err != nil {
		t.Fatalf("Commit on clone: %v", err)
	}
	return clone.CommittedSnapshot()
}

// TestCommitCrashAtEveryKillPointRecoversToApprovedState arms each kill
// point inside Commit in turn, runs a real Commit against a live device
// until it hits that kill point, and checks the exhaustive enumeration of
// what a crash could leave durable (permission.VerifyAgainstCrashStates)
// against {whatever is durable right now, the state a completed commit
// would have left} — the property spec §8 calls recover(s) ∈ {A, A'}.
func TestCommitCrashAtEveryKillPointRecoversToApprovedState(t *testing.T) {
	killPoints := []string{testutil.KPLogCommit0, testutil.KPLogCommit1, testutil.KPLogCommit2}
	for _, kp := range killPoints {
		kp := kp
		t.Run(kp, func(t *testing.T) {
			dev := newRegion(t, 4096)
			if err := Setup(dev, testLogID); err != nil {
				t.Fatalf("Setup: %v", err)
			}
			l, err := Start(dev, testLogID)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			data := bytes.Repeat([]byte{0xAA}, 100)
			if _, err := l.TentativeAppend(data); err != nil {
				t.Fatalf("TentativeAppend: %v", err)
			}
			if err := dev.Flush(); err != nil {
				t.Fatalf("flush pending append: %v", err)
			}
			preCommit := dev.CommittedSnapshot()
			post := computePostCommit(t, preCommit, data)

			runToKillPoint(t, kp, func() { _ = l.Commit() })

			current := dev.CommittedSnapshot()
			approved := permission.ApprovedStates{States: [][]byte{current, post}}
			if err := permission.VerifyAgainstCrashStates(dev, approved); err != nil {
				t.Fatalf("kill point %s: %v", kp, err)
			}

			for i, state := range dev.PossibleCrashStates() {
				recovered, err := Start(seedRecoveryDevice(t, state), testLogID)
				if err != nil {
					t.Fatalf("Start on crash state %d: %v", i, err)
				}
				_, tail, _ := recovered.GetHeadTailCapacity()
				if tail != (encoding.U128{}) && tail != encoding.U128FromUint64(100) {
					t.Errorf("crash state %d recovered to tail %+v, want 0 or 100", i, tail)
				}
			}
		})
	}
}

func computePostAdvanceHead(t *testing.T, preAdvance []byte, newHead uint64) []byte {
	t.Helper()
	clone := seedRecoveryDevice(t, preAdvance)
	cl, err := Start(clone, testLogID)
	if err != nil {
		t.Fatalf("Start clone: %v", err)
	}
	if err := cl.AdvanceHead(encoding.U128FromUint64(newHead)); err != nil {
		t.Fatalf("AdvanceHead on clone: %v", err)
	}
	return clone.CommittedSnapshot()
}

// TestAdvanceHeadCrashAtEveryKillPointRecoversToApprovedState is
// TestCommitCrashAtEveryKillPointRecoversToApprovedState's AdvanceHead
// counterpart: AdvanceHead shares Commit's tentative-metadata-then-CDB-flip
// protocol, so the same three kill points apply.
func TestAdvanceHeadCrashAtEveryKillPointRecoversToApprovedState(t *testing.T) {
	killPoints := []string{testutil.KPLogAdvanceHead0, testutil.KPLogAdvanceHead1, testutil.KPLogAdvanceHead2}
	for _, kp := range killPoints {
		kp := kp
		t.Run(kp, func(t *testing.T) {
			dev := newRegion(t, 4096)
			if err := Setup(dev, testLogID); err != nil {
				t.Fatalf("Setup: %v", err)
			}
			l, err := Start(dev, testLogID)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if _, err := l.TentativeAppend(bytes.Repeat([]byte{0xBB}, 200)); err != nil {
				t.Fatalf("TentativeAppend: %v", err)
			}
			if err := l.Commit(); err != nil {
				t.Fatalf("Commit: %v", err)
			}
			if err := dev.Flush(); err != nil {
				t.Fatalf("flush after commit: %v", err)
			}
			preAdvance := dev.CommittedSnapshot()
			post := computePostAdvanceHead(t, preAdvance, 50)

			runToKillPoint(t, kp, func() { _ = l.AdvanceHead(encoding.U128FromUint64(50)) })

			current := dev.CommittedSnapshot()
			approved := permission.ApprovedStates{States: [][]byte{current, post}}
			if err := permission.VerifyAgainstCrashStates(dev, approved); err != nil {
				t.Fatalf("kill point %s: %v", kp, err)
			}

			for i, state := range dev.PossibleCrashStates() {
				recovered, err := Start(seedRecoveryDevice(t, state), testLogID)
				if err != nil {
					t.Fatalf("Start on crash state %d: %v", i, err)
				}
				head, _, _ := recovered.GetHeadTailCapacity()
				if head != (encoding.U128{}) && head != encoding.U128FromUint64(50) {
					t.Errorf("crash state %d recovered to head %+v, want 0 or 50", i, head)
				}
			}
		})
	}
}
