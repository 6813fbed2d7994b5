package permission

import (
	"testing"

	"github.com/crashlog/pmlog/internal/pm"
)

func TestGateWriteRequiresPermission(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Write(nil permission) should panic")
		}
	}()
	g := NewGate(pm.NewMemoryDevice(16, 8), nil)
	_ = g.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}, nil)
}

func TestAlwaysApprovesEverything(t *testing.T) {
	var p Permission = Always{}
	if !p.CheckPermission([]byte("anything")) {
		t.Fatal("Always should approve any state")
	}
	if !p.CheckPermission(nil) {
		t.Fatal("Always should approve nil state")
	}
}

func TestApprovedStatesRejectsUnlisted(t *testing.T) {
	p := ApprovedStates{States: [][]byte{[]byte("a"), []byte("b")}}
	if !p.CheckPermission([]byte("a")) {
		t.Error("should approve listed state a")
	}
	if !p.CheckPermission([]byte("b")) {
		t.Error("should approve listed state b")
	}
	if p.CheckPermission([]byte("c")) {
		t.Error("should reject unlisted state c")
	}
}

func TestVerifyAgainstCrashStatesCatchesUnapprovedState(t *testing.T) {
	dev := pm.NewMemoryDevice(16, 8)
	_ = dev.Write(0, []byte{1, 1, 1, 1, 1, 1, 1, 1})
	_ = dev.Flush()
	_ = dev.Write(0, []byte{2, 2, 2, 2, 2, 2, 2, 2})

	// Approve only the post-write state, not the pre-write (committed) one.
	approvedOnly := ApprovedStates{States: [][]byte{dev.CrashWithFlushedChunks(map[uint64]bool{0: true})}}
	if err := VerifyAgainstCrashStates(dev, approvedOnly); err == nil {
		t.Fatal("expected a disapproved crash state (the pre-write state) to be caught")
	}

	both := ApprovedStates{States: [][]byte{
		dev.CrashWithFlushedChunks(map[uint64]bool{}),
		dev.CrashWithFlushedChunks(map[uint64]bool{0: true}),
	}}
	if err := VerifyAgainstCrashStates(dev, both); err != nil {
		t.Fatalf("expected both reachable states to be approved: %v", err)
	}
}
