package verify360

import "testing"

func driveToRecorded(g *Gate) {
	g.Advance(StatePrechecked, true)
	g.Advance(StateCompileDone, true)
	g.Advance(StateTestDone, true)
	g.Advance(StateProofcheckDone, true)
	g.Advance(StateDeterminismDone, true)
	g.Advance(StateStaged, true)
	g.Advance(StateFinalized, true)
	g.Advance(StateRecorded, true)
}

func TestGateReachesRecordedOnAllPasses(t *testing.T) {
	g := NewGate("run-1", "ctx:digest", "", "")
	driveToRecorded(g)
	if g.State() != StateRecorded {
		t.Fatalf("expected RECORDED, got %s", g.State())
	}
	receipt, err := g.Receipt(false)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if len(receipt.ReasonCodes) != 0 {
		t.Fatalf("expected no reason codes on a clean run, got %v", receipt.ReasonCodes)
	}
	if !ShouldAdvancePointer(receipt) {
		t.Fatalf("expected pointer to be allowed to advance")
	}
}

func TestGateFailsClosedAtFailingState(t *testing.T) {
	g := NewGate("run-2", "ctx:digest", "", "")
	g.Advance(StatePrechecked, true)
	g.Advance(StateCompileDone, true)
	ok := g.Advance(StateTestDone, false)
	if ok {
		t.Fatalf("expected Advance to report failure")
	}
	g.Fail("unit test regression")
	receipt, err := g.Receipt(false)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if receipt.FinalState != StateCompileDone {
		t.Fatalf("expected gate to remain at COMPILE_DONE, got %s", receipt.FinalState)
	}
	wantPrefix := "VERIFY360_FAIL_CLOSED_AT_COMPILE_DONE"
	found := false
	for _, c := range receipt.ReasonCodes {
		if c == wantPrefix {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s in reason codes, got %v", wantPrefix, receipt.ReasonCodes)
	}
	if ShouldAdvancePointer(receipt) {
		t.Fatalf("a failed run must never be allowed to advance the pointer")
	}
}

func TestGateCannotSkipStates(t *testing.T) {
	g := NewGate("run-3", "ctx:digest", "", "")
	ok := g.Advance(StateCompileDone, true) // skips PRECHECKED
	if ok {
		t.Fatalf("expected Advance to refuse skipping a state")
	}
	if g.State() != StateInit {
		t.Fatalf("expected state to remain INIT, got %s", g.State())
	}
}

func TestReplayNeverAdvancesPointerEvenWhenRecorded(t *testing.T) {
	g := NewGate("run-4", "ctx:digest", "run-3", "sha256:prior")
	driveToRecorded(g)
	receipt, err := g.Receipt(true)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if receipt.IdempotenceMode != "replay" || receipt.PointerPolicy != "suppress" {
		t.Fatalf("expected replay/suppress markers, got %+v", receipt)
	}
	if ShouldAdvancePointer(receipt) {
		t.Fatalf("a replay run must never advance the pointer even if RECORDED")
	}
}

func TestHistoryLinkDigestIsStable(t *testing.T) {
	g1 := NewGate("run-5", "ctx:digest", "run-4", "sha256:abc")
	g2 := NewGate("run-5", "ctx:digest", "run-4", "sha256:abc")
	driveToRecorded(g1)
	driveToRecorded(g2)
	r1, err := g1.Receipt(false)
	if err != nil {
		t.Fatalf("Receipt 1: %v", err)
	}
	r2, err := g2.Receipt(false)
	if err != nil {
		t.Fatalf("Receipt 2: %v", err)
	}
	if r1.HistoryLinkDigest != r2.HistoryLinkDigest {
		t.Fatalf("expected identical historyLinkDigest for identical history links")
	}
}
