// Package verify360 implements WeftEnd's C10 gate (spec §4.10): a
// linear, monotonic state machine from INIT through RECORDED, staged
// triples written per run, atomic latest.txt finalization, and
// idempotent replay that never re-advances the pointer. Grounded on
// services/runner/internal/determinism/ci_gate.go's "run trials, record
// a pass/fail result with full detail" reporting shape and
// pack-devkit/harness/harness.go's Runner for the staged-evidence
// pattern, generalized from a single linear pipeline to the spec's
// nine-state machine with a fail-closed exception path at every state.
package verify360

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/store"
)

// State is one node of the linear Verify-360 state machine.
type State string

const (
	StateInit            State = "INIT"
	StatePrechecked      State = "PRECHECKED"
	StateCompileDone     State = "COMPILE_DONE"
	StateTestDone        State = "TEST_DONE"
	StateProofcheckDone  State = "PROOFCHECK_DONE"
	StateDeterminismDone State = "DETERMINISM_DONE"
	StateStaged          State = "STAGED"
	StateFinalized       State = "FINALIZED"
	StateRecorded        State = "RECORDED"
)

// order is the fixed, monotonic sequence the state machine must
// advance through; no state may be skipped or revisited.
var order = []State{
	StateInit, StatePrechecked, StateCompileDone, StateTestDone,
	StateProofcheckDone, StateDeterminismDone, StateStaged, StateFinalized, StateRecorded,
}

func stateIndex(s State) int {
	for i, o := range order {
		if o == s {
			return i
		}
	}
	return -1
}

// HistoryLink binds a receipt to its predecessor run in the history
// chain.
type HistoryLink struct {
	PriorRunID             string `json:"priorRunId"`
	PriorReceiptFileDigest string `json:"priorReceiptFileDigest"`
}

// StagedTriple is the {receipt, report, output_manifest} bundle written
// to history/run_<seq>/ at the STAGED transition.
type StagedTriple struct {
	Receipt        []byte
	Report         []byte
	OutputManifest []byte
}

// Receipt is the verify_360_receipt.json shape.
type Receipt struct {
	RunID             string      `json:"runId"`
	GateContextDigest string      `json:"gateContextDigest"`
	FinalState        State       `json:"finalState"`
	ReasonCodes       []string    `json:"reasonCodes,omitempty"`
	HistoryLink       HistoryLink `json:"historyLink"`
	HistoryLinkDigest string      `json:"historyLinkDigest"`
	IdempotenceMode   string      `json:"idempotenceMode,omitempty"` // "" or "replay"
	PointerPolicy     string      `json:"pointerPolicy,omitempty"`   // "" or "suppress"
}

// Gate drives one run of the state machine. A Gate is single-use: each
// run produces exactly one Receipt, whether it reaches RECORDED or
// fails closed partway through.
type Gate struct {
	RunID                  string
	GateContextDigest      string
	PriorRunID             string
	PriorReceiptFileDigest string
	state                  State
	reasons                []string
	failed                 bool
}

// NewGate starts a run at INIT.
func NewGate(runID, gateContextDigest, priorRunID, priorReceiptFileDigest string) *Gate {
	return &Gate{
		RunID:                  runID,
		GateContextDigest:      gateContextDigest,
		PriorRunID:             priorRunID,
		PriorReceiptFileDigest: priorReceiptFileDigest,
		state:                  StateInit,
	}
}

// Advance attempts to move the gate to the next state in order. ok
// must be true for the transition to succeed; when false, the gate
// fails closed at its current state and Advance returns false for
// every subsequent call (the caller must stop driving the machine and
// call Receipt()).
func (g *Gate) Advance(next State, ok bool) bool {
	if g.failed || !g.canAdvanceTo(next) {
		return false
	}
	if !ok {
		g.failed = true
		return false
	}
	g.state = next
	return true
}

func (g *Gate) canAdvanceTo(next State) bool {
	cur := stateIndex(g.state)
	want := stateIndex(next)
	return cur >= 0 && want == cur+1
}

// State returns the gate's current state.
func (g *Gate) State() State { return g.state }

// Fail records the failing reasons for a fail-closed exception path;
// the gate never advances past its current state afterward.
func (g *Gate) Fail(reasons ...string) {
	g.failed = true
	g.reasons = append(g.reasons, reasons...)
}

// Receipt produces the terminal receipt for this run. isReplay marks a
// duplicate-key run: it still carries full evidence but must never
// advance latest.txt.
func (g *Gate) Receipt(isReplay bool) (Receipt, error) {
	link := HistoryLink{PriorRunID: g.PriorRunID, PriorReceiptFileDigest: g.PriorReceiptFileDigest}
	linkDigest, err := canon.Digest(canon.FamilySHA256, link)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		RunID:             g.RunID,
		GateContextDigest: g.GateContextDigest,
		FinalState:        g.state,
		HistoryLink:       link,
		HistoryLinkDigest: linkDigest,
	}

	if g.state != StateRecorded {
		reasons := append([]string(nil), g.reasons...)
		reasons = append(reasons, string(reasoncode.Verify360FailClosedPrefix)+string(g.state))
		receipt.ReasonCodes = canon.SortUniqueStrings(reasons)
	}

	if isReplay {
		receipt.IdempotenceMode = "replay"
		receipt.PointerPolicy = "suppress"
	}

	return receipt, nil
}

// ShouldAdvancePointer reports whether latest.txt may advance for this
// receipt: only a non-replay run that reached RECORDED with no
// fail-closed reasons may ever move the pointer.
func ShouldAdvancePointer(r Receipt) bool {
	return r.FinalState == StateRecorded && r.IdempotenceMode != "replay" && len(r.ReasonCodes) == 0
}

// RunDir picks a collision-safe directory for a run's staged triple,
// per spec §5: "run-folder creation is idempotent and collision-safe by
// suffixing _NNN". If history/run_<seq>/ already exists (e.g. a prior
// attempt for this exact gate context), the first free run_<seq>_NNN
// directory, starting at _001, is returned instead.
func RunDir(historyRoot string, seq int) (string, error) {
	base := filepath.Join(historyRoot, fmt.Sprintf("run_%d", seq))
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base, nil
	} else if err != nil {
		return "", fmt.Errorf("verify360: stat run dir: %w", err)
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%03d", base, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("verify360: stat run dir: %w", err)
		}
	}
}

// PersistRun writes a run's staged triple to runDir/{verify_360_receipt.json,
// verify_360_report.txt, verify_360_output_manifest.json}, atomically
// (write-temp, fsync, rename) per file.
func PersistRun(runDir string, triple StagedTriple) error {
	files := map[string][]byte{
		"verify_360_receipt.json":         triple.Receipt,
		"verify_360_report.txt":           triple.Report,
		"verify_360_output_manifest.json": triple.OutputManifest,
	}
	for name, data := range files {
		if data == nil {
			continue
		}
		if err := store.WriteFileAtomic(filepath.Join(runDir, name), data); err != nil {
			return fmt.Errorf("verify360: persist %s: %w", name, err)
		}
	}
	return nil
}

// AdvanceLatest atomically overwrites historyRoot/latest.txt with
// runID. The caller must gate this on ShouldAdvancePointer: a replay or
// fail-closed run must never reach here.
func AdvanceLatest(historyRoot, runID string) error {
	path := filepath.Join(historyRoot, "latest.txt")
	if err := store.WriteFileAtomic(path, []byte(runID)); err != nil {
		return fmt.Errorf("verify360: advance latest.txt: %w", err)
	}
	return nil
}

// ReadLatest reads historyRoot/latest.txt, returning "" if no run has
// ever advanced the pointer.
func ReadLatest(historyRoot string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(historyRoot, "latest.txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("verify360: read latest.txt: %w", err)
	}
	return string(raw), nil
}

// MarshalReceipt is a small convenience so CLI callers building a
// StagedTriple don't need to import encoding/json separately just to
// serialize the receipt they already have.
func MarshalReceipt(r Receipt) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
