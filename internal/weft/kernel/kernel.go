// Package kernel implements WeftEnd's C6 capability kernel (spec
// §4.6): the per-load, frozen-context enforcement core that turns an
// invoke message into an allow/deny verdict by running a fixed
// 16-step deterministic evaluation order and collecting every denial
// reason before returning. Grounded on
// services/runner/internal/policy/gate.go's "evaluate every check,
// collect every reason" evaluateUncached shape (generalized from a
// 5-check flat policy gate to the spec's 16-step per-invoke context)
// fused with services/runner/internal/packloader/sandbox.go's
// EnforcedCall/AuditLog pattern for the cap.deny telemetry emission.
package kernel

import (
	"sync"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
)

// ExecutionMode is the kernel's trust posture for this load.
type ExecutionMode string

const (
	ModeStrict     ExecutionMode = "strict"
	ModeCompatible ExecutionMode = "compatible"
	ModeLegacy     ExecutionMode = "legacy"
)

// ObservedStamp is the precomputed result of step 1: the shop stamp's
// own validity, checked once per load rather than once per invoke.
type ObservedStamp struct {
	ShapeValid       bool `json:"shapeValid"`
	SignatureValid   bool `json:"signatureValid"`
	TierAtLeastRun   bool `json:"tierAtLeastRun"`
	BlockMatchesCall bool `json:"blockMatchesCall"`
	AcceptedDecision bool `json:"acceptedDecision"`
}

// OK reports whether every precomputed facet of the stamp held.
func (o ObservedStamp) OK() bool {
	return o.ShapeValid && o.SignatureValid && o.TierAtLeastRun && o.BlockMatchesCall && o.AcceptedDecision
}

// MarketContext carries the market-gate inputs for step 11, when this
// load is subject to a market admission receipt.
type MarketContext struct {
	GateID             string          `json:"gateId"`
	MarketID           string          `json:"marketId"`
	MarketPolicyDigest string          `json:"marketPolicyDigest"`
	ReleaseID          string          `json:"releaseId"`
	EligibleCaps       map[string]bool `json:"eligibleCaps,omitempty"`
}

// ConsentState tracks the id.sign consent ledger (step 14) across the
// lifetime of a Context: once used, a consentId is never valid again,
// and seq must strictly increase.
type ConsentState struct {
	mu      sync.Mutex
	usedIDs map[string]bool
	lastSeq int64
}

func newConsentState() *ConsentState {
	return &ConsentState{usedIDs: make(map[string]bool)}
}

// ConsentClaim is the spec §4.6 step-14 consent envelope.
type ConsentClaim struct {
	ConsentID  string `json:"consentId"`
	Action     string `json:"action"`
	PlanDigest string `json:"planDigest"`
	BlockHash  string `json:"blockHash"`
	IssuerID   string `json:"issuerId"`
	Seq        int64  `json:"seq"`
}

// Context is the frozen-at-load state every invoke is evaluated
// against. Nothing here mutates except the replay/consent ledgers,
// which only ever grow, the deny-event sequence counter, and the
// self-test flag MarkSelftestPassed sets.
type Context struct {
	PlanDigest          string             `json:"planDigest"`
	CallerBlockHash     string             `json:"callerBlockHash"`
	ExecutionMode       ExecutionMode      `json:"executionMode"`
	SessionNonce        string             `json:"sessionNonce"`
	GrantedCaps         map[string]bool    `json:"grantedCaps,omitempty"`
	KnownCaps           map[string]bool    `json:"knownCaps,omitempty"`
	DisabledCaps        map[string]bool    `json:"disabledCaps,omitempty"`
	RuntimeTier         model.Tier         `json:"runtimeTier,omitempty"`
	BlockTier           model.Tier         `json:"blockTier,omitempty"`
	HasTiers            bool               `json:"hasTiers"`
	HasStamp            bool               `json:"hasStamp"`
	Stamp               ObservedStamp      `json:"stamp"`
	ReleaseStatus       string             `json:"releaseStatus,omitempty"` // "OK" or anything else
	ReleaseGatedCaps    map[string]bool    `json:"releaseGatedCaps,omitempty"`
	ReleaseReasonCodes  []string           `json:"releaseReasonCodes,omitempty"`
	SecretZoneRequired  map[string]bool    `json:"secretZoneRequired,omitempty"`
	SecretZoneAvailable bool               `json:"secretZoneAvailable"`
	Market              *MarketContext     `json:"market,omitempty"`
	AdmissionReceipt    *model.GateReceipt `json:"admissionReceipt,omitempty"`

	seenReqIDs map[string]bool
	mu         sync.Mutex
	seq        int64
	consent    *ConsentState
	selftestOK bool
}

// NewContext constructs a frozen kernel context for one load.
func NewContext() *Context {
	return &Context{
		seenReqIDs: make(map[string]bool),
		consent:    newConsentState(),
	}
}

// Message is one invoke request.
type Message struct {
	ReqID           string        `json:"reqId"`
	CapID           string        `json:"capId"`
	ExecutionMode   ExecutionMode `json:"executionMode"`
	PlanDigest      string        `json:"planDigest"`
	SessionNonce    string        `json:"sessionNonce"`
	CallerBlockHash string        `json:"callerBlockHash"`
	Consent         *ConsentClaim `json:"consent,omitempty"`
}

// Response is the invoke outcome.
type Response struct {
	OK          bool     `json:"ok"`
	ReasonCodes []string `json:"reasonCodes,omitempty"`
}

// DenyEvent is the telemetry payload spec §4.6 mandates on denial: no
// args, no user data, monotonically sequenced.
type DenyEvent struct {
	EventKind       string   `json:"eventKind"`
	PlanDigest      string   `json:"planDigest"`
	CallerBlockHash string   `json:"callerBlockHash"`
	CapID           string   `json:"capId"`
	ReasonCodes     []string `json:"reasonCodes,omitempty"`
	Seq             int64    `json:"seq"`
}

// Sink receives DenyEvents; the telemetry package provides the
// process's concrete sink.
type Sink interface {
	Emit(DenyEvent)
}

// Invoke runs the full 16-step deterministic evaluation. sink may be
// nil, in which case a denial is simply not reported anywhere — the
// verdict itself is still correct.
func (c *Context) Invoke(msg Message, sink Sink) Response {
	var reasons []string

	// Step 1: precomputed stamp, only evaluated when this load actually
	// carries one — a load with no shop-tier stamp at all is not the
	// same thing as a load whose stamp failed every facet.
	if c.HasStamp && !c.Stamp.OK() {
		reasons = append(reasons, string(reasoncode.CapReceiptInvalid))
	}

	// Step 2: mode.
	if msg.ExecutionMode != c.ExecutionMode {
		reasons = append(reasons, string(reasoncode.CapModeMismatch))
	}

	// Step 3: plan binding.
	if msg.PlanDigest != c.PlanDigest {
		reasons = append(reasons, string(reasoncode.CapPlanDigestMismatch))
	}

	// Step 4: nonce.
	if msg.SessionNonce != c.SessionNonce {
		reasons = append(reasons, string(reasoncode.CapNonceMismatch))
	}

	// Step 5: caller.
	if msg.CallerBlockHash != c.CallerBlockHash {
		reasons = append(reasons, string(reasoncode.CapCallerMismatch))
	}

	// Step 6: self-test (strict mode only).
	if c.ExecutionMode == ModeStrict && !c.selftestPassed() {
		reasons = append(reasons, string(reasoncode.CapSelftestRequired))
	}

	// Step 7: replay detection.
	c.mu.Lock()
	if c.seenReqIDs[msg.ReqID] {
		reasons = append(reasons, string(reasoncode.CapReplayDetected))
	} else {
		c.seenReqIDs[msg.ReqID] = true
	}
	c.mu.Unlock()

	// Step 8: tier.
	if c.HasTiers && !model.TierAtLeast(c.BlockTier, c.RuntimeTier) {
		reasons = append(reasons, string(reasoncode.CapTierViolation))
	}

	// Step 9: cap knowledge.
	if !c.KnownCaps[msg.CapID] {
		reasons = append(reasons, string(reasoncode.CapUnknown))
	}

	// Step 10: grant.
	if !c.GrantedCaps[msg.CapID] {
		reasons = append(reasons, string(reasoncode.CapNotGranted))
	}

	// Step 11: market gate.
	if c.Market != nil {
		reasons = append(reasons, c.evaluateMarketGate(msg)...)
	}

	// Step 12: release gate.
	if c.ReleaseStatus != "OK" && c.ReleaseGatedCaps[msg.CapID] {
		if len(c.ReleaseReasonCodes) > 0 {
			reasons = append(reasons, c.ReleaseReasonCodes...)
		} else {
			reasons = append(reasons, string(reasoncode.CapReleaseUnverified))
		}
	}

	// Step 13: secret zone.
	if c.SecretZoneRequired[msg.CapID] && !c.SecretZoneAvailable {
		reasons = append(reasons, string(reasoncode.CapSecretZoneRequired), string(reasoncode.CapSecretZoneUnavailable))
	}

	// Step 14: consent, only relevant to id.sign.
	if msg.CapID == "id.sign" {
		reasons = append(reasons, c.evaluateConsent(msg)...)
	}

	// Step 15: disabled list.
	if c.DisabledCaps[msg.CapID] {
		reasons = append(reasons, string(reasoncode.CapDisabledV0))
	}

	// Step 16: verdict.
	sorted := canon.SortUniqueStrings(reasons)
	if len(sorted) == 0 {
		return Response{OK: true}
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	if sink != nil {
		sink.Emit(DenyEvent{
			EventKind:       "cap.deny",
			PlanDigest:      c.PlanDigest,
			CallerBlockHash: c.CallerBlockHash,
			CapID:           msg.CapID,
			ReasonCodes:     sorted,
			Seq:             seq,
		})
	}
	return Response{OK: false, ReasonCodes: sorted}
}

// selftestPassed is a placeholder the strict loader (C7) overwrites by
// construction: a Context is only ever handed to strict-mode code
// after the loader has recorded a passing self-test. Kept as a field
// rather than inferred so the kernel stays a pure function of its own
// state.
func (c *Context) selftestPassed() bool {
	return c.selftestOK
}

// MarkSelftestPassed records that the strict loader's forbidden-global
// self-test succeeded for this context.
func (c *Context) MarkSelftestPassed() { c.selftestOK = true }

func (c *Context) evaluateMarketGate(msg Message) []string {
	m := c.Market
	receipt := c.AdmissionReceipt
	if receipt == nil {
		return []string{string(reasoncode.CapReceiptMissing)}
	}
	var reasons []string
	if receipt.GateID != m.GateID || receipt.MarketID != m.MarketID ||
		receipt.MarketPolicyDigest != m.MarketPolicyDigest ||
		receipt.PlanDigest != msg.PlanDigest ||
		receipt.ReleaseID != m.ReleaseID ||
		receipt.BlockHash != msg.CallerBlockHash {
		reasons = append(reasons, string(reasoncode.CapReceiptSubjectMismatch))
	}
	if receipt.Decision != model.GateAllow {
		reasons = append(reasons, string(reasoncode.CapReceiptDeny))
	}
	if !m.EligibleCaps[msg.CapID] {
		reasons = append(reasons, string(reasoncode.CapNotEligibleMarket))
	}
	return reasons
}

func (c *Context) evaluateConsent(msg Message) []string {
	claim := msg.Consent
	if claim == nil {
		return []string{string(reasoncode.CapConsentMissing)}
	}
	if claim.ConsentID == "" || claim.IssuerID == "" || claim.Action != "id.sign" {
		return []string{string(reasoncode.CapConsentInvalid)}
	}
	if claim.PlanDigest != c.PlanDigest || claim.BlockHash != msg.CallerBlockHash {
		return []string{string(reasoncode.CapConsentMismatch)}
	}

	c.consent.mu.Lock()
	defer c.consent.mu.Unlock()
	if c.consent.usedIDs[claim.ConsentID] {
		return []string{string(reasoncode.CapConsentReplay)}
	}
	if claim.Seq <= c.consent.lastSeq {
		return []string{string(reasoncode.CapConsentReplay)}
	}
	c.consent.usedIDs[claim.ConsentID] = true
	c.consent.lastSeq = claim.Seq
	return nil
}
