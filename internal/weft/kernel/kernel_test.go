package kernel

import (
	"testing"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
)

func baseContext() *Context {
	c := NewContext()
	c.PlanDigest = "plan:1"
	c.CallerBlockHash = "block:1"
	c.ExecutionMode = ModeCompatible
	c.SessionNonce = "nonce:1"
	c.GrantedCaps = map[string]bool{"fs.read": true}
	c.KnownCaps = map[string]bool{"fs.read": true, "net.connect": true, "id.sign": true}
	c.DisabledCaps = map[string]bool{}
	c.ReleaseGatedCaps = map[string]bool{}
	c.ReleaseStatus = "OK"
	c.SecretZoneRequired = map[string]bool{}
	c.HasStamp = true
	c.Stamp = ObservedStamp{ShapeValid: true, SignatureValid: true, TierAtLeastRun: true, BlockMatchesCall: true, AcceptedDecision: true}
	return c
}

func baseMsg() Message {
	return Message{
		ReqID:           "req-1",
		CapID:           "fs.read",
		ExecutionMode:   ModeCompatible,
		PlanDigest:      "plan:1",
		SessionNonce:    "nonce:1",
		CallerBlockHash: "block:1",
	}
}

func TestInvokeAllowsWellFormedGrantedCall(t *testing.T) {
	c := baseContext()
	resp := c.Invoke(baseMsg(), nil)
	if !resp.OK {
		t.Fatalf("expected allow, got deny: %v", resp.ReasonCodes)
	}
}

func TestInvokeDeniesUngrantedCapability(t *testing.T) {
	c := baseContext()
	msg := baseMsg()
	msg.CapID = "net.connect"
	resp := c.Invoke(msg, nil)
	if resp.OK {
		t.Fatalf("expected deny for ungranted capability")
	}
	if !containsCode(resp.ReasonCodes, reasoncode.CapNotGranted) {
		t.Fatalf("expected CAP_NOT_GRANTED, got %v", resp.ReasonCodes)
	}
}

func TestInvokeDetectsReplay(t *testing.T) {
	c := baseContext()
	msg := baseMsg()
	first := c.Invoke(msg, nil)
	if !first.OK {
		t.Fatalf("first invoke should allow: %v", first.ReasonCodes)
	}
	second := c.Invoke(msg, nil)
	if second.OK {
		t.Fatalf("expected deny on replayed reqId")
	}
	if !containsCode(second.ReasonCodes, reasoncode.CapReplayDetected) {
		t.Fatalf("expected REPLAY_DETECTED, got %v", second.ReasonCodes)
	}
}

func TestInvokeCollectsAllReasonsNotJustFirst(t *testing.T) {
	c := baseContext()
	msg := baseMsg()
	msg.CapID = "net.connect"        // not granted
	msg.SessionNonce = "wrong-nonce" // nonce mismatch too
	resp := c.Invoke(msg, nil)
	if resp.OK {
		t.Fatalf("expected deny")
	}
	if !containsCode(resp.ReasonCodes, reasoncode.CapNotGranted) || !containsCode(resp.ReasonCodes, reasoncode.CapNonceMismatch) {
		t.Fatalf("expected both CAP_NOT_GRANTED and NONCE_MISMATCH, got %v", resp.ReasonCodes)
	}
}

func TestInvokeStrictModeRequiresSelftest(t *testing.T) {
	c := baseContext()
	c.ExecutionMode = ModeStrict
	msg := baseMsg()
	msg.ExecutionMode = ModeStrict
	resp := c.Invoke(msg, nil)
	if resp.OK {
		t.Fatalf("expected deny: strict mode with no recorded self-test")
	}
	if !containsCode(resp.ReasonCodes, reasoncode.CapSelftestRequired) {
		t.Fatalf("expected SELFTEST_REQUIRED, got %v", resp.ReasonCodes)
	}

	c.MarkSelftestPassed()
	msg.ReqID = "req-2"
	resp2 := c.Invoke(msg, nil)
	if !resp2.OK {
		t.Fatalf("expected allow after self-test passes: %v", resp2.ReasonCodes)
	}
}

func TestInvokeDisabledCapAlwaysDenied(t *testing.T) {
	c := baseContext()
	c.DisabledCaps["fs.read"] = true
	resp := c.Invoke(baseMsg(), nil)
	if resp.OK {
		t.Fatalf("expected deny for disabled capability")
	}
	if !containsCode(resp.ReasonCodes, reasoncode.CapDisabledV0) {
		t.Fatalf("expected CAP_DISABLED_V0, got %v", resp.ReasonCodes)
	}
}

func TestInvokeConsentRequiredForIDSign(t *testing.T) {
	c := baseContext()
	c.GrantedCaps["id.sign"] = true
	msg := baseMsg()
	msg.CapID = "id.sign"
	msg.ReqID = "req-sign-1"
	resp := c.Invoke(msg, nil)
	if resp.OK {
		t.Fatalf("expected deny: id.sign with no consent claim")
	}
	if !containsCode(resp.ReasonCodes, reasoncode.CapConsentMissing) {
		t.Fatalf("expected CONSENT_MISSING, got %v", resp.ReasonCodes)
	}

	msg.ReqID = "req-sign-2"
	msg.Consent = &ConsentClaim{ConsentID: "c1", Action: "id.sign", PlanDigest: "plan:1", BlockHash: "block:1", IssuerID: "issuer-1", Seq: 1}
	resp2 := c.Invoke(msg, nil)
	if !resp2.OK {
		t.Fatalf("expected allow with valid consent: %v", resp2.ReasonCodes)
	}

	msg.ReqID = "req-sign-3"
	resp3 := c.Invoke(msg, nil)
	if resp3.OK {
		t.Fatalf("expected deny: replayed consentId")
	}
	if !containsCode(resp3.ReasonCodes, reasoncode.CapConsentReplay) {
		t.Fatalf("expected CONSENT_REPLAY, got %v", resp3.ReasonCodes)
	}
}

func TestInvokeTierViolation(t *testing.T) {
	c := baseContext()
	c.HasTiers = true
	c.RuntimeTier = model.TierT2
	c.BlockTier = model.TierT0
	resp := c.Invoke(baseMsg(), nil)
	if resp.OK {
		t.Fatalf("expected deny for block tier below runtime tier")
	}
	if !containsCode(resp.ReasonCodes, reasoncode.CapTierViolation) {
		t.Fatalf("expected TIER_VIOLATION, got %v", resp.ReasonCodes)
	}
}

type recordingSink struct{ events []DenyEvent }

func (s *recordingSink) Emit(e DenyEvent) { s.events = append(s.events, e) }

func TestInvokeEmitsDenyTelemetryWithMonotonicSeq(t *testing.T) {
	c := baseContext()
	sink := &recordingSink{}
	msg := baseMsg()
	msg.CapID = "net.connect"
	c.Invoke(msg, sink)
	msg.ReqID = "req-2"
	c.Invoke(msg, sink)
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 deny events, got %d", len(sink.events))
	}
	if sink.events[0].Seq >= sink.events[1].Seq {
		t.Fatalf("expected strictly increasing seq, got %d then %d", sink.events[0].Seq, sink.events[1].Seq)
	}
	if sink.events[0].EventKind != "cap.deny" {
		t.Fatalf("unexpected event kind: %s", sink.events[0].EventKind)
	}
}

func TestInvokeWithNoStampSkipsStampCheck(t *testing.T) {
	c := baseContext()
	c.HasStamp = false
	c.Stamp = ObservedStamp{} // deliberately all-false, must not be evaluated
	resp := c.Invoke(baseMsg(), nil)
	if !resp.OK {
		t.Fatalf("expected allow for a load with no shop stamp at all, got deny %v", resp.ReasonCodes)
	}
}

func TestInvokeWithInvalidStampDeniesWhenStampIsPresent(t *testing.T) {
	c := baseContext()
	c.Stamp = ObservedStamp{ShapeValid: true} // HasStamp stays true, stamp fails
	resp := c.Invoke(baseMsg(), nil)
	if resp.OK {
		t.Fatalf("expected deny for a present but invalid stamp")
	}
	if !containsCode(resp.ReasonCodes, reasoncode.CapReceiptInvalid) {
		t.Fatalf("expected RECEIPT_INVALID, got %v", resp.ReasonCodes)
	}
}

func containsCode(codes []string, want reasoncode.Code) bool {
	for _, c := range codes {
		if c == string(want) {
			return true
		}
	}
	return false
}
