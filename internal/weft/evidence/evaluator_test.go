package evidence

import (
	"testing"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
)

func TestEvaluateGrantsWhenRuleSatisfied(t *testing.T) {
	evid := []model.EvidenceRecord{
		{Kind: "signed-release", Issuer: "shop-a", Subject: model.EvidenceSubject{NodeID: "n1"}},
	}
	policy := model.TrustPolicy{
		Rules: []model.TrustRule{
			{Match: "n1", Requires: model.EvidenceExpr{Kind: "signed-release"}, Grants: []string{"fs.read"}},
		},
	}
	result, plan, err := Evaluate(GraphManifest{Nodes: []string{"n1"}}, evid, policy, "policy:abc")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Eligible["fs.read"] {
		t.Fatalf("expected fs.read eligible, got %+v", result.Eligible)
	}
	if len(result.ReasonCodes) != 0 {
		t.Fatalf("expected no reasons, got %v", result.ReasonCodes)
	}
	if len(plan.Grants) != 1 || plan.Grants[0].CapID != "fs.read" {
		t.Fatalf("unexpected grants: %+v", plan.Grants)
	}
	if plan.PolicyDigest != "policy:abc" {
		t.Fatalf("policy digest not threaded through: %q", plan.PolicyDigest)
	}
}

func TestEvaluateUnknownKindFailsClosed(t *testing.T) {
	policy := model.TrustPolicy{
		Rules: []model.TrustRule{
			{Match: "n1", Requires: model.EvidenceExpr{Kind: "attestation"}, Grants: []string{"net.connect"}},
		},
	}
	result, _, err := Evaluate(GraphManifest{Nodes: []string{"n1"}}, nil, policy, "policy:xyz")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Eligible["net.connect"] {
		t.Fatalf("expected net.connect NOT eligible when evidence is absent")
	}
	want := string(reasoncode.TrustEvidenceMissing) + ":attestation"
	found := false
	for _, c := range result.ReasonCodes {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected reason %q, got %v", want, result.ReasonCodes)
	}
}

func TestEvaluateAllOfRequiresEveryChild(t *testing.T) {
	evid := []model.EvidenceRecord{
		{Kind: "signed-release", Subject: model.EvidenceSubject{NodeID: "n1"}},
	}
	policy := model.TrustPolicy{
		Rules: []model.TrustRule{
			{
				Match: "n1",
				Requires: model.EvidenceExpr{AllOf: []model.EvidenceExpr{
					{Kind: "signed-release"},
					{Kind: "selftest-pass"},
				}},
				Grants: []string{"proc.spawn"},
			},
		},
	}
	result, _, err := Evaluate(GraphManifest{Nodes: []string{"n1"}}, evid, policy, "policy:allof")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Eligible["proc.spawn"] {
		t.Fatalf("expected proc.spawn NOT eligible: missing selftest-pass evidence")
	}
}

func TestEvaluateAnyOfSatisfiedByOneChild(t *testing.T) {
	evid := []model.EvidenceRecord{
		{Kind: "selftest-pass", Subject: model.EvidenceSubject{NodeID: "n1"}},
	}
	policy := model.TrustPolicy{
		Rules: []model.TrustRule{
			{
				Match: "n1",
				Requires: model.EvidenceExpr{AnyOf: []model.EvidenceExpr{
					{Kind: "signed-release"},
					{Kind: "selftest-pass"},
				}},
				Grants: []string{"proc.spawn"},
			},
		},
	}
	result, _, err := Evaluate(GraphManifest{Nodes: []string{"n1"}}, evid, policy, "policy:anyof")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Eligible["proc.spawn"] {
		t.Fatalf("expected proc.spawn eligible via anyOf")
	}
}

func TestPlanDigestStableAcrossNodeOrder(t *testing.T) {
	policy := model.TrustPolicy{
		Rules: []model.TrustRule{
			{Match: "*", Requires: model.EvidenceExpr{}, Grants: []string{"fs.read"}},
		},
	}
	_, planA, err := Evaluate(GraphManifest{Nodes: []string{"b", "a"}}, nil, policy, "policy:p")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	_, planB, err := Evaluate(GraphManifest{Nodes: []string{"a", "b"}}, nil, policy, "policy:p")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	dA, err := PlanDigest(planA)
	if err != nil {
		t.Fatalf("PlanDigest A: %v", err)
	}
	dB, err := PlanDigest(planB)
	if err != nil {
		t.Fatalf("PlanDigest B: %v", err)
	}
	if dA != dB {
		t.Fatalf("plan digest depends on input node order: %s vs %s", dA, dB)
	}
}

func TestValidateEvidenceIDRejectsMismatch(t *testing.T) {
	r := model.EvidenceRecord{Kind: "signed-release", Issuer: "shop-a", EvidenceID: "sha256:deadbeef"}
	issues := ValidateEvidenceID(r)
	if len(issues) == 0 {
		t.Fatalf("expected a mismatch issue, got none")
	}
	if issues[0].Code != reasoncode.FieldInvalid {
		t.Fatalf("expected FIELD_INVALID, got %s", issues[0].Code)
	}
}
