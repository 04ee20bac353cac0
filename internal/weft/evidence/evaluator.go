// Package evidence implements WeftEnd's C3 evidence & policy evaluator
// (spec §4.3): evidence records plus a TrustPolicy in, an eligible
// capability set plus a digested ExecutionPlan out. Grounded on
// services/runner/internal/policy/gate.go's "evaluate every check,
// collect every reason, never let order change the outcome" discipline,
// generalized from gate.go's flat []DenyReason to the spec's recursive
// EvidenceExpr tree.
package evidence

import (
	"fmt"
	"sort"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reacherr"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
)

// GraphManifest is the minimal node-set input the evaluator binds
// capability grants to: one nodeId per executable plan node.
type GraphManifest struct {
	Nodes []string
}

// TrustResult is the evaluator's pass/fail verdict plus the reasons that
// produced it, in spec-stable order.
type TrustResult struct {
	Eligible    map[string]bool // capId -> eligible
	ReasonCodes []string
}

// sortedEvidence returns evidence records ordered by
// (kind, issuer, subject.nodeId, subject.contentHash, canonical(payload))
// per spec §3/§4.3 step 1.
func sortedEvidence(records []model.EvidenceRecord) ([]model.EvidenceRecord, error) {
	cp := make([]model.EvidenceRecord, len(records))
	copy(cp, records)
	payloadDigests := make([]string, len(cp))
	for i, r := range cp {
		d, err := canon.Digest(canon.FamilySHA256, r.Payload)
		if err != nil {
			return nil, fmt.Errorf("evidence: canonicalize payload %d: %w", i, err)
		}
		payloadDigests[i] = d
	}
	idx := make([]int, len(cp))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if cp[ia].Kind != cp[ib].Kind {
			return cp[ia].Kind < cp[ib].Kind
		}
		if cp[ia].Issuer != cp[ib].Issuer {
			return cp[ia].Issuer < cp[ib].Issuer
		}
		if cp[ia].Subject.NodeID != cp[ib].Subject.NodeID {
			return cp[ia].Subject.NodeID < cp[ib].Subject.NodeID
		}
		if cp[ia].Subject.ContentHash != cp[ib].Subject.ContentHash {
			return cp[ia].Subject.ContentHash < cp[ib].Subject.ContentHash
		}
		return payloadDigests[ia] < payloadDigests[ib]
	})
	out := make([]model.EvidenceRecord, len(cp))
	for i, j := range idx {
		out[i] = cp[j]
	}
	return out, nil
}

// ValidateEvidenceID checks spec's evidence-id law:
// evidenceId == digest(canonical(record \ {evidenceId})).
func ValidateEvidenceID(r model.EvidenceRecord) []reacherr.Issue {
	stripped, err := canon.WithoutField(r, "evidenceId")
	if err != nil {
		return []reacherr.Issue{{Code: reasoncode.FieldInvalid, Path: "evidenceId", Detail: err.Error()}}
	}
	want := canon.DigestBytes(canon.FamilySHA256, stripped)
	if r.EvidenceID != want {
		return []reacherr.Issue{{Code: reasoncode.FieldInvalid, Path: "evidenceId", Detail: "evidenceId does not match digest(canonical(record))"}}
	}
	return nil
}

// evalExpr evaluates a single EvidenceExpr against the sorted evidence
// set for a given rule's target subject, per spec step 2. Children are
// evaluated in the order they appear in the expression (which is itself
// canonical-JSON array order, since EvidenceExpr trees are authored, not
// constructed from a map). Short-circuit is permitted because it cannot
// change the result — every child is a pure, total function of the same
// sorted evidence set, so skipping later children loses nothing.
func evalExpr(expr model.EvidenceExpr, evid []model.EvidenceRecord, nodeID string) (bool, []string) {
	switch {
	case expr.Kind != "":
		for _, e := range evid {
			if e.Kind == expr.Kind && (e.Subject.NodeID == nodeID || e.Subject.NodeID == "") {
				return true, nil
			}
		}
		return false, []string{string(reasoncode.TrustEvidenceMissing) + ":" + expr.Kind}

	case len(expr.AllOf) > 0:
		var reasons []string
		ok := true
		for _, child := range expr.AllOf {
			cok, creasons := evalExpr(child, evid, nodeID)
			if !cok {
				ok = false
				reasons = append(reasons, creasons...)
			}
		}
		return ok, reasons

	case len(expr.AnyOf) > 0:
		var reasons []string
		for _, child := range expr.AnyOf {
			cok, creasons := evalExpr(child, evid, nodeID)
			if cok {
				return true, nil
			}
			reasons = append(reasons, creasons...)
		}
		return false, reasons

	default:
		// An empty expression requires nothing and is vacuously satisfied.
		return true, nil
	}
}

// Evaluate runs the full deterministic algorithm of spec §4.3 and
// returns eligible capabilities plus the ExecutionPlan those capabilities
// were bound into.
func Evaluate(graph GraphManifest, evid []model.EvidenceRecord, policy model.TrustPolicy, policyDigest string) (TrustResult, model.ExecutionPlan, error) {
	sorted, err := sortedEvidence(evid)
	if err != nil {
		return TrustResult{}, model.ExecutionPlan{}, err
	}

	rules := make([]model.TrustRule, len(policy.Rules))
	copy(rules, policy.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Match < rules[j].Match })

	eligible := make(map[string]bool)
	var reasons []string

	for _, node := range graph.Nodes {
		for _, rule := range rules {
			if !matches(rule.Match, node) {
				continue
			}
			ok, ruleReasons := evalExpr(rule.Requires, sorted, node)
			if ok {
				for _, cap := range rule.Grants {
					eligible[cap] = true
				}
			} else {
				reasons = append(reasons, ruleReasons...)
			}
		}
	}

	var grants []model.CapabilityGrant
	capIDs := make([]string, 0, len(eligible))
	for cap := range eligible {
		capIDs = append(capIDs, cap)
	}
	sort.Strings(capIDs)
	for _, cap := range capIDs {
		grants = append(grants, model.CapabilityGrant{CapID: cap})
	}

	nodes := make([]string, len(graph.Nodes))
	copy(nodes, graph.Nodes)
	sort.Strings(nodes)
	planNodes := make([]model.PlanNode, len(nodes))
	for i, n := range nodes {
		planNodes[i] = model.PlanNode{NodeID: n}
	}

	plan := model.ExecutionPlan{
		Nodes:        planNodes,
		Grants:       grants,
		PolicyDigest: policyDigest,
	}

	return TrustResult{Eligible: eligible, ReasonCodes: canon.SortUniqueStrings(reasons)}, plan, nil
}

// matches reports whether a rule's match expression selects nodeID. Only
// exact match and the "*" wildcard are supported; this keeps the matcher
// pure and total, which is what the deterministic-evaluation invariant
// (spec §8) requires.
func matches(matchExpr, nodeID string) bool {
	return matchExpr == "*" || matchExpr == nodeID
}

// PlanDigest computes planDigest = digest(canonical(plan)) per spec
// §4.3 step 5.
func PlanDigest(plan model.ExecutionPlan) (string, error) {
	return canon.Digest(canon.FamilySHA256, plan)
}
