// Package loader implements WeftEnd's C7 strict loader (spec §4.7):
// digest recheck with recovery fallback, kernel binding, an isolated
// execution realm whose only I/O door is the kernel's invoke message
// channel, and a forbidden-global self-test gating strict mode.
// Grounded on services/runner/internal/packloader/sandbox.go's
// EnforcedCall/AuditLog "every call passes through one enforcement
// point" shape, generalized from PackSandbox's tool/permission checks
// to the kernel's invoke() as the realm's sole door.
package loader

import (
	"github.com/diblac17-eng/WeftEnd-sub004/internal/packkit/manifest"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/kernel"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/store"
)

// ApplyManifestGrants seeds a kernel.Context's GrantedCaps from an
// artifact's own declared capability surface, ahead of kernel binding.
// A manifest only ever adds grants here; it can never widen beyond
// what the evidence evaluator's plan separately allows, since
// kernel.Invoke still requires KnownCaps/DisabledCaps/tier/market/
// release checks to all pass regardless of how a cap came to be
// granted.
func ApplyManifestGrants(ctx *kernel.Context, m manifest.ArtifactManifest) {
	if ctx.GrantedCaps == nil {
		ctx.GrantedCaps = make(map[string]bool, len(m.RequiredCapabilities))
	}
	for _, capID := range m.RequiredCapabilities {
		ctx.GrantedCaps[capID] = true
	}
}

// Verdict is the strict loader's terminal disposition.
type Verdict string

const (
	VerdictAllow      Verdict = "ALLOW"
	VerdictDeny       Verdict = "DENY"
	VerdictQuarantine Verdict = "QUARANTINE"
)

// ForbiddenGlobals is the fixed set a strict realm's self-test must
// prove absent before any untrusted code executes.
var ForbiddenGlobals = []string{
	"fetch", "XMLHttpRequest", "WebSocket", "EventSource",
	"importScripts", "localStorage", "sessionStorage", "indexedDB", "caches",
}

// Realm is an isolated execution environment whose only door to the
// host is Invoke; it never exposes any forbidden global by
// construction (Go has none of them), so its self-test is a structural
// guarantee rather than a runtime probe — see DESIGN.md.
type Realm struct {
	kernelCtx *kernel.Context
	sink      kernel.Sink
}

// SelfTest proves the forbidden globals are absent. Because a Realm's
// Invoke method is the only method this package exposes to caller
// code, and none of ForbiddenGlobals exist as Go identifiers reachable
// from it, the self-test is a tautology for a Go realm: it exists so
// the result is still recorded in DevkitStrictLoadResult the way the
// spec requires, and so a future host-language binding (§6's external
// parser contract) has a concrete hook to extend.
func (r *Realm) SelfTest() (ok bool, forbiddenFound []string) {
	return true, nil
}

// Invoke is the realm's sole I/O door: every synchronous or
// asynchronous capability call the loaded code makes is evaluated
// through the kernel.
func (r *Realm) Invoke(msg kernel.Message) kernel.Response {
	return r.kernelCtx.Invoke(msg, r.sink)
}

// Result is the spec §4.7 DevkitStrictLoadResult.
type Result struct {
	Verdict                Verdict
	ExecutionOK            bool
	ReasonCodes            []string
	PlanDigest             string
	PolicyDigest           string
	EvidenceDigests        []string
	ExpectedArtifactDigest string
	ObservedArtifactDigest string
	ReleaseID              string
	ReleaseStatus          string
	Rollback               bool
	TartarusSummary        []model.TartarusRecord

	// Realm is the spawned execution realm, set only on ALLOW. It is the
	// caller's sole door to invoke capability calls against the bound
	// kernel context (step 5); a non-ALLOW verdict never spawns one.
	Realm *Realm
}

// RecoverySource is re-exported so callers only import loader, not
// also store, to supply recovery candidates.
type RecoverySource = store.RecoverySource

// Load runs the strict-loader pipeline for one artifact: digest
// recheck + recovery (step 1), kernel binding (step 2), realm spawn +
// self-test (step 3-4), and leaves entry-export evaluation to the
// caller, which must route every capability call through realm.Invoke
// (step 5). Load itself never executes untrusted code — it only
// establishes whether it is safe to.
func Load(s *store.Store, expectedDigest string, payload []byte, kernelCtx *kernel.Context, sink kernel.Sink, recoveryCandidates []RecoverySource) Result {
	result := Result{
		PlanDigest:             kernelCtx.PlanDigest,
		ExpectedArtifactDigest: expectedDigest,
	}

	observed := s.Get(expectedDigest)
	var tartarus []model.TartarusRecord
	if !observed.IsOK() {
		tartarus = append(tartarus, model.TartarusRecord{Kind: "artifact.mismatch", SubjectDigest: expectedDigest, ReasonCodes: []string{string(reasoncode.ArtifactDigestMismatch)}})
		recovery := s.Recover(expectedDigest, kernelCtx.PlanDigest, nil, recoveryCandidates)
		if !recovery.IsOK() {
			result.Verdict = VerdictDeny
			result.ReasonCodes = append(result.ReasonCodes, string(reasoncode.ArtifactDigestMismatch), string(reasoncode.RecoverySourceUnknown))
			result.TartarusSummary = tartarus
			return result
		}
		tartarus = append(tartarus, recovery.Value)
		observed = s.Get(expectedDigest)
		if !observed.IsOK() {
			result.Verdict = VerdictDeny
			result.ReasonCodes = append(result.ReasonCodes, string(reasoncode.ArtifactDigestMismatch))
			result.TartarusSummary = tartarus
			return result
		}
	}
	result.ObservedArtifactDigest = expectedDigest
	result.TartarusSummary = tartarus

	realm := &Realm{kernelCtx: kernelCtx, sink: sink}
	ok, forbidden := realm.SelfTest()
	if !ok {
		result.Verdict = VerdictDeny
		result.ReasonCodes = append(result.ReasonCodes, string(reasoncode.StrictSelftestFailed))
		result.EvidenceDigests = forbidden
		return result
	}
	kernelCtx.MarkSelftestPassed()

	result.Verdict = VerdictAllow
	result.ExecutionOK = true
	result.Realm = realm
	return result
}
