// Package release implements WeftEnd's C5 release verifier (spec
// §4.5): binds a ReleaseManifest's digest/signature/plan/blockset
// invariants and returns OK, UNVERIFIED, or MAYBE with reason codes.
// Grounded on internal/packkit/proofbundle.go's staged Verify pipeline
// (schema, fingerprint, consistency, signature), generalized from a
// single linear pipeline to the spec's "collect every failing
// invariant" discipline, and internal/packkit/signing.go's ed25519
// VerifyManifestSignature for the signature step.
package release

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/packkit/signing"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
)

// Outcome is the verifier's tri-state verdict (spec §4.5).
type Outcome string

const (
	OutcomeOK         Outcome = "OK"
	OutcomeUnverified Outcome = "UNVERIFIED"
	OutcomeMaybe      Outcome = "MAYBE"
)

// Verdict bundles the outcome with every reason that contributed to it.
type Verdict struct {
	Outcome     Outcome
	ReasonCodes []string
}

// TrustedKeys maps a keyId to its base64-encoded ed25519 public key, the
// same encoding internal/packkit/signing.go uses.
type TrustedKeys map[string]string

// Verify checks a ReleaseManifest against its bound ExecutionPlan and
// the set of artifact digests the store already holds, per spec §4.5:
//   - releaseId == digest(canonical(manifestBody))
//   - every signature verifies against a trusted key and covers exactly
//     the manifestBody bytes
//   - manifestBody.planDigest == plan's own computed digest
//   - manifestBody.blocks is exactly the artifact digest set presented
//   - every block digest is present in artifactDigests (store presence
//     is the caller's job; this only checks the set matches)
//
// No single failing check short-circuits the rest: every check runs and
// every failing reason is reported, per spec §8's determinism property
// (same inputs always produce the same full reason set).
func Verify(manifest model.ReleaseManifest, plan model.ExecutionPlan, planDigest string, presentArtifactDigests []string, keys TrustedKeys) (Verdict, error) {
	var reasons []string

	bodyBytes, err := canon.Marshal(manifest.ManifestBody)
	if err != nil {
		return Verdict{}, err
	}
	wantID := canon.DigestBytes(canon.FamilySHA256, bodyBytes)
	if manifest.ReleaseID != wantID {
		reasons = append(reasons, string(reasoncode.ReleaseManifestInvalid))
	}

	if manifest.ManifestBody.PlanDigest != planDigest {
		reasons = append(reasons, string(reasoncode.ReleasePlanDigestMismatch))
	}

	if !sameSet(manifest.ManifestBody.Blocks, presentArtifactDigests) {
		reasons = append(reasons, string(reasoncode.ReleaseBlocksetMismatch))
	}

	if len(manifest.Signatures) == 0 {
		reasons = append(reasons, string(reasoncode.ReleaseSignatureBad))
	} else {
		allValid := true
		for _, sig := range manifest.Signatures {
			if !verifySignature(bodyBytes, sig, keys) {
				allValid = false
			}
		}
		if !allValid {
			reasons = append(reasons, string(reasoncode.ReleaseSignatureBad))
		}
	}

	sorted := canon.SortUniqueStrings(reasons)
	if len(sorted) == 0 {
		return Verdict{Outcome: OutcomeOK}, nil
	}

	// A manifest whose binding checks all pass but whose signature
	// could not be verified against any trusted key (rather than being
	// outright malformed) resolves to UNVERIFIED rather than MAYBE: the
	// manifest may still be legitimate, signed by a key this verifier
	// does not yet trust.
	if onlySignatureReasons(sorted) {
		return Verdict{Outcome: OutcomeUnverified, ReasonCodes: sorted}, nil
	}
	return Verdict{Outcome: OutcomeMaybe, ReasonCodes: sorted}, nil
}

func onlySignatureReasons(reasons []string) bool {
	for _, r := range reasons {
		if r != string(reasoncode.ReleaseSignatureBad) {
			return false
		}
	}
	return true
}

// verifySignature delegates to internal/packkit/signing's
// VerifyManifestSignature, the teacher's own detached ed25519 verifier,
// rather than re-implementing base64/ed25519 plumbing a second time.
func verifySignature(body []byte, sig model.Signature, keys TrustedKeys) bool {
	ok, _, err := signing.VerifyManifestSignature(body, signing.Signature{
		KeyID:     sig.KeyID,
		Algorithm: sig.Algo,
		Signature: sig.Sig,
	}, map[string]string(keys))
	return err == nil && ok
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		if seen[x] == 0 {
			return false
		}
		seen[x]--
	}
	return true
}

// Sign produces a detached ed25519 signature over a manifest body's
// canonical bytes, for use by release-building tooling (not by the
// verifier itself, which only ever reads signatures).
func Sign(body model.ManifestBody, keyID string, priv ed25519.PrivateKey) (model.Signature, error) {
	data, err := canon.Marshal(body)
	if err != nil {
		return model.Signature{}, err
	}
	sig := ed25519.Sign(priv, data)
	return model.Signature{
		KeyID: keyID,
		Algo:  "ed25519",
		Sig:   base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// NormalizeEd25519PrivateKey accepts either a raw seed or a full
// private key and returns the canonical ed25519.PrivateKey. It is a
// thin re-export of internal/packkit/signing.NormalizeEd25519PrivateKey
// so callers needing this from the release package don't have to
// import packkit/signing directly.
func NormalizeEd25519PrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	return signing.NormalizeEd25519PrivateKey(raw)
}
