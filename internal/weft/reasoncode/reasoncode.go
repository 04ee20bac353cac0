// Package reasoncode is the frozen registry of WeftEnd reason codes
// (spec §7, §6.2). Every code a pure C1-C11 function can return lives
// here as a typed constant; adding a new one is a deliberate, reviewed
// change, the same way services/runner/internal/errors/codes.go treats
// its Code registry as frozen API surface.
package reasoncode

import "regexp"

// Code is a single ASCII [A-Z][A-Z0-9_]* reason code.
type Code string

var grammar = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Valid reports whether c matches the reason-code grammar in spec §6.2.
func (c Code) Valid() bool { return grammar.MatchString(string(c)) }

func (c Code) String() string { return string(c) }

// Category returns the taxonomy family a code belongs to (the prefix
// before the first underscore run that spec §7 groups codes by), used
// only for diagnostics/telemetry grouping, never for control flow.
func (c Code) Category() string {
	s := string(c)
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			return s[:i]
		}
	}
	return s
}

// Frozen registry, grouped by spec §7 taxonomy family.
const (
	// TRUST_*
	TrustSignatureRequired Code = "TRUST_SIGNATURE_REQUIRED"
	TrustSignatureInvalid  Code = "TRUST_SIGNATURE_INVALID"
	TrustHashMismatch      Code = "TRUST_HASH_MISMATCH"
	TrustPkgAmbiguous      Code = "TRUST_PKG_AMBIGUOUS"
	TrustPkgMissing        Code = "TRUST_PKG_MISSING"
	TrustEvidenceMissing   Code = "EVIDENCE_MISSING" // suffixed with ":<kind>" by callers

	// CAP_*
	CapModeMismatch           Code = "MODE_MISMATCH"
	CapPlanDigestMismatch     Code = "PLANDIGEST_MISMATCH"
	CapNonceMismatch          Code = "NONCE_MISMATCH"
	CapCallerMismatch         Code = "CALLER_MISMATCH"
	CapSelftestRequired       Code = "SELFTEST_REQUIRED"
	CapReplayDetected         Code = "REPLAY_DETECTED"
	CapTierViolation          Code = "TIER_VIOLATION"
	CapUnknown                Code = "CAP_UNKNOWN"
	CapNotGranted             Code = "CAP_NOT_GRANTED"
	CapNotEligibleMarket      Code = "CAP_NOT_ELIGIBLE_MARKET"
	CapReceiptMissing         Code = "RECEIPT_MISSING"
	CapReceiptInvalid         Code = "RECEIPT_INVALID"
	CapReceiptSubjectMismatch Code = "RECEIPT_SUBJECT_MISMATCH"
	CapReceiptDeny            Code = "RECEIPT_DENY"
	CapReleaseUnverified      Code = "RELEASE_UNVERIFIED"
	CapSecretZoneRequired     Code = "SECRET_ZONE_REQUIRED"
	CapSecretZoneUnavailable  Code = "SECRET_ZONE_UNAVAILABLE"
	CapConsentMissing         Code = "CONSENT_MISSING"
	CapConsentInvalid         Code = "CONSENT_INVALID"
	CapConsentMismatch        Code = "CONSENT_MISMATCH"
	CapConsentReplay          Code = "CONSENT_REPLAY"
	CapDisabledV0             Code = "CAP_DISABLED_V0"

	// ARTIFACT_*
	ArtifactMissing        Code = "ARTIFACT_MISSING"
	ArtifactDigestMismatch Code = "ARTIFACT_DIGEST_MISMATCH"
	ArtifactRecovered      Code = "ARTIFACT_RECOVERED"

	// RELEASE_*
	ReleaseManifestInvalid        Code = "RELEASE_MANIFEST_INVALID"
	ReleaseSignatureBad           Code = "RELEASE_SIGNATURE_BAD"
	ReleasePlanDigestMismatch     Code = "RELEASE_PLANDIGEST_MISMATCH"
	ReleaseBlocksetMismatch       Code = "RELEASE_BLOCKSET_MISMATCH"
	ReleaseEvidenceDigestMismatch Code = "EVIDENCE_DIGEST_MISMATCH"

	// RECOVERY_*
	RecoverySourceUnknown Code = "RECOVERY_SOURCE_UNKNOWN"

	// STRICT/selftest
	StrictSelftestFailed Code = "STRICT_SELFTEST_FAILED"

	// IMPORT_* / BUILD_* / host input
	HostInputOversize Code = "HOST_INPUT_OVERSIZE"
	MintInvalid       Code = "MINT_INVALID"

	// Execution withheld
	ExecutionWithheldUnsupportedArtifact Code = "EXECUTION_WITHHELD_UNSUPPORTED_ARTIFACT"

	// VERIFY360_*
	Verify360FailClosedPrefix Code = "VERIFY360_FAIL_CLOSED_AT_" // concatenated with state name

	// Validation shape/bounds (shared across C2 callers)
	FieldInvalid Code = "FIELD_INVALID"

	// CYCLE
	CycleInCanonical Code = "CYCLE_IN_CANONICAL"
)

// RemedyCode is the primary-remedy enum from spec §7.
type RemedyCode string

const (
	RemedyProvideEvidence  RemedyCode = "PROVIDE_EVIDENCE"
	RemedyDowngradeMode    RemedyCode = "DOWNGRADE_MODE"
	RemedyMoveTierDown     RemedyCode = "MOVE_TIER_DOWN"
	RemedyRebuildFromTrust RemedyCode = "REBUILD_FROM_TRUSTED"
	RemedyContactShop      RemedyCode = "CONTACT_SHOP"
	RemedyNone             RemedyCode = "NONE"
)
