// Package proofbundle exports a release verdict as a standalone JSON
// document (a "release bundle") that can be independently re-verified
// offline, without the original execution plan or policy files at hand.
package proofbundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	signing "github.com/diblac17-eng/WeftEnd-sub004/internal/packkit/signing"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/release"
)

// Version is the current release bundle format version.
const Version = "1.0.0"

// VerificationStep names one stage of the bundle verification pipeline.
type VerificationStep int

const (
	StepSchema VerificationStep = iota
	StepFingerprint
	StepConsistency
	StepSignature
)

// VerificationResult is the outcome of verifying a release bundle.
type VerificationResult struct {
	Valid    bool             `json:"valid"`
	Step     VerificationStep `json:"step,omitempty"`
	StepName string           `json:"stepName,omitempty"`
	Error    string           `json:"error,omitempty"`
	Details  map[string]any   `json:"details,omitempty"`
	ExitCode int              `json:"exitCode"`
}

const (
	ExitCodeSuccess          = 0
	ExitCodeSchemaError      = 1
	ExitCodeFingerprintError = 2
	ExitCodeConsistencyError = 3
	ExitCodeSignatureError   = 4
)

// ArtifactDigest names one input artifact's content digest.
type ArtifactDigest struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Metadata carries operator-supplied context about the bundled run.
type Metadata struct {
	TargetKey   string            `json:"targetKey,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

// BundleSignature is a signature over a bundle's canonical JSON.
type BundleSignature struct {
	KeyID     string `json:"keyId"`
	Algorithm string `json:"algorithm"`
	Signature string `json:"signature"`
}

// ReleaseBundle is a self-contained, independently verifiable snapshot
// of a release verification outcome.
type ReleaseBundle struct {
	Version         string           `json:"version"`
	Fingerprint     string           `json:"fingerprint"`
	PlanDigest      string           `json:"planDigest"`
	PolicyDigest    string           `json:"policyDigest"`
	ArtifactDigests []ArtifactDigest `json:"artifactDigests"`
	Outcome         string           `json:"outcome"`
	ReasonCodes     []string         `json:"reasonCodes,omitempty"`
	EngineVersion   string           `json:"engineVersion"`
	CreatedAt       string           `json:"createdAt"`
	RunID           string           `json:"runId,omitempty"`
	Metadata        *Metadata        `json:"metadata,omitempty"`
	Signature       *BundleSignature `json:"signature,omitempty"`
}

// ExportOptions describes a release verdict to snapshot into a bundle.
type ExportOptions struct {
	RunID           string
	EngineVersion   string
	CreatedAt       string
	PlanDigest      string
	PolicyDigest    string
	ArtifactDigests []ArtifactDigest
	Verdict         release.Verdict
	Metadata        *Metadata
}

// Export builds a ReleaseBundle from a completed release.Verify call.
func Export(opts ExportOptions) (*ReleaseBundle, error) {
	if opts.CreatedAt == "" {
		return nil, fmt.Errorf("createdAt is required")
	}
	if opts.PlanDigest == "" {
		return nil, fmt.Errorf("planDigest is required")
	}
	if opts.PolicyDigest == "" {
		return nil, fmt.Errorf("policyDigest is required")
	}

	artifacts := make([]ArtifactDigest, len(opts.ArtifactDigests))
	copy(artifacts, opts.ArtifactDigests)
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })

	bundle := &ReleaseBundle{
		Version:         Version,
		PlanDigest:      opts.PlanDigest,
		PolicyDigest:    opts.PolicyDigest,
		ArtifactDigests: artifacts,
		Outcome:         string(opts.Verdict.Outcome),
		ReasonCodes:     opts.Verdict.ReasonCodes,
		EngineVersion:   opts.EngineVersion,
		CreatedAt:       opts.CreatedAt,
		RunID:           opts.RunID,
		Metadata:        opts.Metadata,
	}

	fingerprint, err := computeFingerprint(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to compute fingerprint: %w", err)
	}
	bundle.Fingerprint = fingerprint
	return bundle, nil
}

// Verify runs the bundle verification pipeline: schema, fingerprint,
// internal consistency, and (if present) signature.
func Verify(bundle *ReleaseBundle, trustedKeys map[string]string) *VerificationResult {
	if err := validateSchema(bundle); err != nil {
		return &VerificationResult{Valid: false, Step: StepSchema, StepName: "schema", Error: err.Error(), ExitCode: ExitCodeSchemaError}
	}
	if err := validateFingerprint(bundle); err != nil {
		return &VerificationResult{Valid: false, Step: StepFingerprint, StepName: "fingerprint", Error: err.Error(), ExitCode: ExitCodeFingerprintError}
	}
	if err := validateInternalConsistency(bundle); err != nil {
		return &VerificationResult{Valid: false, Step: StepConsistency, StepName: "internal_consistency", Error: err.Error(), ExitCode: ExitCodeConsistencyError}
	}
	if bundle.Signature != nil {
		if err := validateSignature(bundle, trustedKeys); err != nil {
			return &VerificationResult{Valid: false, Step: StepSignature, StepName: "signature", Error: err.Error(), ExitCode: ExitCodeSignatureError}
		}
	}
	return &VerificationResult{
		Valid:    true,
		ExitCode: ExitCodeSuccess,
		Details: map[string]any{
			"fingerprint": bundle.Fingerprint,
			"planDigest":  bundle.PlanDigest,
			"runId":       bundle.RunID,
		},
	}
}

// Load reads a release bundle from a reader.
func Load(r io.Reader) (*ReleaseBundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read release bundle: %w", err)
	}
	return Parse(data)
}

// Parse parses a release bundle from JSON data.
func Parse(data []byte) (*ReleaseBundle, error) {
	var bundle ReleaseBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse release bundle: %w", err)
	}
	return &bundle, nil
}

// Save writes a release bundle to a writer.
func Save(bundle *ReleaseBundle, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(bundle)
}

// CanonicalJSON returns the bundle's JSON with its fingerprint and
// signature fields cleared, used both to compute and to check the
// fingerprint.
func CanonicalJSON(bundle *ReleaseBundle) ([]byte, error) {
	canonical := *bundle
	canonical.Fingerprint = ""
	canonical.Signature = nil
	return json.Marshal(canonical)
}

func computeFingerprint(bundle *ReleaseBundle) (string, error) {
	data, err := CanonicalJSON(bundle)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func validateSchema(bundle *ReleaseBundle) error {
	if bundle.Version == "" {
		return fmt.Errorf("version is required")
	}
	if bundle.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if bundle.PlanDigest == "" {
		return fmt.Errorf("planDigest is required")
	}
	if bundle.PolicyDigest == "" {
		return fmt.Errorf("policyDigest is required")
	}
	if bundle.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	if bundle.EngineVersion == "" {
		return fmt.Errorf("engineVersion is required")
	}
	if bundle.CreatedAt == "" {
		return fmt.Errorf("createdAt is required")
	}
	if _, err := hex.DecodeString(bundle.Fingerprint); err != nil || len(bundle.Fingerprint) != 64 {
		return fmt.Errorf("fingerprint must be a valid SHA-256 hex string")
	}
	if bundle.Signature != nil {
		if bundle.Signature.KeyID == "" {
			return fmt.Errorf("signature keyId is required")
		}
		if bundle.Signature.Algorithm == "" {
			return fmt.Errorf("signature algorithm is required")
		}
		if bundle.Signature.Signature == "" {
			return fmt.Errorf("signature signature is required")
		}
	}
	return nil
}

func validateFingerprint(bundle *ReleaseBundle) error {
	computed, err := computeFingerprint(bundle)
	if err != nil {
		return fmt.Errorf("failed to compute fingerprint: %w", err)
	}
	if computed != bundle.Fingerprint {
		return fmt.Errorf("fingerprint mismatch: expected %s, got %s", computed, bundle.Fingerprint)
	}
	return nil
}

// validateInternalConsistency requires every digest the bundle carries
// to be non-empty and the artifact list to remain name-sorted, mirroring
// the ordering Export produced it with.
func validateInternalConsistency(bundle *ReleaseBundle) error {
	if bundle.PlanDigest == "" || bundle.PolicyDigest == "" {
		return fmt.Errorf("empty digest found in consistency check")
	}
	for i := 0; i < len(bundle.ArtifactDigests); i++ {
		if i > 0 && bundle.ArtifactDigests[i].Name < bundle.ArtifactDigests[i-1].Name {
			return fmt.Errorf("artifact digests are not name-sorted")
		}
		if bundle.ArtifactDigests[i].Digest == "" {
			return fmt.Errorf("empty artifact digest for %s", bundle.ArtifactDigests[i].Name)
		}
	}
	return nil
}

// validateSignature checks the signing key is recognized. Cryptographic
// verification of the signature itself is delegated to
// signing.VerifyManifestSignature, same as release.Verify uses for
// release manifests.
func validateSignature(bundle *ReleaseBundle, trustedKeys map[string]string) error {
	if bundle.Signature == nil {
		return nil
	}
	if _, ok := trustedKeys[bundle.Signature.KeyID]; !ok && len(trustedKeys) > 0 {
		return fmt.Errorf("unknown key ID: %s", bundle.Signature.KeyID)
	}
	data, err := CanonicalJSON(bundle)
	if err != nil {
		return fmt.Errorf("failed to get canonical JSON: %w", err)
	}
	ok, _, err := signing.VerifyManifestSignature(data, signing.Signature{
		KeyID:     bundle.Signature.KeyID,
		Algorithm: bundle.Signature.Algorithm,
		Signature: bundle.Signature.Signature,
	}, trustedKeys)
	if err != nil {
		return fmt.Errorf("signature verification error: %w", err)
	}
	if !ok {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// AddSignature attaches a precomputed signature to the bundle.
func AddSignature(bundle *ReleaseBundle, keyID, algorithm, signatureBase64 string) {
	bundle.Signature = &BundleSignature{KeyID: keyID, Algorithm: algorithm, Signature: signatureBase64}
}

// Sign signs the bundle's canonical JSON using a signer plugin, using
// the plugin's first supported algorithm.
func Sign(bundle *ReleaseBundle, signer signing.SignerPlugin, keyID string) error {
	if bundle == nil {
		return fmt.Errorf("proofbundle: cannot sign nil bundle")
	}
	if signer == nil {
		return fmt.Errorf("proofbundle: signer cannot be nil")
	}
	data, err := CanonicalJSON(bundle)
	if err != nil {
		return fmt.Errorf("proofbundle: failed to get canonical JSON: %w", err)
	}
	algorithms := signer.SupportedAlgorithms()
	if len(algorithms) == 0 {
		return fmt.Errorf("proofbundle: signer supports no algorithms")
	}
	algorithm := string(algorithms[0])
	sig, err := signer.Sign(data, algorithm)
	if err != nil {
		return fmt.Errorf("proofbundle: signing failed: %w", err)
	}
	bundle.Signature = &BundleSignature{KeyID: keyID, Algorithm: algorithm, Signature: hex.EncodeToString(sig)}
	return nil
}

// SignWithPlugin signs the bundle using a plugin resolved by name from
// the global signer registry.
func SignWithPlugin(bundle *ReleaseBundle, pluginName, keyID string) error {
	signer, err := signing.GlobalRegistry.Get(pluginName)
	if err != nil {
		return fmt.Errorf("proofbundle: failed to get signer plugin: %w", err)
	}
	return Sign(bundle, signer, keyID)
}

// VerifySignature verifies the bundle's signature directly through a
// signer plugin rather than through the trusted-key map path.
func VerifySignature(bundle *ReleaseBundle, signer signing.SignerPlugin) error {
	if bundle == nil {
		return fmt.Errorf("proofbundle: cannot verify nil bundle")
	}
	if bundle.Signature == nil {
		return fmt.Errorf("proofbundle: bundle has no signature")
	}
	if signer == nil {
		return fmt.Errorf("proofbundle: signer cannot be nil")
	}
	data, err := CanonicalJSON(bundle)
	if err != nil {
		return fmt.Errorf("proofbundle: failed to get canonical JSON: %w", err)
	}
	sigBytes, err := hex.DecodeString(bundle.Signature.Signature)
	if err != nil {
		return fmt.Errorf("proofbundle: invalid signature encoding: %w", err)
	}
	valid, err := signer.Verify(data, sigBytes, bundle.Signature.Algorithm)
	if err != nil {
		return fmt.Errorf("proofbundle: verification error: %w", err)
	}
	if !valid {
		return fmt.Errorf("proofbundle: signature verification failed")
	}
	return nil
}

// GetSignerPlugin returns the signer plugin by name from the global registry.
func GetSignerPlugin(name string) (signing.SignerPlugin, error) {
	return signing.GlobalRegistry.Get(name)
}

// ListSignerPlugins returns all available signer plugin names.
func ListSignerPlugins() []string {
	return signing.GlobalRegistry.List()
}
