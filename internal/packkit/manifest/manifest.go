// Package manifest parses an artifact's declared capability surface: the
// set of capability IDs it expects to be granted, its side-effect
// types, and its risk/tier classification. Adapted from the teacher's
// execution-pack manifest to WeftEnd's artifact/release domain — an
// artifact identifies itself by content digest rather than a
// name+semver pair, since WeftEnd has no notion of package versions.
package manifest

import (
	"encoding/json"
	"fmt"
)

// ArtifactManifest is the declarative capability surface an artifact
// ships alongside its payload (spec §4.7's strict loader consults it
// before kernel binding).
type ArtifactManifest struct {
	Kind                 string   `json:"kind"`
	ArtifactDigest       string   `json:"artifactDigest"`
	RequiredCapabilities []string `json:"requiredCapabilities"`
	SideEffectTypes      []string `json:"sideEffectTypes"`
	RiskLevel            string   `json:"riskLevel"`
	TierRequirements     []string `json:"tierRequirements,omitempty"`
}

// Parse decodes an ArtifactManifest, requiring at minimum an artifact
// digest to bind the declaration to a concrete artifact.
func Parse(data []byte) (ArtifactManifest, error) {
	var m ArtifactManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return ArtifactManifest{}, fmt.Errorf("parse artifact manifest: %w", err)
	}
	if m.ArtifactDigest == "" {
		return ArtifactManifest{}, fmt.Errorf("artifact manifest requires artifactDigest")
	}
	return m, nil
}
