package wconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsEnvironmentOverridesOverDefaults(t *testing.T) {
	t.Setenv(envAllowDemoCrypto, "true")
	t.Setenv(envReleaseDir, "/var/weftend/releases")
	t.Setenv(env360Input, "/var/weftend/360")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AllowDemoCrypto {
		t.Fatalf("expected AllowDemoCrypto true from env")
	}
	if cfg.ReleaseDir != "/var/weftend/releases" {
		t.Fatalf("unexpected ReleaseDir: %s", cfg.ReleaseDir)
	}
	if cfg.Input360 != "/var/weftend/360" {
		t.Fatalf("unexpected Input360: %s", cfg.Input360)
	}
}

func TestLoadDefaultsToZeroRiskWhenUnset(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AllowDemoCrypto {
		t.Fatalf("expected demo crypto off by default")
	}
	if cfg.ReleaseDir != "" || cfg.Input360 != "" {
		t.Fatalf("expected empty paths by default, got %+v", cfg)
	}
}

func TestLoadRejectsUnparsableBool(t *testing.T) {
	t.Setenv(envAllowDemoCrypto, "not-a-bool")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for an unparsable bool env var")
	}
}

func TestLoadBoundsOverridesOnlyPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bounds.yaml")
	if err := os.WriteFile(path, []byte("maxFiles: 10\nmaxTotalBytes: 2048\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	bounds, err := LoadBounds(path)
	if err != nil {
		t.Fatalf("LoadBounds: %v", err)
	}
	if bounds.MaxFiles != 10 {
		t.Fatalf("expected overridden MaxFiles=10, got %d", bounds.MaxFiles)
	}
	if bounds.MaxTotalBytes != 2048 {
		t.Fatalf("expected overridden MaxTotalBytes=2048, got %d", bounds.MaxTotalBytes)
	}
	if bounds.MaxExternalRefs == 0 {
		t.Fatalf("expected untouched fields to keep their default, got zero MaxExternalRefs")
	}
}

func TestLoadTrustPolicyConvertsNestedExpr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	doc := `
rules:
  - match: "node:*"
    requires:
      allOf:
        - kind: signature
        - anyOf:
            - kind: scan
            - kind: attestation
    grants:
      - fs.read
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	policy, err := LoadTrustPolicy(path)
	if err != nil {
		t.Fatalf("LoadTrustPolicy: %v", err)
	}
	if len(policy.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(policy.Rules))
	}
	rule := policy.Rules[0]
	if rule.Match != "node:*" || len(rule.Grants) != 1 || rule.Grants[0] != "fs.read" {
		t.Fatalf("unexpected rule: %+v", rule)
	}
	if len(rule.Requires.AllOf) != 2 {
		t.Fatalf("expected 2 top-level allOf children, got %d", len(rule.Requires.AllOf))
	}
	if rule.Requires.AllOf[0].Kind != "signature" {
		t.Fatalf("expected first allOf child kind=signature, got %q", rule.Requires.AllOf[0].Kind)
	}
	if len(rule.Requires.AllOf[1].AnyOf) != 2 {
		t.Fatalf("expected nested anyOf with 2 children, got %d", len(rule.Requires.AllOf[1].AnyOf))
	}
}

func TestLoadTrustPolicyMissingFileReturnsError(t *testing.T) {
	if _, err := LoadTrustPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing policy file")
	}
}
