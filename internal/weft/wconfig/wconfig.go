// Package wconfig implements WeftEnd's ambient configuration layer
// (spec §6.5): the three environment knobs read once at process
// startup into a frozen struct, plus YAML loading of the TrustPolicy
// and Bounds documents C2/C3 consume. Grounded on
// services/runner/internal/config/{load.go,schema.go}'s "defaults,
// then file, then env, highest priority last" resolution order and its
// struct-tag-driven env reader, generalized from a JSON config file to
// YAML for the policy/bounds documents (spec.md §6.5 names YAML as the
// on-disk format for both).
package wconfig

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/validate"
)

// Config is the frozen process-wide configuration (spec §9 Global
// state: read once at startup, never mutated afterward).
type Config struct {
	// AllowDemoCrypto permits the demo/ephemeral signing keypair path
	// (spec §6.5); false in any deployment that must reject it.
	AllowDemoCrypto bool

	// ReleaseDir is where release manifests and their detached
	// signatures are read from.
	ReleaseDir string

	// Input360 is the path Verify-360 reads its run inputs from.
	Input360 string
}

const (
	envAllowDemoCrypto = "WEFTEND_ALLOW_DEMO_CRYPTO"
	envReleaseDir      = "WEFTEND_RELEASE_DIR"
	env360Input        = "WEFTEND_360_INPUT"
)

// Default returns the zero-risk defaults: demo crypto off, no release
// dir or 360 input configured.
func Default() Config {
	return Config{AllowDemoCrypto: false, ReleaseDir: "", Input360: ""}
}

// Load reads the three WEFTEND_* environment variables into a frozen
// Config. It is intended to be called exactly once, at process
// startup; nothing in internal/weft/* re-reads the environment
// afterward.
func Load() (Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv(envAllowDemoCrypto); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", envAllowDemoCrypto, err)
		}
		cfg.AllowDemoCrypto = b
	}
	if v := os.Getenv(envReleaseDir); v != "" {
		cfg.ReleaseDir = v
	}
	if v := os.Getenv(env360Input); v != "" {
		cfg.Input360 = v
	}

	return cfg, nil
}

// yamlBounds mirrors validate.Bounds with yaml tags; validate.Bounds
// itself stays tag-free since C2 has no file-format dependency of its
// own (spec keeps validators pure).
type yamlBounds struct {
	MaxFiles        int   `yaml:"maxFiles"`
	MaxTotalBytes   int64 `yaml:"maxTotalBytes"`
	MaxFileBytes    int64 `yaml:"maxFileBytes"`
	MaxExternalRefs int   `yaml:"maxExternalRefs"`
	MaxScriptBytes  int64 `yaml:"maxScriptBytes"`
	MaxScriptSteps  int   `yaml:"maxScriptSteps"`
	MaxStringBytes  int   `yaml:"maxStringBytes"`
	MaxArrayLen     int   `yaml:"maxArrayLen"`
}

// LoadBounds reads a bounds override document from YAML, starting from
// validate.DefaultBounds() and overwriting only the fields present in
// the file. The document is decoded over a struct pre-filled with the
// defaults, so a key that is absent keeps its default and a key set
// explicitly to 0 becomes 0.
func LoadBounds(path string) (validate.Bounds, error) {
	defaults := validate.DefaultBounds()
	data, err := os.ReadFile(path)
	if err != nil {
		return validate.Bounds{}, err
	}

	yb := yamlBounds{
		MaxFiles: defaults.MaxFiles, MaxTotalBytes: defaults.MaxTotalBytes,
		MaxFileBytes: defaults.MaxFileBytes, MaxExternalRefs: defaults.MaxExternalRefs,
		MaxScriptBytes: defaults.MaxScriptBytes, MaxScriptSteps: defaults.MaxScriptSteps,
		MaxStringBytes: defaults.MaxStringBytes, MaxArrayLen: defaults.MaxArrayLen,
	}
	if err := yaml.Unmarshal(data, &yb); err != nil {
		return validate.Bounds{}, fmt.Errorf("parsing bounds yaml %s: %w", path, err)
	}

	return validate.Bounds{
		MaxFiles: yb.MaxFiles, MaxTotalBytes: yb.MaxTotalBytes,
		MaxFileBytes: yb.MaxFileBytes, MaxExternalRefs: yb.MaxExternalRefs,
		MaxScriptBytes: yb.MaxScriptBytes, MaxScriptSteps: yb.MaxScriptSteps,
		MaxStringBytes: yb.MaxStringBytes, MaxArrayLen: yb.MaxArrayLen,
	}, nil
}

// yamlTrustPolicy mirrors model.TrustPolicy with yaml tags for the
// on-disk policy document; model.TrustPolicy itself keeps only json
// tags since it also travels through canon.Digest.
type yamlTrustPolicy struct {
	Rules []yamlTrustRule `yaml:"rules"`
}

type yamlTrustRule struct {
	Match    string           `yaml:"match"`
	Requires yamlEvidenceExpr `yaml:"requires"`
	Grants   []string         `yaml:"grants"`
}

type yamlEvidenceExpr struct {
	AllOf []yamlEvidenceExpr `yaml:"allOf,omitempty"`
	AnyOf []yamlEvidenceExpr `yaml:"anyOf,omitempty"`
	Kind  string             `yaml:"kind,omitempty"`
}

// LoadTrustPolicy reads a TrustPolicy document from YAML (spec.md
// §6.5's policy file format) and converts it into the json-tagged
// model.TrustPolicy the evaluator and canon.Digest both expect.
func LoadTrustPolicy(path string) (model.TrustPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TrustPolicy{}, err
	}
	var yp yamlTrustPolicy
	if err := yaml.Unmarshal(data, &yp); err != nil {
		return model.TrustPolicy{}, fmt.Errorf("parsing policy yaml %s: %w", path, err)
	}
	return toModelPolicy(yp), nil
}

func toModelPolicy(yp yamlTrustPolicy) model.TrustPolicy {
	policy := model.TrustPolicy{Rules: make([]model.TrustRule, 0, len(yp.Rules))}
	for _, r := range yp.Rules {
		policy.Rules = append(policy.Rules, model.TrustRule{
			Match:    r.Match,
			Requires: toModelExpr(r.Requires),
			Grants:   append([]string(nil), r.Grants...),
		})
	}
	return policy
}

func toModelExpr(e yamlEvidenceExpr) model.EvidenceExpr {
	out := model.EvidenceExpr{Kind: e.Kind}
	for _, c := range e.AllOf {
		out.AllOf = append(out.AllOf, toModelExpr(c))
	}
	for _, c := range e.AnyOf {
		out.AnyOf = append(out.AnyOf, toModelExpr(c))
	}
	return out
}
