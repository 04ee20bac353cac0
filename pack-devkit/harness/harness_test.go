package harness

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/evidence"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
)

func writeFixture(t *testing.T, dir, name string, f Fixture) {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func baseFixture() Fixture {
	return Fixture{
		Name:  "allow-signed",
		Graph: evidence.GraphManifest{Nodes: []string{"n1"}},
		Evidence: []model.EvidenceRecord{
			{Kind: "signed", Issuer: "root", Subject: model.EvidenceSubject{NodeID: "n1"}},
		},
		Policy: model.TrustPolicy{
			Rules: []model.TrustRule{
				{Match: "*", Requires: model.EvidenceExpr{Kind: "signed"}, Grants: []string{"n1"}},
			},
		},
		Expected: ExpectedResults{EligibleCaps: []string{"n1"}, HashStableAcrossRuns: true, MinRuns: 3},
	}
}

func TestRunConformanceTestPassesForEligibleCapability(t *testing.T) {
	f := baseFixture()
	r := NewRunner(t.TempDir())
	result := r.RunConformanceTest(&f)
	if !result.Passed {
		t.Fatalf("expected fixture to pass, got errors: %v", result.Errors)
	}
	if result.PlanDigest == "" {
		t.Fatalf("expected a non-empty plan digest")
	}
}

func TestRunConformanceTestFlagsMissingEligibility(t *testing.T) {
	f := baseFixture()
	f.Expected.EligibleCaps = []string{"n1", "n2"}
	r := NewRunner(t.TempDir())
	result := r.RunConformanceTest(&f)
	if result.Passed {
		t.Fatalf("expected fixture to fail: capability n2 was never declared eligible")
	}
}

func TestLoadFixtureAndRunAll(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "allow-signed", baseFixture())

	r := NewRunner(dir)
	names, err := r.ListFixtures()
	if err != nil {
		t.Fatalf("ListFixtures: %v", err)
	}
	if len(names) != 1 || names[0] != "allow-signed" {
		t.Fatalf("unexpected fixture list: %v", names)
	}

	results, err := r.RunAll()
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(results) != 1 || !results[0].Passed {
		t.Fatalf("expected RunAll to pass the single fixture, got %+v", results)
	}
}
