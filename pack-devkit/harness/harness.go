// Package harness provides conformance testing for WeftEnd evidence
// fixtures: golden JSON documents pairing a graph/evidence/policy input
// with the trust verdict and plan determinism a correct evaluator must
// produce.
package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/evidence"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
)

// Fixture is a golden fixture for evidence-evaluator conformance testing.
type Fixture struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Graph       evidence.GraphManifest `json:"graph"`
	Evidence    []model.EvidenceRecord `json:"evidence"`
	Policy      model.TrustPolicy      `json:"policy"`
	Expected    ExpectedResults        `json:"expected"`
}

// ExpectedResults defines what a conformance run expects of the evaluator.
type ExpectedResults struct {
	EligibleCaps         []string `json:"eligibleCaps,omitempty"`
	ReasonCodeContains   string   `json:"reasonCodeContains,omitempty"`
	HashStableAcrossRuns bool     `json:"hashStableAcrossRuns"`
	MinRuns              int      `json:"minRuns,omitempty"`
}

// TestResult is the outcome of one fixture's conformance run.
type TestResult struct {
	FixtureName string         `json:"fixtureName"`
	Passed      bool           `json:"passed"`
	Errors      []string       `json:"errors,omitempty"`
	PlanDigest  string         `json:"planDigest,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Runner executes conformance fixtures against the real evidence evaluator.
type Runner struct {
	FixturesDir string
}

// NewRunner creates a conformance test runner rooted at fixturesDir.
func NewRunner(fixturesDir string) *Runner {
	return &Runner{FixturesDir: fixturesDir}
}

// LoadFixture loads a fixture by name (without its .json extension).
func (r *Runner) LoadFixture(name string) (*Fixture, error) {
	path := filepath.Join(r.FixturesDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load fixture %s: %w", name, err)
	}
	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", name, err)
	}
	return &fixture, nil
}

// RunConformanceTest drives evidence.Evaluate against a fixture and checks
// its verdict and plan-digest determinism.
func (r *Runner) RunConformanceTest(fixture *Fixture) *TestResult {
	result := &TestResult{FixtureName: fixture.Name, Passed: true, Details: make(map[string]any)}

	policyDigest, err := canon.Digest(canon.FamilySHA256, fixture.Policy)
	if err != nil {
		result.addError("hashing policy: %v", err)
		return result
	}

	trust, plan, err := evidence.Evaluate(fixture.Graph, fixture.Evidence, fixture.Policy, policyDigest)
	if err != nil {
		result.addError("evaluate: %v", err)
		return result
	}

	for _, capID := range fixture.Expected.EligibleCaps {
		if !trust.Eligible[capID] {
			result.addError("expected %s eligible, evaluator denied it", capID)
		}
	}
	if want := fixture.Expected.ReasonCodeContains; want != "" && !containsCode(trust.ReasonCodes, want) {
		result.addError("expected reason code %s, got %v", want, trust.ReasonCodes)
	}

	digest, err := evidence.PlanDigest(plan)
	if err != nil {
		result.addError("digesting plan: %v", err)
		return result
	}
	result.PlanDigest = digest

	if fixture.Expected.HashStableAcrossRuns {
		r.checkDeterminism(fixture, policyDigest, digest, result)
	}

	return result
}

// checkDeterminism re-runs the evaluator until minRuns runs have been
// made in total, counting the first (3 when minRuns < 2), and requires
// every run to reproduce the same plan digest as the first.
func (r *Runner) checkDeterminism(fixture *Fixture, policyDigest, firstDigest string, result *TestResult) {
	minRuns := fixture.Expected.MinRuns
	if minRuns < 2 {
		minRuns = 3
	}
	for i := 1; i < minRuns; i++ {
		_, plan, err := evidence.Evaluate(fixture.Graph, fixture.Evidence, fixture.Policy, policyDigest)
		if err != nil {
			result.addError("run %d: evaluate: %v", i, err)
			return
		}
		digest, err := evidence.PlanDigest(plan)
		if err != nil {
			result.addError("run %d: digesting plan: %v", i, err)
			return
		}
		if digest != firstDigest {
			result.addError("determinism failed: run %d digest %s != run 0 digest %s", i, digest, firstDigest)
			return
		}
	}
	result.Details["runsCompleted"] = minRuns
	result.Details["hashStable"] = true
}

func containsCode(codes []string, want string) bool {
	for _, c := range codes {
		if c == want {
			return true
		}
	}
	return false
}

func (r *TestResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Passed = false
}

// ListFixtures returns all available fixture names under FixturesDir.
func (r *Runner) ListFixtures() ([]string, error) {
	entries, err := os.ReadDir(r.FixturesDir)
	if err != nil {
		return nil, err
	}
	var fixtures []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			name := entry.Name()
			fixtures = append(fixtures, name[:len(name)-len(".json")])
		}
	}
	return fixtures, nil
}

// RunAll loads and runs every fixture under FixturesDir.
func (r *Runner) RunAll() ([]*TestResult, error) {
	fixtures, err := r.ListFixtures()
	if err != nil {
		return nil, err
	}
	var results []*TestResult
	for _, name := range fixtures {
		fixture, err := r.LoadFixture(name)
		if err != nil {
			results = append(results, &TestResult{FixtureName: name, Passed: false, Errors: []string{err.Error()}})
			continue
		}
		results = append(results, r.RunConformanceTest(fixture))
	}
	return results, nil
}
