// Package library implements WeftEnd's C9 library & compare (spec
// §4.9): per-target run storage keyed by a sanitized target name, a
// seven-bucket compare algorithm between two runs, and the
// view_state.json pointer structure whose baseline acceptance is
// always an explicit, recorded operator action. Grounded on
// historical/baseline.go's "compare against an explicitly accepted
// reference, never an implicit latest" discipline and
// historical/evidence_diff.go's bucketed diff shape.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/store"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeTargetKey produces the bounded-length, filesystem-safe key a
// target's run directory is keyed by (spec §4.9).
func SanitizeTargetKey(filename string) string {
	sanitized := unsafeKeyChars.ReplaceAllString(filename, "_")
	const maxLen = 200
	if len(sanitized) > maxLen {
		sanitized = sanitized[:maxLen]
	}
	if sanitized == "" {
		return "_"
	}
	return sanitized
}

// RunRecord is the minimal per-run state the compare algorithm reads;
// it mirrors the fields of a safe-run receipt that are trust-relevant.
type RunRecord struct {
	RunID          string
	ArtifactDigest string
	FileKindCounts map[string]int
	TotalBytes     int64
	ExternalRefs   []string
	ReasonCodes    []string
	PolicyDigest   string
	HostTruth      string
	Bounded        bool
}

// Compare implements the spec §4.9 bucketed diff between a candidate
// run and its baseline. Bucket order in the returned slice is the
// fixed D,C,X,R,P,H,B order the spec lists them in, not insertion
// order, so two calls over equal inputs always agree.
func Compare(baseline, candidate RunRecord, baselineFrozen, baselineAccepted bool) ([]model.Bucket, model.Verdict) {
	var buckets []model.Bucket

	if baseline.ArtifactDigest != candidate.ArtifactDigest {
		buckets = append(buckets, model.BucketDigest)
	}
	if !sameCounts(baseline.FileKindCounts, candidate.FileKindCounts) || baseline.TotalBytes != candidate.TotalBytes {
		buckets = append(buckets, model.BucketCounts)
	}
	if !sameStringSet(baseline.ExternalRefs, candidate.ExternalRefs) {
		buckets = append(buckets, model.BucketExternal)
	}
	if !sameStringSet(baseline.ReasonCodes, candidate.ReasonCodes) {
		buckets = append(buckets, model.BucketReasonCodes)
	}
	if baseline.PolicyDigest != candidate.PolicyDigest {
		buckets = append(buckets, model.BucketPolicy)
	}
	if baseline.HostTruth != candidate.HostTruth {
		buckets = append(buckets, model.BucketHostTruth)
	}
	if baseline.Bounded != candidate.Bounded {
		buckets = append(buckets, model.BucketBounded)
	}

	if baselineFrozen && !baselineAccepted {
		return buckets, model.VerdictBlocked
	}
	if len(buckets) == 0 {
		return buckets, model.VerdictSame
	}
	return buckets, model.VerdictChanged
}

func sameCounts(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]string(nil), a...), append([]string(nil), b...)
	norm := func(s []string) string {
		m := make(map[string]bool, len(s))
		for _, x := range s {
			m[x] = true
		}
		var keys []string
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return strings.Join(keys, ",")
	}
	return norm(sa) == norm(sb)
}

// ViewState wraps model.ViewState with the mutation operations spec
// §4.9 allows: appending a run entry, and the single explicit,
// operator-invoked baseline acceptance. Nothing else ever changes
// baselineRunId.
type ViewState struct {
	State model.ViewState
	// LastNCap bounds the lastN window (not specified numerically by
	// the spec; chosen as a deterministic, generous window).
	LastNCap int
}

// NewViewState starts an empty view for a target with no baseline yet.
func NewViewState(lastNCap int) *ViewState {
	return &ViewState{LastNCap: lastNCap}
}

// RecordRun appends a run's comparison outcome, trimming lastN to the
// cap by dropping the oldest entries deterministically (FIFO).
func (v *ViewState) RecordRun(entry model.RunEntry) {
	v.State.LatestRunID = entry.RunID
	v.State.LastN = append(v.State.LastN, entry)
	if len(v.State.LastN) > v.LastNCap {
		v.State.LastN = v.State.LastN[len(v.State.LastN)-v.LastNCap:]
	}
}

// AcceptBaseline is the sole way baselineRunId ever changes: an
// explicit, operator-visible action, never an implicit side effect of
// running safe-run.
func (v *ViewState) AcceptBaseline(runID string) {
	v.State.BaselineRunID = runID
	v.State.Blocked = false
}

// Block marks the target's baseline as frozen pending operator review
// (e.g. after a BLOCKED verdict).
func (v *ViewState) Block() {
	v.State.Blocked = true
}

// RunArtifacts is the named-file bundle a single run persists under
// runs/<runId>/ (spec §4.9): the safe-run receipt, the operator
// receipt, and the report card in both machine and text form.
type RunArtifacts struct {
	SafeRunReceipt  []byte
	OperatorReceipt []byte
	ReportCard      []byte
	ReportCardV0    []byte
}

// targetDir returns the per-target root a library owns, keyed by the
// already-sanitized target key.
func targetDir(libraryRoot, targetKey string) string {
	return filepath.Join(libraryRoot, targetKey)
}

// PersistRun writes one run's artifacts to
// <libraryRoot>/<targetKey>/runs/<runId>/, using the store package's
// write-temp/fsync/rename discipline for every file so a crash mid-run
// never leaves a half-written receipt visible. It also writes the run's
// own RunRecord as run_record.json, a library-private file (not one of
// the spec's named receipt artifacts) that lets a later run look this
// one up as its comparison baseline without having to re-derive the
// comparable fields from the receipt JSON.
func PersistRun(libraryRoot, targetKey, runID string, record RunRecord, artifacts RunArtifacts) error {
	runDir := filepath.Join(targetDir(libraryRoot, targetKey), "runs", runID)
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("library: marshal run record %s: %w", runID, err)
	}
	files := map[string][]byte{
		"safe_run_receipt.json": artifacts.SafeRunReceipt,
		"operator_receipt.json": artifacts.OperatorReceipt,
		"report_card.txt":       artifacts.ReportCard,
		"report_card_v0.json":   artifacts.ReportCardV0,
		"run_record.json":       recordBytes,
	}
	for name, data := range files {
		if data == nil {
			continue
		}
		if err := store.WriteFileAtomic(filepath.Join(runDir, name), data); err != nil {
			return fmt.Errorf("library: persist run %s file %s: %w", runID, name, err)
		}
	}
	return nil
}

// LoadRunRecord reads back the RunRecord a prior PersistRun wrote for
// runID, so it can be used as a baseline in a later Compare call.
func LoadRunRecord(libraryRoot, targetKey, runID string) (RunRecord, error) {
	path := filepath.Join(targetDir(libraryRoot, targetKey), "runs", runID, "run_record.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunRecord{}, fmt.Errorf("library: read run record %s: %w", runID, err)
	}
	var record RunRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return RunRecord{}, fmt.Errorf("library: parse run record %s: %w", runID, err)
	}
	return record, nil
}

// LoadViewState reads view/view_state.json for a target, returning a
// fresh empty view (never an error) when the file does not exist yet —
// a target's first run has no prior view.
func LoadViewState(libraryRoot, targetKey string, lastNCap int) (*ViewState, error) {
	path := filepath.Join(targetDir(libraryRoot, targetKey), "view", "view_state.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewViewState(lastNCap), nil
		}
		return nil, fmt.Errorf("library: read view state: %w", err)
	}
	var state model.ViewState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("library: parse view state: %w", err)
	}
	return &ViewState{State: state, LastNCap: lastNCap}, nil
}

// Save writes view/view_state.json atomically (write-temp, fsync,
// rename), overwriting it in place, per spec §3.
func (v *ViewState) Save(libraryRoot, targetKey string) error {
	data, err := canon.Marshal(v.State)
	if err != nil {
		return fmt.Errorf("library: marshal view state: %w", err)
	}
	path := filepath.Join(targetDir(libraryRoot, targetKey), "view", "view_state.json")
	if err := store.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("library: save view state: %w", err)
	}
	return nil
}
