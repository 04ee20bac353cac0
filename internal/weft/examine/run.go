package examine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/kernel"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/loader"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reacherr"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/release"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/store"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/validate"
)

// ReleaseInput binds the optional C5 release verification a safe-run
// performs before loading. A nil *ReleaseInput on RunInput means this
// artifact has no release bound to it; Run then proceeds straight to
// the strict loader.
type ReleaseInput struct {
	Manifest               model.ReleaseManifest `json:"manifest"`
	Plan                   model.ExecutionPlan   `json:"plan"`
	PlanDigest             string                `json:"-"`
	PresentArtifactDigests []string              `json:"presentArtifactDigests,omitempty"`
	TrustedKeys            release.TrustedKeys   `json:"-"`
}

// RunInput bundles everything one end-to-end safe-run needs: the
// artifact and its store, the optional release binding, the frozen
// kernel context this load is mediated through, and the examiner's own
// capture/probe inputs.
type RunInput struct {
	Store                  *store.Store
	ExpectedArtifactDigest string
	Payload                []byte
	RecoveryCandidates     []loader.RecoverySource

	Release   *ReleaseInput
	KernelCtx *kernel.Context
	Sink      kernel.Sink

	Tree         model.CaptureTree
	Hint         model.ArtifactKind
	ExternalRefs []string
	Probes       []Probe
	BaseMsg      kernel.Message
	Bounds       validate.Bounds
}

// Receipts bundles a safe-run's full on-disk artifact set (spec §6.3):
// the five files a caller must write under a run directory, plus the
// intermediate results that produced them.
type Receipts struct {
	ReleaseVerdict *release.Verdict
	LoadResult     loader.Result
	MintResult     reacherr.Result[model.MintReceipt]

	SafeRunReceipt  []byte
	OperatorReceipt []byte
	ReportCardText  []byte
	ReportCardV0    []byte
	WrapperResult   []byte
}

// Files returns the named-file bundle ready for store.WriteFileAtomic,
// keyed by the spec §6.3 filenames.
func (r Receipts) Files() map[string][]byte {
	return map[string][]byte{
		"safe_run_receipt.json": r.SafeRunReceipt,
		"operator_receipt.json": r.OperatorReceipt,
		"report_card.txt":       r.ReportCardText,
		"report_card_v0.json":   r.ReportCardV0,
		"wrapper_result.txt":    r.WrapperResult,
	}
}

// Persist writes a Receipts bundle to runDir, one file per §6.3 name,
// using the same write-temp/fsync/rename discipline the artifact store
// uses for its own objects.
func Persist(runDir string, r Receipts) error {
	for name, data := range r.Files() {
		if data == nil {
			continue
		}
		if err := store.WriteFileAtomic(filepath.Join(runDir, name), data); err != nil {
			return fmt.Errorf("examine: persist %s: %w", name, err)
		}
	}
	return nil
}

// Run assembles the release verifier (C5), the strict loader (C7), and
// the examiner (C8) into one safe-run: verify the release if one is
// bound, recheck and recover the artifact, bind the kernel context (C6)
// and spawn a realm, then probe it and mint a receipt. This is the only
// place outside of tests these components are wired together end to
// end; every deny along the way still produces a full §6.3 receipt set
// rather than stopping short.
func Run(in RunInput) (Receipts, error) {
	var out Receipts

	if in.Release != nil {
		verdict, err := release.Verify(in.Release.Manifest, in.Release.Plan, in.Release.PlanDigest, in.Release.PresentArtifactDigests, in.Release.TrustedKeys)
		if err != nil {
			return Receipts{}, fmt.Errorf("examine: verifying release: %w", err)
		}
		out.ReleaseVerdict = &verdict
		in.KernelCtx.ReleaseStatus = string(verdict.Outcome)
		in.KernelCtx.ReleaseReasonCodes = verdict.ReasonCodes
	}

	loadResult := loader.Load(in.Store, in.ExpectedArtifactDigest, in.Payload, in.KernelCtx, in.Sink, in.RecoveryCandidates)
	out.LoadResult = loadResult

	if loadResult.Verdict != loader.VerdictAllow {
		out.finalizeDenied()
		return out, nil
	}

	mintResult := Mint(in.Tree, in.Hint, in.ExternalRefs, in.Probes, loadResult.Realm, in.BaseMsg, in.Bounds)
	out.MintResult = mintResult
	out.finalizeMinted()
	return out, nil
}

func (r *Receipts) finalizeDenied() {
	reasons := canon.SortUniqueStrings(r.LoadResult.ReasonCodes)
	r.SafeRunReceipt = canon.MustMarshal(safeRunReceiptDoc{
		Outcome:     string(r.LoadResult.Verdict),
		ReasonCodes: reasons,
	})
	r.OperatorReceipt = canon.MustMarshal(buildOperatorReceipt(string(r.LoadResult.Verdict), reasons, ""))
	r.ReportCardText, r.ReportCardV0 = buildReportCard(string(r.LoadResult.Verdict), reasons, "")
	r.WrapperResult = wrapperResultLine(string(r.LoadResult.Verdict), reasons)
}

func (r *Receipts) finalizeMinted() {
	outcome := string(loader.VerdictAllow)
	var reasons []string
	var grade model.Grade
	if r.MintResult.IsOK() {
		receipt := r.MintResult.Value
		reasons = canon.SortUniqueStrings(receipt.ReasonCodes)
		grade = receipt.Grade
		r.SafeRunReceipt = canon.MustMarshal(safeRunReceiptDoc{
			Outcome:     outcome,
			ReasonCodes: reasons,
			Mint:        &receipt,
		})
	} else {
		for _, issue := range r.MintResult.Issues {
			reasons = append(reasons, string(issue.Code))
		}
		reasons = canon.SortUniqueStrings(reasons)
		outcome = "MINT_FAILED"
		r.SafeRunReceipt = canon.MustMarshal(safeRunReceiptDoc{
			Outcome:     outcome,
			ReasonCodes: reasons,
		})
	}
	r.OperatorReceipt = canon.MustMarshal(buildOperatorReceipt(outcome, reasons, grade))
	r.ReportCardText, r.ReportCardV0 = buildReportCard(outcome, reasons, grade)
	r.WrapperResult = wrapperResultLine(outcome, reasons)
}

// safeRunReceiptDoc is the safe_run_receipt.json shape: the terminal
// outcome this safe-run reached, every contributing reason code, and
// the examiner's MintReceipt when one was produced.
type safeRunReceiptDoc struct {
	Outcome     string             `json:"outcome"`
	ReasonCodes []string           `json:"reasonCodes,omitempty"`
	Mint        *model.MintReceipt `json:"mint,omitempty"`
}

// operatorReceiptDoc is operator_receipt.json: the spec §7 user-visible
// failure tuple (primary reason, primary remedy, additional details)
// even on a clean ALLOW, where both are simply empty/NONE.
type operatorReceiptDoc struct {
	Outcome         string                `json:"outcome"`
	Grade           model.Grade           `json:"grade,omitempty"`
	PrimaryReason   string                `json:"primaryReason,omitempty"`
	PrimaryRemedy   reasoncode.RemedyCode `json:"primaryRemedy"`
	ReasonCodes     []string              `json:"reasonCodes,omitempty"`
	AdditionalCount int                   `json:"additionalCount,omitempty"`
}

func buildOperatorReceipt(outcome string, reasons []string, grade model.Grade) operatorReceiptDoc {
	doc := operatorReceiptDoc{Outcome: outcome, Grade: grade, PrimaryRemedy: reasoncode.RemedyNone}
	if len(reasons) > 0 {
		doc.PrimaryReason = reasons[0]
		doc.PrimaryRemedy = primaryRemedy(reasons)
		doc.ReasonCodes = reasons
		doc.AdditionalCount = len(reasons) - 1
	}
	return doc
}

// remedyByPrefix maps a reason code's taxonomy family to the spec §7
// primary remedy it implies. Checked in order; the first matching
// prefix across all reasons wins, so a run with both a release and a
// tier failure reports the release remedy first.
var remedyByPrefix = []struct {
	prefix string
	remedy reasoncode.RemedyCode
}{
	{"EVIDENCE_MISSING", reasoncode.RemedyProvideEvidence},
	{"RELEASE_", reasoncode.RemedyRebuildFromTrust},
	{"ARTIFACT_", reasoncode.RemedyRebuildFromTrust},
	{"STRICT_SELFTEST_FAILED", reasoncode.RemedyRebuildFromTrust},
	{"RECOVERY_", reasoncode.RemedyRebuildFromTrust},
	{"TIER_VIOLATION", reasoncode.RemedyMoveTierDown},
	{"MODE_MISMATCH", reasoncode.RemedyDowngradeMode},
	{"RECEIPT_", reasoncode.RemedyContactShop},
	{"CONSENT_", reasoncode.RemedyContactShop},
}

func primaryRemedy(reasons []string) reasoncode.RemedyCode {
	for _, m := range remedyByPrefix {
		for _, r := range reasons {
			if strings.HasPrefix(r, m.prefix) {
				return m.remedy
			}
		}
	}
	return reasoncode.RemedyContactShop
}

type reportCardV0Doc struct {
	Version     int      `json:"version"`
	Outcome     string   `json:"outcome"`
	Grade       string   `json:"grade,omitempty"`
	ReasonCodes []string `json:"reasonCodes,omitempty"`
}

func buildReportCard(outcome string, reasons []string, grade model.Grade) (text []byte, v0 []byte) {
	v0 = canon.MustMarshal(reportCardV0Doc{Version: 0, Outcome: outcome, Grade: string(grade), ReasonCodes: reasons})

	var b strings.Builder
	b.WriteString("WeftEnd safe-run report card\n")
	fmt.Fprintf(&b, "outcome: %s\n", outcome)
	if grade != "" {
		fmt.Fprintf(&b, "grade: %s\n", grade)
	}
	if len(reasons) == 0 {
		b.WriteString("reasons: (none)\n")
	} else {
		b.WriteString("reasons:\n")
		for _, r := range reasons {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	return []byte(b.String()), v0
}

// wrapperResultLine is the single terminal status line wrapper_result.txt
// holds, in the spec §6.4 exit-message grammar: "0 OK" on a clean ALLOW,
// otherwise "[<CODE>] <message>" naming the first contributing reason.
func wrapperResultLine(outcome string, reasons []string) []byte {
	if outcome == string(loader.VerdictAllow) && len(reasons) == 0 {
		return []byte("0 OK\n")
	}
	primary := "UNKNOWN"
	if len(reasons) > 0 {
		primary = reasons[0]
	}
	return []byte(fmt.Sprintf("[%s] safe-run resolved to %s\n", primary, outcome))
}
