// Package examine implements WeftEnd's C8 examiner / safe-run (spec
// §4.8): capture -> classify -> observe -> probe -> mint. Grounded on
// pack-devkit/harness/harness.go's fixture-driven conformance Runner
// (the probe/expectation shape) and validate.Bounds for the hard
// byte/count caps that fail a mint closed rather than truncating it.
package examine

import (
	"path"
	"sort"
	"strings"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/kernel"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reacherr"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/validate"
)

// Probe describes one deterministic safe-run probe to execute against
// a loaded realm.
type Probe struct {
	Name              string           `json:"name"`
	AttemptCaps       []string         `json:"attemptCaps,omitempty"`       // capIds the probe attempts, in order
	InteractionScript []kernel.Message `json:"interactionScript,omitempty"` // optional bounded replay; nil for loadOnly
}

// classify maps a capture tree to the ArtifactKind enum (spec §3/§4.8).
// Native binaries are recognized by extension; everything else defers
// to the caller-supplied hint, since format sniffing beyond that is an
// external parser's job (spec §6.6).
func classify(primaryPath string, hint model.ArtifactKind) model.ArtifactKind {
	switch strings.ToLower(path.Ext(primaryPath)) {
	case ".exe":
		return model.KindNativeExe
	case ".msi":
		return model.KindNativeMSI
	}
	if hint != "" {
		return hint
	}
	return model.KindUnknown
}

func isNative(kind model.ArtifactKind) bool {
	return kind == model.KindNativeExe || kind == model.KindNativeMSI
}

func isWebLike(kind model.ArtifactKind) bool {
	return kind == model.KindWebDir || kind == model.KindScriptJS
}

// runProbe executes one probe against the realm, recording every
// attempted capability and every denial the kernel produced.
func runProbe(realm interface {
	Invoke(kernel.Message) kernel.Response
}, probe Probe, base kernel.Message) model.ProbeResult {
	result := model.ProbeResult{Name: probe.Name}
	script := probe.InteractionScript
	if script == nil {
		for _, cap := range probe.AttemptCaps {
			script = append(script, withCap(base, cap))
		}
	}
	for _, msg := range script {
		result.AttemptedCaps = append(result.AttemptedCaps, msg.CapID)
		result.Steps++
		resp := realm.Invoke(msg)
		if !resp.OK {
			result.DeniedCaps = append(result.DeniedCaps, msg.CapID)
		}
	}
	result.AttemptedCaps = canon.SortUniqueStrings(result.AttemptedCaps)
	result.DeniedCaps = canon.SortUniqueStrings(result.DeniedCaps)
	return result
}

func withCap(base kernel.Message, capID string) kernel.Message {
	m := base
	m.CapID = capID
	return m
}

// Mint runs the full capture->classify->observe->probe->mint pipeline
// and returns the examiner's MintReceipt, or a failed Result bearing
// HOST_INPUT_OVERSIZE / MINT_INVALID when a hard bound is exceeded.
func Mint(
	tree model.CaptureTree,
	hint model.ArtifactKind,
	externalRefs []string,
	probes []Probe,
	realm interface {
		Invoke(kernel.Message) kernel.Response
	},
	baseMsg kernel.Message,
	bounds validate.Bounds,
) reacherr.Result[model.MintReceipt] {
	if len(tree.Files) > bounds.MaxFiles {
		return reacherr.Fail[model.MintReceipt](reacherr.Issue{Code: reasoncode.HostInputOversize, Path: "captureTree.files", Detail: "exceeds maxFiles"})
	}
	var totalBytes int64
	fileKindCounts := make(map[string]int)
	for _, f := range tree.Files {
		if f.SizeBounded > bounds.MaxFileBytes {
			return reacherr.Fail[model.MintReceipt](reacherr.Issue{Code: reasoncode.HostInputOversize, Path: f.Path, Detail: "exceeds maxFileBytes"})
		}
		totalBytes += f.SizeBounded
		fileKindCounts[f.Kind]++
	}
	if totalBytes > bounds.MaxTotalBytes {
		return reacherr.Fail[model.MintReceipt](reacherr.Issue{Code: reasoncode.HostInputOversize, Path: "captureTree", Detail: "exceeds maxTotalBytes"})
	}
	if len(externalRefs) > bounds.MaxExternalRefs {
		return reacherr.Fail[model.MintReceipt](reacherr.Issue{Code: reasoncode.HostInputOversize, Path: "externalRefs", Detail: "exceeds maxExternalRefs"})
	}

	kind := classify(primaryPath(tree), hint)

	captureDigest, err := canon.Digest(canon.FamilySHA256, tree)
	if err != nil {
		return reacherr.Fail[model.MintReceipt](reacherr.Issue{Code: reasoncode.MintInvalid, Detail: err.Error()})
	}

	if isNative(kind) {
		receipt := model.MintReceipt{
			CaptureDigest:  captureDigest,
			FileKindCounts: fileKindCounts,
			ExternalRefs:   canon.SortUniqueStrings(externalRefs),
			Grade:          model.GradeWithheld,
			ReasonCodes:    []string{string(reasoncode.ExecutionWithheldUnsupportedArtifact)},
			WebLane:        "NOT_APPLICABLE",
		}
		return finalizeMint(receipt)
	}

	var probeResults []model.ProbeResult
	for _, p := range probes {
		if len(p.InteractionScript) > 0 {
			totalSteps := len(p.InteractionScript)
			if totalSteps > bounds.MaxScriptSteps {
				return reacherr.Fail[model.MintReceipt](reacherr.Issue{Code: reasoncode.MintInvalid, Path: p.Name, Detail: "exceeds maxScriptSteps"})
			}
		}
		probeResults = append(probeResults, runProbe(realm, p, baseMsg))
	}
	sort.Slice(probeResults, func(i, j int) bool { return probeResults[i].Name < probeResults[j].Name })

	grade, reasons := grade(probeResults)
	webLane := "NOT_APPLICABLE"
	if isWebLike(kind) {
		webLane = "STANDARD"
	}

	receipt := model.MintReceipt{
		CaptureDigest:  captureDigest,
		FileKindCounts: fileKindCounts,
		ExternalRefs:   canon.SortUniqueStrings(externalRefs),
		ProbeResults:   probeResults,
		Grade:          grade,
		ReasonCodes:    reasons,
		WebLane:        webLane,
	}
	return finalizeMint(receipt)
}

func finalizeMint(receipt model.MintReceipt) reacherr.Result[model.MintReceipt] {
	stripped, err := canon.WithoutField(receipt, "mintDigest")
	if err != nil {
		return reacherr.Fail[model.MintReceipt](reacherr.Issue{Code: reasoncode.MintInvalid, Detail: err.Error()})
	}
	receipt.MintDigest = canon.DigestBytes(canon.FamilySHA256, stripped)
	return reacherr.OK(receipt)
}

func grade(results []model.ProbeResult) (model.Grade, []string) {
	var reasons []string
	for _, r := range results {
		for _, denied := range r.DeniedCaps {
			reasons = append(reasons, denied)
		}
	}
	reasons = canon.SortUniqueStrings(reasons)
	if len(reasons) == 0 {
		return model.GradeOK, reasons
	}
	return model.GradeWarn, reasons
}

func primaryPath(tree model.CaptureTree) string {
	if len(tree.Files) == 0 {
		return ""
	}
	return tree.Files[0].Path
}
