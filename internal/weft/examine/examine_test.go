package examine

import (
	"testing"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/kernel"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/validate"
)

type fakeRealm struct {
	granted map[string]bool
}

func (f fakeRealm) Invoke(msg kernel.Message) kernel.Response {
	if f.granted[msg.CapID] {
		return kernel.Response{OK: true}
	}
	return kernel.Response{OK: false, ReasonCodes: []string{string(reasoncode.CapNotGranted)}}
}

func smallTree() model.CaptureTree {
	return model.CaptureTree{Files: []model.FileEntry{
		{Path: "entry.js", Kind: string(model.KindScriptJS), SizeBounded: 100, ContentDigest: "sha256:abc"},
	}}
}

func TestMintGradesOKWhenAllProbesGranted(t *testing.T) {
	realm := fakeRealm{granted: map[string]bool{"fs.read": true}}
	probes := []Probe{{Name: "loadOnly", AttemptCaps: []string{"fs.read"}}}
	result := Mint(smallTree(), model.KindScriptJS, nil, probes, realm, kernel.Message{}, validate.DefaultBounds())
	if !result.IsOK() {
		t.Fatalf("expected OK: %+v", result.Issues)
	}
	if result.Value.Grade != model.GradeOK {
		t.Fatalf("expected grade OK, got %s (%v)", result.Value.Grade, result.Value.ReasonCodes)
	}
	if result.Value.MintDigest == "" {
		t.Fatalf("expected mintDigest to be set")
	}
}

func TestMintGradesWarnWhenProbeDenied(t *testing.T) {
	realm := fakeRealm{granted: map[string]bool{}}
	probes := []Probe{{Name: "loadOnly", AttemptCaps: []string{"net.connect"}}}
	result := Mint(smallTree(), model.KindScriptJS, nil, probes, realm, kernel.Message{}, validate.DefaultBounds())
	if !result.IsOK() {
		t.Fatalf("expected OK result shape even when graded WARN: %+v", result.Issues)
	}
	if result.Value.Grade != model.GradeWarn {
		t.Fatalf("expected grade WARN, got %s", result.Value.Grade)
	}
}

func TestMintWithholdsNativeBinaries(t *testing.T) {
	tree := model.CaptureTree{Files: []model.FileEntry{{Path: "app.exe", Kind: string(model.KindNativeExe), SizeBounded: 1024}}}
	result := Mint(tree, model.KindNativeExe, nil, nil, fakeRealm{}, kernel.Message{}, validate.DefaultBounds())
	if !result.IsOK() {
		t.Fatalf("expected OK result shape: %+v", result.Issues)
	}
	if result.Value.Grade != model.GradeWithheld {
		t.Fatalf("expected WITHHELD, got %s", result.Value.Grade)
	}
	if result.Value.WebLane != "NOT_APPLICABLE" {
		t.Fatalf("expected webLane NOT_APPLICABLE, got %s", result.Value.WebLane)
	}
	if len(result.Value.ReasonCodes) != 1 || result.Value.ReasonCodes[0] != string(reasoncode.ExecutionWithheldUnsupportedArtifact) {
		t.Fatalf("expected EXECUTION_WITHHELD_UNSUPPORTED_ARTIFACT, got %v", result.Value.ReasonCodes)
	}
}

func TestMintFailsClosedOnFileCountOversize(t *testing.T) {
	bounds := validate.DefaultBounds()
	bounds.MaxFiles = 0
	result := Mint(smallTree(), model.KindScriptJS, nil, nil, fakeRealm{}, kernel.Message{}, bounds)
	if result.IsOK() {
		t.Fatalf("expected failure for oversized file count")
	}
	if result.Issues[0].Code != reasoncode.HostInputOversize {
		t.Fatalf("expected HOST_INPUT_OVERSIZE, got %s", result.Issues[0].Code)
	}
}

func TestMintIsDeterministicAcrossIdenticalInput(t *testing.T) {
	realm := fakeRealm{granted: map[string]bool{"fs.read": true}}
	probes := []Probe{{Name: "loadOnly", AttemptCaps: []string{"fs.read"}}}
	r1 := Mint(smallTree(), model.KindScriptJS, nil, probes, realm, kernel.Message{}, validate.DefaultBounds())
	r2 := Mint(smallTree(), model.KindScriptJS, nil, probes, realm, kernel.Message{}, validate.DefaultBounds())
	if r1.Value.MintDigest != r2.Value.MintDigest {
		t.Fatalf("expected identical mintDigest across identical runs: %s vs %s", r1.Value.MintDigest, r2.Value.MintDigest)
	}
}
