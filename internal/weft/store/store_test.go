package store

import (
	"os"
	"testing"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "weft-store-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	digest, err := s.Put([]byte("hello artifact"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	result := s.Get(digest)
	if !result.IsOK() {
		t.Fatalf("Get failed: %+v", result.Issues)
	}
	if string(result.Value) != "hello artifact" {
		t.Fatalf("got %q", result.Value)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	d1, err := s.Put([]byte("same bytes"))
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	d2, err := s.Put([]byte("same bytes"))
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("expected identical digests, got %s vs %s", d1, d2)
	}
}

func TestGetMissingReturnsArtifactMissing(t *testing.T) {
	s := newTestStore(t)
	result := s.Get("0000000000000000000000000000000000000000000000000000000000000000")
	if result.IsOK() {
		t.Fatalf("expected failure for missing digest")
	}
	if result.Issues[0].Code != reasoncode.ArtifactMissing {
		t.Fatalf("expected ARTIFACT_MISSING, got %s", result.Issues[0].Code)
	}
}

func TestGetCorruptedReturnsDigestMismatch(t *testing.T) {
	s := newTestStore(t)
	digest, err := s.Put([]byte("original"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := os.WriteFile(s.objectPath(digest), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper write: %v", err)
	}
	result := s.Get(digest)
	if result.IsOK() {
		t.Fatalf("expected failure for tampered object")
	}
	if result.Issues[0].Code != reasoncode.ArtifactDigestMismatch {
		t.Fatalf("expected ARTIFACT_DIGEST_MISMATCH, got %s", result.Issues[0].Code)
	}
}

func TestRecoverMatchesDigestPlanAndBlockset(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("recovered content")
	expectedDigest := sha256Hex(payload)

	result := s.Recover(expectedDigest, "plan:1", []string{"block-a", "block-b"}, []RecoverySource{
		{SourceID: "mirror-1", PlanDigest: "plan:0", Blocks: []string{"block-a", "block-b"}, Payload: payload},
		{SourceID: "mirror-2", PlanDigest: "plan:1", Blocks: []string{"block-a"}, Payload: payload},
		{SourceID: "mirror-3", PlanDigest: "plan:1", Blocks: []string{"block-b", "block-a"}, Payload: payload},
	})
	if !result.IsOK() {
		t.Fatalf("expected recovery to succeed via mirror-3: %+v", result.Issues)
	}
	if !s.Has(expectedDigest) {
		t.Fatalf("expected recovered object to be present in the store")
	}
	codes := result.Value.ReasonCodes
	if len(codes) != 2 || codes[0] != string(reasoncode.ArtifactDigestMismatch) || codes[1] != string(reasoncode.ArtifactRecovered) {
		t.Fatalf("unexpected reason codes: %v", codes)
	}
}

func TestRecoverUnknownSourceFailsClosed(t *testing.T) {
	s := newTestStore(t)
	result := s.Recover("sha256:doesnotexist", "plan:1", nil, nil)
	if result.IsOK() {
		t.Fatalf("expected recovery to fail with no matching source")
	}
	if result.Issues[0].Code != reasoncode.RecoverySourceUnknown {
		t.Fatalf("expected RECOVERY_SOURCE_UNKNOWN, got %s", result.Issues[0].Code)
	}
}
