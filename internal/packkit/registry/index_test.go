package registry

import (
	"path/filepath"
	"testing"
)

func TestWriteThenReadIndexRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	in := Index{Releases: []ReleaseEntry{
		{TargetKey: "installer_exe", ReleaseID: "sha256:release1", ArtifactDigest: "sha256:artifact1"},
		{TargetKey: "installer_exe", ReleaseID: "sha256:release2", ArtifactDigest: "sha256:artifact2"},
	}}
	if err := WriteIndex(path, in); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	out, err := ReadIndex(path)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(out.Releases) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(out.Releases))
	}
}

func TestForTargetFiltersByKey(t *testing.T) {
	idx := Index{Releases: []ReleaseEntry{
		{TargetKey: "a", ReleaseID: "r1"},
		{TargetKey: "b", ReleaseID: "r2"},
		{TargetKey: "a", ReleaseID: "r3"},
	}}
	got := idx.ForTarget("a")
	if len(got) != 2 || got[0].ReleaseID != "r1" || got[1].ReleaseID != "r3" {
		t.Fatalf("unexpected filtered releases: %+v", got)
	}
}

func TestReadIndexMissingFileReturnsError(t *testing.T) {
	if _, err := ReadIndex(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected an error for a missing index file")
	}
}
