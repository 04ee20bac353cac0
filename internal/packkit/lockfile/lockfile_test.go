package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weftend.lock.json")
	in := Lockfile{Baselines: []Entry{{TargetKey: "installer_exe", ReleaseID: "sha256:r1", ArtifactDigest: "sha256:a1"}}}
	if err := Write(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("unexpected schema version: %d", out.SchemaVersion)
	}
	if len(out.Baselines) != 1 || out.Baselines[0].ReleaseID != "sha256:r1" {
		t.Fatalf("unexpected lockfile: %+v", out)
	}
}

func TestReadMissingFileReturnsEmptyLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weftend.lock.json")
	out, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.SchemaVersion != CurrentSchemaVersion || len(out.Baselines) != 0 {
		t.Fatalf("unexpected ledger for missing file: %+v", out)
	}
}

func TestReadBackCompatWithoutSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weftend.lock.json")
	legacy := `{"baselines":[{"targetKey":"installer_exe","releaseId":"sha256:r0","artifactDigest":"sha256:a0"}]}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	out, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("unexpected schema version: %d", out.SchemaVersion)
	}
	if len(out.Baselines) != 1 || out.Baselines[0].TargetKey != "installer_exe" {
		t.Fatalf("unexpected lockfile: %+v", out)
	}
}

func TestAcceptReplacesExistingEntryForSameTarget(t *testing.T) {
	lf := Lockfile{}
	lf.Accept("installer_exe", "sha256:r1", "sha256:a1")
	lf.Accept("installer_exe", "sha256:r2", "sha256:a2")
	if len(lf.Baselines) != 1 {
		t.Fatalf("expected Accept to replace, not append, for the same target, got %+v", lf.Baselines)
	}
	entry, ok := lf.Find("installer_exe")
	if !ok || entry.ReleaseID != "sha256:r2" {
		t.Fatalf("expected latest accepted entry, got %+v", entry)
	}
}

func TestFindReturnsFalseForUnknownTarget(t *testing.T) {
	lf := Lockfile{}
	if _, ok := lf.Find("nope"); ok {
		t.Fatalf("expected no entry for an unknown target")
	}
}
