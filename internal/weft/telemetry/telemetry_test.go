package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/kernel"
)

func TestLoggerWritesOneJSONLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	if err := l.Info("startup", "weftend ready", map[string]string{"version": "dev"}); err != nil {
		t.Fatalf("Info: %v", err)
	}
	if err := l.Log(Event{Level: LevelError, Kind: "store.corrupt", Message: "digest mismatch"}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.Kind != "startup" || first.Fields["version"] != "dev" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if first.EventID == "" {
		t.Fatalf("expected Info to stamp a non-empty event id")
	}
}

func TestDenySinkEmitsCapDenyEventWithSeqAndReasons(t *testing.T) {
	var buf bytes.Buffer
	sink := DenySink{Logger: NewLogger(&buf)}

	sink.Emit(kernel.DenyEvent{
		EventKind:       "cap.deny",
		PlanDigest:      "plan:1",
		CallerBlockHash: "sha256:caller",
		CapID:           "fs.read",
		ReasonCodes:     []string{"CAP_NOT_GRANTED"},
		Seq:             7,
	})

	var ev Event
	scanner := bufio.NewScanner(&buf)
	if !scanner.Scan() {
		t.Fatalf("expected one line of output")
	}
	if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != "cap.deny" || ev.CapID != "fs.read" || ev.Seq != 7 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(ev.ReasonCodes) != 1 || ev.ReasonCodes[0] != "CAP_NOT_GRANTED" {
		t.Fatalf("expected reason codes to pass through, got %v", ev.ReasonCodes)
	}
	if ev.Fields["callerBlockHash"] != "sha256:caller" {
		t.Fatalf("expected callerBlockHash field to be preserved, got %+v", ev.Fields)
	}
}

func TestLoggerDefaultsToStderrWhenWriterIsNil(t *testing.T) {
	l := NewLogger(nil)
	if l.writer == nil {
		t.Fatalf("expected a default writer to be set")
	}
}
