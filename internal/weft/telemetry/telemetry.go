// Package telemetry implements WeftEnd's ambient structured-logging
// layer: a JSON-line-per-event writer with no logging-library
// dependency (google/uuid supplies Info's event ids). Grounded on
// services/runner/internal/telemetry/logger.go's "structured entry,
// explicit level, no ad-hoc Printf" discipline, narrowed from a
// general leveled logger to exactly the two event shapes the kernel
// and CLI boundary need — a cap.deny event (spec §4.6, via
// kernel.Sink) and a general process-level event — so nothing outside
// this package ever needs to know the wire format.
package telemetry

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/kernel"
)

// Level is an event's severity, mirroring the teacher's LogLevel
// constants without the debug/fatal tiers this project has no use for.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one structured, JSON-line-encoded telemetry record. It
// carries no wall-clock timestamp of its own when it originates from a
// kernel.DenyEvent — the deny event's Seq is the ordering key; a
// process-level Logger.Log call may still stamp one, since that path
// never feeds a canonical digest.
type Event struct {
	EventID     string            `json:"eventId,omitempty"`
	Level       Level             `json:"level"`
	Kind        string            `json:"kind"`
	Message     string            `json:"msg,omitempty"`
	CapID       string            `json:"capId,omitempty"`
	PlanDigest  string            `json:"planDigest,omitempty"`
	ReasonCodes []string          `json:"reasonCodes,omitempty"`
	Seq         int64             `json:"seq,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Logger writes newline-delimited JSON Events to an io.Writer. Safe
// for concurrent use; each Log call is one atomic write under the
// writer's lock the way the teacher's Logger serializes writes.
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	enc    *json.Encoder
}

// NewLogger wraps w (os.Stderr if nil) as a structured event sink.
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	l := &Logger{writer: w}
	l.enc = json.NewEncoder(w)
	return l
}

// Log writes one Event as a single JSON line.
func (l *Logger) Log(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(ev)
}

// Info is a convenience wrapper for a process-level informational
// event (startup, config load, CLI boundary) that never reaches a
// receipt. Each call is stamped with a fresh correlation id the way
// orchestrator.go stamps its task records, since this path never feeds
// a canonical digest and has no other stable identity to log by.
func (l *Logger) Info(kind, msg string, fields map[string]string) error {
	return l.Log(Event{EventID: uuid.NewString(), Level: LevelInfo, Kind: kind, Message: msg, Fields: fields})
}

// DenySink adapts a Logger into a kernel.Sink, the only channel
// spec §4.6 allows a denial's telemetry to travel through.
type DenySink struct {
	Logger *Logger
}

// Emit implements kernel.Sink by writing the deny event as a
// cap.deny-kind structured line; the Seq field is the kernel's own
// monotonic counter, never a wall-clock timestamp.
func (s DenySink) Emit(ev kernel.DenyEvent) {
	_ = s.Logger.Log(Event{
		Level:       LevelWarn,
		Kind:        ev.EventKind,
		CapID:       ev.CapID,
		PlanDigest:  ev.PlanDigest,
		ReasonCodes: ev.ReasonCodes,
		Seq:         ev.Seq,
		Fields:      map[string]string{"callerBlockHash": ev.CallerBlockHash},
	})
}
