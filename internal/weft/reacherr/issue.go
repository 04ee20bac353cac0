// Package reacherr is WeftEnd's error taxonomy, ported from
// services/runner/internal/errors/{reach_error.go,codes.go}. Pure C1-C11
// logic never constructs a *WeftError (it returns Issue slices instead —
// see Result below); WeftError is reserved for the ambient CLI/process
// boundary, the same split the teacher draws between ReachError (process
// boundary) and the plain []Issue validators return internally.
package reacherr

import (
	"fmt"
	"sort"
	"time"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
)

// Issue is one validation/evaluation failure, never timestamped and
// never carrying free-form secrets — it is safe to embed directly in a
// receipt. Ordering is (code, path, detail) per spec §4.2.
type Issue struct {
	Code   reasoncode.Code `json:"code"`
	Path   string          `json:"path,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

// SortIssues returns a stable-sorted copy ordered by (code, path, detail).
func SortIssues(issues []Issue) []Issue {
	cp := make([]Issue, len(issues))
	copy(cp, issues)
	sort.SliceStable(cp, func(i, j int) bool {
		if cp[i].Code != cp[j].Code {
			return cp[i].Code < cp[j].Code
		}
		if cp[i].Path != cp[j].Path {
			return cp[i].Path < cp[j].Path
		}
		return cp[i].Detail < cp[j].Detail
	})
	return cp
}

// Result is the return shape of every pure validator/evaluator: either a
// value, or a non-empty, stably-ordered Issues list. There is no
// exception path for expected failure — only programmer-error invariants
// (e.g. ErrCycle in canon) panic or return a plain error.
type Result[T any] struct {
	Value  T
	Issues []Issue
}

// OK constructs a successful Result.
func OK[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail constructs a failed Result from one or more issues, sorted.
func Fail[T any](issues ...Issue) Result[T] {
	return Result[T]{Issues: SortIssues(issues)}
}

// IsOK reports whether the result carries no issues.
func (r Result[T]) IsOK() bool { return len(r.Issues) == 0 }

// WeftError is the ambient, process-boundary error type: user-safe
// message, actionable suggestion, and the §7 primary remedy. It is never
// part of a canonical/hashed structure.
type WeftError struct {
	Code          reasoncode.Code       `json:"code"`
	Message       string                `json:"message"`
	Suggestion    string                `json:"suggestion,omitempty"`
	Remedy        reasoncode.RemedyCode `json:"remedy,omitempty"`
	Deterministic bool                  `json:"deterministic"`
	Cause         error                 `json:"-"`
	Context       map[string]string     `json:"context,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
}

func (e *WeftError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WeftError) Unwrap() error { return e.Cause }

// New creates a WeftError stamped with the current wall-clock time — safe
// here because WeftError never feeds canon.Marshal.
func New(code reasoncode.Code, message string) *WeftError {
	return &WeftError{Code: code, Message: message, Timestamp: time.Now().UTC()}
}

// WithSuggestion attaches an actionable hint.
func (e *WeftError) WithSuggestion(s string) *WeftError { e.Suggestion = s; return e }

// WithRemedy attaches the §7 primary remedy.
func (e *WeftError) WithRemedy(r reasoncode.RemedyCode) *WeftError { e.Remedy = r; return e }

// WithCause wraps an underlying error.
func (e *WeftError) WithCause(cause error) *WeftError { e.Cause = cause; return e }

// FromIssues converts the first issue of a failed Result into a
// WeftError for CLI/process reporting, attaching the number of remaining
// issues (not the issues themselves) as context.
func FromIssues[T any](r Result[T]) *WeftError {
	if r.IsOK() {
		return nil
	}
	first := r.Issues[0]
	err := New(first.Code, first.Detail).WithSuggestion(first.Path)
	if len(r.Issues) > 1 {
		err.Context = map[string]string{"additional_issues": fmt.Sprintf("%d", len(r.Issues)-1)}
	}
	return err
}
