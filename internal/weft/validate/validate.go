// Package validate implements WeftEnd's C2 validators (spec §4.2): pure,
// fail-closed shape/bound/privacy/reason-code checks returning
// reacherr.Result. Grounded on services/runner/internal/pack/lint.go's
// "collect every finding, never stop at the first" shape, generalized
// from ad-hoc []string errors to typed, sortable Issues.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reacherr"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
)

// Bounds are the hard caps spec §4.8 requires examine/validate to
// enforce; they are also reused wherever C2 needs a size ceiling (e.g.
// EvidenceRecord payload size).
type Bounds struct {
	MaxFiles        int
	MaxTotalBytes   int64
	MaxFileBytes    int64
	MaxExternalRefs int
	MaxScriptBytes  int64
	MaxScriptSteps  int
	MaxStringBytes  int
	MaxArrayLen     int
}

// DefaultBounds mirrors the conservative defaults pack/lint.go applies
// to untrusted input.
func DefaultBounds() Bounds {
	return Bounds{
		MaxFiles:        20000,
		MaxTotalBytes:   512 * 1024 * 1024,
		MaxFileBytes:    64 * 1024 * 1024,
		MaxExternalRefs: 4096,
		MaxScriptBytes:  1024 * 1024,
		MaxScriptSteps:  100000,
		MaxStringBytes:  1 << 20,
		MaxArrayLen:     100000,
	}
}

// forbiddenKeys is the privacy blocklist from spec §4.2.
var forbiddenKeys = map[string]bool{
	"password": true, "token": true, "secret": true, "authorization": true,
	"cookie": true, "cvv": true,
}

// CheckStringBound returns FIELD_INVALID if s exceeds the byte-length
// bound at path.
func CheckStringBound(path, s string, bounds Bounds) []reacherr.Issue {
	if len(s) > bounds.MaxStringBytes {
		return []reacherr.Issue{{Code: reasoncode.FieldInvalid, Path: path, Detail: fmt.Sprintf("string exceeds %d bytes", bounds.MaxStringBytes)}}
	}
	return nil
}

// CheckArrayBound returns FIELD_INVALID if n exceeds the array-length
// bound at path.
func CheckArrayBound(path string, n int, bounds Bounds) []reacherr.Issue {
	if n > bounds.MaxArrayLen {
		return []reacherr.Issue{{Code: reasoncode.FieldInvalid, Path: path, Detail: fmt.Sprintf("array exceeds %d elements", bounds.MaxArrayLen)}}
	}
	return nil
}

// CheckPrivacy walks a flat key/value map (e.g. a receipt's Context,
// or a capability request's params) and reports any forbidden key,
// absolute path, environment-variable reference, or wall-clock-looking
// timestamp value, per spec §4.2.
func CheckPrivacy(path string, kv map[string]string) []reacherr.Issue {
	var issues []reacherr.Issue
	for k, v := range kv {
		lk := strings.ToLower(k)
		if forbiddenKeys[lk] {
			issues = append(issues, reacherr.Issue{Code: reasoncode.FieldInvalid, Path: path + "." + k, Detail: "forbidden key"})
			continue
		}
		if looksAbsolutePath(v) {
			issues = append(issues, reacherr.Issue{Code: reasoncode.FieldInvalid, Path: path + "." + k, Detail: "absolute path value"})
		}
		if strings.Contains(v, "${") || strings.HasPrefix(strings.TrimSpace(v), "$") {
			issues = append(issues, reacherr.Issue{Code: reasoncode.FieldInvalid, Path: path + "." + k, Detail: "environment variable reference"})
		}
		if looksLikeTimestamp(v) {
			issues = append(issues, reacherr.Issue{Code: reasoncode.FieldInvalid, Path: path + "." + k, Detail: "wall-clock timestamp value"})
		}
	}
	return issues
}

func looksAbsolutePath(v string) bool {
	if strings.HasPrefix(v, "/") {
		return true
	}
	if len(v) >= 3 && v[1] == ':' && (v[2] == '\\' || v[2] == '/') {
		return true
	}
	return false
}

func looksLikeTimestamp(v string) bool {
	// RFC3339-ish shape: YYYY-MM-DDTHH:MM:SS
	if len(v) < 19 {
		return false
	}
	return v[4] == '-' && v[7] == '-' && (v[10] == 'T' || v[10] == ' ') && v[13] == ':' && v[16] == ':'
}

// CheckReasonCodes verifies the grammar (spec §6.2), stable order, and
// de-duplication of a reason-code list as it crosses a boundary.
func CheckReasonCodes(path string, codes []string) []reacherr.Issue {
	var issues []reacherr.Issue
	seen := make(map[string]bool, len(codes))
	for i, c := range codes {
		if !reasoncode.Code(c).Valid() {
			issues = append(issues, reacherr.Issue{Code: reasoncode.FieldInvalid, Path: fmt.Sprintf("%s[%d]", path, i), Detail: "reason code grammar violation"})
			continue
		}
		if seen[c] {
			issues = append(issues, reacherr.Issue{Code: reasoncode.FieldInvalid, Path: fmt.Sprintf("%s[%d]", path, i), Detail: "duplicate reason code"})
			continue
		}
		seen[c] = true
		if i > 0 && codes[i-1] > c {
			issues = append(issues, reacherr.Issue{Code: reasoncode.FieldInvalid, Path: path, Detail: "reason codes not stable-sorted"})
		}
	}
	return issues
}

// CheckUnknownKeys reports FIELD_INVALID for any key present in got but
// absent from allowed — the shape check spec §4.2 requires ("unknown
// keys → FIELD_INVALID").
func CheckUnknownKeys(path string, got map[string]any, allowed map[string]bool) []reacherr.Issue {
	var issues []reacherr.Issue
	for k := range got {
		if !allowed[k] {
			issues = append(issues, reacherr.Issue{Code: reasoncode.FieldInvalid, Path: path + "." + k, Detail: "unknown key"})
		}
	}
	return issues
}

// ValidUTF8NFCAssumed checks the string is well-formed UTF-8. Full NFC
// normalization is intentionally not performed here — see SPEC_FULL.md
// §4.1 for why: the external parsers (§6.6 contract)
// already guarantee NFC input, and canon.ToValue independently rejects
// ill-formed UTF-8.
func ValidUTF8NFCAssumed(path, s string) []reacherr.Issue {
	if !utf8.ValidString(s) {
		return []reacherr.Issue{{Code: reasoncode.FieldInvalid, Path: path, Detail: "invalid UTF-8"}}
	}
	return nil
}

// Merge aggregates validator results into a single Result, sorting and
// deduplicating the combined issue set.
func Merge[T any](value T, groups ...[]reacherr.Issue) reacherr.Result[T] {
	var all []reacherr.Issue
	for _, g := range groups {
		all = append(all, g...)
	}
	if len(all) == 0 {
		return reacherr.OK(value)
	}
	var deduped []reacherr.Issue
	for _, is := range reacherr.SortIssues(all) {
		if n := len(deduped); n > 0 && deduped[n-1] == is {
			continue
		}
		deduped = append(deduped, is)
	}
	return reacherr.Result[T]{Value: value, Issues: deduped}
}
