package canon

import (
	"math"
	"strings"
	"testing"
)

type sample struct {
	Zeta  string            `json:"zeta"`
	Alpha int               `json:"alpha"`
	Tags  []string          `json:"tags"`
	Meta  map[string]string `json:"meta"`
	Skip  string            `json:"-"`
	Omit  string            `json:"omit,omitempty"`
}

func TestMarshalKeyOrder(t *testing.T) {
	v := sample{Zeta: "z", Alpha: 1, Tags: []string{"b", "a"}, Meta: map[string]string{"y": "1", "x": "2"}, Skip: "hidden"}
	out, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(out)
	wantOrder := []string{`"alpha"`, `"meta"`, `"tags"`, `"zeta"`}
	lastIdx := -1
	for _, key := range wantOrder {
		idx := strings.Index(got, key)
		if idx < 0 {
			t.Fatalf("missing key %s in %s", key, got)
		}
		if idx < lastIdx {
			t.Fatalf("key %s out of order in %s", key, got)
		}
		lastIdx = idx
	}
	if strings.Contains(got, "hidden") {
		t.Fatalf("skipped field leaked: %s", got)
	}
	if strings.Contains(got, "omit") {
		t.Fatalf("omitempty field leaked: %s", got)
	}
}

func TestMarshalDeterministicAcrossCalls(t *testing.T) {
	v := map[string]any{"c": 3, "a": 1, "b": 2}
	a, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 25; i++ {
		b, err := Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		if string(a) != string(b) {
			t.Fatalf("canon parity broke across calls: %s != %s", a, b)
		}
	}
}

func TestDigestPrefixesFamily(t *testing.T) {
	d, err := Digest(FamilySHA256, map[string]any{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(d, "sha256:") {
		t.Fatalf("expected sha256: prefix, got %s", d)
	}
	f, err := Digest(FamilyFNV1a32, map[string]any{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(f, "fnv1a32:") {
		t.Fatalf("expected fnv1a32: prefix, got %s", f)
	}
}

func TestCycleDetection(t *testing.T) {
	type node struct {
		Next *node `json:"next"`
	}
	a := &node{}
	a.Next = a
	if _, err := ToValue(a); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestNonFiniteNumbersCollapseToNull(t *testing.T) {
	out, err := Marshal(map[string]any{"x": math.NaN()})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"x":null`) {
		t.Fatalf("expected NaN to collapse to null, got %s", out)
	}
}

func TestWithoutFieldMatchesDigestBindingPattern(t *testing.T) {
	type rec struct {
		ID      string `json:"evidenceId"`
		Payload string `json:"payload"`
	}
	r := rec{ID: "placeholder", Payload: "p"}
	stripped, err := WithoutField(r, "evidenceId")
	if err != nil {
		t.Fatal(err)
	}
	id := DigestBytes(FamilySHA256, stripped)

	r2 := rec{ID: id, Payload: "p"}
	stripped2, err := WithoutField(r2, "evidenceId")
	if err != nil {
		t.Fatal(err)
	}
	id2 := DigestBytes(FamilySHA256, stripped2)
	if id != id2 {
		t.Fatalf("digest binding is not self-consistent: %s != %s", id, id2)
	}
}

func TestSortReasonCodesStableAndDeduped(t *testing.T) {
	in := []ReasonCode{
		{Code: "CAP_NOT_GRANTED"},
		{Code: "CAP_UNKNOWN"},
		{Code: "CAP_NOT_GRANTED"},
	}
	out := SortReasonCodes(in)
	if len(out) != 2 {
		t.Fatalf("expected dedup to 2, got %v", out)
	}
	if out[0] != "CAP_NOT_GRANTED" || out[1] != "CAP_UNKNOWN" {
		t.Fatalf("unexpected order: %v", out)
	}
}
