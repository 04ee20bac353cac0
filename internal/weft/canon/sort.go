package canon

import "sort"

// ReasonCode is a single stable-sorted, deduplicated denial/evidence code
// (spec §6.2: ASCII [A-Z][A-Z0-9_]*). Subject/locator are optional
// disambiguators used only for sort order, never emitted unless the
// caller embeds them in a richer record.
type ReasonCode struct {
	Code    string
	Subject string
	Locator string
}

// SortReasonCodes returns a new, stable-sorted, deduplicated slice of
// plain reason code strings, ordered by (code, subject, locator) per
// spec §4.1.
func SortReasonCodes(codes []ReasonCode) []string {
	cp := make([]ReasonCode, len(codes))
	copy(cp, codes)
	sort.SliceStable(cp, func(i, j int) bool {
		if cp[i].Code != cp[j].Code {
			return cp[i].Code < cp[j].Code
		}
		if cp[i].Subject != cp[j].Subject {
			return cp[i].Subject < cp[j].Subject
		}
		return cp[i].Locator < cp[j].Locator
	})
	out := make([]string, 0, len(cp))
	seen := make(map[string]bool, len(cp))
	for _, c := range cp {
		if seen[c.Code] {
			continue
		}
		seen[c.Code] = true
		out = append(out, c.Code)
	}
	return out
}

// SortUniqueStrings stable-sorts and deduplicates a plain string slice —
// the common case for reason code lists that carry no subject/locator.
func SortUniqueStrings(in []string) []string {
	cp := make([]string, len(in))
	copy(cp, in)
	sort.Strings(cp)
	out := cp[:0:0]
	var last string
	first := true
	for _, s := range cp {
		if !first && s == last {
			continue
		}
		out = append(out, s)
		last = s
		first = false
	}
	return out
}

// CapRef pairs a capability ID with its canonical param digest for the
// (capId, canonical(params)) sort key used throughout §3/§4.1.
type CapRef struct {
	CapID       string
	ParamDigest string
}

// SortCapRefs stable-sorts by (capId, canonical(params)).
func SortCapRefs(refs []CapRef) []CapRef {
	cp := make([]CapRef, len(refs))
	copy(cp, refs)
	sort.SliceStable(cp, func(i, j int) bool {
		if cp[i].CapID != cp[j].CapID {
			return cp[i].CapID < cp[j].CapID
		}
		return cp[i].ParamDigest < cp[j].ParamDigest
	})
	return cp
}

// NodeRef is the (nodeId, role) or bare nodeId sort key used for plan
// node ordering.
type NodeRef struct {
	NodeID string
	Role   string
}

// SortNodeRefs stable-sorts by (nodeId, role).
func SortNodeRefs(refs []NodeRef) []NodeRef {
	cp := make([]NodeRef, len(refs))
	copy(cp, refs)
	sort.SliceStable(cp, func(i, j int) bool {
		if cp[i].NodeID != cp[j].NodeID {
			return cp[i].NodeID < cp[j].NodeID
		}
		return cp[i].Role < cp[j].Role
	})
	return cp
}
