// Package tartarus implements WeftEnd's C11 scar log and pulse ring
// (spec §4.11): an append-only, bounded Tartarus log that drops the
// oldest entry deterministically once a cap is hit, and a
// digest-chained ring buffer of PulseRecords with a fixed capacity and
// a published chain head. Grounded on
// services/runner/internal/audit/receipts.go's canonical, sorted-key
// hashing discipline (already generalized into the canon package) and
// applied here to a fixed-size, deterministic-eviction structure the
// teacher has no direct analogue for — see DESIGN.md.
package tartarus

import "github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"

// Log is an append-only scar log bounded by a global cap and,
// optionally, a per-block cap. Entries are never deleted except by
// deterministic oldest-first eviction once a cap is exceeded — the
// scar a recovery or denial leaves behind is never silently cleared,
// only aged out under a hard size bound.
type Log struct {
	globalCap int
	blockCap  int
	entries   []model.TartarusRecord
	perBlock  map[string][]int // subjectDigest -> indices into entries, in append order
	nextSeq   int64
}

// NewLog constructs a bounded Tartarus log. A zero cap means
// unbounded for that dimension.
func NewLog(globalCap, perBlockCap int) *Log {
	return &Log{globalCap: globalCap, blockCap: perBlockCap, perBlock: make(map[string][]int)}
}

// Append adds a record, stamping it with the next monotonic seq, and
// evicts the oldest entry (per-block, then global) deterministically
// if a cap is now exceeded.
func (l *Log) Append(kind, subjectDigest string, reasonCodes []string) model.TartarusRecord {
	l.nextSeq++
	rec := model.TartarusRecord{Kind: kind, SubjectDigest: subjectDigest, ReasonCodes: reasonCodes, Seq: l.nextSeq}
	l.entries = append(l.entries, rec)
	l.perBlock[subjectDigest] = append(l.perBlock[subjectDigest], len(l.entries)-1)

	if l.blockCap > 0 {
		for len(l.perBlock[subjectDigest]) > l.blockCap {
			l.evictOldestFor(subjectDigest)
		}
	}
	if l.globalCap > 0 {
		for len(l.entries) > l.globalCap {
			l.evictOldestGlobal()
		}
	}
	return rec
}

// evictOldestFor drops the oldest surviving entry for a given subject.
func (l *Log) evictOldestFor(subjectDigest string) {
	indices := l.perBlock[subjectDigest]
	if len(indices) == 0 {
		return
	}
	idx := indices[0]
	l.perBlock[subjectDigest] = indices[1:]
	l.removeAt(idx)
}

// evictOldestGlobal drops the single oldest entry across all subjects.
func (l *Log) evictOldestGlobal() {
	if len(l.entries) == 0 {
		return
	}
	l.removeAt(0)
}

// removeAt deletes entries[idx] and shifts every later index in
// perBlock down by one to stay consistent.
func (l *Log) removeAt(idx int) {
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	for subject, indices := range l.perBlock {
		updated := indices[:0]
		for _, i := range indices {
			switch {
			case i < idx:
				updated = append(updated, i)
			case i > idx:
				updated = append(updated, i-1)
			}
		}
		l.perBlock[subject] = updated
	}
}

// Entries returns the surviving scar entries in append order.
func (l *Log) Entries() []model.TartarusRecord {
	out := make([]model.TartarusRecord, len(l.entries))
	copy(out, l.entries)
	return out
}

// ScarsFor returns the surviving scars bound to a subject digest.
func (l *Log) ScarsFor(subjectDigest string) []model.TartarusRecord {
	var out []model.TartarusRecord
	for _, i := range l.perBlock[subjectDigest] {
		out = append(out, l.entries[i])
	}
	return out
}

// PulseRing is a fixed-capacity, digest-chained ring buffer of
// PulseRecords. Each record's prevDigest binds it to the digest of the
// record before it, so the published chain head alone lets a verifier
// detect any tampering with the ring's history.
type PulseRing struct {
	cap     int
	records []model.PulseRecord
	head    string
	nextSeq int64

	digestFn func(model.PulseRecord) (string, error)
}

// NewPulseRing constructs a ring of the given fixed capacity. digestFn
// computes the chain digest of one record (typically
// canon.Digest(canon.FamilySHA256, record)); it is injected rather than
// imported directly so this package stays free of a canon dependency
// cycle risk as the model grows.
func NewPulseRing(capacity int, digestFn func(model.PulseRecord) (string, error)) *PulseRing {
	return &PulseRing{cap: capacity, digestFn: digestFn}
}

// Push appends a new pulse, chaining it to the current head, and
// evicts the oldest record if the ring is at capacity. Returns the new
// chain head digest.
func (p *PulseRing) Push(kind, planDigest, pathDigest string) (string, error) {
	p.nextSeq++
	rec := model.PulseRecord{Kind: kind, PlanDigest: planDigest, PathDigest: pathDigest, Seq: p.nextSeq, PrevDigest: p.head}
	digest, err := p.digestFn(rec)
	if err != nil {
		return "", err
	}
	p.records = append(p.records, rec)
	if p.cap > 0 && len(p.records) > p.cap {
		p.records = p.records[len(p.records)-p.cap:]
	}
	p.head = digest
	return digest, nil
}

// Head returns the current chain head digest.
func (p *PulseRing) Head() string { return p.head }

// Records returns the surviving ring contents, oldest first.
func (p *PulseRing) Records() []model.PulseRecord {
	out := make([]model.PulseRecord, len(p.records))
	copy(out, p.records)
	return out
}
