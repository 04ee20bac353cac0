// Package store implements WeftEnd's C4 artifact store and recovery
// lane (spec §4.4): a content-addressed flat-file store with idempotent
// writes and a narrow recovery path that never touches a release
// manifest. Grounded on services/runner/internal/trust/cas.go's
// write-temp/fsync/rename Put and sha256-keyed Get, stripped of the
// teacher's LRU/size-cap eviction machinery — spec §4.4 requires the
// store to never silently drop an object, so eviction has no home
// here (see DESIGN.md).
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reacherr"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/reasoncode"
)

// Store is a content-addressed object store rooted at a directory.
// Locking is per-digest, not global: concurrent writers of distinct
// objects never contend, matching spec §5's "operations on unrelated
// digests proceed independently" concurrency model rather than the
// teacher's single RWMutex guarding the whole CAS.
type Store struct {
	root string

	mu    sync.Mutex // guards the lock-table itself, not object I/O
	locks map[string]*sync.Mutex
}

// New opens (creating if necessary) a store rooted at root.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root: %w", err)
	}
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) lockFor(digest string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[digest]
	if !ok {
		l = &sync.Mutex{}
		s.locks[digest] = l
	}
	return l
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put writes payload keyed by its sha256 digest and returns that digest.
// Writing the same content twice is a no-op on the second call: the
// store never reports ARTIFACT_DIGEST_MISMATCH for its own idempotent
// writes.
func (s *Store) Put(payload []byte) (string, error) {
	digest := sha256Hex(payload)
	lock := s.lockFor(digest)
	lock.Lock()
	defer lock.Unlock()

	path := s.objectPath(digest)
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}
	if err := WriteFileAtomic(path, payload); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return digest, nil
		}
		return "", err
	}
	return digest, nil
}

// WriteFileAtomic writes data to path via write-temp/fsync/rename,
// creating parent directories as needed. It is exported so every
// single-writer-per-key component (library run folders, the Verify-360
// history ledger and its latest.txt pointer) can reuse the exact same
// atomic-write discipline this store uses for its own objects, rather
// than each hand-rolling it again.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: commit file: %w", err)
	}
	return nil
}

// Get reads the object stored under digest. ARTIFACT_MISSING if absent,
// ARTIFACT_DIGEST_MISMATCH if the bytes on disk no longer hash to
// digest (corruption or a tampered store root).
func (s *Store) Get(digest string) reacherr.Result[[]byte] {
	path := s.objectPath(digest)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reacherr.Fail[[]byte](reacherr.Issue{Code: reasoncode.ArtifactMissing, Path: digest})
		}
		return reacherr.Fail[[]byte](reacherr.Issue{Code: reasoncode.ArtifactMissing, Path: digest, Detail: err.Error()})
	}
	if got := sha256Hex(data); got != digest {
		return reacherr.Fail[[]byte](reacherr.Issue{Code: reasoncode.ArtifactDigestMismatch, Path: digest, Detail: "stored bytes hash to " + got})
	}
	return reacherr.OK(data)
}

// Has reports whether digest exists and verifies intact, without
// returning the payload.
func (s *Store) Has(digest string) bool {
	return s.Get(digest).IsOK()
}

func (s *Store) objectPath(digest string) string {
	if len(digest) < 4 {
		return filepath.Join(s.root, "objects", digest)
	}
	return filepath.Join(s.root, "objects", digest[:2], digest[2:4], digest)
}

// RecoverySource describes one candidate the recovery lane may pull a
// missing/corrupt object from.
type RecoverySource struct {
	SourceID   string   `json:"sourceId"`
	PlanDigest string   `json:"planDigest"`
	Blocks     []string `json:"blocks,omitempty"`
	PathDigest string   `json:"pathDigest,omitempty"`
	Payload    []byte   `json:"payload"`
}

// Recover implements spec §4.4's recovery algorithm: given the digest
// the caller expected, search candidate sources for one whose payload
// hashes to exactly that digest and whose plan digest and blockset
// match. A candidate's PathDigest is not compared. The recovery lane never edits a release manifest — it only
// ever repopulates the store and appends Tartarus evidence of the scar.
func (s *Store) Recover(expectedDigest string, expectedPlanDigest string, expectedBlocks []string, candidates []RecoverySource) reacherr.Result[model.TartarusRecord] {
	for _, c := range candidates {
		if sha256Hex(c.Payload) != expectedDigest {
			continue
		}
		if c.PlanDigest != expectedPlanDigest {
			continue
		}
		if !sameBlockset(c.Blocks, expectedBlocks) {
			continue
		}
		if _, err := s.Put(c.Payload); err != nil {
			return reacherr.Fail[model.TartarusRecord](reacherr.Issue{Code: reasoncode.ArtifactDigestMismatch, Path: expectedDigest, Detail: err.Error()})
		}
		return reacherr.OK(model.TartarusRecord{
			Kind:          "recovery",
			SubjectDigest: expectedDigest,
			ReasonCodes:   []string{string(reasoncode.ArtifactDigestMismatch), string(reasoncode.ArtifactRecovered)},
		})
	}
	return reacherr.Fail[model.TartarusRecord](reacherr.Issue{Code: reasoncode.RecoverySourceUnknown, Path: expectedDigest})
}

func sameBlockset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		if seen[x] == 0 {
			return false
		}
		seen[x]--
	}
	return true
}
