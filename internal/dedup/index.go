// Package dedup tracks which target paths are already present locally so
// repeated runs against the same remote catalog never rewrite a byte.
package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"

	"go-icloud-backup/internal/models"
)

// Decision is the outcome of checking one planned item against the index.
type Decision int

const (
	// Fetch means the resolved path is free and claimed for this item.
	Fetch Decision = iota
	// Skip means the item is a true duplicate of a completed write.
	Skip
	// Conflict means the planned path held different content; the returned
	// path carries a numeric disambiguation suffix. The item is still fetched.
	Conflict
)

// Entry is one persisted index record, keyed by target path.
type Entry struct {
	TargetPath  string `json:"targetPath"`
	Fingerprint string `json:"fingerprint,omitempty"`
	SizeBytes   int64  `json:"sizeBytes"`
	Completed   bool   `json:"completed"`
}

// Index wraps the bitcask store plus the in-run claim set. Check-then-claim
// is a single critical section, so two workers can never take the same path.
type Index struct {
	db   *bitcask.Bitcask
	root string

	mu      sync.Mutex
	claimed map[string]bool
}

// Open loads (or creates) the index database. The database tolerates being
// absent on a first run and partially written after a crash; entries without
// a completed marker are re-verified against the filesystem before being
// trusted.
func Open(dbPath, outputRoot string) (*Index, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating index directory %s: %w", dir, err)
		}
	}
	db, err := bitcask.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening dedup index at %s: %w", dbPath, err)
	}
	log.Debugf("Dedup index opened at %s", dbPath)
	return &Index{db: db, root: outputRoot, claimed: map[string]bool{}}, nil
}

// candidateState is what evaluate found at one candidate path.
type candidateState int

const (
	// candidateFree means the path can be claimed for a write.
	candidateFree candidateState = iota
	// candidateDuplicate means the path already holds this item's content.
	candidateDuplicate
	// candidateOccupied means the path holds (or will hold) different content.
	candidateOccupied
)

// evaluate inspects one candidate path for an item without claiming it.
// Callers hold ix.mu.
func (ix *Index) evaluate(candidate string, item models.PlannedItem) (candidateState, error) {
	if ix.claimed[candidate] {
		// Another in-flight item owns this path; its content is unknown
		// until it commits, so treat it as a collision.
		return candidateOccupied, nil
	}

	entry, found, err := ix.get(candidate)
	if err != nil {
		return candidateOccupied, err
	}

	switch {
	case !found:
		// No record. A file may still exist (committed rename, crashed
		// before the index write): trust it when the size matches.
		if size, onDisk := ix.statTarget(candidate); onDisk {
			if size == item.Asset.SizeBytes {
				ix.rememberCompleted(candidate, item)
				return candidateDuplicate, nil
			}
			return candidateOccupied, nil
		}
		return candidateFree, nil

	case entry.Completed:
		if duplicate(entry, item.Asset.Fingerprint, item.Asset.SizeBytes) {
			if _, onDisk := ix.statTarget(candidate); onDisk {
				return candidateDuplicate, nil
			}
			// The entry says completed but the file is gone, deleted
			// outside the engine. Re-fetch to the same path.
			log.Warnf("Indexed file %s missing from disk, re-fetching", candidate)
			return candidateFree, nil
		}
		return candidateOccupied, nil

	default:
		// Incomplete entry from an interrupted run. Verify whatever is on
		// disk against the declared size before trusting it.
		if size, onDisk := ix.statTarget(candidate); onDisk && size == item.Asset.SizeBytes {
			ix.rememberCompleted(candidate, item)
			return candidateDuplicate, nil
		}
		return candidateFree, nil
	}
}

// decisionFor maps a candidate state at suffix n to the caller-facing decision.
func decisionFor(state candidateState, n int) Decision {
	if state == candidateDuplicate {
		return Skip
	}
	if n > 0 {
		return Conflict
	}
	return Fetch
}

// Resolve decides what to do with a planned item and, for Fetch and Conflict,
// claims the returned path until Commit or Release. Duplicate iff the path is
// present and the fingerprints match, or no fingerprint is available on
// either side and the recorded size equals the declared size. A present path
// with mismatched content is never overwritten: the item moves to the next
// free "_N" suffix.
func (ix *Index) Resolve(item models.PlannedItem) (Decision, string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for n := 0; ; n++ {
		candidate := disambiguate(item.TargetPath, n)
		state, err := ix.evaluate(candidate, item)
		if err != nil {
			return Fetch, "", err
		}
		if state == candidateOccupied {
			continue
		}
		if state == candidateFree {
			ix.claimed[candidate] = true
		}
		return decisionFor(state, n), candidate, nil
	}
}

// PairResolution is the joint outcome for a Live pair's two members.
type PairResolution struct {
	Image      Decision
	Motion     Decision
	ImagePath  string
	MotionPath string
}

// ResolvePair resolves a Live pair's members under one shared suffix: both
// candidate paths advance to the same "_N" together, so the siblings always
// keep a common filename stem even when only one of them collides.
func (ix *Index) ResolvePair(image, motion models.PlannedItem) (PairResolution, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for n := 0; ; n++ {
		imageCandidate := disambiguate(image.TargetPath, n)
		motionCandidate := disambiguate(motion.TargetPath, n)

		imageState, err := ix.evaluate(imageCandidate, image)
		if err != nil {
			return PairResolution{}, err
		}
		motionState, err := ix.evaluate(motionCandidate, motion)
		if err != nil {
			return PairResolution{}, err
		}
		if imageState == candidateOccupied || motionState == candidateOccupied {
			continue
		}

		if imageState == candidateFree {
			ix.claimed[imageCandidate] = true
		}
		if motionState == candidateFree {
			ix.claimed[motionCandidate] = true
		}
		return PairResolution{
			Image:      decisionFor(imageState, n),
			Motion:     decisionFor(motionState, n),
			ImagePath:  imageCandidate,
			MotionPath: motionCandidate,
		}, nil
	}
}

// Commit records a completed write and releases the claim.
func (ix *Index) Commit(path, fingerprint string, sizeBytes int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.claimed, path)
	return ix.put(Entry{
		TargetPath:  path,
		Fingerprint: fingerprint,
		SizeBytes:   sizeBytes,
		Completed:   true,
	})
}

// MarkPending records that a path is about to be written, so a crash between
// rename and commit is detectable on the next run.
func (ix *Index) MarkPending(path string, sizeBytes int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.put(Entry{TargetPath: path, SizeBytes: sizeBytes})
}

// Release frees a claimed path after a terminal failure.
func (ix *Index) Release(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.claimed, path)
}

// Entries returns all completed entries, used by the search indexer and the
// db inspection command.
func (ix *Index) Entries() ([]Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var entries []Entry
	err := ix.db.Fold(func(key []byte) error {
		raw, err := ix.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Could not read index entry %s", string(key))
			return nil
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			log.WithError(err).Warnf("Corrupt index entry %s", string(key))
			return nil
		}
		if e.Completed {
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Sync flushes the store to disk.
func (ix *Index) Sync() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.Sync()
}

// Close flushes and closes the store.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.Close()
}

// get reads one entry. Callers hold ix.mu.
func (ix *Index) get(path string) (Entry, bool, error) {
	raw, err := ix.db.Get([]byte(path))
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("reading index entry %s: %w", path, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// A torn write from a crash. Treat as absent rather than failing the run.
		log.WithError(err).Warnf("Discarding corrupt index entry for %s", path)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// put writes one entry. Callers hold ix.mu.
func (ix *Index) put(e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding index entry %s: %w", e.TargetPath, err)
	}
	if err := ix.db.Put([]byte(e.TargetPath), raw); err != nil {
		return fmt.Errorf("writing index entry %s: %w", e.TargetPath, err)
	}
	return nil
}

// statTarget checks the output tree for an already-present file.
func (ix *Index) statTarget(relPath string) (int64, bool) {
	info, err := os.Stat(filepath.Join(ix.root, filepath.FromSlash(relPath)))
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

// rememberCompleted backfills a completed entry discovered by verification.
func (ix *Index) rememberCompleted(path string, item models.PlannedItem) {
	err := ix.put(Entry{
		TargetPath:  path,
		Fingerprint: item.Asset.Fingerprint,
		SizeBytes:   item.Asset.SizeBytes,
		Completed:   true,
	})
	if err != nil {
		log.WithError(err).Warnf("Could not backfill index entry for %s", path)
	}
}

// duplicate applies the identity rule for completed entries.
func duplicate(e Entry, fingerprint string, sizeBytes int64) bool {
	if e.Fingerprint != "" && fingerprint != "" {
		return e.Fingerprint == fingerprint
	}
	return e.SizeBytes == sizeBytes
}

// disambiguate appends the "_N" suffix before the extension: photo.heic,
// photo_1.heic, photo_2.heic, ...
func disambiguate(path string, n int) string {
	if n == 0 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%d%s", path[:len(path)-len(ext)], n, ext)
}
