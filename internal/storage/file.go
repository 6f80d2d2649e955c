package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/vecindex/internal/models"
)

// FileStore keeps the whole index in one JSON snapshot file. Every mutation rewrites the
// complete snapshot to a temporary file in the same directory and renames it over the
// durable file, so the file on disk is always a complete old or new snapshot.
//
// The store holds the whole snapshot in memory, so a second process writing the same
// file would be overwritten by the next mutation. Mutations therefore fail with
// ErrSnapshotChanged when the file is no longer the one this store last read or wrote.
type FileStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	docs   map[string]*models.DocumentSnapshot
	// stamp is the file as last read or written; nil when it did not exist.
	stamp os.FileInfo
	now   func() time.Time
}

// ErrSnapshotChanged reports a snapshot file replaced by another process.
var ErrSnapshotChanged = errors.New("snapshot file changed by another process")

// NewFileStore returns a store backed by the snapshot file at path. The file is not
// read until Load or the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the durable snapshot path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot file. The returned documents are shared with the store and
// must not be modified.
func (s *FileStore) Load(ctx context.Context) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s.snapshotLocked(), nil
}

func (s *FileStore) loadLocked() error {
	snap, err := ReadSnapshotFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		snap = models.NewSnapshot()
	}
	s.stamp = statOrNil(s.path)
	s.docs = make(map[string]*models.DocumentSnapshot, len(snap.Documents))
	for _, d := range snap.Documents {
		s.docs[d.DocumentID] = d
	}
	s.loaded = true
	return nil
}

func (s *FileStore) snapshotLocked() *models.Snapshot {
	snap := models.NewSnapshot()
	for _, d := range s.docs {
		snap.Documents = append(snap.Documents, d)
	}
	snap.SortDocuments()
	return snap
}

// PutDocument durably replaces doc.
func (s *FileStore) PutDocument(ctx context.Context, doc *models.DocumentSnapshot) error {
	return s.mutate(ctx, func(next map[string]*models.DocumentSnapshot) {
		next[doc.DocumentID] = doc
	})
}

// DeleteDocument durably removes documentID.
func (s *FileStore) DeleteDocument(ctx context.Context, documentID string) error {
	return s.mutate(ctx, func(next map[string]*models.DocumentSnapshot) {
		delete(next, documentID)
	})
}

func (s *FileStore) mutate(ctx context.Context, apply func(map[string]*models.DocumentSnapshot)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			return err
		}
	}
	if cur := statOrNil(s.path); cur != nil && !sameFile(s.stamp, cur) {
		return persistErr("check snapshot", fmt.Errorf("%w: %s; restart to reload it", ErrSnapshotChanged, s.path))
	}
	next := make(map[string]*models.DocumentSnapshot, len(s.docs)+1)
	for id, d := range s.docs {
		next[id] = d
	}
	apply(next)

	snap := models.NewSnapshot()
	snap.SavedAt = s.now().UTC()
	for _, d := range next {
		snap.Documents = append(snap.Documents, d)
	}
	snap.SortDocuments()
	if err := WriteSnapshotFile(s.path, snap); err != nil {
		return err
	}
	s.docs = next
	s.stamp = statOrNil(s.path)
	return nil
}

func statOrNil(path string) os.FileInfo {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}
	return fi
}

// sameFile reports whether cur is still the file recorded in prev. Every write renames a
// new file into place, so a foreign write changes the file identity.
func sameFile(prev, cur os.FileInfo) bool {
	if prev == nil {
		return false
	}
	return os.SameFile(prev, cur) && prev.ModTime().Equal(cur.ModTime()) && prev.Size() == cur.Size()
}

// Close is a no-op; every write is already durable.
func (s *FileStore) Close() error {
	return nil
}

// ReadSnapshotFile reads and validates a snapshot file. A missing file returns an error
// satisfying errors.Is(err, fs.ErrNotExist); anything unparsable wraps
// models.ErrCorruptSnapshot.
func ReadSnapshotFile(path string) (*models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrCorruptSnapshot, path, err)
	}
	if snap.Documents == nil {
		snap.Documents = []*models.DocumentSnapshot{}
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &snap, nil
}

// WriteSnapshotFile atomically replaces path with snap. Failures wrap models.ErrPersistence
// and leave any existing file untouched.
func WriteSnapshotFile(path string, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return persistErr("encode snapshot", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return persistErr("create snapshot directory", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return persistErr("create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return persistErr("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return persistErr("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return persistErr("close temp file", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return persistErr("chmod temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return persistErr("rename snapshot", err)
	}
	committed = true
	// The rename is only durable once the directory entry is flushed.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
