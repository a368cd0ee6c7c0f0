package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/efebarandurmaz/depscope/internal/graph"
)

const (
	snapshotsDir = "snapshots"
	objectsDir   = "objects"
	indexFile    = "index.json"
)

// Store provides content-addressable storage for analysis snapshots.
type Store struct {
	mu      sync.RWMutex
	rootDir string
	index   *SnapshotIndex
}

// NewStore creates or opens a snapshot store at the given directory.
func NewStore(rootDir string) (*Store, error) {
	s := &Store{rootDir: rootDir}

	dirs := []string{
		filepath.Join(rootDir, snapshotsDir),
		filepath.Join(rootDir, objectsDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}

	if err := s.loadIndex(); err != nil {
		s.index = &SnapshotIndex{
			Snapshots: []SnapshotSummary{},
			UpdatedAt: time.Now(),
		}
	}

	return s, nil
}

// Save persists a snapshot and its graph payload. The payload is stored
// once per distinct content and its hash is recorded on snap.
func (s *Store) Save(snap *Snapshot, doc *graph.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	snap.GraphHash = ContentHash(payload)
	if err := s.writeObject(snap.GraphHash, payload); err != nil {
		return fmt.Errorf("store graph object: %w", err)
	}

	if err := s.writeSnapshot(snap); err != nil {
		return err
	}

	s.index.Snapshots = append(s.index.Snapshots, snap.Summary())
	s.index.UpdatedAt = time.Now()
	return s.saveIndex()
}

// Load retrieves a snapshot by ID.
func (s *Store) Load(id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

// LoadGraph reads the graph payload of snap.
func (s *Store) LoadGraph(snap *Snapshot) (*graph.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.readObject(snap.GraphHash)
	if err != nil {
		return nil, fmt.Errorf("read graph object for %s: %w", snap.ID, err)
	}
	var doc graph.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal graph for %s: %w", snap.ID, err)
	}
	return &doc, nil
}

// Provider returns a memory provider seeded from a snapshot's graph, so a
// prior analysis can be re-run or compared without the original source.
func (s *Store) Provider(id string) (*graph.MemoryProvider, error) {
	snap, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	doc, err := s.LoadGraph(snap)
	if err != nil {
		return nil, err
	}
	return graph.NewMemoryProvider(doc.Nodes, doc.Edges), nil
}

// List returns all snapshot summaries, newest first.
func (s *Store) List() []SnapshotSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]SnapshotSummary, len(s.index.Snapshots))
	copy(result, s.index.Snapshots)

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result
}

// Latest returns the newest snapshot of namespace.
func (s *Store) Latest(namespace string) (*Snapshot, error) {
	for _, summary := range s.List() {
		if summary.Namespace == namespace {
			return s.Load(summary.ID)
		}
	}
	return nil, fmt.Errorf("%w: no snapshot for namespace %q", ErrNotFound, namespace)
}

// FindByTag returns the snapshot with the given tag.
func (s *Store) FindByTag(tag string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, summary := range s.index.Snapshots {
		if summary.Tag == tag {
			return s.load(summary.ID)
		}
	}
	return nil, fmt.Errorf("%w: tag %q", ErrNotFound, tag)
}

// Resolve looks ref up as an id first, then as a tag.
func (s *Store) Resolve(ref string) (*Snapshot, error) {
	snap, err := s.Load(ref)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return snap, err
	}
	return s.FindByTag(ref)
}

// Tag assigns a tag to a snapshot.
func (s *Store) Tag(id, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load(id)
	if err != nil {
		return err
	}
	snap.Tag = tag
	if err := s.writeSnapshot(snap); err != nil {
		return err
	}

	for i, summary := range s.index.Snapshots {
		if summary.ID == id {
			s.index.Snapshots[i].Tag = tag
			break
		}
	}
	s.index.UpdatedAt = time.Now()
	return s.saveIndex()
}

// Delete removes a snapshot. Graph objects still referenced by another
// snapshot are kept.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load(id)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(filepath.Join(s.rootDir, snapshotsDir, filepath.Base(id))); err != nil {
		return fmt.Errorf("remove snapshot dir: %w", err)
	}

	filtered := s.index.Snapshots[:0]
	for _, summary := range s.index.Snapshots {
		if summary.ID != id {
			filtered = append(filtered, summary)
		}
	}
	s.index.Snapshots = filtered
	s.index.UpdatedAt = time.Now()

	if !s.objectReferenced(snap.GraphHash) {
		if err := s.removeObject(snap.GraphHash); err != nil {
			return fmt.Errorf("remove graph object: %w", err)
		}
	}
	return s.saveIndex()
}

func (s *Store) load(id string) (*Snapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *Store) writeSnapshot(snap *Snapshot) error {
	snapDir := filepath.Join(s.rootDir, snapshotsDir, snap.ID)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(s.snapshotPath(snap.ID), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *Store) snapshotPath(id string) string {
	return filepath.Join(s.rootDir, snapshotsDir, filepath.Base(id), "snapshot.json")
}

// objectReferenced scans the remaining snapshots for hash.
func (s *Store) objectReferenced(hash string) bool {
	for _, summary := range s.index.Snapshots {
		other, err := s.load(summary.ID)
		if err == nil && other.GraphHash == hash {
			return true
		}
	}
	return false
}

// writeObject stores content by its hash.
func (s *Store) writeObject(hash string, content []byte) error {
	dir := filepath.Join(s.rootDir, objectsDir, hash[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	objPath := filepath.Join(dir, hash[2:])
	if _, err := os.Stat(objPath); err == nil {
		return nil // already stored
	}
	return os.WriteFile(objPath, content, 0o644)
}

// readObject retrieves content by its hash.
func (s *Store) readObject(hash string) ([]byte, error) {
	if len(hash) < 3 {
		return nil, fmt.Errorf("invalid object hash %q", hash)
	}
	return os.ReadFile(filepath.Join(s.rootDir, objectsDir, hash[:2], hash[2:]))
}

func (s *Store) removeObject(hash string) error {
	if len(hash) < 3 {
		return nil
	}
	err := os.Remove(filepath.Join(s.rootDir, objectsDir, hash[:2], hash[2:]))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.rootDir, indexFile))
	if err != nil {
		return err
	}
	s.index = &SnapshotIndex{}
	return json.Unmarshal(data, s.index)
}

func (s *Store) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.rootDir, indexFile), data, 0o644)
}
