package continuity

import (
	"context"
	"sync"
)

// Store owns the committed continuity records for every project it
// serves. Reads hand out isolated snapshots; all mutation funnels
// through Commit, which applies one episode's staged effects atomically.
type Store interface {
	// Snapshot returns an isolated copy of the committed state. Callers
	// may read it concurrently with commits from other sessions.
	Snapshot(ctx context.Context, projectID string) (*Snapshot, error)

	// Commit applies one episode's staged mutations and returns the new
	// committed snapshot. Commits for a project are serialized by the
	// store; an episode number at or below the last committed one is a
	// corruption-class error.
	Commit(ctx context.Context, projectID string, m Mutations) (*Snapshot, error)

	// Seed loads authored records (anchors, immutable facts, planted
	// foreshadows, initial relations) for a project before a run.
	Seed(ctx context.Context, projectID string, seed Seed) error
}

// MemoryStore keeps committed state in process memory. It backs tests
// and single-shot CLI runs where durability is not needed.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: map[string]*Snapshot{}}
}

func (s *MemoryStore) snapshotLocked(projectID string) *Snapshot {
	snap, ok := s.projects[projectID]
	if !ok {
		snap = NewSnapshot(projectID)
		s.projects[projectID] = snap
	}
	return snap
}

// Snapshot returns a deep copy of the committed state for projectID.
func (s *MemoryStore) Snapshot(_ context.Context, projectID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.projects[projectID]; ok {
		return snap.Clone(), nil
	}
	return NewSnapshot(projectID), nil
}

// Commit applies m onto a private copy first, so a failed apply leaves
// committed state untouched, then swaps the copy in.
func (s *MemoryStore) Commit(_ context.Context, projectID string, m Mutations) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.snapshotLocked(projectID).Clone()
	if err := Apply(next, m); err != nil {
		return nil, err
	}
	s.projects[projectID] = next
	return next.Clone(), nil
}

// Seed merges authored records into the project's committed state.
func (s *MemoryStore) Seed(_ context.Context, projectID string, seed Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked(projectID)
	snap.Anchors = append(snap.Anchors, seed.Anchors...)
	snap.Foreshadows = append(snap.Foreshadows, seed.Foreshadows...)
	for _, f := range seed.Facts {
		attrs, ok := snap.Facts[f.Character]
		if !ok {
			attrs = map[string]string{}
			snap.Facts[f.Character] = attrs
		}
		attrs[f.Attribute] = f.Value
	}
	for _, r := range seed.Relations {
		key := NormalizePair(r.Pair)
		snap.Relations[key] = RelationEntry{Pair: key, Kind: r.Kind, ChangedEp: r.ChangedEp}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
