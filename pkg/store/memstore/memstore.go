// Package memstore is an in-memory store.Store intended for tests, examples
// and the demo driver. It is safe for concurrent use.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/wilhg/journal/pkg/store"
)

// Store keeps events and snapshots per persistence id.
type Store struct {
	mu        sync.RWMutex
	events    map[string][]store.EventRecord             // persistence id -> log
	eventIDs  map[string]map[string]struct{}             // persistence id -> event ids
	snapshots map[string]map[uint64]store.SnapshotRecord // persistence id -> seq -> snapshot
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		events:    make(map[string][]store.EventRecord),
		eventIDs:  make(map[string]map[string]struct{}),
		snapshots: make(map[string]map[uint64]store.SnapshotRecord),
	}
}

// Append appends the batch if the log ends at expectedSeq.
func (s *Store) Append(ctx context.Context, persistenceID string, expectedSeq uint64, events []store.EventRecord) ([]store.EventRecord, error) {
	if len(events) == 0 {
		return nil, nil
	}
	batch, err := store.PrepareBatch(persistenceID, expectedSeq, events)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.events[persistenceID]
	if last := uint64(len(log)); last != expectedSeq {
		return nil, fmt.Errorf("%w: %s ends at %d, expected %d", store.ErrConflict, persistenceID, last, expectedSeq)
	}
	ids, ok := s.eventIDs[persistenceID]
	if !ok {
		ids = make(map[string]struct{})
		s.eventIDs[persistenceID] = ids
	}
	for _, e := range batch {
		if _, dup := ids[e.EventID]; dup {
			return nil, fmt.Errorf("%w: event id %q exists", store.ErrConflict, e.EventID)
		}
	}
	out := make([]store.EventRecord, 0, len(batch))
	for _, e := range batch {
		ids[e.EventID] = struct{}{}
		log = append(log, e)
		out = append(out, store.CloneEvent(e))
	}
	s.events[persistenceID] = log
	return out, nil
}

// ListEvents lists events after a given sequence.
func (s *Store) ListEvents(ctx context.Context, persistenceID string, afterSeq uint64, limit int) ([]store.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[persistenceID]
	if afterSeq >= uint64(len(log)) {
		return nil, nil
	}
	// Seq n lives at index n-1.
	tail := log[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]store.EventRecord, 0, len(tail))
	for _, e := range tail {
		out = append(out, store.CloneEvent(e))
	}
	return out, nil
}

// LastSeq returns the last sequence for a persistence id.
func (s *Store) LastSeq(ctx context.Context, persistenceID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events[persistenceID])), nil
}

// SaveSnapshot stores or replaces the snapshot at sn.Seq.
func (s *Store) SaveSnapshot(ctx context.Context, sn store.SnapshotRecord) error {
	if sn.PersistenceID == "" {
		return fmt.Errorf("%w: persistence id is empty", store.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.snapshots[sn.PersistenceID]
	if !ok {
		bucket = make(map[uint64]store.SnapshotRecord)
		s.snapshots[sn.PersistenceID] = bucket
	}
	bucket[sn.Seq] = store.CloneSnapshot(sn)
	return nil
}

// LoadSnapshot returns the newest snapshot at or before maxSeq.
func (s *Store) LoadSnapshot(ctx context.Context, persistenceID string, maxSeq uint64) (store.SnapshotRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  store.SnapshotRecord
		found bool
	)
	for seq, sn := range s.snapshots[persistenceID] {
		if seq > maxSeq {
			continue
		}
		if !found || seq > best.Seq {
			best, found = sn, true
		}
	}
	if !found {
		return store.SnapshotRecord{}, false, nil
	}
	return store.CloneSnapshot(best), true, nil
}
