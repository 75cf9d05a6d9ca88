// Package store defines persistence interfaces for events and snapshots.
// Implementations must provide identical semantics across backends
// to support deterministic replay and portability.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/google/uuid"
)

// LatestSeq is the largest sequence number accepted by every backend.
// Passing it as maxSeq selects the most recent snapshot.
const LatestSeq uint64 = math.MaxInt64

// DefaultPageSize is the page size ReadFrom uses when none is given.
const DefaultPageSize = 256

var (
	// ErrConflict reports a concurrent writer or a duplicate event id.
	ErrConflict = errors.New("store: conflict")
	// ErrInvalid reports a malformed request.
	ErrInvalid = errors.New("store: invalid request")
)

// PrepareBatch validates a batch for persistenceID and returns a copy with
// sequence numbers assigned after expectedSeq. Missing event ids and timestamps
// are filled in. Backends call it before writing anything.
func PrepareBatch(persistenceID string, expectedSeq uint64, events []EventRecord) ([]EventRecord, error) {
	if persistenceID == "" {
		return nil, fmt.Errorf("%w: persistence id is empty", ErrInvalid)
	}
	if expectedSeq+uint64(len(events)) > LatestSeq {
		return nil, fmt.Errorf("%w: sequence overflow", ErrInvalid)
	}
	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(events))
	out := make([]EventRecord, len(events))
	for i, e := range events {
		if e.PersistenceID != "" && e.PersistenceID != persistenceID {
			return nil, fmt.Errorf("%w: event %d belongs to %q", ErrInvalid, i, e.PersistenceID)
		}
		if e.EventID == "" {
			e.EventID = uuid.NewString()
		}
		if _, dup := seen[e.EventID]; dup {
			return nil, fmt.Errorf("%w: duplicate event id %q in batch", ErrConflict, e.EventID)
		}
		seen[e.EventID] = struct{}{}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.PersistenceID = persistenceID
		e.Seq = expectedSeq + uint64(i) + 1
		e.Payload = cloneBytes(e.Payload)
		out[i] = e
	}
	return out, nil
}

// ReadFrom lazily yields the events of persistenceID with Seq > afterSeq in
// ascending order, fetching pageSize events at a time. Iteration stops at the
// first error, which is yielded once. Restart from any offset by calling
// ReadFrom again with the last Seq seen.
func ReadFrom(ctx context.Context, es EventStore, persistenceID string, afterSeq uint64, pageSize int) iter.Seq2[EventRecord, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(EventRecord, error) bool) {
		cursor := afterSeq
		for {
			page, err := es.ListEvents(ctx, persistenceID, cursor, pageSize)
			if err != nil {
				yield(EventRecord{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				cursor = rec.Seq
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

// LoadLatest returns the most recent snapshot of persistenceID.
func LoadLatest(ctx context.Context, ss SnapshotStore, persistenceID string) (SnapshotRecord, bool, error) {
	return ss.LoadSnapshot(ctx, persistenceID, LatestSeq)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// CloneEvent returns e with its payload copied.
func CloneEvent(e EventRecord) EventRecord {
	e.Payload = cloneBytes(e.Payload)
	return e
}

// CloneSnapshot returns s with its state copied.
func CloneSnapshot(s SnapshotRecord) SnapshotRecord {
	s.State = cloneBytes(s.State)
	return s
}
