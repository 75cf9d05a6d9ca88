package store

import (
	"context"
	"time"
)

// EventRecord is the persisted representation of an event.
// Payload holds the encoded event; its format belongs to the caller's codec.
type EventRecord struct {
	PersistenceID string
	Seq           uint64
	EventID       string
	Type          string
	Payload       []byte
	CreatedAt     time.Time
}

// SnapshotRecord stores a materialized state up to and including Seq.
type SnapshotRecord struct {
	PersistenceID string
	Seq           uint64
	SnapshotID    string
	State         []byte
	CreatedAt     time.Time
}

// EventStore defines operations for per-entity event logs.
type EventStore interface {
	// Append atomically appends events after expectedSeq and returns them with
	// their assigned sequence numbers. It fails with ErrConflict, writing nothing,
	// when the log does not end at expectedSeq or an EventID is already taken.
	Append(ctx context.Context, persistenceID string, expectedSeq uint64, events []EventRecord) ([]EventRecord, error)
	// ListEvents returns up to limit events with Seq > afterSeq in ascending order.
	// A limit <= 0 means no limit.
	ListEvents(ctx context.Context, persistenceID string, afterSeq uint64, limit int) ([]EventRecord, error)
	LastSeq(ctx context.Context, persistenceID string) (uint64, error)
}

// SnapshotStore defines operations for reading/writing snapshots.
type SnapshotStore interface {
	// SaveSnapshot stores s, replacing any snapshot with the same persistence id and Seq.
	SaveSnapshot(ctx context.Context, s SnapshotRecord) error
	// LoadSnapshot returns the snapshot with the highest Seq <= maxSeq.
	LoadSnapshot(ctx context.Context, persistenceID string, maxSeq uint64) (SnapshotRecord, bool, error)
}

// Store aggregates event and snapshot stores.
type Store interface {
	EventStore
	SnapshotStore
}
