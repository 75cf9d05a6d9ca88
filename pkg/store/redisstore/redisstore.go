// Package redisstore implements store.Store on Redis. Each persistence id owns a
// list of encoded events (Seq n lives at index n-1), a set of used event ids,
// a hash of snapshots keyed by sequence and a sorted index over that hash.
// The keys of one id share the hash tag {id}, so scripts and transactions over
// them stay in one cluster slot.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wilhg/journal/pkg/store"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "journal"

// appendScript checks the expected length and the event ids before pushing,
// so a rejected batch leaves no trace.
// KEYS[1] event list, KEYS[2] event id set.
// ARGV[1] expected length, then pairs of (event id, envelope).
var appendScript = redis.NewScript(`
local n = redis.call('LLEN', KEYS[1])
if n ~= tonumber(ARGV[1]) then
  return redis.error_reply('CONFLICT sequence ' .. n)
end
for i = 2, #ARGV, 2 do
  if redis.call('SISMEMBER', KEYS[2], ARGV[i]) == 1 then
    return redis.error_reply('CONFLICT event ' .. ARGV[i])
  end
end
for i = 2, #ARGV, 2 do
  redis.call('SADD', KEYS[2], ARGV[i])
  redis.call('RPUSH', KEYS[1], ARGV[i + 1])
end
return n
`)

// Store implements store.Store on a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New wraps client. The caller keeps ownership of the client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

type eventEnvelope struct {
	Seq       uint64 `json:"seq"`
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Payload   []byte `json:"payload,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

type snapshotEnvelope struct {
	SnapshotID string `json:"snapshot_id"`
	State      []byte `json:"state,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

func (s *Store) key(id, kind string) string { return s.prefix + ":{" + id + "}:" + kind }

func (s *Store) eventsKey(id string) string    { return s.key(id, "events") }
func (s *Store) eventIDsKey(id string) string  { return s.key(id, "event-ids") }
func (s *Store) snapshotsKey(id string) string { return s.key(id, "snapshots") }
func (s *Store) snapIndexKey(id string) string { return s.key(id, "snapshot-index") }

// Append runs the append script; the batch lands atomically or not at all.
func (s *Store) Append(ctx context.Context, persistenceID string, expectedSeq uint64, events []store.EventRecord) ([]store.EventRecord, error) {
	if len(events) == 0 {
		return nil, nil
	}
	batch, err := store.PrepareBatch(persistenceID, expectedSeq, events)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, 1+2*len(batch))
	args = append(args, strconv.FormatUint(expectedSeq, 10))
	for _, e := range batch {
		b, err := json.Marshal(eventEnvelope{
			Seq:       e.Seq,
			EventID:   e.EventID,
			Type:      e.Type,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt.UnixNano(),
		})
		if err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}
		args = append(args, e.EventID, b)
	}
	keys := []string{s.eventsKey(persistenceID), s.eventIDsKey(persistenceID)}
	if err := appendScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		if strings.HasPrefix(err.Error(), "CONFLICT") {
			return nil, fmt.Errorf("%w: %s: %v", store.ErrConflict, persistenceID, err)
		}
		return nil, err
	}
	return batch, nil
}

// ListEvents reads a range of the event list.
func (s *Store) ListEvents(ctx context.Context, persistenceID string, afterSeq uint64, limit int) ([]store.EventRecord, error) {
	if afterSeq >= store.LatestSeq {
		return nil, nil
	}
	start := int64(afterSeq)
	stop := int64(-1)
	if limit > 0 {
		stop = start + int64(limit) - 1
	}
	raw, err := s.client.LRange(ctx, s.eventsKey(persistenceID), start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]store.EventRecord, 0, len(raw))
	for _, r := range raw {
		var env eventEnvelope
		if err := json.Unmarshal([]byte(r), &env); err != nil {
			return nil, fmt.Errorf("decode event of %s: %w", persistenceID, err)
		}
		out = append(out, store.EventRecord{
			PersistenceID: persistenceID,
			Seq:           env.Seq,
			EventID:       env.EventID,
			Type:          env.Type,
			Payload:       env.Payload,
			CreatedAt:     time.Unix(0, env.CreatedAt).UTC(),
		})
	}
	return out, nil
}

// LastSeq returns the length of the event list.
func (s *Store) LastSeq(ctx context.Context, persistenceID string) (uint64, error) {
	n, err := s.client.LLen(ctx, s.eventsKey(persistenceID)).Result()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// SaveSnapshot writes the snapshot and its index entry in one MULTI/EXEC.
func (s *Store) SaveSnapshot(ctx context.Context, sn store.SnapshotRecord) error {
	if sn.PersistenceID == "" {
		return fmt.Errorf("%w: persistence id is empty", store.ErrInvalid)
	}
	created := sn.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	b, err := json.Marshal(snapshotEnvelope{SnapshotID: sn.SnapshotID, State: sn.State, CreatedAt: created.UnixNano()})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	field := strconv.FormatUint(sn.Seq, 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.snapshotsKey(sn.PersistenceID), field, b)
		pipe.ZAdd(ctx, s.snapIndexKey(sn.PersistenceID), redis.Z{Score: float64(sn.Seq), Member: field})
		return nil
	})
	return err
}

// LoadSnapshot finds the highest indexed seq <= maxSeq and reads it.
func (s *Store) LoadSnapshot(ctx context.Context, persistenceID string, maxSeq uint64) (store.SnapshotRecord, bool, error) {
	upper := "+inf"
	if maxSeq < store.LatestSeq {
		upper = strconv.FormatUint(maxSeq, 10)
	}
	members, err := s.client.ZRevRangeByScore(ctx, s.snapIndexKey(persistenceID), &redis.ZRangeBy{
		Max:   upper,
		Min:   "-inf",
		Count: 1,
	}).Result()
	if err != nil {
		return store.SnapshotRecord{}, false, err
	}
	if len(members) == 0 {
		return store.SnapshotRecord{}, false, nil
	}
	raw, err := s.client.HGet(ctx, s.snapshotsKey(persistenceID), members[0]).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.SnapshotRecord{}, false, nil
	}
	if err != nil {
		return store.SnapshotRecord{}, false, err
	}
	var env snapshotEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return store.SnapshotRecord{}, false, fmt.Errorf("decode snapshot of %s: %w", persistenceID, err)
	}
	seq, err := strconv.ParseUint(members[0], 10, 64)
	if err != nil {
		return store.SnapshotRecord{}, false, fmt.Errorf("snapshot index of %s: %w", persistenceID, err)
	}
	return store.SnapshotRecord{
		PersistenceID: persistenceID,
		Seq:           seq,
		SnapshotID:    env.SnapshotID,
		State:         env.State,
		CreatedAt:     time.Unix(0, env.CreatedAt).UTC(),
	}, true, nil
}
