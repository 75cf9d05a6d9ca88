// Package storetest holds a conformance suite shared by every store.Store
// backend so that replay behaves identically regardless of the storage used.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wilhg/journal/pkg/store"
)

// Run exercises st against the store contract. Persistence ids are derived
// from the test name so backends sharing a database across tests stay isolated.
func Run(t *testing.T, st store.Store) {
	t.Helper()
	t.Run("AppendAssignsContiguousSeq", func(t *testing.T) { testAppendAssignsSeq(t, st) })
	t.Run("AppendConflictWritesNothing", func(t *testing.T) { testAppendConflict(t, st) })
	t.Run("AtomicBatchWithDuplicateEventID", func(t *testing.T) { testAtomicBatch(t, st) })
	t.Run("EmptyBatchIsNoop", func(t *testing.T) { testEmptyBatch(t, st) })
	t.Run("ListEventsAfterAndLimit", func(t *testing.T) { testListEvents(t, st) })
	t.Run("ReadFromPages", func(t *testing.T) { testReadFrom(t, st) })
	t.Run("PartitionsAreIsolated", func(t *testing.T) { testPartitions(t, st) })
	t.Run("SnapshotAtOrBefore", func(t *testing.T) { testSnapshotAtOrBefore(t, st) })
	t.Run("SnapshotReplaceSameSeq", func(t *testing.T) { testSnapshotReplace(t, st) })
	t.Run("SnapshotMissing", func(t *testing.T) { testSnapshotMissing(t, st) })
}

func pid(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func events(n int, prefix string) []store.EventRecord {
	out := make([]store.EventRecord, n)
	for i := range out {
		out[i] = store.EventRecord{
			Type:    "test",
			Payload: []byte(fmt.Sprintf(`{"data":"%s-%d"}`, prefix, i)),
		}
	}
	return out
}

func mustAppend(t *testing.T, st store.Store, id string, expected uint64, evs []store.EventRecord) []store.EventRecord {
	t.Helper()
	out, err := st.Append(context.Background(), id, expected, evs)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return out
}

func testAppendAssignsSeq(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := pid(t)
	first := mustAppend(t, st, id, 0, events(2, "a"))
	if first[0].Seq != 1 || first[1].Seq != 2 {
		t.Fatalf("seqs=%d,%d want 1,2", first[0].Seq, first[1].Seq)
	}
	second := mustAppend(t, st, id, 2, events(1, "b"))
	if second[0].Seq != 3 {
		t.Fatalf("seq=%d want 3", second[0].Seq)
	}
	if second[0].EventID == "" {
		t.Fatal("event id not assigned")
	}
	last, err := st.LastSeq(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if last != 3 {
		t.Fatalf("last=%d want 3", last)
	}
	got, err := st.ListEvents(ctx, id, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got[2].Payload) != `{"data":"b-0"}` {
		t.Fatalf("payload=%s", got[2].Payload)
	}
}

func testAppendConflict(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := pid(t)
	mustAppend(t, st, id, 0, events(2, "a"))
	_, err := st.Append(ctx, id, 1, events(2, "stale"))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err=%v want ErrConflict", err)
	}
	last, err := st.LastSeq(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if last != 2 {
		t.Fatalf("last=%d want 2 after conflict", last)
	}
}

func testAtomicBatch(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := pid(t)
	mustAppend(t, st, id, 0, []store.EventRecord{{EventID: id + "-taken", Type: "test"}})
	batch := []store.EventRecord{
		{EventID: id + "-fresh", Type: "test"},
		{EventID: id + "-taken", Type: "test"},
	}
	if _, err := st.Append(ctx, id, 1, batch); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err=%v want ErrConflict", err)
	}
	got, err := st.ListEvents(ctx, id, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len=%d want 1: failed batch must not be visible", len(got))
	}
	// The fresh id of the rejected batch is still available.
	out := mustAppend(t, st, id, 1, []store.EventRecord{{EventID: id + "-fresh", Type: "test"}})
	if out[0].Seq != 2 {
		t.Fatalf("seq=%d want 2", out[0].Seq)
	}
}

func testEmptyBatch(t *testing.T, st store.Store) {
	id := pid(t)
	out, err := st.Append(context.Background(), id, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("len=%d want 0", len(out))
	}
}

func testListEvents(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := pid(t)
	mustAppend(t, st, id, 0, events(5, "a"))
	got, err := st.ListEvents(ctx, id, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Seq != 3 || got[1].Seq != 4 {
		t.Fatalf("unexpected page: %+v", got)
	}
	got, err = st.ListEvents(ctx, id, 5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("len=%d want 0 past the end", len(got))
	}
}

func testReadFrom(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := pid(t)
	mustAppend(t, st, id, 0, events(3, "a"))
	mustAppend(t, st, id, 3, events(4, "b"))
	var want uint64 = 3
	for rec, err := range store.ReadFrom(ctx, st, id, 2, 2) {
		if err != nil {
			t.Fatal(err)
		}
		if rec.Seq != want {
			t.Fatalf("seq=%d want %d", rec.Seq, want)
		}
		want++
	}
	if want != 8 {
		t.Fatalf("stopped at %d want 8", want)
	}
}

func testPartitions(t *testing.T, st store.Store) {
	ctx := context.Background()
	a, b := pid(t)+"-a", pid(t)+"-b"
	mustAppend(t, st, a, 0, events(2, "a"))
	out := mustAppend(t, st, b, 0, events(1, "b"))
	if out[0].Seq != 1 {
		t.Fatalf("seq=%d want 1 in a fresh partition", out[0].Seq)
	}
	got, err := st.ListEvents(ctx, b, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PersistenceID != b {
		t.Fatalf("unexpected events for %s: %+v", b, got)
	}
}

func testSnapshotAtOrBefore(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := pid(t)
	for _, seq := range []uint64{2, 4, 6} {
		err := st.SaveSnapshot(ctx, store.SnapshotRecord{
			PersistenceID: id,
			Seq:           seq,
			SnapshotID:    fmt.Sprintf("%s-%d", id, seq),
			State:         []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	sn, ok, err := store.LoadLatest(ctx, st, id)
	if err != nil || !ok {
		t.Fatalf("load latest: ok=%v err=%v", ok, err)
	}
	if sn.Seq != 6 || string(sn.State) != `{"seq":6}` {
		t.Fatalf("latest=%+v want seq 6", sn)
	}
	sn, ok, err = st.LoadSnapshot(ctx, id, 5)
	if err != nil || !ok {
		t.Fatalf("load <=5: ok=%v err=%v", ok, err)
	}
	if sn.Seq != 4 {
		t.Fatalf("seq=%d want 4", sn.Seq)
	}
	if _, ok, _ := st.LoadSnapshot(ctx, id, 1); ok {
		t.Fatal("no snapshot expected at or before 1")
	}
}

func testSnapshotReplace(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := pid(t)
	for i, state := range []string{`{"v":1}`, `{"v":2}`} {
		err := st.SaveSnapshot(ctx, store.SnapshotRecord{
			PersistenceID: id,
			Seq:           3,
			SnapshotID:    fmt.Sprintf("%s-%d", id, i),
			State:         []byte(state),
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	sn, ok, err := store.LoadLatest(ctx, st, id)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if string(sn.State) != `{"v":2}` {
		t.Fatalf("state=%s want the replacement", sn.State)
	}
}

func testSnapshotMissing(t *testing.T, st store.Store) {
	_, ok, err := store.LoadLatest(context.Background(), st, pid(t))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("unexpected snapshot")
	}
}
