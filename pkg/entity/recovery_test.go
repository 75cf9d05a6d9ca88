package entity

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/wilhg/journal/pkg/codec"
	"github.com/wilhg/journal/pkg/errmodel"
	"github.com/wilhg/journal/pkg/projection"
	"github.com/wilhg/journal/pkg/store"
	"github.com/wilhg/journal/pkg/store/memstore"
)

// seedLog appends one event per item and snapshots after the first k events.
func seedLog(ctx context.Context, st store.Store, id string, items []string, k int) error {
	state := projection.Sequence{}
	var c codec.JSON[testEvt]
	for i, it := range items {
		b, err := c.Encode(testEvt{Data: it})
		if err != nil {
			return err
		}
		if _, err := st.Append(ctx, id, uint64(i), []store.EventRecord{{Type: "evt", Payload: b}}); err != nil {
			return err
		}
		state = state.Append(it)
		if i+1 == k {
			sb, err := codec.JSON[projection.Sequence]{}.Encode(state.Copy())
			if err != nil {
				return err
			}
			if err := st.SaveSnapshot(ctx, store.SnapshotRecord{PersistenceID: id, Seq: uint64(k), State: sb}); err != nil {
				return err
			}
		}
	}
	return nil
}

func TestReplay_SnapshotPlusTailEqualsFullReplay_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	n := 0
	properties.Property("snapshot at k plus replay of k+1..n equals replay of 1..n", prop.ForAll(
		func(items []string, k int) bool {
			ctx := context.Background()
			if k > len(items) {
				k = len(items)
			}
			n++
			id := fmt.Sprintf("prop-%d", n)
			st := memstore.New()
			if err := seedLog(ctx, st, id, items, k); err != nil {
				t.Logf("seed: %v", err)
				return false
			}
			full, err := Replayer[projection.Sequence, testEvt]{Reducer: testBehavior{}, Events: st}.
				Replay(ctx, id, store.LatestSeq)
			if err != nil {
				return false
			}
			fromSnap, err := Replayer[projection.Sequence, testEvt]{Reducer: testBehavior{}, Events: st, Snapshots: st, PageSize: 3}.
				Replay(ctx, id, store.LatestSeq)
			if err != nil {
				return false
			}
			if k > 0 && (!fromSnap.FromSnapshot || fromSnap.SnapshotSeq != uint64(k) || fromSnap.Replayed != len(items)-k) {
				return false
			}
			return full.State.Equal(fromSnap.State) && full.Seq == fromSnap.Seq && full.Seq == uint64(len(items))
		},
		gen.SliceOf(gen.Identifier()),
		gen.IntRange(0, 20),
	))
	properties.TestingRun(t)
}

func TestReplay_BoundedBySeq(t *testing.T) {
	ctx := t.Context()
	st := memstore.New()
	if err := seedLog(ctx, st, "p", []string{"a", "b", "c", "d", "e"}, 4); err != nil {
		t.Fatal(err)
	}
	r := Replayer[projection.Sequence, testEvt]{Reducer: testBehavior{}, Events: st, Snapshots: st}

	rec, err := r.Replay(ctx, "p", 3)
	if err != nil {
		t.Fatal(err)
	}
	if rec.FromSnapshot || rec.Seq != 3 || rec.State.String() != "[a, b, c]" {
		t.Fatalf("bounded replay=%+v state=%s", rec, rec.State)
	}
	rec, err = r.Replay(ctx, "p", 4)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.FromSnapshot || rec.Replayed != 0 || rec.State.Size() != 4 {
		t.Fatalf("replay at snapshot=%+v", rec)
	}
}

// gappyLog hides one sequence number from readers.
type gappyLog struct {
	*memstore.Store
	hide uint64
}

func (g gappyLog) ListEvents(ctx context.Context, id string, afterSeq uint64, limit int) ([]store.EventRecord, error) {
	evs, err := g.Store.ListEvents(ctx, id, afterSeq, limit)
	out := evs[:0]
	for _, e := range evs {
		if e.Seq != g.hide {
			out = append(out, e)
		}
	}
	return out, err
}

func TestReplay_DetectsSequenceGap(t *testing.T) {
	ctx := t.Context()
	st := memstore.New()
	if err := seedLog(ctx, st, "p", []string{"a", "b", "c"}, 0); err != nil {
		t.Fatal(err)
	}
	_, err := Replayer[projection.Sequence, testEvt]{Reducer: testBehavior{}, Events: gappyLog{Store: st, hide: 2}}.
		Replay(ctx, "p", store.LatestSeq)
	if !errmodel.Fatal(err) || errmodel.From(err).Code != "sequence_gap" {
		t.Fatalf("err=%v want sequence_gap", err)
	}
}

func TestReplay_UndecodableSnapshotFails(t *testing.T) {
	ctx := t.Context()
	st := memstore.New()
	if err := st.SaveSnapshot(ctx, store.SnapshotRecord{PersistenceID: "p", Seq: 1, State: []byte("{not json")}); err != nil {
		t.Fatal(err)
	}
	_, err := Replayer[projection.Sequence, testEvt]{Reducer: testBehavior{}, Events: st, Snapshots: st}.
		Replay(ctx, "p", store.LatestSeq)
	if errmodel.From(err).Code != "snapshot_decode_failed" {
		t.Fatalf("err=%v", err)
	}
}
