package entity

import (
	"context"
	"fmt"

	"github.com/wilhg/journal/pkg/codec"
	"github.com/wilhg/journal/pkg/errmodel"
	"github.com/wilhg/journal/pkg/store"
)

// Replayer rebuilds a state from the latest usable snapshot and the events after it.
type Replayer[S, E any] struct {
	Reducer   Reducer[S, E]
	Events    store.EventStore
	Snapshots store.SnapshotStore // optional
	// Codecs default to JSON.
	EventCodec codec.Codec[E]
	StateCodec codec.Codec[S]
	PageSize   int
}

// Recovery is the outcome of a replay.
type Recovery[S any] struct {
	State        S
	Seq          uint64
	SnapshotSeq  uint64
	FromSnapshot bool
	// Replayed counts the events applied on top of the snapshot.
	Replayed int
}

// Replay rebuilds the state of persistenceID up to toSeq. Pass store.LatestSeq
// for the full log. Every failure is a recovery error and no partial state is returned.
func (r Replayer[S, E]) Replay(ctx context.Context, persistenceID string, toSeq uint64) (Recovery[S], error) {
	errCtx := map[string]any{"persistence_id": persistenceID}
	out := Recovery[S]{State: r.Reducer.InitialState()}

	if r.Snapshots != nil {
		sn, ok, err := r.Snapshots.LoadSnapshot(ctx, persistenceID, toSeq)
		if err != nil {
			return Recovery[S]{}, errmodel.Recovery("snapshot_load_failed", "could not load snapshot", errCtx, err)
		}
		if ok {
			st, err := r.stateCodec().Decode(sn.State)
			if err != nil {
				errCtx["seq"] = sn.Seq
				return Recovery[S]{}, errmodel.Recovery("snapshot_decode_failed", "could not decode snapshot", errCtx, err)
			}
			out.State = st
			out.Seq = sn.Seq
			out.SnapshotSeq = sn.Seq
			out.FromSnapshot = true
		}
	}
	if out.Seq >= toSeq {
		return out, nil
	}

	events := r.eventCodec()
	for rec, err := range store.ReadFrom(ctx, r.Events, persistenceID, out.Seq, r.PageSize) {
		if err != nil {
			errCtx["seq"] = out.Seq
			return Recovery[S]{}, errmodel.Recovery("read_failed", "could not read events", errCtx, err)
		}
		if rec.Seq > toSeq {
			break
		}
		if rec.Seq != out.Seq+1 {
			errCtx["seq"] = rec.Seq
			return Recovery[S]{}, errmodel.Recovery("sequence_gap", fmt.Sprintf("expected seq %d", out.Seq+1), errCtx, nil)
		}
		ev, err := events.Decode(rec.Payload)
		if err != nil {
			errCtx["seq"] = rec.Seq
			return Recovery[S]{}, errmodel.Recovery("event_decode_failed", "could not decode event", errCtx, err)
		}
		out.State = r.Reducer.Apply(out.State, ev)
		out.Seq = rec.Seq
		out.Replayed++
	}
	return out, nil
}

func (r Replayer[S, E]) eventCodec() codec.Codec[E] {
	if r.EventCodec != nil {
		return r.EventCodec
	}
	return codec.JSON[E]{}
}

func (r Replayer[S, E]) stateCodec() codec.Codec[S] {
	if r.StateCodec != nil {
		return r.StateCodec
	}
	return codec.JSON[S]{}
}
