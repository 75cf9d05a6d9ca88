// Package eval checks recorded entities and scripted scenarios against the
// guarantees of the entity runtime.
package eval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/wilhg/journal/pkg/entity"
	"github.com/wilhg/journal/pkg/store"
)

// Verification compares a replay of the whole log with a replay that starts
// from the latest snapshot.
type Verification struct {
	Equal        bool
	Diff         string
	Seq          uint64
	SnapshotSeq  uint64
	FromSnapshot bool
}

// VerifyReplay replays persistenceID twice, once ignoring snapshots, and
// reports whether both states match. States are compared on their JSON form;
// when they differ Diff lists lines of the full replay with "-" and lines of
// the snapshot replay with "+".
func VerifyReplay[S, E any](ctx context.Context, r entity.Replayer[S, E], persistenceID string) (Verification, error) {
	full := r
	full.Snapshots = nil
	a, err := full.Replay(ctx, persistenceID, store.LatestSeq)
	if err != nil {
		return Verification{}, err
	}
	b, err := r.Replay(ctx, persistenceID, store.LatestSeq)
	if err != nil {
		return Verification{}, err
	}
	va, err := newStateView(a.Seq, a.State)
	if err != nil {
		return Verification{}, err
	}
	vb, err := newStateView(b.Seq, b.State)
	if err != nil {
		return Verification{}, err
	}
	v := Verification{
		Equal:        cmp.Equal(va, vb),
		Seq:          a.Seq,
		SnapshotSeq:  b.SnapshotSeq,
		FromSnapshot: b.FromSnapshot,
	}
	if !v.Equal {
		v.Diff = cmp.Diff(va, vb)
	}
	return v, nil
}

// stateView is a replay outcome reduced to plain JSON values.
type stateView struct {
	Seq   uint64
	State any
}

func newStateView(seq uint64, state any) (stateView, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return stateView{}, fmt.Errorf("render state: %w", err)
	}
	var plain any
	if err := json.Unmarshal(b, &plain); err != nil {
		return stateView{}, fmt.Errorf("render state: %w", err)
	}
	return stateView{Seq: seq, State: plain}, nil
}
