package entity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wilhg/journal/pkg/projection"
	"github.com/wilhg/journal/pkg/store"
	"github.com/wilhg/journal/pkg/store/memstore"
)

var errBoom = errors.New("boom")

type testCmd struct{ Data string }

type testEvt struct {
	Data string `json:"data"`
}

func (testEvt) EventType() string { return "evt" }

// testBehavior records the data of a command twice and publishes the second event.
type testBehavior struct {
	applied *atomic.Int64
}

func (testBehavior) InitialState() projection.Sequence { return projection.Sequence{} }

func (testBehavior) Decide(s projection.Sequence, c testCmd) ([]Emit[testEvt], error) {
	if c.Data == "" {
		return nil, errors.New("empty data")
	}
	n := s.Size()
	return []Emit[testEvt]{
		{Event: testEvt{Data: fmt.Sprintf("%s-%d", c.Data, n)}},
		{Event: testEvt{Data: fmt.Sprintf("%s-%d", c.Data, n+1)}, Publish: true},
	}, nil
}

func (b testBehavior) Apply(s projection.Sequence, ev testEvt) projection.Sequence {
	if b.applied != nil {
		b.applied.Add(1)
	}
	return s.Append(ev.Data)
}

func (testBehavior) Copy(s projection.Sequence) projection.Sequence { return s.Copy() }

type testEntity = Entity[projection.Sequence, testEvt, testCmd]

// flakyStore wraps a memstore and fails or blocks operations on demand.
type flakyStore struct {
	*memstore.Store
	failAppend   atomic.Bool
	failList     atomic.Bool
	failSnapshot atomic.Bool
	// loseReply commits appends but reports them as failed.
	loseReply atomic.Bool
	// listGate, when set, blocks ListEvents until closed.
	listGate chan struct{}
}

func newFlakyStore() *flakyStore { return &flakyStore{Store: memstore.New()} }

func (f *flakyStore) Append(ctx context.Context, id string, expectedSeq uint64, events []store.EventRecord) ([]store.EventRecord, error) {
	if f.failAppend.Load() {
		return nil, errBoom
	}
	stored, err := f.Store.Append(ctx, id, expectedSeq, events)
	if err == nil && f.loseReply.Load() {
		return nil, errBoom
	}
	return stored, err
}

func (f *flakyStore) ListEvents(ctx context.Context, id string, afterSeq uint64, limit int) ([]store.EventRecord, error) {
	if f.listGate != nil {
		<-f.listGate
	}
	if f.failList.Load() {
		return nil, errBoom
	}
	return f.Store.ListEvents(ctx, id, afterSeq, limit)
}

func (f *flakyStore) SaveSnapshot(ctx context.Context, sn store.SnapshotRecord) error {
	if f.failSnapshot.Load() {
		return errBoom
	}
	return f.Store.SaveSnapshot(ctx, sn)
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestEntity(t *testing.T, st store.Store, id string, opts ...Option) *testEntity {
	t.Helper()
	return newTestEntityWith(t, Config[projection.Sequence, testEvt, testCmd]{
		PersistenceID: id,
		Behavior:      testBehavior{},
		Events:        st,
		Snapshots:     st,
	}, opts...)
}

func newTestEntityWith(t *testing.T, cfg Config[projection.Sequence, testEvt, testCmd], opts ...Option) *testEntity {
	t.Helper()
	e, err := New(cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return e
}

func startRecovered(t *testing.T, e *testEntity) {
	t.Helper()
	e.Start(t.Context())
	if err := e.Recovered(t.Context()); err != nil {
		t.Fatalf("recovery: %v", err)
	}
}

func mustPersist(t *testing.T, e *testEntity, data string) Result {
	t.Helper()
	res, err := e.Persist(t.Context(), testCmd{Data: data})
	if err != nil {
		t.Fatalf("persist %q: %v", data, err)
	}
	return res
}

func mustInspect(t *testing.T, e *testEntity) View[projection.Sequence] {
	t.Helper()
	v, err := e.Inspect(t.Context())
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	return v
}

// snapshotWaiter collects snapshot results.
func snapshotWaiter() (Option, <-chan SnapshotResult) {
	ch := make(chan SnapshotResult, 16)
	return WithSnapshotObserver(func(r SnapshotResult) { ch <- r }), ch
}

func waitSnapshot(t *testing.T, ch <-chan SnapshotResult) SnapshotResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return SnapshotResult{}
	}
}
