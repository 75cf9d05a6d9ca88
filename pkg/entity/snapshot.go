package entity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/journal/pkg/errmodel"
	"github.com/wilhg/journal/pkg/store"
)

// SnapshotResult reports the outcome of one snapshot save.
type SnapshotResult struct {
	PersistenceID string
	Seq           uint64
	SnapshotID    string
	Err           error
}

// snapshot captures a copy of the state and saves it on its own goroutine.
func (e *Entity[S, E, C]) snapshot(ctx context.Context) (uint64, error) {
	if e.snapshots == nil {
		return 0, errmodel.Snapshot("disabled", "no snapshot store configured", map[string]any{"persistence_id": e.id}, nil)
	}
	seq := e.lastSeq
	state := e.behavior.Copy(e.state)
	e.lastSnapshotSeq = seq
	e.saves.Add(1)
	go func() {
		defer e.saves.Done()
		e.saveSnapshot(ctx, seq, state)
	}()
	return seq, nil
}

func (e *Entity[S, E, C]) saveSnapshot(ctx context.Context, seq uint64, state S) {
	ctx, span := e.tracer.Start(ctx, "Entity.SaveSnapshot", trace.WithAttributes(
		attribute.String("persistence.id", e.id),
		attribute.Int64("entity.seq", int64(seq)),
	))
	defer span.End()

	res := SnapshotResult{PersistenceID: e.id, Seq: seq, SnapshotID: uuid.NewString()}
	errCtx := map[string]any{"persistence_id": e.id, "seq": seq}
	data, err := e.stateCodec.Encode(state)
	if err != nil {
		res.Err = errmodel.Snapshot("encode_failed", "could not encode state", errCtx, err)
	} else if err := e.snapshots.SaveSnapshot(ctx, store.SnapshotRecord{
		PersistenceID: e.id,
		Seq:           seq,
		SnapshotID:    res.SnapshotID,
		State:         data,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		res.Err = errmodel.Snapshot("save_failed", "could not save snapshot", errCtx, err)
	}

	log := e.log.WithFields(logrus.Fields{"seq": seq, "snapshot_id": res.SnapshotID})
	if res.Err != nil {
		span.RecordError(res.Err)
		log.WithError(res.Err).Warn("snapshot failed")
	} else {
		log.Info("snapshot saved")
	}
	if e.opts.observer != nil {
		e.opts.observer(res)
	}
}
