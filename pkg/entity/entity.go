// Package entity runs event-sourced entities. Each entity owns one partition of
// the event log, rebuilds its state by replay before serving commands and
// changes state only after the events causing the change are durable.
//
// An entity handles one command at a time on its own worker goroutine. Commands
// are queued in arrival order in an unbounded mailbox, including those sent
// before Start or during recovery.
package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/journal/pkg/codec"
	"github.com/wilhg/journal/pkg/errmodel"
	"github.com/wilhg/journal/pkg/store"
)

// ErrStopped is returned for commands sent to a stopped entity.
var ErrStopped = errors.New("entity: stopped")

// Status is the lifecycle state of an entity.
type Status int32

const (
	StatusRecovering Status = iota
	StatusReady
	StatusPersisting
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRecovering:
		return "recovering"
	case StatusReady:
		return "ready"
	case StatusPersisting:
		return "persisting"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Config wires an entity to its behavior and stores.
type Config[S, E, C any] struct {
	PersistenceID string
	Behavior      Behavior[S, E, C]
	Events        store.EventStore
	// Snapshots is optional; without it snapshot requests fail.
	Snapshots  store.SnapshotStore
	EventCodec codec.Codec[E]
	StateCodec codec.Codec[S]
	Publisher  Publisher[E]
}

// Result describes the events persisted for one command.
type Result struct {
	FirstSeq uint64
	LastSeq  uint64
	Count    int
}

// View is a point-in-time copy of an entity's state.
type View[S any] struct {
	State  S
	Seq    uint64
	Status Status
}

// Entity is a single event-sourced entity.
type Entity[S, E, C any] struct {
	id         string
	behavior   Behavior[S, E, C]
	events     store.EventStore
	snapshots  store.SnapshotStore
	eventCodec codec.Codec[E]
	stateCodec codec.Codec[S]
	publisher  Publisher[E]
	opts       options
	log        *logrus.Entry
	tracer     trace.Tracer

	mbox      *mailbox[command]
	status    atomic.Int32
	startOnce sync.Once
	recovered chan struct{}
	done      chan struct{}
	err       error // written once before recovered is closed
	failure   atomic.Pointer[error]
	saves     sync.WaitGroup

	// Owned by the worker.
	state           S
	lastSeq         uint64
	lastSnapshotSeq uint64
}

// New constructs an entity. It does nothing until Start.
func New[S, E, C any](cfg Config[S, E, C], opts ...Option) (*Entity[S, E, C], error) {
	if cfg.PersistenceID == "" {
		return nil, errmodel.Validation("missing_persistence_id", "persistence id is empty", nil)
	}
	if cfg.Behavior == nil {
		return nil, errmodel.Validation("missing_behavior", "behavior is nil", map[string]any{"persistence_id": cfg.PersistenceID})
	}
	if cfg.Events == nil {
		return nil, errmodel.Validation("missing_event_store", "event store is nil", map[string]any{"persistence_id": cfg.PersistenceID})
	}
	o := options{log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(&o)
	}
	e := &Entity[S, E, C]{
		id:         cfg.PersistenceID,
		behavior:   cfg.Behavior,
		events:     cfg.Events,
		snapshots:  cfg.Snapshots,
		eventCodec: cfg.EventCodec,
		stateCodec: cfg.StateCodec,
		publisher:  cfg.Publisher,
		opts:       o,
		log:        o.log.WithField("persistence_id", cfg.PersistenceID),
		tracer:     otel.Tracer("entity"),
		mbox:       newMailbox[command](),
		recovered:  make(chan struct{}),
		done:       make(chan struct{}),
		state:      cfg.Behavior.InitialState(),
	}
	if e.eventCodec == nil {
		e.eventCodec = codec.JSON[E]{}
	}
	if e.stateCodec == nil {
		e.stateCodec = codec.JSON[S]{}
	}
	return e, nil
}

func (e *Entity[S, E, C]) ID() string { return e.id }

func (e *Entity[S, E, C]) Status() Status { return Status(e.status.Load()) }

// Start launches the worker, which recovers and then drains the mailbox.
// Only values of ctx are kept; use Stop to end the entity.
func (e *Entity[S, E, C]) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go e.run(context.WithoutCancel(ctx))
	})
}

// Recovered waits for recovery to finish and returns its error, if any.
func (e *Entity[S, E, C]) Recovered(ctx context.Context) error {
	select {
	case <-e.recovered:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the worker has exited.
func (e *Entity[S, E, C]) Done() <-chan struct{} { return e.done }

// Err returns the error that ended the entity: the recovery failure, a failed
// catch-up replay, or ErrStopped when it was stopped before it started.
func (e *Entity[S, E, C]) Err() error {
	select {
	case <-e.recovered:
	default:
		return nil
	}
	if e.err != nil {
		return e.err
	}
	if p := e.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Persist handles cmd and waits for its outcome. When ctx ends first the
// command may still be persisted; only commands not yet dequeued are dropped.
func (e *Entity[S, E, C]) Persist(ctx context.Context, cmd C) (Result, error) {
	c := &persistCommand[C]{ctx: ctx, cmd: cmd, reply: make(chan reply[Result], 1)}
	if err := e.send(c); err != nil {
		return Result{}, err
	}
	select {
	case r := <-c.reply:
		return r.val, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Tell queues cmd without waiting. Failures are logged.
func (e *Entity[S, E, C]) Tell(ctx context.Context, cmd C) error {
	return e.send(&persistCommand[C]{ctx: ctx, cmd: cmd})
}

// Snapshot captures the current state and saves it in the background.
// It returns the captured sequence number without waiting for the save.
func (e *Entity[S, E, C]) Snapshot(ctx context.Context) (uint64, error) {
	c := &snapshotCommand{ctx: ctx, reply: make(chan reply[uint64], 1)}
	if err := e.send(c); err != nil {
		return 0, err
	}
	select {
	case r := <-c.reply:
		return r.val, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Inspect returns a copy of the current state. It never touches the stores.
func (e *Entity[S, E, C]) Inspect(ctx context.Context) (View[S], error) {
	c := &inspectCommand[S]{ctx: ctx, reply: make(chan reply[View[S]], 1)}
	if err := e.send(c); err != nil {
		return View[S]{}, err
	}
	select {
	case r := <-c.reply:
		return r.val, r.err
	case <-ctx.Done():
		return View[S]{}, ctx.Err()
	}
}

// Stop stops accepting commands, lets the worker finish the queued ones and
// waits for in-flight snapshot saves.
func (e *Entity[S, E, C]) Stop(ctx context.Context) error {
	e.startOnce.Do(func() {
		e.err = ErrStopped
		e.status.Store(int32(StatusStopped))
		close(e.recovered)
		for _, c := range e.mbox.drain() {
			c.reject(ErrStopped)
		}
		close(e.done)
	})
	e.mbox.close()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	saved := make(chan struct{})
	go func() {
		e.saves.Wait()
		close(saved)
	}()
	select {
	case <-saved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Entity[S, E, C]) send(c command) error {
	if e.mbox.push(c) {
		return nil
	}
	if err := e.Err(); err != nil {
		return err
	}
	return ErrStopped
}

func (e *Entity[S, E, C]) run(ctx context.Context) {
	defer close(e.done)
	if err := e.replay(ctx); err != nil {
		e.err = err
		e.status.Store(int32(StatusFailed))
		close(e.recovered)
		for _, c := range e.mbox.drain() {
			c.reject(err)
		}
		return
	}
	e.status.Store(int32(StatusReady))
	close(e.recovered)

	for {
		c, ok := e.mbox.next()
		if !ok {
			break
		}
		if err := e.handle(ctx, c); err != nil {
			e.failure.Store(&err)
			e.status.Store(int32(StatusFailed))
			for _, c := range e.mbox.drain() {
				c.reject(err)
			}
			e.log.WithError(err).Error("entity failed")
			return
		}
	}
	e.status.Store(int32(StatusStopped))
	e.log.WithField("seq", e.lastSeq).Debug("entity stopped")
}

func (e *Entity[S, E, C]) replay(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "Entity.Recover", trace.WithAttributes(
		attribute.String("persistence.id", e.id),
	))
	defer span.End()

	e.status.Store(int32(StatusRecovering))
	rec, err := Replayer[S, E]{
		Reducer:    e.behavior,
		Events:     e.events,
		Snapshots:  e.snapshots,
		EventCodec: e.eventCodec,
		StateCodec: e.stateCodec,
		PageSize:   e.opts.pageSize,
	}.Replay(ctx, e.id, store.LatestSeq)
	if err != nil {
		span.RecordError(err)
		e.log.WithError(err).Error("recovery failed")
		return err
	}
	e.state = rec.State
	e.lastSeq = rec.Seq
	e.lastSnapshotSeq = rec.SnapshotSeq
	span.SetAttributes(
		attribute.Int64("entity.seq", int64(rec.Seq)),
		attribute.Int("entity.replayed", rec.Replayed),
	)
	e.log.WithFields(logrus.Fields{
		"seq":           rec.Seq,
		"snapshot_seq":  rec.SnapshotSeq,
		"from_snapshot": rec.FromSnapshot,
		"events":        rec.Replayed,
	}).Info("entity recovered")
	return nil
}

// handle runs one command. A non-nil return is fatal to the entity.
func (e *Entity[S, E, C]) handle(ctx context.Context, cmd command) error {
	if err := cmd.requestContext().Err(); err != nil {
		e.log.WithError(err).Debug("command abandoned before processing")
		cmd.reject(err)
		return nil
	}
	switch c := cmd.(type) {
	case *persistCommand[C]:
		res, err := e.persist(ctx, c)
		if ce := errmodel.From(err); ce != nil && ce.Code == "append_failed" {
			if rerr := e.resync(ctx); rerr != nil {
				err = rerr
			}
		}
		if c.reply != nil {
			c.reply <- reply[Result]{val: res, err: err}
		} else if err != nil {
			e.log.WithError(err).Warn("command failed")
		}
		if errmodel.Fatal(err) {
			return err
		}
	case *snapshotCommand:
		seq, err := e.snapshot(ctx)
		c.reply <- reply[uint64]{val: seq, err: err}
	case *inspectCommand[S]:
		c.reply <- reply[View[S]]{val: View[S]{
			State:  e.behavior.Copy(e.state),
			Seq:    e.lastSeq,
			Status: e.Status(),
		}}
	default:
		panic(fmt.Sprintf("entity: unexpected command %T", cmd))
	}
	return nil
}

// resync catches up with the log after a failed append. Another writer, or an
// append whose reply was lost after it committed, leaves the log past lastSeq;
// without a replay every later append would conflict.
func (e *Entity[S, E, C]) resync(ctx context.Context) error {
	last, err := e.events.LastSeq(ctx, e.id)
	if err != nil {
		e.log.WithError(err).Warn("could not check log after failed append")
		return nil
	}
	if last == e.lastSeq {
		return nil
	}
	e.log.WithFields(logrus.Fields{"seq": e.lastSeq, "log_seq": last}).Warn("log moved ahead, replaying")
	if err := e.replay(ctx); err != nil {
		return err
	}
	e.status.Store(int32(StatusReady))
	return nil
}

// persist runs decide, append, apply and publish for one command.
// The append is never cancelled once started.
func (e *Entity[S, E, C]) persist(ctx context.Context, c *persistCommand[C]) (Result, error) {
	ctx, span := e.tracer.Start(trace.ContextWithSpanContext(ctx, trace.SpanContextFromContext(c.ctx)), "Entity.Persist",
		trace.WithAttributes(attribute.String("persistence.id", e.id)))
	defer span.End()
	errCtx := map[string]any{"persistence_id": e.id, "seq": e.lastSeq}

	emits, err := e.behavior.Decide(e.state, c.cmd)
	if err != nil {
		return Result{}, errmodel.New(errmodel.CategoryValidation, "command_rejected", "command rejected", errCtx, err)
	}
	if len(emits) == 0 {
		return Result{LastSeq: e.lastSeq}, nil
	}
	records := make([]store.EventRecord, len(emits))
	for i, em := range emits {
		payload, err := e.eventCodec.Encode(em.Event)
		if err != nil {
			span.RecordError(err)
			return Result{}, errmodel.Persist("encode_failed", "could not encode event", errCtx, err)
		}
		records[i] = store.EventRecord{Type: eventType(em.Event), Payload: payload}
	}

	e.status.Store(int32(StatusPersisting))
	stored, err := e.events.Append(ctx, e.id, e.lastSeq, records)
	e.status.Store(int32(StatusReady))
	if err == nil && len(stored) != len(records) {
		err = fmt.Errorf("store returned %d of %d events", len(stored), len(records))
	}
	if err != nil {
		span.RecordError(err)
		e.log.WithError(err).WithField("seq", e.lastSeq).Warn("append failed")
		return Result{}, errmodel.Persist("append_failed", "events were not persisted", errCtx, err)
	}

	for i, em := range emits {
		e.state = e.behavior.Apply(e.state, em.Event)
		e.lastSeq = stored[i].Seq
		if em.Publish && e.publisher != nil {
			p := Published[E]{PersistenceID: e.id, Seq: stored[i].Seq, Event: em.Event}
			if err := e.publisher.Publish(ctx, p); err != nil {
				e.log.WithError(err).WithField("seq", p.Seq).Warn("publish failed")
			}
		}
	}
	span.SetAttributes(attribute.Int64("entity.seq", int64(e.lastSeq)), attribute.Int("entity.events", len(stored)))
	e.log.WithFields(logrus.Fields{"seq": e.lastSeq, "events": len(stored)}).Debug("events persisted")

	if n := e.opts.snapshotEvery; n > 0 && e.snapshots != nil && e.lastSeq-e.lastSnapshotSeq >= uint64(n) {
		if _, err := e.snapshot(ctx); err != nil {
			e.log.WithError(err).Warn("automatic snapshot failed")
		}
	}
	return Result{FirstSeq: stored[0].Seq, LastSeq: e.lastSeq, Count: len(stored)}, nil
}
