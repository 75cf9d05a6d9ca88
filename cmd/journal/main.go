// Command journal runs a script of commands against the sample entity.
//
//	journal [-version] [command ...]
//
// Each argument is one command: "snap" takes a snapshot, "print" writes the
// current state to stdout and anything else is recorded as data. Without
// arguments the script "foo baz bar snap buzz print" runs. The store and the
// entity are configured through JOURNAL_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/wilhg/journal/examples/sample"
	"github.com/wilhg/journal/pkg/config"
	"github.com/wilhg/journal/pkg/entity"
	"github.com/wilhg/journal/pkg/logging"
	otto "github.com/wilhg/journal/pkg/otel"
	"github.com/wilhg/journal/pkg/projection"
	"github.com/wilhg/journal/pkg/store"
	"github.com/wilhg/journal/pkg/store/entstore"
	"github.com/wilhg/journal/pkg/store/memstore"
	"github.com/wilhg/journal/pkg/store/redisstore"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

var defaultScript = []string{"foo", "baz", "bar", "snap", "buzz", "print"}

type sampleEntity = entity.Entity[projection.Sequence, sample.Event, sample.Command]

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("journal %s (commit=%s, date=%s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, flag.Args(), os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, script []string, stdout, stderr io.Writer) (err error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = version
	}
	shutdown, err := otto.Init(ctx, otto.Config{ServiceVersion: cfg.Version, UseStdout: cfg.TraceStdout, Writer: stderr})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	events, err := sample.EventCodec()
	if err != nil {
		return err
	}
	publishers := []entity.Publisher[sample.Event]{logPublisher{log: logger}}
	if rs, ok := st.(*redisstore.Store); ok {
		publishers = append(publishers, redisstore.NewPublisher(rs, events))
	}
	saved := newSnapshotWaits()

	reg := entity.NewRegistry(func(id string) (*sampleEntity, error) {
		return entity.New(entity.Config[projection.Sequence, sample.Event, sample.Command]{
			PersistenceID: id,
			Behavior:      sample.Behavior{},
			Events:        st,
			Snapshots:     st,
			EventCodec:    events,
			Publisher:     fanOut(publishers),
		},
			entity.WithLogger(log.NewEntry(logger)),
			entity.WithSnapshotEvery(cfg.SnapshotEvery),
			entity.WithReplayPageSize(cfg.ReplayPageSize),
			entity.WithSnapshotObserver(saved.observe),
		)
	})
	defer func() {
		if serr := reg.Stop(context.WithoutCancel(ctx)); serr != nil && err == nil {
			err = serr
		}
	}()

	e, err := reg.Get(ctx, cfg.PersistenceID)
	if err != nil {
		return err
	}
	if err := e.Recovered(ctx); err != nil {
		return err
	}
	if len(script) == 0 {
		script = defaultScript
	}
	for _, c := range script {
		if err := runCommand(ctx, e, c, saved, stdout); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	return nil
}

func runCommand(ctx context.Context, e *sampleEntity, c string, saved *snapshotWaits, stdout io.Writer) error {
	switch c {
	case "snap":
		seq, err := e.Snapshot(ctx)
		if err != nil {
			return err
		}
		return saved.wait(ctx, seq)
	case "print":
		v, err := e.Inspect(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, v.State.String())
		return err
	default:
		_, err := e.Persist(ctx, sample.Command{Data: c})
		return err
	}
}

// openStore picks a backend from cfg.StoreURL.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func() error, error) {
	url := cfg.StoreURL
	lower := strings.ToLower(url)
	switch {
	case url == "" || lower == "memory:":
		return memstore.New(), func() error { return nil }, nil
	case strings.HasPrefix(lower, "redis://") || strings.HasPrefix(lower, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return redisstore.New(client, redisstore.WithPrefix(cfg.RedisPrefix)), client.Close, nil
	default:
		st, err := entstore.Open(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		return st, st.Close, nil
	}
}

// snapshotWaits hands snapshot results to the "snap" command waiting for them.
// Results are kept per seq until a wait at that seq or later collects them.
type snapshotWaits struct {
	mu      sync.Mutex
	results map[uint64]chan error
}

func newSnapshotWaits() *snapshotWaits {
	return &snapshotWaits{results: map[uint64]chan error{}}
}

func (w *snapshotWaits) slot(seq uint64) chan error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.results[seq]
	if !ok {
		ch = make(chan error, 1)
		w.results[seq] = ch
	}
	return ch
}

func (w *snapshotWaits) observe(r entity.SnapshotResult) {
	// The first result at a seq is enough; the state saved is the same.
	select {
	case w.slot(r.Seq) <- r.Err:
	default:
	}
}

// wait blocks until a save at seq has finished and forgets all results up to seq.
func (w *snapshotWaits) wait(ctx context.Context, seq uint64) error {
	ch := w.slot(seq)
	defer func() {
		w.mu.Lock()
		for s := range w.results {
			if s <= seq {
				delete(w.results, s)
			}
		}
		w.mu.Unlock()
	}()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logPublisher logs every published event.
type logPublisher struct {
	log *log.Logger
}

func (p logPublisher) Publish(ctx context.Context, pub entity.Published[sample.Event]) error {
	p.log.WithFields(log.Fields{
		"persistence_id": pub.PersistenceID,
		"seq":            pub.Seq,
		"data":           pub.Event.Data,
	}).Info("event published")
	return nil
}

func fanOut(ps []entity.Publisher[sample.Event]) entity.Publisher[sample.Event] {
	return entity.PublisherFunc[sample.Event](func(ctx context.Context, pub entity.Published[sample.Event]) error {
		var errs []error
		for _, p := range ps {
			if err := p.Publish(ctx, pub); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
