package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/wilhg/journal/pkg/entity"
	"github.com/wilhg/journal/pkg/store"
	"github.com/wilhg/journal/pkg/store/memstore"
)

// Scenario is one scripted run against a fresh entity.
// Commands "snap" and "restart" request a snapshot and restart the entity;
// any other command is handed to Target.Command.
type Scenario struct {
	Name          string      `json:"name"`
	PersistenceID string      `json:"persistence_id"`
	Commands      []string    `json:"commands"`
	Expect        Expectation `json:"expect"`
}

type Expectation struct {
	State       []string `json:"state"`
	Seq         *uint64  `json:"seq,omitempty"`
	SnapshotSeq *uint64  `json:"snapshot_seq,omitempty"`
}

// Target describes the entity under evaluation.
type Target[S, E, C any] struct {
	Behavior entity.Behavior[S, E, C]
	Command  func(string) C
	Render   func(S) []string
	// NewStore defaults to an in-memory store.
	NewStore func() store.Store
	Options  []entity.Option
}

// EvaluateScenarios loads scenarios from the json files of dir, runs each of
// them and returns the share that met its expectations.
func EvaluateScenarios[S, E, C any](ctx context.Context, fsys fs.FS, dir string, tgt Target[S, E, C]) (score float64, total int, passed int, details []string, err error) {
	scenarios, err := loadScenarios(fsys, dir)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	total = len(scenarios)
	if total == 0 {
		return 1, 0, 0, nil, nil
	}
	for _, sc := range scenarios {
		problems := runScenario(ctx, sc, tgt)
		if len(problems) == 0 {
			passed++
			continue
		}
		for _, p := range problems {
			details = append(details, sc.Name+": "+p)
		}
	}
	score = float64(passed) / float64(total)
	return score, total, passed, details, nil
}

func runScenario[S, E, C any](ctx context.Context, sc Scenario, tgt Target[S, E, C]) []string {
	var st store.Store = memstore.New()
	if tgt.NewStore != nil {
		st = tgt.NewStore()
	}
	id := sc.PersistenceID
	if id == "" {
		id = sc.Name
	}
	start := func() (*entity.Entity[S, E, C], error) {
		e, err := entity.New(entity.Config[S, E, C]{
			PersistenceID: id,
			Behavior:      tgt.Behavior,
			Events:        st,
			Snapshots:     st,
		}, tgt.Options...)
		if err != nil {
			return nil, err
		}
		e.Start(ctx)
		return e, e.Recovered(ctx)
	}

	e, err := start()
	if err != nil {
		return []string{"start: " + err.Error()}
	}
	defer func() { _ = e.Stop(ctx) }()
	for i, c := range sc.Commands {
		switch c {
		case "snap":
			_, err = e.Snapshot(ctx)
		case "restart":
			if err = e.Stop(ctx); err == nil {
				e, err = start()
			}
		default:
			_, err = e.Persist(ctx, tgt.Command(c))
		}
		if err != nil {
			return []string{fmt.Sprintf("command %d (%s): %v", i, c, err)}
		}
	}

	view, err := e.Inspect(ctx)
	if err != nil {
		return []string{"inspect: " + err.Error()}
	}
	var problems []string
	if got := tgt.Render(view.State); !slices.Equal(got, sc.Expect.State) {
		problems = append(problems, fmt.Sprintf("state [%s] want [%s]", strings.Join(got, ", "), strings.Join(sc.Expect.State, ", ")))
	}
	if want := sc.Expect.Seq; want != nil && view.Seq != *want {
		problems = append(problems, fmt.Sprintf("seq %d want %d", view.Seq, *want))
	}
	if want := sc.Expect.SnapshotSeq; want != nil {
		// Stop waits for pending snapshot saves.
		if err := e.Stop(ctx); err != nil {
			return append(problems, "stop: "+err.Error())
		}
		sn, ok, err := store.LoadLatest(ctx, st, id)
		switch {
		case err != nil:
			problems = append(problems, "load snapshot: "+err.Error())
		case !ok:
			problems = append(problems, fmt.Sprintf("no snapshot, want seq %d", *want))
		case sn.Seq != *want:
			problems = append(problems, fmt.Sprintf("snapshot seq %d want %d", sn.Seq, *want))
		}
	}
	return problems
}

func loadScenarios(fsys fs.FS, dir string) ([]Scenario, error) {
	var out []Scenario
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var sc Scenario
		if err := json.Unmarshal(b, &sc); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if sc.Name == "" {
			sc.Name = strings.TrimSuffix(e.Name(), ".json")
		}
		out = append(out, sc)
	}
	return out, nil
}
