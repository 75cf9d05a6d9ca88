package eval

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/sirupsen/logrus"

	"github.com/wilhg/journal/examples/sample"
	"github.com/wilhg/journal/pkg/entity"
	"github.com/wilhg/journal/pkg/projection"
)

func sampleTarget() Target[projection.Sequence, sample.Event, sample.Command] {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return Target[projection.Sequence, sample.Event, sample.Command]{
		Behavior: sample.Behavior{},
		Command:  func(s string) sample.Command { return sample.Command{Data: s} },
		Render:   projection.Sequence.Items,
		Options:  []entity.Option{entity.WithLogger(logrus.NewEntry(l))},
	}
}

func TestEvaluateScenarios_Fixtures(t *testing.T) {
	score, total, passed, details, err := EvaluateScenarios(context.Background(), os.DirFS("testdata"), "scenarios", sampleTarget())
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || passed != 3 || score != 1 {
		t.Fatalf("score=%v total=%d passed=%d details=%v", score, total, passed, details)
	}
}

func TestEvaluateScenarios_ReportsMismatch(t *testing.T) {
	fsys := fstest.MapFS{
		"cases/wrong.json":    {Data: []byte(`{"name":"wrong","commands":["foo"],"expect":{"state":["foo-1","foo-0"]}}`)},
		"cases/rejected.json": {Data: []byte(`{"name":"rejected","commands":[""],"expect":{"state":[]}}`)},
		"cases/ok.json":       {Data: []byte(`{"commands":["foo","snap"],"expect":{"state":["foo-0","foo-1"],"snapshot_seq":2}}`)},
		"cases/notes.txt":     {Data: []byte(`ignored`)},
	}
	score, total, passed, details, err := EvaluateScenarios(context.Background(), fsys, "cases", sampleTarget())
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || passed != 1 {
		t.Fatalf("score=%v total=%d passed=%d details=%v", score, total, passed, details)
	}
	joined := strings.Join(details, "\n")
	if !strings.Contains(joined, "wrong: state [foo-0, foo-1] want [foo-1, foo-0]") {
		t.Fatalf("details=%v", details)
	}
	if !strings.Contains(joined, "rejected: command 0") {
		t.Fatalf("details=%v", details)
	}
}

func TestEvaluateScenarios_EmptyAndMissing(t *testing.T) {
	s, tot, pass, _, err := EvaluateScenarios(context.Background(), fstest.MapFS{"cases/readme.md": {}}, "cases", sampleTarget())
	if err != nil || s != 1 || tot != 0 || pass != 0 {
		t.Fatalf("empty: score=%v total=%d passed=%d err=%v", s, tot, pass, err)
	}
	_, _, _, _, err = EvaluateScenarios(context.Background(), fstest.MapFS{}, "cases", sampleTarget())
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing dir err=%v", err)
	}
}
