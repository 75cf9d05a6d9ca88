package entity

import (
	"path/filepath"
	"testing"

	"github.com/wilhg/journal/pkg/store/entstore"
)

// Background snapshot saves share the SQLite file with appends and must never
// make a command fail.
func TestEntity_SQLiteSnapshotsDoNotFailAppends(t *testing.T) {
	ctx := t.Context()
	dsn := "sqlite:file:" + filepath.Join(t.TempDir(), "journal.sqlite") + "?_pragma=busy_timeout(5000)"
	st, err := entstore.Open(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	e := newTestEntity(t, st, "p", WithSnapshotEvery(1))
	startRecovered(t, e)
	const n = 200
	for i := range n {
		if _, err := e.Persist(ctx, testCmd{Data: "x"}); err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if last, err := st.LastSeq(ctx, "p"); err != nil || last != 2*n {
		t.Fatalf("last=%d err=%v want %d", last, err, 2*n)
	}
	sn, ok, err := st.LoadSnapshot(ctx, "p", 2*n)
	if err != nil || !ok {
		t.Fatalf("snapshot ok=%v err=%v", ok, err)
	}
	if sn.Seq == 0 {
		t.Fatal("no snapshot was saved")
	}
}
