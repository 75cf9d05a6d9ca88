package store

import (
	"context"
	"errors"
	"testing"
)

// pagedLog is a minimal EventStore that records ListEvents calls.
type pagedLog struct {
	events []EventRecord
	calls  int
	failAt int
}

func (p *pagedLog) Append(ctx context.Context, persistenceID string, expectedSeq uint64, events []EventRecord) ([]EventRecord, error) {
	return nil, errors.New("not implemented")
}

func (p *pagedLog) ListEvents(ctx context.Context, persistenceID string, afterSeq uint64, limit int) ([]EventRecord, error) {
	p.calls++
	if p.failAt > 0 && p.calls == p.failAt {
		return nil, errors.New("boom")
	}
	var out []EventRecord
	for _, e := range p.events {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (p *pagedLog) LastSeq(ctx context.Context, persistenceID string) (uint64, error) {
	return uint64(len(p.events)), nil
}

func newPagedLog(n int) *pagedLog {
	p := &pagedLog{}
	for i := 1; i <= n; i++ {
		p.events = append(p.events, EventRecord{PersistenceID: "p", Seq: uint64(i)})
	}
	return p
}

func TestReadFromPagesInOrder(t *testing.T) {
	log := newPagedLog(5)
	var got []uint64
	for rec, err := range ReadFrom(context.Background(), log, "p", 0, 2) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, rec.Seq)
	}
	if len(got) != 5 {
		t.Fatalf("len=%d want 5", len(got))
	}
	for i, s := range got {
		if s != uint64(i+1) {
			t.Fatalf("got[%d]=%d want %d", i, s, i+1)
		}
	}
	// 2 + 2 + 1: the short page ends iteration.
	if log.calls != 3 {
		t.Fatalf("calls=%d want 3", log.calls)
	}
}

func TestReadFromRestartsFromOffset(t *testing.T) {
	log := newPagedLog(6)
	var first uint64
	for rec, err := range ReadFrom(context.Background(), log, "p", 0, 4) {
		if err != nil {
			t.Fatal(err)
		}
		first = rec.Seq
		if rec.Seq == 3 {
			break
		}
	}
	var rest []uint64
	for rec, err := range ReadFrom(context.Background(), log, "p", first, 4) {
		if err != nil {
			t.Fatal(err)
		}
		rest = append(rest, rec.Seq)
	}
	if len(rest) != 3 || rest[0] != 4 || rest[2] != 6 {
		t.Fatalf("rest=%v want [4 5 6]", rest)
	}
}

func TestReadFromYieldsError(t *testing.T) {
	log := newPagedLog(4)
	log.failAt = 2
	var seen int
	var gotErr error
	for _, err := range ReadFrom(context.Background(), log, "p", 0, 2) {
		if err != nil {
			gotErr = err
			continue
		}
		seen++
	}
	if gotErr == nil {
		t.Fatal("expected error")
	}
	if seen != 2 {
		t.Fatalf("seen=%d want 2", seen)
	}
}

func TestPrepareBatch(t *testing.T) {
	payload := []byte(`{"a":1}`)
	out, err := PrepareBatch("p1", 7, []EventRecord{{Type: "x", Payload: payload}, {EventID: "fixed", Type: "y"}})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Seq != 8 || out[1].Seq != 9 {
		t.Fatalf("seqs=%d,%d want 8,9", out[0].Seq, out[1].Seq)
	}
	if out[0].EventID == "" || out[1].EventID != "fixed" {
		t.Fatalf("unexpected ids: %q %q", out[0].EventID, out[1].EventID)
	}
	if out[0].PersistenceID != "p1" || out[0].CreatedAt.IsZero() {
		t.Fatalf("record not filled: %+v", out[0])
	}
	payload[0] = 'X'
	if out[0].Payload[0] != '{' {
		t.Fatal("payload shares memory with caller")
	}
}

func TestPrepareBatchRejects(t *testing.T) {
	if _, err := PrepareBatch("", 0, []EventRecord{{}}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v want ErrInvalid", err)
	}
	if _, err := PrepareBatch("p", 0, []EventRecord{{EventID: "a"}, {EventID: "a"}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("err=%v want ErrConflict", err)
	}
	if _, err := PrepareBatch("p", 0, []EventRecord{{PersistenceID: "other"}}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v want ErrInvalid", err)
	}
}
