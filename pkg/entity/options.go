package entity

import "github.com/sirupsen/logrus"

// Option configures an Entity at construction time.
type Option func(*options)

type options struct {
	log           *logrus.Entry
	snapshotEvery int
	pageSize      int
	observer      func(SnapshotResult)
}

// WithLogger sets the logger; the persistence id is added as a field.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithSnapshotEvery snapshots automatically once n events have been persisted
// since the last snapshot. If n <= 0 automatic snapshots are disabled.
func WithSnapshotEvery(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.snapshotEvery = n
		}
	}
}

// WithReplayPageSize sets how many events recovery reads per page.
func WithReplayPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithSnapshotObserver registers fn to receive the outcome of every snapshot save.
// fn runs on the saving goroutine.
func WithSnapshotObserver(fn func(SnapshotResult)) Option {
	return func(o *options) { o.observer = fn }
}
