package entity

import (
	"context"
	"errors"
	"sync"
)

// Factory builds the entity for a persistence id. It must not start it.
type Factory[S, E, C any] func(persistenceID string) (*Entity[S, E, C], error)

// Registry keeps at most one live entity per persistence id in this process.
type Registry[S, E, C any] struct {
	mu      sync.Mutex
	factory Factory[S, E, C]
	live    map[string]*Entity[S, E, C]
}

func NewRegistry[S, E, C any](factory Factory[S, E, C]) *Registry[S, E, C] {
	return &Registry[S, E, C]{factory: factory, live: map[string]*Entity[S, E, C]{}}
}

// Get returns the live entity for persistenceID, starting a new one when none
// is running. Entities that have exited are replaced.
func (r *Registry[S, E, C]) Get(ctx context.Context, persistenceID string) (*Entity[S, E, C], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.live[persistenceID]; ok {
		select {
		case <-e.Done():
			delete(r.live, persistenceID)
		default:
			return e, nil
		}
	}
	e, err := r.factory(persistenceID)
	if err != nil {
		return nil, err
	}
	e.Start(ctx)
	r.live[persistenceID] = e
	return e, nil
}

// Passivate stops the entity for persistenceID. Until it has stopped, Get keeps
// returning it, so no second writer starts on the same log.
func (r *Registry[S, E, C]) Passivate(ctx context.Context, persistenceID string) error {
	r.mu.Lock()
	e := r.live[persistenceID]
	r.mu.Unlock()
	if e == nil {
		return nil
	}
	err := e.Stop(ctx)
	r.mu.Lock()
	if r.live[persistenceID] == e {
		delete(r.live, persistenceID)
	}
	r.mu.Unlock()
	return err
}

// Stop stops every live entity.
func (r *Registry[S, E, C]) Stop(ctx context.Context) error {
	r.mu.Lock()
	live := r.live
	r.live = map[string]*Entity[S, E, C]{}
	r.mu.Unlock()

	var errs []error
	for _, e := range live {
		if err := e.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry[S, E, C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
