package entity

import "context"

// Reducer is the pure part of a behavior: the initial state and the single-event
// transition used by both live processing and replay.
type Reducer[S, E any] interface {
	InitialState() S
	// Apply must be deterministic and must not keep references to state.
	Apply(state S, ev E) S
}

// Behavior is the business logic of an entity.
type Behavior[S, E, C any] interface {
	Reducer[S, E]
	// Decide derives the ordered batch of events for cmd. It must not mutate state.
	// An error rejects the command before anything is written.
	Decide(state S, cmd C) ([]Emit[E], error)
	// Copy returns a state that later Apply calls on the original can't change.
	Copy(state S) S
}

// Emit is one event derived from a command. When Publish is set the entity
// publishes the event once it and every event before it are durable and applied.
type Emit[E any] struct {
	Event   E
	Publish bool
}

// Typed lets an event name the type stored alongside its payload.
type Typed interface {
	EventType() string
}

func eventType(ev any) string {
	if t, ok := ev.(Typed); ok {
		if name := t.EventType(); name != "" {
			return name
		}
	}
	return "event"
}

// Published is the notification handed to a Publisher.
type Published[E any] struct {
	PersistenceID string `json:"persistence_id"`
	Seq           uint64 `json:"seq"`
	Event         E      `json:"event"`
}

// Publisher receives designated events after they are durable and applied.
// It is called from the entity's worker; slow publishers delay the next command.
type Publisher[E any] interface {
	Publish(ctx context.Context, p Published[E]) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc[E any] func(ctx context.Context, p Published[E]) error

func (f PublisherFunc[E]) Publish(ctx context.Context, p Published[E]) error { return f(ctx, p) }
