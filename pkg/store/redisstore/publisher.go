package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wilhg/journal/pkg/codec"
	"github.com/wilhg/journal/pkg/entity"
)

// Message is the payload published for each designated event.
type Message struct {
	PersistenceID string          `json:"persistence_id"`
	Seq           uint64          `json:"seq"`
	Event         json.RawMessage `json:"event"`
}

// Publisher publishes entity events on Redis pub/sub, one channel per
// persistence id. The event codec must produce JSON.
type Publisher[E any] struct {
	s     *Store
	codec codec.Codec[E]
}

var _ entity.Publisher[struct{}] = (*Publisher[struct{}])(nil)

// NewPublisher publishes through the client and prefix of s. A nil codec means JSON.
func NewPublisher[E any](s *Store, c codec.Codec[E]) *Publisher[E] {
	if c == nil {
		c = codec.JSON[E]{}
	}
	return &Publisher[E]{s: s, codec: c}
}

// Channel returns the channel used for persistenceID.
func (p *Publisher[E]) Channel(persistenceID string) string {
	return p.s.prefix + ":published:" + persistenceID
}

func (p *Publisher[E]) Publish(ctx context.Context, pub entity.Published[E]) error {
	ev, err := p.codec.Encode(pub.Event)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Message{PersistenceID: pub.PersistenceID, Seq: pub.Seq, Event: ev})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return p.s.client.Publish(ctx, p.Channel(pub.PersistenceID), b).Err()
}
