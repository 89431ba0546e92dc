package bus

import (
	"context"

	"caravan/internal/saga"
)

// Broadcaster pushes serialized envelopes to connected observers.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// FanoutPublisher forwards envelopes to the bus and then broadcasts them
// to observers (e.g. a websocket event feed). The broadcast is best
// effort: the saga depends only on the bus publish.
type FanoutPublisher struct {
	next        Publisher
	broadcaster Broadcaster
}

// NewFanoutPublisher constructs a publisher that fan-outs to the bus and broadcaster.
func NewFanoutPublisher(next Publisher, broadcaster Broadcaster) *FanoutPublisher {
	return &FanoutPublisher{next: next, broadcaster: broadcaster}
}

// Publish publishes to the bus, then broadcasts the envelope.
func (p *FanoutPublisher) Publish(ctx context.Context, env saga.Envelope) error {
	if err := p.next.Publish(ctx, env); err != nil {
		return err
	}

	if p.broadcaster != nil {
		if data, err := saga.Encode(env); err == nil {
			p.broadcaster.Broadcast(data)
		}
	}
	return nil
}
