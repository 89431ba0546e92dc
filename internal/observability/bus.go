package observability

import (
	"context"

	"caravan/internal/bus"
	"caravan/internal/saga"
)

// InstrumentedPublisher counts events by topic as they are published.
type InstrumentedPublisher struct {
	next    bus.Publisher
	metrics *Metrics
}

func NewInstrumentedPublisher(next bus.Publisher, metrics *Metrics) *InstrumentedPublisher {
	return &InstrumentedPublisher{next: next, metrics: metrics}
}

func (p *InstrumentedPublisher) Publish(ctx context.Context, env saga.Envelope) error {
	if err := p.next.Publish(ctx, env); err != nil {
		return err
	}
	p.metrics.MarkPublished(env.Type)
	return nil
}

// InstrumentedSubscriber wraps every registered handler in a timing span.
type InstrumentedSubscriber struct {
	next    bus.Subscriber
	metrics *Metrics
}

func NewInstrumentedSubscriber(next bus.Subscriber, metrics *Metrics) *InstrumentedSubscriber {
	return &InstrumentedSubscriber{next: next, metrics: metrics}
}

func (s *InstrumentedSubscriber) Subscribe(topic, group string, h bus.Handler) error {
	metrics := s.metrics
	return s.next.Subscribe(topic, group, func(ctx context.Context, env saga.Envelope) error {
		span := metrics.StartHandle(topic)
		err := h(ctx, env)
		span.End(err)
		return err
	})
}
