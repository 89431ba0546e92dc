package observability

import (
	"context"
	"errors"
	"testing"

	"caravan/internal/bus"
	"caravan/internal/saga"
)

type stubPublisher struct {
	err error
	n   int
}

func (p *stubPublisher) Publish(ctx context.Context, env saga.Envelope) error {
	p.n++
	return p.err
}

type stubSubscriber struct {
	handler bus.Handler
}

func (s *stubSubscriber) Subscribe(topic, group string, h bus.Handler) error {
	s.handler = h
	return nil
}

func TestInstrumentedPublisherCountsSuccesses(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	next := &stubPublisher{}
	pub := NewInstrumentedPublisher(next, metrics)

	env, err := saga.NewEnvelope(saga.TopicOrderCreated, "ord-1", saga.OrderCreated{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := pub.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	next.err = errors.New("bus down")
	if err := pub.Publish(context.Background(), env); err == nil {
		t.Fatalf("expected publish error")
	}

	snap := metrics.Snapshot()
	if got := snap.Topics[saga.TopicOrderCreated].Published; got != 1 {
		t.Fatalf("expected 1 published, got %d", got)
	}
}

func TestInstrumentedSubscriberTimesHandler(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	next := &stubSubscriber{}
	sub := NewInstrumentedSubscriber(next, metrics)

	handlerErr := errors.New("no stock")
	err := sub.Subscribe(saga.TopicStockRejected, "orders", func(ctx context.Context, env saga.Envelope) error {
		return handlerErr
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env, err := saga.NewEnvelope(saga.TopicStockRejected, "ord-1", saga.StockRejected{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := next.handler(context.Background(), env); !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if err := next.handler(context.Background(), env); !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}

	stats := metrics.Snapshot().Topics[saga.TopicStockRejected]
	if stats.Consumed != 2 || stats.HandlerErrors != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
