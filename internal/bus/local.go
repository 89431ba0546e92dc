package bus

import (
	"context"
	"errors"
	"log"
	"sync"

	"caravan/internal/saga"
)

// ErrBusClosed indicates a publish after Close.
var ErrBusClosed = errors.New("bus closed")

// LocalBus is an in-process topic bus. Each subscription gets a buffered
// channel and a worker goroutine, so a slow handler never blocks the
// publisher or other subscriptions. Delivery is at-least-once within the
// process: a failing handler is retried per the redelivery policy.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[string][]*localSubscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	buffer int
	retry  RetryPolicy
	logf   func(format string, args ...any)
	onDrop func(env saga.Envelope, err error)
}

type localSubscription struct {
	group   string
	ch      chan saga.Envelope
	handler Handler
}

// LocalBusConfig tunes the in-process bus. Zero values get defaults.
type LocalBusConfig struct {
	// Buffer is the per-subscription queue depth; publishers block once
	// a subscription's queue is full.
	Buffer int
	// Redelivery bounds handler retries before a message is dropped.
	Redelivery RetryPolicy
	Logf       func(format string, args ...any)
	// OnDrop observes messages whose redelivery budget is exhausted.
	OnDrop func(env saga.Envelope, err error)
}

// NewLocalBus constructs a LocalBus.
func NewLocalBus(cfg LocalBusConfig) *LocalBus {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	retry := cfg.Redelivery
	if retry.MaxAttempts == 0 {
		retry = DefaultRedelivery()
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LocalBus{
		subs:   make(map[string][]*localSubscription),
		ctx:    ctx,
		cancel: cancel,
		buffer: buffer,
		retry:  retry,
		logf:   logf,
		onDrop: cfg.OnDrop,
	}
}

// Subscribe registers a handler for a topic. Each Subscribe call is its
// own consumer; participants register one handler per topic, so local
// group names are carried only for logging parity with the durable
// backends.
func (b *LocalBus) Subscribe(topic, group string, h Handler) error {
	if topic == "" {
		return errors.New("topic required")
	}
	if h == nil {
		return errors.New("handler required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	sub := &localSubscription{
		group:   group,
		ch:      make(chan saga.Envelope, b.buffer),
		handler: h,
	}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go b.consume(topic, sub)
	return nil
}

// Publish routes the envelope to every subscription of its topic.
func (b *LocalBus) Publish(ctx context.Context, env saga.Envelope) error {
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	targets := make([]*localSubscription, len(b.subs[env.Type]))
	copy(targets, b.subs[env.Type])
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- env:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.ctx.Done():
			return ErrBusClosed
		}
	}
	return nil
}

// Close stops all consumers. Messages still queued at close are dropped;
// durable backends own redelivery across restarts.
func (b *LocalBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}

func (b *LocalBus) consume(topic string, sub *localSubscription) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case env := <-sub.ch:
			b.deliver(topic, sub, env)
		}
	}
}

func (b *LocalBus) deliver(topic string, sub *localSubscription, env saga.Envelope) {
	err := b.retry.Do(b.ctx, func() error {
		return sub.handler(b.ctx, env)
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	b.logf("bus: dropping %s message %s for group %q after retries: %v", topic, env.MessageID, sub.group, err)
	if b.onDrop != nil {
		b.onDrop(env, err)
	}
}
