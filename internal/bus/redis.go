package bus

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"caravan/internal/saga"
)

// StreamBus is a Redis Streams transport: one stream per topic, one
// consumer group per subscriber. Messages are acknowledged only after the
// handler succeeds; unacknowledged entries stay pending and are reclaimed,
// which is what makes delivery at-least-once across crashes.
type StreamBus struct {
	client   redis.UniversalClient
	prefix   string
	maxLen   int64
	block    time.Duration
	reclaim  time.Duration
	consumer string
	logf     func(format string, args ...any)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StreamBusConfig tunes the Redis Streams transport.
type StreamBusConfig struct {
	// Prefix namespaces the stream keys, e.g. "caravan:".
	Prefix string
	// MaxLen caps each stream approximately; 0 means unbounded.
	MaxLen int64
	// Block bounds each XREADGROUP wait.
	Block time.Duration
	// ReclaimIdle is the pending-entry idle time after which an unacked
	// message is claimed back and redelivered. 0 means DefaultReclaimIdle;
	// negative disables reclaiming.
	ReclaimIdle time.Duration
	// Consumer names this process within its groups.
	Consumer string
	Logf     func(format string, args ...any)
}

// DefaultReclaimIdle is how long an unacked entry sits pending before it
// is claimed back for redelivery. It must comfortably exceed one handler
// attempt so a slow handler is not delivered twice concurrently.
const DefaultReclaimIdle = 30 * time.Second

// NewStreamBus constructs a StreamBus on the given client.
func NewStreamBus(client redis.UniversalClient, cfg StreamBusConfig) *StreamBus {
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	reclaim := cfg.ReclaimIdle
	if reclaim == 0 {
		reclaim = DefaultReclaimIdle
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "caravan-" + uuid.NewString()
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &StreamBus{
		client:   client,
		prefix:   cfg.Prefix,
		maxLen:   cfg.MaxLen,
		block:    block,
		reclaim:  reclaim,
		consumer: consumer,
		logf:     logf,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Publish appends the envelope to its topic's stream.
func (b *StreamBus) Publish(ctx context.Context, env saga.Envelope) error {
	data, err := saga.Encode(env)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: b.stream(env.Type),
		Values: map[string]any{"envelope": string(data)},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	return b.client.XAdd(ctx, args).Err()
}

// Subscribe creates the consumer group (if needed) and starts a read loop.
func (b *StreamBus) Subscribe(topic, group string, h Handler) error {
	if topic == "" || group == "" {
		return errors.New("topic and group required")
	}
	if h == nil {
		return errors.New("handler required")
	}

	stream := b.stream(topic)
	// Start at "0" so events published before the group existed are not lost.
	err := b.client.XGroupCreateMkStream(b.ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	b.wg.Add(1)
	go b.consume(stream, group, h)
	return nil
}

// Close stops all read loops. The Redis client itself is owned by the caller.
func (b *StreamBus) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *StreamBus) stream(topic string) string {
	return b.prefix + topic
}

func (b *StreamBus) consume(stream, group string, h Handler) {
	defer b.wg.Done()

	for {
		if b.ctx.Err() != nil {
			return
		}

		if b.reclaim > 0 {
			b.reclaimPending(stream, group, h)
		}

		res, err := b.client.XReadGroup(b.ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.consumer,
			Streams:  []string{stream, ">"},
			Count:    16,
			Block:    b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if b.ctx.Err() != nil {
				return
			}
			b.logf("bus: read %s group %q: %v", stream, group, err)
			if err := sleepWithContext(b.ctx, 250*time.Millisecond); err != nil {
				return
			}
			continue
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				b.handle(stream, group, msg, h)
			}
		}
	}
}

// reclaimPending re-delivers entries that another consumer read but never
// acknowledged.
func (b *StreamBus) reclaimPending(stream, group string, h Handler) {
	msgs, _, err := b.client.XAutoClaim(b.ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: b.consumer,
		MinIdle:  b.reclaim,
		Start:    "0",
		Count:    16,
	}).Result()
	if err != nil {
		if b.ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			b.logf("bus: autoclaim %s group %q: %v", stream, group, err)
		}
		return
	}

	for _, msg := range msgs {
		b.handle(stream, group, msg, h)
	}
}

func (b *StreamBus) handle(stream, group string, msg redis.XMessage, h Handler) {
	raw, ok := msg.Values["envelope"].(string)
	if !ok {
		// Poison entry: ack so it never wedges the group.
		b.logf("bus: %s entry %s has no envelope field, acking", stream, msg.ID)
		_ = b.client.XAck(b.ctx, stream, group, msg.ID).Err()
		return
	}

	env, err := saga.DecodeEnvelope([]byte(raw))
	if err != nil {
		b.logf("bus: %s entry %s undecodable, acking: %v", stream, msg.ID, err)
		_ = b.client.XAck(b.ctx, stream, group, msg.ID).Err()
		return
	}

	if err := h(b.ctx, env); err != nil {
		// Leave unacked; the pending entry is reclaimed later.
		b.logf("bus: handler failed for %s message %s: %v", env.Type, env.MessageID, err)
		return
	}

	if err := b.client.XAck(b.ctx, stream, group, msg.ID).Err(); err != nil && b.ctx.Err() == nil {
		b.logf("bus: ack %s entry %s: %v", stream, msg.ID, err)
	}
}
