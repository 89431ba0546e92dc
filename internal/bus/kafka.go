package bus

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"caravan/internal/saga"
)

// KafkaBus is a Kafka transport: one topic per event type, one consumer
// group per subscriber. Messages are keyed by order ID so a single
// order's events stay on one partition; the saga still never depends on
// cross-topic ordering.
type KafkaBus struct {
	brokers []string
	prefix  string
	retry   RetryPolicy
	logf    func(format string, args ...any)

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// KafkaBusConfig tunes the Kafka transport.
type KafkaBusConfig struct {
	// Prefix namespaces the topics, e.g. "caravan.".
	Prefix string
	// Redelivery bounds in-place handler retries. A message that keeps
	// failing is parked on the topic's dead-letter topic before its offset
	// is committed, so the partition keeps moving without losing it.
	Redelivery RetryPolicy
	Logf       func(format string, args ...any)
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(brokersCSV string) []string {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewKafkaBus constructs a KafkaBus for the given brokers.
func NewKafkaBus(brokersCSV string, cfg KafkaBusConfig) (*KafkaBus, error) {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
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
	return &KafkaBus{
		brokers: brokers,
		prefix:  cfg.Prefix,
		retry:   retry,
		logf:    logf,
		writers: make(map[string]*kafka.Writer),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

const deadLetterSuffix = ".dlq"

// Topic returns the Kafka topic for an event type.
func (b *KafkaBus) Topic(eventType string) string {
	return b.prefix + eventType
}

// DeadLetterTopic returns where exhausted messages of an event type are
// parked.
func (b *KafkaBus) DeadLetterTopic(eventType string) string {
	return b.Topic(eventType) + deadLetterSuffix
}

// Publish writes the envelope to its topic, keyed by order ID.
func (b *KafkaBus) Publish(ctx context.Context, env saga.Envelope) error {
	data, err := saga.Encode(env)
	if err != nil {
		return err
	}

	return b.writer(b.Topic(env.Type)).WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.OrderID),
		Value: data,
		Time:  env.OccurredAt,
	})
}

// Subscribe starts a group reader loop for the topic.
func (b *KafkaBus) Subscribe(topic, group string, h Handler) error {
	if topic == "" || group == "" {
		return errors.New("topic and group required")
	}
	if h == nil {
		return errors.New("handler required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    b.Topic(topic),
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	b.mu.Lock()
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(reader, group, h)
	return nil
}

// Close stops readers and flushes writers.
func (b *KafkaBus) Close() {
	b.cancel()

	b.mu.Lock()
	readers := b.readers
	writers := b.writers
	b.readers = nil
	b.writers = make(map[string]*kafka.Writer)
	b.mu.Unlock()

	for _, r := range readers {
		_ = r.Close()
	}
	for _, w := range writers {
		_ = w.Close()
	}
	b.wg.Wait()
}

func (b *KafkaBus) writer(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:         kafka.TCP(b.brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
		b.writers[topic] = w
	}
	return w
}

func (b *KafkaBus) consume(reader *kafka.Reader, group string, h Handler) {
	defer b.wg.Done()

	for {
		msg, err := reader.FetchMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil || errors.Is(err, kafka.ErrGroupClosed) {
				return
			}
			b.logf("bus: fetch %s group %q: %v", reader.Config().Topic, group, err)
			continue
		}

		env, err := saga.DecodeEnvelope(msg.Value)
		if err != nil {
			// Poison message: commit past it so the partition keeps moving.
			b.logf("bus: %s offset %d undecodable, committing: %v", msg.Topic, msg.Offset, err)
			_ = reader.CommitMessages(b.ctx, msg)
			continue
		}

		if err := b.retry.Do(b.ctx, func() error { return h(b.ctx, env) }); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Park the message and move on; the group stays live and the
			// dead-letter topic keeps the message for replay.
			b.logf("bus: handler failed for %s message %s after retries, parking: %v", env.Type, env.MessageID, err)
			if dlqErr := b.writer(msg.Topic + deadLetterSuffix).WriteMessages(b.ctx, kafka.Message{
				Key:   msg.Key,
				Value: msg.Value,
				Time:  msg.Time,
			}); dlqErr != nil && b.ctx.Err() == nil {
				b.logf("bus: park %s message %s: %v", env.Type, env.MessageID, dlqErr)
			}
		}

		if err := reader.CommitMessages(b.ctx, msg); err != nil && b.ctx.Err() == nil {
			b.logf("bus: commit %s offset %d: %v", msg.Topic, msg.Offset, err)
		}
	}
}
