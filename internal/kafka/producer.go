package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/metrics"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var errInboxFull = errors.New("producer inbox full")

// Producer buffers messages in an inbox drained by one goroutine into an
// async kafka writer. The topic is chosen per message.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Producer{
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log,
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion:   p.completed,
	}
	return p
}

func (p *Producer) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		metrics.RecordSideEffectFailure("kafka_publish")
		p.log.Error("kafka publish failed",
			zap.String("topic", m.Topic),
			zap.ByteString("key", m.Key),
			zap.Error(err))
	}
}

// Start runs the drain loop until Close is called or ctx is done.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					p.shutdown()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for m := range p.inbox {
		p.write(m)
	}
	p.shutdown()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.completed([]kafka.Message{m}, err)
	}
}

func (p *Producer) shutdown() {
	if err := p.w.Close(); err != nil {
		p.log.Warn("close kafka writer", zap.Error(err))
	}
}

// Publish queues a message without blocking. Messages published after Close
// or while the inbox is full are dropped and logged.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Warn("publish after close", zap.String("topic", topic))
		return
	}
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
	default:
		p.completed([]kafka.Message{m}, errInboxFull)
	}
}

// PublishEnvelope sends env keyed by its correlation id.
func (p *Producer) PublishEnvelope(topic string, env orders.Envelope) {
	p.Publish(topic, orders.PartitionKey(env.CorrelationID), MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// Close stops accepting messages; the loop flushes what is queued.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the writer is flushed and closed.
func (p *Producer) WaitClosed() { <-p.closeCh }
