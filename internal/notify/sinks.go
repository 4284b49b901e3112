package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-retail-orders/internal/kafka"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	marshal = json.Marshal
	nowUTC  = func() time.Time { return time.Now().UTC() }
)

// PostgresSink stores notifications directly in the notifications table.
type PostgresSink struct{ DB *pgxpool.Pool }

func (s *PostgresSink) Notify(ctx context.Context, n orders.Notification) error {
	meta := n.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO notifications(id, type, title, message, recipient_id, link, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, n.Type, n.Title, n.Message, n.RecipientID, n.Link, b, n.CreatedAt)
	return err
}

// KafkaSink hands notifications to the notifier service as
// NotificationRequested events.
type KafkaSink struct {
	Events  EventPublisher
	Service string
}

func (s *KafkaSink) Notify(_ context.Context, n orders.Notification) error {
	b, err := marshal(orders.NotificationRequestedPayload{Notification: n})
	if err != nil {
		return err
	}
	s.Events.PublishEnvelope(orders.TopicNotifications,
		orders.NewEnvelope(orders.EventNotificationRequested, s.Service, n.ID.String(), b))
	return nil
}

type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Persister consumes NotificationRequested envelopes and writes them to a
// sink, skipping event ids it has already handled.
type Persister struct {
	Sink  orders.NotificationSink
	Dedup Deduper
	Log   *zap.Logger
}

func (p *Persister) Handle(ctx context.Context, value []byte) error {
	env, err := kafkax.DecodeEnvelope(value)
	if err != nil {
		p.Log.Warn("drop undecodable message", zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventNotificationRequested {
		return nil
	}
	first, err := p.Dedup.First(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		p.Log.Debug("duplicate event", zap.String("event_id", env.EventID))
		return nil
	}
	payload, err := kafkax.UnwrapPayload[orders.NotificationRequestedPayload](env.Payload)
	if err != nil {
		p.Log.Warn("drop undecodable payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if err := p.Sink.Notify(ctx, payload.Notification); err != nil {
		if ferr := p.Dedup.Forget(context.WithoutCancel(ctx), env.EventID); ferr != nil {
			p.Log.Error("forget dedup key", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("persist notification %s: %w", payload.Notification.ID, err)
	}
	return nil
}
