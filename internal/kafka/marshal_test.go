package kafka

import (
	"testing"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	n := orders.Notification{ID: uuid.New(), Type: orders.NotificationNewOrder, Title: "New order"}
	env := orders.NewEnvelope(orders.EventNotificationRequested, "order-api", n.ID.String(),
		MustMarshal(orders.NotificationRequestedPayload{Notification: n}))

	got, err := DecodeEnvelope(MustMarshal(env))
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, 1, got.EventVersion)

	p, err := UnwrapPayload[orders.NotificationRequestedPayload](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, n.ID, p.Notification.ID)
	assert.Equal(t, "New order", p.Notification.Title)
}

func TestDecodeEnvelopeRejectsIncomplete(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"payload":{}}`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}
