package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zllovesuki/pagecraft/spec"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func testNotice() *spec.SubscriptionNotice {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &spec.SubscriptionNotice{
		EventType:        "customer.subscription.updated",
		SubscriptionID:   "sub_123",
		UserID:           "user-1",
		WebsiteID:        "7d1f6d0e-4a43-4b8e-9d55-0f4b5c2a7b11",
		Status:           "active",
		CurrentPeriodEnd: at.Add(time.Hour * 24 * 30),
		OccurredAt:       at,
	}
}

func TestPublishNoticeRoutesByEventType(t *testing.T) {
	fake := &fakePublisher{}
	b := &AMQPBroker{logger: zap.NewNop(), publisher: fake}

	n := testNotice()
	require.NoError(t, b.PublishNotice(context.Background(), n))
	require.Len(t, fake.sent, 1)

	sent := fake.sent[0]
	assert.Equal(t, spec.NoticeExchange, sent.exchange)
	assert.Equal(t, n.EventType, sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), sent.msg.DeliveryMode)

	var decoded spec.SubscriptionNotice
	require.NoError(t, json.Unmarshal(sent.msg.Body, &decoded))
	assert.Equal(t, n.SubscriptionID, decoded.SubscriptionID)
	assert.Equal(t, n.WebsiteID, decoded.WebsiteID)
	assert.True(t, n.CurrentPeriodEnd.Equal(decoded.CurrentPeriodEnd))
}

func TestPublishNoticeErrors(t *testing.T) {
	b := &AMQPBroker{logger: zap.NewNop(), publisher: &fakePublisher{err: errors.New("channel closed")}}

	err := b.PublishNotice(context.Background(), testNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")

	require.Error(t, b.PublishNotice(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.PublishNotice(ctx, testNotice()), context.Canceled)
}
