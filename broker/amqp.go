package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zllovesuki/pagecraft/spec"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const noticeContentType = "application/json"

// publisher is the part of *amqp.Channel used to publish
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPBroker publishes subscription notices to RabbitMQ
type AMQPBroker struct {
	logger     *zap.Logger
	connection *amqp.Connection
	channel    *amqp.Channel
	publisher  publisher
}

// NewAMQPBroker returns a notice producer over RabbitMQ
func NewAMQPBroker(logger *zap.Logger, amqpURI string) (*AMQPBroker, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		logger:     logger,
		connection: amqpConn,
		channel:    amqpChan,
		publisher:  amqpChan,
	}
	if err := broker.setupNoticeExchange(); err != nil {
		broker.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for subscription notices")
	}

	return broker, nil
}

func (a *AMQPBroker) setupNoticeExchange() error {
	return a.channel.ExchangeDeclare(
		spec.NoticeExchange, // name
		"topic",             // type
		true,                // durable
		false,               // auto-deleted
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	if a.channel != nil {
		a.channel.Close()
	}
	if a.connection != nil {
		a.connection.Close()
	}
}

func encodeNotice(n *spec.SubscriptionNotice) (amqp.Publishing, error) {
	if n == nil {
		return amqp.Publishing{}, fmt.Errorf("nil notice is invalid")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return amqp.Publishing{}, extErrors.Wrap(err, "Cannot encode notice into bytes")
	}
	return amqp.Publishing{
		ContentType:  noticeContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    n.SubscriptionID + "/" + n.EventType + "/" + n.OccurredAt.Format(time.RFC3339Nano),
		Timestamp:    n.OccurredAt,
		Type:         n.EventType,
		Body:         body,
	}, nil
}

// PublishNotice publishes n to the notice exchange, routed by its event type
func (a *AMQPBroker) PublishNotice(ctx context.Context, n *spec.SubscriptionNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := encodeNotice(n)
	if err != nil {
		return err
	}
	if err := a.publisher.Publish(spec.NoticeExchange, n.EventType, false, false, msg); err != nil {
		a.logger.Error("Unable to publish subscription notice",
			zap.Error(err),
			zap.String("SubscriptionID", n.SubscriptionID),
		)
		return extErrors.Wrap(err, "Cannot publish subscription notice")
	}
	return nil
}
