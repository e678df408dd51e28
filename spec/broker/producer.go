package broker

import (
	"context"

	"github.com/zllovesuki/pagecraft/spec"
)

// Producer defines a producer sending notices via message broker
type Producer interface {
	Close()
	PublishNotice(ctx context.Context, n *spec.SubscriptionNotice) error
}
