package subscription

import (
	"context"

	"github.com/zllovesuki/pagecraft/customer"
	"github.com/zllovesuki/pagecraft/spec"

	"github.com/stripe/stripe-go/v72"
)

// BillingClient is the subset of the billing provider the ledger talks to.
// The Stripe implementation lives in the external package.
type BillingClient interface {
	// GetSubscription returns the subscription with its customer expanded
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	// CancelNow ends the subscription immediately
	CancelNow(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	// SetCancelAtPeriodEnd schedules or unschedules cancellation at the end of the current period
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error)
}

// Notifier receives a notice for every ledger change
type Notifier interface {
	PublishNotice(ctx context.Context, n *spec.SubscriptionNotice) error
}

// CustomerRecorder stores the customer state fetched on checkout completion
type CustomerRecorder interface {
	Upsert(ctx context.Context, cust *customer.Customer) error
}
