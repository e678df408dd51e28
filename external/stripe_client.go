package external

import (
	"context"
	"fmt"

	"github.com/zllovesuki/pagecraft/subscription"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

var _ subscription.BillingClient = &StripeBilling{}

// NewStripeClient returns a Stripe API client bound to key. No global stripe.Key is set.
func NewStripeClient(key string) *client.API {
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}

// StripeBilling performs subscription calls against the Stripe API
type StripeBilling struct {
	client *client.API
}

// NewStripeBilling wraps an initialized Stripe client
func NewStripeBilling(sc *client.API) (*StripeBilling, error) {
	if sc == nil || sc.Subscriptions == nil {
		return nil, fmt.Errorf("nil Stripe client is invalid")
	}
	return &StripeBilling{
		client: sc,
	}, nil
}

// GetSubscription returns the subscription with its customer expanded
func (s *StripeBilling) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	params.AddExpand("customer")
	return s.client.Subscriptions.Get(subscriptionID, params)
}

// CancelNow ends the subscription immediately
func (s *StripeBilling) CancelNow(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	return s.client.Subscriptions.Cancel(subscriptionID, params)
}

// SetCancelAtPeriodEnd schedules or unschedules cancellation at the end of the current period
func (s *StripeBilling) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	return s.client.Subscriptions.Update(subscriptionID, params)
}
