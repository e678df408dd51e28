package subscription

import "time"

// Status is the custom type to define the current status of a subscription
type Status string

// Defining the statuses a Subscription can be in. Stripe's past_due and unpaid
// are normalized to StatusIncomplete during ingestion.
const (
	StatusActive     Status = "active"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
	StatusPastDue    Status = "past_due"
	StatusUnpaid     Status = "unpaid"
	StatusTrialing   Status = "trialing"
)

// Tier is the plan tier purchased, carried explicitly in metadata
type Tier string

// Defining the known plan tiers
const (
	TierUnknown  Tier = "unknown"
	TierStarter  Tier = "starter"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// Event types received from Stripe
const (
	EventCheckoutCompleted   string = "checkout.session.completed"
	EventPaymentSucceeded    string = "invoice.payment_succeeded"
	EventPaymentFailed       string = "invoice.payment_failed"
	EventSubscriptionUpdated string = "customer.subscription.updated"
	EventSubscriptionDeleted string = "customer.subscription.deleted"
	EventTrialWillEnd        string = "customer.subscription.trial_will_end"
)

// Notice types published for changes made by local commands
const (
	NoticeCanceled     string = "subscription.canceled"
	NoticeReactivated  string = "subscription.reactivated"
	NoticeSynchronized string = "subscription.synchronized"
)

// RefundWindow is how long after the start of a billing period an immediate
// cancellation is still eligible for a refund
const RefundWindow time.Duration = time.Hour * 48

// ParseTier maps a metadata value onto a known Tier
func ParseTier(v string) Tier {
	switch Tier(v) {
	case TierStarter, TierPro, TierBusiness:
		return Tier(v)
	}
	return TierUnknown
}
