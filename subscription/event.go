package subscription

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zllovesuki/pagecraft/spec"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
)

// Envelope carries the fields common to every provider event
type Envelope struct {
	ID      string
	Type    string
	Created time.Time
}

func (e Envelope) envelope() Envelope {
	return e
}

// Event is one of the concrete event structs below. Payloads are decoded and
// checked for required fields by ParseEvent before any reconciliation runs.
type Event interface {
	envelope() Envelope
}

// CheckoutCompleted is a checkout.session.completed event. SubscriptionID is empty
// when the session did not create a subscription.
type CheckoutCompleted struct {
	Envelope
	SessionID         string
	SubscriptionID    string
	CustomerID        string
	ClientReferenceID string
	Metadata          spec.Metadata
}

// Period is a billing period reported on an invoice line
type Period struct {
	Start time.Time
	End   time.Time
}

// PaymentSucceeded is an invoice.payment_succeeded event. Period is nil when the
// invoice lines carry no period.
type PaymentSucceeded struct {
	Envelope
	InvoiceID      string
	SubscriptionID string
	Period         *Period
}

// PaymentFailed is an invoice.payment_failed event
type PaymentFailed struct {
	Envelope
	InvoiceID      string
	SubscriptionID string
}

// SubscriptionUpdated is a customer.subscription.updated event
type SubscriptionUpdated struct {
	Envelope
	Snapshot Snapshot
}

// SubscriptionDeleted is a customer.subscription.deleted event
type SubscriptionDeleted struct {
	Envelope
	Snapshot Snapshot
}

// TrialWillEnd is a customer.subscription.trial_will_end event
type TrialWillEnd struct {
	Envelope
	Snapshot Snapshot
}

// UnknownEvent is any event type this service does not act on
type UnknownEvent struct {
	Envelope
}

func malformed(format string, args ...interface{}) error {
	return extErrors.Wrap(ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// ParseEvent converts a signature-verified stripe.Event into one of the concrete event types
func ParseEvent(evt stripe.Event) (Event, error) {
	if evt.ID == "" {
		return nil, malformed("missing event id")
	}
	if evt.Type == "" {
		return nil, malformed("missing event type")
	}
	if evt.Created <= 0 {
		return nil, malformed("missing creation time on event %s", evt.ID)
	}
	env := Envelope{
		ID:      evt.ID,
		Type:    evt.Type,
		Created: unixTime(evt.Created),
	}

	switch evt.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := decodeObject(evt, &session); err != nil {
			return nil, err
		}
		if session.ID == "" {
			return nil, malformed("checkout session without id in event %s", evt.ID)
		}
		e := &CheckoutCompleted{
			Envelope:          env,
			SessionID:         session.ID,
			ClientReferenceID: session.ClientReferenceID,
			Metadata:          spec.Metadata(session.Metadata).Clone(),
		}
		if session.Subscription != nil {
			e.SubscriptionID = session.Subscription.ID
		}
		if session.Customer != nil {
			e.CustomerID = session.Customer.ID
		}
		return e, nil

	case EventPaymentSucceeded, EventPaymentFailed:
		var invoice stripe.Invoice
		if err := decodeObject(evt, &invoice); err != nil {
			return nil, err
		}
		if invoice.ID == "" {
			return nil, malformed("invoice without id in event %s", evt.ID)
		}
		var subscriptionID string
		if invoice.Subscription != nil {
			subscriptionID = invoice.Subscription.ID
		}
		if evt.Type == EventPaymentFailed {
			return &PaymentFailed{
				Envelope:       env,
				InvoiceID:      invoice.ID,
				SubscriptionID: subscriptionID,
			}, nil
		}
		return &PaymentSucceeded{
			Envelope:       env,
			InvoiceID:      invoice.ID,
			SubscriptionID: subscriptionID,
			Period:         invoiceLinePeriod(&invoice),
		}, nil

	case EventSubscriptionUpdated, EventSubscriptionDeleted, EventTrialWillEnd:
		var sub stripe.Subscription
		if err := decodeObject(evt, &sub); err != nil {
			return nil, err
		}
		if sub.ID == "" {
			return nil, malformed("subscription without id in event %s", evt.ID)
		}
		snap := snapshotFromStripe(&sub)
		switch evt.Type {
		case EventSubscriptionUpdated:
			if sub.Status == "" || sub.CurrentPeriodEnd <= 0 {
				return nil, malformed("subscription %s without status or period in event %s", sub.ID, evt.ID)
			}
			return &SubscriptionUpdated{Envelope: env, Snapshot: snap}, nil
		case EventSubscriptionDeleted:
			return &SubscriptionDeleted{Envelope: env, Snapshot: snap}, nil
		default:
			return &TrialWillEnd{Envelope: env, Snapshot: snap}, nil
		}
	}

	return &UnknownEvent{Envelope: env}, nil
}

func decodeObject(evt stripe.Event, v interface{}) error {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return malformed("event %s has no data object", evt.ID)
	}
	if err := json.Unmarshal(evt.Data.Raw, v); err != nil {
		return malformed("cannot decode data object of event %s: %v", evt.ID, err)
	}
	return nil
}

func invoiceLinePeriod(invoice *stripe.Invoice) *Period {
	if invoice.Lines == nil {
		return nil
	}
	for _, line := range invoice.Lines.Data {
		if line == nil || line.Period == nil || line.Period.End <= 0 {
			continue
		}
		return &Period{
			Start: unixTime(line.Period.Start),
			End:   unixTime(line.Period.End),
		}
	}
	return nil
}
