package subscription

import (
	"context"

	"github.com/zllovesuki/pagecraft/customer"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// Ingest reconciles the local ledger with one signature-verified provider event.
// It returns ErrMalformedEvent when the payload misses required fields, and
// ErrUnlinkedSubscription when a new subscription cannot be tied to a website.
// Replaying an event yields the same record.
func (m *Manager) Ingest(ctx context.Context, raw stripe.Event) error {
	evt, err := ParseEvent(raw)
	if err != nil {
		return err
	}

	env := evt.envelope()
	logger := m.Logger.With(
		zap.String("EventID", env.ID),
		zap.String("EventType", env.Type),
	)

	switch e := evt.(type) {
	case *CheckoutCompleted:
		return m.ingestCheckout(ctx, logger, e)
	case *PaymentSucceeded:
		return m.ingestPaymentSucceeded(ctx, logger, e)
	case *PaymentFailed:
		return m.ingestPaymentFailed(ctx, logger, e)
	case *SubscriptionUpdated:
		return m.ingestUpdated(ctx, logger, e)
	case *SubscriptionDeleted:
		return m.ingestDeleted(ctx, logger, e)
	case *TrialWillEnd:
		return m.ingestTrialWillEnd(ctx, logger, e)
	default:
		logger.Debug("Ignoring unhandled event type")
		return nil
	}
}

// applyEvent is reconcile guarded by event ordering: events created before the
// newest event already applied to the record are skipped.
func (m *Manager) applyEvent(ctx context.Context, logger *zap.Logger, env Envelope, id string, fn ReconcileFunc) (*Subscription, error) {
	return m.reconcile(ctx, id, func(current *Subscription, desired *Subscription) (bool, error) {
		if current != nil && current.LastEventAt != nil && env.Created.Before(*current.LastEventAt) {
			logger.Info("Skipping stale event",
				zap.Time("EventCreated", env.Created),
				zap.Time("LastEventAt", *current.LastEventAt),
			)
			return false, nil
		}
		shouldSave, err := fn(current, desired)
		if err != nil || !shouldSave {
			return shouldSave, err
		}
		created := env.Created
		desired.LastEventAt = &created
		return true, nil
	})
}

func (m *Manager) fetchUpstream(ctx context.Context, logger *zap.Logger, id string) (*stripe.Subscription, error) {
	sub, err := m.Billing.GetSubscription(ctx, id)
	if err != nil {
		logger.Error("Unable to fetch subscription from Stripe",
			zap.Error(err),
		)
		return nil, classifyProviderError(err, "Cannot fetch subscription from provider")
	}
	if sub == nil || sub.ID == "" {
		return nil, extErrors.Wrapf(ErrMalformedEvent, "provider returned no subscription for %s", id)
	}
	return sub, nil
}

func (m *Manager) ingestCheckout(ctx context.Context, logger *zap.Logger, e *CheckoutCompleted) error {
	if e.SubscriptionID == "" {
		logger.Info("Checkout session completed without a subscription, dropping",
			zap.String("SessionID", e.SessionID),
		)
		return nil
	}
	logger = logger.With(zap.String("SubscriptionID", e.SubscriptionID))

	upstream, err := m.fetchUpstream(ctx, logger, e.SubscriptionID)
	if err != nil {
		return err
	}

	snap := snapshotFromStripe(upstream)
	if snap.CustomerID == "" {
		snap.CustomerID = e.CustomerID
	}
	snap.Metadata = snap.Metadata.Merge(e.Metadata)

	link := resolveLinkage(
		linkageFromMetadata(e.Metadata),
		linkage{UserID: e.ClientReferenceID},
		linkageFromMetadata(upstream.Metadata),
	)

	if err := m.recordCustomer(ctx, snap, link.UserID); err != nil {
		return err
	}

	saved, err := m.applyEvent(ctx, logger, e.Envelope, snap.ID, func(current *Subscription, desired *Subscription) (bool, error) {
		if err := desired.link(link); err != nil {
			return false, err
		}
		desired.applyPayment(snap, Period{
			Start: snap.CurrentPeriodStart,
			End:   snap.CurrentPeriodEnd,
		})
		return true, nil
	})
	if err != nil {
		return m.ingestError(logger, err)
	}
	m.notify(ctx, e.Type, saved)
	return nil
}

func (m *Manager) recordCustomer(ctx context.Context, snap Snapshot, userID string) error {
	if m.Customers == nil || snap.CustomerID == "" {
		return nil
	}
	return m.Customers.Upsert(ctx, &customer.Customer{
		ID:     snap.CustomerID,
		UserID: userID,
		Email:  snap.CustomerEmail,
	})
}

func (m *Manager) ingestPaymentSucceeded(ctx context.Context, logger *zap.Logger, e *PaymentSucceeded) error {
	if e.SubscriptionID == "" {
		logger.Info("Invoice is not attached to a subscription, dropping",
			zap.String("InvoiceID", e.InvoiceID),
		)
		return nil
	}
	logger = logger.With(zap.String("SubscriptionID", e.SubscriptionID))

	upstream, err := m.fetchUpstream(ctx, logger, e.SubscriptionID)
	if err != nil {
		return err
	}

	snap := snapshotFromStripe(upstream)
	period := Period{
		Start: snap.CurrentPeriodStart,
		End:   snap.CurrentPeriodEnd,
	}
	if e.Period != nil {
		period = *e.Period
	}
	link := linkageFromMetadata(upstream.Metadata)

	saved, err := m.applyEvent(ctx, logger, e.Envelope, snap.ID, func(current *Subscription, desired *Subscription) (bool, error) {
		if err := desired.link(link); err != nil {
			return false, err
		}
		desired.applyPayment(snap, period)
		return true, nil
	})
	if err != nil {
		return m.ingestError(logger, err)
	}
	m.notify(ctx, e.Type, saved)
	return nil
}

func (m *Manager) ingestPaymentFailed(ctx context.Context, logger *zap.Logger, e *PaymentFailed) error {
	if e.SubscriptionID == "" {
		logger.Info("Invoice is not attached to a subscription, dropping",
			zap.String("InvoiceID", e.InvoiceID),
		)
		return nil
	}
	logger = logger.With(zap.String("SubscriptionID", e.SubscriptionID))

	saved, err := m.applyEvent(ctx, logger, e.Envelope, e.SubscriptionID, func(current *Subscription, desired *Subscription) (bool, error) {
		if current == nil {
			logger.Info("Payment failed for an unknown subscription, ignoring")
			return false, nil
		}
		if current.Status == StatusCanceled {
			logger.Info("Payment failed for a canceled subscription, ignoring")
			return false, nil
		}
		desired.Status = StatusIncomplete
		return true, nil
	})
	if err != nil {
		return m.ingestError(logger, err)
	}
	m.notify(ctx, e.Type, saved)
	return nil
}

func (m *Manager) ingestUpdated(ctx context.Context, logger *zap.Logger, e *SubscriptionUpdated) error {
	snap := e.Snapshot
	logger = logger.With(zap.String("SubscriptionID", snap.ID))

	saved, err := m.applyEvent(ctx, logger, e.Envelope, snap.ID, func(current *Subscription, desired *Subscription) (bool, error) {
		if current == nil {
			logger.Info("Update for a subscription not yet recorded, ignoring")
			return false, nil
		}
		// Stripe never reopens a canceled subscription, so only a late update
		// delivered after a local cancel can carry a live status here
		if current.Status == StatusCanceled && snap.Status != StatusCanceled {
			logger.Info("Update would reopen a canceled subscription, ignoring",
				zap.String("Status", string(snap.Status)),
			)
			return false, nil
		}
		// records created by a deletion shell may still lack identities
		_ = desired.link(linkageFromMetadata(snap.Metadata))
		desired.applyUpdate(snap)
		return true, nil
	})
	if err != nil {
		return m.ingestError(logger, err)
	}
	m.notify(ctx, e.Type, saved)
	return nil
}

func (m *Manager) ingestDeleted(ctx context.Context, logger *zap.Logger, e *SubscriptionDeleted) error {
	snap := e.Snapshot
	logger = logger.With(zap.String("SubscriptionID", snap.ID))

	now := m.now()
	saved, err := m.applyEvent(ctx, logger, e.Envelope, snap.ID, func(current *Subscription, desired *Subscription) (bool, error) {
		if current == nil {
			logger.Warn("Deletion for a subscription not yet recorded, creating canceled record")
			if !snap.CurrentPeriodStart.IsZero() {
				desired.CurrentPeriodStart = snap.CurrentPeriodStart
			}
			desired.CurrentPeriodEnd = snap.CurrentPeriodEnd
			desired.StartDate = snap.StartDate
			desired.TrialEnd = snap.TrialEnd
		}
		_ = desired.link(linkageFromMetadata(snap.Metadata))
		desired.applyIdentity(snap)

		desired.Status = StatusCanceled
		desired.CancelAtPeriodEnd = false
		switch {
		case snap.CanceledAt != nil:
			desired.CanceledAt = snap.CanceledAt
		case desired.CanceledAt == nil:
			desired.CanceledAt = &now
		}
		if snap.EndedAt != nil {
			desired.EndedAt = snap.EndedAt
		}
		return true, nil
	})
	if err != nil {
		return m.ingestError(logger, err)
	}
	m.notify(ctx, e.Type, saved)
	return nil
}

func (m *Manager) ingestTrialWillEnd(ctx context.Context, logger *zap.Logger, e *TrialWillEnd) error {
	snap := e.Snapshot
	logger = logger.With(zap.String("SubscriptionID", snap.ID))

	sub, err := m.GetByID(ctx, snap.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		logger.Info("Trial ending for a subscription not yet recorded")
		sub = &Subscription{ID: snap.ID}
		_ = sub.link(linkageFromMetadata(snap.Metadata))
		sub.applyUpdate(snap)
	}
	if snap.TrialEnd != nil {
		sub.TrialEnd = snap.TrialEnd
	}
	m.notify(ctx, e.Type, sub)
	return nil
}

func (m *Manager) ingestError(logger *zap.Logger, err error) error {
	if extErrors.Is(err, ErrUnlinkedSubscription) {
		logger.Warn("Subscription carries no user or website linkage")
		return err
	}
	logger.Error("Unable to reconcile subscription",
		zap.Error(err),
	)
	return extErrors.Wrap(err, "Cannot reconcile subscription")
}
