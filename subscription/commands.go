package subscription

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// CancelOption is the input of Cancel. UserID is optional; when set it must own the subscription.
type CancelOption struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,subscription_id"`
	UserID         string `json:"userId" validate:"omitempty,max=128"`
	Immediate      bool   `json:"cancelImmediately"`
}

func checkCommand(sub *Subscription, userID string) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	if userID != "" && sub.UserID != userID {
		return ErrNotOwner
	}
	return nil
}

// Cancel ends a subscription with the provider, either now or at the end of the
// current period, and records the outcome locally.
func (m *Manager) Cancel(ctx context.Context, option CancelOption) (*CancelResult, error) {
	if err := validate.Struct(&option); err != nil {
		return nil, invalidInput(err)
	}

	logger := m.Logger.With(
		zap.String("SubscriptionID", option.SubscriptionID),
		zap.Bool("Immediate", option.Immediate),
	)

	current, err := m.GetByID(ctx, option.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if err := checkCommand(current, option.UserID); err != nil {
		return nil, err
	}
	if current.Status == StatusCanceled {
		return nil, ErrAlreadyCanceled
	}

	if option.Immediate {
		_, err = m.Billing.CancelNow(ctx, option.SubscriptionID)
	} else {
		upstream, updateErr := m.Billing.SetCancelAtPeriodEnd(ctx, option.SubscriptionID, true)
		err = updateErr
		if err == nil && (upstream == nil || !upstream.CancelAtPeriodEnd) {
			err = fmt.Errorf("Subscription is not set to cancel at period end")
		}
	}
	if err != nil {
		logger.Error("Unable to cancel subscription in Stripe",
			zap.Error(err),
		)
		return nil, classifyProviderError(err, "Cannot cancel subscription")
	}

	now := m.now()
	saved, err := m.reconcile(ctx, option.SubscriptionID, func(current *Subscription, desired *Subscription) (bool, error) {
		if current == nil {
			return false, ErrSubscriptionNotFound
		}
		if option.Immediate {
			desired.Status = StatusCanceled
			desired.CancelAtPeriodEnd = false
			desired.CurrentPeriodEnd = now
			desired.CancelAt = &now
			desired.CanceledAt = &now
			desired.EndedAt = &now
		} else {
			periodEnd := desired.CurrentPeriodEnd
			desired.CancelAtPeriodEnd = true
			desired.CancelAt = &periodEnd
			desired.CanceledAt = &now
		}
		return true, nil
	})
	if err != nil {
		logger.Error("Subscription was canceled in Stripe but not in database",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot record canceled subscription")
	}

	m.notify(ctx, NoticeCanceled, saved)

	return &CancelResult{
		Status:            saved.Status,
		CancelAtPeriodEnd: saved.CancelAtPeriodEnd,
		CancelAt:          saved.CancelAt,
		CanceledAt:        saved.CanceledAt,
		CurrentPeriodEnd:  saved.CurrentPeriodEnd,
		Refundable:        option.Immediate && refundable(current.CurrentPeriodStart, now),
	}, nil
}

// refundable reports whether now falls within RefundWindow of the period start
func refundable(periodStart, now time.Time) bool {
	if periodStart.IsZero() || now.Before(periodStart) {
		return false
	}
	return now.Sub(periodStart) <= RefundWindow
}

// Reactivate undoes a cancellation scheduled for the end of the current period
func (m *Manager) Reactivate(ctx context.Context, subscriptionID, userID string) (*Subscription, error) {
	if err := validate.Var(subscriptionID, "required,subscription_id"); err != nil {
		return nil, invalidInput(extErrors.Wrap(err, "subscriptionId"))
	}
	if err := validate.Var(userID, "omitempty,max=128"); err != nil {
		return nil, invalidInput(extErrors.Wrap(err, "userId"))
	}

	logger := m.Logger.With(zap.String("SubscriptionID", subscriptionID))

	current, err := m.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := checkCommand(current, userID); err != nil {
		return nil, err
	}
	if !current.CancelAtPeriodEnd {
		return nil, ErrNotScheduledForCancellation
	}

	upstream, err := m.Billing.SetCancelAtPeriodEnd(ctx, subscriptionID, false)
	if err == nil && (upstream == nil || upstream.CancelAtPeriodEnd) {
		err = fmt.Errorf("Subscription is still set to cancel at period end")
	}
	if err != nil {
		logger.Error("Unable to reactivate subscription in Stripe",
			zap.Error(err),
		)
		return nil, classifyProviderError(err, "Cannot reactivate subscription")
	}

	saved, err := m.reconcile(ctx, subscriptionID, func(current *Subscription, desired *Subscription) (bool, error) {
		if current == nil {
			return false, ErrSubscriptionNotFound
		}
		desired.CancelAtPeriodEnd = false
		desired.Status = StatusActive
		desired.CancelAt = nil
		desired.CanceledAt = nil
		return true, nil
	})
	if err != nil {
		logger.Error("Subscription was reactivated in Stripe but not in database",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot record reactivated subscription")
	}

	m.notify(ctx, NoticeReactivated, saved)

	return saved, nil
}

// Synchronize re-reads a subscription from the provider and applies it as an update.
// A subscription the provider no longer knows is marked canceled locally.
func (m *Manager) Synchronize(ctx context.Context, subscriptionID string) (*Subscription, error) {
	logger := m.Logger.With(zap.String("SubscriptionID", subscriptionID))

	var fn ReconcileFunc
	upstream, err := m.fetchUpstream(ctx, logger, subscriptionID)
	switch {
	case err == nil:
		snap := snapshotFromStripe(upstream)
		fn = func(current *Subscription, desired *Subscription) (bool, error) {
			if current == nil {
				return false, ErrSubscriptionNotFound
			}
			desired.applyUpdate(snap)
			return true, nil
		}
	case extErrors.Is(err, ErrNotFoundUpstream):
		logger.Warn("Subscription no longer exists in Stripe, marking as canceled")
		now := m.now()
		fn = func(current *Subscription, desired *Subscription) (bool, error) {
			if current == nil {
				return false, ErrSubscriptionNotFound
			}
			desired.Status = StatusCanceled
			desired.CancelAtPeriodEnd = false
			if desired.CanceledAt == nil {
				desired.CanceledAt = &now
			}
			if desired.EndedAt == nil {
				desired.EndedAt = &now
			}
			return true, nil
		}
	default:
		return nil, err
	}

	saved, err := m.reconcile(ctx, subscriptionID, fn)
	if err != nil {
		if extErrors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
		logger.Error("Unable to synchronize subscription",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot synchronize subscription")
	}

	m.notify(ctx, NoticeSynchronized, saved)

	return saved, nil
}
