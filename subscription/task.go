package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/zllovesuki/pagecraft/spec"

	"go.uber.org/zap"
)

// TaskOptions contains the configuration of the reconciliation Task
type TaskOptions struct {
	SubscriptionManager *Manager
	Logger              *zap.Logger
	Interval            time.Duration // defaults to spec.SyncInterval
	BatchSize           int           // defaults to spec.SyncBatchSize
}

// Task periodically re-reads subscriptions whose local period has ended
// without a cancellation, catching webhook deliveries that never arrived.
type Task struct {
	TaskOptions
}

// NewTask returns a reconciliation Task
func NewTask(option TaskOptions) (*Task, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Interval <= 0 {
		option.Interval = spec.SyncInterval
	}
	if option.BatchSize <= 0 {
		option.BatchSize = spec.SyncBatchSize
	}
	return &Task{
		TaskOptions: option,
	}, nil
}

// Sweep pages through every drifted subscription, BatchSize records at a time, and
// returns how many were updated. A failing subscription is logged and skipped, the
// next page starts after it.
func (t *Task) Sweep(ctx context.Context) (int, error) {
	now := t.SubscriptionManager.now()
	var cursor *DriftCursor

	synced := 0
	for {
		drifted, err := t.SubscriptionManager.ListDrifted(ctx, now, cursor, t.BatchSize)
		if err != nil {
			return synced, err
		}

		for _, sub := range drifted {
			if ctx.Err() != nil {
				return synced, ctx.Err()
			}
			logger := t.Logger.With(zap.String("SubscriptionID", sub.ID))
			if _, err := t.SubscriptionManager.Synchronize(ctx, sub.ID); err != nil {
				logger.Error("Unable to synchronize drifted subscription",
					zap.Error(err),
				)
				continue
			}
			synced++
		}

		if len(drifted) < t.BatchSize {
			return synced, nil
		}
		last := drifted[len(drifted)-1]
		cursor = &DriftCursor{
			CurrentPeriodEnd: last.CurrentPeriodEnd,
			ID:               last.ID,
		}
	}
}

// Run sweeps every Interval until ctx is canceled
func (t *Task) Run(ctx context.Context) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		synced, err := t.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			t.Logger.Error("Unable to sweep drifted subscriptions",
				zap.Error(err),
			)
		} else if synced > 0 {
			t.Logger.Info("Synchronized drifted subscriptions",
				zap.Int("Count", synced),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
