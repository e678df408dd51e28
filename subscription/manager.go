package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagerOptions contains the dependencies of the subscription ledger
type ManagerOptions struct {
	Billing   BillingClient
	DB        *gorm.DB
	Logger    *zap.Logger
	Notifier  Notifier         // optional
	Customers CustomerRecorder // optional
	Clock     func() time.Time // optional, defaults to time.Now
}

// Manager is the subscription ledger. It owns the local record of every
// Stripe subscription and answers entitlement queries from it.
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for subscriptions
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Billing == nil {
		return nil, fmt.Errorf("nil Billing is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	if err := option.DB.AutoMigrate(&Subscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

func (m *Manager) now() time.Time {
	return m.Clock().UTC().Truncate(time.Microsecond)
}

// GetByID returns the record with the given subscription ID, or nil if there is none
func (m *Manager) GetByID(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription

	result := m.DB.WithContext(ctx).Where("id = ?", id).Take(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by id")
	}

	return &sub, nil
}

// Query reports whether the website currently has an entitling subscription
func (m *Manager) Query(ctx context.Context, userID, websiteID string) (*Entitlement, error) {
	if err := validateQuery(userID, websiteID); err != nil {
		return nil, err
	}

	subs := make([]Subscription, 0, 1)
	result := m.DB.WithContext(ctx).
		Where("user_id = ? AND website_id = ?", userID, websiteID).
		Where("status = ?", StatusActive).
		Order("current_period_end desc").
		Find(&subs)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot query subscriptions by website")
	}

	now := m.now()
	for i := range subs {
		if subs[i].IsEntitled(now) {
			return &Entitlement{
				HasActiveSubscription: true,
				Data:                  &subs[i],
			}, nil
		}
	}
	return &Entitlement{}, nil
}

// QueryBulk is Query over many websites. Every requested website ID has an
// entry in the result, defaulting to no entitlement.
func (m *Manager) QueryBulk(ctx context.Context, userID string, websiteIDs []string) (map[string]*Entitlement, error) {
	if err := validate.Var(userID, "required,max=128"); err != nil {
		return nil, invalidInput(extErrors.Wrap(err, "userId"))
	}
	if err := validate.Var(websiteIDs, "required,min=1,max=100,dive,uuid4"); err != nil {
		return nil, invalidInput(extErrors.Wrap(err, "websiteIds"))
	}

	results := make(map[string]*Entitlement, len(websiteIDs))
	for _, id := range websiteIDs {
		results[id] = &Entitlement{}
	}

	subs := make([]Subscription, 0, len(websiteIDs))
	result := m.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("website_id IN ?", websiteIDs).
		Where("status = ?", StatusActive).
		Order("current_period_end desc").
		Find(&subs)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot query subscriptions by websites")
	}

	now := m.now()
	for i := range subs {
		ent := results[subs[i].WebsiteID]
		if ent == nil || ent.HasActiveSubscription || !subs[i].IsEntitled(now) {
			continue
		}
		ent.HasActiveSubscription = true
		ent.Data = &subs[i]
	}
	return results, nil
}

// DeleteByWebsite removes every subscription record of a website. It is the
// first step of deleting the website itself.
func (m *Manager) DeleteByWebsite(ctx context.Context, websiteID string) error {
	result := m.DB.WithContext(ctx).Where("website_id = ?", websiteID).Delete(&Subscription{})
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
			zap.String("WebsiteID", websiteID),
		)
		return extErrors.Wrap(result.Error, "Cannot delete subscriptions of website")
	}
	return nil
}

// DriftCursor is the position of the last record of a ListDrifted page
type DriftCursor struct {
	CurrentPeriodEnd time.Time
	ID               string
}

// ListDrifted returns records that still look alive locally although their period has ended,
// ordered by period end then ID. A non-nil after returns only records past that position.
func (m *Manager) ListDrifted(ctx context.Context, before time.Time, after *DriftCursor, limit int) ([]Subscription, error) {
	baseQuery := m.DB.WithContext(ctx).
		Where("status <> ?", StatusCanceled).
		Where("current_period_end < ?", before.UTC())
	if after != nil {
		end := after.CurrentPeriodEnd.UTC()
		baseQuery = baseQuery.Where("(current_period_end > ? OR (current_period_end = ? AND id > ?))", end, end, after.ID)
	}
	baseQuery = baseQuery.Order("current_period_end asc").Order("id asc")
	if limit > 0 {
		baseQuery = baseQuery.Limit(limit)
	}

	results := make([]Subscription, 0, 1)
	result := baseQuery.Find(&results)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list drifted subscriptions")
	}
	return results, nil
}

// ReconcileFunc computes the desired record from the current one. current is nil
// when no record exists yet, in which case desired only carries the ID.
// Returning false leaves the database untouched.
type ReconcileFunc func(current *Subscription, desired *Subscription) (shouldSave bool, err error)

// reconcile reads the record (locked FOR UPDATE), lets fn compute the new values and upserts
// the result. It returns the saved record, or nil if fn decided not to save.
func (m *Manager) reconcile(ctx context.Context, id string, fn ReconcileFunc) (*Subscription, error) {
	var desired Subscription
	var saved bool
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Subscription
		var currentRef *Subscription
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&current)
		switch {
		case lookupRes.Error == nil:
			desired = current
			desired.Metadata = current.Metadata.Clone()
			currentRef = &current
		case errors.Is(lookupRes.Error, gorm.ErrRecordNotFound):
			desired = Subscription{ID: id}
		default:
			return lookupRes.Error
		}

		shouldSave, err := fn(currentRef, &desired)
		if err != nil {
			return err
		}
		if !shouldSave {
			return nil
		}

		desired.ID = id
		desired.UpdatedAt = m.now()
		if desired.Tier == "" {
			desired.Tier = TierUnknown
		}
		upsertRes := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&desired)
		if upsertRes.Error != nil {
			return upsertRes.Error
		}
		saved = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, nil
	}
	return &desired, nil
}

func (m *Manager) notify(ctx context.Context, eventType string, sub *Subscription) {
	if m.Notifier == nil || sub == nil {
		return
	}
	if err := m.Notifier.PublishNotice(ctx, sub.notice(eventType, m.now())); err != nil {
		m.Logger.Warn("Cannot publish subscription notice",
			zap.Error(err),
			zap.String("SubscriptionID", sub.ID),
			zap.String("EventType", eventType),
		)
	}
}
