package customer

import (
	"context"
	"errors"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager handles the database operations relating to Customers
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for customers
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if db == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if err := db.AutoMigrate(&Customer{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize customer.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Upsert records the customer state reported by Stripe. Empty fields do not
// overwrite values already stored.
func (m *Manager) Upsert(ctx context.Context, cust *Customer) error {
	if cust == nil || cust.ID == "" {
		return fmt.Errorf("customer without ID is invalid")
	}

	updates := make([]string, 0, 2)
	if cust.UserID != "" {
		updates = append(updates, "user_id")
	}
	if cust.Email != "" {
		updates = append(updates, "email")
	}
	onConflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
	}
	if len(updates) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns(updates)
	}

	result := m.db.WithContext(ctx).Clauses(onConflict).Create(cust)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
			zap.String("CustomerID", cust.ID),
		)
		return extErrors.Wrap(result.Error, "Cannot upsert customer")
	}
	return nil
}

// GetByID will try to return the customer in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Customer, error) {
	var cust Customer

	result := m.db.WithContext(ctx).First(&cust, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by id")
	}

	return &cust, nil
}

// ListByUserID returns every Stripe customer recorded for a user
func (m *Manager) ListByUserID(ctx context.Context, userID string) ([]Customer, error) {
	results := make([]Customer, 0, 1)

	result := m.db.WithContext(ctx).Where("user_id = ?", userID).Order("id asc").Find(&results)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list customers by user id")
	}

	return results, nil
}
