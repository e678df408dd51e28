package website

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagerOptions contains the dependencies of the website Manager
type ManagerOptions struct {
	DB      *gorm.DB
	Logger  *zap.Logger
	Catalog *Catalog
	Ledger  Ledger           // cleans up subscriptions when a website is deleted
	Clock   func() time.Time // optional, defaults to time.Now
}

// Manager handles the database operations relating to Website
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for websites
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.Ledger == nil {
		return nil, fmt.Errorf("nil Ledger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	if err := option.DB.AutoMigrate(&Website{}, &History{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize website.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

func (m *Manager) now() time.Time {
	return m.Clock().UTC().Truncate(time.Microsecond)
}

func invalidInput(err error) error {
	return extErrors.Wrap(ErrInvalidInput, err.Error())
}

// CreateOption describes a new website
type CreateOption struct {
	UserID     string `json:"userId" validate:"required,max=128"`
	TemplateID string `json:"templateId" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=128"`
}

// Create makes a new website for the user, seeded with the template content
func (m *Manager) Create(ctx context.Context, opt CreateOption) (*Website, error) {
	if err := validate.Struct(opt); err != nil {
		return nil, invalidInput(err)
	}
	tmpl, ok := m.Catalog.Get(opt.TemplateID)
	if !ok {
		return nil, ErrUnknownTemplate
	}

	now := m.now()
	w := &Website{
		ID:         uuid.New().String(),
		UserID:     opt.UserID,
		TemplateID: tmpl.ID,
		Name:       opt.Name,
		Content:    tmpl.Content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	result := m.DB.WithContext(ctx).Create(w)
	if result.Error != nil {
		m.Logger.Error("Unable to create new website in database",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create website")
	}
	return w, nil
}

// GetByID returns the website with the given ID, or nil if there is none
func (m *Manager) GetByID(ctx context.Context, id string) (*Website, error) {
	w := Website{}

	result := m.DB.WithContext(ctx).Where("id = ?", id).Take(&w)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get website by id")
	}

	return &w, nil
}

// Get returns the website owned by userID. Websites of other users are reported as not found.
func (m *Manager) Get(ctx context.Context, id, userID string) (*Website, error) {
	if err := validate.Var(id, "required,uuid4"); err != nil {
		return nil, invalidInput(extErrors.Wrap(err, "websiteId"))
	}
	w, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil || w.UserID != userID {
		return nil, ErrWebsiteNotFound
	}
	return w, nil
}

// ListByUser returns the websites of a user, newest first
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]Website, error) {
	results := make([]Website, 0, 1)
	result := m.DB.WithContext(ctx).
		Order("created_at desc").
		Find(&results, "user_id = ?", userID)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list websites of user")
	}
	return results, nil
}

// FindByDomain returns the website holding the normalized domain, or nil if there is none
func (m *Manager) FindByDomain(ctx context.Context, domain string) (*Website, error) {
	w := Website{}

	result := m.DB.WithContext(ctx).Where("custom_domain = ?", domain).Take(&w)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get website by domain")
	}

	return &w, nil
}

// LambdaUpdateFunc computes the desired state of a website. current and desired
// are nil if no Website with the given id was found. Returning an error aborts the transaction.
type LambdaUpdateFunc func(current *Website, desired *Website) (shouldSave bool, err error)

// LambdaUpdate will perform a transactional update based on the lambda function. If the lambda signals shouldSave
// AND the update was successful, it will return the new state. The selected Website is locked with FOR UPDATE.
func (m *Manager) LambdaUpdate(ctx context.Context, id string, lambda LambdaUpdateFunc) (*Website, error) {
	var desired Website
	var shouldReturn bool
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Website
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&current)
		if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			_, err := lambda(nil, nil)
			return err
		}
		if lookupRes.Error != nil {
			return lookupRes.Error
		}

		desired = current
		shouldSave, err := lambda(&current, &desired)
		if err != nil {
			return err
		}
		if !shouldSave {
			return nil
		}
		now := m.now()
		desired.UpdatedAt = now
		if saveRes := tx.Save(&desired); saveRes.Error != nil {
			return saveRes.Error
		}
		if desired.action != "" {
			entry := History{
				WebsiteID:  desired.ID,
				Action:     desired.action,
				Domain:     desired.CustomDomain,
				OccurredAt: now,
			}
			if histRes := tx.Create(&entry); histRes.Error != nil {
				return histRes.Error
			}
		}
		shouldReturn = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !shouldReturn {
		return nil, nil
	}
	return &desired, nil
}

// UpdateOption carries the editable fields of a website. Nil fields are left unchanged.
type UpdateOption struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=128"`
	Content *string `json:"content" validate:"omitempty,max=1048576"`
}

// Update edits the name or content of a website owned by userID
func (m *Manager) Update(ctx context.Context, id, userID string, opt UpdateOption) (*Website, error) {
	if err := validate.Struct(opt); err != nil {
		return nil, invalidInput(err)
	}
	if opt.Name != nil && strings.TrimSpace(*opt.Name) == "" {
		return nil, invalidInput(fmt.Errorf("name cannot be empty"))
	}
	if _, err := m.Get(ctx, id, userID); err != nil {
		return nil, err
	}
	return m.LambdaUpdate(ctx, id, func(current, desired *Website) (bool, error) {
		if current == nil || current.UserID != userID {
			return false, ErrWebsiteNotFound
		}
		if opt.Name != nil {
			desired.Name = *opt.Name
		}
		if opt.Content != nil {
			desired.Content = *opt.Content
		}
		return true, nil
	})
}

// Delete removes a website owned by userID, together with its subscription records
func (m *Manager) Delete(ctx context.Context, id, userID string) error {
	if _, err := m.Get(ctx, id, userID); err != nil {
		return err
	}

	logger := m.Logger.With(zap.String("WebsiteID", id))

	if err := m.Ledger.DeleteByWebsite(ctx, id); err != nil {
		logger.Error("Unable to delete subscriptions of website",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot delete subscriptions of website")
	}

	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if histRes := tx.Where("website_id = ?", id).Delete(&History{}); histRes.Error != nil {
			return histRes.Error
		}
		return tx.Where("id = ? AND user_id = ?", id, userID).Delete(&Website{}).Error
	})
	if err != nil {
		logger.Error("Database returned error",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot delete website")
	}
	return nil
}
