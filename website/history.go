package website

import (
	"context"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Action is a gated change recorded in the history of a website
type Action string

// Defining constants
const (
	ActionPublished      Action = "Published"
	ActionUnpublished    Action = "Unpublished"
	ActionDomainAssigned Action = "DomainAssigned"
	ActionDomainVerified Action = "DomainVerified"
)

// History describes the gated actions taken on a website
type History struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	WebsiteID  string    `json:"websiteId" gorm:"not null;index"`
	Action     Action    `json:"action"`
	Domain     *string   `json:"domain,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// History returns the actions taken on a website owned by userID, newest first
func (m *Manager) History(ctx context.Context, id, userID string) ([]History, error) {
	if _, err := m.Get(ctx, id, userID); err != nil {
		return nil, err
	}
	results := make([]History, 0, 1)
	result := m.DB.WithContext(ctx).
		Order("occurred_at desc, id desc").
		Find(&results, "website_id = ?", id)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get history of website")
	}
	return results, nil
}
