package subscription

import (
	"time"

	"github.com/zllovesuki/pagecraft/spec"
)

// Subscription is the local record of one Stripe subscription object
type Subscription struct {
	ID                 string        `json:"subscriptionId" gorm:"primaryKey"`       // Corresponds to Stripe's subscription ID
	UserID             string        `json:"userId" gorm:"index"`                    // Owner of the website
	WebsiteID          string        `json:"websiteId" gorm:"index"`                 // Website the subscription pays for
	CustomerID         string        `json:"customerId" gorm:"index"`                // Corresponds to Stripe's customer ID
	Status             Status        `json:"status" gorm:"index;not null"`           // See const.go
	Tier               Tier          `json:"tier" gorm:"not null;default:'unknown'"` // Read from metadata, never parsed from plan names
	CurrentPeriodStart time.Time     `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time     `json:"currentPeriodEnd" gorm:"index"` // Authoritative expiry for every entitlement check
	StartDate          *time.Time    `json:"startDate"`
	CancelAtPeriodEnd  bool          `json:"cancelAtPeriodEnd" gorm:"not null;default:false"`
	CancelAt           *time.Time    `json:"cancelAt"`
	CanceledAt         *time.Time    `json:"canceledAt"`
	EndedAt            *time.Time    `json:"endedAt"`
	TrialEnd           *time.Time    `json:"trialEnd"`
	Metadata           spec.Metadata `json:"metadata"`
	LastEventAt        *time.Time    `json:"-"` // Creation time of the newest provider event applied
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// IsEntitled is the single predicate deciding whether gated features are available.
// Trialing subscriptions are not entitled.
func (s *Subscription) IsEntitled(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.Status == StatusActive && s.CurrentPeriodEnd.After(now)
}

// Entitlement is the answer to "may this website use paid features right now".
// Data is the entitling record, or nil.
type Entitlement struct {
	HasActiveSubscription bool          `json:"hasActiveSubscription"`
	Data                  *Subscription `json:"data"`
}

// CancelResult describes the outcome of a cancellation
type CancelResult struct {
	Status            Status     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	CancelAt          *time.Time `json:"cancelAt"`
	CanceledAt        *time.Time `json:"canceledAt"`
	CurrentPeriodEnd  time.Time  `json:"currentPeriodEnd"`
	Refundable        bool       `json:"refundable"`
}

func (s *Subscription) notice(eventType string, at time.Time) *spec.SubscriptionNotice {
	return &spec.SubscriptionNotice{
		EventType:         eventType,
		SubscriptionID:    s.ID,
		UserID:            s.UserID,
		WebsiteID:         s.WebsiteID,
		Status:            string(s.Status),
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		TrialEnd:          s.TrialEnd,
		OccurredAt:        at,
	}
}
