package spec

import "time"

// SubscriptionNotice is published whenever the local subscription ledger changes,
// or when the provider announces something worth telling the customer about
type SubscriptionNotice struct {
	EventType         string     `json:"eventType"`
	SubscriptionID    string     `json:"subscriptionId"`
	UserID            string     `json:"userId"`
	WebsiteID         string     `json:"websiteId"`
	Status            string     `json:"status"`
	CurrentPeriodEnd  time.Time  `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	TrialEnd          *time.Time `json:"trialEnd,omitempty"`
	OccurredAt        time.Time  `json:"occurredAt"`
}
