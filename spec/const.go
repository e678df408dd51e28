package spec

import "time"

// Define constants for both API and background tasks
const (
	NoticeExchange string        = "subscription_notices"
	SyncInterval   time.Duration = time.Minute * 15
	SyncBatchSize  int           = 50
)

// Keys read from the metadata Stripe carries on sessions and subscriptions
const (
	MetadataUserID    string = "userId"
	MetadataWebsiteID string = "websiteId"
	MetadataPlanTier  string = "planTier"
)
