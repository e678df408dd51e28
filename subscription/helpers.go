package subscription

import (
	"errors"
	"net/http"
	"time"

	"github.com/zllovesuki/pagecraft/spec"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
)

// Snapshot is the canonical field set extracted from a Stripe subscription object
type Snapshot struct {
	ID                 string
	CustomerID         string
	CustomerEmail      string
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	StartDate          *time.Time
	CancelAtPeriodEnd  bool
	CancelAt           *time.Time
	CanceledAt         *time.Time
	EndedAt            *time.Time
	TrialEnd           *time.Time
	Metadata           spec.Metadata
}

func snapshotFromStripe(sub *stripe.Subscription) Snapshot {
	snap := Snapshot{
		ID:                 sub.ID,
		Status:             normalizeStatus(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		StartDate:          optionalTime(sub.StartDate),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelAt:           optionalTime(sub.CancelAt),
		CanceledAt:         optionalTime(sub.CanceledAt),
		EndedAt:            optionalTime(sub.EndedAt),
		TrialEnd:           optionalTime(sub.TrialEnd),
		Metadata:           spec.Metadata(sub.Metadata).Clone(),
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
		snap.CustomerEmail = sub.Customer.Email
	}
	return snap
}

// normalizeStatus maps Stripe's status onto the local enumeration.
// past_due and unpaid become incomplete: the account is at risk but the
// renewal bookkeeping is kept.
func normalizeStatus(s stripe.SubscriptionStatus) Status {
	switch s {
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return StatusCanceled
	default:
		// incomplete, past_due, unpaid and anything Stripe adds later
		return StatusIncomplete
	}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func optionalTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := unixTime(sec)
	return &t
}

// linkage identifies who owns a subscription and which website it pays for
type linkage struct {
	UserID    string
	WebsiteID string
}

// resolveLinkage picks the first non-empty value from each source, in order
func resolveLinkage(sources ...linkage) linkage {
	var l linkage
	for _, s := range sources {
		if l.UserID == "" {
			l.UserID = s.UserID
		}
		if l.WebsiteID == "" {
			l.WebsiteID = s.WebsiteID
		}
	}
	return l
}

func linkageFromMetadata(m spec.Metadata) linkage {
	return linkage{
		UserID:    m[spec.MetadataUserID],
		WebsiteID: m[spec.MetadataWebsiteID],
	}
}

// link fills the owning identities of a record. Identities already stored are never overwritten.
func (s *Subscription) link(l linkage) error {
	if s.UserID == "" {
		s.UserID = l.UserID
	}
	if s.WebsiteID == "" {
		s.WebsiteID = l.WebsiteID
	}
	if s.UserID == "" || s.WebsiteID == "" {
		return ErrUnlinkedSubscription
	}
	return nil
}

// applyPayment copies the fields derived on checkout completion and successful payment
func (s *Subscription) applyPayment(snap Snapshot, period Period) {
	s.Status = snap.Status
	s.CurrentPeriodStart = period.Start
	s.CurrentPeriodEnd = period.End
	if snap.StartDate != nil {
		s.StartDate = snap.StartDate
	}
	s.applyIdentity(snap)
}

// applyUpdate copies the fields carried by customer.subscription.updated
func (s *Subscription) applyUpdate(snap Snapshot) {
	s.Status = snap.Status
	if !snap.CurrentPeriodStart.IsZero() {
		s.CurrentPeriodStart = snap.CurrentPeriodStart
	}
	s.CurrentPeriodEnd = snap.CurrentPeriodEnd
	s.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	s.CancelAt = snap.CancelAt
	s.CanceledAt = snap.CanceledAt
	s.TrialEnd = snap.TrialEnd
	if snap.StartDate != nil {
		s.StartDate = snap.StartDate
	}
	if snap.EndedAt != nil {
		s.EndedAt = snap.EndedAt
	}
	s.applyIdentity(snap)
}

func (s *Subscription) applyIdentity(snap Snapshot) {
	if snap.CustomerID != "" {
		s.CustomerID = snap.CustomerID
	}
	if s.Metadata == nil {
		s.Metadata = make(spec.Metadata)
	}
	s.Metadata = s.Metadata.Merge(snap.Metadata)
	s.Tier = ParseTier(s.Metadata[spec.MetadataPlanTier])
}

// classifyProviderError separates "missing upstream" and "invalid request" from other provider failures
func classifyProviderError(err error, msg string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound {
			return extErrors.Wrap(ErrNotFoundUpstream, stripeErr.Msg)
		}
		if stripeErr.Type == stripe.ErrorTypeInvalidRequest {
			return extErrors.Wrap(ErrInvalidUpstreamRequest, stripeErr.Msg)
		}
	}
	return extErrors.Wrap(err, msg)
}
