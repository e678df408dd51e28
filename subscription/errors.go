package subscription

import "errors"

// Input errors, rejected before any external call
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrMalformedEvent = errors.New("malformed provider event")
	// ErrUnlinkedSubscription means the provider data does not say which website the subscription is for
	ErrUnlinkedSubscription = errors.New("subscription is not linked to a website")
)

// Command precondition errors
var (
	ErrSubscriptionNotFound        = errors.New("subscription not found")
	ErrNotOwner                    = errors.New("subscription belongs to another user")
	ErrAlreadyCanceled             = errors.New("subscription is already canceled")
	ErrNotScheduledForCancellation = errors.New("subscription is not scheduled for cancellation")
)

// Provider errors
var (
	ErrInvalidUpstreamRequest = errors.New("provider rejected the request")
	// ErrNotFoundUpstream means the local record has drifted from the provider
	ErrNotFoundUpstream = errors.New("subscription not found at provider")
)
