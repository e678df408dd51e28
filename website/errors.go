package website

import "errors"

// Errors returned by Manager and Gate
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrWebsiteNotFound = errors.New("website not found")
	// ErrRequiresSubscription means the action needs an entitling subscription
	ErrRequiresSubscription = errors.New("an active subscription is required")
	ErrUnknownTemplate      = errors.New("unknown template")
)

// Custom domain errors
var (
	ErrInvalidDomain     = errors.New("invalid domain name")
	ErrDomainTaken       = errors.New("domain is assigned to another website")
	ErrDomainMismatch    = errors.New("domain does not match the assigned domain")
	ErrDomainNotResolved = errors.New("domain does not point to the publishing target")
)
