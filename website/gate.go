package website

import (
	"context"
	"errors"
	"fmt"

	"github.com/zllovesuki/pagecraft/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ledger is the part of the subscription ledger the gate depends on
type Ledger interface {
	Query(ctx context.Context, userID, websiteID string) (*subscription.Entitlement, error)
	DeleteByWebsite(ctx context.Context, websiteID string) error
}

var _ Ledger = &subscription.Manager{}

// GateOptions contains the dependencies of the entitlement Gate
type GateOptions struct {
	Websites *Manager
	Ledger   Ledger
	Resolver Resolver
	Logger   *zap.Logger
}

// Gate allows or denies publishing and custom domains based on the
// subscription ledger
type Gate struct {
	GateOptions
}

// NewGate returns a new entitlement Gate
func NewGate(option GateOptions) (*Gate, error) {
	if option.Websites == nil {
		return nil, fmt.Errorf("nil Websites is invalid")
	}
	if option.Ledger == nil {
		return nil, fmt.Errorf("nil Ledger is invalid")
	}
	if option.Resolver == nil {
		return nil, fmt.Errorf("nil Resolver is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Gate{
		GateOptions: option,
	}, nil
}

func (g *Gate) requireEntitlement(ctx context.Context, userID, websiteID string) error {
	ent, err := g.Ledger.Query(ctx, userID, websiteID)
	if err != nil {
		return extErrors.Wrap(err, "Cannot query subscription of website")
	}
	if ent == nil || !ent.HasActiveSubscription {
		return ErrRequiresSubscription
	}
	return nil
}

// owned aborts a lambda when the website is gone or changed hands
func owned(current *Website, userID string) error {
	if current == nil || current.UserID != userID {
		return ErrWebsiteNotFound
	}
	return nil
}

// Publish sets the published state of a website. Publishing requires an
// entitling subscription, unpublishing is always permitted.
func (g *Gate) Publish(ctx context.Context, websiteID, userID string, published bool) (*Website, error) {
	if _, err := g.Websites.Get(ctx, websiteID, userID); err != nil {
		return nil, err
	}
	if published {
		if err := g.requireEntitlement(ctx, userID, websiteID); err != nil {
			return nil, err
		}
	}

	now := g.Websites.now()
	return g.Websites.LambdaUpdate(ctx, websiteID, func(current, desired *Website) (bool, error) {
		if err := owned(current, userID); err != nil {
			return false, err
		}
		desired.IsPublished = published
		switch {
		case published && !current.IsPublished:
			desired.PublishedAt = &now
			desired.action = ActionPublished
		case !published:
			desired.PublishedAt = nil
			if current.IsPublished {
				desired.action = ActionUnpublished
			}
		}
		return true, nil
	})
}

// AssignCustomDomain binds a domain to a website. The domain must be unused by
// other websites, and verification starts over.
func (g *Gate) AssignCustomDomain(ctx context.Context, websiteID, userID, domain string) (*Website, error) {
	normalized, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	if _, err := g.Websites.Get(ctx, websiteID, userID); err != nil {
		return nil, err
	}
	if err := g.requireEntitlement(ctx, userID, websiteID); err != nil {
		return nil, err
	}

	holder, err := g.Websites.FindByDomain(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if holder != nil && holder.ID != websiteID {
		return nil, ErrDomainTaken
	}

	w, err := g.Websites.LambdaUpdate(ctx, websiteID, func(current, desired *Website) (bool, error) {
		if err := owned(current, userID); err != nil {
			return false, err
		}
		desired.CustomDomain = &normalized
		desired.IsCustomDomainVerified = false
		desired.DomainVerifiedAt = nil
		desired.action = ActionDomainAssigned
		return true, nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrDomainTaken
	}
	if err != nil {
		return nil, err
	}

	g.Logger.Info("Custom domain assigned to website",
		zap.String("WebsiteID", websiteID),
		zap.String("Domain", normalized),
	)
	return w, nil
}

// VerifyCustomDomain checks that the assigned domain points to the publishing
// target and marks it verified.
func (g *Gate) VerifyCustomDomain(ctx context.Context, websiteID, userID, domain string) (*Website, error) {
	normalized, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	w, err := g.Websites.Get(ctx, websiteID, userID)
	if err != nil {
		return nil, err
	}
	if err := g.requireEntitlement(ctx, userID, websiteID); err != nil {
		return nil, err
	}
	if w.CustomDomain == nil || *w.CustomDomain != normalized {
		return nil, ErrDomainMismatch
	}

	ok, err := g.Resolver.Resolves(ctx, normalized)
	if err != nil {
		g.Logger.Warn("Unable to resolve custom domain",
			zap.Error(err),
			zap.String("WebsiteID", websiteID),
			zap.String("Domain", normalized),
		)
		return nil, extErrors.Wrap(err, "Cannot resolve custom domain")
	}
	if !ok {
		return nil, ErrDomainNotResolved
	}

	now := g.Websites.now()
	return g.Websites.LambdaUpdate(ctx, websiteID, func(current, desired *Website) (bool, error) {
		if err := owned(current, userID); err != nil {
			return false, err
		}
		// reassigned while the lookup was running
		if current.CustomDomain == nil || *current.CustomDomain != normalized {
			return false, ErrDomainMismatch
		}
		desired.IsCustomDomainVerified = true
		desired.DomainVerifiedAt = &now
		desired.action = ActionDomainVerified
		return true, nil
	})
}
