package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/zllovesuki/pagecraft/auth"
	resp "github.com/zllovesuki/pagecraft/response"

	"github.com/go-chi/chi"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = int64(512 << 10)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth                *auth.Auth
	SubscriptionManager *Manager
	EventLog            EventLog // optional, disables duplicate detection when nil
	WebhookSecret       string
	Logger              *zap.Logger
}

// Service is the subscription API router and the Stripe webhook receiver
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the subscription API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.WebhookSecret == "" {
		return nil, fmt.Errorf("empty WebhookSecret is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// WebhookReceipt is the acknowledgement returned to Stripe
type WebhookReceipt struct {
	Received  bool   `json:"received"`
	EventType string `json:"eventType"`
}

func isSignatureError(err error) bool {
	switch err {
	case webhook.ErrNotSigned, webhook.ErrInvalidHeader, webhook.ErrNoValidSignature, webhook.ErrTooOld:
		return true
	}
	return false
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.Logger.Error("Rejected webhook over the body limit",
				zap.Int64("Limit", tooLarge.Limit),
			)
			resp.WriteError(w, r, resp.ErrPayloadTooLarge().AddMessages("Webhook body exceeds the accepted size"))
			return
		}
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read request body"))
		return
	}

	evt, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.WebhookSecret)
	if err != nil {
		if isSignatureError(err) {
			s.Logger.Info("Rejected webhook with invalid signature",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid signature"))
			return
		}
		// signed by Stripe, so retrying the delivery would not help
		s.Logger.Error("Cannot decode signed webhook payload",
			zap.Error(err),
		)
		resp.WriteResponse(w, r, WebhookReceipt{Received: true})
		return
	}

	logger := s.Logger.With(
		zap.String("EventID", evt.ID),
		zap.String("EventType", evt.Type),
	)
	receipt := WebhookReceipt{
		Received:  true,
		EventType: evt.Type,
	}

	claimed := false
	if s.EventLog != nil && evt.ID != "" {
		state, err := s.EventLog.Claim(evt.ID)
		switch {
		case err != nil:
			logger.Warn("Unable to claim event, processing without duplicate detection",
				zap.Error(err),
			)
		case state == ClaimDone:
			logger.Info("Duplicate delivery of event, skipping")
			resp.WriteResponse(w, r, receipt)
			return
		case state == ClaimInFlight:
			logger.Info("Event is being processed by another attempt, asking for a retry")
			resp.WriteError(w, r, resp.ErrServiceUnavailable().AddMessages("Event is being processed"))
			return
		default:
			claimed = true
		}
	}

	if err := s.SubscriptionManager.Ingest(r.Context(), evt); err != nil {
		if !errors.Is(err, ErrMalformedEvent) && !errors.Is(err, ErrUnlinkedSubscription) {
			logger.Error("Unable to process webhook event",
				zap.Error(err),
			)
			if claimed {
				if err := s.EventLog.Release(evt.ID); err != nil {
					logger.Error("Unable to release event claim",
						zap.Error(err),
					)
				}
			}
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to process event"))
			return
		}
		logger.Warn("Acknowledging event that cannot be applied",
			zap.Error(err),
		)
	}

	if claimed {
		if err := s.EventLog.Complete(evt.ID); err != nil {
			// the lease expires on its own, a redelivery is then applied again
			logger.Warn("Unable to mark event as processed",
				zap.Error(err),
			)
		}
	}
	resp.WriteResponse(w, r, receipt)
}

// writeError maps ledger errors onto HTTP responses
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, msg string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
	case errors.Is(err, ErrSubscriptionNotFound):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find subscription with specific ID"))
	case errors.Is(err, ErrNotOwner):
		resp.WriteError(w, r, resp.ErrForbidden().AddMessages("Subscription belongs to another user"))
	case errors.Is(err, ErrAlreadyCanceled):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Subscription is already canceled"))
	case errors.Is(err, ErrNotScheduledForCancellation):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Subscription is not scheduled for cancellation"))
	case errors.Is(err, ErrInvalidUpstreamRequest):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Billing provider rejected the request"))
	case errors.Is(err, ErrNotFoundUpstream):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Subscription no longer exists with the billing provider"))
	default:
		logger.Error(msg,
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages(msg))
	}
}

func (s *Service) getEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)
	websiteID := chi.URLParam(r, "websiteId")

	logger := s.Logger.With(
		zap.String("UserID", claims.UserID),
		zap.String("WebsiteID", websiteID),
	)

	ent, err := s.SubscriptionManager.Query(ctx, claims.UserID, websiteID)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot query subscription of website")
		return
	}

	resp.WriteResponse(w, r, ent)
}

// BulkEntitlementRequest is the body of a bulk entitlement query
type BulkEntitlementRequest struct {
	WebsiteIDs []string `json:"websiteIds"`
}

func (s *Service) getEntitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	logger := s.Logger.With(zap.String("UserID", claims.UserID))

	var req BulkEntitlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	results, err := s.SubscriptionManager.QueryBulk(ctx, claims.UserID, req.WebsiteIDs)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot query subscriptions of websites")
		return
	}

	resp.WriteResponse(w, r, results)
}

func (s *Service) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	var req CancelOption
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if req.UserID != "" && req.UserID != claims.UserID {
		resp.WriteError(w, r, resp.ErrForbidden().AddMessages("Cannot act on behalf of another user"))
		return
	}
	req.UserID = claims.UserID

	logger := s.Logger.With(
		zap.String("UserID", claims.UserID),
		zap.String("SubscriptionID", req.SubscriptionID),
	)

	result, err := s.SubscriptionManager.Cancel(ctx, req)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot cancel subscription")
		return
	}

	resp.WriteResponse(w, r, result)
}

// ReactivateRequest is the body of a reactivation
type ReactivateRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	UserID         string `json:"userId"`
}

func (s *Service) reactivateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	var req ReactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if req.UserID != "" && req.UserID != claims.UserID {
		resp.WriteError(w, r, resp.ErrForbidden().AddMessages("Cannot act on behalf of another user"))
		return
	}

	logger := s.Logger.With(
		zap.String("UserID", claims.UserID),
		zap.String("SubscriptionID", req.SubscriptionID),
	)

	sub, err := s.SubscriptionManager.Reactivate(ctx, req.SubscriptionID, claims.UserID)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot reactivate subscription")
		return
	}

	resp.WriteResponse(w, r, sub)
}

// WebhookRouter returns the unauthenticated routes receiving Stripe events
func (s *Service) WebhookRouter() http.Handler {
	r := chi.NewRouter()

	r.Post("/stripe", s.handleWebhook)

	return r
}

// Router will return the routes under subscription API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Use(s.Auth.ClaimCheck())

	r.Get("/websites/{websiteId}", s.getEntitlement)
	r.Post("/websites", s.getEntitlements)
	r.Post("/cancel", s.cancelSubscription)
	r.Post("/reactivate", s.reactivateSubscription)

	return r
}
