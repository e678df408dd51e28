package website

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/zllovesuki/pagecraft/auth"
	resp "github.com/zllovesuki/pagecraft/response"
	"github.com/zllovesuki/pagecraft/subscription"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth           *auth.Auth
	WebsiteManager *Manager
	Gate           *Gate
	Logger         *zap.Logger
}

// Service is the website API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the website API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.WebsiteManager == nil {
		return nil, fmt.Errorf("nil WebsiteManager is invalid")
	}
	if option.Gate == nil {
		return nil, fmt.Errorf("nil Gate is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, msg string) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, subscription.ErrInvalidInput):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
	case errors.Is(err, ErrInvalidDomain):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Domain is not a valid host name"))
	case errors.Is(err, ErrUnknownTemplate):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot find template with specific ID"))
	case errors.Is(err, ErrWebsiteNotFound):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find website with specific ID"))
	case errors.Is(err, ErrRequiresSubscription):
		resp.WriteError(w, r, resp.ErrRequiresSubscription().AddMessages("Upgrade the website to a paid plan to use this feature"))
	case errors.Is(err, ErrDomainTaken):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Domain is already used by another website"))
	case errors.Is(err, ErrDomainMismatch):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Domain does not match the domain assigned to the website"))
	case errors.Is(err, ErrDomainNotResolved):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Domain does not point to the publishing target yet"))
	default:
		logger.Error(msg,
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages(msg))
	}
}

func (s *Service) scoped(r *http.Request) (*auth.Claims, *zap.Logger) {
	claims, _ := auth.FromContext(r.Context())
	logger := s.Logger.With(zap.String("UserID", claims.UserID))
	if websiteID := chi.URLParam(r, "id"); websiteID != "" {
		logger = logger.With(zap.String("WebsiteID", websiteID))
	}
	return claims, logger
}

// CreateRequest is the body of a website creation
type CreateRequest struct {
	TemplateID string `json:"templateId"`
	Name       string `json:"name"`
}

func (s *Service) createWebsite(w http.ResponseWriter, r *http.Request) {
	claims, logger := s.scoped(r)

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	site, err := s.WebsiteManager.Create(r.Context(), CreateOption{
		UserID:     claims.UserID,
		TemplateID: req.TemplateID,
		Name:       req.Name,
	})
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot create website")
		return
	}

	resp.WriteResponseWithStatus(w, r, http.StatusCreated, site)
}

func (s *Service) listWebsites(w http.ResponseWriter, r *http.Request) {
	claims, logger := s.scoped(r)

	results, err := s.WebsiteManager.ListByUser(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot get the list of websites")
		return
	}

	resp.WriteResponse(w, r, results)
}

func (s *Service) getWebsite(w http.ResponseWriter, r *http.Request) {
	claims, logger := s.scoped(r)

	site, err := s.WebsiteManager.Get(r.Context(), chi.URLParam(r, "id"), claims.UserID)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot get details about the website")
		return
	}

	resp.WriteResponse(w, r, site)
}

func (s *Service) updateWebsite(w http.ResponseWriter, r *http.Request) {
	claims, logger := s.scoped(r)

	var req UpdateOption
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	site, err := s.WebsiteManager.Update(r.Context(), chi.URLParam(r, "id"), claims.UserID, req)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot update website")
		return
	}

	resp.WriteResponse(w, r, site)
}

func (s *Service) deleteWebsite(w http.ResponseWriter, r *http.Request) {
	claims, logger := s.scoped(r)

	if err := s.WebsiteManager.Delete(r.Context(), chi.URLParam(r, "id"), claims.UserID); err != nil {
		s.writeError(w, r, logger, err, "Cannot delete website")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PublishRequest is the body of a publish toggle
type PublishRequest struct {
	Published bool `json:"published"`
}

func (s *Service) publishWebsite(w http.ResponseWriter, r *http.Request) {
	claims, logger := s.scoped(r)

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	site, err := s.Gate.Publish(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.Published)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot publish website")
		return
	}

	resp.WriteResponse(w, r, site)
}

// DomainRequest is the body of custom domain assignment and verification
type DomainRequest struct {
	Domain string `json:"domain"`
}

func (s *Service) assignDomain(w http.ResponseWriter, r *http.Request) {
	claims, logger := s.scoped(r)

	var req DomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	site, err := s.Gate.AssignCustomDomain(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.Domain)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot assign custom domain")
		return
	}

	resp.WriteResponse(w, r, site)
}

func (s *Service) verifyDomain(w http.ResponseWriter, r *http.Request) {
	claims, logger := s.scoped(r)

	var req DomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	site, err := s.Gate.VerifyCustomDomain(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.Domain)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot verify custom domain")
		return
	}

	resp.WriteResponse(w, r, site)
}

func (s *Service) getHistory(w http.ResponseWriter, r *http.Request) {
	claims, logger := s.scoped(r)

	results, err := s.WebsiteManager.History(r.Context(), chi.URLParam(r, "id"), claims.UserID)
	if err != nil {
		s.writeError(w, r, logger, err, "Cannot get history of the website")
		return
	}

	resp.WriteResponse(w, r, results)
}

func (s *Service) listTemplates(w http.ResponseWriter, r *http.Request) {
	resp.WriteResponse(w, r, s.WebsiteManager.Catalog.List())
}

// TemplateRouter will return the routes under template API
func (s *Service) TemplateRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Use(s.Auth.ClaimCheck())

	r.Get("/", s.listTemplates)

	return r
}

// Router will return the routes under website API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Use(s.Auth.ClaimCheck())

	r.Post("/", s.createWebsite)
	r.Get("/", s.listWebsites)
	r.Get("/{id}", s.getWebsite)
	r.Patch("/{id}", s.updateWebsite)
	r.Delete("/{id}", s.deleteWebsite)
	r.Get("/{id}/history", s.getHistory)
	r.Post("/{id}/publish", s.publishWebsite)
	r.Put("/{id}/domain", s.assignDomain)
	r.Post("/{id}/domain/verify", s.verifyDomain)

	return r
}
