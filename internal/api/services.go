package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/echolabs/echo-agent/internal/domain"
	"github.com/echolabs/echo-agent/internal/identity"
)

// serviceLocks serializes service changes per user.
var serviceLocks sync.Map

// ServiceStore persists per-user service configs.
type ServiceStore interface {
	ListUserServices(ctx context.Context, userID string) ([]domain.ServiceConfig, error)
	UpsertUserService(ctx context.Context, svc *domain.ServiceConfig) error
	DeleteUserService(ctx context.Context, userID, serviceID string) (bool, error)
}

// ServiceHandler manages the caller's authorized services. Any change tears
// the caller's agent down so it is rebuilt from the new set.
type ServiceHandler struct {
	*Handler
	store ServiceStore
}

// NewServiceHandler creates a service handler.
func NewServiceHandler(base *Handler, store ServiceStore) *ServiceHandler {
	return &ServiceHandler{Handler: base, store: store}
}

// RegisterRoutes registers service routes.
func (h *ServiceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/services", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Upsert)
		r.Delete("/{serviceID}", h.Delete)
	})
}

type serviceRequest struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Keywords       []string `json:"keywords"`
	Endpoint       string   `json:"endpoint"`
	CredentialsRef string   `json:"credentials_ref"`
	Capabilities   []string `json:"capabilities"`
}

// List returns the caller's stored services.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	services, err := h.store.ListUserServices(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list services", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list services")
		return
	}
	if services == nil {
		services = []domain.ServiceConfig{}
	}
	JSON(w, http.StatusOK, map[string]any{"services": services, "count": len(services)})
}

func (h *ServiceHandler) lock(w http.ResponseWriter, userID string) (unlock func(), ok bool) {
	l, _ := serviceLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := l.(*sync.Mutex)
	if !mutex.TryLock() {
		h.logger.Warn("Service update already in progress", "user_id", userID)
		Error(w, http.StatusConflict, "update_in_progress")
		return nil, false
	}
	return func() {
		mutex.Unlock()
		serviceLocks.Delete(userID)
	}, true
}

// Upsert creates or replaces one of the caller's services.
func (h *ServiceHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req serviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Type == "" {
		req.Type = domain.ServiceTypeGeneric
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	unlock, ok := h.lock(w, userID)
	if !ok {
		return
	}
	defer unlock()

	svc := &domain.ServiceConfig{
		ID:             req.ID,
		UserID:         userID,
		Name:           req.Name,
		Type:           req.Type,
		Keywords:       req.Keywords,
		Endpoint:       req.Endpoint,
		CredentialsRef: req.CredentialsRef,
		Capabilities:   req.Capabilities,
		CreatedAt:      time.Now(),
	}
	if err := h.store.UpsertUserService(r.Context(), svc); err != nil {
		h.logger.Error("Failed to save service", "user_id", userID, "service_id", svc.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save service")
		return
	}

	reset := h.agents.RemoveUserAgent(userID)
	h.logger.Info("Service saved", "user_id", userID, "service_id", svc.ID, "agent_reset", reset)
	JSON(w, http.StatusCreated, svc)
}

// Delete removes one of the caller's services.
func (h *ServiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	serviceID := chi.URLParam(r, "serviceID")

	unlock, ok := h.lock(w, userID)
	if !ok {
		return
	}
	defer unlock()

	deleted, err := h.store.DeleteUserService(r.Context(), userID, serviceID)
	if err != nil {
		h.logger.Error("Failed to delete service", "user_id", userID, "service_id", serviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete service")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "service not found")
		return
	}

	reset := h.agents.RemoveUserAgent(userID)
	h.logger.Info("Service deleted", "user_id", userID, "service_id", serviceID, "agent_reset", reset)
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
