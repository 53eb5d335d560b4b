// Package preferences serves tenant notification preferences.
package preferences

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
	"github.com/good-yellow-bee/brokerwatch/internal/storage"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeInternalError    = "INTERNAL_ERROR"
)

// maxBodyBytes caps a preferences document.
const maxBodyBytes = 1 << 20

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

// Handler handles preferences endpoints.
type Handler struct {
	repo   storage.PreferencesRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a preferences handler.
func NewHandler(repo storage.PreferencesRepository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger, now: time.Now}
}

// Response is the wire form of NotificationPreferences.
type Response struct {
	TenantID        string                 `json:"tenant_id"`
	Stored          bool                   `json:"stored"`
	Channels        []models.Channel       `json:"channels"`
	Severities      []string               `json:"severities"`
	Servers         ServersResponse        `json:"servers"`
	EmailRecipients []string               `json:"email_recipients"`
	Webhooks        []models.WebhookTarget `json:"webhooks"`
	Chats           []models.ChatTarget    `json:"chats"`
	UpdatedAt       string                 `json:"updated_at,omitempty"`
}

// ServersResponse is the server scope; IDs is set only when All is false.
type ServersResponse struct {
	All bool     `json:"all"`
	IDs []string `json:"ids,omitempty"`
}

// UpdateRequest replaces a tenant's preferences. Omitted severities mean
// every severity; omitted server_ids mean every server.
type UpdateRequest struct {
	Channels        []string               `json:"channels"`
	Severities      []string               `json:"severities"`
	ServerIDs       *[]string              `json:"server_ids"`
	EmailRecipients []string               `json:"email_recipients"`
	Webhooks        []models.WebhookTarget `json:"webhooks"`
	Chats           []models.ChatTarget    `json:"chats"`
}

// Get returns stored preferences, or the defaults when none are stored.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := ValidateTenantID(tenantID); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	prefs, err := h.repo.Get(r.Context(), tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		jsonOK(w, toResponse(models.DefaultPreferences(tenantID), false))
		return
	}
	if err != nil {
		h.logger.Error("get preferences failed", zap.String("tenant", tenantID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	jsonOK(w, toResponse(prefs, true))
}

// Put validates and stores a tenant's preferences.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := ValidateTenantID(tenantID); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	var req UpdateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	prefs, err := req.toPreferences(tenantID, h.now())
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.repo.Upsert(r.Context(), prefs); err != nil {
		h.logger.Error("store preferences failed", zap.String("tenant", tenantID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	h.logger.Info("preferences updated",
		zap.String("tenant", tenantID),
		zap.Strings("severities", prefs.Severities.Names()),
		zap.Bool("deliverable", prefs.HasDeliverableChannel()))
	jsonOK(w, toResponse(prefs, true))
}

func (req *UpdateRequest) toPreferences(tenantID string, now time.Time) (*models.NotificationPreferences, error) {
	channels, err := ValidateChannels(req.Channels)
	if err != nil {
		return nil, err
	}
	severities, err := ValidateSeverities(req.Severities)
	if err != nil {
		return nil, err
	}
	recipients, err := ValidateRecipients(req.EmailRecipients)
	if err != nil {
		return nil, err
	}
	if err := ValidateWebhooks(req.Webhooks); err != nil {
		return nil, err
	}
	if err := ValidateChats(req.Chats); err != nil {
		return nil, err
	}

	scope := models.AllServers()
	if req.ServerIDs != nil {
		scope = models.ServerSubset(*req.ServerIDs...)
	}

	return &models.NotificationPreferences{
		TenantID:        tenantID,
		Channels:        channels,
		Severities:      severities,
		Servers:         scope,
		EmailRecipients: recipients,
		Webhooks:        req.Webhooks,
		Chats:           req.Chats,
		UpdatedAt:       now.UTC(),
	}, nil
}

func toResponse(p *models.NotificationPreferences, stored bool) *Response {
	resp := &Response{
		TenantID:        p.TenantID,
		Stored:          stored,
		Channels:        nonNil(p.Channels),
		Severities:      p.Severities.Names(),
		Servers:         ServersResponse{All: p.Servers.IsAll(), IDs: p.Servers.IDs()},
		EmailRecipients: nonNil(p.EmailRecipients),
		Webhooks:        nonNil(p.Webhooks),
		Chats:           nonNil(p.Chats),
	}
	if !p.UpdatedAt.IsZero() {
		resp.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
