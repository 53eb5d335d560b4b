// Package alerts serves the alert analysis, tracking and resolved-history
// endpoints of one broker server.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/brokerwatch/internal/alerting"
	"github.com/good-yellow-bee/brokerwatch/internal/models"
	"github.com/good-yellow-bee/brokerwatch/internal/notifier"
	"github.com/good-yellow-bee/brokerwatch/internal/storage"
)

// Response helpers
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
	errCodeBadRequest        = "BAD_REQUEST"
	errCodeNotFound          = "NOT_FOUND"
	errCodeInternalError     = "INTERNAL_ERROR"
	errCodeSourceUnreachable = "SOURCE_UNREACHABLE"
)

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

// Engine runs analysis and tracking passes.
type Engine interface {
	Analyze(ctx context.Context, req alerting.PassRequest) (*models.AlertsResult, error)
	Track(ctx context.Context, req alerting.PassRequest) *alerting.TrackOutcome
}

// Target is a configured broker server.
type Target struct {
	TenantID string
	Source   alerting.MetricSource
}

// Servers resolves configured broker servers by id.
type Servers interface {
	Lookup(serverID string) (Target, bool)
}

// ServerMap is a static Servers registry keyed by server id.
type ServerMap map[string]Target

// Lookup returns the target registered under serverID.
func (m ServerMap) Lookup(serverID string) (Target, bool) {
	t, ok := m[serverID]
	return t, ok
}

// Handler handles alert endpoints.
type Handler struct {
	engine   Engine
	servers  Servers
	resolved storage.ResolvedAlertRepository
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHandler creates an alerts handler. timeout bounds each pass.
func NewHandler(engine Engine, servers Servers, resolved storage.ResolvedAlertRepository, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{engine: engine, servers: servers, resolved: resolved, timeout: timeout, logger: logger}
}

// AlertsResponse is the produced alerts interface: sorted alerts plus
// their summary counts.
type AlertsResponse struct {
	ServerID string         `json:"server_id"`
	VHost    string         `json:"vhost,omitempty"`
	Alerts   []models.Alert `json:"alerts"`
	Summary  models.Summary `json:"summary"`
}

// TrackResponse reports the outcome of a tracking pass.
type TrackResponse struct {
	AlertsResponse
	Created     int             `json:"created"`
	Reactivated int             `json:"reactivated"`
	Refreshed   int             `json:"refreshed"`
	Resolved    int             `json:"resolved"`
	Notifiable  int             `json:"notifiable"`
	Errors      int             `json:"errors"`
	Delivery    notifier.Report `json:"delivery"`
}

// ResolvedAlertResponse is one resolved-history row.
type ResolvedAlertResponse struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	SourceType  string `json:"source_type"`
	SourceName  string `json:"source_name"`
	VHost       string `json:"vhost,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	FirstSeenAt string `json:"first_seen_at"`
	ResolvedAt  string `json:"resolved_at"`
	DurationMs  int64  `json:"duration_ms"`
}

// ResolvedListResponse is a page of resolved history.
type ResolvedListResponse struct {
	Items  []*ResolvedAlertResponse `json:"items"`
	Total  int64                    `json:"total"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// passRequest resolves the server in the URL, writing a 404 when unknown.
func (h *Handler) passRequest(w http.ResponseWriter, r *http.Request) (alerting.PassRequest, bool) {
	serverID := chi.URLParam(r, "serverID")
	target, ok := h.servers.Lookup(serverID)
	if !ok {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "unknown server")
		return alerting.PassRequest{}, false
	}
	vhost, err := ValidateVHost(r.URL.Query().Get("vhost"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return alerting.PassRequest{}, false
	}
	return alerting.PassRequest{
		TenantID: target.TenantID,
		ServerID: serverID,
		VHost:    vhost,
		Source:   target.Source,
	}, true
}

// Get runs a read-only analysis pass.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	req, ok := h.passRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.engine.Analyze(ctx, req)
	if errors.Is(err, alerting.ErrSourceUnreachable) {
		jsonError(w, http.StatusBadGateway, errCodeSourceUnreachable, "broker unreachable")
		return
	}
	if err != nil {
		h.logger.Error("analyze failed", zap.String("server", req.ServerID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	jsonOK(w, alertsResponse(req, res))
}

// Track runs a full tracking pass including dispatch.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	req, ok := h.passRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	out := h.engine.Track(ctx, req)
	if out.Unreachable {
		jsonError(w, http.StatusBadGateway, errCodeSourceUnreachable, "broker unreachable")
		return
	}
	jsonOK(w, &TrackResponse{
		AlertsResponse: alertsResponse(req, out.Result),
		Created:        out.Tracking.Created,
		Reactivated:    out.Tracking.Reactivated,
		Refreshed:      out.Tracking.Refreshed,
		Resolved:       out.Tracking.Resolved,
		Notifiable:     len(out.Tracking.Notifiable),
		Errors:         out.Tracking.Errors,
		Delivery:       out.Delivery,
	})
}

// Resolved lists the resolved history of a server, newest first.
func (h *Handler) Resolved(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	target, ok := h.servers.Lookup(serverID)
	if !ok {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "unknown server")
		return
	}
	limit, offset, err := ParsePage(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	items, total, err := h.resolved.ListByServer(r.Context(), target.TenantID, serverID, limit, offset)
	if err != nil {
		h.logger.Error("list resolved alerts failed", zap.String("server", serverID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	resp := &ResolvedListResponse{
		Items:  make([]*ResolvedAlertResponse, len(items)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for i, item := range items {
		resp.Items[i] = resolvedToResponse(item)
	}
	jsonOK(w, resp)
}

func alertsResponse(req alerting.PassRequest, res *models.AlertsResult) AlertsResponse {
	resp := AlertsResponse{ServerID: req.ServerID, VHost: req.VHost, Alerts: []models.Alert{}}
	if res != nil {
		if res.Alerts != nil {
			resp.Alerts = res.Alerts
		}
		resp.Summary = res.Summary
	}
	return resp
}

func resolvedToResponse(r *models.ResolvedAlert) *ResolvedAlertResponse {
	return &ResolvedAlertResponse{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Severity:    string(r.Severity),
		Category:    string(r.Category),
		SourceType:  string(r.SourceType),
		SourceName:  r.SourceName,
		VHost:       r.VHost,
		Title:       r.Title,
		Description: r.Description,
		FirstSeenAt: r.FirstSeenAt.UTC().Format(time.RFC3339),
		ResolvedAt:  r.ResolvedAt.UTC().Format(time.RFC3339),
		DurationMs:  r.DurationMillis(),
	}
}
