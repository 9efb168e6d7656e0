// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/prognos/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size, including inline import rows.
const maxRequestBodyBytes int64 = 16 << 20

// ActorIDHeader and ActorTypeHeader carry caller identity for audited mutations.
const (
	ActorIDHeader   = "X-Actor-ID"
	ActorTypeHeader = "X-Actor-Type"
)

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	engine common.EngineService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over the engine service.
func NewHandler(engine common.EngineService) *Handler {
	return &Handler{engine: engine}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "engine service is not configured",
		})
		return
	}
	r = r.WithContext(common.WithActor(r.Context(), r.Header.Get(ActorIDHeader), r.Header.Get(ActorTypeHeader)))

	parts := strings.Split(normalizePath(r.URL.Path), "/")
	switch {
	case len(parts) == 4 && parts[0] == "tenants" && parts[2] == "imports" && parts[3] == "preview":
		h.post(w, r, func() { h.handlePreviewImport(w, r, parts[1]) })
	case len(parts) == 4 && parts[0] == "tenants" && parts[2] == "imports" && parts[3] == "commit":
		h.post(w, r, func() { h.handleCommitImport(w, r, parts[1]) })
	case len(parts) == 3 && parts[0] == "tenants" && parts[2] == "imports":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleListImports(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "tenants" && parts[2] == "scenarios":
		switch r.Method {
		case http.MethodGet:
			h.handleListScenarios(w, r, parts[1])
		case http.MethodPost:
			h.handleCreateScenario(w, r, parts[1])
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case len(parts) == 3 && parts[0] == "scenarios" && (parts[2] == "promote" || parts[2] == "archive"):
		h.post(w, r, func() { h.handleScenarioAction(w, r, parts[1], parts[2]) })
	case len(parts) == 3 && parts[0] == "scenarios" && parts[2] == "forecasts":
		h.get(w, r, func() { h.handleListForecasts(w, r, parts[1]) })
	case len(parts) == 3 && parts[0] == "scenarios" && parts[2] == "history":
		h.get(w, r, func() { h.handleHistory(w, r, common.ListHistoryRequest{ScenarioID: parts[1]}) })
	case len(parts) == 3 && parts[0] == "forecasts" && parts[2] == "history":
		h.get(w, r, func() { h.handleHistory(w, r, common.ListHistoryRequest{RecordID: parts[1]}) })
	case len(parts) == 3 && parts[0] == "forecasts" && parts[2] == "override":
		h.post(w, r, func() { h.handleOverride(w, r, parts[1]) })
	case len(parts) == 3 && parts[0] == "forecasts":
		h.post(w, r, func() { h.handleTransition(w, r, parts[1], parts[2]) })
	case len(parts) == 2 && parts[0] == "deadlines" && parts[1] == "resolve":
		h.post(w, r, func() { h.handleResolveDeadlines(w, r) })
	default:
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, next func()) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	next()
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, next func()) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	next()
}

// handlePreviewImport serves POST `/tenants/{tenant}/imports/preview`.
func (h *Handler) handlePreviewImport(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.PreviewImportRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	tenant, err := pathTenant(tenantID, req.TenantID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.TenantID = tenant
	preview, err := h.engine.PreviewImport(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleCommitImport serves POST `/tenants/{tenant}/imports/commit`.
func (h *Handler) handleCommitImport(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.CommitImportRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	tenant, err := pathTenant(tenantID, req.TenantID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.TenantID = tenant
	result, err := h.engine.CommitImport(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListImports serves GET `/tenants/{tenant}/imports`.
func (h *Handler) handleListImports(w http.ResponseWriter, r *http.Request, tenantID string) {
	query := r.URL.Query()
	req := common.ListImportsRequest{
		TenantID:   tenantID,
		ScenarioID: strings.TrimSpace(query.Get("scenario_id")),
	}
	var err error
	if req.From, err = parseTimeParam(query.Get("from"), "from"); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if req.To, err = parseTimeParam(query.Get("to"), "to"); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if req.Limit, err = parseIntParam(query.Get("limit"), "limit"); err != nil {
		writeErrorFrom(w, err)
		return
	}
	items, err := h.engine.ListImports(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

// handleListScenarios serves GET `/tenants/{tenant}/scenarios`.
func (h *Handler) handleListScenarios(w http.ResponseWriter, r *http.Request, tenantID string) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	items, err := h.engine.ListScenarios(r.Context(), common.ListScenariosRequest{
		TenantID:        tenantID,
		IncludeArchived: includeArchived,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

// handleCreateScenario serves POST `/tenants/{tenant}/scenarios`.
func (h *Handler) handleCreateScenario(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.CreateScenarioRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	tenant, err := pathTenant(tenantID, req.TenantID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.TenantID = tenant
	scenario, err := h.engine.CreateScenario(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scenario)
}

// handleScenarioAction serves POST `/scenarios/{id}/promote` and `/scenarios/{id}/archive`.
func (h *Handler) handleScenarioAction(w http.ResponseWriter, r *http.Request, scenarioID, action string) {
	var payload common.ScenarioActionRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &payload); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req := common.ScenarioActionRequest{
		ScenarioID: scenarioID,
		Reason:     strings.TrimSpace(payload.Reason),
		ActorID:    strings.TrimSpace(payload.ActorID),
	}

	var (
		scenario common.ScenarioView
		err      error
	)
	if action == "promote" {
		scenario, err = h.engine.PromoteScenario(r.Context(), req)
	} else {
		scenario, err = h.engine.ArchiveScenario(r.Context(), req)
	}
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scenario)
}

// handleListForecasts serves GET `/scenarios/{id}/forecasts`.
func (h *Handler) handleListForecasts(w http.ResponseWriter, r *http.Request, scenarioID string) {
	items, err := h.engine.ListForecasts(r.Context(), scenarioID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

// handleTransition serves POST `/forecasts/{id}/{action}`.
func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, recordID, action string) {
	var req common.TransitionRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.RecordID = recordID
	req.Action = action
	record, err := h.engine.TransitionForecast(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleOverride serves POST `/forecasts/{id}/override`.
func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request, recordID string) {
	var req common.OverrideRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.RecordID = recordID
	record, err := h.engine.OverrideForecast(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleHistory serves GET `/forecasts/{id}/history` and `/scenarios/{id}/history`.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, req common.ListHistoryRequest) {
	limit, err := parseIntParam(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.Limit = limit
	items, err := h.engine.ListHistory(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

// handleResolveDeadlines serves POST `/deadlines/resolve`.
func (h *Handler) handleResolveDeadlines(w http.ResponseWriter, r *http.Request) {
	var req common.ResolveDeadlinesRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	items, err := h.engine.ResolveDeadlines(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

// pathTenant reconciles the tenant in the URL with an optional tenant in the body.
func pathTenant(pathTenantID, bodyTenantID string) (string, error) {
	pathTenantID = strings.TrimSpace(pathTenantID)
	bodyTenantID = strings.TrimSpace(bodyTenantID)
	if bodyTenantID != "" && bodyTenantID != pathTenantID {
		return "", fmt.Errorf("body tenant_id %q does not match path tenant %q: %w", bodyTenantID, pathTenantID, common.ErrInvalidRequest)
	}
	return pathTenantID, nil
}

func parseTimeParam(raw, name string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if day, dayErr := time.Parse(time.DateOnly, raw); dayErr == nil {
			return &day, nil
		}
		return nil, fmt.Errorf("%s must be RFC3339 or YYYY-MM-DD: %w", name, common.ErrInvalidRequest)
	}
	return &ts, nil
}

func parseIntParam(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", name, common.ErrInvalidRequest)
	}
	return n, nil
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, APIError{
			Code:    "forbidden",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrDeadlineExceeded):
		writeJSONError(w, http.StatusUnprocessableEntity, APIError{
			Code:    "deadline_exceeded",
			Message: err.Error(),
			Hint:    "Retry with allow_late and a reason to record a late action.",
		})
	case errors.Is(err, common.ErrConflict):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "conflict",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err == nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request canceled: %w", ctx.Err())
		default:
			return nil
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
}
