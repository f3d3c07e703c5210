package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"mengla-gateway/internal/common/collect"
	apperrors "mengla-gateway/internal/common/errors"
	"mengla-gateway/internal/common/logger"
	"mengla-gateway/internal/common/validation"
	"mengla-gateway/internal/mengla"

	"github.com/xeipuuv/gojsonschema"
)

const (
	maxBodyBytes          = 16 << 20
	defaultExecutionLimit = 50
	maxExecutionLimit     = 500
	readyTimeout          = 2 * time.Second
)

// Coordinator is the part of mengla.Service the HTTP surface drives.
type Coordinator interface {
	Query(ctx context.Context, params mengla.QueryParams, useCache bool) (json.RawMessage, error)
	UpdateData(ctx context.Context, executionID string, data json.RawMessage) (json.RawMessage, error)
	ClearCache(ctx context.Context, params *mengla.QueryParams) error
	RecentExecutions(ctx context.Context, limit int) ([]mengla.ExecutionRecord, error)
}

// ReadinessCheck reports whether a backing dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	coordinator Coordinator
	checks      map[string]ReadinessCheck
	errHandler  *apperrors.ErrorHandler
	logger      logger.Logger
}

func NewHandler(coordinator Coordinator, checks map[string]ReadinessCheck, log logger.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		checks:      checks,
		errHandler:  apperrors.NewErrorHandler(log),
		logger:      log,
	}
}

type queryRequest struct {
	Action   string              `json:"action"`
	Params   *mengla.QueryParams `json:"params"`
	UseCache *bool               `json:"useCache"`
}

type clearCacheRequest struct {
	Params *mengla.QueryParams `json:"params"`
}

type webhookRequest struct {
	ExecutionID collect.ID      `json:"executionId"`
	Data        json.RawMessage `json:"data"`
	Result      json.RawMessage `json:"result"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failures := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		h.logger.Warn("Readiness check failed", map[string]interface{}{"failures": failures})
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "not_ready",
			"failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, validation.WebhookSchema, apperrors.NewInvalidWebhookPayloadError)
	if !ok {
		return
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.errHandler.WriteError(w, r, apperrors.NewInvalidWebhookPayloadError(err.Error()))
		return
	}

	// Some platform versions send the payload as "result".
	payload := req.Data
	if payload == nil {
		payload = req.Result
	}

	if _, err := h.coordinator.UpdateData(r.Context(), string(req.ExecutionID), payload); err != nil {
		h.errHandler.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"executionId": string(req.ExecutionID),
	})
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, validation.QuerySchema, apperrors.NewInvalidQueryParamsError)
	if !ok {
		return
	}

	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.errHandler.WriteError(w, r, apperrors.NewInvalidQueryParamsError(err.Error()))
		return
	}

	var params mengla.QueryParams
	if req.Params != nil {
		params = *req.Params
	}
	params.Action = req.Action

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	h.logger.Debug("Query requested", map[string]interface{}{
		"requestId": RequestID(r.Context()),
		"action":    params.Action,
		"useCache":  useCache,
	})

	data, err := h.coordinator.Query(r.Context(), params, useCache)
	if err != nil {
		h.errHandler.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	var req clearCacheRequest

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.errHandler.WriteError(w, r, apperrors.NewInvalidQueryParamsError(err.Error()))
		return
	}
	if len(raw) > 0 {
		if res := validation.ValidateJSON(raw, validation.ClearCacheSchema); !res.Valid {
			h.errHandler.WriteError(w, r, apperrors.NewInvalidQueryParamsError(res.Summary()))
			return
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			h.errHandler.WriteError(w, r, apperrors.NewInvalidQueryParamsError(err.Error()))
			return
		}
	}

	if err := h.coordinator.ClearCache(r.Context(), req.Params); err != nil {
		h.errHandler.WriteError(w, r, err)
		return
	}

	scope := "all"
	if req.Params != nil {
		scope = req.Params.CacheKey()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"cleared": scope,
	})
}

func (h *Handler) executions(w http.ResponseWriter, r *http.Request) {
	limit := defaultExecutionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxExecutionLimit {
			h.errHandler.WriteError(w, r, apperrors.NewInvalidQueryParamsError("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	records, err := h.coordinator.RecentExecutions(r.Context(), limit)
	if err != nil {
		h.errHandler.WriteError(w, r, err)
		return
	}
	if records == nil {
		records = []mengla.ExecutionRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"executions": records,
	})
}

// readBody reads and schema-checks the request body, writing the error
// response itself when it returns false.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, invalid func(string) *apperrors.StandardError) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errHandler.WriteError(w, r, invalid("request body too large"))
			return nil, false
		}
		h.errHandler.WriteError(w, r, invalid(err.Error()))
		return nil, false
	}

	if res := validation.ValidateJSON(raw, schema); !res.Valid {
		h.errHandler.WriteError(w, r, invalid(res.Summary()))
		return nil, false
	}
	return raw, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
