package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	warns  []string
	errors []string
}

func (l *recordingLogger) Warn(msg string, _ map[string]interface{})  { l.warns = append(l.warns, msg) }
func (l *recordingLogger) Error(msg string, _ map[string]interface{}) { l.errors = append(l.errors, msg) }

func TestConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *StandardError
		code      ErrorCode
		retryable bool
		status    int
	}{
		{"upstream list", NewUpstreamListError("status 500", nil), ErrCodeUpstreamList, true, http.StatusBadGateway},
		{"task not found", NewTaskNotFoundError("mengla", []string{"a", "b"}), ErrCodeTaskNotFound, false, http.StatusBadGateway},
		{"dispatch", NewDispatchError("empty body", nil), ErrCodeDispatchFailed, true, http.StatusBadGateway},
		{"timeout", NewQueryTimeoutError(30*time.Second, "exec-1"), ErrCodeQueryTimeout, true, http.StatusGatewayTimeout},
		{"cache", NewCacheError("get", "k", fmt.Errorf("conn refused")), ErrCodeCacheFailed, true, http.StatusServiceUnavailable},
		{"params", NewInvalidQueryParamsError("action is required"), ErrCodeInvalidQueryParams, false, http.StatusBadRequest},
		{"webhook", NewInvalidWebhookPayloadError("executionId missing"), ErrCodeInvalidWebhookPayload, false, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.status, HTTPStatus(tt.err.Code))
			assert.False(t, tt.err.Timestamp.IsZero())
			assert.Contains(t, tt.err.Error(), string(tt.code))
		})
	}
}

func TestTaskNotFoundListsAvailableNames(t *testing.T) {
	err := NewTaskNotFoundError("mengla-industry-data", []string{"shop-crawler", "keyword-rank"})
	assert.Contains(t, err.Details, "shop-crawler, keyword-rank")
	assert.Equal(t, []string{"shop-crawler", "keyword-rank"}, err.Metadata["availableTasks"])
}

func TestQueryTimeoutMessage(t *testing.T) {
	err := NewQueryTimeoutError(30*time.Second, "exec-9")
	assert.Contains(t, err.Message, "query timed out after 30s")
	assert.Equal(t, "exec-9", err.Metadata["executionId"])
}

func TestCauseChain(t *testing.T) {
	sentinel := stderrors.New("redis: connection refused")
	wrapped := fmt.Errorf("query: %w", NewCacheError("get", "k", sentinel))

	assert.True(t, stderrors.Is(wrapped, sentinel))
	assert.True(t, stderrors.Is(wrapped, &StandardError{Code: ErrCodeCacheFailed}))
	assert.False(t, stderrors.Is(wrapped, &StandardError{Code: ErrCodeQueryTimeout}))
	assert.True(t, HasCode(wrapped, ErrCodeCacheFailed))
	assert.False(t, HasCode(sentinel, ErrCodeCacheFailed))
}

func TestAsStandardError(t *testing.T) {
	assert.Nil(t, AsStandardError(nil))

	plain := AsStandardError(stderrors.New("boom"))
	assert.Equal(t, ErrCodeInternal, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(plain.Code))

	orig := NewDispatchError("x", nil)
	assert.Same(t, orig, AsStandardError(fmt.Errorf("ctx: %w", orig)))
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "PLATFORM", GetErrorCategory(ErrCodeTaskNotFound))
	assert.Equal(t, "PLATFORM", GetErrorCategory(ErrCodeDispatchFailed))
	assert.Equal(t, "TIMEOUT", GetErrorCategory(ErrCodeQueryTimeout))
	assert.Equal(t, "CACHE", GetErrorCategory(ErrCodeCacheFailed))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidWebhookPayload))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
}

func TestErrorHandler_WriteError(t *testing.T) {
	t.Run("server side failure", func(t *testing.T) {
		log := &recordingLogger{}
		h := NewErrorHandler(log)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/mengla/query", nil)
		h.WriteError(rec, req, NewQueryTimeoutError(30*time.Second, "exec-1"))

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body struct {
			Success bool `json:"success"`
			Error   struct {
				Code      string `json:"code"`
				Retryable bool   `json:"retryable"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, "QUERY_TIMEOUT", body.Error.Code)
		assert.True(t, body.Error.Retryable)
		assert.Len(t, log.errors, 1)
		assert.Empty(t, log.warns)
	})

	t.Run("client mistake", func(t *testing.T) {
		log := &recordingLogger{}
		h := NewErrorHandler(log)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/webhook/mengla-notify", nil)
		h.WriteError(rec, req, NewInvalidWebhookPayloadError("missing executionId"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Len(t, log.warns, 1)
		assert.Empty(t, log.errors)
	})
}
