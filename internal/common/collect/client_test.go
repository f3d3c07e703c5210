package collect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "mengla-gateway/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(ClientConfig{
		BaseURL:        server.URL + "/",
		APIKey:         "test-api-key",
		ListTimeout:    2 * time.Second,
		ExecuteTimeout: 2 * time.Second,
	}, nil)
}

func TestListTasks_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/managed-tasks", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"tasks":[{"id":"t-1","name":"shop-crawler"},{"id":42,"name":"mengla-industry-data"}]}}`))
	}))
	defer server.Close()

	tasks, err := newTestClient(server).ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, ID("t-1"), tasks[0].ID)
	assert.Equal(t, ID("42"), tasks[1].ID)
}

func TestListTasks_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non 2xx", http.StatusInternalServerError, `{"error":"down"}`},
		{"unauthorized", http.StatusUnauthorized, ``},
		{"not json", http.StatusOK, `<html>`},
		{"missing data", http.StatusOK, `{"tasks":[]}`},
		{"missing tasks", http.StatusOK, `{"data":{}}`},
		{"tasks wrong type", http.StatusOK, `{"data":{"tasks":"nope"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).ListTasks(context.Background())
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUpstreamList), "got %v", err)
		})
	}
}

func TestListTasks_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "k", ListTimeout: 50 * time.Millisecond}, nil)
	_, err := c.ListTasks(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUpstreamList))
}

func TestFindTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"tasks":[{"id":"t-1","name":"shop-crawler"},{"id":"t-2","name":"mengla-industry-data"}]}}`))
	}))
	defer server.Close()

	c := newTestClient(server)

	id, err := c.FindTask(context.Background(), "mengla-industry-data")
	require.NoError(t, err)
	assert.Equal(t, ID("t-2"), id)

	_, err = c.FindTask(context.Background(), "missing-task")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTaskNotFound))
	assert.Contains(t, err.Error(), "shop-crawler, mengla-industry-data")
}

func TestExecute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/managed-tasks/t-2/execute", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Parameters map[string]interface{} `json:"parameters"`
			WebhookURL string                 `json:"webhookUrl"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "hot", body.Parameters["action"])
		assert.Equal(t, "https://dash.example.com/api/webhook/mengla-notify", body.WebhookURL)

		w.Write([]byte(`{"data":{"executionId":"exec-123"}}`))
	}))
	defer server.Close()

	execID, err := newTestClient(server).Execute(context.Background(), "t-2",
		map[string]interface{}{"action": "hot"}, "https://dash.example.com/api/webhook/mengla-notify")
	require.NoError(t, err)
	assert.Equal(t, "exec-123", execID)
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		detail string
	}{
		{"non 2xx", http.StatusBadGateway, `oops`, "status 502"},
		{"empty body", http.StatusOK, ``, "empty response body"},
		{"whitespace body", http.StatusOK, "  \n", "empty response body"},
		{"unparsable", http.StatusOK, `{"data":`, "unparsable body"},
		{"missing execution id", http.StatusOK, `{"data":{}}`, "executionId"},
		{"missing data", http.StatusOK, `{}`, "executionId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).Execute(context.Background(), "t-1", nil, "http://hook")
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDispatchFailed))
			assert.Contains(t, err.Error(), tt.detail)
		})
	}
}

func TestID_UnmarshalJSON(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x-1","b":1234567890123,"c":null}`), &v))
	assert.Equal(t, ID("x-1"), v.A)
	assert.Equal(t, ID("1234567890123"), v.B)
	assert.Equal(t, ID(""), v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}
