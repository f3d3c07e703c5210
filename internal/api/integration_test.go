package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mengla-gateway/internal/common/collect"
	"mengla-gateway/internal/common/logger"
	"mengla-gateway/internal/mengla"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform accepts executions and calls the webhook back shortly after.
func fakePlatform(t *testing.T, executions *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/managed-tasks":
			w.Write([]byte(`{"data":{"tasks":[{"id":7,"name":"mengla-industry-data"}]}}`))

		case r.Method == http.MethodPost && r.URL.Path == "/api/managed-tasks/7/execute":
			n := atomic.AddInt32(executions, 1)
			raw, _ := io.ReadAll(r.Body)
			var req struct {
				Parameters map[string]interface{} `json:"parameters"`
				WebhookURL string                 `json:"webhookUrl"`
			}
			assert.NoError(t, json.Unmarshal(raw, &req))

			execID := "exec-" + strconv.Itoa(int(n))
			go func() {
				time.Sleep(20 * time.Millisecond)
				body, _ := json.Marshal(map[string]interface{}{
					"executionId": execID,
					"data":        map[string]interface{}{"action": req.Parameters["action"], "rows": []int{1, 2}},
				})
				resp, err := http.Post(req.WebhookURL, "application/json", bytes.NewReader(body))
				if err == nil {
					resp.Body.Close()
				}
			}()
			w.Write([]byte(`{"data":{"executionId":"` + execID + `"}}`))

		default:
			http.NotFound(w, r)
		}
	}))
}

func TestEndToEnd_QueryResolvedByWebhook(t *testing.T) {
	var executions int32
	platform := fakePlatform(t, &executions)
	defer platform.Close()

	var router http.Handler
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
	}))
	defer gateway.Close()

	cfg := mengla.DefaultConfig()
	cfg.MinRequestInterval = 0
	cfg.QueryTimeout = 5 * time.Second
	cfg.PollInterval = 50 * time.Millisecond
	cfg.WebhookURL = gateway.URL + testWebhookPath

	client := collect.NewClient(collect.ClientConfig{
		BaseURL:        platform.URL,
		APIKey:         "k",
		ListTimeout:    2 * time.Second,
		ExecuteTimeout: 2 * time.Second,
	}, nil)

	log := logger.NewNoOpLogger()
	svc := mengla.NewService(mengla.ServiceDependencies{
		Cache:      mengla.NewMemoryCache(),
		Dispatcher: mengla.NewCollectDispatcher(client, mengla.NewThrottle(cfg.MinRequestInterval), cfg, nil, log),
		Logger:     log,
	}, cfg)
	router = NewRouter(NewHandler(svc, nil, log), testWebhookPath)

	query := func() (int, string) {
		resp, err := http.Post(gateway.URL+"/api/mengla/query", "application/json",
			strings.NewReader(`{"action":"hot","params":{"catId":"123","dateType":"MONTH","timest":"2024-05"}}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	status, body := query()
	require.Equal(t, http.StatusOK, status, body)
	assert.JSONEq(t, `{"success":true,"data":{"action":"hot","rows":[1,2]}}`, body)

	// Served from cache the second time.
	status, body = query()
	require.Equal(t, http.StatusOK, status, body)
	assert.JSONEq(t, `{"success":true,"data":{"action":"hot","rows":[1,2]}}`, body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&executions))
}
