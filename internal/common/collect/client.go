// Package collect is a client for the external data-collection platform's
// managed-task API.
package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "mengla-gateway/internal/common/errors"
	commonhttp "mengla-gateway/internal/common/http"
)

// ID accepts both JSON strings and numbers; the platform has used both.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Task is one entry of the managed-task registry.
type Task struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type listTasksResponse struct {
	Data *struct {
		Tasks *[]Task `json:"tasks"`
	} `json:"data"`
}

type executeRequest struct {
	Parameters map[string]interface{} `json:"parameters"`
	WebhookURL string                 `json:"webhookUrl"`
}

type executeResponse struct {
	Data *struct {
		ExecutionID ID `json:"executionId"`
	} `json:"data"`
}

type ClientConfig struct {
	BaseURL        string
	APIKey         string
	ListTimeout    time.Duration
	ExecuteTimeout time.Duration
}

type Client struct {
	config ClientConfig
	http   *commonhttp.Client
}

func NewClient(cfg ClientConfig, httpClient *commonhttp.Client) *Client {
	if httpClient == nil {
		httpClient = commonhttp.NewClient(0)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{config: cfg, http: httpClient}
}

func (c *Client) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.config.APIKey}
}

// ListTasks fetches the first page of managed tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	endpoint := fmt.Sprintf("%s/api/managed-tasks?page=1&limit=100", c.config.BaseURL)

	resp, err := c.http.DoJSON(ctx, http.MethodGet, endpoint, c.authHeaders(), nil, c.config.ListTimeout)
	if err != nil {
		return nil, apperrors.NewUpstreamListError(err.Error(), err)
	}
	if !resp.OK() {
		return nil, apperrors.NewUpstreamListError(
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(resp.Body)), nil)
	}

	var parsed listTasksResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, apperrors.NewUpstreamListError(fmt.Sprintf("unparsable body: %v", err), err)
	}
	if parsed.Data == nil || parsed.Data.Tasks == nil {
		return nil, apperrors.NewUpstreamListError("unexpected response shape: missing data.tasks", nil)
	}

	return *parsed.Data.Tasks, nil
}

// FindTask resolves a task name to its platform id.
func (c *Client) FindTask(ctx context.Context, name string) (ID, error) {
	tasks, err := c.ListTasks(ctx)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.Name == name && t.ID != "" {
			return t.ID, nil
		}
		names = append(names, t.Name)
	}
	return "", apperrors.NewTaskNotFoundError(name, names)
}

// Execute submits one run of taskID and returns the execution id.
func (c *Client) Execute(ctx context.Context, taskID ID, parameters map[string]interface{}, webhookURL string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/managed-tasks/%s/execute", c.config.BaseURL, url.PathEscape(string(taskID)))

	body := executeRequest{Parameters: parameters, WebhookURL: webhookURL}
	resp, err := c.http.DoJSON(ctx, http.MethodPost, endpoint, c.authHeaders(), body, c.config.ExecuteTimeout)
	if err != nil {
		return "", apperrors.NewDispatchError(err.Error(), err)
	}
	if !resp.OK() {
		return "", apperrors.NewDispatchError(
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(resp.Body)), nil)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return "", apperrors.NewDispatchError("empty response body", nil)
	}

	var parsed executeResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", apperrors.NewDispatchError(fmt.Sprintf("unparsable body: %v", err), err)
	}
	if parsed.Data == nil || parsed.Data.ExecutionID == "" {
		return "", apperrors.NewDispatchError("response did not include data.executionId", nil)
	}

	return string(parsed.Data.ExecutionID), nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
