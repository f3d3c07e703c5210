package mengla

import (
	"context"
	"time"

	"mengla-gateway/internal/common/collect"
	apperrors "mengla-gateway/internal/common/errors"
	"mengla-gateway/internal/common/logger"
	"mengla-gateway/internal/common/metrics"
)

// Dispatcher asks the collection platform to start a run and returns its execution id.
type Dispatcher interface {
	Dispatch(ctx context.Context, params QueryParams) (string, error)
}

// TaskClient is the part of the collection platform client the dispatcher needs.
type TaskClient interface {
	FindTask(ctx context.Context, name string) (collect.ID, error)
	Execute(ctx context.Context, taskID collect.ID, parameters map[string]interface{}, webhookURL string) (string, error)
}

// CollectDispatcher resolves the managed task by name and starts an execution,
// honouring the process-wide request throttle.
type CollectDispatcher struct {
	client     TaskClient
	throttle   *Throttle
	taskName   string
	webhookURL string
	alerter    Alerter
	logger     logger.Logger
}

func NewCollectDispatcher(client TaskClient, throttle *Throttle, cfg *Config, alerter Alerter, log logger.Logger) *CollectDispatcher {
	if alerter == nil {
		alerter = nopAlerter{}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &CollectDispatcher{
		client:     client,
		throttle:   throttle,
		taskName:   cfg.TaskName,
		webhookURL: cfg.WebhookURL,
		alerter:    alerter,
		logger:     log,
	}
}

func (d *CollectDispatcher) Dispatch(ctx context.Context, params QueryParams) (string, error) {
	if err := d.throttle.Wait(ctx); err != nil {
		metrics.Dispatches.WithLabelValues("throttled").Inc()
		return "", apperrors.NewDispatchError("waiting for request throttle", err)
	}

	start := time.Now()
	taskID, err := d.client.FindTask(ctx, d.taskName)
	if err != nil {
		d.fail(ctx, params, err)
		return "", err
	}

	execID, err := d.client.Execute(ctx, taskID, params.Parameters(), d.webhookURL)
	if err != nil {
		d.fail(ctx, params, err)
		return "", err
	}

	metrics.Dispatches.WithLabelValues("ok").Inc()
	d.logger.Info("Collection request dispatched", map[string]interface{}{
		"action":      params.Action,
		"taskId":      string(taskID),
		"executionId": execID,
		"extraKeys":   params.ExtraKeys(),
		"durationMs":  time.Since(start).Milliseconds(),
	})
	return execID, nil
}

func (d *CollectDispatcher) fail(ctx context.Context, params QueryParams, err error) {
	stdErr := apperrors.AsStandardError(err)
	metrics.Dispatches.WithLabelValues(string(stdErr.Code)).Inc()

	d.logger.Error("Collection request failed", map[string]interface{}{
		"action":    params.Action,
		"taskName":  d.taskName,
		"errorCode": string(stdErr.Code),
		"error":     err,
	})

	if !shouldAlert(stdErr.Code) {
		return
	}
	if aErr := d.alerter.Alert(context.WithoutCancel(ctx), stdErr); aErr != nil {
		d.logger.Warn("Failed to publish alert", map[string]interface{}{
			"errorCode": string(stdErr.Code),
			"error":     aErr,
		})
	}
}
