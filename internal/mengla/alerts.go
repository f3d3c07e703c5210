package mengla

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "mengla-gateway/internal/common/errors"
)

// Alerter reports platform-side misconfiguration to operators.
type Alerter interface {
	Alert(ctx context.Context, err *apperrors.StandardError) error
}

type messagePublisher interface {
	PublishMessage(ctx context.Context, topicARN, subject, message string) (string, error)
}

// SNSAlerter publishes alerts to an SNS topic.
type SNSAlerter struct {
	publisher messagePublisher
	topicARN  string
	service   string
}

func NewSNSAlerter(publisher messagePublisher, topicARN, service string) *SNSAlerter {
	return &SNSAlerter{publisher: publisher, topicARN: topicARN, service: service}
}

func (a *SNSAlerter) Alert(ctx context.Context, err *apperrors.StandardError) error {
	body, mErr := json.Marshal(map[string]interface{}{
		"service": a.service,
		"error":   err,
	})
	if mErr != nil {
		return fmt.Errorf("marshal alert: %w", mErr)
	}

	// SNS subjects are limited to 100 characters.
	subject := fmt.Sprintf("[%s] %s", a.service, err.Code)
	if len(subject) > 100 {
		subject = subject[:100]
	}

	_, pErr := a.publisher.PublishMessage(ctx, a.topicARN, subject, string(body))
	return pErr
}

type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, *apperrors.StandardError) error { return nil }

// shouldAlert selects the failures that point at platform configuration.
func shouldAlert(code apperrors.ErrorCode) bool {
	return code == apperrors.ErrCodeTaskNotFound || code == apperrors.ErrCodeUpstreamList
}
