package mengla

import (
	"fmt"
	"time"

	"mengla-gateway/internal/common/config"
)

type Config struct {
	QueryTimeout       time.Duration
	PollInterval       time.Duration
	MinRequestInterval time.Duration
	TaskName           string
	WebhookURL         string
}

func DefaultConfig() *Config {
	return &Config{
		QueryTimeout:       30 * time.Second,
		PollInterval:       100 * time.Millisecond,
		MinRequestInterval: 5 * time.Second,
		TaskName:           config.DefaultTaskName,
		WebhookURL:         config.DefaultAppBaseURL + config.DefaultWebhookPath,
	}
}

// ConfigFromApp maps the loaded application configuration.
func ConfigFromApp(cfg *config.Config) *Config {
	return &Config{
		QueryTimeout:       config.GetDuration(cfg.MengLa.QueryTimeout),
		PollInterval:       config.GetDuration(cfg.MengLa.PollInterval),
		MinRequestInterval: config.GetDuration(cfg.Collect.MinRequestInterval),
		TaskName:           cfg.Collect.TaskName,
		WebhookURL:         cfg.WebhookURL(),
	}
}

func (c *Config) Validate() error {
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.MinRequestInterval < 0 {
		return fmt.Errorf("min request interval must not be negative")
	}
	if c.TaskName == "" {
		return fmt.Errorf("task name is required")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	return nil
}
