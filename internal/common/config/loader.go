// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultCollectServiceURL = "http://localhost:3001"
	DefaultAppBaseURL        = "http://localhost:3000"
	DefaultTaskName          = "mengla-industry-data"
	DefaultWebhookPath       = "/api/webhook/mengla-notify"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// Enable ENV override like COLLECT_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Per-environment overlay, ignored if absent
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideEmptyConfig(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders inside string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			// Unset variables expand to "" so defaults and validation see them as missing.
			if expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills values from the legacy dashboard environment names.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Collect.ServiceURL == "" {
		cfg.Collect.ServiceURL = os.Getenv("COLLECT_SERVICE_URL")
	}
	if cfg.Collect.APIKey == "" {
		cfg.Collect.APIKey = os.Getenv("COLLECT_SERVICE_API_KEY")
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = os.Getenv("APP_BASEURL")
	}

	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = os.Getenv("REDIS_URL")
	}
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "mengla-gateway"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = DefaultAppBaseURL
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10000
	}
	// Query responses may block for the full query timeout plus a dispatch.
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 90000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	if cfg.Collect.ServiceURL == "" {
		cfg.Collect.ServiceURL = DefaultCollectServiceURL
	}
	if cfg.Collect.TaskName == "" {
		cfg.Collect.TaskName = DefaultTaskName
	}
	if cfg.Collect.MinRequestInterval == 0 {
		cfg.Collect.MinRequestInterval = 5000
	}
	if cfg.Collect.ListTimeout == 0 {
		cfg.Collect.ListTimeout = 15000
	}
	if cfg.Collect.ExecuteTimeout == 0 {
		cfg.Collect.ExecuteTimeout = 30000
	}
	if cfg.Collect.WebhookPath == "" {
		cfg.Collect.WebhookPath = DefaultWebhookPath
	}

	if cfg.MengLa.QueryTimeout == 0 {
		cfg.MengLa.QueryTimeout = 30000
	}
	if cfg.MengLa.PollInterval == 0 {
		cfg.MengLa.PollInterval = 100
	}
	if cfg.MengLa.Cache.Backend == "" {
		cfg.MengLa.Cache.Backend = "memory"
	}
	if cfg.MengLa.Cache.KeyPrefix == "" {
		cfg.MengLa.Cache.KeyPrefix = "mengla:"
	}
	if cfg.MengLa.Cache.Channel == "" {
		cfg.MengLa.Cache.Channel = "mengla:deliveries"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 2
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Alerts.SNS.Region == "" {
		cfg.Alerts.SNS.Region = "us-east-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "none"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Collect.APIKey == "" {
		return fmt.Errorf("collect.api_key (COLLECT_SERVICE_API_KEY) is required")
	}

	switch cfg.MengLa.Cache.Backend {
	case "memory":
		if cfg.MengLa.Cache.PubSub {
			return fmt.Errorf("mengla.cache.pubsub requires the redis backend")
		}
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("mengla.cache.backend must be memory or redis, got %q", cfg.MengLa.Cache.Backend)
	}

	if cfg.MengLa.PollInterval >= cfg.MengLa.QueryTimeout {
		return fmt.Errorf("mengla.poll_interval must be shorter than mengla.query_timeout")
	}

	if cfg.MengLa.ExecLog.Enabled {
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required when the execution log is enabled")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required when the execution log is enabled")
		}
	}

	if cfg.Alerts.SNS.Enabled && cfg.Alerts.SNS.TopicARN == "" {
		return fmt.Errorf("alerts.sns.topic_arn is required when sns alerts are enabled")
	}

	switch cfg.Tracing.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be none or stdout, got %q", cfg.Tracing.Exporter)
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// WebhookURL builds the callback URL handed to the collection platform.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.App.BaseURL, "/") + c.Collect.WebhookPath
}
