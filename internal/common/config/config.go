// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Collect  CollectConfig  `mapstructure:"collect"`
	MengLa   MengLaConfig   `mapstructure:"mengla"`
	Database DatabaseConfig `mapstructure:"database"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	BaseURL     string `mapstructure:"base_url"` // APP_BASEURL, used to build the webhook URL
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// CollectConfig describes the external collection platform.
type CollectConfig struct {
	ServiceURL         string `mapstructure:"service_url"` // COLLECT_SERVICE_URL
	APIKey             string `mapstructure:"api_key"`     // COLLECT_SERVICE_API_KEY
	TaskName           string `mapstructure:"task_name"`
	MinRequestInterval int    `mapstructure:"min_request_interval"` // milliseconds
	ListTimeout        int    `mapstructure:"list_timeout"`         // milliseconds
	ExecuteTimeout     int    `mapstructure:"execute_timeout"`      // milliseconds
	WebhookPath        string `mapstructure:"webhook_path"`
}

// MengLaConfig holds the query coordinator settings.
type MengLaConfig struct {
	QueryTimeout int              `mapstructure:"query_timeout"` // milliseconds
	PollInterval int              `mapstructure:"poll_interval"` // milliseconds
	Cache        CacheConfig      `mapstructure:"cache"`
	ExecLog      ExecutionLogConf `mapstructure:"execution_log"`
}

type CacheConfig struct {
	Backend   string `mapstructure:"backend"` // memory | redis
	KeyPrefix string `mapstructure:"key_prefix"`
	TTL       int    `mapstructure:"ttl"`      // seconds, 0 = never expire
	ExecTTL   int    `mapstructure:"exec_ttl"` // seconds, 0 = never expire
	PubSub    bool   `mapstructure:"pubsub"`
	Channel   string `mapstructure:"channel"`
}

type ExecutionLogConf struct {
	Enabled bool `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AlertsConfig holds settings for platform misconfiguration alerts.
type AlertsConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TracingConfig selects where query spans are exported.
type TracingConfig struct {
	Exporter string `mapstructure:"exporter"` // none | stdout
}
