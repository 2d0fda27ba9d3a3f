// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Azure     AzureConfig     `mapstructure:"azure"`
	Search    SearchConfig    `mapstructure:"search"`
	Models    ModelsConfig    `mapstructure:"models"`
	Callback  CallbackConfig  `mapstructure:"callback"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Pipelines PipelinesConfig `mapstructure:"pipelines"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// QueueConfig names the Redis streams backing the two flows.
type QueueConfig struct {
	ChatStream         string `mapstructure:"chat_stream"`
	ProvisioningStream string `mapstructure:"provisioning_stream"`
	ConsumerGroup      string `mapstructure:"consumer_group"`
	ConsumerName       string `mapstructure:"consumer_name"`
	BlockTimeout       int    `mapstructure:"block_timeout"` // milliseconds
	DedupeTTL          int    `mapstructure:"dedupe_ttl"`    // seconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
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

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	AuditIndex string   `mapstructure:"audit_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AzureConfig holds the identity and Graph settings for the provisioning flow.
type AzureConfig struct {
	TenantID          string       `mapstructure:"tenant_id"`
	ClientID          string       `mapstructure:"client_id"`
	ClientSecret      string       `mapstructure:"client_secret"`
	GraphBaseURL      string       `mapstructure:"graph_base_url"`
	InviteRedirectURL string       `mapstructure:"invite_redirect_url"`
	OpenAI            OpenAIConfig `mapstructure:"openai"`
}

type OpenAIConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	APIVersion string `mapstructure:"api_version"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
}

// SearchConfig holds the context-retrieval index settings.
type SearchConfig struct {
	Index   string `mapstructure:"index"`
	TopK    int    `mapstructure:"top_k"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// ModelsConfig points at the model registry consumed by the fan-out.
type ModelsConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
}

type CallbackConfig struct {
	DefaultURL string `mapstructure:"default_url"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
}

// AlertsConfig configures operator alerting on unrecoverable failures.
type AlertsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AWSRegion string `mapstructure:"aws_region"`
	FromEmail string `mapstructure:"from_email"`
	ToEmail   string `mapstructure:"to_email"`
	SNSTopic  string `mapstructure:"sns_topic"`
}

// TracingConfig configures the Jaeger trace exporter; empty endpoint disables
// tracing.
type TracingConfig struct {
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// PipelineConfig holds the core settings applicable to every pipeline.
type PipelineConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Timeout int  `mapstructure:"timeout"` // milliseconds, whole invocation
}

type PipelinesConfig struct {
	Chat         PipelineConfig `mapstructure:"chat"`
	Provisioning PipelineConfig `mapstructure:"provisioning"`
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
