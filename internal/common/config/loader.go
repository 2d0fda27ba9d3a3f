// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like AZURE_TENANT_ID
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored when absent.
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

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

// findProjectRoot walks up from cwd looking for go.mod.
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

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig fills secrets from bare environment variables when the
// yaml left them empty.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Azure.TenantID == "" {
		if val := os.Getenv("AZURE_TENANT_ID"); val != "" {
			cfg.Azure.TenantID = val
		}
	}
	if cfg.Azure.ClientID == "" {
		if val := os.Getenv("AZURE_CLIENT_ID"); val != "" {
			cfg.Azure.ClientID = val
		}
	}
	if cfg.Azure.ClientSecret == "" {
		if val := os.Getenv("AZURE_CLIENT_SECRET"); val != "" {
			cfg.Azure.ClientSecret = val
		}
	}
	if cfg.Azure.OpenAI.APIKey == "" {
		if val := os.Getenv("AZURE_OPENAI_API_KEY"); val != "" {
			cfg.Azure.OpenAI.APIKey = val
		}
	}
	if cfg.Azure.OpenAI.Endpoint == "" {
		if val := os.Getenv("AZURE_OPENAI_ENDPOINT"); val != "" {
			cfg.Azure.OpenAI.Endpoint = val
		}
	}
	if cfg.Callback.DefaultURL == "" {
		if val := os.Getenv("CALLBACK_DEFAULT_URL"); val != "" {
			cfg.Callback.DefaultURL = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Queue.ChatStream == "" {
		cfg.Queue.ChatStream = "chat:inbound"
	}
	if cfg.Queue.ProvisioningStream == "" {
		cfg.Queue.ProvisioningStream = "provisioning:inbound"
	}
	if cfg.Queue.ConsumerGroup == "" {
		cfg.Queue.ConsumerGroup = "pipeline-workers"
	}
	if cfg.Queue.ConsumerName == "" {
		cfg.Queue.ConsumerName = "worker-1"
	}
	if cfg.Queue.BlockTimeout == 0 {
		cfg.Queue.BlockTimeout = 5000
	}
	if cfg.Queue.DedupeTTL == 0 {
		cfg.Queue.DedupeTTL = 86400 // 24h
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.AuditIndex == "" {
		cfg.Database.Elasticsearch.AuditIndex = "pipeline-audit"
	}

	if cfg.Azure.GraphBaseURL == "" {
		cfg.Azure.GraphBaseURL = "https://graph.microsoft.com/v1.0"
	}
	if cfg.Azure.InviteRedirectURL == "" {
		cfg.Azure.InviteRedirectURL = "https://myapps.microsoft.com"
	}
	if cfg.Azure.OpenAI.APIVersion == "" {
		cfg.Azure.OpenAI.APIVersion = "2024-02-01"
	}
	if cfg.Azure.OpenAI.Timeout == 0 {
		cfg.Azure.OpenAI.Timeout = 60000
	}

	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 3
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 10000
	}
	if cfg.Search.Index == "" {
		cfg.Search.Index = "knowledge-base"
	}

	if cfg.Models.RegistryPath == "" {
		cfg.Models.RegistryPath = "configs/models.json"
	}

	if cfg.Callback.Timeout == 0 {
		cfg.Callback.Timeout = 30000
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

	if cfg.Pipelines.Chat.Timeout == 0 {
		cfg.Pipelines.Chat.Timeout = 120000
	}
	if cfg.Pipelines.Provisioning.Timeout == 0 {
		cfg.Pipelines.Provisioning.Timeout = 300000
	}
}

// validateConfig validates critical configuration fields.
func validateConfig(cfg *Config) error {
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required")
	}

	return nil
}
