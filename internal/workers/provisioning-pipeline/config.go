// internal/workers/provisioning-pipeline/config.go
package provisioningpipeline

import (
	"time"

	"memberflow/internal/common/config"
)

// Config holds the provisioning pipeline's invocation settings.
type Config struct {
	// Timeout bounds one whole invocation across all Graph steps.
	Timeout time.Duration
	// InviteRedirectURL is where a redeemed guest invitation lands.
	InviteRedirectURL string
}

func NewConfig(cfg *config.Config) *Config {
	return &Config{
		Timeout:           config.GetDuration(cfg.Pipelines.Provisioning.Timeout),
		InviteRedirectURL: cfg.Azure.InviteRedirectURL,
	}
}
