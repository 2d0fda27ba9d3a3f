// internal/workers/chat-pipeline/config.go
package chatpipeline

import (
	"time"

	"memberflow/internal/common/config"
)

// Config holds the chat pipeline's invocation settings.
type Config struct {
	// Timeout bounds one whole invocation: retrieval, fan-out, sink and
	// callback together.
	Timeout time.Duration
	// DefaultModelTimeout applies to models whose registry entry carries
	// no timeout of its own.
	DefaultModelTimeout time.Duration
	SearchTimeout       time.Duration
}

func NewConfig(cfg *config.Config) *Config {
	return &Config{
		Timeout:             config.GetDuration(cfg.Pipelines.Chat.Timeout),
		DefaultModelTimeout: config.GetDuration(cfg.Azure.OpenAI.Timeout),
		SearchTimeout:       config.GetDuration(cfg.Search.Timeout),
	}
}
