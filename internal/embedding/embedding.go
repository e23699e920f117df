// Package embedding turns text into fixed-length float vectors via an
// external model endpoint.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider       string `json:"provider"` // "api" or "local"
	Endpoint       string `json:"endpoint"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
	Dimension      int    `json:"dimension"`
	TimeoutSeconds int    `json:"timeout_seconds"` // per-call cap on the model round trip
}

// Timeout returns the configured per-call timeout, defaulting to 30s.
// The model endpoint is the only unbounded external dependency, so
// every call is capped.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// New builds a Provider from config.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "api":
		return NewAPIProvider(cfg), nil
	case "local", "":
		return NewLocalProvider(cfg), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}
