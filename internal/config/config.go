// Package config loads the service configuration from a JSON file with
// environment variable substitution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/nidhogg/memoro/internal/embedding"
	"github.com/nidhogg/memoro/internal/vectorstore"
)

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig     `json:"server"`
	Database      DatabaseConfig   `json:"database"`
	Embedding     embedding.Config `json:"embedding"`
	Retrieval     RetrievalConfig  `json:"retrieval"`
	Assembler     AssemblerConfig  `json:"assembler"`
	Backlog       BacklogConfig    `json:"backlog"`
	MigrationsDir string           `json:"migrations_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig     `json:"postgres"`
	Qdrant   vectorstore.Config `json:"qdrant"`
	Redis    RedisConfig        `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL             string `json:"url"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
}

type RetrievalConfig struct {
	DefaultLimit int `json:"default_limit"`
}

type AssemblerConfig struct {
	MaxContextLength int `json:"max_context_length"`
}

type BacklogConfig struct {
	BatchSize       int `json:"batch_size"`
	IntervalSeconds int `json:"interval_seconds"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Retrieval.DefaultLimit <= 0 {
		c.Retrieval.DefaultLimit = 5
	}
	if c.Assembler.MaxContextLength <= 0 {
		c.Assembler.MaxContextLength = 4000
	}
	if c.Backlog.BatchSize <= 0 {
		c.Backlog.BatchSize = 10
	}
	if c.Backlog.IntervalSeconds <= 0 {
		c.Backlog.IntervalSeconds = 300
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = "migrations"
	}
}
