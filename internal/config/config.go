package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsPort string `yaml:"metrics_port"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	IdentityBaseURL string `yaml:"identity_base_url"`

	KafkaBrokers []string `yaml:"kafka_brokers"`

	// Matchmaking
	PairInterval    time.Duration `yaml:"pair_interval"`
	RatingThreshold int           `yaml:"rating_threshold"`
	RequeueGrace    time.Duration `yaml:"requeue_grace"`

	// Sessions
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`

	// Wagers
	ChallengeTTL    time.Duration `yaml:"challenge_ttl"`
	ControlDuration time.Duration `yaml:"control_duration"`

	MaxConcurrentGames int `yaml:"max_concurrent_games"`
}

func defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:         ":8080",
		MetricsPort:        "9100",
		PairInterval:       2 * time.Second,
		RatingThreshold:    200,
		RequeueGrace:       15 * time.Second,
		DisconnectGrace:    2 * time.Minute,
		ChallengeTTL:       60 * time.Second,
		ControlDuration:    24 * time.Hour,
		MaxConcurrentGames: 200,
	}
}

// Load builds the config from an optional YAML file (CONFIG_FILE) with
// environment variables taking precedence over file values.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("METRICS_PORT")); v != "" {
		cfg.MetricsPort = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("IDENTITY_BASE_URL")); v != "" {
		cfg.IdentityBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, s)
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("PAIR_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			cfg.PairInterval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATING_THRESHOLD")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RatingThreshold = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("REQUEUE_GRACE")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequeueGrace = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("DISCONNECT_GRACE")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.DisconnectGrace = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHALLENGE_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ChallengeTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONTROL_DURATION")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ControlDuration = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_GAMES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentGames = n
		}
	}

	if cfg.ListenAddr == "" {
		return nil, errors.New("LISTEN_ADDR is required")
	}
	return cfg, nil
}
