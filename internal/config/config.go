package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server     ServerConfig
	JWT        JWTConfig
	Gateway    GatewayConfig
	Classifier ClassifierConfig
	Agents     AgentsConfig
	Redis      RedisConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// JWTConfig holds JWT authentication settings.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
}

// GatewayConfig holds the connection settings for the remote execution
// service.
type GatewayConfig struct {
	URL         string
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// ClassifierConfig holds the routing score thresholds.
type ClassifierConfig struct {
	LowThreshold  int
	HighThreshold int
}

// AgentsConfig holds agent lifecycle settings.
type AgentsConfig struct {
	// Types is the closed set of spawnable agent types.
	Types []string
	// StaleAfter is the per-agent inactivity deadline; zero disables the
	// staleness sweep.
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// RedisConfig holds optional Redis settings for cross-process fan-out.
type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string //nolint:gosec // G117: Redis connection config
	DB            int
	ChannelPrefix string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret) must be set explicitly.
func Load() (*Config, error) {
	readTimeout, err := getEnvDuration("WEAVE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("WEAVE_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	backoffBase, err := getEnvDuration("WEAVE_GATEWAY_BACKOFF_BASE", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	backoffMax, err := getEnvDuration("WEAVE_GATEWAY_BACKOFF_MAX", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	lowThreshold, err := getEnvInt("WEAVE_CLASSIFY_LOW", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	highThreshold, err := getEnvInt("WEAVE_CLASSIFY_HIGH", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	staleAfter, err := getEnvDuration("WEAVE_AGENT_STALE_AFTER", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sweepInterval, err := getEnvDuration("WEAVE_AGENT_SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisEnabled, err := getEnvBool("WEAVE_REDIS_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("WEAVE_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("WEAVE_CORS_ORIGINS", []string{"http://localhost:5173"})
	agentTypes := getEnvList("WEAVE_AGENT_TYPES", []string{"scout", "builder"})

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("WEAVE_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		JWT: JWTConfig{
			Secret: getEnv("WEAVE_JWT_SECRET", ""),
		},
		Gateway: GatewayConfig{
			URL:         getEnv("WEAVE_GATEWAY_URL", "ws://localhost:9000/stream"),
			BackoffBase: backoffBase,
			BackoffMax:  backoffMax,
		},
		Classifier: ClassifierConfig{
			LowThreshold:  lowThreshold,
			HighThreshold: highThreshold,
		},
		Agents: AgentsConfig{
			Types:         agentTypes,
			StaleAfter:    staleAfter,
			SweepInterval: sweepInterval,
		},
		Redis: RedisConfig{
			Enabled:       redisEnabled,
			Addr:          getEnv("WEAVE_REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("WEAVE_REDIS_PASSWORD", ""),
			DB:            redisDB,
			ChannelPrefix: getEnv("WEAVE_REDIS_CHANNEL_PREFIX", "weave:"),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("WEAVE_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("WEAVE_JWT_SECRET must be at least 32 characters")
	}

	if c.Gateway.URL == "" {
		return errors.New("WEAVE_GATEWAY_URL is required")
	}
	if !strings.HasPrefix(c.Gateway.URL, "ws://") && !strings.HasPrefix(c.Gateway.URL, "wss://") {
		return fmt.Errorf("WEAVE_GATEWAY_URL must be a ws:// or wss:// URL, got %q", c.Gateway.URL)
	}
	if c.Gateway.BackoffBase <= 0 {
		return fmt.Errorf("WEAVE_GATEWAY_BACKOFF_BASE must be positive, got %s", c.Gateway.BackoffBase)
	}
	if c.Gateway.BackoffMax < c.Gateway.BackoffBase {
		return fmt.Errorf("WEAVE_GATEWAY_BACKOFF_MAX must be >= WEAVE_GATEWAY_BACKOFF_BASE, got %s", c.Gateway.BackoffMax)
	}

	if c.Classifier.LowThreshold < 0 || c.Classifier.LowThreshold > 100 {
		return fmt.Errorf("WEAVE_CLASSIFY_LOW must be 0-100, got %d", c.Classifier.LowThreshold)
	}
	if c.Classifier.HighThreshold < 0 || c.Classifier.HighThreshold > 100 {
		return fmt.Errorf("WEAVE_CLASSIFY_HIGH must be 0-100, got %d", c.Classifier.HighThreshold)
	}
	if c.Classifier.LowThreshold > c.Classifier.HighThreshold {
		return fmt.Errorf("WEAVE_CLASSIFY_LOW (%d) must not exceed WEAVE_CLASSIFY_HIGH (%d)",
			c.Classifier.LowThreshold, c.Classifier.HighThreshold)
	}

	if len(c.Agents.Types) == 0 {
		return errors.New("WEAVE_AGENT_TYPES must name at least one agent type")
	}
	if c.Agents.StaleAfter < 0 {
		return fmt.Errorf("WEAVE_AGENT_STALE_AFTER must not be negative, got %s", c.Agents.StaleAfter)
	}
	if c.Agents.StaleAfter > 0 && c.Agents.SweepInterval <= 0 {
		return fmt.Errorf("WEAVE_AGENT_SWEEP_INTERVAL must be positive when sweeping is enabled, got %s", c.Agents.SweepInterval)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("WEAVE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("WEAVE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
