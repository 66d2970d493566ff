// Package config provides file and environment configuration for the API server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Relay names accepted by REALTIME_RELAY.
const (
	RelayLocal = "local"
	RelayNATS  = "nats"
	RelayRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `yaml:"port"`
	ServerReadTimeout  time.Duration `yaml:"serverReadTimeout"`
	ServerWriteTimeout time.Duration `yaml:"serverWriteTimeout"`

	// Storage
	DatabasePath string `yaml:"databasePath"`

	// JWT settings
	JWTSecret string `yaml:"jwtSecret"`

	// Messaging policy
	RequireConnection bool `yaml:"requireConnection"`

	// Profile directory sources
	ProfileSeedFile    string `yaml:"profileSeedFile"`
	ProfileSyncEnabled bool   `yaml:"profileSyncEnabled"`
	ProfileSyncSubject string `yaml:"profileSyncSubject"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rateLimitRequests"`
	RateLimitWindow   time.Duration `yaml:"rateLimitWindow"`
	IPRateLimit       int           `yaml:"ipRateLimit"`
	WSEventsPerSecond float64       `yaml:"wsEventsPerSecond"`
	WSEventBurst      int           `yaml:"wsEventBurst"`
	WSAllowedOrigins  []string      `yaml:"wsAllowedOrigins"`

	// Realtime relay
	RealtimeRelay string `yaml:"realtimeRelay"`

	// NATS settings
	NATSURL      string `yaml:"natsUrl"`
	NATSCAFile   string `yaml:"natsCaFile"`
	NATSCertFile string `yaml:"natsCertFile"`
	NATSKeyFile  string `yaml:"natsKeyFile"`
	NATSToken    string `yaml:"natsToken"`

	// Redis settings
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	// Logging
	LogLevel string `yaml:"logLevel"`

	// Tracing
	TracingEndpoint string `yaml:"tracingEndpoint"`
	TracingEnabled  bool   `yaml:"tracingEnabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 120 * time.Second,

		DatabasePath: "messaging.db",

		JWTSecret: "development-secret-change-in-production",

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,
		IPRateLimit:       120,
		WSEventsPerSecond: 5,
		WSEventBurst:      10,

		ProfileSyncSubject: "profiles.upsert",

		RealtimeRelay: RelayLocal,

		NATSURL:   "nats://localhost:4222",
		RedisAddr: "localhost:6379",

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	// Server
	cfg.ServerPort = getEnv("PORT", cfg.ServerPort)
	cfg.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", cfg.ServerReadTimeout)
	cfg.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", cfg.ServerWriteTimeout)

	// Storage
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)

	// JWT
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)

	// Policy
	cfg.RequireConnection = getBoolEnv("REQUIRE_CONNECTION", cfg.RequireConnection)

	// Profiles
	cfg.ProfileSeedFile = getEnv("PROFILE_SEED_FILE", cfg.ProfileSeedFile)
	cfg.ProfileSyncEnabled = getBoolEnv("PROFILE_SYNC_ENABLED", cfg.ProfileSyncEnabled)
	cfg.ProfileSyncSubject = getEnv("PROFILE_SYNC_SUBJECT", cfg.ProfileSyncSubject)

	// Rate limiting
	cfg.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", cfg.RateLimitRequests)
	cfg.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	cfg.IPRateLimit = getIntEnv("IP_RATE_LIMIT", cfg.IPRateLimit)
	cfg.WSEventsPerSecond = getFloatEnv("WS_EVENTS_PER_SECOND", cfg.WSEventsPerSecond)
	cfg.WSEventBurst = getIntEnv("WS_EVENT_BURST", cfg.WSEventBurst)
	cfg.WSAllowedOrigins = getListEnv("WS_ALLOWED_ORIGINS", cfg.WSAllowedOrigins)

	// Relay
	cfg.RealtimeRelay = strings.ToLower(getEnv("REALTIME_RELAY", cfg.RealtimeRelay))

	// NATS
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSCAFile = getEnv("NATS_CA_FILE", cfg.NATSCAFile)
	cfg.NATSCertFile = getEnv("NATS_CERT_FILE", cfg.NATSCertFile)
	cfg.NATSKeyFile = getEnv("NATS_KEY_FILE", cfg.NATSKeyFile)
	cfg.NATSToken = getEnv("NATS_TOKEN", cfg.NATSToken)

	// Redis
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getIntEnv("REDIS_DB", cfg.RedisDB)

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	// Tracing
	cfg.TracingEndpoint = getEnv("TRACING_ENDPOINT", cfg.TracingEndpoint)
	cfg.TracingEnabled = getBoolEnv("TRACING_ENABLED", cfg.TracingEnabled)
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.RealtimeRelay {
	case RelayLocal, RelayNATS, RelayRedis:
	default:
		return fmt.Errorf("unknown realtime relay %q", c.RealtimeRelay)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH must not be empty")
	}
	if c.ProfileSyncEnabled && c.ProfileSyncSubject == "" {
		return fmt.Errorf("PROFILE_SYNC_SUBJECT must not be empty when profile sync is enabled")
	}
	return nil
}

// NeedsNATS reports whether any component uses the NATS connection.
func (c *Config) NeedsNATS() bool {
	return c.RealtimeRelay == RelayNATS || c.ProfileSyncEnabled
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
