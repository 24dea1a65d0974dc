package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	VorionEnv   string

	AdminAPIKey string

	ChainKeyID             string
	ChainPrivateKeyBase64  string
	ChainPrivateKeySeedHex string

	RecoveryBonusCap int

	AggregateMaxRecords      int
	AggregateIntervalSeconds int

	AnchorURL            string
	AnchorMaxRetries     int
	AnchorBackoffSeconds int
	AnchorSweepSeconds   int
	AnchorTimeoutSeconds int

	ClaimTTLSeconds int

	PolicyBundlePath string
	PolicyBundleID   string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                 addr,
		PostgresDSN:              os.Getenv("POSTGRES_DSN"),
		LogLevel:                 envDefault("LOG_LEVEL", "info"),
		VorionEnv:                os.Getenv("VORION_ENV"),
		AdminAPIKey:              os.Getenv("ADMIN_API_KEY"),
		ChainKeyID:               envDefault("CHAIN_KEY_ID", "chain-key-1"),
		ChainPrivateKeyBase64:    os.Getenv("CHAIN_PRIVATE_KEY_BASE64"),
		ChainPrivateKeySeedHex:   os.Getenv("CHAIN_PRIVATE_KEY_SEED_HEX"),
		RecoveryBonusCap:         envIntDefault("RECOVERY_BONUS_CAP", 25),
		AggregateMaxRecords:      envIntDefault("AGGREGATE_MAX_RECORDS", 64),
		AggregateIntervalSeconds: envIntDefault("AGGREGATE_INTERVAL_SECONDS", 3600),
		AnchorURL:                os.Getenv("ANCHOR_URL"),
		AnchorMaxRetries:         envIntDefault("ANCHOR_MAX_RETRIES", 3),
		AnchorBackoffSeconds:     envIntDefault("ANCHOR_BACKOFF_SECONDS", 5),
		AnchorSweepSeconds:       envIntDefault("ANCHOR_SWEEP_SECONDS", 300),
		AnchorTimeoutSeconds:     envIntDefault("ANCHOR_TIMEOUT_SECONDS", 2),
		ClaimTTLSeconds:          envIntDefault("CLAIM_TTL_SECONDS", 3600),
		PolicyBundlePath:         os.Getenv("POLICY_BUNDLE_PATH"),
		PolicyBundleID:           envDefault("POLICY_BUNDLE_ID", "default"),
		RateLimitRequests:        envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:   envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:      envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  envIntDefault("REDIS_DB", 0),
	}
}

func (c Config) AggregateInterval() time.Duration {
	return time.Duration(c.AggregateIntervalSeconds) * time.Second
}

func (c Config) AnchorBackoff() time.Duration {
	return time.Duration(c.AnchorBackoffSeconds) * time.Second
}

func (c Config) AnchorSweepInterval() time.Duration {
	return time.Duration(c.AnchorSweepSeconds) * time.Second
}

func (c Config) AnchorTimeout() time.Duration {
	return time.Duration(c.AnchorTimeoutSeconds) * time.Second
}

func (c Config) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
