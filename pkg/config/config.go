// Package config loads runtime configuration for services embedding the
// integrity core. Values come from environment variables with development
// defaults; a YAML deployment profile can override the environment for
// packaged installs.
package config

import (
	"os"

	"github.com/brokerops/core/pkg/token"
)

// Config holds the core's runtime settings.
type Config struct {
	SigningKeyID  string
	SigningSecret string
	DatabaseURL   string
	RedisAddr     string
	LogLevel      string
}

// Load reads configuration from environment variables.
func Load() *Config {
	keyID := os.Getenv("BROKEROPS_SIGNING_KEY_ID")
	if keyID == "" {
		keyID = "dev-key"
	}

	// No default secret: issuing without one fails, which is the safe
	// behavior for a misconfigured deployment.
	secret := os.Getenv("BROKEROPS_SIGNING_SECRET")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "file:brokerops.db?mode=rwc"
	}

	redisAddr := os.Getenv("REDIS_ADDR")

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		SigningKeyID:  keyID,
		SigningSecret: secret,
		DatabaseURL:   dbURL,
		RedisAddr:     redisAddr,
		LogLevel:      logLevel,
	}
}

// SigningContext builds the token signing context from the loaded
// configuration.
func (c *Config) SigningContext() token.SigningContext {
	return token.SigningContext{KeyID: c.SigningKeyID, Secret: []byte(c.SigningSecret)}
}
