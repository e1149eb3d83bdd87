// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the process-level settings.  Each field corresponds to an
// environment variable.
type Config struct {
	Env             string        // APP_ENV: dev, test or prod
	Port            string        // APP_PORT: HTTP port to listen on
	DBUser          string        // DB_USER
	DBPass          string        // DB_PASS (empty allowed)
	DBHost          string        // DB_HOST
	DBPort          string        // DB_PORT
	DBName          string        // DB_NAME
	DBMigrate       bool          // DB_MIGRATE: create tables at startup
	JWTSecret       string        // JWT_SECRET: verifies customer access tokens
	ShutdownTimeout time.Duration // SHUTDOWN_TIMEOUT
}

// Load reads configuration values from environment variables.  Missing
// required variables stop the process with a fatal log entry.
func Load() Config {
	return Config{
		Env:             must("APP_ENV"),
		Port:            must("APP_PORT"),
		DBUser:          must("DB_USER"),
		DBPass:          os.Getenv("DB_PASS"),
		DBHost:          must("DB_HOST"),
		DBPort:          must("DB_PORT"),
		DBName:          must("DB_NAME"),
		DBMigrate:       envBool("DB_MIGRATE", true),
		JWTSecret:       must("JWT_SECRET"),
		ShutdownTimeout: envDur("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// must retrieves the value of a required environment variable.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatal().Str("key", key).Msg("missing required env var")
	}
	return v
}
