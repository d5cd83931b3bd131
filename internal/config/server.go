// Package config provides configuration management for the licensor
// server and agent.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	Port        int
	// GracePeriodDays bounds offline verification trust since the last
	// online sync. Deployment profiles differ (7 for connected sites,
	// 30 for remote ones), so this is never hardwired.
	GracePeriodDays int
	// ReactivateRevoked allows renewal to resurrect a revoked license.
	// Off by default; turning it on is an explicit, audited policy choice.
	ReactivateRevoked bool
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m").
	RateLimitPeriod string
	// AllowedOrigins for CORS. Empty allows all origins in development
	// and refuses to start in production.
	AllowedOrigins []string
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	gracePeriodDays := getEnvInt("GRACE_PERIOD_DAYS", 7)
	if gracePeriodDays <= 0 {
		gracePeriodDays = 7
	}

	port := getEnvInt("PORT", 8080)
	if port <= 0 || port > 65535 {
		port = 8080
	}

	rateLimitRequests := int64(getEnvInt("RATE_LIMIT_REQUESTS", 100))
	if rateLimitRequests <= 0 {
		rateLimitRequests = 100
	}

	rateLimitPeriod := os.Getenv("RATE_LIMIT_PERIOD")
	if rateLimitPeriod == "" {
		rateLimitPeriod = "1m"
	}

	var allowedOrigins []string
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				allowedOrigins = append(allowedOrigins, trimmed)
			}
		}
	}

	return ServerConfig{
		Environment:       env,
		Port:              port,
		GracePeriodDays:   gracePeriodDays,
		ReactivateRevoked: getEnvBool("REACTIVATE_REVOKED", false),
		RateLimitRequests: rateLimitRequests,
		RateLimitPeriod:   rateLimitPeriod,
		AllowedOrigins:    allowedOrigins,
	}
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
