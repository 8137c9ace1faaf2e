package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// AMQP event feed; empty URL disables eventing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Intake
	DailyGoalML float64

	// Product lookup
	LookupBaseURL string
	LookupTimeout time.Duration

	// Worker
	ReportInterval time.Duration
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/vocht.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "vocht"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "intake_events"),

		DailyGoalML: getEnvFloat("DAILY_GOAL_ML", 1500),

		LookupBaseURL: getEnv("LOOKUP_BASE_URL", "https://world.openfoodfacts.org"),
		LookupTimeout: getEnvDuration("LOOKUP_TIMEOUT", 10*time.Second),

		ReportInterval: getEnvDuration("REPORT_INTERVAL", 5*time.Minute),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate SQLite path
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate daily goal
	if c.DailyGoalML <= 0 {
		errors = append(errors, fmt.Sprintf("invalid daily goal %v: must be positive", c.DailyGoalML))
	}

	// Validate lookup configuration
	if parsedURL, err := url.Parse(c.LookupBaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid lookup base URL '%s': %v", c.LookupBaseURL, err))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid lookup base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}
	if c.LookupTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid lookup timeout %v: must be at least 1 second", c.LookupTimeout))
	} else if c.LookupTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid lookup timeout %v: must be at most 1 minute", c.LookupTimeout))
	}

	// Validate worker configuration
	if c.ReportInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid report interval %v: must be at least 1 second", c.ReportInterval))
	} else if c.ReportInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid report interval %v: must be at most 24 hours", c.ReportInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
