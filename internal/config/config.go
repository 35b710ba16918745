package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"cobranca/internal/log"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int
	ReportCacheTTL     time.Duration

	// Backend selection
	DataBackend    string
	SQLiteDBPath   string
	MemorySeedFile string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets history export
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Workers
	ExportBatchSize int
	ExportInterval  time.Duration
	SweepInterval   time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

var validBackends = []string{"memory", "sqlite"}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		ReportCacheTTL:     getEnvDuration("REPORT_CACHE_TTL", 5*time.Minute),

		DataBackend:    getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/cobranca.db"),
		MemorySeedFile: getEnv("MEMORY_SEED_FILE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "cobranca"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_entries"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		ExportBatchSize: getEnvInt("EXPORT_BATCH_SIZE", 10),
		ExportInterval:  getEnvDuration("EXPORT_INTERVAL", 30*time.Second),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

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

	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if c.ExportBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid export batch size %d: must be at least 1", c.ExportBatchSize))
	} else if c.ExportBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid export batch size %d: must be at most 1000", c.ExportBatchSize))
	}

	if c.ExportInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be at least 1 second", c.ExportInterval))
	} else if c.ExportInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be at most 24 hours", c.ExportInterval))
	}

	if c.SweepInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be at least 1 minute", c.SweepInterval))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	if c.ReportCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid report cache TTL %v: must not be negative", c.ReportCacheTTL))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// SheetsEnabled reports whether a spreadsheet is configured for the history export.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
