package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the SafeHome daemon.
type Config struct {
	SQLiteDSN    string
	FallbackPath string
	EventLogFile string
	HTTPPort     int
	PollInterval time.Duration
	LogLevel     string
	LogFormat    string
	SMTP         SMTPConfig
}

// SMTPConfig carries alert mail transport credentials. They are only ever
// supplied through the environment.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough SMTP settings are present to deliver mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Port > 0
}

// DotEnvFile is loaded before the environment is parsed when it exists.
// Variables already present in the process environment take precedence.
var DotEnvFile = ".env"

// Load parses configuration values from the current process environment.
//
// The loader applies defaults for optional fields and reports every invalid
// entry in a single error.
func Load() (Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read %s: %w", DotEnvFile, err)
	}

	cfg := Config{
		SQLiteDSN:    "safehome.db",
		FallbackPath: "safehome_settings.json",
		HTTPPort:     8080,
		PollInterval: time.Second,
		LogLevel:     "info",
		LogFormat:    "json",
		SMTP:         SMTPConfig{Port: 587},
	}

	invalid := make([]string, 0, 4)

	if dsn := strings.TrimSpace(os.Getenv("SAFEHOME_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if path, ok := os.LookupEnv("SAFEHOME_FALLBACK_PATH"); ok {
		cfg.FallbackPath = strings.TrimSpace(path)
	}

	cfg.EventLogFile = strings.TrimSpace(os.Getenv("SAFEHOME_EVENT_LOG_FILE"))

	if portValue := strings.TrimSpace(os.Getenv("SAFEHOME_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port < 0 || port > 65535 {
			invalid = append(invalid, "SAFEHOME_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if intervalValue := strings.TrimSpace(os.Getenv("SAFEHOME_POLL_INTERVAL")); intervalValue != "" {
		interval, err := time.ParseDuration(intervalValue)
		if err != nil || interval <= 0 {
			invalid = append(invalid, "SAFEHOME_POLL_INTERVAL")
		} else {
			cfg.PollInterval = interval
		}
	}

	if level := strings.ToLower(strings.TrimSpace(os.Getenv("SAFEHOME_LOG_LEVEL"))); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			invalid = append(invalid, "SAFEHOME_LOG_LEVEL")
		}
	}

	if format := strings.ToLower(strings.TrimSpace(os.Getenv("SAFEHOME_LOG_FORMAT"))); format != "" {
		switch format {
		case "json", "text":
			cfg.LogFormat = format
		default:
			invalid = append(invalid, "SAFEHOME_LOG_FORMAT")
		}
	}

	cfg.SMTP.Host = strings.TrimSpace(os.Getenv("SAFEHOME_SMTP_HOST"))
	cfg.SMTP.Username = strings.TrimSpace(os.Getenv("SAFEHOME_SMTP_USER"))
	cfg.SMTP.Password = os.Getenv("SAFEHOME_SMTP_PASSWORD")
	cfg.SMTP.From = strings.TrimSpace(os.Getenv("SAFEHOME_SMTP_FROM"))
	if portValue := strings.TrimSpace(os.Getenv("SAFEHOME_SMTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "SAFEHOME_SMTP_PORT")
		} else {
			cfg.SMTP.Port = port
		}
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
