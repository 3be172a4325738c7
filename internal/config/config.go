package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	DatabaseURL string
	DBDriver    string
	SQLitePath  string
	Port        string
	Env         string
	AuthKey     string
	Host        string
	LogLevel    string

	AllowedOrigins []string
	SendBuffer     int
	ReadLimit      int64
	RateLimitRPS   float64
	RateLimitBurst int
	BackfillCron   string
	ShutdownGrace  time.Duration
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Load reads the environment (and a .env file when present) into a Config.
// Configuration logging goes to log; pass zap.NewNop() before the real
// logger exists.
func Load(log *zap.Logger) (*Config, error) {
	log = log.Named("config")

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, relying on system environment variables")
	} else {
		log.Info("loaded .env file")
	}

	cfg := &Config{
		DatabaseURL:    getEnv(log, "DATABASE_URL", ""),
		DBDriver:       strings.ToLower(getEnv(log, "DB_DRIVER", DriverPostgres)),
		SQLitePath:     getEnv(log, "SQLITE_PATH", "chat.db"),
		Port:           getEnv(log, "PORT", "8080"),
		Env:            getEnv(log, "APP_ENV", "development"),
		AuthKey:        getEnv(log, "AUTH_KEY", ""),
		Host:           getEnv(log, "HOST", ""),
		LogLevel:       getEnv(log, "LOG_LEVEL", "info"),
		AllowedOrigins: splitList(getEnv(log, "ALLOWED_ORIGINS", "")),
		BackfillCron:   getEnv(log, "BACKFILL_CRON", "0 3 * * *"),
	}

	var err error
	if cfg.SendBuffer, err = getInt(log, "SEND_BUFFER", 256); err != nil {
		return nil, err
	}
	readLimit, err := getInt(log, "READ_LIMIT", 16384)
	if err != nil {
		return nil, err
	}
	cfg.ReadLimit = int64(readLimit)
	if cfg.RateLimitRPS, err = getFloat(log, "RATE_LIMIT_RPS", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt(log, "RATE_LIMIT_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.ShutdownGrace, err = getDuration(log, "SHUTDOWN_GRACE", 5*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info("configuration initialized",
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.Addr()),
		zap.String("driver", cfg.DBDriver),
		zap.String("database", cfg.maskedSource()),
		zap.Bool("auth", cfg.AuthKey != ""),
	)
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.AuthKey == "" && c.Env == "production" {
		return errors.New("AUTH_KEY (JWT secret) is required in production")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("READ_LIMIT must be positive, got %d", c.ReadLimit)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %v", c.RateLimitRPS)
	}
	return nil
}

func (c *Config) maskedSource() string {
	if c.DBDriver == DriverSQLite {
		return c.SQLitePath
	}
	return maskDBSource(c.DatabaseURL)
}

func getEnv(log *zap.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Debug("variable not set, using default", zap.String("key", key), zap.String("default", defaultValue))
		return defaultValue
	}
	return value
}

func getInt(log *zap.Logger, key string, defaultValue int) (int, error) {
	raw := getEnv(log, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getFloat(log *zap.Logger, key string, defaultValue float64) (float64, error) {
	raw := getEnv(log, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getDuration(log *zap.Logger, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(log, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[len(parts)-1]
}
