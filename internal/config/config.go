package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Service     string
	Environment string
	DebugRoutes bool

	Backend  BackendConfig
	Database DatabaseConfig
	AMQP     AMQPConfig
	Sync     SyncConfig

	OTLPEndpoint string
}

type BackendConfig struct {
	WSURL       string
	APIURL      string
	DialTimeout time.Duration
	AckTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

// SyncConfig holds the timing knobs of the realtime synchronizer.
type SyncConfig struct {
	RetryMax      int
	RetryInterval time.Duration
	TypingWindow  time.Duration
	PollInterval  time.Duration
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	var errs []error
	duration := func(key, fallback string) time.Duration {
		d, err := getDuration(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	integer := func(key string, fallback int) int {
		n, err := getInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8090"),
		Service:     getEnv("SERVICE_NAME", "hobbymeet-sync"),
		Environment: getEnv("ENVIRONMENT", "local"),
		DebugRoutes: getEnv("DEBUG_ROUTES", "false") == "true",
		Backend: BackendConfig{
			WSURL:       getEnv("BACKEND_WS_URL", "ws://localhost:8000/ws"),
			APIURL:      getEnv("BACKEND_API_URL", "http://localhost:8000/api"),
			DialTimeout: duration("DIAL_TIMEOUT", "10s"),
			AckTimeout:  duration("ACK_TIMEOUT", "10s"),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite3"),
			DSN:    getEnv("DB_DSN", "file:hobbymeet-sync.db?_foreign_keys=on"),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "hobbymeet.events"),
		},
		Sync: SyncConfig{
			RetryMax:      integer("RETRY_MAX", 5),
			RetryInterval: duration("RETRY_INTERVAL", "2s"),
			TypingWindow:  duration("TYPING_WINDOW", "2s"),
			PollInterval:  duration("POLL_INTERVAL", "30s"),
		},
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	if cfg.Sync.RetryMax <= 0 {
		return nil, fmt.Errorf("RETRY_MAX must be positive, got %d", cfg.Sync.RetryMax)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}
