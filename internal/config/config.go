package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	CredentialBackendDB   = "db"
	CredentialBackendFile = "file"
)

type Config struct {
	Port string

	BackendURL         string
	WebhookURL         string
	WebhookToken       string
	WebhookTimeout     time.Duration
	WebhookConcurrency int
	WebhookQueueSize   int

	LogLevel  string
	LogFormat string

	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	CredentialBackend string
	CredentialFile    string

	ReconnectDelay      time.Duration
	ReconnectMaxDelay   time.Duration
	ReconnectMultiplier float64

	SendTimeout          time.Duration
	MediaFetchTimeout    time.Duration
	MediaDownloadTimeout time.Duration
	SendRateLimit        float64
	SendRateBurst        int

	DeviceName string
	PrintQR    bool
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file loaded, using process environment")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() *Config {
	backend := strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8000"), "/")
	delay := getDuration("RECONNECT_DELAY", 3*time.Second)

	return &Config{
		Port: getEnv("PORT", "3001"),

		BackendURL:         backend,
		WebhookURL:         getEnv("WEBHOOK_URL", backend+"/api/whatsapp/incoming"),
		WebhookToken:       getEnv("WEBHOOK_TOKEN", ""),
		WebhookTimeout:     getDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookConcurrency: getInt("WEBHOOK_CONCURRENCY", 8),
		WebhookQueueSize:   getInt("WEBHOOK_QUEUE_SIZE", 256),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DBPath:     getEnv("DB_PATH", "./whatsapp-bridge.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "whatsapp_bridge"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		CredentialBackend: strings.ToLower(getEnv("CREDENTIAL_BACKEND", CredentialBackendDB)),
		CredentialFile:    getEnv("CREDENTIAL_FILE", "./data/credentials.json"),

		ReconnectDelay:      delay,
		ReconnectMaxDelay:   getDuration("RECONNECT_MAX_DELAY", delay),
		ReconnectMultiplier: getFloat("RECONNECT_MULTIPLIER", 1.0),

		SendTimeout:          getDuration("SEND_TIMEOUT", 30*time.Second),
		MediaFetchTimeout:    getDuration("MEDIA_FETCH_TIMEOUT", 20*time.Second),
		MediaDownloadTimeout: getDuration("MEDIA_DOWNLOAD_TIMEOUT", 60*time.Second),
		SendRateLimit:        getFloat("SEND_RATE_LIMIT", 0),
		SendRateBurst:        getInt("SEND_RATE_BURST", 5),

		DeviceName: getEnv("DEVICE_NAME", "MLH CRM"),
		PrintQR:    getBool("PRINT_QR", true),
	}
}

// Validate reports the first setting that would keep the bridge from doing useful work.
func (c *Config) Validate() error {
	u, err := url.Parse(c.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid WEBHOOK_URL %q", c.WebhookURL)
	}
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.CredentialBackend {
	case CredentialBackendDB, CredentialBackendFile:
	default:
		return fmt.Errorf("unsupported CREDENTIAL_BACKEND %q", c.CredentialBackend)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be positive")
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		c.ReconnectMaxDelay = c.ReconnectDelay
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = 1
	}
	if c.WebhookConcurrency <= 0 {
		c.WebhookConcurrency = 1
	}
	if c.WebhookQueueSize <= 0 {
		c.WebhookQueueSize = 1
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	// bare numbers are milliseconds, matching the node service's timeouts
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	log.Warn().Str("key", key).Str("value", raw).Msg("invalid duration, using default")
	return fallback
}

func getInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid integer, using default")
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid number, using default")
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
