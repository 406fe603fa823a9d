// Package config loads the process-wide configuration from the environment,
// optionally seeded from a local .env file. Mirrors the teacher's
// getenv/getenvInt helper pattern (internal/mqttclient.NewClientFromEnv),
// generalized to the full option set in spec.md §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every recognized environment option from spec.md §6.
type Config struct {
	APIKey      string
	AdminAPIKey string

	DBPath   string
	PhotoDir string

	SerialDevice string
	SerialBaud   int

	MQTTHost string
	MQTTPort int

	MaxPastSkewHours int
	MinValidYear     int
	MaxQueueDepth    int

	DiskUsageThreshold float64
	MaxPhotoSize       int64
	PhotoRetentionDays int

	DetectionConfidenceThreshold float64
	ExpectedModelHash            string
	ModelPath                    string
	ModelVersion                 string
	MLInferenceURL               string
	MLPollIntervalSec            int

	LocalSigningSecret string
	LocalSigningTTLSec int

	SyncIntervalSec int
	WebhookURLs     []string
	WebhookSecret   string

	SupabaseURL        string
	SupabaseServiceKey string

	ObjectStoreEndpoint       string
	ObjectStoreAccessKey      string
	ObjectStoreSecretKey      string
	ObjectStoreBucket         string
	ObjectStoreUseSSL         bool
	ObjectStorePublicBaseURL  string
	ObjectStorePublicRead     bool

	WeatherProvider string

	HeartbeatDir string
}

// Load reads .env (if present) then populates Config from the environment.
// APIKey is the only required field; all others carry documented defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file found, continuing with process environment")
	}

	cfg := &Config{
		APIKey:      os.Getenv("API_KEY"),
		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),

		DBPath:   getenv("DB_PATH", "./data/hivehub.db"),
		PhotoDir: getenv("PHOTO_DIR", "./data/photos"),

		SerialDevice: os.Getenv("SERIAL_DEVICE"),
		SerialBaud:   getenvInt("SERIAL_BAUD", 115200),

		MQTTHost: getenv("MQTT_HOST", "localhost"),
		MQTTPort: getenvInt("MQTT_PORT", 1883),

		MaxPastSkewHours: getenvInt("MAX_PAST_SKEW_HOURS", 72),
		MinValidYear:     getenvInt("MIN_VALID_YEAR", 2025),
		MaxQueueDepth:    getenvInt("MAX_QUEUE_DEPTH", 50),

		DiskUsageThreshold: getenvFloat("DISK_USAGE_THRESHOLD", 0.90),
		MaxPhotoSize:       int64(getenvInt("MAX_PHOTO_SIZE", 204800)),
		PhotoRetentionDays: getenvInt("PHOTO_RETENTION_DAYS", 30),

		DetectionConfidenceThreshold: getenvFloat("DETECTION_CONFIDENCE_THRESHOLD", 0.25),
		ExpectedModelHash:            os.Getenv("EXPECTED_MODEL_HASH"),
		ModelPath:                    os.Getenv("MODEL_PATH"),
		ModelVersion:                 getenv("MODEL_VERSION", "unknown"),
		MLInferenceURL:               getenv("ML_INFERENCE_URL", "http://localhost:8500/infer"),
		MLPollIntervalSec:            getenvInt("ML_POLL_INTERVAL_SEC", 5),

		LocalSigningSecret: os.Getenv("LOCAL_SIGNING_SECRET"),
		LocalSigningTTLSec: getenvInt("LOCAL_SIGNING_TTL_SEC", 600),

		SyncIntervalSec: getenvInt("SYNC_INTERVAL_SEC", 300),
		WebhookURLs:     parseCSV(os.Getenv("WEBHOOK_URLS")),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),

		ObjectStoreEndpoint:      os.Getenv("OBJECT_STORE_ENDPOINT"),
		ObjectStoreAccessKey:     os.Getenv("OBJECT_STORE_ACCESS_KEY"),
		ObjectStoreSecretKey:     os.Getenv("OBJECT_STORE_SECRET_KEY"),
		ObjectStoreBucket:        getenv("OBJECT_STORE_BUCKET", "hivehub-photos"),
		ObjectStoreUseSSL:        getenv("OBJECT_STORE_USE_SSL", "false") == "true",
		ObjectStorePublicBaseURL: os.Getenv("OBJECT_STORE_PUBLIC_BASE_URL"),
		ObjectStorePublicRead:    getenv("OBJECT_STORE_PUBLIC_READ", "false") == "true",

		WeatherProvider: getenv("WEATHER_PROVIDER", "none"),

		HeartbeatDir: getenv("HEARTBEAT_DIR", "./data/heartbeat"),
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("config: API_KEY is required")
	}

	return cfg, nil
}

// SyncInterval is SyncIntervalSec as a time.Duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}

// LocalSigningTTL is LocalSigningTTLSec as a time.Duration.
func (c *Config) LocalSigningTTL() time.Duration {
	return time.Duration(c.LocalSigningTTLSec) * time.Second
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer env var, using default")
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid float env var, using default")
		return def
	}
	return f
}

func parseCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
