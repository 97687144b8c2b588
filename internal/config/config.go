// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ayusman/handsign/internal/detector"
)

// Database drivers understood by the store.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every setting the server and the local interpreter need.
type Config struct {
	Addr        string
	Environment string
	StaticDir   string
	BaseURL     string

	// AllowedOrigins gates CORS and websocket upgrades in production.
	AllowedOrigins []string

	DBDriver    string
	DatabaseURL string
	RedisURL    string

	SessionSecret string

	ModelPath      string
	Detector       detector.Config
	EnhanceRegions bool

	GuestDailyLimit int
	FrameRateLimit  float64

	SendGridAPIKey string
	MailFrom       string

	CameraID int
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	// production deployments usually have no .env file
	_ = godotenv.Load()

	cfg := &Config{
		Addr:            getenv("ADDR", ":8080"),
		Environment:     getenv("ENVIRONMENT", "development"),
		StaticDir:       os.Getenv("STATIC_DIR"),
		BaseURL:         strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/"),
		DBDriver:        strings.ToLower(getenv("DB_DRIVER", DriverSQLite)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		SessionSecret:   os.Getenv("SESSION_SECRET"),
		ModelPath:       os.Getenv("MODEL_PATH"),
		SendGridAPIKey:  os.Getenv("SENDGRID_API_KEY"),
		MailFrom:        getenv("MAIL_FROM", "no-reply@handsign.local"),
		Detector:        detector.DefaultConfig(),
		EnhanceRegions:  true,
		GuestDailyLimit: 10,
		FrameRateLimit:  15,
	}

	var err error
	if cfg.Detector.MaxHands, err = intEnv("DETECTOR_MAX_HANDS", cfg.Detector.MaxHands); err != nil {
		return nil, err
	}
	if cfg.Detector.MinConfidence, err = floatEnv("DETECTOR_MIN_CONFIDENCE", cfg.Detector.MinConfidence); err != nil {
		return nil, err
	}
	if cfg.Detector.MinTrackingConf, err = floatEnv("DETECTOR_MIN_TRACKING_CONFIDENCE", cfg.Detector.MinTrackingConf); err != nil {
		return nil, err
	}
	if cfg.EnhanceRegions, err = boolEnv("ENHANCE_REGIONS", cfg.EnhanceRegions); err != nil {
		return nil, err
	}
	if cfg.GuestDailyLimit, err = intEnv("GUEST_DAILY_LIMIT", cfg.GuestDailyLimit); err != nil {
		return nil, err
	}
	if cfg.FrameRateLimit, err = floatEnv("FRAME_RATE_LIMIT", cfg.FrameRateLimit); err != nil {
		return nil, err
	}
	if cfg.CameraID, err = intEnv("CAMERA_ID", 0); err != nil {
		return nil, err
	}
	cfg.AllowedOrigins = listEnv("ALLOWED_ORIGINS")

	if cfg.DatabaseURL == "" && cfg.DBDriver == DriverSQLite {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DatabaseURL = filepath.Join(home, ".handsign", "handsign.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET environment variable is required")
	}
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH environment variable is required")
	}
	if c.Detector.MaxHands < 1 {
		return fmt.Errorf("DETECTOR_MAX_HANDS must be at least 1")
	}
	if !inUnitRange(c.Detector.MinConfidence) || !inUnitRange(c.Detector.MinTrackingConf) {
		return fmt.Errorf("detector confidences must be within [0, 1]")
	}
	if c.GuestDailyLimit < 0 {
		return fmt.Errorf("GUEST_DAILY_LIMIT must not be negative")
	}
	if c.FrameRateLimit <= 0 {
		return fmt.Errorf("FRAME_RATE_LIMIT must be positive")
	}
	return nil
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func listEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}
