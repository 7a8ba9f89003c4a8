package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string
	OTPSalt     string
	// PublicBaseURL is the externally reachable base used to build signing links
	PublicBaseURL string
	// FilesDir is the root directory for persisted artifacts and certificates
	FilesDir string

	OTPValidity        time.Duration
	OTPMaxAttempts     int
	DefaultRequestTTL  time.Duration
	OTPSweepInterval   time.Duration
	DevMode            bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:              "8080",
		FilesDir:          "data/files",
		OTPValidity:       10 * time.Minute,
		OTPMaxAttempts:    5,
		DefaultRequestTTL: 72 * time.Hour,
		OTPSweepInterval:  15 * time.Minute,
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	otpSalt := os.Getenv("OTP_SALT")
	if otpSalt == "" {
		return nil, fmt.Errorf("OTP_SALT environment variable is required")
	}
	cfg.OTPSalt = otpSalt

	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:" + cfg.Port
	}

	if dir := os.Getenv("FILES_DIR"); dir != "" {
		cfg.FilesDir = dir
	}

	if v := os.Getenv("OTP_VALIDITY_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return nil, fmt.Errorf("OTP_VALIDITY_MINUTES must be a positive integer, got %q", v)
		}
		cfg.OTPValidity = time.Duration(minutes) * time.Minute
	}

	if v := os.Getenv("OTP_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("OTP_MAX_ATTEMPTS must be a positive integer, got %q", v)
		}
		cfg.OTPMaxAttempts = n
	}

	if v := os.Getenv("REQUEST_TTL_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return nil, fmt.Errorf("REQUEST_TTL_HOURS must be a positive integer, got %q", v)
		}
		cfg.DefaultRequestTTL = time.Duration(hours) * time.Hour
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	return cfg, nil
}
