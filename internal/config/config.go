package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/entanglekey/server/internal/entropy"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	// PairCodeSalt salts the stored verification code hashes.
	PairCodeSalt string

	// DevMode runs the service on in-memory stores and is never for
	// production use.
	DevMode bool

	// StrictPQ refuses any non-native KEM backend at startup. On by
	// default; set STRICT_PQ=false explicitly to allow the simulated
	// backend in development.
	StrictPQ   bool
	KEMBackend string

	MaxPairsPerUser int
	SessionTTL      time.Duration

	SecretCacheSize int
	SecretCacheTTL  time.Duration

	Thresholds entropy.Thresholds
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:            "8080",
		StrictPQ:        true,
		KEMBackend:      os.Getenv("KEM_BACKEND"),
		MaxPairsPerUser: 5,
		SessionTTL:      10 * time.Minute,
		SecretCacheSize: 1024,
		SecretCacheTTL:  24 * time.Hour,
		Thresholds:      entropy.DefaultThresholds(),
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && !cfg.DevMode {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg.PairCodeSalt = os.Getenv("PAIR_CODE_SALT")
	if cfg.PairCodeSalt == "" {
		return nil, fmt.Errorf("PAIR_CODE_SALT environment variable is required")
	}

	if v := os.Getenv("STRICT_PQ"); v != "" {
		cfg.StrictPQ = v != "false"
	}

	var err error
	if cfg.MaxPairsPerUser, err = envInt("MAX_PAIRS_PER_USER", cfg.MaxPairsPerUser); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = envDuration("PAIRING_SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.SecretCacheSize, err = envInt("SECRET_CACHE_SIZE", cfg.SecretCacheSize); err != nil {
		return nil, err
	}
	if cfg.SecretCacheTTL, err = envDuration("SECRET_CACHE_TTL", cfg.SecretCacheTTL); err != nil {
		return nil, err
	}

	if cfg.Thresholds.EntropyWarning, err = envFloat("ENTROPY_WARNING_THRESHOLD", cfg.Thresholds.EntropyWarning); err != nil {
		return nil, err
	}
	if cfg.Thresholds.EntropyCritical, err = envFloat("ENTROPY_CRITICAL_THRESHOLD", cfg.Thresholds.EntropyCritical); err != nil {
		return nil, err
	}
	if cfg.Thresholds.KLLow, err = envFloat("KL_ANOMALY_THRESHOLD", cfg.Thresholds.KLLow); err != nil {
		return nil, err
	}
	if cfg.Thresholds.KLHigh, err = envFloat("KL_CRITICAL_THRESHOLD", cfg.Thresholds.KLHigh); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envFloat(name string, def float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return f, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
