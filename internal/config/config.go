package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Values are read once at startup and
// passed explicitly; no other package reads the environment at call time.
type Config struct {
	Addr        string
	PGDSN       string
	TokenSecret string
	TokenIssuer string

	SessionTTL    time.Duration // rememberMe=false window
	RememberTTL   time.Duration // rememberMe=true window
	RenewFraction float64       // fraction of TTL after which Authenticate extends expiry

	ArtifactDir string

	RateBurst  int
	RatePerSec int

	WorkerInterval    time.Duration
	WorkerConcurrency int

	BootstrapAdminIdentity string
	BootstrapAdminPassword string
}

// Load reads TRAMITA_* environment variables, merging a local .env file when
// present (development convenience; missing file is not an error).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:                   envOr("TRAMITA_ADDR", ":8080"),
		PGDSN:                  os.Getenv("TRAMITA_PG_DSN"),
		TokenSecret:            os.Getenv("TRAMITA_TOKEN_SECRET"),
		TokenIssuer:            envOr("TRAMITA_TOKEN_ISSUER", "tramita"),
		ArtifactDir:            envOr("TRAMITA_ARTIFACT_DIR", "artifacts"),
		BootstrapAdminIdentity: strings.TrimSpace(os.Getenv("TRAMITA_BOOTSTRAP_ADMIN")),
		BootstrapAdminPassword: os.Getenv("TRAMITA_BOOTSTRAP_ADMIN_PASSWORD"),
	}

	var err error
	if cfg.SessionTTL, err = envDuration("TRAMITA_SESSION_TTL", 8*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RememberTTL, err = envDuration("TRAMITA_REMEMBER_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RenewFraction, err = envFloat("TRAMITA_RENEW_FRACTION", 0.5); err != nil {
		return Config{}, err
	}
	if cfg.RenewFraction <= 0 || cfg.RenewFraction >= 1 {
		return Config{}, fmt.Errorf("TRAMITA_RENEW_FRACTION must be in (0,1), got %v", cfg.RenewFraction)
	}
	if cfg.RateBurst, err = envInt("TRAMITA_RATE_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = envInt("TRAMITA_RATE_PER_SEC", 10); err != nil {
		return Config{}, err
	}
	if cfg.WorkerInterval, err = envDuration("TRAMITA_WORKER_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WorkerConcurrency, err = envInt("TRAMITA_WORKER_CONCURRENCY", 4); err != nil {
		return Config{}, err
	}
	if cfg.TokenSecret == "" {
		return Config{}, fmt.Errorf("TRAMITA_TOKEN_SECRET is required")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
