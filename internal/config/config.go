// Package config loads the policy knobs the orchestrator and VRF session
// manager need but that have no single correct value: session TTL, retry
// backoff, replay window.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tatchi-labs/secureconfirm/internal/runtime"
)

// Config holds every environment-driven policy knob for this module.
type Config struct {
	Env runtime.Environment

	// Session policy.
	SessionDefaultTTL           time.Duration
	SessionDefaultRemainingUses int

	// VRF just-in-time challenge refresh.
	VRFChallengeRefreshAttempts int
	VRFChallengeRefreshBackoff  time.Duration

	// Replay protection window for already-received requestIds.
	ReplayWindow time.Duration

	// Per-account confirmation request throttling.
	RateLimitPerSecond float64
	RateLimitBurst     int

	LogLevel  string
	LogFormat string

	StrictIdentity bool
}

// Default returns the built-in policy defaults, used when no environment
// overrides are present.
func Default() *Config {
	return &Config{
		Env:                         runtime.Development,
		SessionDefaultTTL:           5 * time.Minute,
		SessionDefaultRemainingUses: 1,
		VRFChallengeRefreshAttempts: 3,
		VRFChallengeRefreshBackoff:  150 * time.Millisecond,
		ReplayWindow:                5 * time.Minute,
		RateLimitPerSecond:          2,
		RateLimitBurst:              5,
		LogLevel:                    "info",
		LogFormat:                   "json",
		StrictIdentity:              false,
	}
}

// Load builds a Config from the process environment, optionally loading a
// per-environment .env file first (missing files are not an error;
// malformed ones are).
func Load() (*Config, error) {
	cfg := Default()
	cfg.Env = runtime.Env()
	cfg.StrictIdentity = runtime.StrictIdentityMode()

	envFile := fmt.Sprintf("config/%s.env", cfg.Env)
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading %s: %w", envFile, err)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if v, err := durationEnv("SECURECONFIRM_SESSION_TTL"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.SessionDefaultTTL = v
	}

	if v, err := intEnv("SECURECONFIRM_SESSION_REMAINING_USES"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.SessionDefaultRemainingUses = v
	}

	if v, err := intEnv("SECURECONFIRM_VRF_REFRESH_ATTEMPTS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.VRFChallengeRefreshAttempts = v
	}

	if v, err := durationEnv("SECURECONFIRM_VRF_REFRESH_BACKOFF"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.VRFChallengeRefreshBackoff = v
	}

	if v, err := durationEnv("SECURECONFIRM_REPLAY_WINDOW"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.ReplayWindow = v
	}

	if v, err := floatEnv("SECURECONFIRM_RATE_LIMIT_PER_SECOND"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.RateLimitPerSecond = v
	}

	if v, err := intEnv("SECURECONFIRM_RATE_LIMIT_BURST"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.RateLimitBurst = v
	}

	return cfg, nil
}

func durationEnv(key string) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, raw, err)
	}
	return d, nil
}

func intEnv(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, raw, err)
	}
	return n, nil
}

func floatEnv(key string) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, raw, err)
	}
	return f, nil
}
