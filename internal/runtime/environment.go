// Package runtime detects the deployment environment to gate
// dev-convenience fallbacks.
package runtime

import (
	"os"
	"strings"
)

// Environment is the deployment tier the module is running under.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ParseEnvironment maps a raw env string to an Environment, defaulting to
// Development for anything unrecognized.
func ParseEnvironment(raw string) Environment {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return Production
	case "testing", "test":
		return Testing
	case "development", "dev", "":
		return Development
	default:
		return Development
	}
}

// Env reads the process environment (SECURECONFIRM_ENV, falling back to
// ENVIRONMENT) and returns the parsed Environment.
func Env() Environment {
	if raw := os.Getenv("SECURECONFIRM_ENV"); raw != "" {
		return ParseEnvironment(raw)
	}
	return ParseEnvironment(os.Getenv("ENVIRONMENT"))
}

// IsDevelopment reports whether env is Development.
func (e Environment) IsDevelopment() bool { return e == Development }

// IsTesting reports whether env is Testing.
func (e Environment) IsTesting() bool { return e == Testing }

// IsProduction reports whether env is Production.
func (e Environment) IsProduction() bool { return e == Production }

// IsDevelopmentOrTesting reports whether dev-convenience fallbacks are
// permitted under this environment.
func (e Environment) IsDevelopmentOrTesting() bool {
	return e == Development || e == Testing
}

// StrictIdentityMode reports whether the current environment requires hard
// failure instead of dev-convenience fallback when PRF or VRF secrets are
// absent. Production is always strict; non-production may opt in via
// SECURECONFIRM_STRICT_IDENTITY=1.
func StrictIdentityMode() bool {
	if Env().IsProduction() {
		return true
	}
	return strings.TrimSpace(os.Getenv("SECURECONFIRM_STRICT_IDENTITY")) == "1"
}
