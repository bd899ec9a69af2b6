package ratelimit

import (
	"os"
	"strings"
)

// Policy decides whether rate limiting is active. It is evaluated on every
// request, never cached at process start, so test and staging environments
// can flip it at runtime.
type Policy interface {
	Enabled() bool
}

const defaultDisableVar = "RATE_LIMIT_DISABLED"

// EnvPolicy reads a disable switch from the environment on each call.
// Limiting is on unless the variable holds a truthy value.
type EnvPolicy struct {
	// Var overrides the environment variable name; empty means RATE_LIMIT_DISABLED.
	Var string
}

func (p EnvPolicy) Enabled() bool {
	name := p.Var
	if name == "" {
		name = defaultDisableVar
	}
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes", "on":
		return false
	default:
		return true
	}
}

// StaticPolicy pins the limiter on or off. Useful for tests.
type StaticPolicy bool

func (p StaticPolicy) Enabled() bool { return bool(p) }
