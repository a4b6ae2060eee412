// Package config holds process-wide defaults that can be overridden by
// environment variables; cmd/boltstub uses them as its flag defaults.
//
// Environment variables:
//
//	BOLTKIT_BASE_PORT=17601    (default, stub service's first auto-assigned port)
//	BOLTKIT_IDLE_TIMEOUT=30s   (default, stub service run timeout, counted from start)
package config

import (
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// EnvBasePort is the environment variable key overriding the stub
	// service's default first auto-assigned port.
	EnvBasePort = "BOLTKIT_BASE_PORT"

	// EnvIdleTimeout is the environment variable key overriding the stub
	// service's default run timeout, parsed with time.ParseDuration.
	EnvIdleTimeout = "BOLTKIT_IDLE_TIMEOUT"

	defaultBasePort    = 17601
	defaultIdleTimeout = 30 * time.Second
)

var basePort atomic.Int64
var idleTimeout atomic.Int64

func init() {
	basePort.Store(defaultBasePort)
	if env := os.Getenv(EnvBasePort); env != "" {
		if v, err := strconv.Atoi(env); err == nil && v > 0 {
			basePort.Store(int64(v))
		}
	}

	idleTimeout.Store(int64(defaultIdleTimeout))
	if env := os.Getenv(EnvIdleTimeout); env != "" {
		if d, err := time.ParseDuration(env); err == nil && d > 0 {
			idleTimeout.Store(int64(d))
		}
	}
}

// BasePort returns the configured default first port, honoring
// BOLTKIT_BASE_PORT if it was set to a valid positive integer.
func BasePort() int {
	return int(basePort.Load())
}

// IdleTimeout returns the configured default stub run timeout (a deadline
// counted from the start of the run, not reset by activity), honoring
// BOLTKIT_IDLE_TIMEOUT if it was set to a valid positive duration.
func IdleTimeout() time.Duration {
	return time.Duration(idleTimeout.Load())
}
