// Package timeouts provides centralized timeout values for handler operations.
//
// Guidelines for choosing a timeout:
//   - Ping: health checks and connectivity verification
//   - Short: single-document reads, role lookups, message appends
//   - Medium: directory lists and thread snapshots
//   - Long: startup work touching several collections
package timeouts

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config is one set of operation timeouts.
type Config struct {
	Ping   time.Duration
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// Defaults returns the timeouts in effect until Configure is called.
func Defaults() Config {
	return Config{
		Ping:   2 * time.Second,
		Short:  5 * time.Second,
		Medium: 10 * time.Second,
		Long:   30 * time.Second,
	}
}

var (
	writeMu sync.Mutex
	active  atomic.Pointer[Config]
)

func init() {
	d := Defaults()
	active.Store(&d)
}

func load() Config { return *active.Load() }

// Ping returns the timeout for health checks.
func Ping() time.Duration { return load().Ping }

// Short returns the timeout for single-document operations.
func Short() time.Duration { return load().Short }

// Medium returns the timeout for list queries and snapshots.
func Medium() time.Duration { return load().Medium }

// Long returns the timeout for multi-collection work.
func Long() time.Duration { return load().Long }

// Configure overlays the positive fields of cfg on the active timeouts and
// returns the result. Zero or negative fields keep their current value.
// Call during startup, before handlers run.
func Configure(cfg Config) Config {
	writeMu.Lock()
	defer writeMu.Unlock()

	next := load()
	if cfg.Ping > 0 {
		next.Ping = cfg.Ping
	}
	if cfg.Short > 0 {
		next.Short = cfg.Short
	}
	if cfg.Medium > 0 {
		next.Medium = cfg.Medium
	}
	if cfg.Long > 0 {
		next.Long = cfg.Long
	}
	active.Store(&next)
	return next
}

// WithTimeout creates a context with timeout and returns a cancel function that
// logs a warning if the context ended by deadline.
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
