// Package timeouts centralizes the context deadlines handlers put on
// database and I/O work.
//
// Handlers pick the bucket that matches the shape of the operation:
//
//	Ping    health probes
//	Short   single-document reads (deal by ID, membership lookup)
//	Medium  list queries and ordinary writes (board listing, deal create)
//	Long    multi-collection writes (organization provisioning)
//	Batch   bulk work (CSV import/export)
package timeouts

import (
	"sync"
	"time"
)

type values struct {
	ping   time.Duration
	short  time.Duration
	medium time.Duration
	long   time.Duration
	batch  time.Duration
}

var defaults = values{
	ping:   2 * time.Second,
	short:  5 * time.Second,
	medium: 10 * time.Second,
	long:   30 * time.Second,
	batch:  60 * time.Second,
}

var (
	mu      sync.RWMutex
	current = defaults
)

// Ping returns the deadline for health probes.
func Ping() time.Duration { return read().ping }

// Short returns the deadline for single-document operations.
func Short() time.Duration { return read().short }

// Medium returns the deadline for list queries and ordinary writes.
func Medium() time.Duration { return read().medium }

// Long returns the deadline for writes spanning multiple collections.
func Long() time.Duration { return read().long }

// Batch returns the deadline for bulk operations.
func Batch() time.Duration { return read().batch }

func read() values {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Config overrides individual deadlines; zero fields keep their current
// value.
type Config struct {
	Ping   time.Duration
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
	Batch  time.Duration
}

// Configure applies cfg. Call it during startup, before handlers run.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.Ping > 0 {
		current.ping = cfg.Ping
	}
	if cfg.Short > 0 {
		current.short = cfg.Short
	}
	if cfg.Medium > 0 {
		current.medium = cfg.Medium
	}
	if cfg.Long > 0 {
		current.long = cfg.Long
	}
	if cfg.Batch > 0 {
		current.batch = cfg.Batch
	}
}

// Reset restores the defaults. Tests that call Configure should defer it.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = defaults
}
