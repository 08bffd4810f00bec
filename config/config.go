// Package config holds the process-wide constants a plan is instantiated
// against (spec §6 "Configuration"). There is no CLI, no persisted state,
// and no environment-variable parsing in the core — a Config is always
// handed to the caller explicitly, typically after loading it from a
// YAML file alongside the plan descriptor.
package config

import (
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/contflow/dsce/mem"
)

// Config mirrors the constants table of spec §6. Every field has a
// documented effect on sizing elsewhere in the runtime; Validate checks
// the cross-field constraints the spec calls out.
type Config struct {
	// MemoryBytes is the total size of the memory manager's region.
	// Effect: upper bound on tuples and queue capacity.
	MemoryBytes int64 `json:"memoryBytes"`

	// PageSize is hard-coded to mem.PageSize by the spec; the field
	// exists so a loaded file can assert it matches the build it's
	// paired with rather than silently drifting.
	PageSize int `json:"pageSize"`

	// QueuePages is the page count backing each SimpleQueue.
	QueuePages int `json:"queuePages"`

	// SharedQueuePages is the page count backing each SharedQueue.
	SharedQueuePages int `json:"sharedQueuePages"`

	// IndexLoadThreshold is the fraction of non-empty buckets that
	// triggers a hash index doubling, e.g. 0.85.
	IndexLoadThreshold float64 `json:"indexLoadThreshold"`

	// MaxStubsPerStore is exploited by the 32-bit usage-bitmap layout;
	// changing it requires a wider usage word than the store package
	// currently uses.
	MaxStubsPerStore int `json:"maxStubsPerStore"`

	// MaxReadersPerSharedQueue bounds the slowest-reader bookkeeping a
	// SharedQueue performs per push.
	MaxReadersPerSharedQueue int `json:"maxReadersPerSharedQueue"`
}

// Default returns the constants the spec names as its own example
// values, for callers that don't load a file (tests, the reference
// scheduler's smoke-test plan).
func Default() Config {
	return Config{
		MemoryBytes:              256 << 20,
		PageSize:                 mem.PageSize,
		QueuePages:               4,
		SharedQueuePages:         16,
		IndexLoadThreshold:       0.85,
		MaxStubsPerStore:         16,
		MaxReadersPerSharedQueue: 10,
	}
}

// Load reads a YAML-encoded Config from data, starting from Default so
// an incomplete file still produces a usable configuration, then
// validates the result.
func Load(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks each field's own range, that pageSize matches the
// build, and that memoryBytes is a whole number of pages. It does not
// check memoryBytes against the page demand of queues, stores and
// indexes, and it does not validate a plan against this Config — that's the plan
// package's job at Instantiate time.
func (c Config) Validate() error {
	if c.PageSize != mem.PageSize {
		return fmt.Errorf("config: pageSize %d does not match the build's page size %d", c.PageSize, mem.PageSize)
	}
	if c.MemoryBytes <= 0 {
		return fmt.Errorf("config: memoryBytes must be positive")
	}
	if c.MemoryBytes%int64(c.PageSize) != 0 {
		return fmt.Errorf("config: memoryBytes %d is not a multiple of pageSize %d", c.MemoryBytes, c.PageSize)
	}
	if c.QueuePages <= 0 {
		return fmt.Errorf("config: queuePages must be positive")
	}
	if c.SharedQueuePages <= 0 {
		return fmt.Errorf("config: sharedQueuePages must be positive")
	}
	if c.IndexLoadThreshold <= 0 || c.IndexLoadThreshold >= 1 {
		return fmt.Errorf("config: indexLoadThreshold must be in (0, 1), got %f", c.IndexLoadThreshold)
	}
	if c.MaxStubsPerStore <= 0 || c.MaxStubsPerStore > 16 {
		return fmt.Errorf("config: maxStubsPerStore must be in (0, 16] to fit the usage bitmap, got %d", c.MaxStubsPerStore)
	}
	if c.MaxReadersPerSharedQueue <= 0 {
		return fmt.Errorf("config: maxReadersPerSharedQueue must be positive")
	}
	return nil
}

// NumPages returns the page count a memory manager sized from this
// Config should be constructed with (mem.New takes a page count, not a
// byte size).
func (c Config) NumPages() uint32 {
	return uint32(c.MemoryBytes / int64(c.PageSize))
}
