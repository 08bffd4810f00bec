package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() must validate, got %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	data := []byte(`
queuePages: 8
indexLoadThreshold: 0.5
`)
	cfg, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QueuePages != 8 {
		t.Fatalf("queuePages = %d, want 8", cfg.QueuePages)
	}
	if cfg.IndexLoadThreshold != 0.5 {
		t.Fatalf("indexLoadThreshold = %f, want 0.5", cfg.IndexLoadThreshold)
	}
	// everything else should still carry the Default() value.
	want := Default()
	if cfg.MemoryBytes != want.MemoryBytes {
		t.Fatalf("memoryBytes = %d, want %d (untouched default)", cfg.MemoryBytes, want.MemoryBytes)
	}
	if cfg.MaxStubsPerStore != want.MaxStubsPerStore {
		t.Fatalf("maxStubsPerStore = %d, want %d (untouched default)", cfg.MaxStubsPerStore, want.MaxStubsPerStore)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"pageSize mismatch", func(c *Config) { c.PageSize = 8192 }},
		{"non-positive memoryBytes", func(c *Config) { c.MemoryBytes = 0 }},
		{"memoryBytes not page-aligned", func(c *Config) { c.MemoryBytes = int64(c.PageSize) + 1 }},
		{"non-positive queuePages", func(c *Config) { c.QueuePages = 0 }},
		{"non-positive sharedQueuePages", func(c *Config) { c.SharedQueuePages = 0 }},
		{"indexLoadThreshold too low", func(c *Config) { c.IndexLoadThreshold = 0 }},
		{"indexLoadThreshold too high", func(c *Config) { c.IndexLoadThreshold = 1 }},
		{"maxStubsPerStore too large", func(c *Config) { c.MaxStubsPerStore = 64 }},
		{"non-positive maxReadersPerSharedQueue", func(c *Config) { c.MaxReadersPerSharedQueue = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() = nil, want an error for %s", tt.name)
			}
		})
	}
}

func TestNumPages(t *testing.T) {
	cfg := Default()
	cfg.MemoryBytes = int64(cfg.PageSize) * 100
	if got := cfg.NumPages(); got != 100 {
		t.Fatalf("NumPages() = %d, want 100", got)
	}
}
