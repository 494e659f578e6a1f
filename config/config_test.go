package config

import "testing"

func TestExecutionConfigDefaults(t *testing.T) {
	c := ExecutionConfig{}.WithDefaults()
	if c.TimeoutMS != 5000 {
		t.Errorf("TimeoutMS = %d, want 5000", c.TimeoutMS)
	}
	if c.MemoryLimitMB != 64 {
		t.Errorf("MemoryLimitMB = %d, want 64", c.MemoryLimitMB)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestExecutionConfigBounds(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ExecutionConfig
		wantErr bool
	}{
		{"valid minimum", ExecutionConfig{TimeoutMS: 1, MemoryLimitMB: 1}, false},
		{"valid maximum", ExecutionConfig{TimeoutMS: 60000, MemoryLimitMB: 512}, false},
		{"timeout too high", ExecutionConfig{TimeoutMS: 60001, MemoryLimitMB: 64}, true},
		{"memory too high", ExecutionConfig{TimeoutMS: 5000, MemoryLimitMB: 513}, true},
		{"zero timeout", ExecutionConfig{TimeoutMS: 0, MemoryLimitMB: 64}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChainRequestBounds(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantErr bool
	}{
		{"one stage", 1, false},
		{"ten stages", 10, false},
		{"eleven stages", 11, true},
		{"zero stages", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, tt.n)
			for i := range ids {
				ids[i] = "id"
			}
			err := ChainRequest{BinaryIDs: ids}.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewServerConfigDefaults(t *testing.T) {
	c := NewServerConfig()
	if c.SocketPath != "/tmp/wasm-core.sock" {
		t.Errorf("SocketPath = %q", c.SocketPath)
	}
	if c.MaxConcurrent != 1000 {
		t.Errorf("MaxConcurrent = %d, want 1000", c.MaxConcurrent)
	}
	if !c.EagerRecompile {
		t.Error("EagerRecompile should default true")
	}
}

func TestNewServerConfigOptions(t *testing.T) {
	c := NewServerConfig(
		WithSocketPath("/tmp/custom.sock"),
		WithMaxConcurrentExecutions(50),
		WithTraceCapacity(0),
		WithEagerRecompile(false),
	)
	if c.SocketPath != "/tmp/custom.sock" {
		t.Errorf("SocketPath = %q", c.SocketPath)
	}
	if c.MaxConcurrent != 50 {
		t.Errorf("MaxConcurrent = %d, want 50", c.MaxConcurrent)
	}
	if c.TraceCapacity != 0 {
		t.Errorf("TraceCapacity = %d, want 0", c.TraceCapacity)
	}
	if c.EagerRecompile {
		t.Error("EagerRecompile should be false")
	}
}
