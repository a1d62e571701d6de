package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Policy.MaxCodeLength != 10000 {
		t.Errorf("Policy.MaxCodeLength = %d, want 10000", cfg.Policy.MaxCodeLength)
	}
	if cfg.Policy.MaxLines != 100 {
		t.Errorf("Policy.MaxLines = %d, want 100", cfg.Policy.MaxLines)
	}
	if cfg.Policy.MaxComplexity != 20 {
		t.Errorf("Policy.MaxComplexity = %d, want 20", cfg.Policy.MaxComplexity)
	}
	if cfg.Sandbox.ExecutionTimeout != 30*time.Second {
		t.Errorf("Sandbox.ExecutionTimeout = %s, want 30s", cfg.Sandbox.ExecutionTimeout)
	}
	if cfg.Sandbox.DefaultLimits.MemoryMB != 512 {
		t.Errorf("DefaultLimits.MemoryMB = %d, want 512", cfg.Sandbox.DefaultLimits.MemoryMB)
	}
	if cfg.Sandbox.Backend != "auto" {
		t.Errorf("Sandbox.Backend = %q, want auto", cfg.Sandbox.Backend)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return DefaultConfig()
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"max_code_length 0", func(c *Config) { c.Policy.MaxCodeLength = 0 }, true},
		{"max_lines 0", func(c *Config) { c.Policy.MaxLines = 0 }, true},
		{"max_complexity 0", func(c *Config) { c.Policy.MaxComplexity = 0 }, true},
		{"unknown backend", func(c *Config) { c.Sandbox.Backend = "firecracker" }, true},
		{"explicit docker backend", func(c *Config) { c.Sandbox.Backend = "docker" }, false},
		{"execution_timeout < 1s", func(c *Config) { c.Sandbox.ExecutionTimeout = 500 * time.Millisecond }, true},
		{"max_concurrent 0", func(c *Config) { c.Sandbox.MaxConcurrent = 0 }, true},
		{"memory_mb < 16", func(c *Config) { c.Sandbox.DefaultLimits.MemoryMB = 8 }, true},
		{"lambda backend without function", func(c *Config) { c.Sandbox.Backend = "lambda" }, true},
		{"lambda backend with function", func(c *Config) {
			c.Sandbox.Backend = "lambda"
			c.Lambda.FunctionName = "code-exec"
		}, false},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
policy:
  max_code_length: 5000
  max_complexity: 10
  allowed_modules: [math, json]
sandbox:
  backend: docker
  execution_timeout: 15s
  default_limits:
    memory_mb: 1024
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Policy.MaxCodeLength != 5000 {
		t.Errorf("Policy.MaxCodeLength = %d, want 5000", cfg.Policy.MaxCodeLength)
	}
	if cfg.Policy.MaxComplexity != 10 {
		t.Errorf("Policy.MaxComplexity = %d, want 10", cfg.Policy.MaxComplexity)
	}
	if len(cfg.Policy.AllowedModules) != 2 || cfg.Policy.AllowedModules[0] != "math" {
		t.Errorf("Policy.AllowedModules = %v, want [math json]", cfg.Policy.AllowedModules)
	}
	if cfg.Sandbox.Backend != "docker" {
		t.Errorf("Sandbox.Backend = %q, want docker", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.ExecutionTimeout != 15*time.Second {
		t.Errorf("Sandbox.ExecutionTimeout = %s, want 15s", cfg.Sandbox.ExecutionTimeout)
	}
	if cfg.Sandbox.DefaultLimits.MemoryMB != 1024 {
		t.Errorf("DefaultLimits.MemoryMB = %d, want 1024", cfg.Sandbox.DefaultLimits.MemoryMB)
	}
	// Fields not in the file keep their defaults.
	if cfg.Policy.MaxLines != 100 {
		t.Errorf("Policy.MaxLines = %d, want default 100", cfg.Policy.MaxLines)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
