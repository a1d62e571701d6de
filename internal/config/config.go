package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Policy   PolicyConfig   `yaml:"policy"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Lambda   LambdaConfig   `yaml:"lambda"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// PolicyConfig holds the static-analysis ceilings and the import allow-list.
// The ceilings are policy choices, deliberately configurable.
type PolicyConfig struct {
	MaxCodeLength  int      `yaml:"max_code_length"`
	MaxLines       int      `yaml:"max_lines"`
	MaxComplexity  int      `yaml:"max_complexity"`
	AllowedModules []string `yaml:"allowed_modules"` // Empty uses the built-in data-science set
}

type SandboxConfig struct {
	Backend              string        `yaml:"backend"` // "auto" (default), "containerd", "docker", "lambda", or "process"
	ContainerdSocket     string        `yaml:"containerd_socket"`
	Namespace            string        `yaml:"namespace"`
	Image                string        `yaml:"image"`
	ExecutionTimeout     time.Duration `yaml:"execution_timeout"`
	CleanupGrace         time.Duration `yaml:"cleanup_grace"`
	MaxConcurrent        int           `yaml:"max_concurrent"`
	DefaultLimits        DefaultLimits `yaml:"default_limits"`
	AllowProcessFallback bool          `yaml:"allow_process_fallback"` // Weaker isolation; availability over strength
	PythonPath           string        `yaml:"python_path"`           // Process fallback interpreter
}

type DefaultLimits struct {
	CPUShares int64 `yaml:"cpu_shares"`
	MemoryMB  int64 `yaml:"memory_mb"`
	PidsLimit int64 `yaml:"pids_limit"`
	DiskMB    int64 `yaml:"disk_mb"`
}

// LambdaConfig configures the serverless backend. Credentials left empty
// fall back to the SDK default chain (env, shared config, instance role).
type LambdaConfig struct {
	FunctionName    string `yaml:"function_name"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Second, // > execution timeout + cleanup grace + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Policy: PolicyConfig{
			MaxCodeLength: 10000,
			MaxLines:      100,
			MaxComplexity: 20,
		},
		Sandbox: SandboxConfig{
			Backend:          "auto",
			ContainerdSocket: "/run/containerd/containerd.sock",
			Namespace:        "codeexec",
			Image:            "codeexec/python-runner:3.12",
			ExecutionTimeout: 30 * time.Second,
			CleanupGrace:     5 * time.Second,
			MaxConcurrent:    100,
			DefaultLimits: DefaultLimits{
				CPUShares: 512,
				MemoryMB:  512,
				PidsLimit: 50,
				DiskMB:    100,
			},
			PythonPath: "python3",
		},
		Lambda: LambdaConfig{
			Region: "us-east-1",
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Policy.MaxCodeLength < 1 {
		return fmt.Errorf("policy.max_code_length must be >= 1")
	}
	if c.Policy.MaxLines < 1 {
		return fmt.Errorf("policy.max_lines must be >= 1")
	}
	if c.Policy.MaxComplexity < 1 {
		return fmt.Errorf("policy.max_complexity must be >= 1")
	}
	switch c.Sandbox.Backend {
	case "", "auto", "containerd", "docker", "lambda", "process":
	default:
		return fmt.Errorf("sandbox.backend must be auto, containerd, docker, lambda, or process, got %q", c.Sandbox.Backend)
	}
	if c.Sandbox.ExecutionTimeout < time.Second {
		return fmt.Errorf("sandbox.execution_timeout must be >= 1s")
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be >= 1")
	}
	if c.Sandbox.DefaultLimits.MemoryMB < 16 {
		return fmt.Errorf("sandbox.default_limits.memory_mb must be >= 16")
	}
	if c.Sandbox.Backend == "lambda" && c.Lambda.FunctionName == "" {
		return fmt.Errorf("lambda.function_name is required when sandbox.backend is lambda")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
