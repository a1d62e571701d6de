package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"safe-code-exec/internal/config"
)

// RunResult is the raw outcome of one sandboxed run, before the
// orchestrator normalizes it into the caller-facing result.
type RunResult struct {
	ExecID    string
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	OOMKilled bool
}

// Health is a point-in-time availability check. A healthy backend may
// become unavailable mid-session, so it is re-derived on demand.
type Health struct {
	Available bool
	Reason    string
}

// Backend is one interchangeable execution strategy. Implementations must
// be safe for concurrent Run calls; each call gets a unique sandbox
// identity so concurrent executions never share mutable state.
type Backend interface {
	Name() string
	Run(ctx context.Context, script string, timeout time.Duration) (*RunResult, error)
	Health(ctx context.Context) Health
	Close() error
}

// NewBackend picks the execution backend from configuration. "auto" prefers
// containerd on Linux, then Docker, then (only when explicitly allowed) the
// local process fallback.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	preference := cfg.Sandbox.Backend
	if preference == "" {
		preference = "auto"
	}

	switch preference {
	case "containerd":
		return newContainerdBackend(ctx, cfg)
	case "docker":
		return newDockerBackend(cfg)
	case "lambda":
		return NewLambdaRunner(ctx, cfg.Lambda), nil
	case "process":
		return newProcessBackend(cfg)
	case "auto":
		if runtime.GOOS == "linux" {
			backend, err := newContainerdBackend(ctx, cfg)
			if err == nil {
				log.Info().Msg("using containerd backend")
				return backend, nil
			}
			log.Warn().Err(err).Msg("containerd unavailable, trying Docker")
		}

		backend, err := newDockerBackend(cfg)
		if err == nil {
			log.Info().Msg("using Docker backend")
			return backend, nil
		}

		if cfg.Sandbox.AllowProcessFallback {
			log.Warn().Err(err).Msg("no container engine available, falling back to local process isolation")
			return newProcessBackend(cfg)
		}

		return nil, fmt.Errorf("no sandbox backend available: install Docker or containerd, or set sandbox.allow_process_fallback")
	default:
		return nil, fmt.Errorf("unknown backend %q: must be auto, containerd, docker, lambda, or process", preference)
	}
}

func newContainerdBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	client, err := NewClient(ctx, cfg.Sandbox.ContainerdSocket, cfg.Sandbox.Namespace)
	if err != nil {
		return nil, err
	}

	runner := NewRunner(client, cfg.Sandbox)

	cleaned, err := runner.CleanupOrphaned(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to cleanup orphaned containers")
	} else if cleaned > 0 {
		log.Info().Int("count", cleaned).Msg("cleaned orphaned containers on startup")
	}

	return runner, nil
}

func newDockerBackend(cfg *config.Config) (Backend, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("%w: docker not found in PATH", ErrEngineDown)
	}

	if err := exec.Command("docker", "info").Run(); err != nil {
		return nil, fmt.Errorf("%w: docker daemon not reachable", ErrEngineDown)
	}

	return NewDockerRunner(cfg.Sandbox), nil
}

func newProcessBackend(cfg *config.Config) (Backend, error) {
	python := cfg.Sandbox.PythonPath
	if python == "" {
		python = "python3"
	}
	if _, err := exec.LookPath(python); err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", ErrUnavailable, python)
	}
	return NewProcessRunner(python, cfg.Sandbox.MaxConcurrent), nil
}
