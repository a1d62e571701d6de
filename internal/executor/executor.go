package executor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"safe-code-exec/internal/config"
	"safe-code-exec/internal/monitor"
	"safe-code-exec/internal/policy"
	"safe-code-exec/internal/sandbox"
)

// Executor composes the policy validator with exactly one execution
// backend. Each Execute call is an independent unit: no internal queue, no
// cross-request state beyond the long-lived backend handle.
type Executor struct {
	validator     *policy.Validator
	backend       sandbox.Backend
	tracer        *monitor.Tracer
	metrics       *monitor.Metrics
	timeout       time.Duration
	cleanupGrace  time.Duration
	maxCodeLength int
}

// New builds an Executor. metrics may be nil; latency observation is then
// skipped.
func New(validator *policy.Validator, backend sandbox.Backend, cfg *config.Config, metrics *monitor.Metrics) *Executor {
	return &Executor{
		validator:     validator,
		backend:       backend,
		tracer:        monitor.NewTracer(),
		metrics:       metrics,
		timeout:       cfg.Sandbox.ExecutionTimeout,
		cleanupGrace:  cfg.Sandbox.CleanupGrace,
		maxCodeLength: cfg.Policy.MaxCodeLength,
	}
}

func (e *Executor) observeBackend(op string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.BackendLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

// Validate runs static analysis only; nothing is executed.
func (e *Executor) Validate(code string) policy.Decision {
	return e.validator.Validate(code)
}

// Backend exposes the configured backend for health reporting.
func (e *Executor) Backend() sandbox.Backend {
	return e.backend
}

// Execute validates code, wraps it in the harness and runs it on the
// configured backend under the overall timeout. The returned Result is
// always normalized and sanitized; no backend error escapes raw.
func (e *Executor) Execute(ctx context.Context, code string) Result {
	ctx, span := e.tracer.StartSpan(ctx, "execute")
	defer span.End()

	codeHash := fmt.Sprintf("%x", sha256.Sum256([]byte(code)))
	logger := log.With().Str("code_hash", codeHash[:16]).Logger()

	span.SetAttributes(monitor.AttrCodeHash.String(codeHash[:16]))

	if len(code) > e.maxCodeLength {
		logger.Info().Int("length", len(code)).Msg("submission rejected: too long")
		return failureResult(StatusError, "code exceeds maximum length limit", 0)
	}

	decision := e.validator.Validate(code)
	if !decision.Safe {
		logger.Info().
			Int("violations", len(decision.Violations)).
			Int("complexity", decision.Complexity).
			Msg("submission rejected by policy")
		return failureResult(StatusError, "code validation failed: "+decision.Reason(), 0)
	}

	healthStart := time.Now()
	health := e.backend.Health(ctx)
	e.observeBackend("health", time.Since(healthStart))
	if !health.Available {
		logger.Warn().
			Str("backend", e.backend.Name()).
			Str("reason", health.Reason).
			Msg("backend unavailable")
		return failureResult(StatusError,
			fmt.Sprintf("%s backend unavailable: %s", e.backend.Name(), SanitizeError(health.Reason)), 0)
	}

	script := BuildHarness(code)

	span.SetAttributes(monitor.AttrBackend.String(e.backend.Name()))

	// The orchestrator enforces its own deadline: timeout plus the fixed
	// cleanup grace, so a wedged backend cannot block the request forever.
	runCtx, cancel := context.WithTimeout(ctx, e.timeout+e.cleanupGrace)
	defer cancel()

	start := time.Now()
	res, err := e.backend.Run(runCtx, script, e.timeout)
	elapsed := time.Since(start)
	e.observeBackend("run", elapsed)

	span.SetAttributes(monitor.AttrDurationMS.Int64(elapsed.Milliseconds()))

	return e.normalize(logger, res, err, elapsed)
}

// normalize maps raw backend outcomes onto the closed status set. Every
// error message crossing this boundary passes through SanitizeError.
func (e *Executor) normalize(logger zerolog.Logger, res *sandbox.RunResult, err error, elapsed time.Duration) Result {
	switch {
	case sandbox.IsTimeout(err) || elapsed >= e.timeout:
		logger.Info().Dur("elapsed", elapsed).Msg("execution timed out")
		return failureResult(StatusTimeout,
			fmt.Sprintf("code execution timed out after %d seconds", int(e.timeout.Seconds())), elapsed)

	case err == nil:
		// Fall through to exit-code handling below.

	case sandbox.IsOOM(err):
		logger.Info().Dur("elapsed", elapsed).Msg("execution killed by memory limit")
		return failureResult(StatusMemoryLimit, "execution exceeded the memory limit", elapsed)

	case sandbox.IsThrottled(err):
		logger.Warn().Msg("backend throttled the execution")
		return failureResult(StatusError, "execution service is busy, please retry", elapsed)

	case sandbox.IsUnavailable(err):
		logger.Error().Err(err).Str("backend", e.backend.Name()).Msg("backend failed mid-execution")
		return failureResult(StatusError,
			fmt.Sprintf("%s backend unavailable: %s", e.backend.Name(), SanitizeError(err.Error())), elapsed)

	default:
		logger.Error().Err(err).Msg("execution failed")
		return failureResult(StatusError, "execution failed: "+SanitizeError(err.Error()), elapsed)
	}

	if res.OOMKilled {
		logger.Info().Dur("elapsed", elapsed).Msg("execution killed by memory limit")
		return failureResult(StatusMemoryLimit, "execution exceeded the memory limit", elapsed)
	}

	if res.ExitCode != 0 {
		msg := SanitizeError(strings.TrimSpace(res.Stderr))
		if msg == "" {
			msg = fmt.Sprintf("execution failed with exit code %d", res.ExitCode)
		}
		logger.Info().Int("exit_code", res.ExitCode).Dur("elapsed", elapsed).Msg("execution returned error")
		return failureResult(StatusError, msg, elapsed)
	}

	logger.Info().Dur("elapsed", elapsed).Msg("execution succeeded")
	return successResult(strings.TrimSpace(res.Stdout), elapsed)
}
