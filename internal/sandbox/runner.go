package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"

	"safe-code-exec/internal/config"
)

// Runner is the containerd-based sandbox backend.
type Runner struct {
	client       *Client
	image        string
	limits       ResourceLimits
	defaultTO    time.Duration
	cleanupGrace time.Duration
	sem          chan struct{} // Concurrency limiter
	active       atomic.Int64  // Active execution count
	wg           sync.WaitGroup
}

// NewRunner creates a new sandbox runner.
func NewRunner(client *Client, cfg config.SandboxConfig) *Runner {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 100
	}

	grace := cfg.CleanupGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	return &Runner{
		client:       client,
		image:        cfg.Image,
		limits:       limitsFromConfig(cfg.DefaultLimits),
		defaultTO:    cfg.ExecutionTimeout,
		cleanupGrace: grace,
		sem:          make(chan struct{}, maxConcurrent),
	}
}

func (r *Runner) Name() string { return "containerd" }

func (r *Runner) Health(ctx context.Context) Health {
	if !r.client.Healthy(ctx) {
		return Health{Available: false, Reason: "containerd not reachable"}
	}
	return Health{Available: true}
}

// Run executes the harness script in an isolated container.
func (r *Runner) Run(ctx context.Context, script string, timeout time.Duration) (*RunResult, error) {
	execID := uuid.New().String()
	scriptHash := fmt.Sprintf("%x", sha256.Sum256([]byte(script)))

	logger := log.With().
		Str("exec_id", execID).
		Str("script_hash", scriptHash[:16]).
		Logger()

	logger.Info().Msg("execution requested")

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ctx.Err()}
	}

	r.wg.Add(1)
	defer r.wg.Done()
	r.active.Add(1)
	defer r.active.Add(-1)

	if timeout <= 0 {
		timeout = r.defaultTO
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	hostDir, err := os.MkdirTemp("", "sandbox-"+execID+"-*")
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_temp_dir", Err: err}
	}
	defer os.RemoveAll(hostDir)

	scriptPath := filepath.Join(hostDir, "main.py")
	if err := os.WriteFile(scriptPath, []byte(script), 0600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_script", Err: err}
	}
	if err := os.Chmod(scriptPath, 0444); err != nil { // #nosec G302 -- container runs as nobody (UID 65534)
		return nil, &ExecutionError{ExecID: execID, Op: "chmod_script", Err: err}
	}

	image, err := r.client.EnsureImage(execCtx, r.image)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "ensure_image", Err: err}
	}

	containerID := "sandbox-" + execID

	container, err := r.createContainer(execCtx, containerID, image, hostDir)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_container", Err: err}
	}
	// Always cleanup, even on panic
	defer func() {
		if cleanErr := r.cleanupContainer(context.Background(), container); cleanErr != nil {
			logger.Error().Err(cleanErr).Msg("container cleanup failed")
		}
	}()

	var stdoutBuf, stderrBuf bytes.Buffer

	task, err := container.NewTask(r.client.WithNamespace(execCtx),
		cio.NewCreator(cio.WithStreams(nil, &stdoutBuf, &stderrBuf)),
	)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_task", Err: err}
	}
	defer func() {
		if _, err := task.Delete(r.client.WithNamespace(context.Background()), containerd.WithProcessKill); err != nil {
			logger.Error().Err(err).Msg("task delete failed")
		}
	}()

	exitCh, err := task.Wait(r.client.WithNamespace(execCtx))
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "task_wait", Err: err}
	}

	if err := task.Start(r.client.WithNamespace(execCtx)); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "task_start", Err: err}
	}

	logger.Debug().Msg("task started")

	select {
	case status := <-exitCh:
		duration := time.Since(start)
		exitCode := int(status.ExitCode())

		result := &RunResult{
			ExecID:   execID,
			ExitCode: exitCode,
			Stdout:   truncateOutput(stdoutBuf.String(), 1<<20),    // 1MB max
			Stderr:   truncateOutput(stderrBuf.String(), 256*1024), // 256KB max
			Duration: duration,
		}
		if exitCode == 137 {
			result.OOMKilled = true
		}

		logger.Info().
			Int("exit_code", exitCode).
			Dur("duration", duration).
			Msg("execution completed")

		return result, nil

	case <-execCtx.Done():
		logger.Warn().Msg("execution timed out, killing task")
		if err := task.Kill(r.client.WithNamespace(context.Background()), 9); err != nil {
			logger.Error().Err(err).Msg("failed to kill timed out task")
		}

		// Give the kill a bounded grace period to land.
		select {
		case <-exitCh:
		case <-time.After(r.cleanupGrace):
			logger.Warn().Msg("timed out waiting for killed task to exit")
		}

		return &RunResult{
			ExecID:   execID,
			ExitCode: -1,
			Stdout:   truncateOutput(stdoutBuf.String(), 1<<20),
			Stderr:   truncateOutput(stderrBuf.String(), 256*1024),
			Duration: time.Since(start),
		}, ErrTimeout
	}
}

// ActiveCount returns the number of currently running executions.
func (r *Runner) ActiveCount() int64 {
	return r.active.Load()
}

// Close shuts down the runner, waiting for active executions to drain.
func (r *Runner) Close() error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", r.active.Load()).Msg("timed out waiting for executions to drain")
	}
	return r.client.Close()
}

func (r *Runner) createContainer(
	ctx context.Context,
	id string,
	image containerd.Image,
	hostScriptDir string,
) (containerd.Container, error) {
	nsCtx := r.client.WithNamespace(ctx)

	container, err := r.client.Raw().NewContainer(nsCtx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs("python3", "-u", "-B", "/workspace/main.py"),
			oci.WithHostname("sandbox"),
			func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
				ApplySecurityProfile(s, DefaultSecurityProfile())
				ApplyResourceLimits(s, r.limits)

				s.Mounts = append(s.Mounts, specs.Mount{
					Destination: "/workspace",
					Type:        "bind",
					Source:      hostScriptDir,
					Options:     []string{"rbind", "ro"},
				})

				s.Process.Env = []string{
					"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
					"HOME=/tmp",
					"LANG=C.UTF-8",
					"SANDBOX=true",
				}

				return nil
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	return container, nil
}
