package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"safe-code-exec/internal/config"
	"safe-code-exec/pkg/seccomp"
)

// executionDockerfile is the fixed definition of the execution image: the
// pinned Python base plus the allow-listed scientific libraries the harness
// preamble imports.
const executionDockerfile = `FROM python:3.12-slim
RUN pip install --no-cache-dir pandas numpy scipy
RUN useradd --uid 65534 --no-create-home runner || true
USER 65534:65534
`

// DockerRunner is the Docker CLI sandbox backend (macOS, or Linux without
// containerd).
type DockerRunner struct {
	image         string
	limits        ResourceLimits
	defaultTO     time.Duration
	cleanupGrace  time.Duration
	sem           chan struct{}
	active        atomic.Int64
	activeNames   sync.Map // container name -> struct{}, in-flight runs
	wg            sync.WaitGroup
	dockerHost    string // resolved DOCKER_HOST (e.g. from Docker context)
	imageOnce     sync.Once
	imageErr      error
	cancelCleanup context.CancelFunc
}

func NewDockerRunner(cfg config.SandboxConfig) *DockerRunner {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 100
	}

	d := &DockerRunner{
		image:        cfg.Image,
		limits:       limitsFromConfig(cfg.DefaultLimits),
		defaultTO:    cfg.ExecutionTimeout,
		cleanupGrace: cfg.CleanupGrace,
		sem:          make(chan struct{}, maxConcurrent),
		dockerHost:   resolveDockerHost(),
	}
	if d.cleanupGrace <= 0 {
		d.cleanupGrace = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancelCleanup = cancel
	go d.orphanCleanupLoop(ctx)

	return d
}

func (d *DockerRunner) Name() string { return "docker" }

// Health re-derives engine availability; a reachable daemon at startup can
// go away mid-session.
func (d *DockerRunner) Health(ctx context.Context) Health {
	cmd := exec.CommandContext(ctx, "docker", "info", "--format", "{{.ServerVersion}}")
	d.applyEnv(cmd)
	if err := cmd.Run(); err != nil {
		return Health{Available: false, Reason: "docker daemon not reachable"}
	}
	return Health{Available: true}
}

func (d *DockerRunner) Run(ctx context.Context, script string, timeout time.Duration) (*RunResult, error) {
	execID := uuid.New().String()
	scriptHash := fmt.Sprintf("%x", sha256.Sum256([]byte(script)))

	logger := log.With().
		Str("exec_id", execID).
		Str("script_hash", scriptHash[:16]).
		Logger()

	logger.Info().Msg("docker execution requested")

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ctx.Err()}
	}

	d.wg.Add(1)
	defer d.wg.Done()
	d.active.Add(1)
	defer d.active.Add(-1)

	if err := d.ensureImage(ctx); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "ensure_image", Err: err}
	}

	if timeout <= 0 {
		timeout = d.defaultTO
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hostDir, err := os.MkdirTemp("", "sandbox-"+execID+"-*")
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_temp_dir", Err: err}
	}
	defer os.RemoveAll(hostDir)

	scriptFile := filepath.Join(hostDir, "main.py")
	if err := os.WriteFile(scriptFile, []byte(script), 0600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_script", Err: err}
	}
	if err := os.Chmod(scriptFile, 0444); err != nil { // container runs as nobody
		return nil, &ExecutionError{ExecID: execID, Op: "chmod_script", Err: err}
	}

	profileJSON, err := seccomp.DockerProfileJSON()
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "render_seccomp_profile", Err: err}
	}
	profileFile := filepath.Join(hostDir, "seccomp.json")
	if err := os.WriteFile(profileFile, profileJSON, 0600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_seccomp_profile", Err: err}
	}

	containerName := "sandbox-" + execID
	args := d.buildDockerArgs(containerName, scriptFile, profileFile)

	// Registered before the container exists so the orphan sweep can never
	// observe it unregistered while it runs.
	d.activeNames.Store(containerName, struct{}{})

	// Force removal no matter how the run ends. --rm covers the normal
	// path; this covers kills, daemon hiccups and our own timeout.
	defer func() {
		d.forceRemove(containerName)
		d.activeNames.Delete(containerName)
	}()

	start := time.Now()

	cmd := exec.CommandContext(execCtx, "docker", args...) // #nosec G204 -- args built internally by buildDockerArgs, not from raw user input
	d.applyEnv(cmd)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	duration := time.Since(start)

	result := &RunResult{
		ExecID:   execID,
		Stdout:   truncateOutput(stdoutBuf.String(), 1<<20),
		Stderr:   truncateOutput(stderrBuf.String(), 256*1024),
		Duration: duration,
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			logger.Warn().Dur("timeout", timeout).Msg("docker execution timed out")
			result.ExitCode = -1
			return result, ErrTimeout
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if result.ExitCode == 137 {
				result.OOMKilled = true
			}
		} else {
			return nil, &ExecutionError{ExecID: execID, Op: "docker_run", Err: fmt.Errorf("%w: %v", ErrEngineDown, err)}
		}
	}

	logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("docker execution completed")

	return result, nil
}

func (d *DockerRunner) buildDockerArgs(containerName, hostScriptFile, seccompProfile string) []string {
	return []string{
		"run", "--rm",
		"--name", containerName,
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--security-opt", "seccomp=" + seccompProfile,
		"--memory", fmt.Sprintf("%dm", d.limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", d.limits.MemoryMB),
		"--pids-limit", fmt.Sprintf("%d", d.limits.PidsLimit),
		"--cpus", fmt.Sprintf("%.1f", float64(d.limits.CPUShares)/1024.0),
		"--tmpfs", fmt.Sprintf("/tmp:rw,noexec,nosuid,nodev,size=%dm", d.limits.DiskMB),
		"--read-only",
		"--user", "65534:65534",
		"-v", fmt.Sprintf("%s:/workspace/main.py:ro", hostScriptFile),
		"-e", "HOME=/tmp",
		"-e", "LANG=C.UTF-8",
		"-e", "SANDBOX=true",
		d.image,
		"python3", "-u", "-B", "/workspace/main.py",
	}
}

// ensureImage checks the execution image exists and builds it once from the
// embedded definition if it does not. The build is the rare slow path; the
// result is shared by every subsequent run.
func (d *DockerRunner) ensureImage(ctx context.Context) error {
	d.imageOnce.Do(func() {
		inspect := exec.CommandContext(ctx, "docker", "image", "inspect", d.image) // #nosec G204 -- image from config
		d.applyEnv(inspect)
		if inspect.Run() == nil {
			return
		}

		log.Info().Str("image", d.image).Msg("execution image missing, building")

		build := exec.Command("docker", "build", "-t", d.image, "-") // #nosec G204 -- image from config
		d.applyEnv(build)
		build.Stdin = strings.NewReader(executionDockerfile)

		var out bytes.Buffer
		build.Stdout = &out
		build.Stderr = &out

		if err := build.Run(); err != nil {
			d.imageErr = fmt.Errorf("%w: building %s failed: %v", ErrImageMissing, d.image, err)
			log.Error().Err(err).Str("image", d.image).Msg("image build failed")
			return
		}

		log.Info().Str("image", d.image).Msg("execution image built")
	})
	return d.imageErr
}

// forceRemove deletes the container with a fresh context: the execution
// context is usually already expired when cleanup runs.
func (d *DockerRunner) forceRemove(containerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cleanupGrace)
	defer cancel()

	rm := exec.CommandContext(ctx, "docker", "rm", "-f", containerName) // #nosec G204 -- name generated internally
	d.applyEnv(rm)
	_ = rm.Run()
}

// orphanCleanupLoop periodically kills orphaned sandbox containers that
// survived server crashes.
func (d *DockerRunner) orphanCleanupLoop(ctx context.Context) {
	d.cleanupOrphans()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.cleanupOrphans()
		case <-ctx.Done():
			return
		}
	}
}

func (d *DockerRunner) cleanupOrphans() {
	cmd := exec.Command("docker", "ps", "--filter", "name=sandbox-", "--format", "{{.ID}} {{.Names}}") // #nosec G204 -- no user input
	d.applyEnv(cmd)
	out, err := cmd.Output()
	if err != nil {
		return
	}
	for _, id := range d.orphanTargets(string(out)) {
		log.Warn().Str("container_id", id).Msg("killing orphaned sandbox container")
		kill := exec.Command("docker", "rm", "-f", id) // #nosec G204 -- id from docker ps
		d.applyEnv(kill)
		_ = kill.Run()
	}
}

// orphanTargets filters `docker ps` output ("<id> <name>" per line) down to
// containers no in-flight Run owns. Only those are safe to remove; killing a
// live sandbox would fail a valid execution mid-run.
func (d *DockerRunner) orphanTargets(psOutput string) []string {
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(psOutput), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if _, live := d.activeNames.Load(fields[1]); live {
			continue
		}
		ids = append(ids, fields[0])
	}
	return ids
}

func (d *DockerRunner) applyEnv(cmd *exec.Cmd) {
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
}

// resolveDockerHost figures out the Docker socket. On macOS, Docker Desktop
// uses a context-specific socket that child processes don't inherit.
func resolveDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}

	out, err := exec.Command("docker", "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output()
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved Docker host from context")
			return host
		}
	}

	return ""
}

func (d *DockerRunner) ActiveCount() int64 {
	return d.active.Load()
}

func (d *DockerRunner) Close() error {
	if d.cancelCleanup != nil {
		d.cancelCleanup()
	}

	// Wait up to 30s for active executions to drain.
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all docker executions drained")
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", d.active.Load()).Msg("timed out waiting for docker executions to drain")
	}
	return nil
}
