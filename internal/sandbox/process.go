package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ProcessRunner is the last-resort backend: a plain local interpreter
// process with only timeout and output-size containment. It trades
// isolation strength for availability when no container engine is
// reachable, and says so loudly at construction.
type ProcessRunner struct {
	python string
	sem    chan struct{}
	active atomic.Int64
	wg     sync.WaitGroup
}

func NewProcessRunner(python string, maxConcurrent int) *ProcessRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 100
	}

	log.Warn().
		Str("interpreter", python).
		Msg("process backend active: executions are NOT container-isolated")

	return &ProcessRunner{
		python: python,
		sem:    make(chan struct{}, maxConcurrent),
	}
}

func (p *ProcessRunner) Name() string { return "process" }

func (p *ProcessRunner) Health(_ context.Context) Health {
	if _, err := exec.LookPath(p.python); err != nil {
		return Health{Available: false, Reason: fmt.Sprintf("%s not found in PATH", p.python)}
	}
	return Health{Available: true}
}

func (p *ProcessRunner) Run(ctx context.Context, script string, timeout time.Duration) (*RunResult, error) {
	execID := uuid.New().String()

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ctx.Err()}
	}

	p.wg.Add(1)
	defer p.wg.Done()
	p.active.Add(1)
	defer p.active.Add(-1)

	hostDir, err := os.MkdirTemp("", "sandbox-"+execID+"-*")
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_temp_dir", Err: err}
	}
	defer os.RemoveAll(hostDir)

	scriptFile := filepath.Join(hostDir, "main.py")
	if err := os.WriteFile(scriptFile, []byte(script), 0600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_script", Err: err}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	cmd := exec.CommandContext(execCtx, p.python, "-u", "-B", "-I", scriptFile) // #nosec G204 -- interpreter from config, script written above
	cmd.Dir = hostDir
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=" + hostDir, "LANG=C.UTF-8", "SANDBOX=true"}

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
			result.ExitCode = -1
			return result, ErrTimeout
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, &ExecutionError{ExecID: execID, Op: "run_process", Err: err}
		}
	}

	return result, nil
}

func (p *ProcessRunner) ActiveCount() int64 {
	return p.active.Load()
}

func (p *ProcessRunner) Close() error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", p.active.Load()).Msg("timed out waiting for process executions to drain")
	}
	return nil
}
