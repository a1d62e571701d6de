package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"safe-code-exec/internal/config"
)

// setupDockerRunner builds a runner against the real engine. Skips when no
// reachable docker daemon is available.
func setupDockerRunner(t *testing.T) *DockerRunner {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not in PATH, skipping: %v", err)
	}
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not reachable, skipping: %v", err)
	}

	d := NewDockerRunner(config.DefaultConfig().Sandbox)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDockerRunner_ConcurrentRunsLeaveNoContainers(t *testing.T) {
	d := setupDockerRunner(t)

	const n = 4
	script := "print('hello')\n"

	var wg sync.WaitGroup
	errs := make(chan error, n)
	results := make(chan *RunResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Run(context.Background(), script, 30*time.Second)
			errs <- err
			results <- res
		}()
	}
	wg.Wait()
	close(errs)
	close(results)

	for err := range errs {
		if err != nil {
			t.Errorf("run failed: %v", err)
		}
	}

	seen := make(map[string]bool, n)
	for res := range results {
		if res == nil {
			continue
		}
		if res.ExitCode != 0 {
			t.Errorf("exit code = %d, stderr: %s", res.ExitCode, res.Stderr)
		}
		if seen[res.ExecID] {
			t.Errorf("duplicate exec ID %s", res.ExecID)
		}
		seen[res.ExecID] = true
	}

	// Every container is removed on completion; nothing may survive the
	// last run, concurrent or not.
	out, err := exec.Command("docker", "ps", "--filter", "name=sandbox-", "-q").Output()
	if err != nil {
		t.Fatalf("docker ps: %v", err)
	}
	if ids := strings.TrimSpace(string(out)); ids != "" {
		t.Errorf("sandbox containers still running after all runs finished: %s", ids)
	}
}
