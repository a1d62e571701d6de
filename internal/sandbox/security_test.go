package sandbox

import (
	"strings"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestApplySecurityProfile(t *testing.T) {
	spec := &specs.Spec{Root: &specs.Root{}}
	ApplySecurityProfile(spec, DefaultSecurityProfile())

	if !spec.Process.NoNewPrivileges {
		t.Error("NoNewPrivileges not set")
	}
	if spec.Process.User.UID != 65534 || spec.Process.User.GID != 65534 {
		t.Errorf("user = %d:%d, want 65534:65534", spec.Process.User.UID, spec.Process.User.GID)
	}
	if len(spec.Process.Capabilities.Bounding) != 0 {
		t.Errorf("bounding caps = %v, want none", spec.Process.Capabilities.Bounding)
	}
	if spec.Linux.Seccomp == nil {
		t.Error("seccomp profile not applied")
	}
	if !spec.Root.Readonly {
		t.Error("root filesystem not read-only")
	}

	hasNetNS := false
	for _, ns := range spec.Linux.Namespaces {
		if ns.Type == specs.NetworkNamespace {
			hasNetNS = true
		}
	}
	if !hasNetNS {
		t.Error("network namespace isolation missing")
	}
}

func TestApplyResourceLimits(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	limits := ResourceLimits{CPUShares: 512, MemoryMB: 256, PidsLimit: 50, DiskMB: 100}
	ApplyResourceLimits(spec, limits)

	res := spec.Linux.Resources
	wantMem := int64(256 * 1024 * 1024)
	if res.Memory == nil || *res.Memory.Limit != wantMem {
		t.Errorf("memory limit = %v, want %d", res.Memory, wantMem)
	}
	// Swap equals memory so the limit cannot be dodged through swap.
	if *res.Memory.Swap != wantMem {
		t.Errorf("swap limit = %d, want %d", *res.Memory.Swap, wantMem)
	}
	if res.Pids == nil || res.Pids.Limit != 50 {
		t.Errorf("pids limit = %v, want 50", res.Pids)
	}
	if res.CPU == nil || res.CPU.Quota == nil {
		t.Fatal("CPU quota not set")
	}
	// 512 shares of 1024 over a 100ms period is a 50ms quota.
	if *res.CPU.Quota != 50000 {
		t.Errorf("CPU quota = %d, want 50000", *res.CPU.Quota)
	}

	foundTmp := false
	for _, m := range spec.Mounts {
		if m.Destination == "/tmp" && m.Type == "tmpfs" {
			foundTmp = true
			opts := strings.Join(m.Options, ",")
			for _, want := range []string{"noexec", "nosuid", "nodev"} {
				if !strings.Contains(opts, want) {
					t.Errorf("tmpfs options %q missing %q", opts, want)
				}
			}
		}
	}
	if !foundTmp {
		t.Error("tmpfs /tmp mount missing")
	}
}
