// Package cgroup implements Cgroup Binding: creating or attaching a cgroup
// keyed by container id, applying CPU/memory limits, and joining a PID.
// Enforcement follows whichever controller hierarchy the host runs, unified
// (cgroup v2) or legacy (cgroup v1), per spec §4.4's "this spec does not
// mandate which".
package cgroup

import (
	"fmt"
	"strconv"
	"strings"

	cgroupsapi "github.com/containerd/cgroups/v3"
	"github.com/containerd/cgroups/v3/cgroup1"
	"github.com/containerd/cgroups/v3/cgroup2"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/nsrun/nsrun/internal/nerr"
)

const defaultPeriod = uint64(100000) // 100ms, matches the common CFS default

// Binding is a handle to a container's cgroup, regardless of which
// hierarchy backs it.
type Binding struct {
	id     string
	v2     *cgroup2.Manager
	v1     cgroup1.Cgroup
	legacy bool
}

// New creates (or reuses) a cgroup named after id.
func New(id string) (*Binding, error) {
	if cgroupsapi.Mode() == cgroupsapi.Unified {
		mgr, err := cgroup2.NewManager("/sys/fs/cgroup", "/"+id, &cgroup2.Resources{})
		if err != nil {
			return nil, nerr.Wrap(nerr.FabricFailure, err, "create cgroup2 manager")
		}
		return &Binding{id: id, v2: mgr}, nil
	}

	cg, err := cgroup1.New(cgroup1.StaticPath("/"+id), &specs.LinuxResources{})
	if err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "create cgroup1 hierarchy")
	}
	return &Binding{id: id, v1: cg, legacy: true}, nil
}

// SetCPULimit applies a fractional CPU count (e.g. 0.5 = half a core) as a
// CFS quota against the default 100ms period.
func (b *Binding) SetCPULimit(cpus float64) error {
	if cpus <= 0 {
		return nil
	}
	quota := int64(cpus * float64(defaultPeriod))

	if b.legacy {
		period := defaultPeriod
		return b.updateV1(&specs.LinuxResources{
			CPU: &specs.LinuxCPU{Quota: &quota, Period: &period},
		})
	}

	period := defaultPeriod
	return b.updateV2(&cgroup2.Resources{
		CPU: &cgroup2.CPU{Max: cgroup2.NewCPUMax(&quota, &period)},
	})
}

// SetMemoryLimit applies a human-readable memory limit such as "512M".
func (b *Binding) SetMemoryLimit(size string) error {
	if size == "" {
		return nil
	}
	limit, err := parseMemory(size)
	if err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "parse memory limit "+size)
	}

	if b.legacy {
		return b.updateV1(&specs.LinuxResources{
			Memory: &specs.LinuxMemory{Limit: &limit},
		})
	}

	return b.updateV2(&cgroup2.Resources{
		Memory: &cgroup2.Memory{Max: &limit},
	})
}

// Add joins pid to the cgroup.
func (b *Binding) Add(pid int) error {
	if b.legacy {
		if err := b.v1.Add(cgroup1.Process{Pid: pid}); err != nil {
			return nerr.Wrap(nerr.FabricFailure, err, "add pid to cgroup1")
		}
		return nil
	}
	if err := b.v2.AddProc(uint64(pid)); err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "add pid to cgroup2")
	}
	return nil
}

// Delete removes the cgroup. Nothing in the clean sweep calls it.
func (b *Binding) Delete() error {
	if b.legacy {
		return b.v1.Delete()
	}
	return b.v2.Delete()
}

func (b *Binding) updateV1(res *specs.LinuxResources) error {
	if err := b.v1.Update(res); err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "update cgroup1 resources")
	}
	return nil
}

func (b *Binding) updateV2(res *cgroup2.Resources) error {
	if err := b.v2.Update(res); err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "update cgroup2 resources")
	}
	return nil
}

// parseMemory parses human-readable sizes like "512M", "1G", "2Gi" into
// bytes.
func parseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty memory size")
	}

	i := len(s)
	for i > 0 && !(s[i-1] >= '0' && s[i-1] <= '9') {
		i--
	}
	numPart, suffix := s[:i], strings.ToUpper(s[i:])

	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q: %w", s, err)
	}

	var mult float64 = 1
	switch suffix {
	case "", "B":
		mult = 1
	case "K", "KB", "KI":
		mult = 1 << 10
	case "M", "MB", "MI":
		mult = 1 << 20
	case "G", "GB", "GI":
		mult = 1 << 30
	default:
		return 0, fmt.Errorf("unknown memory size suffix %q", suffix)
	}

	return int64(value * mult), nil
}
