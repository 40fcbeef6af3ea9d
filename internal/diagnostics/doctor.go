// Package diagnostics implements the environment checks behind the
// doctor command: harness binary availability, data directory health,
// and host resource headroom for spawning supervised processes.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ljacobsen/foreman/internal/config"
	"github.com/ljacobsen/foreman/internal/harness"
)

// Status grades one check result.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// CheckResult is the outcome of one doctor check.
type CheckResult struct {
	Name    string
	Status  Status
	Message string
}

// Doctor runs environment checks against a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	registry *harness.Registry

	minFreeMemoryMB uint64
	minFreeDiskMB   uint64
}

// NewDoctor creates a doctor for the given configuration and registry.
func NewDoctor(cfg *config.Config, registry *harness.Registry) *Doctor {
	return &Doctor{
		cfg:             cfg,
		registry:        registry,
		minFreeMemoryMB: harness.DefaultMinFreeMemoryMB,
		minFreeDiskMB:   512,
	}
}

// Run executes every check and returns the results in a stable order.
func (d *Doctor) Run(ctx context.Context) []CheckResult {
	var results []CheckResult
	results = append(results, d.checkHarnesses(ctx)...)
	results = append(results, d.checkDataDir())
	results = append(results, d.checkWorkspaceRoot())
	results = append(results, d.checkMemory())
	results = append(results, d.checkLoad())
	results = append(results, d.checkDisk())
	return results
}

// Healthy reports whether no check failed. Warnings do not count as
// unhealthy.
func Healthy(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return false
		}
	}
	return true
}

func (d *Doctor) checkHarnesses(ctx context.Context) []CheckResult {
	var results []CheckResult
	enabledAvailable := 0
	for _, name := range d.registry.List() {
		hc, configured := d.cfg.Harnesses[name]
		if !configured || !hc.Enabled {
			results = append(results, CheckResult{
				Name:    "harness:" + name,
				Status:  StatusOK,
				Message: "disabled",
			})
			continue
		}
		if err := d.registry.Ping(ctx, name); err != nil {
			results = append(results, CheckResult{
				Name:    "harness:" + name,
				Status:  StatusWarn,
				Message: fmt.Sprintf("enabled but binary %q not on PATH", hc.Path),
			})
			continue
		}
		enabledAvailable++
		results = append(results, CheckResult{
			Name:    "harness:" + name,
			Status:  StatusOK,
			Message: "available",
		})
	}
	if enabledAvailable == 0 {
		results = append(results, CheckResult{
			Name:    "harnesses",
			Status:  StatusFail,
			Message: "no enabled harness has its binary installed; tasks cannot run",
		})
	}
	return results
}

func (d *Doctor) checkDataDir() CheckResult {
	dir := filepath.Dir(d.cfg.Store.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return CheckResult{Name: "data-dir", Status: StatusFail,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return CheckResult{Name: "data-dir", Status: StatusFail,
			Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return CheckResult{Name: "data-dir", Status: StatusOK, Message: dir + " writable"}
}

func (d *Doctor) checkWorkspaceRoot() CheckResult {
	info, err := os.Stat(d.cfg.Workspace.Root)
	if err != nil || !info.IsDir() {
		return CheckResult{Name: "workspace-root", Status: StatusFail,
			Message: fmt.Sprintf("%s is not an existing directory", d.cfg.Workspace.Root)}
	}
	return CheckResult{Name: "workspace-root", Status: StatusOK, Message: d.cfg.Workspace.Root}
}

func (d *Doctor) checkMemory() CheckResult {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return CheckResult{Name: "memory", Status: StatusWarn,
			Message: fmt.Sprintf("probe failed: %v", err)}
	}
	availableMB := vm.Available / (1024 * 1024)
	if availableMB < d.minFreeMemoryMB {
		return CheckResult{Name: "memory", Status: StatusFail,
			Message: fmt.Sprintf("%d MB available, spawning needs at least %d MB", availableMB, d.minFreeMemoryMB)}
	}
	return CheckResult{Name: "memory", Status: StatusOK,
		Message: fmt.Sprintf("%d MB available", availableMB)}
}

func (d *Doctor) checkLoad() CheckResult {
	avg, err := load.Avg()
	if err != nil {
		return CheckResult{Name: "load", Status: StatusWarn,
			Message: fmt.Sprintf("probe failed: %v", err)}
	}
	cpus := runtime.NumCPU()
	if avg.Load1 > float64(cpus)*2 {
		return CheckResult{Name: "load", Status: StatusWarn,
			Message: fmt.Sprintf("1m load %.2f is high for %d cpus", avg.Load1, cpus)}
	}
	return CheckResult{Name: "load", Status: StatusOK,
		Message: fmt.Sprintf("1m load %.2f on %d cpus", avg.Load1, cpus)}
}

func (d *Doctor) checkDisk() CheckResult {
	usage, err := disk.Usage(filepath.Dir(d.cfg.Store.Path))
	if err != nil {
		return CheckResult{Name: "disk", Status: StatusWarn,
			Message: fmt.Sprintf("probe failed: %v", err)}
	}
	freeMB := usage.Free / (1024 * 1024)
	if freeMB < d.minFreeDiskMB {
		return CheckResult{Name: "disk", Status: StatusFail,
			Message: fmt.Sprintf("%d MB free for the task store, need at least %d MB", freeMB, d.minFreeDiskMB)}
	}
	return CheckResult{Name: "disk", Status: StatusOK,
		Message: fmt.Sprintf("%d MB free", freeMB)}
}
