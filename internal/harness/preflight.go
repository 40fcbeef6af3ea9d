package harness

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	// DefaultMinFreeMemoryMB is the floor of available memory below
	// which spawning new harness processes is refused.
	DefaultMinFreeMemoryMB = 256

	// defaultLoadWarnFactor warns when 1-minute load exceeds this
	// multiple of the CPU count.
	defaultLoadWarnFactor = 2.0
)

// Preflight checks host resources before a process launch. Memory
// exhaustion is a hard failure; high load only produces a warning.
type Preflight struct {
	MinFreeMemoryMB uint64
}

// NewPreflight creates a preflight with default thresholds.
func NewPreflight() *Preflight {
	return &Preflight{MinFreeMemoryMB: DefaultMinFreeMemoryMB}
}

// Check returns warnings for degraded conditions and an error when the
// host cannot safely run another process. Probe failures are treated as
// warnings, not errors; a broken metrics source should not block work.
func (p *Preflight) Check() ([]string, error) {
	var warnings []string

	vm, err := mem.VirtualMemory()
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("memory probe failed: %v", err))
	} else {
		availableMB := vm.Available / (1024 * 1024)
		if availableMB < p.MinFreeMemoryMB {
			return warnings, fmt.Errorf("only %d MB memory available, need at least %d MB",
				availableMB, p.MinFreeMemoryMB)
		}
	}

	avg, err := load.Avg()
	if err == nil {
		threshold := float64(runtime.NumCPU()) * defaultLoadWarnFactor
		if avg.Load1 > threshold {
			warnings = append(warnings, fmt.Sprintf("high system load: %.2f (cpus: %d)",
				avg.Load1, runtime.NumCPU()))
		}
	}

	return warnings, nil
}
