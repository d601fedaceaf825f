package missingmoney

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// Probe reports whether the host can take another browser session.
type Probe interface {
	Check(ctx context.Context) error
}

// MemoryProbe refuses new sessions when used memory is above Threshold
// percent. A Threshold of zero or less disables it.
type MemoryProbe struct {
	Threshold float64

	// read is replaced in tests.
	read func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewMemoryProbe creates a probe backed by gopsutil.
func NewMemoryProbe(threshold float64) *MemoryProbe {
	return &MemoryProbe{Threshold: threshold, read: mem.VirtualMemoryWithContext}
}

// Check returns ErrResourceExhaustion above the threshold. A failed read
// is not an exhaustion signal and passes.
func (p *MemoryProbe) Check(ctx context.Context) error {
	if p == nil || p.Threshold <= 0 {
		return nil
	}
	vm, err := p.read(ctx)
	if err != nil || vm == nil {
		return nil
	}
	if vm.UsedPercent >= p.Threshold {
		return fmt.Errorf("%w: memory %.1f%% used (limit %.0f%%)", ErrResourceExhaustion, vm.UsedPercent, p.Threshold)
	}
	return nil
}

// Usage is a host memory snapshot for health reporting.
type Usage struct {
	TotalMB     uint64  `json:"totalMb"`
	AvailableMB uint64  `json:"availableMb"`
	UsedPercent float64 `json:"usedPercent"`
}

// Usage returns the current memory snapshot.
func (p *MemoryProbe) Usage(ctx context.Context) (Usage, error) {
	read := mem.VirtualMemoryWithContext
	if p != nil && p.read != nil {
		read = p.read
	}
	vm, err := read(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("missingmoney: read memory: %w", err)
	}
	return Usage{
		TotalMB:     vm.Total >> 20,
		AvailableMB: vm.Available >> 20,
		UsedPercent: vm.UsedPercent,
	}, nil
}
