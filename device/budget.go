package device

import (
	"fmt"
	"sync"
)

// Default memory limits.
const (
	// DefaultDeviceMemoryMB is the default per-device memory budget (256 MB).
	DefaultDeviceMemoryMB = 256

	// MinDeviceMemoryMB is the minimum budget accepted from configuration (1 MB).
	MinDeviceMemoryMB = 1
)

// MemoryStats contains device memory usage statistics.
type MemoryStats struct {
	// TotalBytes is the total memory budget in bytes.
	TotalBytes uint64

	// UsedBytes is the currently allocated memory in bytes.
	UsedBytes uint64

	// AvailableBytes is the remaining memory budget.
	AvailableBytes uint64

	// PeakBytes is the highest UsedBytes observed.
	PeakBytes uint64

	// Allocations is the number of live allocations.
	Allocations int

	// Failures counts allocations refused for lack of budget.
	Failures uint64

	// Utilization is the percentage of budget used (0.0 to 1.0).
	Utilization float64
}

// String returns a human-readable string of memory stats.
func (s MemoryStats) String() string {
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d KB, peak %d KB, %d allocations, %d failures]",
		s.Utilization*100,
		s.UsedBytes/1024,
		s.TotalBytes/1024,
		s.PeakBytes/1024,
		s.Allocations,
		s.Failures)
}

// MemoryBudget tracks allocations against a fixed byte budget.
// Live device buffers are never evicted: a request that does not fit
// fails with ErrMemoryBudgetExceeded and the caller keeps what it has.
//
// MemoryBudget is safe for concurrent use.
type MemoryBudget struct {
	mu sync.Mutex

	budgetBytes uint64
	usedBytes   uint64
	peakBytes   uint64
	allocations int
	failures    uint64
}

// NewMemoryBudget creates a budget of the given size in bytes.
// A zero size selects DefaultDeviceMemoryMB.
func NewMemoryBudget(bytes uint64) *MemoryBudget {
	if bytes == 0 {
		bytes = DefaultDeviceMemoryMB * 1024 * 1024
	}
	return &MemoryBudget{budgetBytes: bytes}
}

// Reserve accounts for an allocation of size bytes.
func (b *MemoryBudget) Reserve(size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var available uint64
	if b.budgetBytes > b.usedBytes {
		available = b.budgetBytes - b.usedBytes
	}
	if size > available {
		b.failures++
		return fmt.Errorf("%w: need %d bytes, have %d bytes available",
			ErrMemoryBudgetExceeded, size, available)
	}

	b.usedBytes += size
	b.allocations++
	if b.usedBytes > b.peakBytes {
		b.peakBytes = b.usedBytes
	}
	return nil
}

// Release returns size bytes to the budget.
func (b *MemoryBudget) Release(size uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if size > b.usedBytes {
		size = b.usedBytes
	}
	b.usedBytes -= size
	if b.allocations > 0 {
		b.allocations--
	}
}

// SetBudget updates the budget. Existing allocations are kept even when
// they exceed the new budget; only later reservations see the change.
func (b *MemoryBudget) SetBudget(bytes uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.budgetBytes = bytes
}

// Stats returns current memory usage statistics.
func (b *MemoryBudget) Stats() MemoryStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var utilization float64
	if b.budgetBytes > 0 {
		utilization = float64(b.usedBytes) / float64(b.budgetBytes)
	}

	var available uint64
	if b.budgetBytes > b.usedBytes {
		available = b.budgetBytes - b.usedBytes
	}

	return MemoryStats{
		TotalBytes:     b.budgetBytes,
		UsedBytes:      b.usedBytes,
		AvailableBytes: available,
		PeakBytes:      b.peakBytes,
		Allocations:    b.allocations,
		Failures:       b.failures,
		Utilization:    utilization,
	}
}
