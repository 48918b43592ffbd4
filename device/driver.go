package device

import (
	"fmt"
	"unsafe"
)

// StreamHandle identifies a driver-level execution queue.
// Zero is never a valid handle.
type StreamHandle uint64

// DeviceType classifies a device.
type DeviceType int

const (
	// DeviceTypeUnknown is reported when the driver cannot classify the device.
	DeviceTypeUnknown DeviceType = iota
	// DeviceTypeDiscrete is a discrete GPU.
	DeviceTypeDiscrete
	// DeviceTypeIntegrated is a GPU sharing memory with the host.
	DeviceTypeIntegrated
	// DeviceTypeCPU is a software implementation running on the host.
	DeviceTypeCPU
)

// String returns the string representation of the device type.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeDiscrete:
		return "Discrete"
	case DeviceTypeIntegrated:
		return "Integrated"
	case DeviceTypeCPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// DeviceInfo describes one device of a driver.
type DeviceInfo struct {
	Index   int
	Name    string
	Type    DeviceType
	Backend string

	// MemoryBytes is the allocation budget, zero when unknown.
	MemoryBytes uint64
}

// String returns a human-readable description.
func (i DeviceInfo) String() string {
	return fmt.Sprintf("device %d: %s (%s, %s)", i.Index, i.Name, i.Type, i.Backend)
}

// Memory is a device allocation owned by a driver.
type Memory interface {
	// Device returns the device the memory lives on.
	Device() int

	// Size returns the allocation size in bytes.
	Size() int
}

// Access resolves device memory into a byte view while a launched host
// function runs. Views are only valid inside the launch.
type Access interface {
	Bytes(m Memory) ([]byte, error)
}

// LaunchFunc is a host function executed in stream order.
type LaunchFunc func(a Access) error

// Driver is the device runtime consumed by the Registry and the handlers.
//
// Upload, Download, Fill and Launch are asynchronous: they enqueue work on
// the stream and return. Work on one stream runs in FIFO order.
// SynchronizeStream blocks until the stream is drained and returns the
// first error of the work executed since the previous synchronize.
//
// Upload copies src before returning, so the caller may reuse it.
// Download writes dst when the work runs; read it only after a synchronize.
type Driver interface {
	DeviceCount() int
	DeviceInfo(dev int) (DeviceInfo, error)

	CreateStream(dev int) (StreamHandle, error)
	DestroyStream(s StreamHandle) error
	SynchronizeStream(s StreamHandle) error
	SetCurrent(dev int) error

	Alloc(dev int, size int) (Memory, error)
	Free(m Memory) error

	Upload(s StreamHandle, dst Memory, offset int, src []byte) error
	Download(s StreamHandle, dst []byte, src Memory, offset int) error
	Fill(s StreamHandle, dst Memory, value uint32) error
	Launch(s StreamHandle, fn LaunchFunc) error

	Close() error
}

// Float32s reinterprets b as a float32 slice without copying.
// len(b) must be a multiple of 4 and b must be 4-byte aligned, which
// holds for every view returned by an Access.
func Float32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Float32Bytes reinterprets f as a byte slice without copying.
func Float32Bytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}

// CheckRange validates an [offset, offset+n) window over a size-byte
// allocation. Driver implementations call it before enqueuing a copy.
func CheckRange(size, offset, n int) error {
	if offset < 0 || n < 0 || offset+n > size {
		return fmt.Errorf("%w: offset %d length %d size %d", ErrOutOfRange, offset, n, size)
	}
	return nil
}
