package device

import "errors"

// Registry and driver errors.
var (
	// ErrInvalidDevice is returned when a device index is out of range.
	ErrInvalidDevice = errors.New("device: invalid device index")

	// ErrUnknownStream is returned when a stream is not known to the registry or driver.
	ErrUnknownStream = errors.New("device: unknown stream")

	// ErrUnknownObject is returned for object identifiers the registry never issued.
	ErrUnknownObject = errors.New("device: unknown object")

	// ErrResourceBroken is returned by every operation on a Resource after
	// a registry call failed on its behalf.
	ErrResourceBroken = errors.New("device: resource is unusable after a registry failure")

	// ErrResourceReleased is returned by every operation on a released Resource.
	ErrResourceReleased = errors.New("device: resource released")

	// ErrMemoryBudgetExceeded is returned when an allocation would exceed the device budget.
	ErrMemoryBudgetExceeded = errors.New("device: memory budget exceeded")

	// ErrMemoryFreed is returned when enqueued work references freed memory.
	ErrMemoryFreed = errors.New("device: memory has been freed")

	// ErrForeignMemory is returned when memory from another driver or device is used.
	ErrForeignMemory = errors.New("device: memory belongs to another driver or device")

	// ErrOutOfRange is returned when a copy does not fit the destination or source.
	ErrOutOfRange = errors.New("device: copy range out of bounds")

	// ErrDriverClosed is returned when operating on a closed driver.
	ErrDriverClosed = errors.New("device: driver closed")

	// ErrDriverNotAvailable is returned when no registered driver can be opened.
	ErrDriverNotAvailable = errors.New("device: no driver available")
)
