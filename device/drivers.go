package device

import (
	"fmt"
	"sort"
	"sync"
)

// DriverFactory opens a new driver instance.
type DriverFactory func() (Driver, error)

// drivers holds registered driver factories.
var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
	// Priority order for driver selection (first that opens wins).
	driverPriority = []string{"wgpu", DriverSoftware}
)

// RegisterDriver registers a driver factory with the given name.
// This is typically called from init() functions in driver packages.
// A factory registered under an existing name replaces it.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// UnregisterDriver removes a driver from the registry.
// This is useful for testing.
func UnregisterDriver(name string) {
	driversMu.Lock()
	defer driversMu.Unlock()
	delete(drivers, name)
}

// AvailableDrivers returns the sorted names of registered drivers.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsDriverRegistered checks if a driver with the given name is registered.
func IsDriverRegistered(name string) bool {
	driversMu.RLock()
	defer driversMu.RUnlock()
	_, ok := drivers[name]
	return ok
}

// OpenDriver opens the driver registered under name.
func OpenDriver(name string) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrDriverNotAvailable, name)
	}
	return factory()
}

// OpenDefaultDriver opens the best available driver by priority
// (wgpu, then software) and returns it with its name. A driver whose
// factory fails or that exposes no device is skipped.
func OpenDefaultDriver() (Driver, string, error) {
	for _, name := range driverPriority {
		if !IsDriverRegistered(name) {
			continue
		}
		drv, err := OpenDriver(name)
		if err != nil {
			slogger().Warn("device: driver unavailable", "driver", name, "err", err)
			continue
		}
		if drv.DeviceCount() == 0 {
			_ = drv.Close()
			continue
		}
		return drv, name, nil
	}
	return nil, "", ErrDriverNotAvailable
}
