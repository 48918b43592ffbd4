package wgpu

import (
	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/volren/device"
)

// SoftwareDriverName selects the CPU implementation of the GPU HAL. It
// runs the same buffer and queue paths as a real adapter, so it is useful
// for checking the GPU code path on machines without one. Fills use queue
// writes.
const SoftwareDriverName = "wgpu-software"

func init() {
	device.RegisterDriver(DriverName, func() (device.Driver, error) {
		d, err := Open()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	device.RegisterDriver(SoftwareDriverName, func() (device.Driver, error) {
		d, err := Open(WithBackend(software.API{}), WithShaderFill(false))
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
