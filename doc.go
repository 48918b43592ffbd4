// Package volren renders 3D and time-sequence 4D scalar volumes by GPU
// ray casting.
//
// # Overview
//
// The package is the coordination layer between a host rendering pipeline
// and a compute kernel. A Mapper owns four information handlers (volume,
// renderer, transfer function and output image), keeps their device
// snapshots current, and launches the kernel once per frame:
//
//	Render → compute matrices → handler updates → kernel launch → display
//
// Every handler rebuilds only when its inputs carry a newer modification
// timestamp, and the mapper adds a coarser check on camera and volume
// transform timestamps before recomputing matrices.
//
// # Quick Start
//
//	drv, _, err := device.OpenDefaultDriver()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg := device.NewRegistry(drv)
//	defer reg.Close()
//
//	m, err := volren.NewMapper(reg, nil, volren.WithPresenter(p))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Release()
//
//	_ = m.SetInput(image, 0)
//	_ = m.Render(viewport, volumeActor)
//
// # Devices and streams
//
// The device.Registry is constructed explicitly and passed to every
// mapper. Mappers running on different goroutines may share one
// registry; each mapper itself is single-threaded. Work is enqueued on
// the mapper's stream and only blocks at synchronization points: after an
// input upload and before a frame is presented.
//
// # Errors
//
// Configuration errors (unsupported scalar kind, unknown frame, missing
// input) are recorded on the mapper and reported by Err. While one is
// recorded Render skips silently and the last good frame stays on
// screen. A valid SetInput or ChangeFrame clears it.
//
// # Drivers
//
// The software driver in package device is always available. Import
// backend/wgpu to register the gogpu HAL driver:
//
//	import _ "github.com/gogpu/volren/backend/wgpu"
package volren

// Version is the current version of the module.
const Version = "0.1.0"
