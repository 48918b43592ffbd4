// Package wgpu provides a device.Driver backed by gogpu/wgpu.
//
// Each hal adapter opened at startup is one device. Device memory is a
// storage buffer; streams are FIFO queues executed by one goroutine each,
// submitting to the adapter's hal queue and polling for completion before
// the next operation runs.
//
// # Operations
//
//   - Upload writes through the hal queue. Unaligned windows are patched
//     with a read-modify-write of the surrounding 4-byte words.
//   - Download copies into a MapRead staging buffer and maps it.
//   - Fill dispatches a WGSL compute shader compiled with naga. When the
//     shader cannot be built, or the buffer is too large for one dispatch,
//     the pattern is written through the queue instead.
//   - Launch runs a host function. Every buffer it resolves through Access
//     is read back first and written back afterwards if the function
//     changed it, so host kernels run unchanged on a GPU device.
//
// # Usage
//
// The package registers itself as the "wgpu" driver, which
// device.OpenDefaultDriver prefers over the software driver:
//
//	import _ "github.com/gogpu/volren/backend/wgpu"
//
//	drv, name, err := device.OpenDefaultDriver()
//
// A window application that already owns a device shares it with
// FromProvider:
//
//	drv, err := wgpu.FromProvider(app.GPUContextProvider())
//
// The "wgpu-software" driver runs the same code on the CPU implementation
// of the hal, which needs no adapter.
//
// The Vulkan hal backend is linked unless the nogpu build tag is set.
package wgpu
