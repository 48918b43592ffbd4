// Package device arbitrates GPU devices and execution streams between the
// objects that hold GPU resources.
//
// # Overview
//
// A [Driver] is the runtime abstraction: it enumerates devices, creates
// ordered asynchronous streams, allocates device memory and enqueues
// copies and host-function launches on a stream. Two drivers ship with
// the module: the pure-Go [SoftwareDriver] in this package and the HAL
// driver in backend/wgpu.
//
// A [Registry] is constructed explicitly around one driver and is the only
// place streams are created or destroyed. It records which objects hold
// which devices and streams, reference-counts streams shared between
// objects, and owns the lock that serializes transfer-function table
// rebuilds across mappers.
//
// A [Resource] is the per-object capability. Objects that touch the GPU
// embed a *Resource, implement [Lifecycle], and call ReserveGPU before
// every allocation, copy or launch.
//
// # Registry failures
//
// The registry reports contract violations (unknown stream, unknown
// association, device out of range) as a false result. A Resource treats
// any such failure as fatal: it becomes broken and refuses further work
// with [ErrResourceBroken].
//
// # Drivers by name
//
// Drivers register factories by name from init functions:
//
//	drv, name, err := device.OpenDefaultDriver()
//
// The software driver is always registered as "software".
package device
