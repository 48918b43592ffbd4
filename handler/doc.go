// Package handler holds the information handlers that turn host-side
// pipeline state into the snapshots read by the ray-casting kernel.
//
// Each handler embeds a *device.Resource, so it owns one device and one
// stream and follows the same lifecycle: Update rebuilds its snapshot only
// when the inputs changed, Deinitialize drops device buffers on a device
// switch and Reinitialize rebuilds them on the new device.
//
// # Handlers
//
//   - VolumeHandler: dimensions, spacing, bounds and shading of the image.
//   - TransferFunctionHandler: the sampled color, opacity and gradient
//     opacity tables, shared under the registry's transfer-function lock.
//   - OutputImageHandler: the output buffer and per-pixel ray setup, sized
//     by the alignment rule in ComputeResolution.
//   - RendererHandler: resolution, view-to-voxels matrix, clipping planes
//     and gradient shading constants.
//
// Scalar snapshots are serialized with Marshal into fixed little-endian
// layouts and uploaded to small constant buffers, so that work already
// enqueued on a stream keeps reading the values it was launched with.
package handler
