package wgpu

import "errors"

var (
	// ErrNoBackend is returned when no hal backend is linked.
	ErrNoBackend = errors.New("wgpu: no hal backend available")

	// ErrNoAdapter is returned when the backend exposes no usable adapter.
	ErrNoAdapter = errors.New("wgpu: no GPU adapter could be opened")

	// ErrProvider is returned by FromProvider for providers without hal access.
	ErrProvider = errors.New("wgpu: provider does not expose hal device and queue")

	// ErrGPUTimeout is returned when a submission does not complete in time.
	ErrGPUTimeout = errors.New("wgpu: timed out waiting for GPU")
)
