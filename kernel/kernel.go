// Package kernel defines the compute entry points the volume mapper drives
// and ships RayCaster, a CPU reference implementation.
//
// Kernels never see host pipeline objects. They read the marshaled
// snapshots from the handlers' constant buffers, the transfer-function
// tables and the loaded frames, and write the ray buffers and the output
// image of an OutputImageInfo.
package kernel

import (
	"errors"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/handler"
)

var (
	// ErrUnknownFrame is returned by ChangeFrame for frames never loaded.
	ErrUnknownFrame = errors.New("kernel: unknown frame")

	// ErrNoFrame is returned by Render before any frame is loaded.
	ErrNoFrame = errors.New("kernel: no frame loaded")

	// ErrFrameSize is returned when frame data does not match its dimensions.
	ErrFrameSize = errors.New("kernel: frame data does not match dimensions")

	// ErrIncompleteParams is returned when Render is missing a buffer.
	ErrIncompleteParams = errors.New("kernel: incomplete render parameters")
)

// Executor is the slice of device.Resource a kernel needs: allocation and
// stream-ordered copies and launches.
type Executor interface {
	Alloc(size int) (device.Memory, error)
	Free(m device.Memory) error
	Upload(dst device.Memory, offset int, src []byte) error
	Launch(fn device.LaunchFunc) error
	Synchronize() error
}

var _ Executor = (*device.Resource)(nil)

// Params collects the buffers of one render.
type Params struct {
	// Volume, Renderer and Transfer hold the marshaled snapshots.
	Volume   device.Memory
	Renderer device.Memory
	Transfer device.Memory

	// Tables are the transfer-function tables in R, G, B, alpha,
	// gradient-alpha order.
	Tables [5]device.Memory

	Output handler.OutputImageInfo
}

func (p *Params) complete() bool {
	if p.Volume == nil || p.Renderer == nil || p.Transfer == nil || p.Output.Output == nil {
		return false
	}
	for _, t := range p.Tables {
		if t == nil {
			return false
		}
	}
	o := p.Output
	return o.RayStartX != nil && o.RayStartY != nil && o.RayStartZ != nil &&
		o.RayIncX != nil && o.RayIncY != nil && o.RayIncZ != nil && o.NumSteps != nil
}

// Kernel is implemented by ray-casting backends.
type Kernel interface {
	// LoadFrame uploads one frame of float32 samples, X varying fastest.
	// Loading an existing frame index replaces it.
	LoadFrame(ex Executor, frame int, data []float32, dims [3]int) error

	// ChangeFrame selects the frame Render reads.
	ChangeFrame(frame int) error

	// ClearFrames frees every loaded frame.
	ClearFrames() error

	// Render enqueues ray setup and ray marching on ex's stream.
	Render(ex Executor, p Params) error
}
