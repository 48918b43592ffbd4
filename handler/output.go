package handler

import (
	"fmt"
	"math"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/host"
)

// Output buffer sizing.
const (
	// ResolutionAlignment is the multiple every output dimension is rounded up to.
	ResolutionAlignment = 16

	// MinResolution is the smallest output dimension.
	MinResolution = 256
)

// ComputeResolution returns the output buffer size for a viewport of
// w x h pixels rendered at 1/scale resolution.
func ComputeResolution(w, h int, scale float64) [2]int {
	if !(scale >= 1) {
		scale = 1
	}
	return [2]int{alignDimension(w, scale), alignDimension(h, scale)}
}

func alignDimension(size int, scale float64) int {
	r := int(math.Ceil(float64(size) / scale))
	if r%ResolutionAlignment != 0 {
		r += ResolutionAlignment - r%ResolutionAlignment
	}
	return max(r, MinResolution)
}

// OutputImageHandler owns the output image and the per-pixel ray buffers
// the kernel fills, and brings finished frames back to the host.
type OutputImageHandler struct {
	*device.Resource

	viewW, viewH int
	scale        float64

	resolution [2]int
	info       OutputImageInfo
	mirror     []byte

	allocations int
}

// NewOutputImageHandler creates an output handler on device 0 of reg.
func NewOutputImageHandler(reg *device.Registry) (*OutputImageHandler, error) {
	h := &OutputImageHandler{scale: 1}
	res, err := device.NewResource(reg, "output-image-info", h)
	if err != nil {
		return nil, err
	}
	h.Resource = res
	return h, nil
}

// SetViewport sets the viewport size in pixels.
func (h *OutputImageHandler) SetViewport(w, ht int) {
	h.viewW, h.viewH = w, ht
}

// Viewport returns the viewport size.
func (h *OutputImageHandler) Viewport() (int, int) { return h.viewW, h.viewH }

// SetScaleFactor sets the render output scale. Values below 1 are clamped.
func (h *OutputImageHandler) SetScaleFactor(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, f)
	}
	h.scale = max(f, 1)
	return nil
}

// ScaleFactor returns the render output scale.
func (h *OutputImageHandler) ScaleFactor() float64 { return h.scale }

// Resolution returns the size of the current allocation.
func (h *OutputImageHandler) Resolution() [2]int { return h.resolution }

// Allocations returns how many times the buffers have been (re)allocated.
func (h *OutputImageHandler) Allocations() int { return h.allocations }

// Mirror returns the host copy of the last displayed frame.
func (h *OutputImageHandler) Mirror() []byte { return h.mirror }

// Update reallocates the buffers when the target resolution changed and
// reports whether it did. Pending work is synchronized before the old
// buffers are freed. The new set is allocated next to the old one when
// memory allows, otherwise in its place. On allocation failure buffers of
// the previous resolution are kept.
func (h *OutputImageHandler) Update() (bool, error) {
	if err := h.Err(); err != nil {
		return false, err
	}
	if h.viewW <= 0 || h.viewH <= 0 {
		return false, nil
	}
	target := ComputeResolution(h.viewW, h.viewH, h.scale)
	if target == h.resolution && h.info.Output != nil {
		return false, nil
	}

	if err := h.Synchronize(); err != nil {
		slogger().Warn("handler: synchronize before resize", "object", h.Label(), "err", err)
	}

	next, err := h.allocate(target)
	switch {
	case err == nil:
		h.freeBuffers()
	case h.info.Output != nil:
		// Not enough room for both sets: free the old one and retry,
		// restoring the old size if the new one still does not fit.
		prev := h.resolution
		h.freeBuffers()
		if next, err = h.allocate(target); err != nil {
			restored, rerr := h.allocate(prev)
			if rerr != nil {
				h.resolution = [2]int{}
				h.MarkResident(false)
				slogger().Warn("handler: output buffers lost", "object", h.Label(), "err", rerr)
				return false, err
			}
			h.info = restored
			return false, err
		}
	default:
		return false, err
	}
	h.info = next
	h.resolution = target
	h.mirror = make([]byte, target[0]*target[1]*4)
	h.allocations++
	h.MarkResident(true)

	slogger().Debug("handler: output resized", "object", h.Label(),
		"viewport", [2]int{h.viewW, h.viewH}, "resolution", target, "scale", h.scale)
	return true, nil
}

// allocate creates a full buffer set for res. Nothing is left allocated
// when it fails.
func (h *OutputImageHandler) allocate(res [2]int) (OutputImageInfo, error) {
	info := OutputImageInfo{Resolution: [2]uint32{uint32(res[0]), uint32(res[1])}}
	n := res[0] * res[1]

	var done []device.Memory
	alloc := func(dst *device.Memory) error {
		m, err := h.Alloc(n * 4)
		if err != nil {
			return err
		}
		*dst = m
		done = append(done, m)
		return nil
	}
	for _, dst := range []*device.Memory{
		&info.NumSteps,
		&info.RayIncX, &info.RayIncY, &info.RayIncZ,
		&info.RayStartX, &info.RayStartY, &info.RayStartZ,
		&info.Output,
	} {
		if err := alloc(dst); err != nil {
			for _, m := range done {
				_ = h.Free(m)
			}
			return OutputImageInfo{}, fmt.Errorf("handler: allocate output %dx%d: %w", res[0], res[1], err)
		}
	}
	return info, nil
}

func (h *OutputImageHandler) freeBuffers() {
	for _, m := range []device.Memory{
		h.info.NumSteps,
		h.info.RayIncX, h.info.RayIncY, h.info.RayIncZ,
		h.info.RayStartX, h.info.RayStartY, h.info.RayStartZ,
		h.info.Output,
	} {
		if err := h.Free(m); err != nil {
			slogger().Warn("handler: free output buffer", "object", h.Label(), "err", err)
		}
	}
	h.info = OutputImageInfo{}
}

// Prepare returns the snapshot the kernel writes into.
func (h *OutputImageHandler) Prepare() OutputImageInfo { return h.info }

// Display waits for the stream, copies the output image into the host
// mirror and hands it to p. A nil p only refreshes the mirror. Nothing is
// presented when enqueued work failed.
func (h *OutputImageHandler) Display(p host.Presenter) error {
	if h.info.Output == nil {
		return ErrNoOutput
	}
	if err := h.Synchronize(); err != nil {
		return fmt.Errorf("handler: display: %w", err)
	}
	if err := h.Download(h.mirror, h.info.Output, 0); err != nil {
		return fmt.Errorf("handler: display: %w", err)
	}
	if err := h.Synchronize(); err != nil {
		return fmt.Errorf("handler: display: %w", err)
	}
	if p == nil {
		return nil
	}
	return p.Present(host.Frame{
		Pixels:     h.mirror,
		Width:      h.resolution[0],
		Height:     h.resolution[1],
		ViewWidth:  h.viewW,
		ViewHeight: h.viewH,
	})
}

// Deinitialize frees the device buffers. The mirror survives when
// preserve is set.
func (h *OutputImageHandler) Deinitialize(preserve bool) {
	h.freeBuffers()
	h.resolution = [2]int{}
	if !preserve {
		h.mirror = nil
	}
}

// Reinitialize allocates buffers on the current device.
func (h *OutputImageHandler) Reinitialize(preserve bool) error {
	mirror := h.mirror
	if _, err := h.Update(); err != nil {
		return err
	}
	if preserve && len(mirror) == len(h.mirror) {
		copy(h.mirror, mirror)
	}
	return nil
}
