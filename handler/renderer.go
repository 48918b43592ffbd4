package handler

import (
	"fmt"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/internal/mat"
)

// RendererHandler collects the per-view renderer snapshot. Its inputs are
// computed by the mapper, so it tracks changes with a dirty flag instead of
// timestamps.
type RendererHandler struct {
	*device.Resource

	info     RendererInfo
	dirty    bool
	constant constant
	uploads  int
}

// NewRendererHandler creates a renderer handler on device 0 of reg.
func NewRendererHandler(reg *device.Registry) (*RendererHandler, error) {
	h := &RendererHandler{constant: constant{size: RendererInfoSize}, dirty: true}
	h.info.ViewToVoxels = mat.Identity()
	h.info.GradShadeShift = 1
	res, err := device.NewResource(reg, "renderer-info", h)
	if err != nil {
		return nil, err
	}
	h.Resource = res
	return h, nil
}

// SetResolution sets the output resolution the kernel renders at.
func (h *RendererHandler) SetResolution(res [2]int) {
	r := [2]uint32{uint32(res[0]), uint32(res[1])}
	if r != h.info.Resolution {
		h.info.Resolution = r
		h.dirty = true
	}
}

// SetViewToVoxels sets the view-to-voxels matrix.
func (h *RendererHandler) SetViewToVoxels(m mat.Mat4) {
	if m != h.info.ViewToVoxels {
		h.info.ViewToVoxels = m
		h.dirty = true
	}
}

// SetClippingPlanes sets the clipping planes in voxel space. At most
// MaxClippingPlanes are kept; extra planes are dropped and reported with
// ErrTooManyClippingPlanes.
func (h *RendererHandler) SetClippingPlanes(planes []mat.Plane) error {
	var err error
	if len(planes) > MaxClippingPlanes {
		err = fmt.Errorf("%w: got %d, keeping %d", ErrTooManyClippingPlanes, len(planes), MaxClippingPlanes)
		planes = planes[:MaxClippingPlanes]
	}
	var packed [4 * MaxClippingPlanes]float32
	for i, pl := range planes {
		copy(packed[4*i:4*i+4], pl[:])
	}
	if int32(len(planes)) != h.info.NumClippingPlanes || packed != h.info.ClippingPlanes {
		h.info.NumClippingPlanes = int32(len(planes))
		h.info.ClippingPlanes = packed
		h.dirty = true
	}
	return err
}

// SetGradientShadingConstants sets how strongly gradient magnitude darkens
// samples. darkness is clamped to [0, 1].
func (h *RendererHandler) SetGradientShadingConstants(darkness float32) {
	d := mat.Clamp(darkness, 0, 1)
	scale, shift := d, 1-d
	if scale != h.info.GradShadeScale || shift != h.info.GradShadeShift {
		h.info.GradShadeScale = scale
		h.info.GradShadeShift = shift
		h.dirty = true
	}
}

// Info returns the current snapshot.
func (h *RendererHandler) Info() RendererInfo { return h.info }

// Constant returns the device buffer holding the marshaled snapshot.
func (h *RendererHandler) Constant() device.Memory { return h.constant.mem }

// Uploads returns how many snapshots have been uploaded.
func (h *RendererHandler) Uploads() int { return h.uploads }

// Update uploads the snapshot if any input changed.
func (h *RendererHandler) Update() (bool, error) {
	if err := h.Err(); err != nil {
		return false, err
	}
	if !h.dirty && h.constant.mem != nil {
		return false, nil
	}
	if err := h.constant.upload(h.Resource, h.info.Marshal()); err != nil {
		return false, fmt.Errorf("handler: upload renderer info: %w", err)
	}
	h.dirty = false
	h.uploads++
	h.MarkResident(true)
	return true, nil
}

// Deinitialize frees the constant buffer.
func (h *RendererHandler) Deinitialize(preserve bool) {
	h.constant.free(h.Resource)
	h.dirty = true
}

// Reinitialize uploads the snapshot to the current device.
func (h *RendererHandler) Reinitialize(preserve bool) error {
	_, err := h.Update()
	return err
}
