package handler

import (
	"fmt"
	"math"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/host"
)

// Shading defaults used when the property disables shading.
const (
	unshadedAmbient       = 1
	unshadedDiffuse       = 0
	unshadedSpecular      = 0
	unshadedSpecularPower = 1
)

// VolumeHandler builds the volume snapshot from an image and its property.
type VolumeHandler struct {
	*device.Resource

	image host.Image
	prop  host.Property

	lastModified uint64
	info         VolumeInfo
	valid        bool
	constant     constant
	uploads      int
}

// NewVolumeHandler creates a volume handler on device 0 of reg.
func NewVolumeHandler(reg *device.Registry) (*VolumeHandler, error) {
	h := &VolumeHandler{constant: constant{size: VolumeInfoSize}}
	res, err := device.NewResource(reg, "volume-info", h)
	if err != nil {
		return nil, err
	}
	h.Resource = res
	return h, nil
}

// SetImage sets the image. A different image forces the next Update.
func (h *VolumeHandler) SetImage(im host.Image) {
	if im != h.image {
		h.image = im
		h.lastModified = 0
	}
}

// Image returns the current image.
func (h *VolumeHandler) Image() host.Image { return h.image }

// SetProperty sets the property that supplies shading.
func (h *VolumeHandler) SetProperty(p host.Property) {
	if p != h.prop {
		h.prop = p
		h.lastModified = 0
	}
}

// Info returns the current snapshot.
func (h *VolumeHandler) Info() VolumeInfo { return h.info }

// Constant returns the device buffer holding the marshaled snapshot.
func (h *VolumeHandler) Constant() device.Memory { return h.constant.mem }

// Uploads returns how many snapshots have been uploaded.
func (h *VolumeHandler) Uploads() int { return h.uploads }

// Update rebuilds and uploads the snapshot if the image or property
// changed since the last upload. It reports whether an upload happened.
func (h *VolumeHandler) Update() (bool, error) {
	if err := h.Err(); err != nil {
		return false, err
	}
	if h.image == nil {
		return false, nil
	}
	mt := host.MaxMTime(h.image, h.prop)
	if h.valid && mt <= h.lastModified {
		return false, nil
	}

	info, err := buildVolumeInfo(h.image, h.prop)
	if err != nil {
		return false, err
	}
	if err := h.constant.upload(h.Resource, info.Marshal()); err != nil {
		return false, fmt.Errorf("handler: upload volume info: %w", err)
	}
	h.info = info
	h.valid = true
	h.lastModified = mt
	h.uploads++
	h.MarkResident(true)
	return true, nil
}

func buildVolumeInfo(im host.Image, prop host.Property) (VolumeInfo, error) {
	var info VolumeInfo
	dims := im.Dimensions()
	spacing := im.Spacing()

	minSpacing := math.Inf(1)
	for i := 0; i < 3; i++ {
		if dims[i] <= 0 || !(spacing[i] > 0) {
			return info, fmt.Errorf("%w: dims %v spacing %v", host.ErrInvalidImage, dims, spacing)
		}
		info.VolumeSize[i] = int32(dims[i])
		info.Spacing[i] = float32(spacing[i])
		info.SpacingReciprocal[i] = float32(1 / spacing[i])
		info.Bounds[2*i] = 0
		info.Bounds[2*i+1] = float32(dims[i] - 1)
		minSpacing = math.Min(minSpacing, spacing[i])
	}
	info.MinSpacing = float32(minSpacing)

	info.Ambient = unshadedAmbient
	info.Diffuse = unshadedDiffuse
	info.Specular = [2]float32{unshadedSpecular, unshadedSpecularPower}
	if prop != nil {
		if s := prop.Shading(); s.Enabled {
			info.Ambient = float32(s.Ambient)
			info.Diffuse = float32(s.Diffuse)
			info.Specular = [2]float32{float32(s.Specular), float32(s.SpecularPower)}
		}
	}
	return info, nil
}

// Deinitialize frees the constant buffer. The snapshot is kept on the
// host regardless of preserve, since it is rebuilt from the image anyway.
func (h *VolumeHandler) Deinitialize(preserve bool) {
	h.constant.free(h.Resource)
	h.valid = false
}

// Reinitialize uploads the snapshot to the current device.
func (h *VolumeHandler) Reinitialize(preserve bool) error {
	h.lastModified = 0
	_, err := h.Update()
	return err
}
