package handler

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/volren/device"
)

// Snapshot sizes in bytes. Layouts are 16-byte aligned.
const (
	VolumeInfoSize           = 80
	RendererInfoSize         = 192
	TransferFunctionInfoSize = 32
)

// MaxClippingPlanes is the number of user clipping planes the kernel supports.
const MaxClippingPlanes = 6

// VolumeInfo is the volume snapshot read by the kernel.
type VolumeInfo struct {
	VolumeSize        [3]int32
	Bounds            [6]float32
	SpacingReciprocal [3]float32
	Spacing           [3]float32
	MinSpacing        float32
	Ambient           float32
	Diffuse           float32

	// Specular holds strength and power.
	Specular [2]float32
}

// Marshal serializes the snapshot into its 80-byte device layout.
func (v *VolumeInfo) Marshal() []byte {
	buf := make([]byte, VolumeInfoSize)
	w := writer{buf: buf}
	for _, s := range v.VolumeSize {
		w.i32(s)
	}
	w.f32s(v.Bounds[:]...)
	w.f32s(v.SpacingReciprocal[:]...)
	w.f32s(v.Spacing[:]...)
	w.f32s(v.MinSpacing, v.Ambient, v.Diffuse)
	w.f32s(v.Specular[:]...)
	return buf
}

// UnmarshalVolumeInfo decodes a volume snapshot.
func UnmarshalVolumeInfo(b []byte) (VolumeInfo, error) {
	var v VolumeInfo
	if len(b) < VolumeInfoSize {
		return v, fmt.Errorf("%w: volume info needs %d bytes, got %d", ErrShortSnapshot, VolumeInfoSize, len(b))
	}
	r := reader{buf: b}
	for i := range v.VolumeSize {
		v.VolumeSize[i] = r.i32()
	}
	r.f32s(v.Bounds[:])
	r.f32s(v.SpacingReciprocal[:])
	r.f32s(v.Spacing[:])
	v.MinSpacing = r.f32()
	v.Ambient = r.f32()
	v.Diffuse = r.f32()
	r.f32s(v.Specular[:])
	return v, nil
}

// RendererInfo is the renderer snapshot read by the kernel.
type RendererInfo struct {
	Resolution [2]uint32

	// ViewToVoxels maps view space (x, y in [0,1] across the screen, z in
	// [0,1] between the clipping planes) to voxel indices. Column-major.
	ViewToVoxels [16]float32

	NumClippingPlanes int32

	// ClippingPlanes holds (a, b, c, d) per plane in voxel space.
	ClippingPlanes [4 * MaxClippingPlanes]float32

	GradShadeScale float32
	GradShadeShift float32
}

// Marshal serializes the snapshot into its 192-byte device layout.
func (r *RendererInfo) Marshal() []byte {
	buf := make([]byte, RendererInfoSize)
	w := writer{buf: buf}
	w.u32(r.Resolution[0])
	w.u32(r.Resolution[1])
	w.f32s(r.ViewToVoxels[:]...)
	w.i32(r.NumClippingPlanes)
	w.f32s(r.ClippingPlanes[:]...)
	w.f32s(r.GradShadeScale, r.GradShadeShift)
	return buf
}

// UnmarshalRendererInfo decodes a renderer snapshot.
func UnmarshalRendererInfo(b []byte) (RendererInfo, error) {
	var ri RendererInfo
	if len(b) < RendererInfoSize {
		return ri, fmt.Errorf("%w: renderer info needs %d bytes, got %d", ErrShortSnapshot, RendererInfoSize, len(b))
	}
	r := reader{buf: b}
	ri.Resolution[0] = r.u32()
	ri.Resolution[1] = r.u32()
	r.f32s(ri.ViewToVoxels[:])
	ri.NumClippingPlanes = r.i32()
	r.f32s(ri.ClippingPlanes[:])
	ri.GradShadeScale = r.f32()
	ri.GradShadeShift = r.f32()
	return ri, nil
}

// TransferFunctionInfo is the transfer-function snapshot. The scalar part
// is marshaled into a constant buffer; the tables stay in device memory.
type TransferFunctionInfo struct {
	FunctionSize        int32
	IntensityLow        float32
	IntensityMultiplier float32
	GradientLow         float32
	GradientMultiplier  float32

	ColorR        device.Memory
	ColorG        device.Memory
	ColorB        device.Memory
	Alpha         device.Memory
	GradientAlpha device.Memory
}

// Tables returns the five device tables in R, G, B, alpha, gradient-alpha order.
func (t *TransferFunctionInfo) Tables() [5]device.Memory {
	return [5]device.Memory{t.ColorR, t.ColorG, t.ColorB, t.Alpha, t.GradientAlpha}
}

// Marshal serializes the scalar part into its 32-byte device layout.
func (t *TransferFunctionInfo) Marshal() []byte {
	buf := make([]byte, TransferFunctionInfoSize)
	w := writer{buf: buf}
	w.i32(t.FunctionSize)
	w.f32s(t.IntensityLow, t.IntensityMultiplier, t.GradientLow, t.GradientMultiplier)
	return buf
}

// UnmarshalTransferFunctionInfo decodes the scalar part of a
// transfer-function snapshot. Table handles are left nil.
func UnmarshalTransferFunctionInfo(b []byte) (TransferFunctionInfo, error) {
	var t TransferFunctionInfo
	if len(b) < TransferFunctionInfoSize {
		return t, fmt.Errorf("%w: transfer function info needs %d bytes, got %d",
			ErrShortSnapshot, TransferFunctionInfoSize, len(b))
	}
	r := reader{buf: b}
	t.FunctionSize = r.i32()
	t.IntensityLow = r.f32()
	t.IntensityMultiplier = r.f32()
	t.GradientLow = r.f32()
	t.GradientMultiplier = r.f32()
	return t, nil
}

// OutputImageInfo is the output snapshot: the resolution and the device
// buffers of the current allocation.
type OutputImageInfo struct {
	Resolution [2]uint32

	// Output holds Resolution[0]*Resolution[1] RGBA8 texels.
	Output device.Memory

	// Per-pixel ray setup, one float32 per pixel each.
	RayStartX, RayStartY, RayStartZ device.Memory
	RayIncX, RayIncY, RayIncZ       device.Memory
	NumSteps                        device.Memory
}

// Pixels returns the number of output pixels.
func (o *OutputImageInfo) Pixels() int {
	return int(o.Resolution[0]) * int(o.Resolution[1])
}

// writer appends little-endian values to a fixed buffer.
type writer struct {
	buf []byte
	off int
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) f32s(vs ...float32) {
	for _, v := range vs {
		w.u32(math.Float32bits(v))
	}
}

// reader consumes little-endian values from a buffer.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) i32() int32   { return int32(r.u32()) }
func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) f32s(dst []float32) {
	for i := range dst {
		dst[i] = r.f32()
	}
}
