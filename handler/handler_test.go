package handler

import (
	"errors"
	"testing"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/host"
)

func newTestRegistry(t *testing.T, devices int) (*device.Registry, *device.SoftwareDriver) {
	t.Helper()
	drv := device.NewSoftwareDriver(device.WithDevices(devices))
	reg := device.NewRegistry(drv)
	t.Cleanup(func() {
		_ = reg.Close()
		_ = drv.Close()
	})
	return reg, drv
}

func newTestImage(t *testing.T) *host.ImageData {
	t.Helper()
	data := make([]uint8, 4*4*4)
	for i := range data {
		data[i] = uint8(10 + i%41) // range [10, 50]
	}
	im, err := host.NewImage([3]int{4, 4, 4}, [3]float64{1, 1, 2}, data)
	if err != nil {
		t.Fatal(err)
	}
	return im
}

// download copies m to the host after draining the stream of r.
func download(t *testing.T, r *device.Resource, m device.Memory) []byte {
	t.Helper()
	out := make([]byte, m.Size())
	if err := r.Download(out, m, 0); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if err := r.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	return out
}

func TestVolumeInfoRoundTrip(t *testing.T) {
	in := VolumeInfo{
		VolumeSize:        [3]int32{64, 32, 16},
		Bounds:            [6]float32{0, 63, 0, 31, 0, 15},
		SpacingReciprocal: [3]float32{1, 0.5, 0.25},
		Spacing:           [3]float32{1, 2, 4},
		MinSpacing:        1,
		Ambient:           0.1,
		Diffuse:           0.7,
		Specular:          [2]float32{0.2, 10},
	}
	b := in.Marshal()
	if len(b) != VolumeInfoSize {
		t.Fatalf("len(Marshal()) = %d, want %d", len(b), VolumeInfoSize)
	}
	out, err := UnmarshalVolumeInfo(b)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if _, err := UnmarshalVolumeInfo(b[:10]); !errors.Is(err, ErrShortSnapshot) {
		t.Errorf("short decode err = %v, want ErrShortSnapshot", err)
	}
}

func TestRendererInfoLayout(t *testing.T) {
	in := RendererInfo{Resolution: [2]uint32{256, 304}, NumClippingPlanes: 2, GradShadeScale: 0.25, GradShadeShift: 0.75}
	in.ClippingPlanes[7] = -3
	in.ViewToVoxels[15] = 1
	b := in.Marshal()
	if len(b) != RendererInfoSize {
		t.Fatalf("len(Marshal()) = %d, want %d", len(b), RendererInfoSize)
	}
	// Resolution leads, little-endian.
	if b[0] != 0 || b[1] != 1 || b[4] != 0x30 || b[5] != 1 {
		t.Errorf("resolution bytes = % x", b[:8])
	}
	out, err := UnmarshalRendererInfo(b)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestTransferFunctionInfoScalars(t *testing.T) {
	in := TransferFunctionInfo{FunctionSize: FunctionSize, IntensityLow: 10, IntensityMultiplier: 0.025, GradientMultiplier: 1}
	out, err := UnmarshalTransferFunctionInfo(in.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if out.FunctionSize != FunctionSize || out.IntensityLow != 10 || out.IntensityMultiplier != 0.025 ||
		out.GradientLow != 0 || out.GradientMultiplier != 1 {
		t.Errorf("round trip = %+v", out)
	}
}
