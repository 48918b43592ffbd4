package handler

import (
	"errors"
	"math"
	"testing"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/host"
)

func newTestCurves() (*host.ColorTransferFunction, *host.PiecewiseFunction) {
	color := host.NewColorTransferFunction(
		host.ColorPoint{X: 0, R: 1, G: 0, B: 0},
		host.ColorPoint{X: 100, R: 0, G: 0, B: 1},
	)
	opacity := host.NewPiecewiseFunction(host.ControlPoint{X: 0, Y: 0}, host.ControlPoint{X: 100, Y: 1})
	return color, opacity
}

func TestTransferFunctionUpdateRequiresCurves(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	h, err := NewTransferFunctionHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	color, _ := newTestCurves()
	h.SetColorCurve(color)
	uploaded, err := h.Update()
	if err != nil || uploaded {
		t.Errorf("Update() without opacity = %v, %v, want false, nil", uploaded, err)
	}
	if h.Uploads() != 0 {
		t.Errorf("Uploads() = %d, want 0", h.Uploads())
	}
}

func TestTransferFunctionUpdateIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	h, err := NewTransferFunctionHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	color, opacity := newTestCurves()
	h.SetColorCurve(color)
	h.SetOpacityCurve(opacity)

	for i, want := range []bool{true, false, false} {
		uploaded, err := h.Update()
		if err != nil {
			t.Fatalf("Update() #%d: %v", i, err)
		}
		if uploaded != want {
			t.Errorf("Update() #%d = %v, want %v", i, uploaded, want)
		}
	}
	if got := h.LastModified(); got != max(color.MTime(), opacity.MTime()) {
		t.Errorf("LastModified() = %d, want max of curve timestamps", got)
	}

	opacity.AddPoint(50, 0.2)
	if uploaded, _ := h.Update(); !uploaded {
		t.Error("Update() after opacity edit did not upload")
	}
	if h.Uploads() != 2 {
		t.Errorf("Uploads() = %d, want 2", h.Uploads())
	}
}

func TestTransferFunctionResettingSameCurvesSkipsRebuild(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	h, err := NewTransferFunctionHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	color, opacity := newTestCurves()
	gradient := host.NewPiecewiseFunction(host.ControlPoint{X: 0, Y: 1}, host.ControlPoint{X: 1, Y: 1})
	im := newTestImage(t)
	h.SetColorCurve(color)
	h.SetOpacityCurve(opacity)
	h.SetGradientOpacityCurve(gradient)
	h.SetImage(im)
	if uploaded, err := h.Update(); err != nil || !uploaded {
		t.Fatalf("first Update() = %v, %v", uploaded, err)
	}

	tests := []struct {
		name string
		set  func()
	}{
		{"color", func() { h.SetColorCurve(color) }},
		{"opacity", func() { h.SetOpacityCurve(opacity) }},
		{"gradient", func() { h.SetGradientOpacityCurve(gradient) }},
		{"image", func() { h.SetImage(im) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.set()
			if uploaded, err := h.Update(); err != nil || uploaded {
				t.Errorf("Update() = %v, %v, want false, nil", uploaded, err)
			}
			if h.Uploads() != 1 {
				t.Errorf("Uploads() = %d, want 1", h.Uploads())
			}
		})
	}

	other, _ := newTestCurves()
	h.SetColorCurve(other)
	if uploaded, err := h.Update(); err != nil || !uploaded {
		t.Errorf("Update() after a different curve = %v, %v, want true, nil", uploaded, err)
	}
}

func TestTransferFunctionRanges(t *testing.T) {
	color, opacity := newTestCurves()
	im := newTestImage(t)

	tests := []struct {
		name     string
		opacity  *host.PiecewiseFunction
		image    host.Image
		gradient *host.PiecewiseFunction
		low      float32
		mul      float32
		glow     float32
		gmul     float32
	}{
		{"curve range", opacity, nil, nil, 0, 0.01, 0, 1},
		{"clamped to image", opacity, im, nil, 10, 1.0 / 40, 0, 1},
		{
			"degenerate", host.NewPiecewiseFunction(host.ControlPoint{X: 5, Y: 1}), nil, nil,
			5, 1 / rangeEpsilon, 0, 1,
		},
		{
			"gradient curve", opacity, nil,
			host.NewPiecewiseFunction(host.ControlPoint{X: 2, Y: 0}, host.ControlPoint{X: 6, Y: 1}),
			0, 0.01, 2, 0.25,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(t, 1)
			h, err := NewTransferFunctionHandler(reg)
			if err != nil {
				t.Fatal(err)
			}
			defer h.Release()

			h.SetColorCurve(color)
			h.SetOpacityCurve(tt.opacity)
			if tt.image != nil {
				h.SetImage(tt.image)
			}
			if tt.gradient != nil {
				h.SetGradientOpacityCurve(tt.gradient)
			}
			if _, err := h.Update(); err != nil {
				t.Fatal(err)
			}
			info := h.Info()
			if info.FunctionSize != FunctionSize {
				t.Errorf("FunctionSize = %d", info.FunctionSize)
			}
			if info.IntensityLow != tt.low || !near(info.IntensityMultiplier, tt.mul) {
				t.Errorf("intensity = %v, %v, want %v, %v", info.IntensityLow, info.IntensityMultiplier, tt.low, tt.mul)
			}
			if info.GradientLow != tt.glow || !near(info.GradientMultiplier, tt.gmul) {
				t.Errorf("gradient = %v, %v, want %v, %v", info.GradientLow, info.GradientMultiplier, tt.glow, tt.gmul)
			}
		})
	}
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) <= 1e-6*math.Max(1, math.Abs(float64(b)))
}

func TestTransferFunctionTables(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	h, err := NewTransferFunctionHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	color, opacity := newTestCurves()
	h.SetColorCurve(color)
	h.SetOpacityCurve(opacity)
	if _, err := h.Update(); err != nil {
		t.Fatal(err)
	}

	info := h.Info()
	r := device.Float32s(download(t, h.Resource, info.ColorR))
	b := device.Float32s(download(t, h.Resource, info.ColorB))
	a := device.Float32s(download(t, h.Resource, info.Alpha))
	ga := device.Float32s(download(t, h.Resource, info.GradientAlpha))

	if len(r) != FunctionSize {
		t.Fatalf("table length = %d, want %d", len(r), FunctionSize)
	}
	if r[0] != 1 || b[0] != 0 || r[FunctionSize-1] != 0 || b[FunctionSize-1] != 1 {
		t.Errorf("color ends = r(%v, %v) b(%v, %v)", r[0], r[FunctionSize-1], b[0], b[FunctionSize-1])
	}
	if a[0] != 0 || a[FunctionSize-1] != 1 {
		t.Errorf("alpha ends = %v, %v", a[0], a[FunctionSize-1])
	}
	for i, v := range ga {
		if v != 1 {
			t.Fatalf("gradient alpha[%d] = %v, want 1", i, v)
		}
	}

	got, err := UnmarshalTransferFunctionInfo(download(t, h.Resource, h.Constant()))
	if err != nil {
		t.Fatal(err)
	}
	if got.IntensityMultiplier != info.IntensityMultiplier {
		t.Errorf("constant multiplier = %v, want %v", got.IntensityMultiplier, info.IntensityMultiplier)
	}
}

func TestTransferFunctionAllocationFailureKeepsSnapshot(t *testing.T) {
	reg, drv := newTestRegistry(t, 1)
	h, err := NewTransferFunctionHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	color, opacity := newTestCurves()
	h.SetColorCurve(color)
	h.SetOpacityCurve(opacity)

	if err := drv.SetDeviceMemory(0, 3*FunctionSize*4); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Update(); !errors.Is(err, device.ErrMemoryBudgetExceeded) {
		t.Fatalf("Update() err = %v, want ErrMemoryBudgetExceeded", err)
	}
	if h.Uploads() != 0 || h.Info().Alpha != nil {
		t.Error("failed Update changed the snapshot")
	}
	if st, _ := drv.MemoryStats(0); st.UsedBytes != 0 {
		t.Errorf("UsedBytes after failure = %d, want 0", st.UsedBytes)
	}

	if err := drv.SetDeviceMemory(0, 1<<20); err != nil {
		t.Fatal(err)
	}
	if uploaded, err := h.Update(); err != nil || !uploaded {
		t.Errorf("Update() after budget raise = %v, %v", uploaded, err)
	}
}

func TestTransferFunctionReplicateAndDeviceSwitch(t *testing.T) {
	reg, _ := newTestRegistry(t, 2)
	src, err := NewTransferFunctionHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release()
	dst, err := NewTransferFunctionHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Release()

	color, opacity := newTestCurves()
	src.SetColorCurve(color)
	src.SetOpacityCurve(opacity)
	dst.Replicate(src)
	if _, err := dst.Update(); err != nil {
		t.Fatal(err)
	}

	for _, preserve := range []bool{true, false} {
		before := dst.Uploads()
		target := 1 - dst.Device()
		if err := dst.SetDevice(target, preserve); err != nil {
			t.Fatalf("SetDevice(%d, %v): %v", target, preserve, err)
		}
		info := dst.Info()
		if info.Alpha == nil || info.Alpha.Device() != target {
			t.Fatalf("tables not rebuilt on device %d", target)
		}
		a := device.Float32s(download(t, dst.Resource, info.Alpha))
		if a[FunctionSize-1] != 1 {
			t.Errorf("alpha after move = %v, want 1", a[FunctionSize-1])
		}
		// Preserving re-uploads host tables without resampling.
		if resampled := dst.Uploads() > before; resampled == preserve {
			t.Errorf("preserve=%v resampled=%v", preserve, resampled)
		}
	}
}
