package handler

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/host"
)

func TestComputeResolution(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		scale float64
		want  [2]int
	}{
		{"small viewport", 200, 300, 1, [2]int{256, 304}},
		{"aligned up", 1000, 1000, 1, [2]int{1008, 1008}},
		{"already aligned", 1024, 768, 1, [2]int{1024, 768}},
		{"half scale", 1000, 1000, 2, [2]int{512, 512}},
		{"minimum", 10, 10, 1, [2]int{256, 256}},
		{"scale below one", 300, 300, 0.5, [2]int{304, 304}},
		{"NaN scale", 300, 300, math.NaN(), [2]int{304, 304}},
		{"coarse scale hits minimum", 1024, 1024, 8, [2]int{256, 256}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeResolution(tt.w, tt.h, tt.scale); got != tt.want {
				t.Errorf("ComputeResolution(%d, %d, %v) = %v, want %v", tt.w, tt.h, tt.scale, got, tt.want)
			}
		})
	}
}

func TestOutputImageResize(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	h, err := NewOutputImageHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	if uploaded, err := h.Update(); uploaded || err != nil {
		t.Errorf("Update() without viewport = %v, %v", uploaded, err)
	}

	h.SetViewport(200, 300)
	steps := []struct {
		w, h    int
		resized bool
		res     [2]int
	}{
		{200, 300, true, [2]int{256, 304}},
		{200, 300, false, [2]int{256, 304}},
		{210, 290, false, [2]int{256, 304}},
		{1000, 1000, true, [2]int{1008, 1008}},
	}
	for i, s := range steps {
		h.SetViewport(s.w, s.h)
		resized, err := h.Update()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if resized != s.resized || h.Resolution() != s.res {
			t.Errorf("step %d: resized=%v res=%v, want %v %v", i, resized, h.Resolution(), s.resized, s.res)
		}
		info := h.Prepare()
		if info.Resolution != [2]uint32{uint32(s.res[0]), uint32(s.res[1])} {
			t.Errorf("step %d: snapshot resolution = %v", i, info.Resolution)
		}
		if info.Output.Size() != s.res[0]*s.res[1]*4 || info.NumSteps.Size() != s.res[0]*s.res[1]*4 {
			t.Errorf("step %d: buffer sizes = %d, %d", i, info.Output.Size(), info.NumSteps.Size())
		}
		if len(h.Mirror()) != s.res[0]*s.res[1]*4 {
			t.Errorf("step %d: mirror size = %d", i, len(h.Mirror()))
		}
	}
	if h.Allocations() != 2 {
		t.Errorf("Allocations() = %d, want 2", h.Allocations())
	}
}

func TestOutputImageScaleFactor(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	h, err := NewOutputImageHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	if err := h.SetScaleFactor(math.Inf(1)); !errors.Is(err, ErrInvalidScale) {
		t.Errorf("SetScaleFactor(Inf) = %v, want ErrInvalidScale", err)
	}
	if err := h.SetScaleFactor(0.25); err != nil || h.ScaleFactor() != 1 {
		t.Errorf("SetScaleFactor(0.25) = %v, scale %v, want clamp to 1", err, h.ScaleFactor())
	}
	h.SetViewport(1000, 1000)
	if err := h.SetScaleFactor(2); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Update(); err != nil {
		t.Fatal(err)
	}
	if h.Resolution() != [2]int{512, 512} {
		t.Errorf("Resolution() = %v, want [512 512]", h.Resolution())
	}
}

func TestOutputImageAllocationFailureRollsBack(t *testing.T) {
	reg, drv := newTestRegistry(t, 1)
	h, err := NewOutputImageHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	h.SetViewport(200, 300)
	if _, err := h.Update(); err != nil {
		t.Fatal(err)
	}
	prev := h.Prepare()
	before, _ := drv.MemoryStats(0)

	if err := drv.SetDeviceMemory(0, before.UsedBytes+1024); err != nil {
		t.Fatal(err)
	}
	h.SetViewport(1000, 1000)
	if _, err := h.Update(); !errors.Is(err, device.ErrMemoryBudgetExceeded) {
		t.Fatalf("Update() err = %v, want ErrMemoryBudgetExceeded", err)
	}
	info := h.Prepare()
	if h.Resolution() != [2]int{256, 304} || info.Resolution != prev.Resolution {
		t.Errorf("failed resize changed resolution: %v", h.Resolution())
	}
	if info.Output == nil || info.Output.Size() != prev.Output.Size() {
		t.Error("failed resize left no output buffer of the previous size")
	}
	if after, _ := drv.MemoryStats(0); after.UsedBytes != before.UsedBytes {
		t.Errorf("UsedBytes = %d, want %d", after.UsedBytes, before.UsedBytes)
	}

	// The restored buffers still render at the old size.
	h.SetViewport(200, 300)
	if resized, err := h.Update(); err != nil || resized {
		t.Errorf("Update() at the old viewport = %v, %v, want false, nil", resized, err)
	}
}

func TestOutputImageResizeFreesFirstUnderTightBudget(t *testing.T) {
	reg, drv := newTestRegistry(t, 1)
	h, err := NewOutputImageHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	h.SetViewport(200, 300)
	if _, err := h.Update(); err != nil {
		t.Fatal(err)
	}
	old, _ := drv.MemoryStats(0)

	// Room for the new set alone, not for both at once.
	next := uint64(8 * 512 * 512 * 4)
	if err := drv.SetDeviceMemory(0, next+old.UsedBytes/2); err != nil {
		t.Fatal(err)
	}
	h.SetViewport(500, 500)
	resized, err := h.Update()
	if err != nil || !resized {
		t.Fatalf("Update() = %v, %v, want true, nil", resized, err)
	}
	if h.Resolution() != [2]int{512, 512} {
		t.Errorf("Resolution() = %v, want [512 512]", h.Resolution())
	}
	if st, _ := drv.MemoryStats(0); st.UsedBytes != next {
		t.Errorf("UsedBytes = %d, want %d", st.UsedBytes, next)
	}
	if h.Allocations() != 2 {
		t.Errorf("Allocations() = %d, want 2", h.Allocations())
	}
}

func TestOutputImageDisplay(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	h, err := NewOutputImageHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	if err := h.Display(nil); !errors.Is(err, ErrNoOutput) {
		t.Errorf("Display() before Update = %v, want ErrNoOutput", err)
	}

	h.SetViewport(200, 300)
	if _, err := h.Update(); err != nil {
		t.Fatal(err)
	}
	const pixel = 0xff204080
	if err := h.Fill(h.Prepare().Output, pixel); err != nil {
		t.Fatal(err)
	}

	var got host.Frame
	err = h.Display(host.PresenterFunc(func(f host.Frame) error {
		got = f
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got.Width != 256 || got.Height != 304 || got.ViewWidth != 200 || got.ViewHeight != 300 {
		t.Errorf("frame = %dx%d view %dx%d", got.Width, got.Height, got.ViewWidth, got.ViewHeight)
	}
	if err := got.Validate(); err != nil {
		t.Error(err)
	}
	last := len(got.Pixels) - 4
	if v := binary.LittleEndian.Uint32(got.Pixels[last:]); v != pixel {
		t.Errorf("last pixel = %#x, want %#x", v, uint32(pixel))
	}
}

func TestOutputImageDisplaySkipsFailedWork(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	h, err := NewOutputImageHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	h.SetViewport(256, 256)
	if _, err := h.Update(); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("kernel failed")
	if err := h.Launch(func(device.Access) error { return boom }); err != nil {
		t.Fatal(err)
	}
	presented := false
	err = h.Display(host.PresenterFunc(func(host.Frame) error {
		presented = true
		return nil
	}))
	if !errors.Is(err, boom) {
		t.Errorf("Display() = %v, want %v", err, boom)
	}
	if presented {
		t.Error("frame presented after failed work")
	}
}

func TestOutputImageMovesWithDevice(t *testing.T) {
	reg, drv := newTestRegistry(t, 2)
	h, err := NewOutputImageHandler(reg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	h.SetViewport(200, 300)
	if _, err := h.Update(); err != nil {
		t.Fatal(err)
	}
	if err := h.SetDevice(1, true); err != nil {
		t.Fatal(err)
	}
	if d := h.Prepare().Output.Device(); d != 1 {
		t.Errorf("output on device %d, want 1", d)
	}
	if h.Resolution() != [2]int{256, 304} {
		t.Errorf("Resolution() = %v", h.Resolution())
	}
	if st, _ := drv.MemoryStats(0); st.UsedBytes != 0 {
		t.Errorf("device 0 still holds %d bytes", st.UsedBytes)
	}
}
