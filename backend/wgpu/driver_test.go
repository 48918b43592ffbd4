package wgpu

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/volren/device"
)

// newNoopDriver opens the driver on the noop backend. The noop backend
// accepts every call but executes nothing, so these tests cover
// bookkeeping and validation only.
func newNoopDriver(t *testing.T, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithBackend(&noop.API{}), WithShaderFill(false)}, opts...)
	d, err := Open(opts...)
	if err != nil {
		t.Fatalf("Open(noop): %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{DriverName, SoftwareDriverName} {
		if !device.IsDriverRegistered(name) {
			t.Errorf("driver %q not registered", name)
		}
	}
}

func TestOpenNoop(t *testing.T) {
	d := newNoopDriver(t)
	if d.DeviceCount() < 1 {
		t.Fatalf("DeviceCount() = %d, want >= 1", d.DeviceCount())
	}
	info, err := d.DeviceInfo(0)
	if err != nil {
		t.Fatal(err)
	}
	if info.Backend != DriverName || info.Index != 0 {
		t.Errorf("DeviceInfo(0) = %+v", info)
	}
	if info.MemoryBytes != device.DefaultDeviceMemoryMB*1024*1024 {
		t.Errorf("MemoryBytes = %d", info.MemoryBytes)
	}
	if _, err := d.DeviceInfo(d.DeviceCount()); !errors.Is(err, device.ErrInvalidDevice) {
		t.Errorf("DeviceInfo(out of range) = %v, want ErrInvalidDevice", err)
	}
	if d.ShaderFill(0) {
		t.Error("ShaderFill(0) = true with the shader path disabled")
	}
}

func TestOpenMaxDevices(t *testing.T) {
	d := newNoopDriver(t, WithMaxDevices(1))
	if d.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", d.DeviceCount())
	}
}

func TestAllocBudget(t *testing.T) {
	d := newNoopDriver(t, WithDeviceMemory(1024))

	m, err := d.Alloc(0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if m.Size() != 5 || m.Device() != 0 {
		t.Errorf("memory = size %d device %d", m.Size(), m.Device())
	}
	st, _ := d.MemoryStats(0)
	if st.UsedBytes != 8 {
		t.Errorf("UsedBytes = %d, want 8 (padded to words)", st.UsedBytes)
	}

	if _, err := d.Alloc(0, 1020); !errors.Is(err, device.ErrMemoryBudgetExceeded) {
		t.Errorf("Alloc over budget = %v, want ErrMemoryBudgetExceeded", err)
	}
	if err := d.Free(m); err != nil {
		t.Fatal(err)
	}
	if err := d.Free(m); !errors.Is(err, device.ErrMemoryFreed) {
		t.Errorf("second Free = %v, want ErrMemoryFreed", err)
	}
	big, err := d.Alloc(0, 1024)
	if err != nil {
		t.Fatalf("Alloc after Free: %v", err)
	}
	_ = d.Free(big)
	if st, _ := d.MemoryStats(0); st.UsedBytes != 0 {
		t.Errorf("UsedBytes after frees = %d", st.UsedBytes)
	}
}

func TestAllocInvalid(t *testing.T) {
	d := newNoopDriver(t)
	tests := []struct {
		name string
		dev  int
		size int
		want error
	}{
		{"negative device", -1, 16, device.ErrInvalidDevice},
		{"device out of range", d.DeviceCount(), 16, device.ErrInvalidDevice},
		{"zero size", 0, 0, device.ErrOutOfRange},
		{"negative size", 0, -4, device.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Alloc(tt.dev, tt.size); !errors.Is(err, tt.want) {
				t.Errorf("Alloc(%d, %d) = %v, want %v", tt.dev, tt.size, err, tt.want)
			}
		})
	}
}

func TestStreamLifecycle(t *testing.T) {
	d := newNoopDriver(t)
	h, err := d.CreateStream(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SynchronizeStream(h); err != nil {
		t.Errorf("SynchronizeStream on idle stream = %v", err)
	}
	if err := d.DestroyStream(h); err != nil {
		t.Fatal(err)
	}
	if err := d.DestroyStream(h); !errors.Is(err, device.ErrUnknownStream) {
		t.Errorf("second DestroyStream = %v, want ErrUnknownStream", err)
	}
	if err := d.SynchronizeStream(h); !errors.Is(err, device.ErrUnknownStream) {
		t.Errorf("SynchronizeStream(destroyed) = %v, want ErrUnknownStream", err)
	}
	if _, err := d.CreateStream(-1); !errors.Is(err, device.ErrInvalidDevice) {
		t.Errorf("CreateStream(-1) = %v, want ErrInvalidDevice", err)
	}

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := d.CreateStream(0); !errors.Is(err, device.ErrDriverClosed) {
		t.Errorf("CreateStream after Close = %v, want ErrDriverClosed", err)
	}
}

func TestCopyValidation(t *testing.T) {
	d := newNoopDriver(t)
	h, err := d.CreateStream(0)
	if err != nil {
		t.Fatal(err)
	}
	m, err := d.Alloc(0, 16)
	if err != nil {
		t.Fatal(err)
	}

	sw := device.NewSoftwareDriver()
	defer sw.Close()
	foreign, err := sw.Alloc(0, 16)
	if err != nil {
		t.Fatal(err)
	}

	freed, err := d.Alloc(0, 16)
	if err != nil {
		t.Fatal(err)
	}
	_ = d.Free(freed)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"upload past end", func() error { return d.Upload(h, m, 12, make([]byte, 8)) }, device.ErrOutOfRange},
		{"upload negative offset", func() error { return d.Upload(h, m, -4, make([]byte, 4)) }, device.ErrOutOfRange},
		{"download past end", func() error { return d.Download(h, make([]byte, 32), m, 0) }, device.ErrOutOfRange},
		{"foreign upload", func() error { return d.Upload(h, foreign, 0, make([]byte, 4)) }, device.ErrForeignMemory},
		{"foreign fill", func() error { return d.Fill(h, foreign, 1) }, device.ErrForeignMemory},
		{"freed upload", func() error { return d.Upload(h, freed, 0, make([]byte, 4)) }, device.ErrMemoryFreed},
		{"foreign free", func() error { return d.Free(foreign) }, device.ErrForeignMemory},
		{"unknown stream", func() error { return d.Upload(h+100, m, 0, make([]byte, 4)) }, device.ErrUnknownStream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAlignedUploadAndFillUseQueueWrites(t *testing.T) {
	d := newNoopDriver(t)
	h, err := d.CreateStream(0)
	if err != nil {
		t.Fatal(err)
	}
	m, err := d.Alloc(0, 64)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Upload(h, m, 16, make([]byte, 32)); err != nil {
		t.Fatal(err)
	}
	if err := d.Fill(h, m, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if err := d.SynchronizeStream(h); err != nil {
		t.Fatal(err)
	}
	st := d.Stats()
	if st.Submits != 0 {
		t.Errorf("Submits = %d, want 0 for queue writes", st.Submits)
	}
	if st.WriteFills != 1 || st.ShaderFills != 0 {
		t.Errorf("fills = %d write, %d shader", st.WriteFills, st.ShaderFills)
	}
}

func TestLaunchErrorReportedOnSynchronize(t *testing.T) {
	d := newNoopDriver(t)
	h, err := d.CreateStream(0)
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("kernel failed")
	ran := false
	if err := d.Launch(h, func(device.Access) error {
		ran = true
		return boom
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.SynchronizeStream(h); !errors.Is(err, boom) {
		t.Errorf("SynchronizeStream = %v, want launch error", err)
	}
	if !ran {
		t.Error("launch did not run")
	}
	if err := d.SynchronizeStream(h); err != nil {
		t.Errorf("error not cleared: %v", err)
	}
	if d.Stats().Launches != 1 {
		t.Errorf("Launches = %d, want 1", d.Stats().Launches)
	}
}

func TestRegistryOverNoop(t *testing.T) {
	d := newNoopDriver(t)
	reg := device.NewRegistry(d)
	defer reg.Close()

	obj := reg.NewObject("object")
	if !reg.AcquireDevice(obj, 0) {
		t.Fatal("AcquireDevice(0) failed")
	}
	s, ok := reg.AcquireStream(obj, 0)
	if !ok {
		t.Fatal("AcquireStream failed")
	}
	if err := reg.WaitStream(s); err != nil {
		t.Errorf("WaitStream = %v", err)
	}
	if !reg.ReleaseStream(obj, s) || !reg.ReleaseDevice(obj, 0) {
		t.Error("release failed")
	}
}

// Provider mocks, shaped like a window application's device provider.
type mockDevice struct{}

func (mockDevice) Poll(bool) {}
func (mockDevice) Destroy()  {}

type mockQueue struct{}

type mockAdapter struct{}

type mockProvider struct{}

func (mockProvider) Device() gpucontext.Device             { return mockDevice{} }
func (mockProvider) Queue() gpucontext.Queue               { return mockQueue{} }
func (mockProvider) Adapter() gpucontext.Adapter           { return mockAdapter{} }
func (mockProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (mockProvider) AdapterInfo() gpucontext.AdapterInfo   { return gpucontext.AdapterInfo{} }

type halMockProvider struct {
	mockProvider
	dev   hal.Device
	queue hal.Queue
}

func (p halMockProvider) HalDevice() any { return p.dev }
func (p halMockProvider) HalQueue() any  { return p.queue }

func TestFromProvider(t *testing.T) {
	if _, err := FromProvider(mockProvider{}); !errors.Is(err, ErrProvider) {
		t.Errorf("FromProvider(no hal) = %v, want ErrProvider", err)
	}
	if _, err := FromProvider(halMockProvider{}); !errors.Is(err, ErrProvider) {
		t.Errorf("FromProvider(nil hal device) = %v, want ErrProvider", err)
	}

	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer instance.Destroy()
	adapters := instance.EnumerateAdapters(nil)
	od, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	defer od.Device.Destroy()

	d, err := FromProvider(halMockProvider{dev: od.Device, queue: od.Queue}, WithShaderFill(false))
	if err != nil {
		t.Fatal(err)
	}
	if d.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", d.DeviceCount())
	}
	m, err := d.Alloc(0, 16)
	if err != nil {
		t.Fatal(err)
	}
	_ = d.Free(m)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
}
