package device

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
)

func TestSoftwareDriverInfo(t *testing.T) {
	drv := NewSoftwareDriver(WithDevices(2), WithDeviceMemory(1<<20))
	defer drv.Close()

	info, err := drv.DeviceInfo(1)
	if err != nil {
		t.Fatal(err)
	}
	if info.Index != 1 || info.Type != DeviceTypeCPU || info.Backend != DriverSoftware {
		t.Errorf("DeviceInfo(1) = %+v", info)
	}
	if info.MemoryBytes != 1<<20 {
		t.Errorf("MemoryBytes = %d, want %d", info.MemoryBytes, 1<<20)
	}
	if _, err := drv.DeviceInfo(2); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("DeviceInfo(2) = %v, want ErrInvalidDevice", err)
	}
}

func TestSoftwareDriverStreamFIFO(t *testing.T) {
	drv := NewSoftwareDriver()
	defer drv.Close()

	s, err := drv.CreateStream(0)
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 200; i++ {
		if err := drv.Launch(s, func(Access) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := drv.SynchronizeStream(s); err != nil {
		t.Fatal(err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
	if len(order) != 200 {
		t.Errorf("len(order) = %d, want 200", len(order))
	}
}

func TestSoftwareDriverSynchronizeReportsError(t *testing.T) {
	drv := NewSoftwareDriver()
	defer drv.Close()
	s, _ := drv.CreateStream(0)

	boom := errors.New("kernel fault")
	_ = drv.Launch(s, func(Access) error { return boom })
	_ = drv.Launch(s, func(Access) error { return errors.New("second") })

	if err := drv.SynchronizeStream(s); !errors.Is(err, boom) {
		t.Errorf("SynchronizeStream = %v, want first error", err)
	}
	if err := drv.SynchronizeStream(s); err != nil {
		t.Errorf("second SynchronizeStream = %v, want nil", err)
	}
}

func TestSoftwareDriverFillAndAccess(t *testing.T) {
	drv := NewSoftwareDriver()
	defer drv.Close()
	s, _ := drv.CreateStream(0)

	m, err := drv.Alloc(0, 32)
	if err != nil {
		t.Fatal(err)
	}
	_ = drv.Fill(s, m, 0x3f800000)

	var got []float32
	_ = drv.Launch(s, func(a Access) error {
		b, err := a.Bytes(m)
		if err != nil {
			return err
		}
		got = append(got, Float32s(b)...)
		return nil
	})
	if err := drv.SynchronizeStream(s); err != nil {
		t.Fatal(err)
	}
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	for i, v := range got {
		if v != 1 {
			t.Errorf("got[%d] = %v, want 1", i, v)
		}
	}
}

func TestSoftwareDriverUploadCopiesSource(t *testing.T) {
	drv := NewSoftwareDriver()
	defer drv.Close()
	s, _ := drv.CreateStream(0)
	m, _ := drv.Alloc(0, 4)

	src := make([]byte, 4)
	binary.LittleEndian.PutUint32(src, 7)
	_ = drv.Upload(s, m, 0, src)
	binary.LittleEndian.PutUint32(src, 9)

	out := make([]byte, 4)
	_ = drv.Download(s, out, m, 0)
	if err := drv.SynchronizeStream(s); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(out); got != 7 {
		t.Errorf("downloaded %d, want 7", got)
	}
}

func TestSoftwareDriverRangeChecks(t *testing.T) {
	drv := NewSoftwareDriver()
	defer drv.Close()
	s, _ := drv.CreateStream(0)
	m, _ := drv.Alloc(0, 8)

	tests := []struct {
		name string
		op   func() error
	}{
		{"upload past end", func() error { return drv.Upload(s, m, 4, make([]byte, 8)) }},
		{"negative offset", func() error { return drv.Upload(s, m, -1, make([]byte, 1)) }},
		{"download past end", func() error { return drv.Download(s, make([]byte, 9), m, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("err = %v, want ErrOutOfRange", err)
			}
		})
	}
}

func TestSoftwareDriverCrossDevice(t *testing.T) {
	drv := NewSoftwareDriver(WithDevices(2))
	defer drv.Close()
	s, _ := drv.CreateStream(0)
	m, _ := drv.Alloc(1, 8)

	if err := drv.Upload(s, m, 0, []byte{1}); !errors.Is(err, ErrForeignMemory) {
		t.Errorf("cross-device Upload = %v, want ErrForeignMemory", err)
	}

	other := NewSoftwareDriver()
	defer other.Close()
	if err := other.Free(m); !errors.Is(err, ErrForeignMemory) {
		t.Errorf("foreign Free = %v, want ErrForeignMemory", err)
	}
}

func TestSoftwareDriverBudget(t *testing.T) {
	drv := NewSoftwareDriver(WithDeviceMemory(100))
	defer drv.Close()

	a, err := drv.Alloc(0, 60)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := drv.Alloc(0, 60); !errors.Is(err, ErrMemoryBudgetExceeded) {
		t.Errorf("Alloc over budget = %v, want ErrMemoryBudgetExceeded", err)
	}
	if err := drv.Free(a); err != nil {
		t.Fatal(err)
	}
	if err := drv.Free(a); !errors.Is(err, ErrMemoryFreed) {
		t.Errorf("double Free = %v, want ErrMemoryFreed", err)
	}
	if _, err := drv.Alloc(0, 60); err != nil {
		t.Errorf("Alloc after Free = %v", err)
	}
}

func TestSoftwareDriverFreedMemoryRejected(t *testing.T) {
	drv := NewSoftwareDriver()
	defer drv.Close()
	s, _ := drv.CreateStream(0)
	m, _ := drv.Alloc(0, 8)
	_ = drv.Free(m)

	if err := drv.Fill(s, m, 0); !errors.Is(err, ErrMemoryFreed) {
		t.Errorf("Fill on freed memory = %v, want ErrMemoryFreed", err)
	}
}

func TestSoftwareDriverDestroyStream(t *testing.T) {
	drv := NewSoftwareDriver()
	defer drv.Close()
	s, _ := drv.CreateStream(0)

	if err := drv.DestroyStream(s); err != nil {
		t.Fatal(err)
	}
	if err := drv.DestroyStream(s); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("second DestroyStream = %v, want ErrUnknownStream", err)
	}
	if err := drv.Launch(s, func(Access) error { return nil }); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("Launch on destroyed stream = %v, want ErrUnknownStream", err)
	}
}

func TestSoftwareDriverClose(t *testing.T) {
	drv := NewSoftwareDriver()
	for i := 0; i < 3; i++ {
		if _, err := drv.CreateStream(0); err != nil {
			t.Fatal(err)
		}
	}
	if err := drv.Close(); err != nil {
		t.Fatal(err)
	}
	if got := drv.LiveStreams(); got != 0 {
		t.Errorf("LiveStreams() = %d, want 0", got)
	}
	if _, err := drv.CreateStream(0); !errors.Is(err, ErrDriverClosed) {
		t.Errorf("CreateStream after Close = %v, want ErrDriverClosed", err)
	}
}

func TestMemoryBudget(t *testing.T) {
	b := NewMemoryBudget(1000)

	if err := b.Reserve(400); err != nil {
		t.Fatal(err)
	}
	if err := b.Reserve(400); err != nil {
		t.Fatal(err)
	}
	if err := b.Reserve(400); !errors.Is(err, ErrMemoryBudgetExceeded) {
		t.Errorf("Reserve over budget = %v", err)
	}

	st := b.Stats()
	if st.UsedBytes != 800 || st.AvailableBytes != 200 || st.Allocations != 2 || st.Failures != 1 {
		t.Errorf("Stats = %+v", st)
	}
	if st.Utilization != 0.8 {
		t.Errorf("Utilization = %v, want 0.8", st.Utilization)
	}

	b.SetBudget(500)
	if err := b.Reserve(1); !errors.Is(err, ErrMemoryBudgetExceeded) {
		t.Errorf("Reserve after shrinking budget = %v", err)
	}
	b.Release(400)
	b.Release(400)
	st = b.Stats()
	if st.UsedBytes != 0 || st.PeakBytes != 800 {
		t.Errorf("Stats after release = %+v", st)
	}
	if st.String() == "" {
		t.Error("String() is empty")
	}
}

func TestMemoryBudgetDefault(t *testing.T) {
	b := NewMemoryBudget(0)
	if got := b.Stats().TotalBytes; got != DefaultDeviceMemoryMB*1024*1024 {
		t.Errorf("TotalBytes = %d", got)
	}
}

func TestDriverRegistry(t *testing.T) {
	if !IsDriverRegistered(DriverSoftware) {
		t.Fatal("software driver not registered")
	}

	RegisterDriver("test-empty", func() (Driver, error) {
		return nil, errors.New("unavailable")
	})
	defer UnregisterDriver("test-empty")

	found := false
	for _, name := range AvailableDrivers() {
		if name == "test-empty" {
			found = true
		}
	}
	if !found {
		t.Error("AvailableDrivers() missing test-empty")
	}

	if _, err := OpenDriver("test-empty"); err == nil {
		t.Error("OpenDriver(test-empty) succeeded")
	}
	if _, err := OpenDriver("nope"); !errors.Is(err, ErrDriverNotAvailable) {
		t.Errorf("OpenDriver(nope) = %v, want ErrDriverNotAvailable", err)
	}

	drv, name, err := OpenDefaultDriver()
	if err != nil {
		t.Fatalf("OpenDefaultDriver() = %v", err)
	}
	defer drv.Close()
	if name != DriverSoftware {
		t.Errorf("default driver = %q, want %q", name, DriverSoftware)
	}
}
