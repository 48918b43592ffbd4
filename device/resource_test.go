package device

import (
	"errors"
	"testing"
)

// recorder is a Lifecycle that logs its callbacks.
type recorder struct {
	calls []string
	res   *Resource
	err   error
}

func (r *recorder) Reinitialize(preserve bool) error {
	if preserve {
		r.calls = append(r.calls, "reinit+")
	} else {
		r.calls = append(r.calls, "reinit")
	}
	if r.res != nil {
		r.res.MarkResident(true)
	}
	return r.err
}

func (r *recorder) Deinitialize(preserve bool) {
	if preserve {
		r.calls = append(r.calls, "deinit+")
	} else {
		r.calls = append(r.calls, "deinit")
	}
}

func newRecorded(t *testing.T, reg *Registry, label string) (*Resource, *recorder) {
	t.Helper()
	rec := &recorder{}
	res, err := NewResource(reg, label, rec)
	if err != nil {
		t.Fatalf("NewResource(%q) = %v", label, err)
	}
	rec.res = res
	return res, rec
}

func equalCalls(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewResourceDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t, 2)
	res, _ := newRecorded(t, reg, "volume")

	if res.Device() != 0 {
		t.Errorf("Device() = %d, want 0", res.Device())
	}
	if res.Stream() == 0 {
		t.Error("Stream() = 0, want a stream")
	}
	if got, ok := reg.DeviceOfObject(res.ID()); !ok || got != 0 {
		t.Errorf("DeviceOfObject = %d, %v, want 0, true", got, ok)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v, want nil", res.Err())
	}
}

func TestResourceSetDevice(t *testing.T) {
	tests := []struct {
		name     string
		resident bool
		preserve bool
		want     []string
	}{
		{"empty object", false, false, []string{"reinit"}},
		{"resident drops data", true, false, []string{"deinit", "reinit"}},
		{"resident keeps data", true, true, []string{"deinit+", "reinit+"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, drv := newTestRegistry(t, 2)
			res, rec := newRecorded(t, reg, "tf")
			res.MarkResident(tt.resident)
			oldStream := res.Stream()

			if err := res.SetDevice(1, tt.preserve); err != nil {
				t.Fatalf("SetDevice = %v", err)
			}
			if !equalCalls(rec.calls, tt.want) {
				t.Errorf("calls = %v, want %v", rec.calls, tt.want)
			}
			if res.Device() != 1 {
				t.Errorf("Device() = %d, want 1", res.Device())
			}
			if got, _ := reg.DeviceOfStream(res.Stream()); got != 1 {
				t.Errorf("DeviceOfStream = %d, want 1", got)
			}
			if _, ok := reg.DeviceOfStream(oldStream); ok {
				t.Error("old stream still registered")
			}
			if got := drv.LiveStreams(); got != 1 {
				t.Errorf("LiveStreams() = %d, want 1", got)
			}
			if st := reg.Stats(); st.DeviceLinks != 1 {
				t.Errorf("DeviceLinks = %d, want 1", st.DeviceLinks)
			}
		})
	}
}

func TestResourceSetDeviceSameIsNoop(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	res, rec := newRecorded(t, reg, "tf")
	s := res.Stream()

	if err := res.SetDevice(0, false); err != nil {
		t.Fatalf("SetDevice = %v", err)
	}
	if len(rec.calls) != 0 || res.Stream() != s {
		t.Errorf("SetDevice to current device changed state: calls %v", rec.calls)
	}
}

func TestResourceBrokenAfterRegistryFailure(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	res, _ := newRecorded(t, reg, "output")

	err := res.SetDevice(5, false)
	if !errors.Is(err, ErrResourceBroken) {
		t.Fatalf("SetDevice(5) = %v, want ErrResourceBroken", err)
	}
	if !res.Broken() {
		t.Error("Broken() = false after failure")
	}

	ops := map[string]func() error{
		"ReserveGPU":  res.ReserveGPU,
		"Synchronize": res.Synchronize,
		"SetDevice":   func() error { return res.SetDevice(0, false) },
		"Alloc": func() error {
			_, err := res.Alloc(16)
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrResourceBroken) {
			t.Errorf("%s() = %v, want ErrResourceBroken", name, err)
		}
	}
}

func TestResourceReplicateSharesThenDiverges(t *testing.T) {
	reg, drv := newTestRegistry(t, 1)
	src, _ := newRecorded(t, reg, "mapper")
	dst, rec := newRecorded(t, reg, "tf")

	if err := dst.ReplicateObject(src, false); err != nil {
		t.Fatalf("ReplicateObject = %v", err)
	}
	if dst.Stream() != src.Stream() {
		t.Fatalf("replica stream %d, want shared %d", dst.Stream(), src.Stream())
	}
	if got := reg.StreamUsers(src.Stream()); got != 2 {
		t.Errorf("StreamUsers = %d, want 2", got)
	}
	if len(rec.calls) != 0 {
		t.Errorf("same-device replicate ran hooks %v", rec.calls)
	}
	if got := drv.LiveStreams(); got != 1 {
		t.Errorf("LiveStreams() = %d, want 1", got)
	}

	if err := dst.Diverge(); err != nil {
		t.Fatalf("Diverge = %v", err)
	}
	if dst.Stream() == src.Stream() {
		t.Error("Diverge kept the shared stream")
	}
	if got := reg.StreamUsers(src.Stream()); got != 1 {
		t.Errorf("StreamUsers = %d, want 1", got)
	}
}

func TestResourceReplicateAcrossDevices(t *testing.T) {
	reg, _ := newTestRegistry(t, 2)
	src, _ := newRecorded(t, reg, "mapper")
	if err := src.SetDevice(1, false); err != nil {
		t.Fatal(err)
	}
	dst, rec := newRecorded(t, reg, "tf")
	dst.MarkResident(true)

	if err := dst.ReplicateObject(src, true); err != nil {
		t.Fatalf("ReplicateObject = %v", err)
	}
	if dst.Device() != 1 {
		t.Errorf("Device() = %d, want 1", dst.Device())
	}
	if want := []string{"deinit+", "reinit+"}; !equalCalls(rec.calls, want) {
		t.Errorf("calls = %v, want %v", rec.calls, want)
	}
}

func TestResourceReleaseStreamLifetime(t *testing.T) {
	reg, drv := newTestRegistry(t, 1)
	src, _ := newRecorded(t, reg, "mapper")
	dst, _ := newRecorded(t, reg, "tf")
	if err := dst.ReplicateObject(src, false); err != nil {
		t.Fatal(err)
	}

	if err := src.Release(); err != nil {
		t.Fatalf("Release(src) = %v", err)
	}
	if got := drv.LiveStreams(); got != 1 {
		t.Errorf("LiveStreams() = %d, want 1 while replica holds it", got)
	}
	if err := dst.Synchronize(); err != nil {
		t.Errorf("Synchronize on replica = %v", err)
	}

	if err := dst.Release(); err != nil {
		t.Fatalf("Release(dst) = %v", err)
	}
	if got := drv.LiveStreams(); got != 0 {
		t.Errorf("LiveStreams() = %d, want 0", got)
	}
	if st := reg.Stats(); st.Objects != 0 || st.DeviceLinks != 0 {
		t.Errorf("Stats = %v, want empty", st)
	}
	if err := dst.ReserveGPU(); !errors.Is(err, ErrResourceReleased) {
		t.Errorf("ReserveGPU after Release = %v, want ErrResourceReleased", err)
	}
	if err := dst.Release(); err != nil {
		t.Errorf("second Release = %v, want nil", err)
	}
}

func TestResourceReleaseDeinitializesResident(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	res, rec := newRecorded(t, reg, "output")
	res.MarkResident(true)

	if err := res.Release(); err != nil {
		t.Fatal(err)
	}
	if want := []string{"deinit"}; !equalCalls(rec.calls, want) {
		t.Errorf("calls = %v, want %v", rec.calls, want)
	}
}

func TestResourceCopies(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	res, _ := newRecorded(t, reg, "copy")

	m, err := res.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Free(m)

	if err := res.Upload(m, 4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 16)
	if err := res.Download(out, m, 0); err != nil {
		t.Fatal(err)
	}
	if err := res.Synchronize(); err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 0, 1, 2, 3, 4, 0, 0, 0, 0, 0, 0, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}
