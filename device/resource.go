package device

import (
	"errors"
	"fmt"
)

// Lifecycle is implemented by every object that holds GPU resources.
type Lifecycle interface {
	// Reinitialize (re)allocates and repopulates GPU buffers on the
	// current device. With preserve set, host-side shadow copies kept by
	// Deinitialize are uploaded again.
	Reinitialize(preserve bool) error

	// Deinitialize releases GPU buffers. With preserve set, host-side
	// shadow copies are kept so that Reinitialize can restore them.
	Deinitialize(preserve bool)
}

// Resource is the GPU-resource capability embedded by capability-holding
// objects. It holds exactly one current device and stream, obtained from
// and returned to a Registry.
//
// A Resource is not safe for concurrent use; it belongs to one owner.
type Resource struct {
	reg   *Registry
	id    ObjectID
	label string
	hooks Lifecycle

	dev      int
	stream   Stream
	resident bool

	// err is set once: ErrResourceBroken after a registry failure,
	// ErrResourceReleased after Release.
	err error
}

// NewResource registers a new object with reg and gives it device 0 and a
// fresh stream. hooks receives the lifecycle callbacks.
func NewResource(reg *Registry, label string, hooks Lifecycle) (*Resource, error) {
	r := &Resource{
		reg:   reg,
		label: label,
		hooks: hooks,
		dev:   -1,
	}
	r.id = reg.NewObject(label)

	if !reg.AcquireDevice(r.id, 0) {
		reg.ForgetObject(r.id)
		return nil, fmt.Errorf("%w: %s: no device available", ErrResourceBroken, label)
	}
	s, ok := reg.AcquireStream(r.id, 0)
	if !ok {
		reg.ReleaseDevice(r.id, 0)
		reg.ForgetObject(r.id)
		return nil, fmt.Errorf("%w: %s: no stream available", ErrResourceBroken, label)
	}
	r.dev = 0
	r.stream = s
	return r, nil
}

// ID returns the registry identifier.
func (r *Resource) ID() ObjectID { return r.id }

// Label returns the label given at construction.
func (r *Resource) Label() string { return r.label }

// Registry returns the registry the resource belongs to.
func (r *Resource) Registry() *Registry { return r.reg }

// Device returns the current device index.
func (r *Resource) Device() int { return r.dev }

// Stream returns the current stream.
func (r *Resource) Stream() Stream { return r.stream }

// Err returns the reason the resource is unusable, or nil.
func (r *Resource) Err() error { return r.err }

// Broken reports whether a registry failure made the resource unusable.
func (r *Resource) Broken() bool { return errors.Is(r.err, ErrResourceBroken) }

// Resident reports whether the owner holds GPU-resident data.
func (r *Resource) Resident() bool { return r.resident }

// MarkResident records whether the owner holds GPU-resident data.
// Owners set it after allocating and clear it in Deinitialize.
func (r *Resource) MarkResident(resident bool) { r.resident = resident }

// fail marks the resource broken after the registry refused op.
func (r *Resource) fail(op string) error {
	r.err = fmt.Errorf("%w: %s: %s", ErrResourceBroken, r.label, op)
	slogger().Error("device: registry failure", "object", r.label, "op", op,
		"device", r.dev, "stream", r.stream)
	return r.err
}

// SetDevice moves the resource to dev. GPU-resident data is released with
// Deinitialize(preserve) before the switch and rebuilt with
// Reinitialize(preserve) after it. Switching to the current device is a no-op.
func (r *Resource) SetDevice(dev int, preserve bool) error {
	if r.err != nil {
		return r.err
	}
	if dev == r.dev {
		return nil
	}

	if r.resident {
		if err := r.reg.WaitStream(r.stream); err != nil {
			slogger().Warn("device: synchronize before device switch", "object", r.label, "err", err)
		}
		r.hooks.Deinitialize(preserve)
		r.resident = false
	}

	if !r.reg.AcquireDevice(r.id, dev) {
		return r.fail(fmt.Sprintf("acquire device %d", dev))
	}
	s, ok := r.reg.AcquireStream(r.id, dev)
	if !ok {
		return r.fail(fmt.Sprintf("acquire stream on device %d", dev))
	}
	if !r.reg.ReleaseStream(r.id, r.stream) {
		return r.fail(fmt.Sprintf("release stream %d", r.stream))
	}
	if !r.reg.ReleaseDevice(r.id, r.dev) {
		return r.fail(fmt.Sprintf("release device %d", r.dev))
	}
	r.dev = dev
	r.stream = s

	slogger().Debug("device: object moved", "object", r.label, "device", dev, "preserve", preserve)
	return r.hooks.Reinitialize(preserve)
}

// ReserveGPU makes the current device active for the stream. Every
// allocation, copy and launch goes through it.
func (r *Resource) ReserveGPU() error {
	if r.err != nil {
		return r.err
	}
	if !r.reg.MakeDeviceCurrent(r.stream) {
		return r.fail("make device current")
	}
	return nil
}

// Synchronize blocks until the stream is drained. An error reported by
// executed work is returned without breaking the resource.
func (r *Resource) Synchronize() error {
	if r.err != nil {
		return r.err
	}
	err := r.reg.WaitStream(r.stream)
	if errors.Is(err, ErrUnknownStream) {
		return r.fail("synchronize")
	}
	return err
}

// ReplicateObject adopts the device and stream of src. Both objects then
// share src's stream until one of them calls Diverge or SetDevice. When the
// device changes, Deinitialize(preserve) and Reinitialize(preserve) bracket
// the switch.
func (r *Resource) ReplicateObject(src *Resource, preserve bool) error {
	if r.err != nil {
		return r.err
	}
	if src == nil || src.err != nil {
		return fmt.Errorf("device: replicate %s: source unusable", r.label)
	}
	if src == r || src.stream == r.stream {
		return nil
	}

	oldDev, oldStream := r.dev, r.stream
	devChanged := src.dev != oldDev

	if err := r.reg.WaitStream(oldStream); err != nil && !errors.Is(err, ErrUnknownStream) {
		slogger().Warn("device: synchronize before replicate", "object", r.label, "err", err)
	}
	if devChanged && r.resident {
		r.hooks.Deinitialize(preserve)
		r.resident = false
	}

	if !r.reg.ShareStream(r.id, src.stream) {
		return r.fail(fmt.Sprintf("share stream %d", src.stream))
	}
	if devChanged && !r.reg.AcquireDevice(r.id, src.dev) {
		return r.fail(fmt.Sprintf("acquire device %d", src.dev))
	}
	if !r.reg.ReleaseStream(r.id, oldStream) {
		return r.fail(fmt.Sprintf("release stream %d", oldStream))
	}
	if devChanged && !r.reg.ReleaseDevice(r.id, oldDev) {
		return r.fail(fmt.Sprintf("release device %d", oldDev))
	}
	r.dev = src.dev
	r.stream = src.stream

	if devChanged {
		return r.hooks.Reinitialize(preserve)
	}
	return nil
}

// Diverge gives the resource a fresh stream of its own on the current
// device when its stream is shared with other objects.
func (r *Resource) Diverge() error {
	if r.err != nil {
		return r.err
	}
	if r.reg.StreamUsers(r.stream) <= 1 {
		return nil
	}
	if err := r.reg.WaitStream(r.stream); err != nil && !errors.Is(err, ErrUnknownStream) {
		slogger().Warn("device: synchronize before diverge", "object", r.label, "err", err)
	}
	s, ok := r.reg.AcquireStream(r.id, r.dev)
	if !ok {
		return r.fail("acquire stream")
	}
	if !r.reg.ReleaseStream(r.id, r.stream) {
		return r.fail(fmt.Sprintf("release stream %d", r.stream))
	}
	r.stream = s
	return nil
}

// Release deinitializes GPU data and returns the device and stream to the
// registry. The resource refuses all work afterwards.
func (r *Resource) Release() error {
	if errors.Is(r.err, ErrResourceReleased) {
		return nil
	}

	if r.resident {
		if err := r.reg.WaitStream(r.stream); err != nil && !errors.Is(err, ErrUnknownStream) {
			slogger().Warn("device: synchronize before release", "object", r.label, "err", err)
		}
		r.hooks.Deinitialize(false)
		r.resident = false
	}

	var errs []error
	if r.stream != 0 && !r.reg.ReleaseStream(r.id, r.stream) {
		errs = append(errs, fmt.Errorf("%w: release stream %d", ErrUnknownStream, r.stream))
	}
	if r.dev >= 0 && !r.reg.ReleaseDevice(r.id, r.dev) {
		errs = append(errs, fmt.Errorf("%w: release device %d", ErrInvalidDevice, r.dev))
	}
	r.reg.ForgetObject(r.id)

	r.stream = 0
	r.dev = -1
	r.err = fmt.Errorf("%w: %s", ErrResourceReleased, r.label)
	return errors.Join(errs...)
}

// handle resolves the driver handle of the current stream.
func (r *Resource) handle() (StreamHandle, error) {
	if err := r.ReserveGPU(); err != nil {
		return 0, err
	}
	h, ok := r.reg.Handle(r.stream)
	if !ok {
		return 0, r.fail("resolve stream")
	}
	return h, nil
}

// Alloc allocates size bytes on the current device.
func (r *Resource) Alloc(size int) (Memory, error) {
	if err := r.ReserveGPU(); err != nil {
		return nil, err
	}
	return r.reg.drv.Alloc(r.dev, size)
}

// Free releases m. A nil m is ignored.
func (r *Resource) Free(m Memory) error {
	if m == nil {
		return nil
	}
	if err := r.ReserveGPU(); err != nil {
		return err
	}
	return r.reg.drv.Free(m)
}

// Upload enqueues a host-to-device copy on the current stream.
func (r *Resource) Upload(dst Memory, offset int, src []byte) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	return r.reg.drv.Upload(h, dst, offset, src)
}

// Download enqueues a device-to-host copy on the current stream.
func (r *Resource) Download(dst []byte, src Memory, offset int) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	return r.reg.drv.Download(h, dst, src, offset)
}

// Fill enqueues a 32-bit pattern fill on the current stream.
func (r *Resource) Fill(dst Memory, value uint32) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	return r.reg.drv.Fill(h, dst, value)
}

// Launch enqueues a host function on the current stream.
func (r *Resource) Launch(fn LaunchFunc) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	return r.reg.drv.Launch(h, fn)
}
