package device

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ObjectID identifies a capability-holding object in a Registry.
// Zero is never issued.
type ObjectID uint64

// Stream is a registry-level stream handle. Zero is never issued.
type Stream uint64

// RegistryStats counts the associations held by a Registry.
type RegistryStats struct {
	Devices     int
	Objects     int
	Streams     int
	DeviceLinks int
	DeviceHolds int
	StreamLinks int
}

// String returns a human-readable string of registry stats.
func (s RegistryStats) String() string {
	return fmt.Sprintf("Registry[%d devices, %d objects, %d streams, %d device links (%d holds), %d stream links]",
		s.Devices, s.Objects, s.Streams, s.DeviceLinks, s.DeviceHolds, s.StreamLinks)
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	name string
}

// WithRegistryName sets the name used in log records.
func WithRegistryName(name string) RegistryOption {
	return func(o *registryOptions) {
		o.name = name
	}
}

type objectEntry struct {
	label string
	// devices counts acquisitions per device; each release undoes one.
	devices map[int]int
	streams map[Stream]struct{}
	// history holds one entry per outstanding acquisition, most recent
	// last. The current device is its last element.
	history []int
}

func (e *objectEntry) current() int {
	if len(e.history) == 0 {
		return -1
	}
	return e.history[len(e.history)-1]
}

type streamEntry struct {
	handle  StreamHandle
	device  int
	objects map[ObjectID]struct{}
}

// Registry is the single owner of device and stream bookkeeping.
// It maps streams to devices and objects to the devices and streams they
// hold. Streams are reference-counted by their associated objects and
// destroyed, after a synchronize, when the last one releases them.
//
// All methods are safe for concurrent use; one mutex guards every map.
type Registry struct {
	drv  Driver
	name string

	mu         sync.Mutex
	nextObject ObjectID
	nextStream Stream
	objects    map[ObjectID]*objectEntry
	streams    map[Stream]*streamEntry
	holders    []map[ObjectID]struct{}
	closed     bool

	// tfMu serializes transfer-function table rebuild-and-use across mappers.
	tfMu sync.Mutex
}

// NewRegistry creates a registry over drv.
func NewRegistry(drv Driver, opts ...RegistryOption) *Registry {
	o := registryOptions{name: "default"}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		drv:     drv,
		name:    o.name,
		objects: make(map[ObjectID]*objectEntry),
		streams: make(map[Stream]*streamEntry),
		holders: make([]map[ObjectID]struct{}, drv.DeviceCount()),
	}
	for i := range r.holders {
		r.holders[i] = make(map[ObjectID]struct{})
	}
	return r
}

// Driver returns the underlying driver.
func (r *Registry) Driver() Driver { return r.drv }

// DeviceCount returns the number of available devices.
func (r *Registry) DeviceCount() int { return len(r.holders) }

// NewObject issues an identifier for a capability-holding object.
func (r *Registry) NewObject(label string) ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextObject++
	id := r.nextObject
	r.objects[id] = &objectEntry{
		label:   label,
		devices: make(map[int]int),
		streams: make(map[Stream]struct{}),
	}
	return id
}

// ForgetObject retires obj. It fails while obj still holds a device or stream.
func (r *Registry) ForgetObject(obj ObjectID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.objects[obj]
	if !ok || len(e.devices) > 0 || len(e.streams) > 0 {
		return false
	}
	delete(r.objects, obj)
	return true
}

// Label returns the label obj was created with.
func (r *Registry) Label(obj ObjectID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.objects[obj]; ok {
		return e.label
	}
	return ""
}

// AcquireDevice registers obj as a holder of dev and makes dev its
// current device. It fails without mutation if dev is out of range or obj
// is unknown. Re-registration is allowed and counted: each ReleaseDevice
// undoes exactly one AcquireDevice.
func (r *Registry) AcquireDevice(obj ObjectID, dev int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.objects[obj]
	if !ok || dev < 0 || dev >= len(r.holders) {
		return false
	}
	r.linkDevice(obj, e, dev)
	return true
}

// ReleaseDevice undoes one AcquireDevice of dev by obj. The association
// is removed with the last hold, and the current device reverts to the
// one that was current before the matching acquire.
func (r *Registry) ReleaseDevice(obj ObjectID, dev int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.objects[obj]
	if !ok {
		return false
	}
	return r.unlinkDevice(obj, e, dev)
}

// AcquireStream creates a new stream on dev and associates it with obj.
// A fresh stream is created on every call.
func (r *Registry) AcquireStream(obj ObjectID, dev int) (Stream, bool) {
	if !r.knownObject(obj) || dev < 0 || dev >= len(r.holders) {
		return 0, false
	}

	h, err := r.drv.CreateStream(dev)
	if err != nil {
		slogger().Warn("device: stream creation failed", "registry", r.name, "device", dev, "err", err)
		return 0, false
	}

	r.mu.Lock()
	e, ok := r.objects[obj]
	if !ok || r.closed {
		r.mu.Unlock()
		_ = r.drv.DestroyStream(h)
		return 0, false
	}
	r.nextStream++
	s := r.nextStream
	se := &streamEntry{handle: h, device: dev, objects: make(map[ObjectID]struct{})}
	r.streams[s] = se
	r.linkStream(obj, e, s, se)
	r.mu.Unlock()

	slogger().Debug("device: stream acquired", "registry", r.name, "object", obj, "stream", s, "device", dev)
	return s, true
}

// ShareStream associates obj with an existing stream, so that both keep
// it alive. Used when one object replicates another.
func (r *Registry) ShareStream(obj ObjectID, s Stream) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.objects[obj]
	if !ok {
		return false
	}
	se, ok := r.streams[s]
	if !ok {
		return false
	}
	r.linkStream(obj, e, s, se)
	return true
}

// ReleaseStream removes the association between obj and s. When no object
// remains associated, s is synchronized and destroyed exactly once.
func (r *Registry) ReleaseStream(obj ObjectID, s Stream) bool {
	r.mu.Lock()
	e, ok := r.objects[obj]
	if !ok {
		r.mu.Unlock()
		return false
	}
	se, ok := r.streams[s]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if !r.unlinkStream(obj, e, s, se) {
		r.mu.Unlock()
		return false
	}
	last := len(se.objects) == 0
	if last {
		delete(r.streams, s)
	}
	r.mu.Unlock()

	if last {
		r.destroy(s, se)
	}
	return true
}

// SynchronizeStream blocks until all work enqueued on s completes.
// It fails if s is unknown or the stream reported an error.
func (r *Registry) SynchronizeStream(s Stream) bool {
	return r.WaitStream(s) == nil
}

// WaitStream is SynchronizeStream returning the cause of a failure.
func (r *Registry) WaitStream(s Stream) error {
	h, _, ok := r.lookup(s)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStream, s)
	}
	return r.drv.SynchronizeStream(h)
}

// MakeDeviceCurrent makes the device owning s the active device.
func (r *Registry) MakeDeviceCurrent(s Stream) bool {
	_, dev, ok := r.lookup(s)
	if !ok {
		return false
	}
	if err := r.drv.SetCurrent(dev); err != nil {
		slogger().Warn("device: set current failed", "registry", r.name, "device", dev, "err", err)
		return false
	}
	return true
}

// Handle returns the driver handle of s.
func (r *Registry) Handle(s Stream) (StreamHandle, bool) {
	h, _, ok := r.lookup(s)
	return h, ok
}

// DeviceOfObject returns the current device of obj.
func (r *Registry) DeviceOfObject(obj ObjectID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.objects[obj]
	if !ok || e.current() < 0 {
		return -1, false
	}
	return e.current(), true
}

// DeviceOfStream returns the device s is bound to.
func (r *Registry) DeviceOfStream(s Stream) (int, bool) {
	_, dev, ok := r.lookup(s)
	if !ok {
		return -1, false
	}
	return dev, true
}

// StreamUsers returns the number of objects associated with s.
func (r *Registry) StreamUsers(s Stream) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if se, ok := r.streams[s]; ok {
		return len(se.objects)
	}
	return 0
}

// Stats returns the current association counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := RegistryStats{
		Devices: len(r.holders),
		Objects: len(r.objects),
		Streams: len(r.streams),
	}
	for _, h := range r.holders {
		st.DeviceLinks += len(h)
	}
	for _, e := range r.objects {
		st.DeviceHolds += len(e.history)
	}
	for _, se := range r.streams {
		st.StreamLinks += len(se.objects)
	}
	return st
}

// LockTransferFunctions acquires the lock shared by all transfer-function
// handlers of this registry. The returned function releases it and is
// safe to call more than once.
func (r *Registry) LockTransferFunctions() (unlock func()) {
	r.tfMu.Lock()
	var once sync.Once
	return func() {
		once.Do(r.tfMu.Unlock)
	}
}

// WithTransferFunctionLock runs fn while holding the transfer-function lock.
// The lock is released on every exit path, including a panic in fn.
func (r *Registry) WithTransferFunctionLock(fn func() error) error {
	unlock := r.LockTransferFunctions()
	defer unlock()
	return fn()
}

// Close synchronizes and destroys every remaining stream and drops all
// associations. The driver is left open.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	streams := r.streams
	r.streams = make(map[Stream]*streamEntry)
	for _, e := range r.objects {
		clear(e.streams)
		clear(e.devices)
		e.history = nil
	}
	for _, h := range r.holders {
		clear(h)
	}
	r.mu.Unlock()

	var errs []error
	for s, se := range streams {
		if err := r.destroy(s, se); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) knownObject(obj ObjectID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.objects[obj]
	return ok
}

func (r *Registry) lookup(s Stream) (StreamHandle, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	se, ok := r.streams[s]
	if !ok {
		return 0, -1, false
	}
	return se.handle, se.device, true
}

// destroy synchronizes then destroys a stream already removed from the maps.
func (r *Registry) destroy(s Stream, se *streamEntry) error {
	var errs []error
	if err := r.drv.SynchronizeStream(se.handle); err != nil {
		errs = append(errs, fmt.Errorf("synchronize stream %d: %w", s, err))
	}
	if err := r.drv.DestroyStream(se.handle); err != nil {
		errs = append(errs, fmt.Errorf("destroy stream %d: %w", s, err))
	}
	err := errors.Join(errs...)
	if err != nil {
		slogger().Warn("device: stream release error", "registry", r.name, "stream", s, "err", err)
	} else {
		slogger().Debug("device: stream destroyed", "registry", r.name, "stream", s, "device", se.device)
	}
	return err
}

// linkDevice records obj↔dev in both directions. Caller must hold mu.
func (r *Registry) linkDevice(obj ObjectID, e *objectEntry, dev int) {
	e.devices[dev]++
	r.holders[dev][obj] = struct{}{}
	e.history = append(e.history, dev)
}

// unlinkDevice removes obj↔dev in both directions. Caller must hold mu.
func (r *Registry) unlinkDevice(obj ObjectID, e *objectEntry, dev int) bool {
	n, ok := e.devices[dev]
	if !ok {
		return false
	}
	if n > 1 {
		e.devices[dev] = n - 1
	} else {
		delete(e.devices, dev)
		delete(r.holders[dev], obj)
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i] == dev {
			e.history = slices.Delete(e.history, i, i+1)
			break
		}
	}
	return true
}

// linkStream records obj↔s in both directions. Caller must hold mu.
func (r *Registry) linkStream(obj ObjectID, e *objectEntry, s Stream, se *streamEntry) {
	e.streams[s] = struct{}{}
	se.objects[obj] = struct{}{}
}

// unlinkStream removes obj↔s in both directions. Caller must hold mu.
func (r *Registry) unlinkStream(obj ObjectID, e *objectEntry, s Stream, se *streamEntry) bool {
	if _, ok := se.objects[obj]; !ok {
		return false
	}
	delete(se.objects, obj)
	delete(e.streams, s)
	return true
}
