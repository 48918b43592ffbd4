package wgpu

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/volren"
	"github.com/gogpu/volren/device"
)

// DriverName is the name registered with device.RegisterDriver.
const DriverName = "wgpu"

const (
	defaultTimeout = 5 * time.Second
	pollInterval   = 50 * time.Microsecond
	queueDepth     = 64
)

// Backend creates hal instances. The linked hal backends and noop.API
// satisfy it.
type Backend interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Option configures a Driver.
type Option func(*options)

type options struct {
	backend     Backend
	memoryBytes uint64
	timeout     time.Duration
	maxDevices  int
	shaderFill  bool
}

func defaultOptions() options {
	return options{
		memoryBytes: device.DefaultDeviceMemoryMB * 1024 * 1024,
		timeout:     defaultTimeout,
		shaderFill:  true,
	}
}

// WithBackend selects the hal backend. The default is Vulkan.
func WithBackend(b Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithDeviceMemory sets the per-device allocation budget in bytes.
func WithDeviceMemory(bytes uint64) Option {
	return func(o *options) {
		if bytes > 0 {
			o.memoryBytes = bytes
		}
	}
}

// WithTimeout bounds the wait for each submission to complete.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxDevices limits how many adapters are opened. Zero opens all.
func WithMaxDevices(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxDevices = n
		}
	}
}

// WithShaderFill enables or disables the compute-shader fill path.
func WithShaderFill(enabled bool) Option {
	return func(o *options) {
		o.shaderFill = enabled
	}
}

// Stats counts GPU-side operations.
type Stats struct {
	Submits     int64
	Readbacks   int64
	ShaderFills int64
	WriteFills  int64
	Launches    int64
	WriteBacks  int64
}

// Driver is a device.Driver over hal adapters.
//
// Driver is safe for concurrent use.
type Driver struct {
	opts     options
	instance hal.Instance
	devices  []*gpuDevice

	// owned is false when the devices are borrowed from a provider.
	owned bool

	mu         sync.Mutex
	streams    map[device.StreamHandle]*stream
	nextStream device.StreamHandle
	closed     bool

	current atomic.Int64

	submits     atomic.Int64
	readbacks   atomic.Int64
	shaderFills atomic.Int64
	writeFills  atomic.Int64
	launches    atomic.Int64
	writeBacks  atomic.Int64
}

var _ device.Driver = (*Driver)(nil)

func newDriver(o options) *Driver {
	return &Driver{
		opts:    o,
		streams: make(map[device.StreamHandle]*stream),
	}
}

// Open creates an instance on the selected backend and opens its
// adapters, discrete GPUs first.
func Open(opts ...Option) (*Driver, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := o.backend
	if b == nil {
		vk, ok := hal.GetBackend(gputypes.BackendVulkan)
		if !ok {
			return nil, ErrNoBackend
		}
		b = vk
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}

	d := newDriver(o)
	d.instance = instance
	d.owned = true

	adapters := instance.EnumerateAdapters(nil)
	slices.SortStableFunc(adapters, func(a, b hal.ExposedAdapter) int {
		return adapterRank(a.Info.DeviceType) - adapterRank(b.Info.DeviceType)
	})
	for i := range adapters {
		if o.maxDevices > 0 && len(d.devices) == o.maxDevices {
			break
		}
		a := &adapters[i]
		od, err := a.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
		if err != nil {
			volren.Logger().Warn("wgpu: adapter unavailable", "adapter", a.Info.Name, "err", err)
			continue
		}
		d.addDevice(a.Info.Name, deviceType(a.Info.DeviceType), od.Device, od.Queue)
	}
	if len(d.devices) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	return d, nil
}

// FromProvider wraps the device of a window application. The provider
// must expose HalDevice() and HalQueue(). The device is borrowed: Close
// does not destroy it.
func FromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Driver, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := p.(halProvider)
	if !ok {
		return nil, ErrProvider
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrProvider)
	}
	q, ok := hp.HalQueue().(hal.Queue)
	if !ok || q == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrProvider)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := newDriver(o)
	d.addDevice("shared device", device.DeviceTypeUnknown, dev, q)
	return d, nil
}

func (d *Driver) addDevice(name string, kind device.DeviceType, dev hal.Device, q hal.Queue) {
	gd := &gpuDevice{
		owner:  d,
		index:  len(d.devices),
		name:   name,
		kind:   kind,
		device: dev,
		queue:  q,
		budget: device.NewMemoryBudget(d.opts.memoryBytes),
	}
	if d.opts.shaderFill {
		fp, err := newFillPipeline(dev)
		if err != nil {
			volren.Logger().Warn("wgpu: fill shader unavailable, using queue writes", "device", name, "err", err)
		} else {
			gd.fill = fp
		}
	}
	d.devices = append(d.devices, gd)
	volren.Logger().Info("wgpu: device opened", "index", gd.index, "name", name, "type", kind)
}

func adapterRank(t gputypes.DeviceType) int {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return 0
	case gputypes.DeviceTypeIntegratedGPU:
		return 1
	default:
		return 2
	}
}

func deviceType(t gputypes.DeviceType) device.DeviceType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return device.DeviceTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return device.DeviceTypeIntegrated
	default:
		return device.DeviceTypeUnknown
	}
}

// DeviceCount returns the number of opened adapters.
func (d *Driver) DeviceCount() int { return len(d.devices) }

func (d *Driver) gpu(dev int) (*gpuDevice, error) {
	if dev < 0 || dev >= len(d.devices) {
		return nil, fmt.Errorf("%w: %d", device.ErrInvalidDevice, dev)
	}
	return d.devices[dev], nil
}

// DeviceInfo describes one adapter.
func (d *Driver) DeviceInfo(dev int) (device.DeviceInfo, error) {
	gd, err := d.gpu(dev)
	if err != nil {
		return device.DeviceInfo{}, err
	}
	return device.DeviceInfo{
		Index:       dev,
		Name:        gd.name,
		Type:        gd.kind,
		Backend:     DriverName,
		MemoryBytes: gd.budget.Stats().TotalBytes,
	}, nil
}

// MemoryStats returns the allocation statistics of one device.
func (d *Driver) MemoryStats(dev int) (device.MemoryStats, error) {
	gd, err := d.gpu(dev)
	if err != nil {
		return device.MemoryStats{}, err
	}
	return gd.budget.Stats(), nil
}

// Stats returns operation counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Submits:     d.submits.Load(),
		Readbacks:   d.readbacks.Load(),
		ShaderFills: d.shaderFills.Load(),
		WriteFills:  d.writeFills.Load(),
		Launches:    d.launches.Load(),
		WriteBacks:  d.writeBacks.Load(),
	}
}

// ShaderFill reports whether dev fills buffers with the compute shader.
func (d *Driver) ShaderFill(dev int) bool {
	gd, err := d.gpu(dev)
	return err == nil && gd.fill != nil
}

// CreateStream starts a stream worker on dev.
func (d *Driver) CreateStream(dev int) (device.StreamHandle, error) {
	gd, err := d.gpu(dev)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, device.ErrDriverClosed
	}
	d.nextStream++
	h := d.nextStream
	d.streams[h] = newStream(gd)
	return h, nil
}

// DestroyStream drains and stops a stream.
func (d *Driver) DestroyStream(h device.StreamHandle) error {
	d.mu.Lock()
	s, ok := d.streams[h]
	delete(d.streams, h)
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", device.ErrUnknownStream, h)
	}
	s.stop()
	return nil
}

// SynchronizeStream blocks until h is drained.
func (d *Driver) SynchronizeStream(h device.StreamHandle) error {
	s, err := d.stream(h)
	if err != nil {
		return err
	}
	return s.synchronize()
}

// SetCurrent records dev as the active device. hal devices need no
// thread binding.
func (d *Driver) SetCurrent(dev int) error {
	if _, err := d.gpu(dev); err != nil {
		return err
	}
	d.current.Store(int64(dev))
	return nil
}

// Alloc creates a zero-initialized storage buffer of at least size bytes.
func (d *Driver) Alloc(dev int, size int) (device.Memory, error) {
	gd, err := d.gpu(dev)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", device.ErrOutOfRange, size)
	}
	padded := align4(size)
	if err := gd.budget.Reserve(uint64(padded)); err != nil {
		return nil, err
	}

	gd.mu.Lock()
	buf, err := gd.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "volren_memory",
		Size:  uint64(padded),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	gd.mu.Unlock()
	if err != nil {
		gd.budget.Release(uint64(padded))
		return nil, fmt.Errorf("wgpu: create buffer of %d bytes: %w", padded, err)
	}
	return &memory{owner: d, dev: dev, size: size, padded: padded, buf: buf}, nil
}

// Free destroys the buffer of m. Callers synchronize the streams that
// reference m first.
func (d *Driver) Free(m device.Memory) error {
	gm, err := d.memory(m)
	if err != nil {
		return err
	}
	if !gm.freed.CompareAndSwap(false, true) {
		return device.ErrMemoryFreed
	}
	gd := d.devices[gm.dev]
	gd.mu.Lock()
	gd.device.DestroyBuffer(gm.buf)
	gd.mu.Unlock()
	gd.budget.Release(uint64(gm.padded))
	return nil
}

// Upload enqueues a host-to-device copy. src is copied before returning.
func (d *Driver) Upload(h device.StreamHandle, dst device.Memory, offset int, src []byte) error {
	s, gm, err := d.prepare(h, dst)
	if err != nil {
		return err
	}
	if err := device.CheckRange(gm.size, offset, len(src)); err != nil {
		return err
	}
	data := append([]byte(nil), src...)
	return s.enqueue(func() error {
		if gm.freed.Load() {
			return device.ErrMemoryFreed
		}
		return s.gpu.write(gm, offset, data)
	})
}

// Download enqueues a device-to-host copy into dst.
func (d *Driver) Download(h device.StreamHandle, dst []byte, src device.Memory, offset int) error {
	s, gm, err := d.prepare(h, src)
	if err != nil {
		return err
	}
	if err := device.CheckRange(gm.size, offset, len(dst)); err != nil {
		return err
	}
	return s.enqueue(func() error {
		if gm.freed.Load() {
			return device.ErrMemoryFreed
		}
		data, err := s.gpu.read(gm, offset, len(dst))
		if err != nil {
			return err
		}
		copy(dst, data)
		return nil
	})
}

// Fill enqueues a fill of dst with the little-endian pattern value.
func (d *Driver) Fill(h device.StreamHandle, dst device.Memory, value uint32) error {
	s, gm, err := d.prepare(h, dst)
	if err != nil {
		return err
	}
	return s.enqueue(func() error {
		if gm.freed.Load() {
			return device.ErrMemoryFreed
		}
		return s.gpu.fillBuffer(gm, value)
	})
}

// Launch enqueues fn. Buffers fn resolves are read back before it sees
// them and written back if it changed them.
func (d *Driver) Launch(h device.StreamHandle, fn device.LaunchFunc) error {
	s, err := d.stream(h)
	if err != nil {
		return err
	}
	return s.enqueue(func() error {
		d.launches.Add(1)
		a := &access{owner: d, gpu: s.gpu, views: make(map[*memory]*view)}
		err := fn(a)
		if ferr := a.flush(); err == nil {
			err = ferr
		}
		return err
	})
}

// Close stops every stream and destroys owned devices. Close is idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	streams := d.streams
	d.streams = make(map[device.StreamHandle]*stream)
	d.mu.Unlock()

	for _, s := range streams {
		s.stop()
	}
	for _, gd := range d.devices {
		gd.mu.Lock()
		if gd.fill != nil {
			gd.fill.destroy(gd.device)
			gd.fill = nil
		}
		if d.owned {
			gd.device.Destroy()
		}
		gd.mu.Unlock()
	}
	if d.owned && d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	return nil
}

func (d *Driver) stream(h device.StreamHandle) (*stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.streams[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", device.ErrUnknownStream, h)
	}
	return s, nil
}

func (d *Driver) memory(m device.Memory) (*memory, error) {
	gm, ok := m.(*memory)
	if !ok || gm.owner != d {
		return nil, device.ErrForeignMemory
	}
	return gm, nil
}

func (d *Driver) prepare(h device.StreamHandle, m device.Memory) (*stream, *memory, error) {
	s, err := d.stream(h)
	if err != nil {
		return nil, nil, err
	}
	gm, err := d.memory(m)
	if err != nil {
		return nil, nil, err
	}
	if gm.dev != s.gpu.index {
		return nil, nil, device.ErrForeignMemory
	}
	if gm.freed.Load() {
		return nil, nil, device.ErrMemoryFreed
	}
	return s, gm, nil
}

// memory is a storage buffer. The buffer is padded to a multiple of four
// bytes; size is the requested length.
type memory struct {
	owner  *Driver
	dev    int
	size   int
	padded int
	buf    hal.Buffer
	freed  atomic.Bool
}

func (m *memory) Device() int { return m.dev }
func (m *memory) Size() int   { return m.size }

func align4(n int) int { return (n + 3) &^ 3 }
