package device

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// DriverSoftware is the registered name of the software driver.
const DriverSoftware = "software"

// softwareQueueDepth is the buffer size of each stream's work queue.
const softwareQueueDepth = 64

// SoftwareOption configures a SoftwareDriver.
type SoftwareOption func(*softwareOptions)

type softwareOptions struct {
	devices     int
	memoryBytes uint64
}

func defaultSoftwareOptions() softwareOptions {
	return softwareOptions{
		devices:     1,
		memoryBytes: DefaultDeviceMemoryMB * 1024 * 1024,
	}
}

// WithDevices sets the number of emulated devices. Values below 1 are ignored.
func WithDevices(n int) SoftwareOption {
	return func(o *softwareOptions) {
		if n >= 1 {
			o.devices = n
		}
	}
}

// WithDeviceMemory sets the per-device memory budget in bytes.
func WithDeviceMemory(bytes uint64) SoftwareOption {
	return func(o *softwareOptions) {
		if bytes > 0 {
			o.memoryBytes = bytes
		}
	}
}

// SoftwareStats counts driver operations. Useful for asserting that a
// handler performed no work.
type SoftwareStats struct {
	StreamsCreated   int64
	StreamsDestroyed int64
	Synchronizes     int64
	Allocations      int64
	Frees            int64
	Uploads          int64
	Downloads        int64
	Fills            int64
	Launches         int64
}

// SoftwareDriver is a pure-Go Driver. Each device is a memory budget over
// host memory; each stream is a goroutine draining a FIFO queue.
//
// SoftwareDriver is safe for concurrent use.
type SoftwareDriver struct {
	mu         sync.Mutex
	budgets    []*MemoryBudget
	streams    map[StreamHandle]*softStream
	nextStream StreamHandle
	closed     bool

	current atomic.Int64

	streamsCreated   atomic.Int64
	streamsDestroyed atomic.Int64
	synchronizes     atomic.Int64
	allocations      atomic.Int64
	frees            atomic.Int64
	uploads          atomic.Int64
	downloads        atomic.Int64
	fills            atomic.Int64
	launches         atomic.Int64
}

var _ Driver = (*SoftwareDriver)(nil)

// NewSoftwareDriver creates a software driver.
func NewSoftwareDriver(opts ...SoftwareOption) *SoftwareDriver {
	o := defaultSoftwareOptions()
	for _, opt := range opts {
		opt(&o)
	}

	d := &SoftwareDriver{
		budgets: make([]*MemoryBudget, o.devices),
		streams: make(map[StreamHandle]*softStream),
	}
	for i := range d.budgets {
		d.budgets[i] = NewMemoryBudget(o.memoryBytes)
	}
	return d
}

func init() {
	RegisterDriver(DriverSoftware, func() (Driver, error) {
		return NewSoftwareDriver(), nil
	})
}

// DeviceCount returns the number of emulated devices.
func (d *SoftwareDriver) DeviceCount() int {
	return len(d.budgets)
}

// DeviceInfo describes an emulated device.
func (d *SoftwareDriver) DeviceInfo(dev int) (DeviceInfo, error) {
	if dev < 0 || dev >= len(d.budgets) {
		return DeviceInfo{}, fmt.Errorf("%w: %d", ErrInvalidDevice, dev)
	}
	return DeviceInfo{
		Index:       dev,
		Name:        fmt.Sprintf("Software Device %d", dev),
		Type:        DeviceTypeCPU,
		Backend:     DriverSoftware,
		MemoryBytes: d.budgets[dev].Stats().TotalBytes,
	}, nil
}

// MemoryStats returns the memory statistics of one device.
func (d *SoftwareDriver) MemoryStats(dev int) (MemoryStats, error) {
	if dev < 0 || dev >= len(d.budgets) {
		return MemoryStats{}, fmt.Errorf("%w: %d", ErrInvalidDevice, dev)
	}
	return d.budgets[dev].Stats(), nil
}

// SetDeviceMemory changes the memory budget of one device.
func (d *SoftwareDriver) SetDeviceMemory(dev int, bytes uint64) error {
	if dev < 0 || dev >= len(d.budgets) {
		return fmt.Errorf("%w: %d", ErrInvalidDevice, dev)
	}
	d.budgets[dev].SetBudget(bytes)
	return nil
}

// Stats returns operation counters.
func (d *SoftwareDriver) Stats() SoftwareStats {
	return SoftwareStats{
		StreamsCreated:   d.streamsCreated.Load(),
		StreamsDestroyed: d.streamsDestroyed.Load(),
		Synchronizes:     d.synchronizes.Load(),
		Allocations:      d.allocations.Load(),
		Frees:            d.frees.Load(),
		Uploads:          d.uploads.Load(),
		Downloads:        d.downloads.Load(),
		Fills:            d.fills.Load(),
		Launches:         d.launches.Load(),
	}
}

// LiveStreams returns the number of streams not yet destroyed.
func (d *SoftwareDriver) LiveStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// CreateStream starts a new stream worker on dev.
func (d *SoftwareDriver) CreateStream(dev int) (StreamHandle, error) {
	if dev < 0 || dev >= len(d.budgets) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDevice, dev)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrDriverClosed
	}

	d.nextStream++
	h := d.nextStream
	s := newSoftStream(dev)
	d.streams[h] = s
	d.streamsCreated.Add(1)
	return h, nil
}

// DestroyStream drains and stops a stream.
func (d *SoftwareDriver) DestroyStream(h StreamHandle) error {
	d.mu.Lock()
	s, ok := d.streams[h]
	delete(d.streams, h)
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStream, h)
	}
	s.stop()
	d.streamsDestroyed.Add(1)
	return nil
}

// SynchronizeStream blocks until h is drained.
func (d *SoftwareDriver) SynchronizeStream(h StreamHandle) error {
	s, err := d.stream(h)
	if err != nil {
		return err
	}
	d.synchronizes.Add(1)
	return s.synchronize()
}

// SetCurrent records dev as the active device.
func (d *SoftwareDriver) SetCurrent(dev int) error {
	if dev < 0 || dev >= len(d.budgets) {
		return fmt.Errorf("%w: %d", ErrInvalidDevice, dev)
	}
	d.current.Store(int64(dev))
	return nil
}

// Current returns the device most recently made current.
func (d *SoftwareDriver) Current() int {
	return int(d.current.Load())
}

// Alloc reserves size bytes on dev. The memory is zeroed.
func (d *SoftwareDriver) Alloc(dev int, size int) (Memory, error) {
	if dev < 0 || dev >= len(d.budgets) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDevice, dev)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrOutOfRange, size)
	}
	if err := d.budgets[dev].Reserve(uint64(size)); err != nil {
		return nil, err
	}
	d.allocations.Add(1)
	return &softMemory{owner: d, dev: dev, data: make([]byte, size)}, nil
}

// Free releases m. Work enqueued afterwards that references m fails with
// ErrMemoryFreed; callers synchronize before freeing.
func (d *SoftwareDriver) Free(m Memory) error {
	sm, err := d.memory(m)
	if err != nil {
		return err
	}
	if !sm.freed.CompareAndSwap(false, true) {
		return ErrMemoryFreed
	}
	d.budgets[sm.dev].Release(uint64(len(sm.data)))
	d.frees.Add(1)
	return nil
}

// Upload enqueues a host-to-device copy. src is copied before returning.
func (d *SoftwareDriver) Upload(h StreamHandle, dst Memory, offset int, src []byte) error {
	s, sm, err := d.prepare(h, dst)
	if err != nil {
		return err
	}
	if err := CheckRange(len(sm.data), offset, len(src)); err != nil {
		return err
	}
	staged := append([]byte(nil), src...)
	d.uploads.Add(1)
	return s.enqueue(func() error {
		if sm.freed.Load() {
			return ErrMemoryFreed
		}
		copy(sm.data[offset:], staged)
		return nil
	})
}

// Download enqueues a device-to-host copy into dst.
func (d *SoftwareDriver) Download(h StreamHandle, dst []byte, src Memory, offset int) error {
	s, sm, err := d.prepare(h, src)
	if err != nil {
		return err
	}
	if err := CheckRange(len(sm.data), offset, len(dst)); err != nil {
		return err
	}
	d.downloads.Add(1)
	return s.enqueue(func() error {
		if sm.freed.Load() {
			return ErrMemoryFreed
		}
		copy(dst, sm.data[offset:])
		return nil
	})
}

// Fill enqueues a 32-bit pattern fill of dst.
func (d *SoftwareDriver) Fill(h StreamHandle, dst Memory, value uint32) error {
	s, sm, err := d.prepare(h, dst)
	if err != nil {
		return err
	}
	d.fills.Add(1)
	return s.enqueue(func() error {
		if sm.freed.Load() {
			return ErrMemoryFreed
		}
		n := len(sm.data) / 4 * 4
		for i := 0; i < n; i += 4 {
			binary.LittleEndian.PutUint32(sm.data[i:], value)
		}
		return nil
	})
}

// Launch enqueues a host function.
func (d *SoftwareDriver) Launch(h StreamHandle, fn LaunchFunc) error {
	s, err := d.stream(h)
	if err != nil {
		return err
	}
	d.launches.Add(1)
	acc := softAccess{owner: d, dev: s.dev}
	return s.enqueue(func() error { return fn(acc) })
}

// Close destroys every remaining stream.
func (d *SoftwareDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	streams := d.streams
	d.streams = make(map[StreamHandle]*softStream)
	d.mu.Unlock()

	for _, s := range streams {
		s.stop()
		d.streamsDestroyed.Add(1)
	}
	return nil
}

func (d *SoftwareDriver) stream(h StreamHandle) (*softStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.streams[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStream, h)
	}
	return s, nil
}

func (d *SoftwareDriver) memory(m Memory) (*softMemory, error) {
	sm, ok := m.(*softMemory)
	if !ok || sm.owner != d {
		return nil, ErrForeignMemory
	}
	return sm, nil
}

// prepare resolves the stream and memory of a copy and checks they share a device.
func (d *SoftwareDriver) prepare(h StreamHandle, m Memory) (*softStream, *softMemory, error) {
	s, err := d.stream(h)
	if err != nil {
		return nil, nil, err
	}
	sm, err := d.memory(m)
	if err != nil {
		return nil, nil, err
	}
	if sm.dev != s.dev {
		return nil, nil, fmt.Errorf("%w: memory on device %d, stream on device %d",
			ErrForeignMemory, sm.dev, s.dev)
	}
	if sm.freed.Load() {
		return nil, nil, ErrMemoryFreed
	}
	return s, sm, nil
}

// softMemory is an allocation of the software driver.
type softMemory struct {
	owner *SoftwareDriver
	dev   int
	data  []byte
	freed atomic.Bool
}

func (m *softMemory) Device() int { return m.dev }
func (m *softMemory) Size() int   { return len(m.data) }

// softAccess resolves memory for a launched function.
type softAccess struct {
	owner *SoftwareDriver
	dev   int
}

func (a softAccess) Bytes(m Memory) ([]byte, error) {
	sm, err := a.owner.memory(m)
	if err != nil {
		return nil, err
	}
	if sm.dev != a.dev {
		return nil, ErrForeignMemory
	}
	if sm.freed.Load() {
		return nil, ErrMemoryFreed
	}
	return sm.data, nil
}

// softStream runs queued work in order on one goroutine.
type softStream struct {
	dev  int
	ops  chan func() error
	done chan struct{}

	// mu guards closed against concurrent enqueue and stop.
	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

func newSoftStream(dev int) *softStream {
	s := &softStream{
		dev:  dev,
		ops:  make(chan func() error, softwareQueueDepth),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *softStream) run() {
	defer close(s.done)
	for op := range s.ops {
		if err := op(); err != nil {
			s.errMu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.errMu.Unlock()
		}
	}
}

func (s *softStream) enqueue(op func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrUnknownStream
	}
	s.ops <- op
	return nil
}

// synchronize waits for a barrier and returns the pending error, if any.
func (s *softStream) synchronize() error {
	barrier := make(chan struct{})
	if err := s.enqueue(func() error {
		close(barrier)
		return nil
	}); err != nil {
		return err
	}
	<-barrier

	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.err
	s.err = nil
	return err
}

func (s *softStream) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()
	<-s.done
}
