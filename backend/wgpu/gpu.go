package wgpu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/volren"
	"github.com/gogpu/volren/device"
)

// gpuDevice is one opened adapter.
type gpuDevice struct {
	owner  *Driver
	index  int
	name   string
	kind   device.DeviceType
	device hal.Device
	queue  hal.Queue
	budget *device.MemoryBudget
	fill   *fillPipeline

	// mu serializes queue writes, submissions and readbacks.
	mu sync.Mutex
}

// submitLocked records one command buffer, submits it and waits until
// the queue reports it complete. The caller holds mu.
func (g *gpuDevice) submitLocked(label string, record func(enc hal.CommandEncoder)) error {
	enc, err := g.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	record(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}

	idx, err := g.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		g.device.FreeCommandBuffer(cmd)
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	g.owner.submits.Add(1)

	// A command buffer still in flight after a timeout is leaked rather
	// than freed under the GPU.
	deadline := time.Now().Add(g.owner.opts.timeout)
	for g.queue.PollCompleted() < idx {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s (submission %d)", ErrGPUTimeout, label, idx)
		}
		time.Sleep(pollInterval)
	}
	g.device.FreeCommandBuffer(cmd)
	return nil
}

// read copies [offset, offset+n) of m into host memory.
func (g *gpuDevice) read(m *memory, offset, n int) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readLocked(m, offset, n)
}

func (g *gpuDevice) readLocked(m *memory, offset, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	lo := offset &^ 3
	hi := align4(offset + n)
	size := uint64(hi - lo)

	staging, err := g.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "volren_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer g.device.DestroyBuffer(staging)

	err = g.submitLocked("volren_readback", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(m.buf, staging, []hal.BufferCopy{
			{SrcOffset: uint64(lo), DstOffset: 0, Size: size},
		})
	})
	if err != nil {
		return nil, err
	}
	mapping, err := g.device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map staging buffer: %w", err)
	}
	out := bytes.Clone(unsafe.Slice((*byte)(mapping.Ptr), size))
	if err := g.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("wgpu: unmap staging buffer: %w", err)
	}
	g.owner.readbacks.Add(1)
	return out[offset-lo : offset-lo+n], nil
}

// write stores data at offset. Windows not aligned to four bytes are
// merged with the surrounding words first.
func (g *gpuDevice) write(m *memory, offset int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if offset%4 == 0 && len(data)%4 == 0 {
		return g.writeLocked(m, offset, data)
	}
	lo := offset &^ 3
	hi := align4(offset + len(data))
	window, err := g.readLocked(m, lo, hi-lo)
	if err != nil {
		return err
	}
	copy(window[offset-lo:], data)
	return g.writeLocked(m, lo, window)
}

func (g *gpuDevice) writeLocked(m *memory, offset int, data []byte) error {
	if err := g.queue.WriteBuffer(m.buf, uint64(offset), data); err != nil {
		return fmt.Errorf("wgpu: write buffer: %w", err)
	}
	return nil
}

// fillBuffer writes value to every word of m.
func (g *gpuDevice) fillBuffer(m *memory, value uint32) error {
	words := m.padded / 4

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.fill != nil && g.fill.fits(words) {
		err := g.fill.run(g, m, value, words)
		if err == nil {
			g.owner.shaderFills.Add(1)
			return nil
		}
		volren.Logger().Warn("wgpu: shader fill failed, using queue write", "device", g.name, "err", err)
	}

	pattern := make([]byte, m.padded)
	for i := 0; i < len(pattern); i += 4 {
		binary.LittleEndian.PutUint32(pattern[i:], value)
	}
	if err := g.writeLocked(m, 0, pattern); err != nil {
		return err
	}
	g.owner.writeFills.Add(1)
	return nil
}

// access resolves memory for a launched host function. Every resolved
// buffer is read back once and kept until flush.
type access struct {
	owner *Driver
	gpu   *gpuDevice
	views map[*memory]*view
}

type view struct {
	data []byte
	orig []byte
}

func (a *access) Bytes(m device.Memory) ([]byte, error) {
	gm, err := a.owner.memory(m)
	if err != nil {
		return nil, err
	}
	if gm.dev != a.gpu.index {
		return nil, device.ErrForeignMemory
	}
	if gm.freed.Load() {
		return nil, device.ErrMemoryFreed
	}
	if v, ok := a.views[gm]; ok {
		return v.data, nil
	}
	data, err := a.gpu.read(gm, 0, gm.size)
	if err != nil {
		return nil, err
	}
	a.views[gm] = &view{data: data, orig: bytes.Clone(data)}
	return data, nil
}

// flush writes changed views back to their buffers.
func (a *access) flush() error {
	for gm, v := range a.views {
		if gm.freed.Load() || bytes.Equal(v.data, v.orig) {
			continue
		}
		if err := a.gpu.write(gm, 0, v.data); err != nil {
			return err
		}
		a.owner.writeBacks.Add(1)
	}
	clear(a.views)
	return nil
}
