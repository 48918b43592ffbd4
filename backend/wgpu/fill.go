package wgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

const (
	fillWorkgroupSize = 64
	maxWorkgroups     = 65535
	fillParamsSize    = 16
)

const fillShaderWGSL = `
struct Params {
    value: u32,
    count: u32,
    pad0: u32,
    pad1: u32,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x < params.count) {
        data[id.x] = params.value;
    }
}
`

// fillPipeline writes a 32-bit pattern over a storage buffer.
type fillPipeline struct {
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// compileWGSL compiles WGSL to SPIR-V words.
func compileWGSL(src string) ([]uint32, error) {
	spirv, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile shader: %w", err)
	}
	if len(spirv)%4 != 0 {
		return nil, fmt.Errorf("wgpu: SPIR-V length %d is not a multiple of 4", len(spirv))
	}
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirv[i*4:])
	}
	return words, nil
}

func newFillPipeline(dev hal.Device) (*fillPipeline, error) {
	code, err := compileWGSL(fillShaderWGSL)
	if err != nil {
		return nil, err
	}

	p := &fillPipeline{}
	p.shader, err = dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "volren_fill",
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fill shader module: %w", err)
	}

	p.bindLayout, err = dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "volren_fill_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		p.destroy(dev)
		return nil, fmt.Errorf("wgpu: create fill bind group layout: %w", err)
	}

	p.pipeLayout, err = dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "volren_fill_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		p.destroy(dev)
		return nil, fmt.Errorf("wgpu: create fill pipeline layout: %w", err)
	}

	p.pipeline, err = dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   "volren_fill_pipeline",
		Layout:  p.pipeLayout,
		Compute: hal.ComputeState{Module: p.shader, EntryPoint: "main"},
	})
	if err != nil {
		p.destroy(dev)
		return nil, fmt.Errorf("wgpu: create fill pipeline: %w", err)
	}
	return p, nil
}

// fits reports whether words can be filled with one dispatch.
func (p *fillPipeline) fits(words int) bool {
	return (words+fillWorkgroupSize-1)/fillWorkgroupSize <= maxWorkgroups
}

// run dispatches the fill. The caller holds g.mu.
func (p *fillPipeline) run(g *gpuDevice, m *memory, value uint32, words int) error {
	params := make([]byte, fillParamsSize)
	binary.LittleEndian.PutUint32(params[0:], value)
	binary.LittleEndian.PutUint32(params[4:], uint32(words)) //nolint:gosec // bounded by fits

	ub, err := g.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "volren_fill_params",
		Size:  fillParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create fill params: %w", err)
	}
	defer g.device.DestroyBuffer(ub)
	if err := g.queue.WriteBuffer(ub, 0, params); err != nil {
		return fmt.Errorf("wgpu: write fill params: %w", err)
	}

	bg, err := g.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "volren_fill_bind",
		Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: fillParamsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: m.buf.NativeHandle(), Offset: 0, Size: uint64(m.padded)}},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create fill bind group: %w", err)
	}
	defer g.device.DestroyBindGroup(bg)

	groups := uint32((words + fillWorkgroupSize - 1) / fillWorkgroupSize) //nolint:gosec // bounded by fits
	return g.submitLocked("volren_fill", func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "volren_fill"})
		pass.SetPipeline(p.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(groups, 1, 1)
		pass.End()
	})
}

func (p *fillPipeline) destroy(dev hal.Device) {
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.shader != nil {
		dev.DestroyShaderModule(p.shader)
	}
}
