package kernel

import (
	"fmt"
	"sort"

	"github.com/chewxy/math32"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/handler"
	"github.com/gogpu/volren/internal/mat"
	"github.com/gogpu/volren/internal/parallel"
)

// Ray caster defaults.
const (
	DefaultStepSize         = 1.0
	DefaultEarlyTermination = 0.98

	rowGrain = 8
)

// RayCasterOption configures a RayCaster.
type RayCasterOption func(*RayCaster)

// WithWorkerPool runs rows on p instead of the shared pool.
func WithWorkerPool(p *parallel.WorkerPool) RayCasterOption {
	return func(r *RayCaster) { r.pool = p }
}

// WithStepSize sets the sampling distance in voxels.
func WithStepSize(voxels float32) RayCasterOption {
	return func(r *RayCaster) {
		if voxels > 0 {
			r.step = voxels
		}
	}
}

// WithEarlyTermination sets the accumulated opacity at which a ray stops.
func WithEarlyTermination(alpha float32) RayCasterOption {
	return func(r *RayCaster) {
		if alpha > 0 && alpha <= 1 {
			r.earlyTermination = alpha
		}
	}
}

type frame struct {
	mem  device.Memory
	dims [3]int
}

// RayCaster is a front-to-back emission-absorption ray caster that runs
// on the host inside Driver.Launch. Every driver executes it in stream
// order, so it exercises the same coordination path a device kernel would.
//
// A RayCaster belongs to one mapper and is not safe for concurrent use;
// the launched work is.
type RayCaster struct {
	pool             *parallel.WorkerPool
	step             float32
	earlyTermination float32

	owner   Executor
	frames  map[int]frame
	current int
	loaded  bool
}

var _ Kernel = (*RayCaster)(nil)

// NewRayCaster creates a ray caster.
func NewRayCaster(opts ...RayCasterOption) *RayCaster {
	r := &RayCaster{
		step:             DefaultStepSize,
		earlyTermination: DefaultEarlyTermination,
		frames:           make(map[int]frame),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = parallel.Shared()
	}
	return r
}

// LoadFrame uploads a frame. The first loaded frame becomes current.
func (r *RayCaster) LoadFrame(ex Executor, index int, data []float32, dims [3]int) error {
	n := dims[0] * dims[1] * dims[2]
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 || len(data) != n {
		return fmt.Errorf("%w: %d samples for %v", ErrFrameSize, len(data), dims)
	}
	if r.owner != nil && r.owner != ex {
		if err := r.ClearFrames(); err != nil {
			return err
		}
	}
	r.owner = ex

	if old, ok := r.frames[index]; ok {
		if err := ex.Synchronize(); err != nil {
			return fmt.Errorf("kernel: replace frame %d: %w", index, err)
		}
		if err := ex.Free(old.mem); err != nil {
			return fmt.Errorf("kernel: replace frame %d: %w", index, err)
		}
		delete(r.frames, index)
	}

	m, err := ex.Alloc(n * 4)
	if err != nil {
		return fmt.Errorf("kernel: load frame %d: %w", index, err)
	}
	if err := ex.Upload(m, 0, device.Float32Bytes(data)); err != nil {
		_ = ex.Free(m)
		return fmt.Errorf("kernel: load frame %d: %w", index, err)
	}
	r.frames[index] = frame{mem: m, dims: dims}
	if !r.loaded {
		r.current = index
		r.loaded = true
	}
	return nil
}

// ChangeFrame selects a loaded frame.
func (r *RayCaster) ChangeFrame(index int) error {
	if _, ok := r.frames[index]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownFrame, index)
	}
	r.current = index
	return nil
}

// CurrentFrame returns the selected frame.
func (r *RayCaster) CurrentFrame() (int, bool) { return r.current, r.loaded }

// Frames returns the loaded frame indices in ascending order.
func (r *RayCaster) Frames() []int {
	out := make([]int, 0, len(r.frames))
	for i := range r.frames {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// ClearFrames drains the owner's stream and frees every frame.
func (r *RayCaster) ClearFrames() error {
	if r.owner == nil {
		return nil
	}
	if err := r.owner.Synchronize(); err != nil {
		return fmt.Errorf("kernel: clear frames: %w", err)
	}
	var first error
	for i, f := range r.frames {
		if err := r.owner.Free(f.mem); err != nil && first == nil {
			first = fmt.Errorf("kernel: free frame %d: %w", i, err)
		}
	}
	clear(r.frames)
	r.loaded = false
	r.current = 0
	r.owner = nil
	return first
}

// Render enqueues ray setup followed by ray marching.
func (r *RayCaster) Render(ex Executor, p Params) error {
	if !p.complete() {
		return ErrIncompleteParams
	}
	f, ok := r.frames[r.current]
	if !r.loaded || !ok {
		return ErrNoFrame
	}
	if err := ex.Launch(func(acc device.Access) error { return r.setup(acc, &p) }); err != nil {
		return fmt.Errorf("kernel: launch ray setup: %w", err)
	}
	if err := ex.Launch(func(acc device.Access) error { return r.march(acc, &p, f) }); err != nil {
		return fmt.Errorf("kernel: launch ray march: %w", err)
	}
	return nil
}

// rays are the per-pixel ray buffers.
type rays struct {
	startX, startY, startZ []float32
	incX, incY, incZ       []float32
	steps                  []float32
}

func bindRays(acc device.Access, o *handler.OutputImageInfo) (rays, error) {
	var rs rays
	targets := []struct {
		dst *[]float32
		mem device.Memory
	}{
		{&rs.startX, o.RayStartX}, {&rs.startY, o.RayStartY}, {&rs.startZ, o.RayStartZ},
		{&rs.incX, o.RayIncX}, {&rs.incY, o.RayIncY}, {&rs.incZ, o.RayIncZ},
		{&rs.steps, o.NumSteps},
	}
	n := o.Pixels()
	for _, t := range targets {
		b, err := acc.Bytes(t.mem)
		if err != nil {
			return rs, err
		}
		f := device.Float32s(b)
		if len(f) < n {
			return rs, fmt.Errorf("%w: ray buffer holds %d of %d pixels", ErrIncompleteParams, len(f), n)
		}
		*t.dst = f
	}
	return rs, nil
}

func readSnapshots(acc device.Access, p *Params) (handler.VolumeInfo, handler.RendererInfo, error) {
	vb, err := acc.Bytes(p.Volume)
	if err != nil {
		return handler.VolumeInfo{}, handler.RendererInfo{}, err
	}
	vi, err := handler.UnmarshalVolumeInfo(vb)
	if err != nil {
		return vi, handler.RendererInfo{}, err
	}
	rb, err := acc.Bytes(p.Renderer)
	if err != nil {
		return vi, handler.RendererInfo{}, err
	}
	ri, err := handler.UnmarshalRendererInfo(rb)
	if err != nil {
		return vi, ri, err
	}
	if ri.Resolution != p.Output.Resolution {
		return vi, ri, fmt.Errorf("%w: renderer resolution %v, output %v",
			ErrIncompleteParams, ri.Resolution, p.Output.Resolution)
	}
	return vi, ri, nil
}

// setup computes the entry point, increment and step count of every ray,
// clipped to the volume bounds and the clipping planes.
func (r *RayCaster) setup(acc device.Access, p *Params) error {
	vi, ri, err := readSnapshots(acc, p)
	if err != nil {
		return err
	}
	rs, err := bindRays(acc, &p.Output)
	if err != nil {
		return err
	}

	w, h := int(ri.Resolution[0]), int(ri.Resolution[1])
	m := mat.Mat4(ri.ViewToVoxels)
	planes := make([]mat.Plane, ri.NumClippingPlanes)
	for i := range planes {
		copy(planes[i][:], ri.ClippingPlanes[4*i:4*i+4])
	}

	r.pool.For(h, rowGrain, func(lo, hi int) {
		for y := lo; y < hi; y++ {
			v := (float32(y) + 0.5) / float32(h)
			for x := range w {
				u := (float32(x) + 0.5) / float32(w)
				i := y*w + x

				o := m.TransformPoint(mat.Vec3{u, v, 0})
				d := m.TransformPoint(mat.Vec3{u, v, 1}).Sub(o)
				t0, t1 := clipBox(o, d, vi.Bounds)
				for _, pl := range planes {
					t0, t1 = clipPlane(o, d, pl, t0, t1)
				}

				steps := float32(0)
				var start, inc mat.Vec3
				if t1 > t0 {
					length := d.Len() * (t1 - t0)
					steps = math32.Ceil(length / r.step)
					start = o.Add(d.Scale(t0))
					inc = d.Normalize().Scale(r.step)
				}
				rs.startX[i], rs.startY[i], rs.startZ[i] = start[0], start[1], start[2]
				rs.incX[i], rs.incY[i], rs.incZ[i] = inc[0], inc[1], inc[2]
				rs.steps[i] = steps
			}
		}
	})
	return nil
}

// clipBox intersects o + t·d, t in [0, 1], with the axis-aligned bounds.
func clipBox(o, d mat.Vec3, b [6]float32) (float32, float32) {
	t0, t1 := float32(0), float32(1)
	for axis := range 3 {
		lo, hi := b[2*axis], b[2*axis+1]
		if d[axis] == 0 {
			if o[axis] < lo || o[axis] > hi {
				return 0, 0
			}
			continue
		}
		a := (lo - o[axis]) / d[axis]
		c := (hi - o[axis]) / d[axis]
		if a > c {
			a, c = c, a
		}
		t0 = math32.Max(t0, a)
		t1 = math32.Min(t1, c)
	}
	return t0, t1
}

// clipPlane keeps the part of o + t·d on the positive side of pl.
func clipPlane(o, d mat.Vec3, pl mat.Plane, t0, t1 float32) (float32, float32) {
	f0 := pl.Eval(o)
	dn := pl[0]*d[0] + pl[1]*d[1] + pl[2]*d[2]
	if dn == 0 {
		if f0 < 0 {
			return 0, 0
		}
		return t0, t1
	}
	t := -f0 / dn
	if dn > 0 {
		return math32.Max(t0, t), t1
	}
	return t0, math32.Min(t1, t)
}

// tables are the transfer-function tables bound for one render.
type tables struct {
	info                   handler.TransferFunctionInfo
	r, g, b, alpha, galpha []float32
	last                   float32
}

func bindTables(acc device.Access, p *Params) (tables, error) {
	var t tables
	ib, err := acc.Bytes(p.Transfer)
	if err != nil {
		return t, err
	}
	if t.info, err = handler.UnmarshalTransferFunctionInfo(ib); err != nil {
		return t, err
	}
	n := int(t.info.FunctionSize)
	if n <= 0 {
		return t, fmt.Errorf("%w: transfer function size %d", ErrIncompleteParams, n)
	}
	for i, dst := range []*[]float32{&t.r, &t.g, &t.b, &t.alpha, &t.galpha} {
		b, err := acc.Bytes(p.Tables[i])
		if err != nil {
			return t, err
		}
		if *dst = device.Float32s(b); len(*dst) < n {
			return t, fmt.Errorf("%w: table %d holds %d of %d entries", ErrIncompleteParams, i, len(*dst), n)
		}
	}
	t.last = float32(n - 1)
	return t, nil
}

func (t *tables) index(v, low, mul float32) int {
	return int(mat.Clamp((v-low)*mul, 0, 1)*t.last + 0.5)
}

// march composites every ray front to back into the output image.
func (r *RayCaster) march(acc device.Access, p *Params, f frame) error {
	vi, ri, err := readSnapshots(acc, p)
	if err != nil {
		return err
	}
	for i := range 3 {
		if int(vi.VolumeSize[i]) != f.dims[i] {
			return fmt.Errorf("%w: volume info %v, frame %v", ErrFrameSize, vi.VolumeSize, f.dims)
		}
	}
	rs, err := bindRays(acc, &p.Output)
	if err != nil {
		return err
	}
	tf, err := bindTables(acc, p)
	if err != nil {
		return err
	}
	vb, err := acc.Bytes(f.mem)
	if err != nil {
		return err
	}
	out, err := acc.Bytes(p.Output.Output)
	if err != nil {
		return err
	}

	s := sampler{
		data:  device.Float32s(vb),
		nx:    f.dims[0],
		ny:    f.dims[1],
		nz:    f.dims[2],
		recip: mat.Vec3(vi.SpacingReciprocal),
	}
	w, h := int(ri.Resolution[0]), int(ri.Resolution[1])

	r.pool.For(h, rowGrain, func(lo, hi int) {
		for y := lo; y < hi; y++ {
			for x := range w {
				i := y*w + x
				rgba := r.composite(&s, &tf, &vi, &ri, rs, i)
				for c := range 4 {
					out[4*i+c] = byte(mat.Clamp(rgba[c], 0, 1)*255 + 0.5)
				}
			}
		}
	})
	return nil
}

func (r *RayCaster) composite(s *sampler, tf *tables, vi *handler.VolumeInfo, ri *handler.RendererInfo,
	rs rays, i int) [4]float32 {
	var acc [4]float32
	steps := int(rs.steps[i])
	pos := mat.Vec3{rs.startX[i], rs.startY[i], rs.startZ[i]}
	inc := mat.Vec3{rs.incX[i], rs.incY[i], rs.incZ[i]}
	dir := inc.Normalize()

	for range steps {
		sample := s.trilinear(pos)
		pos = pos.Add(inc)

		k := tf.index(sample, tf.info.IntensityLow, tf.info.IntensityMultiplier)
		a := tf.alpha[k]
		if a <= 0 {
			continue
		}

		g := s.gradient(pos.Sub(inc))
		gm := g.Len()
		a *= tf.galpha[tf.index(gm, tf.info.GradientLow, tf.info.GradientMultiplier)]

		light := float32(1)
		if gm > 0 {
			nd := math32.Abs(g.Scale(1 / gm).Dot(dir))
			light = vi.Ambient + vi.Diffuse*nd + vi.Specular[0]*math32.Pow(nd, vi.Specular[1])
			light *= ri.GradShadeShift + ri.GradShadeScale*nd
		}

		wgt := (1 - acc[3]) * a
		acc[0] += wgt * tf.r[k] * light
		acc[1] += wgt * tf.g[k] * light
		acc[2] += wgt * tf.b[k] * light
		acc[3] += wgt
		if acc[3] >= r.earlyTermination {
			break
		}
	}
	return acc
}
