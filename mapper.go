package volren

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/handler"
	"github.com/gogpu/volren/host"
	"github.com/gogpu/volren/internal/mat"
	"github.com/gogpu/volren/internal/parallel"
	"github.com/gogpu/volren/kernel"
)

// State is the lifecycle state of a Mapper.
type State int

const (
	// StateUninitialized means no input has been loaded.
	StateUninitialized State = iota

	// StateConfigured means an input is loaded and the mapper is idle.
	StateConfigured

	// StateRendering is held for the duration of Render.
	StateRendering

	// StateDeinitialized is entered during a device switch and after Release.
	StateDeinitialized
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateConfigured:
		return "Configured"
	case StateRendering:
		return "Rendering"
	case StateDeinitialized:
		return "Deinitialized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats holds per-mapper render counters.
type Stats struct {
	// Frames is the number of completed renders.
	Frames int

	// Skipped counts renders skipped because of a recorded error.
	Skipped int

	// MatrixUpdates counts view-to-voxels recomputations.
	MatrixUpdates int

	// LastRender is the wall time of the last completed render,
	// including display.
	LastRender time.Duration

	// Resolution is the output resolution of the last render.
	Resolution [2]int
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("frames=%d skipped=%d matrix-updates=%d last=%v resolution=%dx%d",
		s.Frames, s.Skipped, s.MatrixUpdates, s.LastRender, s.Resolution[0], s.Resolution[1])
}

// viewKey identifies the inputs of the view-to-voxels matrix.
type viewKey struct {
	camera      host.Camera
	cameraMTime uint64
	volume      host.Volume
	volumeMTime uint64
	image       host.Image
	imageMTime  uint64
	viewport    [2]int
}

// Mapper renders a volume through the information handlers and a kernel.
//
// A Mapper is not safe for concurrent use. Several mappers may share one
// registry from different goroutines.
type Mapper struct {
	*device.Resource

	opts     mapperOptions
	pool     *parallel.WorkerPool
	ownsPool bool
	kernel   kernel.Kernel

	volume   *handler.VolumeHandler
	renderer *handler.RendererHandler
	transfer *handler.TransferFunctionHandler
	output   *handler.OutputImageHandler

	state  State
	err    error
	frames map[int]host.Image
	frame  int

	view      viewKey
	viewValid bool
	planes    []mat.Plane

	stats Stats
}

// NewMapper creates a mapper on reg. A nil k selects the CPU reference
// ray caster.
func NewMapper(reg *device.Registry, k kernel.Kernel, opts ...MapperOption) (*Mapper, error) {
	o := defaultMapperOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Mapper{
		opts:   o,
		frames: make(map[int]host.Image),
	}
	if o.workers > 0 {
		m.pool = parallel.NewWorkerPool(o.workers)
		m.ownsPool = true
	} else {
		m.pool = parallel.Shared()
	}
	if k == nil {
		k = kernel.NewRayCaster(kernel.WithWorkerPool(m.pool))
	}
	m.kernel = k

	res, err := device.NewResource(reg, o.label, m)
	if err != nil {
		m.closePool()
		return nil, err
	}
	m.Resource = res

	if err := m.createHandlers(reg); err != nil {
		_ = m.Release()
		return nil, err
	}
	if err := m.output.SetScaleFactor(o.scale); err != nil {
		_ = m.Release()
		return nil, err
	}
	m.renderer.SetGradientShadingConstants(float32(o.darkness))

	if o.device != 0 {
		if err := m.SetDevice(o.device, false); err != nil {
			_ = m.Release()
			return nil, err
		}
	}
	Logger().Debug("volren: mapper created", "label", o.label, "device", m.Device())
	return m, nil
}

func (m *Mapper) createHandlers(reg *device.Registry) error {
	var err error
	if m.volume, err = handler.NewVolumeHandler(reg); err != nil {
		return err
	}
	if m.renderer, err = handler.NewRendererHandler(reg); err != nil {
		return err
	}
	if m.transfer, err = handler.NewTransferFunctionHandler(reg); err != nil {
		return err
	}
	if m.output, err = handler.NewOutputImageHandler(reg); err != nil {
		return err
	}
	return m.replicateHandlers(false)
}

// replicateHandlers moves every handler onto the mapper's device and
// stream, so their uploads and the kernel launch run in one FIFO.
func (m *Mapper) replicateHandlers(preserve bool) error {
	for _, r := range m.handlers() {
		if err := r.ReplicateObject(m.Resource, preserve); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) handlers() []*device.Resource {
	var out []*device.Resource
	if m.volume != nil {
		out = append(out, m.volume.Resource)
	}
	if m.renderer != nil {
		out = append(out, m.renderer.Resource)
	}
	if m.transfer != nil {
		out = append(out, m.transfer.Resource)
	}
	if m.output != nil {
		out = append(out, m.output.Resource)
	}
	return out
}

// State returns the lifecycle state.
func (m *Mapper) State() State { return m.state }

// Err returns the recorded configuration error, or the reason the mapper
// is unusable.
func (m *Mapper) Err() error {
	if err := m.Resource.Err(); err != nil {
		return err
	}
	return m.err
}

// Stats returns the render counters.
func (m *Mapper) Stats() Stats { return m.stats }

// Output returns the output image handler, which holds the host mirror
// of the last displayed frame.
func (m *Mapper) Output() *handler.OutputImageHandler { return m.output }

// TransferFunction returns the transfer-function handler.
func (m *Mapper) TransferFunction() *handler.TransferFunctionHandler { return m.transfer }

// Frame returns the current frame index.
func (m *Mapper) Frame() int { return m.frame }

// record stores a configuration error and returns it.
func (m *Mapper) record(err error) error {
	m.err = err
	Logger().Warn("volren: configuration error", "mapper", m.opts.label, "err", err)
	return err
}

// SetInput converts im to float32 and uploads it as frame index. The first
// loaded frame becomes current. A failure is recorded and suppresses
// rendering until the next successful SetInput or ChangeFrame.
func (m *Mapper) SetInput(im host.Image, index int) error {
	if err := m.Resource.Err(); err != nil {
		return err
	}
	if im == nil {
		return m.record(ErrNoInput)
	}
	if index < 0 {
		return m.record(fmt.Errorf("%w: %d", ErrUnknownFrame, index))
	}

	data, err := convertScalars(m.pool, im)
	if err != nil {
		return m.record(err)
	}
	if err := m.kernel.LoadFrame(m.Resource, index, data, im.Dimensions()); err != nil {
		return m.record(err)
	}
	if err := m.Synchronize(); err != nil {
		return m.record(fmt.Errorf("volren: upload frame %d: %w", index, err))
	}
	m.MarkResident(true)

	first := len(m.frames) == 0
	m.frames[index] = im
	if first || index == m.frame {
		m.frame = index
		m.bindImage(im)
	}
	m.err = nil
	m.state = StateConfigured

	Logger().Debug("volren: frame loaded", "mapper", m.opts.label, "frame", index,
		"dims", im.Dimensions(), "kind", im.ScalarKind())
	return nil
}

// bindImage forwards im to the handlers that depend on it.
func (m *Mapper) bindImage(im host.Image) {
	m.volume.SetImage(im)
	m.transfer.SetImage(im)
}

// ChangeFrame switches the frame the kernel reads without uploading.
func (m *Mapper) ChangeFrame(index int) error {
	if err := m.Resource.Err(); err != nil {
		return err
	}
	if len(m.frames) == 0 {
		return m.record(ErrNoInput)
	}
	im, ok := m.frames[index]
	if !ok {
		return m.record(fmt.Errorf("%w: %d", ErrUnknownFrame, index))
	}
	if err := m.kernel.ChangeFrame(index); err != nil {
		return m.record(err)
	}
	m.frame = index
	m.bindImage(im)
	m.err = nil
	return nil
}

// ClearInput frees every loaded frame.
func (m *Mapper) ClearInput() error {
	if err := m.Resource.Err(); err != nil {
		return err
	}
	err := m.kernel.ClearFrames()
	clear(m.frames)
	m.frame = 0
	m.bindImage(nil)
	m.MarkResident(false)
	m.viewValid = false
	m.state = StateUninitialized
	return err
}

// SetRenderOutputScaleFactor renders at 1/f of the viewport resolution.
func (m *Mapper) SetRenderOutputScaleFactor(f float64) error {
	return m.output.SetScaleFactor(f)
}

// SetGradientShadingConstants sets how much gradient-aligned samples are
// darkened, from 0 (no effect) to 1.
func (m *Mapper) SetGradientShadingConstants(darkness float64) {
	m.renderer.SetGradientShadingConstants(float32(darkness))
}

// SetClippingPlanes sets up to handler.MaxClippingPlanes planes in world
// coordinates. Points on the positive side are kept.
func (m *Mapper) SetClippingPlanes(planes []mat.Plane) error {
	var err error
	if len(planes) > handler.MaxClippingPlanes {
		err = fmt.Errorf("%w: got %d, keeping %d", handler.ErrTooManyClippingPlanes,
			len(planes), handler.MaxClippingPlanes)
		planes = planes[:handler.MaxClippingPlanes]
	}
	m.planes = append(m.planes[:0], planes...)
	m.viewValid = false
	return err
}

// Render draws the current frame for ren and vol. It skips without error
// while a configuration error is recorded, holding the last good frame.
func (m *Mapper) Render(ren host.Renderer, vol host.Volume) error {
	if err := m.Resource.Err(); err != nil {
		return err
	}
	if m.err != nil {
		m.stats.Skipped++
		return nil
	}
	if len(m.frames) == 0 {
		m.stats.Skipped++
		m.record(ErrNoInput)
		return nil
	}
	if ren == nil || vol == nil || ren.ActiveCamera() == nil {
		return ErrNilCollaborator
	}
	prop := vol.Property()
	if prop == nil || prop.Color() == nil || prop.ScalarOpacity() == nil {
		return ErrNoTransferFunction
	}

	start := time.Now()
	m.state = StateRendering
	defer func() {
		if m.state == StateRendering {
			m.state = StateConfigured
		}
	}()

	w, h := ren.Size()
	m.output.SetViewport(w, h)
	if _, err := m.output.Update(); err != nil {
		return fmt.Errorf("volren: output: %w", err)
	}
	if err := m.computeMatrices(ren, vol); err != nil {
		return err
	}

	m.volume.SetProperty(prop)
	if _, err := m.volume.Update(); err != nil {
		return fmt.Errorf("volren: volume: %w", err)
	}
	if _, err := m.renderer.Update(); err != nil {
		return fmt.Errorf("volren: renderer: %w", err)
	}

	err := m.Registry().WithTransferFunctionLock(func() error {
		m.transfer.SetCurves(prop)
		if _, err := m.transfer.Update(); err != nil {
			return fmt.Errorf("volren: transfer function: %w", err)
		}
		return m.kernel.Render(m.Resource, m.params())
	})
	if err != nil {
		return err
	}

	if err := m.output.Display(m.opts.presenter); err != nil {
		return fmt.Errorf("volren: display: %w", err)
	}

	m.stats.Frames++
	m.stats.LastRender = time.Since(start)
	m.stats.Resolution = m.output.Resolution()
	return nil
}

func (m *Mapper) params() kernel.Params {
	tf := m.transfer.Info()
	return kernel.Params{
		Volume:   m.volume.Constant(),
		Renderer: m.renderer.Constant(),
		Transfer: m.transfer.Constant(),
		Tables:   tf.Tables(),
		Output:   m.output.Prepare(),
	}
}

// computeMatrices refreshes the renderer handler's view-to-voxels matrix,
// resolution and clipping planes when the camera, the volume transform,
// the image geometry or the output resolution changed.
func (m *Mapper) computeMatrices(ren host.Renderer, vol host.Volume) error {
	cam := ren.ActiveCamera()
	im := m.frames[m.frame]
	res := m.output.Resolution()
	key := viewKey{
		camera:      cam,
		cameraMTime: cam.MTime(),
		volume:      vol,
		volumeMTime: vol.MTime(),
		image:       im,
		imageMTime:  im.MTime(),
		viewport:    res,
	}
	if m.viewValid && key == m.view {
		return nil
	}

	w, h := ren.Size()
	aspect := 1.0
	if h > 0 {
		aspect = float64(w) / float64(h)
	}
	spacing, origin := im.Spacing(), im.Origin()
	voxelsToWorld := vol.UserMatrix().Mul(host.Translation(origin)).Mul(host.Scaling(spacing))

	// NDC to view space: x and z to [0, 1], y flipped so row 0 is the top.
	ndcToView := host.Matrix4{
		0.5, 0, 0, 0.5,
		0, -0.5, 0, 0.5,
		0, 0, 0.5, 0.5,
		0, 0, 0, 1,
	}
	voxelsToView := ndcToView.
		Mul(cam.ProjectionTransform(aspect)).
		Mul(cam.ViewTransform()).
		Mul(voxelsToWorld)
	viewToVoxels, ok := voxelsToView.Invert()
	if !ok {
		return ErrSingularTransform
	}

	toWorld := mat.FromRowMajor(voxelsToWorld)
	m.renderer.SetResolution(res)
	m.renderer.SetViewToVoxels(mat.FromRowMajor(viewToVoxels))
	planes := make([]mat.Plane, len(m.planes))
	for i, pl := range m.planes {
		planes[i] = mat.TransformPlane(pl, toWorld)
	}
	if err := m.renderer.SetClippingPlanes(planes); err != nil {
		return err
	}

	m.view = key
	m.viewValid = true
	m.stats.MatrixUpdates++
	Logger().Debug("volren: matrices updated", "mapper", m.opts.label, "resolution", res)
	return nil
}

// SetDevice moves the mapper and its handlers to dev. With preserve set,
// loaded frames are uploaded again on the new device; otherwise they are
// dropped and the mapper returns to StateUninitialized.
func (m *Mapper) SetDevice(dev int, preserve bool) error {
	return m.Resource.SetDevice(dev, preserve)
}

// Deinitialize frees the loaded frames on the current device.
func (m *Mapper) Deinitialize(preserve bool) {
	m.state = StateDeinitialized
	if err := m.kernel.ClearFrames(); err != nil {
		Logger().Warn("volren: clear frames", "mapper", m.opts.label, "err", err)
	}
	if !preserve {
		clear(m.frames)
		m.frame = 0
		m.bindImage(nil)
	}
}

// Reinitialize moves the handlers onto the mapper's new stream and, with
// preserve set, uploads the frames again.
func (m *Mapper) Reinitialize(preserve bool) error {
	if err := m.replicateHandlers(preserve); err != nil {
		return err
	}
	m.viewValid = false

	if len(m.frames) == 0 {
		m.state = StateUninitialized
		return nil
	}
	current := m.frame
	for i, im := range m.frames {
		data, err := convertScalars(m.pool, im)
		if err != nil {
			return m.record(err)
		}
		if err := m.kernel.LoadFrame(m.Resource, i, data, im.Dimensions()); err != nil {
			return m.record(err)
		}
	}
	if err := m.kernel.ChangeFrame(current); err != nil {
		return m.record(err)
	}
	if err := m.Synchronize(); err != nil {
		return m.record(err)
	}
	m.MarkResident(true)
	m.state = StateConfigured
	return nil
}

// Release frees every GPU resource of the mapper and its handlers.
// The mapper refuses all work afterwards. Release is idempotent.
func (m *Mapper) Release() error {
	if m.Resource == nil {
		m.closePool()
		return nil
	}
	if errors.Is(m.Resource.Err(), device.ErrResourceReleased) {
		return nil
	}
	var errs []error
	if err := m.Resource.Release(); err != nil {
		errs = append(errs, err)
	}
	for _, r := range m.handlers() {
		if err := r.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closePool()
	m.state = StateDeinitialized
	return errors.Join(errs...)
}

func (m *Mapper) closePool() {
	if m.ownsPool {
		m.pool.Close()
	}
}
