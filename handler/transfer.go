package handler

import (
	"fmt"
	"math"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/host"
)

// FunctionSize is the number of entries in each transfer-function table.
const FunctionSize = 512

// rangeEpsilon floors the width of a table's domain.
const rangeEpsilon = 1e-6

// Table indices into the five device tables.
const (
	tableR = iota
	tableG
	tableB
	tableAlpha
	tableGradientAlpha
	numTables
)

// TransferFunctionHandler samples the color, opacity and gradient opacity
// curves into device tables.
//
// Handlers of one registry share its transfer-function lock. Callers hold
// Registry.LockTransferFunctions around Update and the kernel launch that
// reads the tables.
type TransferFunctionHandler struct {
	*device.Resource

	color    host.ColorCurve
	opacity  host.PiecewiseCurve
	gradient host.PiecewiseCurve
	image    host.Image

	lastModified uint64
	info         TransferFunctionInfo
	tables       [numTables]device.Memory
	host         [numTables][]float32
	constant     constant
	uploads      int
}

// NewTransferFunctionHandler creates a transfer-function handler on
// device 0 of reg.
func NewTransferFunctionHandler(reg *device.Registry) (*TransferFunctionHandler, error) {
	h := &TransferFunctionHandler{constant: constant{size: TransferFunctionInfoSize}}
	res, err := device.NewResource(reg, "transfer-function-info", h)
	if err != nil {
		return nil, err
	}
	h.Resource = res
	return h, nil
}

// SetColorCurve sets the RGB curve. Setting the curve already held is a
// no-op; any other curve forces the next Update to rebuild.
func (h *TransferFunctionHandler) SetColorCurve(c host.ColorCurve) {
	if c == h.color {
		return
	}
	h.color = c
	h.lastModified = 0
}

// SetOpacityCurve sets the scalar opacity curve.
func (h *TransferFunctionHandler) SetOpacityCurve(c host.PiecewiseCurve) {
	if c == h.opacity {
		return
	}
	h.opacity = c
	h.lastModified = 0
}

// SetGradientOpacityCurve sets the gradient opacity curve. A nil curve
// leaves the gradient opacity table at 1.
func (h *TransferFunctionHandler) SetGradientOpacityCurve(c host.PiecewiseCurve) {
	if c == h.gradient {
		return
	}
	h.gradient = c
	h.lastModified = 0
}

// SetImage sets the image whose scalar range clamps the intensity range.
func (h *TransferFunctionHandler) SetImage(im host.Image) {
	if im == h.image {
		return
	}
	h.image = im
	h.lastModified = 0
}

// SetCurves binds all three curves from a volume property.
func (h *TransferFunctionHandler) SetCurves(p host.Property) {
	if p == nil {
		return
	}
	h.SetColorCurve(p.Color())
	h.SetOpacityCurve(p.ScalarOpacity())
	h.SetGradientOpacityCurve(p.GradientOpacity())
}

// Replicate copies the curve and image bindings of src.
func (h *TransferFunctionHandler) Replicate(src *TransferFunctionHandler) {
	h.color = src.color
	h.opacity = src.opacity
	h.gradient = src.gradient
	h.image = src.image
	h.lastModified = 0
}

// Info returns the current snapshot.
func (h *TransferFunctionHandler) Info() TransferFunctionInfo { return h.info }

// Constant returns the device buffer holding the marshaled snapshot.
func (h *TransferFunctionHandler) Constant() device.Memory { return h.constant.mem }

// Uploads returns how many times the tables have been uploaded.
func (h *TransferFunctionHandler) Uploads() int { return h.uploads }

// LastModified returns the cached curve timestamp.
func (h *TransferFunctionHandler) LastModified() uint64 { return h.lastModified }

// Update resamples and uploads the tables if the color or opacity curve
// changed since the last upload. It reports whether an upload happened.
// On failure the previous snapshot is kept.
func (h *TransferFunctionHandler) Update() (bool, error) {
	if err := h.Err(); err != nil {
		return false, err
	}
	if h.color == nil || h.opacity == nil {
		return false, nil
	}
	mt := max(h.color.MTime(), h.opacity.MTime())
	if mt <= h.lastModified {
		return false, nil
	}

	info := TransferFunctionInfo{FunctionSize: FunctionSize}
	lo, hi := h.opacity.Range()
	if h.image != nil {
		slo, shi := h.image.ScalarRange()
		lo, hi = math.Max(lo, slo), math.Min(hi, shi)
	}
	if hi < lo {
		hi = lo
	}
	glo, ghi := 0.0, 1.0
	if h.gradient != nil {
		if a, b := h.gradient.Range(); b > a {
			glo, ghi = a, b
		}
	}
	info.IntensityLow = float32(lo)
	info.IntensityMultiplier = float32(1 / math.Max(hi-lo, rangeEpsilon))
	info.GradientLow = float32(glo)
	info.GradientMultiplier = float32(1 / math.Max(ghi-glo, rangeEpsilon))

	tables := sampleTables(h.color, h.opacity, h.gradient, lo, hi, glo, ghi)
	if err := h.upload(tables, &info); err != nil {
		return false, err
	}

	h.host = tables
	h.info = info
	h.lastModified = mt
	h.uploads++
	slogger().Debug("handler: transfer function uploaded", "object", h.Label(),
		"range", [2]float64{lo, hi}, "gradient", [2]float64{glo, ghi})
	return true, nil
}

func sampleTables(color host.ColorCurve, opacity, gradient host.PiecewiseCurve,
	lo, hi, glo, ghi float64) [numTables][]float32 {
	var t [numTables][]float32
	for i := range t {
		t[i] = make([]float32, FunctionSize)
	}
	for i := range FunctionSize {
		t[tableAlpha][i] = 1
		t[tableGradientAlpha][i] = 1
	}

	rgb := make([]float32, 3*FunctionSize)
	color.Table(lo, hi, FunctionSize, rgb)
	for i := range FunctionSize {
		t[tableR][i] = rgb[3*i]
		t[tableG][i] = rgb[3*i+1]
		t[tableB][i] = rgb[3*i+2]
	}
	opacity.Table(lo, hi, FunctionSize, t[tableAlpha])
	if gradient != nil {
		gradient.Table(glo, ghi, FunctionSize, t[tableGradientAlpha])
	}
	return t
}

// upload allocates missing device tables and copies tables into them.
// Tables allocated by a failed call are freed again.
func (h *TransferFunctionHandler) upload(tables [numTables][]float32, info *TransferFunctionInfo) error {
	var fresh []int
	for i := range h.tables {
		if h.tables[i] != nil {
			continue
		}
		m, err := h.Alloc(FunctionSize * 4)
		if err != nil {
			for _, j := range fresh {
				_ = h.Free(h.tables[j])
				h.tables[j] = nil
			}
			return fmt.Errorf("handler: allocate transfer function table: %w", err)
		}
		h.tables[i] = m
		fresh = append(fresh, i)
	}
	h.MarkResident(true)

	for i, t := range tables {
		if err := h.Upload(h.tables[i], 0, device.Float32Bytes(t)); err != nil {
			return fmt.Errorf("handler: upload transfer function table: %w", err)
		}
	}
	info.ColorR = h.tables[tableR]
	info.ColorG = h.tables[tableG]
	info.ColorB = h.tables[tableB]
	info.Alpha = h.tables[tableAlpha]
	info.GradientAlpha = h.tables[tableGradientAlpha]

	if err := h.constant.upload(h.Resource, info.Marshal()); err != nil {
		return fmt.Errorf("handler: upload transfer function info: %w", err)
	}
	return nil
}

// Deinitialize frees the device tables. Host tables are always kept, so
// preserve only affects Reinitialize.
func (h *TransferFunctionHandler) Deinitialize(preserve bool) {
	for i, m := range h.tables {
		if m == nil {
			continue
		}
		if err := h.Free(m); err != nil {
			slogger().Warn("handler: free transfer function table", "object", h.Label(), "err", err)
		}
		h.tables[i] = nil
	}
	h.constant.free(h.Resource)
	scalars := h.info
	scalars.ColorR, scalars.ColorG, scalars.ColorB = nil, nil, nil
	scalars.Alpha, scalars.GradientAlpha = nil, nil
	h.info = scalars
	if !preserve {
		h.host = [numTables][]float32{}
	}
}

// Reinitialize rebuilds the device tables on the current device. With
// preserve set the host tables are uploaded as they are; otherwise the
// curves are sampled again.
func (h *TransferFunctionHandler) Reinitialize(preserve bool) error {
	if preserve && h.host[0] != nil {
		info := h.info
		if err := h.upload(h.host, &info); err != nil {
			return err
		}
		h.info = info
		return nil
	}
	h.lastModified = 0
	_, err := h.Update()
	return err
}
