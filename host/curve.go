package host

import (
	"sort"
	"sync"
)

// PiecewiseCurve maps a scalar to one value, e.g. opacity.
type PiecewiseCurve interface {
	MTimer

	// Range returns the scalar domain covered by the curve's points.
	Range() (lo, hi float64)

	// Table samples n evenly spaced values over [lo, hi] into out[:n].
	Table(lo, hi float64, n int, out []float32)
}

// ColorCurve maps a scalar to RGB.
type ColorCurve interface {
	MTimer

	// Range returns the scalar domain covered by the curve's points.
	Range() (lo, hi float64)

	// Table samples n evenly spaced colors over [lo, hi] into out[:3n],
	// interleaved R, G, B.
	Table(lo, hi float64, n int, out []float32)
}

// ControlPoint is one node of a PiecewiseFunction.
type ControlPoint struct {
	X, Y float64
}

// PiecewiseFunction is a piecewise-linear PiecewiseCurve. Outside its
// points it holds the first and last value.
//
// PiecewiseFunction is safe for concurrent use.
type PiecewiseFunction struct {
	Modified

	mu     sync.RWMutex
	points []ControlPoint
}

var _ PiecewiseCurve = (*PiecewiseFunction)(nil)

// NewPiecewiseFunction creates a function from points in any order.
func NewPiecewiseFunction(points ...ControlPoint) *PiecewiseFunction {
	f := &PiecewiseFunction{}
	f.SetPoints(points...)
	return f
}

// SetPoints replaces every point.
func (f *PiecewiseFunction) SetPoints(points ...ControlPoint) {
	f.mu.Lock()
	f.points = append(f.points[:0], points...)
	sort.SliceStable(f.points, func(i, j int) bool { return f.points[i].X < f.points[j].X })
	f.mu.Unlock()
	f.Touch()
}

// AddPoint inserts a point, replacing one at the same X.
func (f *PiecewiseFunction) AddPoint(x, y float64) {
	f.mu.Lock()
	i := sort.Search(len(f.points), func(i int) bool { return f.points[i].X >= x })
	if i < len(f.points) && f.points[i].X == x {
		f.points[i].Y = y
	} else {
		f.points = append(f.points, ControlPoint{})
		copy(f.points[i+1:], f.points[i:])
		f.points[i] = ControlPoint{X: x, Y: y}
	}
	f.mu.Unlock()
	f.Touch()
}

// Points returns a copy of the points sorted by X.
func (f *PiecewiseFunction) Points() []ControlPoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]ControlPoint(nil), f.points...)
}

// Range returns the X extent of the points, (0, 0) when empty.
func (f *PiecewiseFunction) Range() (lo, hi float64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.points) == 0 {
		return 0, 0
	}
	return f.points[0].X, f.points[len(f.points)-1].X
}

// Value evaluates the function at x.
func (f *PiecewiseFunction) Value(x float64) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.valueLocked(x)
}

func (f *PiecewiseFunction) valueLocked(x float64) float64 {
	n := len(f.points)
	if n == 0 {
		return 0
	}
	if x <= f.points[0].X {
		return f.points[0].Y
	}
	if x >= f.points[n-1].X {
		return f.points[n-1].Y
	}
	i := sort.Search(n, func(i int) bool { return f.points[i].X >= x })
	a, b := f.points[i-1], f.points[i]
	t := (x - a.X) / (b.X - a.X)
	return a.Y + t*(b.Y-a.Y)
}

// Table samples n values over [lo, hi]. An empty function leaves out
// untouched.
func (f *PiecewiseFunction) Table(lo, hi float64, n int, out []float32) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.points) == 0 {
		return
	}
	for i := 0; i < n && i < len(out); i++ {
		out[i] = float32(f.valueLocked(sampleAt(lo, hi, n, i)))
	}
}

// ColorPoint is one node of a ColorTransferFunction.
type ColorPoint struct {
	X       float64
	R, G, B float64
}

// ColorTransferFunction is a piecewise-linear ColorCurve in RGB.
//
// ColorTransferFunction is safe for concurrent use.
type ColorTransferFunction struct {
	Modified

	mu     sync.RWMutex
	points []ColorPoint
}

var _ ColorCurve = (*ColorTransferFunction)(nil)

// NewColorTransferFunction creates a function from points in any order.
func NewColorTransferFunction(points ...ColorPoint) *ColorTransferFunction {
	f := &ColorTransferFunction{}
	f.SetPoints(points...)
	return f
}

// SetPoints replaces every point.
func (f *ColorTransferFunction) SetPoints(points ...ColorPoint) {
	f.mu.Lock()
	f.points = append(f.points[:0], points...)
	sort.SliceStable(f.points, func(i, j int) bool { return f.points[i].X < f.points[j].X })
	f.mu.Unlock()
	f.Touch()
}

// AddRGBPoint inserts a point, replacing one at the same X.
func (f *ColorTransferFunction) AddRGBPoint(x, r, g, b float64) {
	f.mu.Lock()
	i := sort.Search(len(f.points), func(i int) bool { return f.points[i].X >= x })
	p := ColorPoint{X: x, R: r, G: g, B: b}
	if i < len(f.points) && f.points[i].X == x {
		f.points[i] = p
	} else {
		f.points = append(f.points, ColorPoint{})
		copy(f.points[i+1:], f.points[i:])
		f.points[i] = p
	}
	f.mu.Unlock()
	f.Touch()
}

// Range returns the X extent of the points, (0, 0) when empty.
func (f *ColorTransferFunction) Range() (lo, hi float64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.points) == 0 {
		return 0, 0
	}
	return f.points[0].X, f.points[len(f.points)-1].X
}

// Color evaluates the function at x.
func (f *ColorTransferFunction) Color(x float64) (r, g, b float64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.colorLocked(x)
}

func (f *ColorTransferFunction) colorLocked(x float64) (float64, float64, float64) {
	n := len(f.points)
	if n == 0 {
		return 0, 0, 0
	}
	if x <= f.points[0].X {
		p := f.points[0]
		return p.R, p.G, p.B
	}
	if x >= f.points[n-1].X {
		p := f.points[n-1]
		return p.R, p.G, p.B
	}
	i := sort.Search(n, func(i int) bool { return f.points[i].X >= x })
	a, b := f.points[i-1], f.points[i]
	t := (x - a.X) / (b.X - a.X)
	return a.R + t*(b.R-a.R), a.G + t*(b.G-a.G), a.B + t*(b.B-a.B)
}

// Table samples n colors over [lo, hi], interleaved.
func (f *ColorTransferFunction) Table(lo, hi float64, n int, out []float32) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.points) == 0 {
		return
	}
	for i := 0; i < n && 3*i+2 < len(out); i++ {
		r, g, b := f.colorLocked(sampleAt(lo, hi, n, i))
		out[3*i] = float32(r)
		out[3*i+1] = float32(g)
		out[3*i+2] = float32(b)
	}
}

// sampleAt returns the i-th of n evenly spaced positions over [lo, hi].
func sampleAt(lo, hi float64, n, i int) float64 {
	if n <= 1 {
		return lo
	}
	return lo + (hi-lo)*float64(i)/float64(n-1)
}
