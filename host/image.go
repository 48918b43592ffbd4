package host

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrInvalidImage is returned when image geometry and samples disagree.
var ErrInvalidImage = errors.New("host: invalid image")

// Image is a 3D scalar volume.
type Image interface {
	MTimer

	// Dimensions returns the number of samples along X, Y and Z.
	Dimensions() [3]int

	// Spacing returns the distance between samples along X, Y and Z.
	Spacing() [3]float64

	// Origin returns the world position of the first sample.
	Origin() [3]float64

	// ScalarKind returns the sample type.
	ScalarKind() ScalarKind

	// ScalarRange returns the minimum and maximum sample.
	ScalarRange() (lo, hi float64)

	// Scalars returns the samples as a slice of the Go type named by
	// ScalarKind, X varying fastest.
	Scalars() any
}

// ImageData is the reference Image.
type ImageData struct {
	Modified

	dims    [3]int
	spacing [3]float64
	origin  [3]float64
	kind    ScalarKind
	scalars any

	mu        sync.Mutex
	rangeTime uint64
	lo, hi    float64
}

var _ Image = (*ImageData)(nil)

// NewImage wraps data as an image. The slice is not copied; call Touch
// after mutating it.
func NewImage[T Scalar](dims [3]int, spacing [3]float64, data []T) (*ImageData, error) {
	n := 1
	for i, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("%w: dimension %d is %d", ErrInvalidImage, i, d)
		}
		n *= d
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: %d samples for %dx%dx%d", ErrInvalidImage, len(data), dims[0], dims[1], dims[2])
	}
	for i, s := range spacing {
		if !(s > 0) {
			return nil, fmt.Errorf("%w: spacing %d is %v", ErrInvalidImage, i, s)
		}
	}

	im := &ImageData{
		dims:    dims,
		spacing: spacing,
		kind:    KindOf[T](),
		scalars: data,
	}
	im.Touch()
	return im, nil
}

// Dimensions returns the number of samples along each axis.
func (im *ImageData) Dimensions() [3]int { return im.dims }

// Spacing returns the sample spacing.
func (im *ImageData) Spacing() [3]float64 { return im.spacing }

// Origin returns the world position of the first sample.
func (im *ImageData) Origin() [3]float64 { return im.origin }

// SetOrigin moves the image.
func (im *ImageData) SetOrigin(o [3]float64) {
	im.origin = o
	im.Touch()
}

// SetSpacing changes the sample spacing. Non-positive components are ignored.
func (im *ImageData) SetSpacing(s [3]float64) {
	for i := range s {
		if s[i] > 0 {
			im.spacing[i] = s[i]
		}
	}
	im.Touch()
}

// ScalarKind returns the sample type.
func (im *ImageData) ScalarKind() ScalarKind { return im.kind }

// Scalars returns the sample slice.
func (im *ImageData) Scalars() any { return im.scalars }

// ScalarRange returns the minimum and maximum sample. The result is
// cached until the next Touch.
func (im *ImageData) ScalarRange() (lo, hi float64) {
	im.mu.Lock()
	defer im.mu.Unlock()

	if t := im.MTime(); t != im.rangeTime {
		im.lo, im.hi = scalarRange(im.scalars)
		im.rangeTime = t
	}
	return im.lo, im.hi
}

func scalarRange(scalars any) (float64, float64) {
	switch s := scalars.(type) {
	case []int8:
		return rangeOf(s)
	case []uint8:
		return rangeOf(s)
	case []int16:
		return rangeOf(s)
	case []uint16:
		return rangeOf(s)
	case []int32:
		return rangeOf(s)
	case []uint32:
		return rangeOf(s)
	case []int64:
		return rangeOf(s)
	case []uint64:
		return rangeOf(s)
	case []float32:
		return rangeOf(s)
	case []float64:
		return rangeOf(s)
	}
	return 0, 0
}

func rangeOf[T Scalar](s []T) (float64, float64) {
	if len(s) == 0 {
		return 0, 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range s {
		f := float64(v)
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
	}
	return lo, hi
}

// Samples returns the samples of im as []T when the image holds T.
func Samples[T Scalar](im Image) ([]T, bool) {
	s, ok := im.Scalars().([]T)
	return s, ok
}
