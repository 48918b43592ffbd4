package main

import (
	"fmt"
	"math"

	"github.com/gogpu/volren/host"
)

// phantomKinds maps a kind to its normalized density at a point given in
// [-1, 1]³.
var phantomKinds = map[string]func(x, y, z float64) float64{
	"sphere": func(x, y, z float64) float64 {
		r := math.Sqrt(x*x + y*y + z*z)
		// Soft edge so gradients are defined at the surface.
		return clamp01((0.8 - r) / 0.1)
	},
	"shells": func(x, y, z float64) float64 {
		r := math.Sqrt(x*x + y*y + z*z)
		if r > 0.9 {
			return 0
		}
		return 0.5 + 0.5*math.Cos(r*4*math.Pi)
	},
	"cube": func(x, y, z float64) float64 {
		if math.Abs(x) < 0.5 && math.Abs(y) < 0.5 && math.Abs(z) < 0.5 {
			return 1
		}
		return 0
	},
}

// NewPhantom generates a synthetic volume of the configured kind and
// scalar type with unit spacing.
func NewPhantom(pc PhantomConfig) (*host.ImageData, error) {
	fn, ok := phantomKinds[pc.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: phantom kind %q", errInvalidConfig, pc.Kind)
	}
	switch pc.Type {
	case "uint8":
		return phantom[uint8](fn, pc.Size, pc.Value)
	case "int16":
		return phantom[int16](fn, pc.Size, pc.Value)
	case "uint16":
		return phantom[uint16](fn, pc.Size, pc.Value)
	case "float32":
		return phantom[float32](fn, pc.Size, pc.Value)
	default:
		return nil, fmt.Errorf("%w: phantom type %q", errInvalidConfig, pc.Type)
	}
}

func phantom[T host.Scalar](fn func(x, y, z float64) float64, n int, value float64) (*host.ImageData, error) {
	data := make([]T, n*n*n)
	step := 2 / float64(n-1)
	for k := range n {
		z := float64(k)*step - 1
		for j := range n {
			y := float64(j)*step - 1
			for i := range n {
				x := float64(i)*step - 1
				data[i+n*(j+n*k)] = T(fn(x, y, z) * value)
			}
		}
	}
	return host.NewImage([3]int{n, n, n}, [3]float64{1, 1, 1}, data)
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
