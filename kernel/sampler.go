package kernel

import (
	"github.com/chewxy/math32"

	"github.com/gogpu/volren/internal/mat"
)

// sampler reads a float32 volume with clamp-to-edge addressing.
type sampler struct {
	data       []float32
	nx, ny, nz int
	recip      mat.Vec3
}

func (s *sampler) at(x, y, z int) float32 {
	x = min(max(x, 0), s.nx-1)
	y = min(max(y, 0), s.ny-1)
	z = min(max(z, 0), s.nz-1)
	return s.data[x+s.nx*(y+s.ny*z)]
}

func split(v float32, n int) (int, float32) {
	v = mat.Clamp(v, 0, float32(n-1))
	i := int(math32.Floor(v))
	return i, v - float32(i)
}

// trilinear interpolates at p in voxel coordinates.
func (s *sampler) trilinear(p mat.Vec3) float32 {
	x, fx := split(p[0], s.nx)
	y, fy := split(p[1], s.ny)
	z, fz := split(p[2], s.nz)

	c00 := lerp(s.at(x, y, z), s.at(x+1, y, z), fx)
	c10 := lerp(s.at(x, y+1, z), s.at(x+1, y+1, z), fx)
	c01 := lerp(s.at(x, y, z+1), s.at(x+1, y, z+1), fx)
	c11 := lerp(s.at(x, y+1, z+1), s.at(x+1, y+1, z+1), fx)
	return lerp(lerp(c00, c10, fy), lerp(c01, c11, fy), fz)
}

// gradient returns the central-difference gradient at p in world units.
func (s *sampler) gradient(p mat.Vec3) mat.Vec3 {
	var g mat.Vec3
	for axis := range 3 {
		lo, hi := p, p
		lo[axis]--
		hi[axis]++
		g[axis] = (s.trilinear(hi) - s.trilinear(lo)) * 0.5 * s.recip[axis]
	}
	return g
}

func lerp(a, b, t float32) float32 { return a + (b-a)*t }
