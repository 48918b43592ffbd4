// Package mat provides the float32 vector and matrix helpers shared by the
// handlers and the reference kernel.
package mat

import "github.com/chewxy/math32"

// Vec3 is a 3-component float32 vector.
type Vec3 [3]float32

// Add returns a+b.
func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }

// Sub returns a-b.
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

// Scale returns a*s.
func (a Vec3) Scale(s float32) Vec3 { return Vec3{a[0] * s, a[1] * s, a[2] * s} }

// Dot returns the dot product.
func (a Vec3) Dot(b Vec3) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

// Len returns the Euclidean length.
func (a Vec3) Len() float32 { return math32.Sqrt(a.Dot(a)) }

// Normalize returns a unit vector, or zero for a zero vector.
func (a Vec3) Normalize() Vec3 {
	l := a.Len()
	if l == 0 {
		return Vec3{}
	}
	return a.Scale(1 / l)
}

// Mat4 is a 4x4 float32 matrix stored in column-major order, the layout
// the kernel reads.
type Mat4 [16]float32

// Identity returns the identity matrix.
func Identity() Mat4 {
	var m Mat4
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
	return m
}

// FromRowMajor converts a row-major float64 matrix.
func FromRowMajor(r [16]float64) Mat4 {
	var m Mat4
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			m[col*4+row] = float32(r[row*4+col])
		}
	}
	return m
}

// At returns the element in row r, column c.
func (m Mat4) At(r, c int) float32 { return m[c*4+r] }

// Mul returns m·n.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out Mat4
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[k*4+r] * n[c*4+k]
			}
			out[c*4+r] = sum
		}
	}
	return out
}

// MulVec4 returns m·(x, y, z, w).
func (m Mat4) MulVec4(x, y, z, w float32) [4]float32 {
	return [4]float32{
		m[0]*x + m[4]*y + m[8]*z + m[12]*w,
		m[1]*x + m[5]*y + m[9]*z + m[13]*w,
		m[2]*x + m[6]*y + m[10]*z + m[14]*w,
		m[3]*x + m[7]*y + m[11]*z + m[15]*w,
	}
}

// TransformPoint applies m to p with homogeneous division.
func (m Mat4) TransformPoint(p Vec3) Vec3 {
	v := m.MulVec4(p[0], p[1], p[2], 1)
	if v[3] != 0 && v[3] != 1 {
		return Vec3{v[0] / v[3], v[1] / v[3], v[2] / v[3]}
	}
	return Vec3{v[0], v[1], v[2]}
}

// Transpose returns the transpose of m.
func (m Mat4) Transpose() Mat4 {
	var out Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m[c*4+r]
		}
	}
	return out
}

// Plane is the implicit plane a·x + b·y + c·z + d = 0; points with a
// positive value are kept.
type Plane [4]float32

// PlaneFromPointNormal builds the plane through p with normal n.
func PlaneFromPointNormal(p, n Vec3) Plane {
	n = n.Normalize()
	return Plane{n[0], n[1], n[2], -n.Dot(p)}
}

// Eval returns the signed value of p.
func (pl Plane) Eval(p Vec3) float32 {
	return pl[0]*p[0] + pl[1]*p[1] + pl[2]*p[2] + pl[3]
}

// TransformPlane maps a plane through the inverse-transpose inv^T, where
// inv is the inverse of the point transform.
func TransformPlane(pl Plane, inv Mat4) Plane {
	v := inv.Transpose().MulVec4(pl[0], pl[1], pl[2], pl[3])
	return Plane{v[0], v[1], v[2], v[3]}
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}
