package host

import "math"

// Matrix4 is a 4x4 row-major matrix acting on column vectors.
type Matrix4 [16]float64

// Identity returns the identity matrix.
func Identity() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a matrix translating by t.
func Translation(t [3]float64) Matrix4 {
	m := Identity()
	m[3], m[7], m[11] = t[0], t[1], t[2]
	return m
}

// Scaling returns a matrix scaling by s.
func Scaling(s [3]float64) Matrix4 {
	m := Identity()
	m[0], m[5], m[10] = s[0], s[1], s[2]
	return m
}

// At returns the element in row r, column c.
func (m Matrix4) At(r, c int) float64 { return m[r*4+c] }

// Mul returns m·n.
func (m Matrix4) Mul(n Matrix4) Matrix4 {
	var out Matrix4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += m[r*4+k] * n[k*4+c]
			}
			out[r*4+c] = s
		}
	}
	return out
}

// Transpose returns the transpose of m.
func (m Matrix4) Transpose() Matrix4 {
	var out Matrix4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[c*4+r] = m[r*4+c]
		}
	}
	return out
}

// TransformPoint applies m to p with homogeneous division.
func (m Matrix4) TransformPoint(p [3]float64) [3]float64 {
	x := m[0]*p[0] + m[1]*p[1] + m[2]*p[2] + m[3]
	y := m[4]*p[0] + m[5]*p[1] + m[6]*p[2] + m[7]
	z := m[8]*p[0] + m[9]*p[1] + m[10]*p[2] + m[11]
	w := m[12]*p[0] + m[13]*p[1] + m[14]*p[2] + m[15]
	if w != 0 && w != 1 {
		x, y, z = x/w, y/w, z/w
	}
	return [3]float64{x, y, z}
}

// Invert returns the inverse of m and false when m is singular.
func (m Matrix4) Invert() (Matrix4, bool) {
	// Gauss-Jordan elimination with partial pivoting.
	a := m
	inv := Identity()
	for col := 0; col < 4; col++ {
		pivot := col
		for r := col + 1; r < 4; r++ {
			if math.Abs(a[r*4+col]) > math.Abs(a[pivot*4+col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot*4+col]) < 1e-12 {
			return Matrix4{}, false
		}
		if pivot != col {
			for c := 0; c < 4; c++ {
				a[col*4+c], a[pivot*4+c] = a[pivot*4+c], a[col*4+c]
				inv[col*4+c], inv[pivot*4+c] = inv[pivot*4+c], inv[col*4+c]
			}
		}
		d := a[col*4+col]
		for c := 0; c < 4; c++ {
			a[col*4+c] /= d
			inv[col*4+c] /= d
		}
		for r := 0; r < 4; r++ {
			if r == col {
				continue
			}
			f := a[r*4+col]
			if f == 0 {
				continue
			}
			for c := 0; c < 4; c++ {
				a[r*4+c] -= f * a[col*4+c]
				inv[r*4+c] -= f * inv[col*4+c]
			}
		}
	}
	return inv, true
}
