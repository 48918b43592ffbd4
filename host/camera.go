package host

import (
	"math"
	"sync"
)

// Camera supplies the world-to-eye and eye-to-clip transforms.
type Camera interface {
	MTimer

	// ViewTransform maps world coordinates to eye coordinates, looking
	// down -Z.
	ViewTransform() Matrix4

	// ProjectionTransform maps eye coordinates to normalized device
	// coordinates in [-1, 1] on every axis.
	ProjectionTransform(aspect float64) Matrix4
}

// PerspectiveCamera is the reference Camera.
//
// PerspectiveCamera is safe for concurrent use.
type PerspectiveCamera struct {
	Modified

	mu        sync.RWMutex
	position  [3]float64
	focal     [3]float64
	up        [3]float64
	viewAngle float64
	near, far float64
}

var _ Camera = (*PerspectiveCamera)(nil)

// NewPerspectiveCamera returns a camera at (0,0,1) looking at the origin
// with a 30 degree view angle.
func NewPerspectiveCamera() *PerspectiveCamera {
	c := &PerspectiveCamera{
		position:  [3]float64{0, 0, 1},
		up:        [3]float64{0, 1, 0},
		viewAngle: 30,
		near:      0.01,
		far:       1000,
	}
	c.Touch()
	return c
}

// SetPosition moves the eye.
func (c *PerspectiveCamera) SetPosition(p [3]float64) {
	c.mu.Lock()
	c.position = p
	c.mu.Unlock()
	c.Touch()
}

// SetFocalPoint sets the point looked at.
func (c *PerspectiveCamera) SetFocalPoint(p [3]float64) {
	c.mu.Lock()
	c.focal = p
	c.mu.Unlock()
	c.Touch()
}

// SetViewUp sets the up direction.
func (c *PerspectiveCamera) SetViewUp(up [3]float64) {
	c.mu.Lock()
	c.up = up
	c.mu.Unlock()
	c.Touch()
}

// SetViewAngle sets the vertical field of view in degrees, clamped to [1, 179].
func (c *PerspectiveCamera) SetViewAngle(deg float64) {
	c.mu.Lock()
	c.viewAngle = math.Min(math.Max(deg, 1), 179)
	c.mu.Unlock()
	c.Touch()
}

// SetClippingRange sets the near and far plane distances.
func (c *PerspectiveCamera) SetClippingRange(near, far float64) {
	if near <= 0 || far <= near {
		return
	}
	c.mu.Lock()
	c.near, c.far = near, far
	c.mu.Unlock()
	c.Touch()
}

// Position returns the eye position.
func (c *PerspectiveCamera) Position() [3]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

// FocalPoint returns the point looked at.
func (c *PerspectiveCamera) FocalPoint() [3]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focal
}

// ClippingRange returns the near and far plane distances.
func (c *PerspectiveCamera) ClippingRange() (near, far float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.near, c.far
}

// Azimuth rotates the eye about the view-up axis through the focal point.
func (c *PerspectiveCamera) Azimuth(deg float64) {
	c.mu.Lock()
	axis := normalize(c.up)
	rel := sub(c.position, c.focal)
	c.position = add(c.focal, rotate(rel, axis, deg*math.Pi/180))
	c.mu.Unlock()
	c.Touch()
}

// Elevation rotates the eye about the axis through the focal point that
// is perpendicular to both the view direction and the view-up vector.
// The view-up vector is re-orthogonalized.
func (c *PerspectiveCamera) Elevation(deg float64) {
	c.mu.Lock()
	rel := sub(c.position, c.focal)
	axis := normalize(cross(rel, c.up))
	if axis != ([3]float64{}) {
		rel = rotate(rel, axis, deg*math.Pi/180)
		c.position = add(c.focal, rel)
		c.up = normalize(cross(axis, rel))
	}
	c.mu.Unlock()
	c.Touch()
}

// ResetCamera places the focal point at the center of bounds
// (xmin, xmax, ymin, ymax, zmin, zmax) and backs the eye off along the
// current view direction until the bounding sphere fits the view angle.
func (c *PerspectiveCamera) ResetCamera(bounds [6]float64) {
	center := [3]float64{
		(bounds[0] + bounds[1]) / 2,
		(bounds[2] + bounds[3]) / 2,
		(bounds[4] + bounds[5]) / 2,
	}
	half := [3]float64{
		(bounds[1] - bounds[0]) / 2,
		(bounds[3] - bounds[2]) / 2,
		(bounds[5] - bounds[4]) / 2,
	}
	radius := math.Sqrt(dot(half, half))
	if radius == 0 {
		radius = 0.5
	}

	c.mu.Lock()
	dir := normalize(sub(c.position, c.focal))
	if dir == ([3]float64{}) {
		dir = [3]float64{0, 0, 1}
	}
	dist := radius / math.Sin(c.viewAngle*math.Pi/360)
	c.focal = center
	c.position = add(center, scale(dir, dist))
	c.near = math.Max(dist-radius*1.01, dist*0.001)
	c.far = dist + radius*1.01
	c.mu.Unlock()
	c.Touch()
}

// ViewTransform returns the look-at matrix.
func (c *PerspectiveCamera) ViewTransform() Matrix4 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return LookAt(c.position, c.focal, c.up)
}

// ProjectionTransform returns the perspective matrix.
func (c *PerspectiveCamera) ProjectionTransform(aspect float64) Matrix4 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Perspective(c.viewAngle*math.Pi/180, aspect, c.near, c.far)
}

// LookAt returns a right-handed world-to-eye matrix.
func LookAt(eye, center, up [3]float64) Matrix4 {
	f := normalize(sub(center, eye))
	s := normalize(cross(f, up))
	u := cross(s, f)
	return Matrix4{
		s[0], s[1], s[2], -dot(s, eye),
		u[0], u[1], u[2], -dot(u, eye),
		-f[0], -f[1], -f[2], dot(f, eye),
		0, 0, 0, 1,
	}
}

// Perspective returns an OpenGL-style projection for a vertical field of
// view fovy in radians.
func Perspective(fovy, aspect, near, far float64) Matrix4 {
	if aspect <= 0 {
		aspect = 1
	}
	f := 1 / math.Tan(fovy/2)
	return Matrix4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (far + near) / (near - far), 2 * far * near / (near - far),
		0, 0, -1, 0,
	}
}

func add(a, b [3]float64) [3]float64 { return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func sub(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func scale(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}
func dot(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(a [3]float64) [3]float64 {
	l := math.Sqrt(dot(a, a))
	if l == 0 {
		return [3]float64{}
	}
	return scale(a, 1/l)
}

// rotate applies Rodrigues' rotation of v about the unit axis k.
func rotate(v, k [3]float64, angle float64) [3]float64 {
	cos, sin := math.Cos(angle), math.Sin(angle)
	t := add(scale(v, cos), scale(cross(k, v), sin))
	return add(t, scale(k, dot(k, v)*(1-cos)))
}
