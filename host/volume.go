package host

import "sync"

// Shading holds the lighting coefficients of a volume.
type Shading struct {
	Enabled       bool
	Ambient       float64
	Diffuse       float64
	Specular      float64
	SpecularPower float64
}

// Property is the appearance of a volume.
type Property interface {
	MTimer

	Color() ColorCurve
	ScalarOpacity() PiecewiseCurve
	GradientOpacity() PiecewiseCurve
	Shading() Shading
}

// VolumeProperty is the reference Property. Changing a curve reference
// touches the property; editing a curve touches only the curve.
//
// VolumeProperty is safe for concurrent use.
type VolumeProperty struct {
	Modified

	mu       sync.RWMutex
	color    ColorCurve
	opacity  PiecewiseCurve
	gradient PiecewiseCurve
	shading  Shading
}

var _ Property = (*VolumeProperty)(nil)

// NewVolumeProperty returns a property with shading off and the usual
// coefficients (ambient 0.1, diffuse 0.7, specular 0.2, power 10) ready
// for when it is turned on.
func NewVolumeProperty() *VolumeProperty {
	p := &VolumeProperty{
		shading: Shading{Ambient: 0.1, Diffuse: 0.7, Specular: 0.2, SpecularPower: 10},
	}
	p.Touch()
	return p
}

// SetColor sets the color curve.
func (p *VolumeProperty) SetColor(c ColorCurve) {
	p.mu.Lock()
	p.color = c
	p.mu.Unlock()
	p.Touch()
}

// SetScalarOpacity sets the opacity curve.
func (p *VolumeProperty) SetScalarOpacity(c PiecewiseCurve) {
	p.mu.Lock()
	p.opacity = c
	p.mu.Unlock()
	p.Touch()
}

// SetGradientOpacity sets the gradient opacity curve.
func (p *VolumeProperty) SetGradientOpacity(c PiecewiseCurve) {
	p.mu.Lock()
	p.gradient = c
	p.mu.Unlock()
	p.Touch()
}

// SetShading replaces the lighting coefficients.
func (p *VolumeProperty) SetShading(s Shading) {
	p.mu.Lock()
	p.shading = s
	p.mu.Unlock()
	p.Touch()
}

// Color returns the color curve.
func (p *VolumeProperty) Color() ColorCurve {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.color
}

// ScalarOpacity returns the opacity curve.
func (p *VolumeProperty) ScalarOpacity() PiecewiseCurve {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opacity
}

// GradientOpacity returns the gradient opacity curve.
func (p *VolumeProperty) GradientOpacity() PiecewiseCurve {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gradient
}

// Shading returns the lighting coefficients.
func (p *VolumeProperty) Shading() Shading {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shading
}

// Volume places an image in the world and gives it a Property.
// MTime covers the transform only.
type Volume interface {
	MTimer

	// UserMatrix maps volume coordinates to world coordinates.
	UserMatrix() Matrix4

	Property() Property
}

// VolumeActor is the reference Volume.
//
// VolumeActor is safe for concurrent use.
type VolumeActor struct {
	Modified

	mu     sync.RWMutex
	matrix Matrix4
	prop   Property
}

var _ Volume = (*VolumeActor)(nil)

// NewVolumeActor returns an actor with an identity transform.
func NewVolumeActor(prop Property) *VolumeActor {
	a := &VolumeActor{matrix: Identity(), prop: prop}
	a.Touch()
	return a
}

// SetUserMatrix replaces the volume-to-world transform.
func (a *VolumeActor) SetUserMatrix(m Matrix4) {
	a.mu.Lock()
	a.matrix = m
	a.mu.Unlock()
	a.Touch()
}

// UserMatrix returns the volume-to-world transform.
func (a *VolumeActor) UserMatrix() Matrix4 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.matrix
}

// SetProperty replaces the property.
func (a *VolumeActor) SetProperty(p Property) {
	a.mu.Lock()
	a.prop = p
	a.mu.Unlock()
}

// Property returns the property.
func (a *VolumeActor) Property() Property {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.prop
}
