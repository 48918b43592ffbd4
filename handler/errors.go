package handler

import "errors"

var (
	// ErrShortSnapshot is returned when decoding a snapshot from too few bytes.
	ErrShortSnapshot = errors.New("handler: snapshot buffer too short")

	// ErrNoOutput is returned by Display before the first successful Update.
	ErrNoOutput = errors.New("handler: no output image allocated")

	// ErrTooManyClippingPlanes is returned when more than MaxClippingPlanes
	// planes are supplied. The first MaxClippingPlanes are kept.
	ErrTooManyClippingPlanes = errors.New("handler: too many clipping planes")

	// ErrInvalidScale is returned for non-finite output scale factors.
	ErrInvalidScale = errors.New("handler: invalid output scale factor")
)
