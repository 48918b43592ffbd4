package volren

import "errors"

var (
	// ErrUnsupportedScalar is recorded when an image has a scalar kind
	// the converter does not handle.
	ErrUnsupportedScalar = errors.New("volren: unsupported scalar type")

	// ErrNoInput is recorded when rendering or changing frames before any
	// input was loaded, or when SetInput gets a nil image.
	ErrNoInput = errors.New("volren: no input loaded")

	// ErrUnknownFrame is recorded by ChangeFrame for frames never loaded
	// and by SetInput for negative frame indices.
	ErrUnknownFrame = errors.New("volren: unknown frame")

	// ErrInvalidInput is recorded when the samples do not match the
	// image dimensions.
	ErrInvalidInput = errors.New("volren: invalid input image")

	// ErrNoTransferFunction is returned by Render when the volume
	// property lacks a color or opacity curve.
	ErrNoTransferFunction = errors.New("volren: volume property has no color or opacity curve")

	// ErrNilCollaborator is returned by Render for a nil renderer, camera
	// or volume.
	ErrNilCollaborator = errors.New("volren: nil renderer, camera or volume")

	// ErrSingularTransform is returned when the view-to-voxels matrix
	// cannot be inverted.
	ErrSingularTransform = errors.New("volren: singular view transform")
)
