// Package host defines the host-side collaborators of the volume renderer
// and ships simple reference implementations of each.
//
// Every mutable collaborator reports a modification time ([MTimer]). Times
// come from one process-wide monotonic clock ([Tick]), so timestamps of
// different objects are comparable and a handler can cache the highest
// value it has incorporated. Zero means "never modified".
//
// The interfaces are what the renderer consumes: [Image] for scalar data,
// [ColorCurve] and [PiecewiseCurve] for transfer functions, [Camera],
// [Volume] with its [Property], [Renderer] for the viewport and
// [Presenter] for the final hand-off of the RGBA image.
package host
