package canvas

import "errors"

var (
	// ErrOutOfBounds is returned when a coordinate lies outside the canvas
	ErrOutOfBounds = errors.New("coordinate out of bounds")

	// ErrInvalidColor is returned when a color is not a #rrggbb hex string
	ErrInvalidColor = errors.New("invalid colour")
)
