package canvas

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	DefaultWidth      = 500
	DefaultHeight     = 500
	DefaultBackground = "#ffffff"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Coordinate addresses one cell of the canvas
type Coordinate struct {
	X int `json:"loc_x"`
	Y int `json:"loc_y"`
}

// Key renders the coordinate as the "x,y" hash field used in storage and in GET /pixels
func (c Coordinate) Key() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Y)
}

// Pixel is one accepted paint: a coordinate and its new color. Seq is the
// store-issued write sequence; a higher Seq for the same cell is a later write.
type Pixel struct {
	X      int    `json:"loc_x"`
	Y      int    `json:"loc_y"`
	Colour string `json:"colour"`
	Seq    int64  `json:"-"`
}

// Coordinate returns the pixel's position
func (p Pixel) Coordinate() Coordinate {
	return Coordinate{X: p.X, Y: p.Y}
}

// Bounds is the fixed canvas size
type Bounds struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether c lies in [0, Width) x [0, Height)
func (b Bounds) Contains(c Coordinate) bool {
	return c.X >= 0 && c.X < b.Width && c.Y >= 0 && c.Y < b.Height
}

// NormalizeColor validates a #rrggbb color and lower-cases it
func NormalizeColor(color string) (string, error) {
	if !colorPattern.MatchString(color) {
		return "", fmt.Errorf("%w: %q is not a #rrggbb hex colour", ErrInvalidColor, color)
	}
	return strings.ToLower(color), nil
}
