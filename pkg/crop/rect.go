package crop

import (
	"errors"
	"image"
)

// ErrEmptyCrop is returned when a rectangle has non-positive width or height
// after clamping to the image bounds.
var ErrEmptyCrop = errors.New("non-positive crop area")

// Rect is an axis-aligned crop region in pixel space, origin top-left.
// (X1,Y1) is the upper-left corner, (X2,Y2) the lower-right corner.
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns X2-X1.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height returns Y2-Y1.
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Bounds converts the rect to an image.Rectangle for cropping calls.
func (r Rect) Bounds() image.Rectangle { return image.Rect(r.X1, r.Y1, r.X2, r.Y2) }

// clamp restricts v to [0,max].
func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// Normalize clamps each coordinate of r independently to the image bounds and
// rejects the result when it is degenerate (x2 <= x1 or y2 <= y1 after
// clamping). A swapped rectangle (x1 > x2 on input) is rejected rather than
// silently repaired. Pure: identical inputs always yield identical outputs,
// and Normalize(Normalize(r)) == Normalize(r).
func Normalize(r Rect, width, height int) (Rect, error) {
	out := Rect{
		X1: clamp(r.X1, width),
		Y1: clamp(r.Y1, height),
		X2: clamp(r.X2, width),
		Y2: clamp(r.Y2, height),
	}
	if out.X2 <= out.X1 || out.Y2 <= out.Y1 {
		return Rect{}, ErrEmptyCrop
	}
	return out, nil
}
